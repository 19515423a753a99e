// Package geo holds the planar/spherical distance helpers used by the risk
// evaluator. All functions are pure and allocation free.
package geo

import "math"

// EarthRadiusM is the mean Earth radius used for all conversions.
const EarthRadiusM = 6371000.0

// Point is a GPS coordinate in (longitude, latitude) order, matching the
// wire format of route vertices and location updates.
type Point struct {
	Lon float64
	Lat float64
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	lon1 := a.Lon * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lon2 := b.Lon * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180

	dlon := lon2 - lon1
	dlat := lat2 - lat1

	x := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(x))
}

// PointToSegment returns the distance in meters from p to the segment a-b.
// The segment is projected onto a local equirectangular plane centered on
// the segment midpoint's latitude; the projection parameter is clamped to
// [0,1] so endpoints act as the nearest point beyond the segment ends.
func PointToSegment(p, a, b Point) float64 {
	lat0 := (a.Lat + b.Lat) * 0.5 * math.Pi / 180
	cos0 := math.Cos(lat0)

	ax, ay := planar(a, cos0)
	bx, by := planar(b, cos0)
	px, py := planar(p, cos0)

	abx, aby := bx-ax, by-ay
	ab2 := abx*abx + aby*aby
	if ab2 == 0 {
		// degenerate segment
		return math.Hypot(px-ax, py-ay)
	}

	t := ((px-ax)*abx + (py-ay)*aby) / ab2
	t = math.Max(0, math.Min(1, t))

	qx := ax + t*abx
	qy := ay + t*aby
	return math.Hypot(px-qx, py-qy)
}

// DistanceToPolyline returns the minimum distance in meters from p to any
// segment of route. Routes with fewer than 2 vertices have no segments, so
// the result is +Inf. Linear in the number of vertices; routes are short
// enough that a spatial index would not pay for itself.
func DistanceToPolyline(p Point, route []Point) float64 {
	if len(route) < 2 {
		return math.Inf(1)
	}
	best := math.Inf(1)
	for i := 0; i < len(route)-1; i++ {
		if d := PointToSegment(p, route[i], route[i+1]); d < best {
			best = d
		}
	}
	return best
}

func planar(p Point, cosLat0 float64) (x, y float64) {
	x = p.Lon * math.Pi / 180 * EarthRadiusM * cosLat0
	y = p.Lat * math.Pi / 180 * EarthRadiusM
	return x, y
}
