package geo

import (
	"math"
	"testing"
)

func almostEqual(t *testing.T, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("got %.4f want %.4f (tol %.4f)", got, want, tol)
	}
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	// 1 degree of latitude is R * pi/180 meters everywhere on the sphere.
	want := EarthRadiusM * math.Pi / 180
	got := Haversine(Point{Lon: -75.6993, Lat: 45.0}, Point{Lon: -75.6993, Lat: 46.0})
	almostEqual(t, got, want, 1.0)
}

func TestHaversineZeroForSamePoint(t *testing.T) {
	p := Point{Lon: -79.3449, Lat: 43.7637}
	if d := Haversine(p, p); d != 0 {
		t.Fatalf("distance between identical points = %f, want 0", d)
	}
}

func TestPointToSegmentOnSegment(t *testing.T) {
	a := Point{Lon: 0, Lat: 0}
	b := Point{Lon: 0, Lat: 1}
	mid := Point{Lon: 0, Lat: 0.5}
	almostEqual(t, PointToSegment(mid, a, b), 0, 1e-6)
}

func TestPointToSegmentLongitudeOffset(t *testing.T) {
	// For the route (0,0)-(0,1), a point offset purely in longitude at the
	// mid latitude should measure delta * R * cos(latitude of the segment
	// midpoint), with delta in radians.
	a := Point{Lon: 0, Lat: 0}
	b := Point{Lon: 0, Lat: 1}
	delta := 0.001 // degrees of longitude
	p := Point{Lon: delta, Lat: 0.5}

	want := delta * math.Pi / 180 * EarthRadiusM * math.Cos(0.5*math.Pi/180)
	got := PointToSegment(p, a, b)
	almostEqual(t, got, want, want*0.001)
}

func TestPointToSegmentMonotoneAwayFromSegment(t *testing.T) {
	a := Point{Lon: 0, Lat: 0}
	b := Point{Lon: 0, Lat: 1}
	prev := 0.0
	for i := 1; i <= 5; i++ {
		p := Point{Lon: float64(i) * 0.0005, Lat: 0.5}
		d := PointToSegment(p, a, b)
		if d <= prev {
			t.Fatalf("distance not increasing at step %d: %f <= %f", i, d, prev)
		}
		prev = d
	}
}

func TestPointToSegmentClampsToEndpoints(t *testing.T) {
	a := Point{Lon: 0, Lat: 0}
	b := Point{Lon: 0, Lat: 1}
	// Point past the b endpoint projects onto b itself.
	p := Point{Lon: 0, Lat: 1.5}
	want := Haversine(p, b)
	got := PointToSegment(p, a, b)
	almostEqual(t, got, want, want*0.01)
}

func TestPointToSegmentDegenerate(t *testing.T) {
	a := Point{Lon: 10, Lat: 10}
	p := Point{Lon: 10.001, Lat: 10}
	got := PointToSegment(p, a, a)
	want := Haversine(p, a)
	almostEqual(t, got, want, want*0.01)
}

func TestDistanceToPolylineShortRoute(t *testing.T) {
	p := Point{Lon: 0, Lat: 0}
	if d := DistanceToPolyline(p, nil); !math.IsInf(d, 1) {
		t.Fatalf("empty route: got %f, want +Inf", d)
	}
	if d := DistanceToPolyline(p, []Point{{Lon: 1, Lat: 1}}); !math.IsInf(d, 1) {
		t.Fatalf("single-vertex route: got %f, want +Inf", d)
	}
}

func TestDistanceToPolylinePicksNearestSegment(t *testing.T) {
	route := []Point{
		{Lon: -75.6993, Lat: 45.4215},
		{Lon: -75.6960, Lat: 45.4240},
		{Lon: -75.6900, Lat: 45.4300},
	}
	// A vertex of the route is on the polyline.
	almostEqual(t, DistanceToPolyline(route[1], route), 0, 1e-6)

	// A point near the second segment must not be measured against the first.
	p := Point{Lon: -75.6930, Lat: 45.4270}
	d := DistanceToPolyline(p, route)
	first := PointToSegment(p, route[0], route[1])
	second := PointToSegment(p, route[1], route[2])
	if d != math.Min(first, second) {
		t.Fatalf("polyline distance %f is not the segment minimum (%f, %f)", d, first, second)
	}
}
