package domain

import "time"

// AlertKind classifies a derived safety signal. Values match the outbound
// event type discriminator consumed by the front door.
type AlertKind string

const (
	AlertOffRoute       AlertKind = "off_route"
	AlertSuspiciousJump AlertKind = "suspicious_jump"
	AlertNightTime      AlertKind = "night_time"
	AlertNoMovement     AlertKind = "no_movement"
)

// EventRiskUpdated is the outbound type for periodic score changes.
const EventRiskUpdated = "risk.updated"

// RiskLevel is the tri-level label some consumers want instead of the raw
// 0-100 score.
type RiskLevel string

const (
	LevelGreen RiskLevel = "green"
	LevelAmber RiskLevel = "amber"
	LevelRed   RiskLevel = "red"
)

// LevelForScore maps a risk score onto its label: <=24 green, 25-59 amber,
// >=60 red.
func LevelForScore(score int) RiskLevel {
	switch {
	case score <= 24:
		return LevelGreen
	case score <= 59:
		return LevelAmber
	default:
		return LevelRed
	}
}

// OutboundData is the data object of every published event.
type OutboundData struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"walking_session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	RiskScore *int   `json:"riskScore,omitempty"`
	Level     string `json:"level,omitempty"`
}

// OutboundEvent is the published envelope. ID is assigned by the publisher
// so downstream consumers can de-duplicate redeliveries.
type OutboundEvent struct {
	ID   string       `json:"id,omitempty"`
	Type string       `json:"type"`
	TS   string       `json:"ts"`
	Data OutboundData `json:"data"`
}

// NewAlert builds an alert event envelope without an ID or timestamp;
// the publisher stamps both at send time.
func NewAlert(kind AlertKind, sessionID, userID, message string) OutboundEvent {
	return OutboundEvent{
		Type: string(kind),
		Data: OutboundData{
			UserID:    userID,
			SessionID: sessionID,
			Message:   message,
		},
	}
}

// NewRiskUpdate builds a risk.updated envelope carrying the score and its
// tri-level label.
func NewRiskUpdate(sessionID, userID string, score int) OutboundEvent {
	s := score
	return OutboundEvent{
		Type: EventRiskUpdated,
		Data: OutboundData{
			UserID:    userID,
			SessionID: sessionID,
			RiskScore: &s,
			Level:     string(LevelForScore(score)),
		},
	}
}

// StampedAt returns a copy of e with the envelope timestamp set.
func (e OutboundEvent) StampedAt(ts time.Time) OutboundEvent {
	e.TS = ts.UTC().Format(time.RFC3339)
	return e
}
