package domain

// EventType constants
const (
	EventDayReset       = "DAY_RESET"
	EventStopExpired    = "STOP_EXPIRED"
	EventStopDay        = "STOP_DAY"
	EventSettingsUpdate = "SETTINGS_UPDATE"
	EventRecord         = "RECORD"
)

// MaxListedEvents caps how many events are surfaced per user
const MaxListedEvents = 50

// Event is one entry of the per-user audit log
type Event struct {
	ID        int64  `json:"-"`
	UserID    string `json:"-"`
	Timestamp int64  `json:"ts"`
	Type      string `json:"type"`
	Detail    string `json:"detail"`
}

// Outcome of a recorded trade
type Outcome string

// Outcome constants
const (
	OutcomeWin  Outcome = "WIN"
	OutcomeLoss Outcome = "LOSS"
)

// ParseOutcome accepts WIN or LOSS exactly
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeWin, OutcomeLoss:
		return Outcome(s), nil
	}
	return "", &ValidationError{Message: "outcome must be WIN or LOSS"}
}

// MaxUserIDLength bounds the opaque user identifier
const MaxUserIDLength = 128

// NormalizeUserID rejects empty or oversized identifiers. Ids are kept verbatim.
func NormalizeUserID(id string) (string, error) {
	if id == "" {
		return "", &ValidationError{Message: "tgUserId required"}
	}
	if len(id) > MaxUserIDLength {
		return "", &ValidationError{Message: "tgUserId too long"}
	}
	return id, nil
}
