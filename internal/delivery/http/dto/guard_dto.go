package dto

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"tradeguard/internal/domain"
)

// FlexInt accepts a JSON number or numeric string. Anything else leaves it unset.
type FlexInt struct {
	Value int
	Set   bool
}

// UnmarshalJSON never fails; unparsable input is treated as missing
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	*f = FlexInt{}
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	// anything this large is clamped downstream anyway
	v = math.Max(math.Min(v, math.MaxInt32), math.MinInt32)
	f.Value, f.Set = int(v), true
	return nil
}

// Ptr returns nil when unset
func (f FlexInt) Ptr() *int {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

// UserID accepts the chat user id as a JSON string or number
type UserID string

// UnmarshalJSON keeps numbers verbatim and drops zero and non-scalar values
func (u *UserID) UnmarshalJSON(b []byte) error {
	*u = ""
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		*u = UserID(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return nil
		}
		// a numeric zero counts as missing
		if f, err := strconv.ParseFloat(n.String(), 64); err == nil && f == 0 {
			return nil
		}
		*u = UserID(n.String())
	}
	return nil
}

// BootstrapRequest is the body of POST /api/bootstrap
type BootstrapRequest struct {
	TgUserID UserID `json:"tgUserId"`
}

// SettingsRequest is the body of POST /api/settings
type SettingsRequest struct {
	TgUserID          UserID  `json:"tgUserId"`
	MaxTradesPerDay   FlexInt `json:"maxTradesPerDay"`
	MaxLossesPerDay   FlexInt `json:"maxLossesPerDay"`
	MaxLossStreak     FlexInt `json:"maxLossStreak"`
	TimezoneOffsetMin FlexInt `json:"timezoneOffsetMin"`
}

// Patch converts the request into a settings candidate
func (r SettingsRequest) Patch() domain.SettingsPatch {
	return domain.SettingsPatch{
		MaxTradesPerDay:       r.MaxTradesPerDay.Ptr(),
		MaxLossesPerDay:       r.MaxLossesPerDay.Ptr(),
		MaxLossStreak:         r.MaxLossStreak.Ptr(),
		TimezoneOffsetMinutes: r.TimezoneOffsetMin.Ptr(),
	}
}

// RecordRequest is the body of POST /api/record
type RecordRequest struct {
	TgUserID UserID `json:"tgUserId"`
	Outcome  string `json:"outcome"`
}

// TradingOffResponse is the 403 body of a rejected record
type TradingOffResponse struct {
	Error string           `json:"error"`
	State domain.UserState `json:"state"`
}

// EventsResponse is the body of GET /api/events
type EventsResponse struct {
	Events []domain.Event `json:"events"`
}
