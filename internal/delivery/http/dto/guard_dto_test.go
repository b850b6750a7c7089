package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRequest_Lenient(t *testing.T) {
	var req SettingsRequest
	body := `{"tgUserId": 123456789, "maxTradesPerDay": "8", "maxLossesPerDay": 2.9, "maxLossStreak": "abc", "timezoneOffsetMin": null}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	assert.Equal(t, UserID("123456789"), req.TgUserID)
	p := req.Patch()
	require.NotNil(t, p.MaxTradesPerDay)
	assert.Equal(t, 8, *p.MaxTradesPerDay)
	require.NotNil(t, p.MaxLossesPerDay)
	assert.Equal(t, 2, *p.MaxLossesPerDay)
	assert.Nil(t, p.MaxLossStreak)
	assert.Nil(t, p.TimezoneOffsetMinutes)
}

func TestFlexInt_Huge(t *testing.T) {
	var f FlexInt
	require.NoError(t, json.Unmarshal([]byte(`1e300`), &f))
	assert.True(t, f.Set)
	assert.Greater(t, f.Value, 50)
}

func TestUserID_Shapes(t *testing.T) {
	for _, tc := range []struct {
		body string
		want UserID
	}{
		{`{"tgUserId":"abc"}`, "abc"},
		{`{"tgUserId":-42}`, "-42"},
		{`{"tgUserId":" 42"}`, " 42"},
		{`{"tgUserId":"0"}`, "0"},
		{`{"tgUserId":0}`, ""},
		{`{"tgUserId":-0.0}`, ""},
		{`{"tgUserId":true}`, ""},
		{`{"tgUserId":{"id":1}}`, ""},
		{`{}`, ""},
	} {
		var req RecordRequest
		require.NoError(t, json.Unmarshal([]byte(tc.body), &req), tc.body)
		assert.Equal(t, tc.want, req.TgUserID, tc.body)
	}
}
