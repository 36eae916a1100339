package profile

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// StatsPayload is the partial player update sent to the remote API after a mutation.
type StatsPayload struct {
	Score            int            `json:"score"`
	AttackPoints     int            `json:"attack_points"`
	DefendPoints     int            `json:"defend_points"`
	Checkins         int            `json:"checkins"`
	CheckinHistory   []CheckinEntry `json:"checkin_history"`
	HomeDistrictCode *string        `json:"home_district_code"`
	HomeDistrictName *string        `json:"home_district_name"`
	HomeDistrict     string         `json:"home_district"`
}

// LocationPayload updates only the last known location.
type LocationPayload struct {
	LastKnownLocation *Location `json:"last_known_location"`
}

// BuildStatsPayload renders the stats update for p.
func BuildStatsPayload(p *Profile) StatsPayload {
	history := append([]CheckinEntry{}, p.Checkins...)
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}
	out := StatsPayload{
		Score:          p.Points,
		AttackPoints:   p.AttackPoints,
		DefendPoints:   p.DefendPoints,
		Checkins:       len(history),
		CheckinHistory: history,
		HomeDistrict:   p.HomeDistrictName,
	}
	if p.HomeDistrictID != "" {
		code := p.HomeDistrictID
		out.HomeDistrictCode = &code
	}
	if p.HomeDistrictName != "" {
		name := p.HomeDistrictName
		out.HomeDistrictName = &name
	}
	return out
}

// BuildLocationPayload renders the location update for p.
func BuildLocationPayload(p *Profile) LocationPayload {
	return LocationPayload{LastKnownLocation: p.LastKnownLocation.clone()}
}

// ApplyServerPlayer merges an authoritative player document into p. The server
// wins for scores, history, ratios, home district and last known location.
// Fields absent from the document keep their local value.
func ApplyServerPlayer(p *Profile, data []byte, now time.Time) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if n := nonNegative(raw["id"]); n > 0 {
		p.BackendID = uint(n)
	}
	if name, ok := raw["display_name"].(string); ok {
		p.DisplayName = name
	}
	if _, ok := raw["score"]; ok {
		p.Points = nonNegative(raw["score"])
	}
	if _, ok := raw["attack_points"]; ok {
		p.AttackPoints = nonNegative(raw["attack_points"])
	}
	if _, ok := raw["defend_points"]; ok {
		p.DefendPoints = nonNegative(raw["defend_points"])
	}
	if list, ok := raw["checkin_history"].([]interface{}); ok {
		p.Checkins = SanitizeHistory(list, MaxHistory)
	}
	p.ServerCheckinCount = len(p.Checkins)
	if n := nonNegative(raw["checkins"]); n > p.ServerCheckinCount {
		p.ServerCheckinCount = n
	}

	if v, present := raw["home_district_code"]; present {
		p.HomeDistrictID = id(v)
	}
	if name := str(raw["home_district_name"]); name != "" {
		p.HomeDistrictName = name
	} else if _, present := raw["home_district_name"]; present {
		p.HomeDistrictName = ""
	} else if legacy := str(raw["home_district"]); legacy != "" {
		p.HomeDistrictName = legacy
	}

	if v, ok := number(raw["attack_ratio"]); ok {
		p.AttackRatio = v
	}
	if v, ok := number(raw["defend_ratio"]); ok {
		p.DefendRatio = v
	}
	if v, present := raw["last_known_location"]; present {
		p.LastKnownLocation = parseLocation(v)
	}
	p.SyncedAt = now.UnixMilli()
	return nil
}

// Ratios returns attack and defend points per check-in, rounded half up to two places.
func Ratios(attackPoints, defendPoints, checkins int) (decimal.Decimal, decimal.Decimal) {
	if checkins <= 0 {
		return decimal.Zero, decimal.Zero
	}
	n := decimal.NewFromInt(int64(checkins))
	attack := decimal.NewFromInt(int64(attackPoints)).Div(n).Round(2)
	defend := decimal.NewFromInt(int64(defendPoints)).Div(n).Round(2)
	return attack, defend
}
