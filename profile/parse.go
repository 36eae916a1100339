package profile

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Parse builds a normalised profile from a persisted or otherwise untrusted
// record. It is the single construction path for stored data; parsing the
// marshalled result again yields an identical profile.
func Parse(username string, data []byte) (*Profile, error) {
	p := New(username)
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if p.Username == "" {
		p.Username = str(raw["username"])
	}

	p.Points = nonNegative(raw["points"])
	p.AttackPoints = nonNegative(raw["attackPoints"])
	p.DefendPoints = nonNegative(raw["defendPoints"])
	p.HomeDistrictID = id(raw["homeDistrictId"])
	p.HomeDistrictName = str(raw["homeDistrictName"])
	p.LastKnownLocation = parseLocation(raw["lastKnownLocation"])
	p.CooldownUntil = cooldownDeadline(raw)
	if m, ok := number(raw["nextCheckinMultiplier"]); ok && m > 1 {
		p.NextCheckinMultiplier = int(math.Round(m))
	}
	p.SkipCooldown = truthy(raw["skipCooldown"])
	p.Checkins = SanitizeHistory(raw["checkins"], MaxHistory)
	p.ServerCheckinCount = len(p.Checkins)
	if n := nonNegative(raw["serverCheckinCount"]); n > p.ServerCheckinCount {
		p.ServerCheckinCount = n
	}

	if n := nonNegative(raw["backendId"]); n > 0 {
		p.BackendID = uint(n)
	}
	p.DisplayName = str(raw["displayName"])
	if v, ok := number(raw["attackRatio"]); ok {
		p.AttackRatio = v
	}
	if v, ok := number(raw["defendRatio"]); ok {
		p.DefendRatio = v
	}
	if v, ok := number(raw["backendSyncedAt"]); ok && v > 0 {
		p.SyncedAt = int64(v)
	}
	return p, nil
}

// cooldownDeadline reads cooldownUntil, falling back to the latest deadline of
// the per-action cooldown map older records carry.
func cooldownDeadline(raw map[string]interface{}) int64 {
	if v, ok := number(raw["cooldownUntil"]); ok && v > 0 {
		return int64(v)
	}
	legacy, ok := raw["cooldowns"].(map[string]interface{})
	if !ok {
		return 0
	}
	var latest int64
	for _, key := range []string{"attack", "defend", "charge"} {
		if v, ok := number(legacy[key]); ok && int64(v) > latest {
			latest = int64(v)
		}
	}
	return latest
}

// SanitizeHistory keeps well-formed entries in order, up to limit. An entry
// needs a known type, a district id or name, and a numeric timestamp.
func SanitizeHistory(v interface{}, limit int) []CheckinEntry {
	out := []CheckinEntry{}
	list, ok := v.([]interface{})
	if !ok {
		return out
	}
	for _, item := range list {
		if len(out) >= limit {
			break
		}
		if e, ok := sanitizeEntry(item); ok {
			out = append(out, e)
		}
	}
	return out
}

// SanitizeHistoryJSON is SanitizeHistory over an encoded list.
func SanitizeHistoryJSON(data []byte, limit int) []CheckinEntry {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return []CheckinEntry{}
	}
	return SanitizeHistory(v, limit)
}

// ParseLocationJSON parses an encoded location. Null, malformed or empty
// values yield nil.
func ParseLocationJSON(data []byte) *Location {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return parseLocation(v)
}

// DistrictIDJSON reads a district id encoded as a string or a number.
func DistrictIDJSON(data []byte) string {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return ""
	}
	return id(v)
}

func sanitizeEntry(v interface{}) (CheckinEntry, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return CheckinEntry{}, false
	}
	kind := CheckinType(strings.ToLower(str(m["type"])))
	if kind != Attack && kind != Defend {
		return CheckinEntry{}, false
	}
	e := CheckinEntry{
		Type:         kind,
		DistrictID:   id(m["districtId"]),
		DistrictName: str(m["districtName"]),
		Ranged:       truthy(m["ranged"]),
		Melee:        truthy(m["melee"]),
		Multiplier:   1,
	}
	if e.DistrictID == "" && e.DistrictName == "" {
		return CheckinEntry{}, false
	}
	ts, ok := number(m["timestamp"])
	if !ok {
		return CheckinEntry{}, false
	}
	e.Timestamp = int64(math.Trunc(ts))
	if mult, ok := number(m["multiplier"]); ok && mult >= 1 {
		e.Multiplier = int(math.Round(mult))
	}
	return e, true
}

func parseLocation(v interface{}) *Location {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	loc := &Location{
		DistrictID:   id(m["districtId"]),
		DistrictName: str(m["districtName"]),
	}
	if lng, ok := number(m["lng"]); ok {
		loc.Lng = &lng
	}
	if lat, ok := number(m["lat"]); ok {
		loc.Lat = &lat
	}
	if loc.Lng == nil && loc.Lat == nil && loc.DistrictID == "" && loc.DistrictName == "" {
		return nil
	}
	if ts, ok := number(m["timestamp"]); ok && ts > 0 {
		loc.Timestamp = int64(ts)
	}
	return loc
}

func number(v interface{}) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func nonNegative(v interface{}) int {
	f, ok := number(v)
	if !ok || f < 0 {
		return 0
	}
	return int(math.Round(f))
}

func str(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func id(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1":
			return true
		}
		return false
	default:
		return false
	}
}
