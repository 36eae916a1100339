package profile

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

const messyRecord = `{
  "points": "120",
  "attackPoints": 80.4,
  "defendPoints": -3,
  "homeDistrictId": 500,
  "homeDistrictName": "  Praha 5 ",
  "lastKnownLocation": {"lng": "14.42", "lat": 50.08, "districtId": " 500 ", "timestamp": 1700000000000},
  "cooldowns": {"attack": 1700000600000, "charge": 1700000900000, "bogus": 5},
  "nextCheckinMultiplier": 0,
  "skipCooldown": 1,
  "serverCheckinCount": 2,
  "checkins": [
    {"timestamp": 1700000000000, "districtId": 500, "type": "DEFEND", "multiplier": 3},
    {"timestamp": "oops", "districtId": "1", "type": "attack"},
    {"timestamp": 1699999999000, "districtName": "Somewhere", "type": "attack", "multiplier": -1, "ranged": true},
    {"timestamp": 1699999998000, "type": "attack"},
    {"timestamp": 1699999997000, "districtId": "7", "type": "charge"},
    "garbage"
  ]
}`

func TestParseNormalises(t *testing.T) {
	p, err := Parse("alice", []byte(messyRecord))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Username != "alice" || p.Points != 120 || p.AttackPoints != 80 || p.DefendPoints != 0 {
		t.Fatalf("scores not normalised: %+v", p)
	}
	if p.HomeDistrictID != "500" || p.HomeDistrictName != "Praha 5" {
		t.Fatalf("home not normalised: %q %q", p.HomeDistrictID, p.HomeDistrictName)
	}
	if p.LastKnownLocation == nil || p.LastKnownLocation.DistrictID != "500" || !p.LastKnownLocation.HasCoords() {
		t.Fatalf("location not normalised: %+v", p.LastKnownLocation)
	}
	if p.CooldownUntil != 1700000900000 {
		t.Fatalf("legacy cooldowns not migrated: %d", p.CooldownUntil)
	}
	if p.NextCheckinMultiplier != 1 {
		t.Fatalf("multiplier floor: %d", p.NextCheckinMultiplier)
	}
	if !p.SkipCooldown {
		t.Fatalf("skipCooldown should be truthy")
	}
	if len(p.Checkins) != 2 {
		t.Fatalf("expected 2 valid history entries, got %+v", p.Checkins)
	}
	if p.Checkins[0].Type != Defend || p.Checkins[0].DistrictID != "500" || p.Checkins[0].Multiplier != 3 {
		t.Fatalf("first entry: %+v", p.Checkins[0])
	}
	if p.Checkins[1].Multiplier != 1 || !p.Checkins[1].Ranged {
		t.Fatalf("second entry: %+v", p.Checkins[1])
	}
	if p.ServerCheckinCount != 2 {
		t.Fatalf("serverCheckinCount=%d", p.ServerCheckinCount)
	}
}

func TestParseStringFlags(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{`"false"`, false},
		{`"0"`, false},
		{`"no"`, false},
		{`""`, false},
		{`"true"`, true},
		{`" TRUE "`, true},
		{`"1"`, true},
	}
	for _, tc := range cases {
		p, err := Parse("alice", []byte(`{"skipCooldown": `+tc.raw+`}`))
		if err != nil {
			t.Fatalf("Parse(%s): %v", tc.raw, err)
		}
		if p.SkipCooldown != tc.want {
			t.Fatalf("skipCooldown %s parsed as %v", tc.raw, p.SkipCooldown)
		}
	}
}

func TestParseIsIdempotent(t *testing.T) {
	records := []string{messyRecord, `{}`, `null`, `{"lastKnownLocation": {}}`, `{"checkins": "nope", "points": "x"}`}
	for _, rec := range records {
		first, err := Parse("bob", []byte(rec))
		if err != nil {
			t.Fatalf("Parse(%s): %v", rec, err)
		}
		again, err := Parse("bob", []byte(rec))
		if err != nil {
			t.Fatalf("Parse again: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("parsing the same record twice differs:\n%+v\n%+v", first, again)
		}
		data, err := json.Marshal(first)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		second, err := Parse("bob", data)
		if err != nil {
			t.Fatalf("re-Parse: %v", err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("normalisation drifted for %s:\n%+v\n%+v", rec, first, second)
		}
	}
}

func TestParseDropsEmptyLocation(t *testing.T) {
	p, err := Parse("c", []byte(`{"lastKnownLocation": {"timestamp": 5}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.LastKnownLocation != nil {
		t.Fatalf("expected nil location, got %+v", p.LastKnownLocation)
	}
}

func TestPushCheckinCapsHistory(t *testing.T) {
	p := New("d")
	for i := 0; i < MaxHistory+5; i++ {
		p.PushCheckin(CheckinEntry{Timestamp: int64(i), DistrictID: "1", Type: Attack, Multiplier: 1})
	}
	if len(p.Checkins) != MaxHistory {
		t.Fatalf("history len=%d", len(p.Checkins))
	}
	if p.Checkins[0].Timestamp != int64(MaxHistory+4) {
		t.Fatalf("newest entry must be first, got %d", p.Checkins[0].Timestamp)
	}
	if p.Checkins[MaxHistory-1].Timestamp != 5 {
		t.Fatalf("oldest entries must be dropped, last=%d", p.Checkins[MaxHistory-1].Timestamp)
	}
	p.ClearHistory()
	if len(p.Checkins) != 0 || p.ServerCheckinCount != 0 {
		t.Fatalf("ClearHistory left %+v", p.Checkins)
	}
}

func TestAwardKeepsBucketsConsistent(t *testing.T) {
	p := New("e")
	p.Award(Attack, 20)
	p.Award(Defend, 10)
	p.Award(Attack, 0)
	if p.Points != 30 || p.AttackPoints+p.DefendPoints != p.Points {
		t.Fatalf("inconsistent totals: %+v", p)
	}
}

func TestRememberLocationKeepsKnownFields(t *testing.T) {
	p := New("f")
	lng, lat := 14.4, 50.1
	now := time.UnixMilli(1_000)
	if !p.RememberLocation(Location{Lng: &lng, Lat: &lat, DistrictID: "500", DistrictName: "Praha 5"}, now) {
		t.Fatalf("first location must count as a change")
	}
	if p.RememberLocation(Location{DistrictID: "500"}, now.Add(time.Second)) {
		t.Fatalf("same district without coords is not a change")
	}
	loc := p.LastKnownLocation
	if !loc.HasCoords() || *loc.Lng != lng || loc.DistrictName != "Praha 5" || loc.Timestamp != 2_000 {
		t.Fatalf("previous fields not kept: %+v", loc)
	}
	if !p.RememberLocation(Location{DistrictID: "712"}, now) {
		t.Fatalf("district change must be reported")
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := New("g")
	lng := 1.0
	p.LastKnownLocation = &Location{Lng: &lng, DistrictID: "1"}
	p.PushCheckin(CheckinEntry{Timestamp: 1, DistrictID: "1", Type: Attack, Multiplier: 1})
	c := p.Clone()
	*c.LastKnownLocation.Lng = 99
	c.Checkins[0].DistrictID = "x"
	if *p.LastKnownLocation.Lng != 1 || p.Checkins[0].DistrictID != "1" {
		t.Fatalf("clone shares memory with original")
	}
}
