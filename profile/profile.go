package profile

import (
	"strings"
	"time"
)

const (
	// MaxHistory bounds the check-in history kept on a profile, newest first.
	MaxHistory = 15
	// MaxServerHistory bounds what the remote API accepts in one update.
	MaxServerHistory = 50
)

// CheckinType classifies a check-in.
type CheckinType string

const (
	Attack CheckinType = "attack"
	Defend CheckinType = "defend"
)

// CheckinEntry is one immutable history record. Timestamps are epoch milliseconds.
type CheckinEntry struct {
	Timestamp    int64       `json:"timestamp"`
	DistrictID   string      `json:"districtId,omitempty"`
	DistrictName string      `json:"districtName,omitempty"`
	Type         CheckinType `json:"type"`
	Multiplier   int         `json:"multiplier"`
	Ranged       bool        `json:"ranged"`
	Melee        bool        `json:"melee"`
}

// Location is the best known position of a player.
type Location struct {
	Lng          *float64 `json:"lng"`
	Lat          *float64 `json:"lat"`
	DistrictID   string   `json:"districtId,omitempty"`
	DistrictName string   `json:"districtName,omitempty"`
	Timestamp    int64    `json:"timestamp"`
}

// HasCoords reports whether both coordinates are known.
func (l *Location) HasCoords() bool {
	return l != nil && l.Lng != nil && l.Lat != nil
}

func (l *Location) clone() *Location {
	if l == nil {
		return nil
	}
	c := *l
	if l.Lng != nil {
		v := *l.Lng
		c.Lng = &v
	}
	if l.Lat != nil {
		v := *l.Lat
		c.Lat = &v
	}
	return &c
}

// Profile is the per-player record. Values are only built through New or Parse,
// which guarantee the normalised shape.
type Profile struct {
	Username              string         `json:"username"`
	Points                int            `json:"points"`
	AttackPoints          int            `json:"attackPoints"`
	DefendPoints          int            `json:"defendPoints"`
	HomeDistrictID        string         `json:"homeDistrictId,omitempty"`
	HomeDistrictName      string         `json:"homeDistrictName,omitempty"`
	LastKnownLocation     *Location      `json:"lastKnownLocation"`
	CooldownUntil         int64          `json:"cooldownUntil,omitempty"`
	NextCheckinMultiplier int            `json:"nextCheckinMultiplier"`
	SkipCooldown          bool           `json:"skipCooldown,omitempty"`
	Checkins              []CheckinEntry `json:"checkins"`
	ServerCheckinCount    int            `json:"serverCheckinCount"`

	BackendID   uint    `json:"backendId,omitempty"`
	DisplayName string  `json:"displayName,omitempty"`
	AttackRatio float64 `json:"attackRatio,omitempty"`
	DefendRatio float64 `json:"defendRatio,omitempty"`
	SyncedAt    int64   `json:"backendSyncedAt,omitempty"`
}

// New returns a profile with default values for username.
func New(username string) *Profile {
	return &Profile{
		Username:              strings.TrimSpace(username),
		NextCheckinMultiplier: 1,
		Checkins:              []CheckinEntry{},
	}
}

// Clone returns a deep copy safe to hand to readers.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Checkins = append([]CheckinEntry(nil), p.Checkins...)
	if c.Checkins == nil {
		c.Checkins = []CheckinEntry{}
	}
	c.LastKnownLocation = p.LastKnownLocation.clone()
	return &c
}

// HomeLabel returns the home district name, its generic label, or "Unset".
func (p *Profile) HomeLabel() string {
	switch {
	case p.HomeDistrictName != "":
		return p.HomeDistrictName
	case p.HomeDistrictID != "":
		return "District " + p.HomeDistrictID
	default:
		return "Unset"
	}
}

// PushCheckin prepends entry and drops the oldest entries beyond MaxHistory.
func (p *Profile) PushCheckin(entry CheckinEntry) {
	history := make([]CheckinEntry, 0, MaxHistory)
	history = append(history, entry)
	history = append(history, p.Checkins...)
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}
	p.Checkins = history
	p.ServerCheckinCount = len(p.Checkins)
}

// ClearHistory empties the check-in history.
func (p *Profile) ClearHistory() {
	p.Checkins = []CheckinEntry{}
	p.ServerCheckinCount = 0
}

// Award adds points to the total and to the attack or defend bucket.
func (p *Profile) Award(kind CheckinType, points int) {
	if points <= 0 {
		return
	}
	p.Points += points
	if kind == Defend {
		p.DefendPoints += points
	} else {
		p.AttackPoints += points
	}
}

// RememberLocation stores loc as the last known location, keeping coordinates
// and names from the previous value when loc lacks them. It reports whether
// anything other than the timestamp changed.
func (p *Profile) RememberLocation(loc Location, now time.Time) bool {
	prev := p.LastKnownLocation
	next := loc.clone()
	next.DistrictID = strings.TrimSpace(next.DistrictID)
	next.DistrictName = strings.TrimSpace(next.DistrictName)
	next.Timestamp = now.UnixMilli()
	if prev != nil {
		if next.Lng == nil && prev.Lng != nil {
			v := *prev.Lng
			next.Lng = &v
		}
		if next.Lat == nil && prev.Lat != nil {
			v := *prev.Lat
			next.Lat = &v
		}
		if next.DistrictID == "" {
			next.DistrictID = prev.DistrictID
		}
		if next.DistrictName == "" && next.DistrictID == prev.DistrictID {
			next.DistrictName = prev.DistrictName
		}
	}
	p.LastKnownLocation = next
	if prev == nil {
		return true
	}
	return prev.DistrictID != next.DistrictID ||
		prev.DistrictName != next.DistrictName ||
		!sameCoord(prev.Lng, next.Lng) ||
		!sameCoord(prev.Lat, next.Lat)
}

func sameCoord(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
