package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cppla/districtwars/profile"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Player is the authoritative server record of one account. Passwords are
// stored as bcrypt hashes only.
type Player struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Username          string          `gorm:"size:64;uniqueIndex;not null" json:"username"`
	PasswordHash      string          `gorm:"size:255" json:"-"`
	DisplayName       string          `gorm:"size:64" json:"display_name"`
	Score             int             `gorm:"default:0;index" json:"score"`
	AttackPoints      int             `gorm:"default:0" json:"attack_points"`
	DefendPoints      int             `gorm:"default:0" json:"defend_points"`
	Checkins          int             `gorm:"default:0" json:"checkins"`
	AttackRatio       decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"attack_ratio"`
	DefendRatio       decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"defend_ratio"`
	HomeDistrictCode  string          `gorm:"size:32" json:"home_district_code"`
	HomeDistrictName  string          `gorm:"size:128" json:"home_district_name"`
	CheckinHistory    datatypes.JSON  `json:"checkin_history"`
	LastKnownLocation datatypes.JSON  `json:"last_known_location"`
	CooldownUntil     *time.Time      `json:"cooldown_until"`
	NextMultiplier    int             `gorm:"default:1" json:"next_checkin_multiplier"`
	SkipCooldown      bool            `gorm:"default:false" json:"-"`
	LastLoginAt       *time.Time      `json:"last_login_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeletedAt         gorm.DeletedAt  `gorm:"index" json:"-"`
}

// BeforeCreate hook ensures timestamps and defaults are set.
func (p *Player) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.normalise()
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (p *Player) BeforeUpdate(tx *gorm.DB) error {
	p.UpdatedAt = time.Now()
	p.normalise()
	return nil
}

func (p *Player) normalise() {
	if p.NextMultiplier < 1 {
		p.NextMultiplier = 1
	}
	if len(p.CheckinHistory) == 0 {
		p.CheckinHistory = datatypes.JSON("[]")
	}
}

// History returns the sanitised stored check-in history, newest first.
func (p *Player) History() []profile.CheckinEntry {
	return profile.SanitizeHistoryJSON(p.CheckinHistory, profile.MaxServerHistory)
}

// SetHistory stores entries, keeping at most MaxServerHistory, and
// recomputes the check-in count and ratios from it.
func (p *Player) SetHistory(entries []profile.CheckinEntry) error {
	if len(entries) > profile.MaxServerHistory {
		entries = entries[:profile.MaxServerHistory]
	}
	if entries == nil {
		entries = []profile.CheckinEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	p.CheckinHistory = datatypes.JSON(data)
	p.Checkins = len(entries)
	p.RecomputeRatios()
	return nil
}

// PrependHistory adds entry as the newest history record.
func (p *Player) PrependHistory(entry profile.CheckinEntry) error {
	return p.SetHistory(append([]profile.CheckinEntry{entry}, p.History()...))
}

// RecomputeRatios derives attack and defend ratios from points and check-ins.
func (p *Player) RecomputeRatios() {
	p.AttackRatio, p.DefendRatio = profile.Ratios(p.AttackPoints, p.DefendPoints, p.Checkins)
}

// SetLocation stores loc, or clears it when loc is nil.
func (p *Player) SetLocation(loc *profile.Location) error {
	if loc == nil {
		p.LastKnownLocation = nil
		return nil
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}
	p.LastKnownLocation = datatypes.JSON(data)
	return nil
}

// ToProfile converts the record into a game profile through the profile parser.
func (p *Player) ToProfile() (*profile.Profile, error) {
	doc := map[string]interface{}{
		"points":                p.Score,
		"attackPoints":          p.AttackPoints,
		"defendPoints":          p.DefendPoints,
		"homeDistrictId":        p.HomeDistrictCode,
		"homeDistrictName":      p.HomeDistrictName,
		"nextCheckinMultiplier": p.NextMultiplier,
		"skipCooldown":          p.SkipCooldown,
		"serverCheckinCount":    p.Checkins,
		"backendId":             p.ID,
		"displayName":           p.DisplayName,
		"attackRatio":           p.AttackRatio.InexactFloat64(),
		"defendRatio":           p.DefendRatio.InexactFloat64(),
	}
	if p.CooldownUntil != nil {
		doc["cooldownUntil"] = p.CooldownUntil.UnixMilli()
	}
	if len(p.CheckinHistory) > 0 {
		doc["checkins"] = json.RawMessage(p.CheckinHistory)
	}
	if len(p.LastKnownLocation) > 0 {
		doc["lastKnownLocation"] = json.RawMessage(p.LastKnownLocation)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return profile.Parse(p.Username, data)
}

// ApplyProfile copies the mutable game state of prof back onto the record.
// History is left alone; use PrependHistory for new entries.
func (p *Player) ApplyProfile(prof *profile.Profile) error {
	p.Score = prof.Points
	p.AttackPoints = prof.AttackPoints
	p.DefendPoints = prof.DefendPoints
	p.HomeDistrictCode = prof.HomeDistrictID
	p.HomeDistrictName = prof.HomeDistrictName
	p.NextMultiplier = prof.NextCheckinMultiplier
	if prof.CooldownUntil > 0 {
		t := time.UnixMilli(prof.CooldownUntil)
		p.CooldownUntil = &t
	} else {
		p.CooldownUntil = nil
	}
	p.RecomputeRatios()
	return p.SetLocation(prof.LastKnownLocation)
}

// PlayerView is the API representation of a player.
type PlayerView struct {
	ID                    uint                   `json:"id"`
	Username              string                 `json:"username"`
	DisplayName           string                 `json:"display_name"`
	Score                 int                    `json:"score"`
	AttackPoints          int                    `json:"attack_points"`
	DefendPoints          int                    `json:"defend_points"`
	Checkins              int                    `json:"checkins"`
	AttackRatio           decimal.Decimal        `json:"attack_ratio"`
	DefendRatio           decimal.Decimal        `json:"defend_ratio"`
	HomeDistrictCode      *string                `json:"home_district_code"`
	HomeDistrictName      *string                `json:"home_district_name"`
	HomeDistrict          string                 `json:"home_district"`
	CheckinHistory        []profile.CheckinEntry `json:"checkin_history"`
	LastKnownLocation     *profile.Location      `json:"last_known_location"`
	CooldownUntil         *int64                 `json:"cooldown_until"`
	NextCheckinMultiplier int                    `json:"next_checkin_multiplier"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

// View renders the record for API responses.
func (p *Player) View() PlayerView {
	v := PlayerView{
		ID:                    p.ID,
		Username:              p.Username,
		DisplayName:           p.DisplayName,
		Score:                 p.Score,
		AttackPoints:          p.AttackPoints,
		DefendPoints:          p.DefendPoints,
		Checkins:              p.Checkins,
		AttackRatio:           p.AttackRatio,
		DefendRatio:           p.DefendRatio,
		HomeDistrict:          p.HomeDistrictName,
		CheckinHistory:        p.History(),
		NextCheckinMultiplier: p.NextMultiplier,
		UpdatedAt:             p.UpdatedAt,
	}
	if v.NextCheckinMultiplier < 1 {
		v.NextCheckinMultiplier = 1
	}
	if p.HomeDistrictCode != "" {
		code := p.HomeDistrictCode
		v.HomeDistrictCode = &code
	}
	if p.HomeDistrictName != "" {
		name := p.HomeDistrictName
		v.HomeDistrictName = &name
	}
	if len(p.LastKnownLocation) > 0 {
		var loc profile.Location
		if err := json.Unmarshal(p.LastKnownLocation, &loc); err == nil && (loc.DistrictID != "" || loc.HasCoords()) {
			v.LastKnownLocation = &loc
		}
	}
	if p.CooldownUntil != nil {
		ms := p.CooldownUntil.UnixMilli()
		v.CooldownUntil = &ms
	}
	return v
}
