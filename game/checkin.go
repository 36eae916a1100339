package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/cppla/districtwars/geo"
	"github.com/cppla/districtwars/ledger"
	"github.com/cppla/districtwars/profile"
)

const (
	// CheckinPoints is the base value of a check-in before multipliers.
	CheckinPoints = 10
	// RangedAttackPoints is the flat value of a ranged attack before the charge multiplier.
	RangedAttackPoints = 10
	// MeleeMultiplier applies to attacks made while standing in the district.
	MeleeMultiplier = 2
)

// CheckInCommand asks for a check-in. The target is optional: when neither an
// id nor context coordinates are given the player's current district is used.
type CheckInCommand struct {
	Username           string
	TargetDistrictID   string
	TargetDistrictName string
	ContextCoords      *Coords
	ContextIsLocal     bool
}

// RangedAttackCommand asks for a ranged attack. An empty district means the
// player's last known district.
type RangedAttackCommand struct {
	Username     string
	DistrictID   string
	DistrictName string
}

// Result describes the outcome of a command. Rejected commands leave all
// state untouched and carry the reason in Status.
type Result struct {
	Accepted        bool                  `json:"accepted"`
	Status          string                `json:"status"`
	Kind            profile.CheckinType   `json:"kind,omitempty"`
	DistrictID      string                `json:"districtId,omitempty"`
	DistrictName    string                `json:"districtName,omitempty"`
	Source          Source                `json:"source,omitempty"`
	Points          int                   `json:"points"`
	Multiplier      int                   `json:"multiplier"`
	Ranged          bool                  `json:"ranged"`
	Melee           bool                  `json:"melee"`
	LedgerDelta     int                   `json:"ledgerDelta"`
	LocationChanged bool                  `json:"locationChanged"`
	Entry           *profile.CheckinEntry `json:"entry,omitempty"`
	CooldownUntil   int64                 `json:"cooldownUntil,omitempty"`
	Profile         *profile.Profile      `json:"profile,omitempty"`
}

func rejected(format string, args ...interface{}) Result {
	return Result{Status: fmt.Sprintf(format, args...)}
}

// Processor applies commands to a profile and a ledger. It holds no state of
// its own; callers serialise access to the values they pass in.
type Processor struct {
	Locator Locator
}

// ObserveLiveFix makes c the player's last known location when it falls inside
// a district. It reports whether a district matched and whether the stored
// location changed.
func (pr Processor) ObserveLiveFix(p *profile.Profile, c Coords, now time.Time) (located, changed bool) {
	if pr.Locator == nil || p == nil {
		return false, false
	}
	d, ok := pr.Locator.Locate(c.Lng, c.Lat)
	if !ok {
		return false, false
	}
	lng, lat := c.Lng, c.Lat
	return true, p.RememberLocation(profile.Location{Lng: &lng, Lat: &lat, DistrictID: d.ID, DistrictName: d.Name}, now)
}

// unknownDistrict reports whether id is missing from loaded boundary data.
// Without boundaries every id is accepted.
func (pr Processor) unknownDistrict(id string) bool {
	if pr.Locator == nil {
		return false
	}
	if l, ok := pr.Locator.(interface{ Loaded() bool }); ok && !l.Loaded() {
		return false
	}
	_, ok := pr.Locator.Lookup(id)
	return !ok
}

// CheckIn records an attack or defend for p and adjusts the ledger.
func (pr Processor) CheckIn(p *profile.Profile, l *ledger.Ledger, amb Ambient, cmd CheckInCommand, now time.Time) Result {
	Expire(p, now)
	if !Eligible(p, now) {
		return rejected("Cooldown active. Wait until it finishes before checking in again.")
	}

	targetID := strings.TrimSpace(cmd.TargetDistrictID)
	targetName := strings.TrimSpace(cmd.TargetDistrictName)
	if targetID == "" && cmd.ContextCoords != nil && pr.Locator != nil {
		if d, ok := pr.Locator.Locate(cmd.ContextCoords.Lng, cmd.ContextCoords.Lat); ok {
			targetID, targetName = d.ID, d.Name
		}
	}
	if targetID != "" && pr.unknownDistrict(targetID) {
		return rejected("Select a valid district to check in.")
	}

	loc := ResolveCurrentDistrict(p, amb, pr.Locator, true)
	if loc == nil {
		if targetID != "" {
			return rejected("Select a valid district to check in.")
		}
		return rejected("Unable to determine your last known district. Enable location or complete a local check-in first.")
	}

	actingID, actingName := loc.ID, loc.Name
	source := loc.Source
	lng, lat := loc.Lng, loc.Lat
	if targetID != "" && targetID != loc.ID && p.HomeDistrictID != "" && targetID == p.HomeDistrictID {
		actingID, actingName = targetID, pr.label(targetID, targetName, p.HomeDistrictName)
		if !(cmd.ContextIsLocal && source.Precise()) {
			source = SourceHomeRemote
			lng, lat = nil, nil
		}
	}

	defending := p.HomeDistrictID != "" && actingID == p.HomeDistrictID
	charge := chargeMultiplier(p)
	res := Result{
		Accepted:     true,
		DistrictID:   actingID,
		DistrictName: actingName,
		Source:       source,
	}
	switch {
	case defending:
		res.Kind = profile.Defend
		res.Multiplier = charge
		res.Points = CheckinPoints * charge
		res.LedgerDelta = res.Points
	case source.Precise() && loc.ID == actingID:
		res.Kind = profile.Attack
		res.Melee = true
		res.Multiplier = charge * MeleeMultiplier
		res.Points = CheckinPoints * res.Multiplier
		res.LedgerDelta = -res.Points
	default:
		res.Kind = profile.Attack
		res.Ranged = true
		res.Multiplier = charge
		res.Points = RangedAttackPoints * charge
		res.LedgerDelta = -res.Points
	}

	l.Apply(actingID, actingName, res.LedgerDelta)
	p.Award(res.Kind, res.Points)
	entry := profile.CheckinEntry{
		Timestamp:    now.UnixMilli(),
		DistrictID:   actingID,
		DistrictName: actingName,
		Type:         res.Kind,
		Multiplier:   res.Multiplier,
		Ranged:       res.Ranged,
		Melee:        res.Melee,
	}
	p.PushCheckin(entry)
	res.Entry = &entry
	p.NextCheckinMultiplier = 1

	if source == SourceMap || source == SourceGeolocated || source == SourceProfile {
		res.LocationChanged = p.RememberLocation(profile.Location{
			Lng:          lng,
			Lat:          lat,
			DistrictID:   loc.ID,
			DistrictName: loc.Name,
		}, now)
	}
	Arm(p, now)
	res.CooldownUntil = p.CooldownUntil
	res.Status = checkinStatus(res)
	return res
}

// Charge arms the charge multiplier for the next check-in and starts the cooldown.
func (pr Processor) Charge(p *profile.Profile, amb Ambient, now time.Time) Result {
	Expire(p, now)
	if !Eligible(p, now) {
		return rejected("Charge cooldown active. Wait for it to finish before charging again.")
	}
	p.NextCheckinMultiplier = ChargeMultiplier
	Arm(p, now)

	res := Result{Accepted: true, Multiplier: ChargeMultiplier, CooldownUntil: p.CooldownUntil}
	action := "attack"
	if loc := ResolveCurrentDistrict(p, amb, pr.Locator, true); loc != nil {
		res.DistrictID, res.DistrictName, res.Source = loc.ID, loc.Name, loc.Source
		if p.HomeDistrictID != "" && loc.ID == p.HomeDistrictID {
			action = "defend"
		}
	}
	res.Status = fmt.Sprintf("Charging %s! Your next check-in earns x%d points.", action, ChargeMultiplier)
	return res
}

// RangedAttack attacks a district from afar for a flat amount.
func (pr Processor) RangedAttack(p *profile.Profile, l *ledger.Ledger, cmd RangedAttackCommand, now time.Time) Result {
	Expire(p, now)
	if !Eligible(p, now) {
		return rejected("Attack cooldown active. Wait until it finishes before attacking again.")
	}
	id := strings.TrimSpace(cmd.DistrictID)
	name := strings.TrimSpace(cmd.DistrictName)
	if id == "" && p.LastKnownLocation != nil {
		id, name = p.LastKnownLocation.DistrictID, p.LastKnownLocation.DistrictName
	}
	if id == "" || pr.unknownDistrict(id) {
		return rejected("Select a valid district to attack.")
	}
	// Home is defended by checking in, never attacked from afar.
	if p.HomeDistrictID != "" && id == p.HomeDistrictID {
		return rejected("You cannot attack your home district.")
	}
	name = pr.label(id, name, "")

	charge := chargeMultiplier(p)
	res := Result{
		Accepted:     true,
		Kind:         profile.Attack,
		DistrictID:   id,
		DistrictName: name,
		Ranged:       true,
		Multiplier:   charge,
		Points:       RangedAttackPoints * charge,
	}
	res.LedgerDelta = -res.Points

	l.Apply(id, name, res.LedgerDelta)
	p.Award(profile.Attack, res.Points)
	entry := profile.CheckinEntry{
		Timestamp:    now.UnixMilli(),
		DistrictID:   id,
		DistrictName: name,
		Type:         profile.Attack,
		Multiplier:   charge,
		Ranged:       true,
	}
	p.PushCheckin(entry)
	res.Entry = &entry
	p.NextCheckinMultiplier = 1
	Arm(p, now)
	res.CooldownUntil = p.CooldownUntil
	res.Status = checkinStatus(res)
	return res
}

// label picks the best display name for id.
func (pr Processor) label(id, given, fallback string) string {
	if given != "" {
		return given
	}
	if fallback != "" {
		return fallback
	}
	if pr.Locator != nil {
		if d, ok := pr.Locator.Lookup(id); ok && d.Name != "" {
			return d.Name
		}
	}
	return geo.District{ID: id}.Label()
}

func checkinStatus(res Result) string {
	var b strings.Builder
	if res.Kind == profile.Defend {
		fmt.Fprintf(&b, "Defended %s. +%d defend pts", res.DistrictName, res.Points)
	} else {
		mode := "ranged"
		if res.Melee {
			mode = "melee"
		}
		fmt.Fprintf(&b, "Captured (%s) %s. +%d attack pts", mode, res.DistrictName, res.Points)
	}
	if res.Multiplier > 1 {
		fmt.Fprintf(&b, " (x%d)", res.Multiplier)
	}
	b.WriteString("!")
	return b.String()
}
