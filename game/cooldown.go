package game

import (
	"time"

	"github.com/cppla/districtwars/profile"
)

const (
	// Cooldown is the lockout shared by check-ins, ranged attacks and charges.
	Cooldown = 10 * time.Minute
	// ChargeMultiplier is armed by a charge and consumed by the next check-in.
	ChargeMultiplier = 3
)

// CooldownState is the position of a profile in the cooldown and charge cycle.
type CooldownState int

const (
	// Idle: no cooldown and no multiplier armed.
	Idle CooldownState = iota
	// CoolingDown: the timer runs after a check-in.
	CoolingDown
	// Charging: a multiplier is armed and the charge timer runs.
	Charging
	// Charged: the multiplier is armed and the next check-in may consume it.
	Charged
)

func (s CooldownState) String() string {
	switch s {
	case CoolingDown:
		return "cooling-down"
	case Charging:
		return "charging"
	case Charged:
		return "charged"
	default:
		return "idle"
	}
}

// State reads the cooldown state without mutating p. An expired deadline counts as no deadline.
func State(p *profile.Profile, now time.Time) CooldownState {
	running := onCooldown(p, now)
	armed := p.NextCheckinMultiplier > 1
	switch {
	case running && armed:
		return Charging
	case running:
		return CoolingDown
	case armed:
		return Charged
	default:
		return Idle
	}
}

// Remaining returns how long the cooldown still runs.
func Remaining(p *profile.Profile, now time.Time) time.Duration {
	if !onCooldown(p, now) {
		return 0
	}
	return time.UnixMilli(p.CooldownUntil).Sub(now)
}

// Eligible reports whether p may check in, attack or charge now.
func Eligible(p *profile.Profile, now time.Time) bool {
	return p.SkipCooldown || !onCooldown(p, now)
}

// Expire clears a deadline that has passed and reports whether it did.
func Expire(p *profile.Profile, now time.Time) bool {
	if p.CooldownUntil != 0 && p.CooldownUntil <= now.UnixMilli() {
		p.CooldownUntil = 0
		return true
	}
	return false
}

// Arm starts the cooldown, or clears it for profiles that skip cooldowns.
func Arm(p *profile.Profile, now time.Time) {
	if p.SkipCooldown {
		p.CooldownUntil = 0
		return
	}
	p.CooldownUntil = now.Add(Cooldown).UnixMilli()
}

// chargeMultiplier returns the armed multiplier, at least 1.
func chargeMultiplier(p *profile.Profile) int {
	if p.NextCheckinMultiplier > 1 {
		return p.NextCheckinMultiplier
	}
	return 1
}

func onCooldown(p *profile.Profile, now time.Time) bool {
	return p.CooldownUntil > now.UnixMilli()
}
