package models

import (
	"time"

	"github.com/cppla/districtwars/ledger"
)

// DistrictScore is the server-side ledger row of one district.
// Adjustment always equals Defended - Attacked.
type DistrictScore struct {
	DistrictID string    `gorm:"primaryKey;size:32" json:"district_id"`
	Name       string    `gorm:"size:128" json:"name"`
	Adjustment int       `gorm:"not null;default:0" json:"adjustment"`
	Defended   int       `gorm:"not null;default:0" json:"defended"`
	Attacked   int       `gorm:"not null;default:0" json:"attacked"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Entry converts the row into a ledger entry.
func (d DistrictScore) Entry() ledger.Entry {
	return ledger.Entry{
		Adjustment: d.Adjustment,
		Defended:   d.Defended,
		Attacked:   d.Attacked,
		Name:       d.Name,
	}
}

// CheckIn stores one accepted check-in, ranged attack included.
type CheckIn struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RequestID    string    `gorm:"size:36;uniqueIndex" json:"request_id"`
	PlayerID     uint      `gorm:"index;not null" json:"player_id"`
	DistrictID   string    `gorm:"size:32;index:idx_checkin_district_time;not null" json:"district_id"`
	DistrictName string    `gorm:"size:128" json:"district_name"`
	Kind         string    `gorm:"size:16;not null" json:"kind"`
	Source       string    `gorm:"size:16" json:"source"`
	Points       int       `json:"points"`
	Multiplier   int       `json:"multiplier"`
	Delta        int       `json:"delta"`
	Ranged       bool      `json:"ranged"`
	Melee        bool      `json:"melee"`
	CreatedAt    time.Time `gorm:"index:idx_checkin_district_time" json:"created_at"`
}
