package ledger

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"
)

const (
	// BaseScore is the strength every district starts from.
	BaseScore = 2000
	// SecureThreshold classifies all-time standings.
	SecureThreshold = 200
	// RecentThreshold classifies the trailing 24h change.
	RecentThreshold = 100
)

// Status describes who currently holds the upper hand in a district.
type Status string

const (
	StatusSecure    Status = "secure"
	StatusContested Status = "contested"
	StatusOverrun   Status = "overrun"
)

// Entry is the aggregate score of one district.
// Adjustment always equals Defended - Attacked.
type Entry struct {
	Adjustment int    `json:"adjustment"`
	Defended   int    `json:"defended"`
	Attacked   int    `json:"attacked"`
	Name       string `json:"name,omitempty"`
}

// Strength is the displayed score, not clamped.
func (e Entry) Strength() int {
	return BaseScore + e.Adjustment
}

// Standing is an entry together with its district id, used for rankings.
type Standing struct {
	ID string `json:"id"`
	Entry
	Score  int    `json:"score"`
	Status Status `json:"status"`
}

// Ledger holds per-district entries. It is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{entries: map[string]*Entry{}}
}

// Parse rebuilds a ledger from its persisted form. Legacy numeric values are
// migrated into entries; malformed values are dropped.
func Parse(data []byte) (*Ledger, error) {
	l := New()
	if len(data) == 0 {
		return l, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for id, value := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		var legacy float64
		if err := json.Unmarshal(value, &legacy); err == nil {
			n := finiteInt(legacy)
			e := &Entry{Adjustment: n}
			if n > 0 {
				e.Defended = n
			} else {
				e.Attacked = -n
			}
			l.entries[id] = e
			continue
		}
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			continue
		}
		l.entries[id] = normalise(e)
	}
	return l, nil
}

// Put stores an entry loaded from elsewhere, repairing the adjustment invariant.
func (l *Ledger) Put(id string, e Entry) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	l.mu.Lock()
	l.entries[id] = normalise(e)
	l.mu.Unlock()
}

func normalise(e Entry) *Entry {
	if e.Defended < 0 {
		e.Defended = 0
	}
	if e.Attacked < 0 {
		e.Attacked = 0
	}
	e.Adjustment = e.Defended - e.Attacked
	e.Name = strings.TrimSpace(e.Name)
	return &e
}

// MarshalJSON writes the ledger as a map keyed by district id.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(l.entries)
}

// Apply adds delta to the district. Positive deltas build Defended, negative
// deltas build Attacked. A non-empty name replaces the stored one.
func (l *Ledger) Apply(id, name string, delta int) (Entry, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Entry{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.ensure(id)
	if name = strings.TrimSpace(name); name != "" {
		e.Name = name
	}
	e.Adjustment += delta
	if delta > 0 {
		e.Defended += delta
	} else {
		e.Attacked += -delta
	}
	return *e, true
}

func (l *Ledger) ensure(id string) *Entry {
	e, ok := l.entries[id]
	if !ok {
		e = &Entry{}
		l.entries[id] = e
	}
	return e
}

// Get returns a copy of the entry, or a zero entry for unknown districts.
func (l *Ledger) Get(id string) Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.entries[strings.TrimSpace(id)]; ok {
		return *e
	}
	return Entry{}
}

// Strength returns BaseScore plus the district's adjustment.
func (l *Ledger) Strength(id string) int {
	return l.Get(id).Strength()
}

// Snapshot copies all entries.
func (l *Ledger) Snapshot() map[string]Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Entry, len(l.entries))
	for id, e := range l.entries {
		out[id] = *e
	}
	return out
}

// Standings ranks districts by strength, then defended total, then name.
// A non-positive limit returns every district.
func (l *Ledger) Standings(limit int) []Standing {
	snap := l.Snapshot()
	out := make([]Standing, 0, len(snap))
	for id, e := range snap {
		out = append(out, Standing{
			ID:     id,
			Entry:  e,
			Score:  e.Strength(),
			Status: Classify(e.Defended, e.Attacked, SecureThreshold),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Defended != out[j].Defended {
			return out[i].Defended > out[j].Defended
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Reset drops every entry.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.entries = map[string]*Entry{}
	l.mu.Unlock()
}

// Classify maps a defended/attacked pair onto a status using threshold on the net value.
func Classify(defended, attacked, threshold int) Status {
	net := defended - attacked
	switch {
	case net >= threshold:
		return StatusSecure
	case net <= -threshold:
		return StatusOverrun
	default:
		return StatusContested
	}
}

func finiteInt(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Round(v))
}
