package game

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/districtwars/geo"
	"github.com/cppla/districtwars/ledger"
	"github.com/cppla/districtwars/profile"
)

var (
	// ErrInvalidUsername is returned by SignIn for names outside [A-Za-z0-9_]{3,32}.
	ErrInvalidUsername = errors.New("invalid username")
	usernamePattern    = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)
)

// Repository persists profiles and the ledger.
type Repository interface {
	LoadPlayers(ctx context.Context) (map[string]*profile.Profile, error)
	SavePlayer(ctx context.Context, p *profile.Profile) error
	LoadLedger(ctx context.Context) (*ledger.Ledger, error)
	SaveDistrict(ctx context.Context, id string, e ledger.Entry) error
	LastUser(ctx context.Context) (string, error)
	SaveLastUser(ctx context.Context, username string) error
	Reset(ctx context.Context) error
}

// MergeFunc receives the authoritative player document after a successful sync.
type MergeFunc func(doc []byte)

// Syncer pushes profile changes to the remote API.
type Syncer interface {
	ScheduleStats(p *profile.Profile, merge MergeFunc)
	ScheduleLocation(p *profile.Profile, merge MergeFunc)
}

// Options configures an Engine. Only Repository is required for persistence;
// the rest defaults to no-ops.
type Options struct {
	Repository Repository
	Locator    Locator
	Syncer     Syncer
	Clock      func() time.Time
	Logger     *zap.Logger
	// DevUsers may toggle SkipCooldown on their own profile.
	DevUsers []string
}

// Engine owns the profile store, the ledger and the per-player ambient state.
// All commands are serialised on one mutex.
type Engine struct {
	mu       sync.Mutex
	repo     Repository
	locator  Locator
	syncer   Syncer
	now      func() time.Time
	log      *zap.Logger
	proc     Processor
	devUsers map[string]bool

	players map[string]*profile.Profile
	ledger  *ledger.Ledger
	ambient map[string]*Ambient
	status  string
}

// New builds an engine. Call Load before serving commands.
func New(opts Options) *Engine {
	e := &Engine{
		repo:     opts.Repository,
		locator:  opts.Locator,
		syncer:   opts.Syncer,
		now:      opts.Clock,
		log:      opts.Logger,
		proc:     Processor{Locator: opts.Locator},
		devUsers: make(map[string]bool),
		players:  make(map[string]*profile.Profile),
		ledger:   ledger.New(),
		ambient:  make(map[string]*Ambient),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	for _, u := range opts.DevUsers {
		e.devUsers[strings.TrimSpace(u)] = true
	}
	return e
}

// Load reads players and the ledger from the repository and warms the district boundaries.
func (e *Engine) Load(ctx context.Context) error {
	e.ensureBoundaries(ctx)
	if e.repo == nil {
		return nil
	}
	players, err := e.repo.LoadPlayers(ctx)
	if err != nil {
		return fmt.Errorf("load players: %w", err)
	}
	l, err := e.repo.LoadLedger(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if players != nil {
		e.players = players
	}
	if l != nil {
		e.ledger = l
	}
	e.log.Info("engine loaded", zap.Int("players", len(e.players)), zap.Int("districts", len(e.ledger.Snapshot())))
	return nil
}

func (e *Engine) ensureBoundaries(ctx context.Context) {
	b, ok := e.locator.(interface{ Load(context.Context) error })
	if !ok {
		return
	}
	if err := b.Load(ctx); err != nil {
		e.log.Warn("district boundaries unavailable", zap.Error(err))
	}
}

// profileLocked returns the stored profile, creating it on first reference.
func (e *Engine) profileLocked(username string) *profile.Profile {
	username = strings.TrimSpace(username)
	p, ok := e.players[username]
	if !ok {
		p = profile.New(username)
		e.players[username] = p
	}
	return p
}

func (e *Engine) ambientLocked(username string) *Ambient {
	username = strings.TrimSpace(username)
	a, ok := e.ambient[username]
	if !ok {
		a = &Ambient{}
		e.ambient[username] = a
	}
	return a
}

// ValidUsername reports whether username is acceptable for an account.
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// SignIn validates username, materialises its profile and remembers it as the last user.
func (e *Engine) SignIn(ctx context.Context, username string) (*profile.Profile, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(username)
	if e.devUsers[username] {
		p.SkipCooldown = true
	}
	if err := e.savePlayerLocked(ctx, p); err != nil {
		return nil, err
	}
	if e.repo != nil {
		if err := e.repo.SaveLastUser(ctx, username); err != nil {
			return nil, fmt.Errorf("save last user: %w", err)
		}
	}
	return p.Clone(), nil
}

// LastUser returns the last signed-in username, or "".
func (e *Engine) LastUser(ctx context.Context) (string, error) {
	if e.repo == nil {
		return "", nil
	}
	return e.repo.LastUser(ctx)
}

// Profile returns a snapshot of the player's profile with an expired cooldown cleared.
func (e *Engine) Profile(username string) *profile.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(username)
	Expire(p, e.now())
	return p.Clone()
}

// Cooldown reports the player's cooldown state and remaining time.
func (e *Engine) Cooldown(username string) (CooldownState, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(username)
	now := e.now()
	return State(p, now), Remaining(p, now)
}

// Status returns the most recent status message.
func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// UpdateMapDistrict records the district the player picked on the map. An empty id clears it.
func (e *Engine) UpdateMapDistrict(username, id, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.ambientLocked(username)
	id = strings.TrimSpace(id)
	if id == "" {
		a.MapDistrict = nil
		return
	}
	a.MapDistrict = &geo.District{ID: id, Name: strings.TrimSpace(name)}
}

// UpdateLiveLocation records a GPS fix. When it falls inside a district the
// profile's last known location follows it.
func (e *Engine) UpdateLiveLocation(ctx context.Context, username string, c Coords) (*LocationContext, error) {
	e.ensureBoundaries(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.ambientLocked(username)
	a.Live = &Coords{Lng: c.Lng, Lat: c.Lat}
	p := e.profileLocked(username)
	if located, changed := e.proc.ObserveLiveFix(p, c, e.now()); located {
		if err := e.savePlayerLocked(ctx, p); err != nil {
			return nil, err
		}
		if changed {
			e.scheduleLocationLocked(p)
		}
	}
	return ResolveCurrentDistrict(p, *a, e.locator, false), nil
}

// CurrentDistrict resolves where the player is right now.
func (e *Engine) CurrentDistrict(username string, allowHomeFallback bool) *LocationContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ResolveCurrentDistrict(e.profileLocked(username), *e.ambientLocked(username), e.locator, allowHomeFallback)
}

// CheckIn runs a check-in for cmd.Username.
func (e *Engine) CheckIn(ctx context.Context, cmd CheckInCommand) (Result, error) {
	e.ensureBoundaries(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(cmd.Username)
	res := e.proc.CheckIn(p, e.ledger, *e.ambientLocked(cmd.Username), cmd, e.now())
	return e.commitLocked(ctx, p, res)
}

// Charge arms the charge multiplier for the player.
func (e *Engine) Charge(ctx context.Context, username string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(username)
	res := e.proc.Charge(p, *e.ambientLocked(username), e.now())
	return e.commitLocked(ctx, p, res)
}

// RangedAttack attacks a district from afar.
func (e *Engine) RangedAttack(ctx context.Context, cmd RangedAttackCommand) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(cmd.Username)
	res := e.proc.RangedAttack(p, e.ledger, cmd, e.now())
	return e.commitLocked(ctx, p, res)
}

// ClearHistory empties the player's check-in history. Points are kept.
func (e *Engine) ClearHistory(ctx context.Context, username string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(username)
	if len(p.Checkins) == 0 {
		return e.finishLocked(Result{Status: "No check-ins to clear."}, p), nil
	}
	p.ClearHistory()
	return e.commitLocked(ctx, p, Result{Accepted: true, Status: "Check-in history cleared."})
}

// SetHomeDistrict sets the player's home district. An empty id clears it.
func (e *Engine) SetHomeDistrict(ctx context.Context, username, id string) (Result, error) {
	e.ensureBoundaries(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(username)
	id = strings.TrimSpace(id)
	if id == "" {
		p.HomeDistrictID, p.HomeDistrictName = "", ""
		return e.commitLocked(ctx, p, Result{Accepted: true, Status: "Home district cleared."})
	}
	name := ""
	if e.locator != nil {
		d, ok := e.locator.Lookup(id)
		if !ok {
			return e.finishLocked(Result{Status: "Select a valid district."}, p), nil
		}
		name = d.Name
	}
	p.HomeDistrictID, p.HomeDistrictName = id, name
	res := Result{Accepted: true, DistrictID: id, DistrictName: p.HomeLabel()}
	res.Status = fmt.Sprintf("Home district set to %s.", res.DistrictName)
	return e.commitLocked(ctx, p, res)
}

// SetSkipCooldown toggles cooldown bypass. Only dev users may enable it.
func (e *Engine) SetSkipCooldown(ctx context.Context, username string, skip bool) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(username)
	if skip && !e.devUsers[p.Username] {
		return e.finishLocked(Result{Status: "Cooldown bypass is only available to dev accounts."}, p), nil
	}
	p.SkipCooldown = skip
	if skip {
		p.CooldownUntil = 0
	}
	return e.commitLocked(ctx, p, Result{Accepted: true, Status: fmt.Sprintf("Skip cooldown: %t.", skip)})
}

// BulkReset deletes every profile and ledger entry.
func (e *Engine) BulkReset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repo != nil {
		if err := e.repo.Reset(ctx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	e.players = make(map[string]*profile.Profile)
	e.ambient = make(map[string]*Ambient)
	e.ledger.Reset()
	e.status = "All player data was reset."
	e.log.Warn("bulk reset")
	return nil
}

// District returns the ledger entry of id.
func (e *Engine) District(id string) ledger.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Get(id)
}

// Strength returns the current strength of a district.
func (e *Engine) Strength(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Strength(id)
}

// Standings returns the ranked ledger.
func (e *Engine) Standings(limit int) []ledger.Standing {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Standings(limit)
}

// Players returns snapshots of all known profiles.
func (e *Engine) Players() []*profile.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*profile.Profile, 0, len(e.players))
	for _, p := range e.players {
		out = append(out, p.Clone())
	}
	return out
}

// ApplyServerPlayer merges an authoritative document into the player's profile and persists it.
func (e *Engine) ApplyServerPlayer(ctx context.Context, username string, doc []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(username)
	if err := profile.ApplyServerPlayer(p, doc, e.now()); err != nil {
		return fmt.Errorf("merge server player: %w", err)
	}
	return e.savePlayerLocked(ctx, p)
}

// LinkBackend records the remote account id once the session is authenticated.
// A zero id unlinks the profile.
func (e *Engine) LinkBackend(ctx context.Context, username string, backendID uint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profileLocked(username)
	p.BackendID = backendID
	return e.savePlayerLocked(ctx, p)
}

func (e *Engine) commitLocked(ctx context.Context, p *profile.Profile, res Result) (Result, error) {
	res = e.finishLocked(res, p)
	if !res.Accepted {
		return res, nil
	}
	if err := e.savePlayerLocked(ctx, p); err != nil {
		return res, err
	}
	if res.LedgerDelta != 0 && e.repo != nil {
		if err := e.repo.SaveDistrict(ctx, res.DistrictID, e.ledger.Get(res.DistrictID)); err != nil {
			return res, fmt.Errorf("save district %s: %w", res.DistrictID, err)
		}
	}
	e.scheduleStatsLocked(p)
	if res.LocationChanged {
		e.scheduleLocationLocked(p)
	}
	e.log.Debug("command applied",
		zap.String("username", p.Username),
		zap.String("district", res.DistrictID),
		zap.String("kind", string(res.Kind)),
		zap.Int("points", res.Points),
		zap.Int("multiplier", res.Multiplier),
	)
	return res, nil
}

func (e *Engine) finishLocked(res Result, p *profile.Profile) Result {
	e.status = res.Status
	res.Profile = p.Clone()
	return res
}

func (e *Engine) savePlayerLocked(ctx context.Context, p *profile.Profile) error {
	if e.repo == nil {
		return nil
	}
	if err := e.repo.SavePlayer(ctx, p.Clone()); err != nil {
		return fmt.Errorf("save player %s: %w", p.Username, err)
	}
	return nil
}

func (e *Engine) scheduleStatsLocked(p *profile.Profile) {
	if e.syncer != nil {
		e.syncer.ScheduleStats(p.Clone(), e.merger(p.Username))
	}
}

func (e *Engine) scheduleLocationLocked(p *profile.Profile) {
	if e.syncer != nil {
		e.syncer.ScheduleLocation(p.Clone(), e.merger(p.Username))
	}
}

func (e *Engine) merger(username string) MergeFunc {
	return func(doc []byte) {
		if err := e.ApplyServerPlayer(context.Background(), username, doc); err != nil {
			e.log.Warn("server merge failed", zap.String("username", username), zap.Error(err))
		}
	}
}
