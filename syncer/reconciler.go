package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/cppla/districtwars/game"
	"github.com/cppla/districtwars/profile"
)

// ErrNotAuthenticated is returned by operations that need a live session.
var ErrNotAuthenticated = errors.New("syncer: not authenticated")

// Session is the client's view of its remote session.
type Session struct {
	Authenticated bool   `json:"authenticated"`
	Token         string `json:"token,omitempty"`
	Username      string `json:"username,omitempty"`
	BackendID     uint   `json:"backendId,omitempty"`
}

// remotePlayer picks the identity fields out of a player document.
type remotePlayer struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// Reconciler pushes profile changes to the remote API and merges the
// authoritative answer back. All updates for one player are applied
// strictly in order; a failure is logged and never blocks later updates.
type Reconciler struct {
	client *Client
	queue  *KeyedQueue
	log    *zap.Logger

	mu       sync.RWMutex
	session  Session
	onDemote func(s Session)
}

// NewReconciler returns a reconciler sending through client.
func NewReconciler(client *Client, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		client: client,
		queue:  NewKeyedQueue(logger),
		log:    logger,
	}
}

// OnDemote registers fn to run when the server rejects the session. fn receives
// the session as it was before demotion.
func (r *Reconciler) OnDemote(fn func(s Session)) {
	r.mu.Lock()
	r.onDemote = fn
	r.mu.Unlock()
}

// Session returns the current session.
func (r *Reconciler) Session() Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// SetToken installs a previously stored token without checking it.
func (r *Reconciler) SetToken(token string) {
	r.mu.Lock()
	r.session.Token = token
	r.mu.Unlock()
}

// RestoreSession validates the stored token with the server. It returns the
// player document when the session is live.
func (r *Reconciler) RestoreSession(ctx context.Context) (Session, json.RawMessage, error) {
	token := r.Session().Token
	info, err := r.client.Session(ctx, token)
	if err != nil {
		if IsUnauthorized(err) {
			r.demote()
		}
		return r.Session(), nil, err
	}
	if !info.Authenticated {
		r.demote()
		return r.Session(), nil, nil
	}
	s := r.establish(token, info.Player)
	return s, info.Player, nil
}

// Login authenticates against the server.
func (r *Reconciler) Login(ctx context.Context, username, password string) (Session, json.RawMessage, error) {
	res, err := r.client.Login(ctx, username, password)
	if err != nil {
		return r.Session(), nil, err
	}
	s := r.establish(res.Token, res.Player)
	r.log.Info("signed in to remote api", zap.String("username", s.Username), zap.Uint("backend_id", s.BackendID))
	return s, res.Player, nil
}

// Logout revokes the token on the server and forgets the session locally even
// when the server call fails.
func (r *Reconciler) Logout(ctx context.Context) error {
	s := r.Session()
	r.mu.Lock()
	r.session = Session{}
	r.mu.Unlock()
	if s.Token == "" {
		return nil
	}
	return r.client.Logout(ctx, s.Token)
}

// Leaderboard fetches the remote rankings.
func (r *Reconciler) Leaderboard(ctx context.Context) (Leaderboard, error) {
	return r.client.Leaderboard(ctx)
}

func (r *Reconciler) establish(token string, player json.RawMessage) Session {
	var rp remotePlayer
	_ = json.Unmarshal(player, &rp)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = Session{Authenticated: true, Token: token, Username: rp.Username, BackendID: rp.ID}
	return r.session
}

func (r *Reconciler) demote() {
	r.mu.Lock()
	prev := r.session
	r.session = Session{}
	fn := r.onDemote
	r.mu.Unlock()
	if prev.Authenticated || prev.Token != "" {
		r.log.Warn("remote session rejected, continuing offline", zap.String("username", prev.Username))
	}
	if fn != nil {
		fn(prev)
	}
}

// ScheduleStats queues a stats update for p.
func (r *Reconciler) ScheduleStats(p *profile.Profile, merge game.MergeFunc) {
	r.schedule("stats", p, profile.BuildStatsPayload(p), merge)
}

// ScheduleLocation queues a last known location update for p.
func (r *Reconciler) ScheduleLocation(p *profile.Profile, merge game.MergeFunc) {
	r.schedule("location", p, profile.BuildLocationPayload(p), merge)
}

// schedule queues one PATCH for p. Stats and location updates of a player
// share one lane, so every response is merged in submission order.
func (r *Reconciler) schedule(kind string, p *profile.Profile, payload interface{}, merge game.MergeFunc) {
	s := r.Session()
	if !s.Authenticated || p == nil || p.BackendID == 0 {
		return
	}
	if s.Username != "" && s.Username != p.Username {
		return
	}
	id := p.BackendID
	username := p.Username
	r.queue.Submit(username, func(ctx context.Context) {
		// The session may have been demoted while this task waited.
		cur := r.Session()
		if !cur.Authenticated {
			return
		}
		doc, err := r.client.PatchPlayer(ctx, cur.Token, id, payload)
		if err != nil {
			if IsUnauthorized(err) {
				r.demote()
				return
			}
			r.log.Warn("player sync failed", zap.String("kind", kind), zap.String("username", username), zap.Error(err))
			return
		}
		if merge != nil {
			merge(doc)
		}
	})
}

// Flush waits until every queued update has been sent.
func (r *Reconciler) Flush() {
	r.queue.Flush()
}

// Close drains the queue, giving up when ctx ends.
func (r *Reconciler) Close(ctx context.Context) error {
	return r.queue.Close(ctx)
}
