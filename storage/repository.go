package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cppla/districtwars/ledger"
	"github.com/cppla/districtwars/profile"
)

// Keys used by KVRepository. Each holds a whole JSON document.
const (
	PlayersKey  = "players"
	LedgerKey   = "district_scores"
	LastUserKey = "last_user"
)

// KVRepository persists the profile map, the ledger and the last signed-in user
// as three JSON documents in a KV store. Every save rewrites the whole document.
type KVRepository struct {
	kv  KV
	log *zap.Logger

	mu        sync.Mutex
	players   map[string]json.RawMessage
	districts map[string]ledger.Entry
}

// NewKVRepository returns a repository over kv.
func NewKVRepository(kv KV, logger *zap.Logger) *KVRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KVRepository{kv: kv, log: logger}
}

// LoadPlayers reads and normalises every stored profile. Unreadable documents
// and records are logged and skipped.
func (r *KVRepository) LoadPlayers(ctx context.Context) (map[string]*profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadPlayersLocked(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]*profile.Profile, len(r.players))
	for username, raw := range r.players {
		p, err := profile.Parse(username, raw)
		if err != nil {
			r.log.Warn("skipping unreadable profile", zap.String("username", username), zap.Error(err))
			continue
		}
		out[username] = p
	}
	return out, nil
}

func (r *KVRepository) loadPlayersLocked(ctx context.Context) error {
	r.players = map[string]json.RawMessage{}
	b, err := r.kv.Get(ctx, PlayersKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: read players: %w", err)
	}
	if err := json.Unmarshal(b, &r.players); err != nil {
		r.log.Warn("stored players are corrupt, starting empty", zap.Error(err))
		r.players = map[string]json.RawMessage{}
	}
	return nil
}

// SavePlayer stores p and rewrites the player document.
func (r *KVRepository) SavePlayer(ctx context.Context, p *profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.players == nil {
		if err := r.loadPlayersLocked(ctx); err != nil {
			return err
		}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	r.players[p.Username] = b
	doc, err := json.Marshal(r.players)
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, PlayersKey, doc)
}

// LoadLedger reads the ledger, migrating legacy numeric entries.
func (r *KVRepository) LoadLedger(ctx context.Context) (*ledger.Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLedgerLocked(ctx)
}

func (r *KVRepository) loadLedgerLocked(ctx context.Context) (*ledger.Ledger, error) {
	r.districts = map[string]ledger.Entry{}
	b, err := r.kv.Get(ctx, LedgerKey)
	if errors.Is(err, ErrNotFound) {
		return ledger.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read ledger: %w", err)
	}
	l, err := ledger.Parse(b)
	if err != nil {
		r.log.Warn("stored ledger is corrupt, starting empty", zap.Error(err))
		return ledger.New(), nil
	}
	r.districts = l.Snapshot()
	return l, nil
}

// SaveDistrict stores one ledger entry and rewrites the ledger document.
func (r *KVRepository) SaveDistrict(ctx context.Context, id string, e ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.districts == nil {
		if _, err := r.loadLedgerLocked(ctx); err != nil {
			return err
		}
	}
	r.districts[id] = e
	doc, err := json.Marshal(r.districts)
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, LedgerKey, doc)
}

// LastUser returns the last signed-in username or "".
func (r *KVRepository) LastUser(ctx context.Context) (string, error) {
	b, err := r.kv.Get(ctx, LastUserKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return string(b), err
}

// SaveLastUser remembers username. An empty name forgets it.
func (r *KVRepository) SaveLastUser(ctx context.Context, username string) error {
	if username == "" {
		return r.kv.Delete(ctx, LastUserKey)
	}
	return r.kv.Set(ctx, LastUserKey, []byte(username))
}

// Reset deletes all three documents.
func (r *KVRepository) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.kv.Delete(ctx, PlayersKey, LedgerKey, LastUserKey); err != nil {
		return err
	}
	r.players = map[string]json.RawMessage{}
	r.districts = map[string]ledger.Entry{}
	return nil
}
