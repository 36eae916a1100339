package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cppla/districtwars/game"
	"github.com/cppla/districtwars/geo"
	"github.com/cppla/districtwars/storage"
	"github.com/cppla/districtwars/syncer"
)

// sessionKey stores the remote bearer token next to the game documents.
const sessionKey = "session_token"

// options are the global flags, seeded from the environment.
type options struct {
	DataDir     string
	RedisAddr   string
	RedisPrefix string
	Districts   string
	APIBase     string
	User        string
	DevUsers    []string
	Verbose     bool
}

func defaultOptions() options {
	return options{
		DataDir:     envOr("EXPLORER_DATA_DIR", "data/explorer"),
		RedisAddr:   os.Getenv("EXPLORER_REDIS_ADDR"),
		RedisPrefix: envOr("EXPLORER_REDIS_PREFIX", "districtwars:"),
		Districts:   os.Getenv("DISTRICTS_SOURCE"),
		APIBase:     os.Getenv("DISTRICTWARS_API"),
		User:        os.Getenv("EXPLORER_USER"),
		DevUsers:    splitList(os.Getenv("DEV_USERNAMES")),
	}
}

// app is the explicit context every command runs against.
type app struct {
	opts   options
	log    *zap.Logger
	out    io.Writer
	kv     storage.KV
	rdb    *redis.Client
	geo    *geo.Resolver
	engine *game.Engine
	sync   *syncer.Reconciler
}

func openApp(ctx context.Context, opts options, out io.Writer) (*app, error) {
	a := &app{opts: opts, out: out, log: newLogger(opts.Verbose)}

	if opts.RedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:         opts.RedisAddr,
			DialTimeout:  3 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
		a.kv = storage.NewRedisKV(a.rdb, opts.RedisPrefix)
	} else {
		kv, err := storage.NewFileKV(opts.DataDir)
		if err != nil {
			return nil, err
		}
		a.kv = kv
	}

	var locator game.Locator
	if opts.Districts != "" {
		a.geo = geo.NewResolver(opts.Districts, a.log.Named("geo"))
		locator = a.geo
	}

	var sync game.Syncer
	if opts.APIBase != "" {
		a.sync = syncer.NewReconciler(syncer.NewClient(opts.APIBase), a.log.Named("sync"))
		a.sync.OnDemote(a.forgetSession)
		sync = a.sync
	}

	a.engine = game.New(game.Options{
		Repository: storage.NewKVRepository(a.kv, a.log.Named("storage")),
		Locator:    locator,
		Syncer:     sync,
		Logger:     a.log.Named("engine"),
		DevUsers:   opts.DevUsers,
	})
	if err := a.engine.Load(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	if a.sync != nil {
		a.restoreSession(ctx)
	}
	return a, nil
}

// restoreSession revives the stored token. Any failure leaves the app offline.
func (a *app) restoreSession(ctx context.Context) {
	token, err := a.kv.Get(ctx, sessionKey)
	if err != nil || len(token) == 0 {
		return
	}
	a.sync.SetToken(string(token))
	s, doc, err := a.sync.RestoreSession(ctx)
	if err != nil || !s.Authenticated {
		a.log.Debug("remote session not restored", zap.Error(err))
		return
	}
	if err := a.adopt(ctx, s, doc); err != nil {
		a.log.Warn("adopting remote player failed", zap.Error(err))
	}
}

// forgetSession drops the stored token and unlinks the profile so later
// mutations stay local.
func (a *app) forgetSession(s syncer.Session) {
	ctx := context.Background()
	if err := a.kv.Delete(ctx, sessionKey); err != nil {
		a.log.Warn("deleting stored session failed", zap.Error(err))
	}
	if s.Username != "" && a.engine != nil {
		if err := a.engine.LinkBackend(ctx, s.Username, 0); err != nil {
			a.log.Warn("unlinking profile failed", zap.Error(err))
		}
	}
}

// adopt links the local profile to the remote account and merges the server copy.
func (a *app) adopt(ctx context.Context, s syncer.Session, doc []byte) error {
	if s.Username == "" {
		return nil
	}
	if _, err := a.engine.SignIn(ctx, s.Username); err != nil {
		return err
	}
	if err := a.engine.LinkBackend(ctx, s.Username, s.BackendID); err != nil {
		return err
	}
	if len(doc) == 0 {
		return nil
	}
	return a.engine.ApplyServerPlayer(ctx, s.Username, doc)
}

// user picks the acting username: the flag, else the last signed-in user.
func (a *app) user(ctx context.Context) (string, error) {
	if a.opts.User != "" {
		return a.opts.User, nil
	}
	last, err := a.engine.LastUser(ctx)
	if err != nil {
		return "", err
	}
	if last == "" {
		return "", errors.New("no player signed in; run `explorer signin <username>` first")
	}
	return last, nil
}

func (a *app) close(ctx context.Context) {
	if a.sync != nil {
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := a.sync.Close(ctx); err != nil {
			a.log.Warn("pending sync updates dropped", zap.Error(err))
		}
		cancel()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	_ = a.log.Sync()
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}

func newLogger(verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	enc := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
