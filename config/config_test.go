package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func reset() {
	mu.Lock()
	cfg = AppConfig{}
	loaded = false
	mu.Unlock()
}

func TestLoadFileDefaultsAndEnv(t *testing.T) {
	reset()
	t.Cleanup(reset)

	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
	  "app": {"JWTSecret": "from-file", "RateLimitPerMinute": 30},
	  "database": {"Driver": "sqlite", "SQLitePath": "/tmp/dw.db"},
	  "game": {"DistrictsSource": "districts.geojson", "DevUsernames": ["dev_user"]}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"JWT_SECRET", "DB_DRIVER", "DISTRICTS_SOURCE", "RATE_LIMIT_PER_MINUTE"} {
		t.Setenv(key, "")
	}
	t.Setenv("DISTRICTWARS_CONFIG", path)
	t.Setenv("LEADERBOARD_LIMIT", "25")
	t.Setenv("DEV_USERNAMES", " tester , admin_1 ")

	c := Load()
	if c.JWTSecret != "from-file" || c.RateLimitPerMinute != 30 || c.DBDriver != "sqlite" || c.SQLitePath != "/tmp/dw.db" {
		t.Fatalf("file values not read: %+v", c)
	}
	if c.AppPort != "8080" || c.JWTTTLHours != 72 || c.CooldownSweepSeconds != 60 || c.LeaderboardCacheSeconds != 15 {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.LeaderboardLimit != 25 || c.DistrictsSource != "districts.geojson" {
		t.Fatalf("env override missing: %+v", c)
	}
	if !reflect.DeepEqual(c.DevUsernames, []string{"tester", "admin_1"}) {
		t.Fatalf("dev users = %q", c.DevUsernames)
	}
	if !c.IsDevUser("Tester") || c.IsDevUser("dev_user") {
		t.Fatalf("IsDevUser mismatch")
	}

	t.Setenv("LEADERBOARD_LIMIT", "99")
	if Get().LeaderboardLimit != 25 {
		t.Fatalf("Get should return the cached config")
	}
}

func TestSetAppliesDefaults(t *testing.T) {
	reset()
	t.Cleanup(reset)

	Set(AppConfig{JWTSecret: "s", DBDriver: "sqlite"})
	c := Get()
	if c.RateLimitPerMinute != 60 || c.LeaderboardLimit != 50 || c.GinMode != "release" || c.DBDriver != "sqlite" {
		t.Fatalf("unexpected config %+v", c)
	}
}

func TestOpenDatabaseSQLite(t *testing.T) {
	type row struct {
		ID   uint
		Name string
	}
	dir := filepath.Join(t.TempDir(), "nested")
	db, err := OpenDatabase(AppConfig{DBDriver: "sqlite", SQLitePath: filepath.Join(dir, "x.db"), LogLevel: "silent"}, &row{})
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	if err := db.Create(&row{Name: "a"}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "x.db")); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	if _, err := OpenDatabase(AppConfig{DBDriver: "oracle"}); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}
