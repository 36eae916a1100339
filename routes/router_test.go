package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/cppla/districtwars/config"
	"github.com/cppla/districtwars/geo"
	"github.com/cppla/districtwars/models"
	"github.com/cppla/districtwars/utils"
)

const testDistricts = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"kod_mc": "500", "nazev_mc": "Praha 5"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
    {"type": "Feature", "properties": {"kod_mc": "712", "nazev_mc": "Praha 12"},
     "geometry": {"type": "Polygon", "coordinates": [[[2,0],[3,0],[3,1],[2,1],[2,0]]]}}
  ]
}`

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type playerView struct {
	ID                    uint    `json:"id"`
	Username              string  `json:"username"`
	DisplayName           string  `json:"display_name"`
	Score                 int     `json:"score"`
	AttackPoints          int     `json:"attack_points"`
	DefendPoints          int     `json:"defend_points"`
	Checkins              int     `json:"checkins"`
	HomeDistrictCode      *string `json:"home_district_code"`
	HomeDistrict          string  `json:"home_district"`
	CooldownUntil         *int64  `json:"cooldown_until"`
	NextCheckinMultiplier int     `json:"next_checkin_multiplier"`
	CheckinHistory        []struct {
		DistrictID string `json:"districtId"`
		Type       string `json:"type"`
	} `json:"checkin_history"`
}

type outcome struct {
	Result struct {
		Accepted   bool   `json:"accepted"`
		Status     string `json:"status"`
		Kind       string `json:"kind"`
		DistrictID string `json:"districtId"`
		Points     int    `json:"points"`
		Multiplier int    `json:"multiplier"`
		Melee      bool   `json:"melee"`
		Ranged     bool   `json:"ranged"`
	} `json:"result"`
	Player playerView `json:"player"`
}

type server struct {
	t      *testing.T
	router *gin.Engine
	db     *gorm.DB
	redis  *miniredis.Miniredis
}

func newServer(t *testing.T) *server {
	t.Helper()
	config.Set(config.AppConfig{
		JWTSecret:          "test-secret",
		RateLimitPerMinute: 100000,
		GinMode:            "test",
		DBDriver:           "sqlite",
		DatabaseURI:        filepath.Join(t.TempDir(), "districtwars.db"),
		LogLevel:           "silent",
		DevUsernames:       []string{"dev_user"},
	})

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	utils.UseRedis(rc)

	db, err := config.OpenDatabase(config.Get(), models.All()...)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	resolver, err := geo.NewResolverFromData([]byte(testDistricts))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	return &server{t: t, router: SetupRouter(db, resolver), db: db, redis: mr}
}

func (s *server) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			s.t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, env
}

func (s *server) login(username, password string) (string, playerView) {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/session/login/", "", map[string]string{"username": username, "password": password})
	if w.Code != http.StatusOK {
		s.t.Fatalf("login %s: status %d body %s", username, w.Code, w.Body.String())
	}
	var data struct {
		Token  string     `json:"token"`
		Player playerView `json:"player"`
	}
	decode(s.t, env.Data, &data)
	if data.Token == "" {
		s.t.Fatalf("login %s: empty token", username)
	}
	return data.Token, data.Player
}

func (s *server) command(path, token string, body interface{}, wantStatus int) outcome {
	s.t.Helper()
	w, env := s.do(http.MethodPost, path, token, body)
	if w.Code != wantStatus {
		s.t.Fatalf("POST %s: status %d, want %d: %s", path, w.Code, wantStatus, w.Body.String())
	}
	var out outcome
	decode(s.t, env.Data, &out)
	return out
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func TestHealthAndNotFound(t *testing.T) {
	s := newServer(t)
	w, env := s.do(http.MethodGet, "/api/health/", "", nil)
	if w.Code != http.StatusOK || env.Code != 0 {
		t.Fatalf("health: %d %+v", w.Code, env)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
	w, env = s.do(http.MethodGet, "/api/nope/", "", nil)
	if w.Code != http.StatusNotFound || env.Code != 40400 {
		t.Fatalf("unknown route: %d %+v", w.Code, env)
	}
}

func TestLoginCreatesAccountOnFirstUse(t *testing.T) {
	s := newServer(t)

	token, player := s.login("alice", "secret1")
	if player.Username != "alice" || player.DisplayName != "alice" || player.NextCheckinMultiplier != 1 {
		t.Fatalf("unexpected player %+v", player)
	}

	again, same := s.login("alice", "secret1")
	if same.ID != player.ID || again == "" {
		t.Fatalf("second login should reuse the account")
	}

	cases := []struct {
		name   string
		body   map[string]string
		status int
		code   int
	}{
		{"wrong password", map[string]string{"username": "alice", "password": "wrong-one"}, http.StatusUnauthorized, 40106},
		{"weak password", map[string]string{"username": "bob", "password": "123"}, http.StatusBadRequest, 40006},
		{"bad username", map[string]string{"username": "a!", "password": "secret1"}, http.StatusBadRequest, 40005},
		{"missing fields", map[string]string{"username": "carol"}, http.StatusBadRequest, 40003},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := s.do(http.MethodPost, "/api/session/login/", "", tc.body)
			if w.Code != tc.status || env.Code != tc.code {
				t.Fatalf("got %d/%d, want %d/%d", w.Code, env.Code, tc.status, tc.code)
			}
		})
	}

	var session struct {
		Authenticated bool        `json:"authenticated"`
		Player        *playerView `json:"player"`
	}
	_, env := s.do(http.MethodGet, "/api/session/", token, nil)
	decode(t, env.Data, &session)
	if !session.Authenticated || session.Player == nil || session.Player.ID != player.ID {
		t.Fatalf("session with token: %+v", session)
	}
	_, env = s.do(http.MethodGet, "/api/session/", "", nil)
	session.Player = nil
	decode(t, env.Data, &session)
	if session.Authenticated || session.Player != nil {
		t.Fatalf("anonymous session: %+v", session)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newServer(t)
	token, player := s.login("alice", "secret1")
	path := fmt.Sprintf("/api/players/%d/", player.ID)

	if w, _ := s.do(http.MethodGet, path, token, nil); w.Code != http.StatusOK {
		t.Fatalf("get player before logout: %d", w.Code)
	}
	if w, _ := s.do(http.MethodPost, "/api/session/logout/", token, nil); w.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", w.Code)
	}
	w, env := s.do(http.MethodGet, path, token, nil)
	if w.Code != http.StatusUnauthorized || env.Code != 40104 {
		t.Fatalf("revoked token: %d %+v", w.Code, env)
	}
	if w, _ := s.do(http.MethodGet, path, "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous player read: %d", w.Code)
	}
}

func TestCheckInMeleeThenCooldown(t *testing.T) {
	s := newServer(t)
	token, _ := s.login("alice", "secret1")

	out := s.command("/api/checkin/", token, map[string]float64{"lng": 0.5, "lat": 0.5}, http.StatusOK)
	if !out.Result.Accepted || !out.Result.Melee || out.Result.Points != 20 || out.Result.DistrictID != "500" {
		t.Fatalf("unexpected result %+v", out.Result)
	}
	if out.Player.Score != 20 || out.Player.AttackPoints != 20 || out.Player.Checkins != 1 || out.Player.CooldownUntil == nil {
		t.Fatalf("unexpected player %+v", out.Player)
	}
	if len(out.Player.CheckinHistory) != 1 || out.Player.CheckinHistory[0].DistrictID != "500" {
		t.Fatalf("history not recorded: %+v", out.Player.CheckinHistory)
	}

	w, env := s.do(http.MethodPost, "/api/checkin/", token, map[string]float64{"lng": 0.5, "lat": 0.5})
	if w.Code != http.StatusConflict || env.Code != 40901 {
		t.Fatalf("second check-in: %d %+v", w.Code, env)
	}
	var rejected outcome
	decode(t, env.Data, &rejected)
	if rejected.Result.Accepted || rejected.Player.Score != 20 {
		t.Fatalf("rejected command changed state: %+v", rejected)
	}
	s.command("/api/charge/", token, nil, http.StatusConflict)

	var district models.DistrictScore
	if err := s.db.First(&district, "district_id = ?", "500").Error; err != nil {
		t.Fatalf("district row: %v", err)
	}
	if district.Adjustment != -20 || district.Attacked != 20 || district.Defended != 0 || district.Name != "Praha 5" {
		t.Fatalf("unexpected district row %+v", district)
	}
	var n int64
	s.db.Model(&models.CheckIn{}).Count(&n)
	if n != 1 {
		t.Fatalf("check-in rows = %d, want 1", n)
	}
}

func TestCheckInWithoutPosition(t *testing.T) {
	s := newServer(t)
	token, _ := s.login("alice", "secret1")
	out := s.command("/api/checkin/", token, nil, http.StatusConflict)
	if out.Result.Accepted || out.Result.Status == "" {
		t.Fatalf("check-in without position accepted: %+v", out.Result)
	}
	if w, _ := s.do(http.MethodPost, "/api/checkin/", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous check-in: %d", w.Code)
	}
}

func TestDevUserDefendsWithCharge(t *testing.T) {
	s := newServer(t)
	token, player := s.login("dev_user", "secret1")
	path := fmt.Sprintf("/api/players/%d/", player.ID)

	w, _ := s.do(http.MethodPatch, path, token, map[string]string{
		"home_district_code": "712",
		"home_district_name": "Praha 12",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("set home: %d %s", w.Code, w.Body.String())
	}

	here := map[string]float64{"lng": 2.5, "lat": 0.5}
	out := s.command("/api/checkin/", token, here, http.StatusOK)
	if out.Result.Kind != "defend" || out.Result.Points != 10 || out.Player.CooldownUntil != nil {
		t.Fatalf("defend: %+v / %+v", out.Result, out.Player)
	}

	out = s.command("/api/charge/", token, nil, http.StatusOK)
	if out.Player.NextCheckinMultiplier != 3 {
		t.Fatalf("charge not armed: %+v", out.Player)
	}

	out = s.command("/api/checkin/", token, here, http.StatusOK)
	if out.Result.Points != 30 || out.Result.Multiplier != 3 || out.Player.NextCheckinMultiplier != 1 {
		t.Fatalf("charged defend: %+v / %+v", out.Result, out.Player)
	}
	if out.Player.Score != 40 || out.Player.DefendPoints != 40 || out.Player.Checkins != 2 {
		t.Fatalf("unexpected totals %+v", out.Player)
	}

	s.command("/api/attack/", token, map[string]string{"target_district_id": "712"}, http.StatusConflict)
	out = s.command("/api/attack/", token, map[string]string{"target_district_id": "500"}, http.StatusOK)
	if !out.Result.Ranged || out.Result.Points != 10 || out.Player.Score != 50 {
		t.Fatalf("ranged attack: %+v / %+v", out.Result, out.Player)
	}

	var home models.DistrictScore
	if err := s.db.First(&home, "district_id = ?", "712").Error; err != nil {
		t.Fatalf("district row: %v", err)
	}
	if home.Adjustment != 40 || home.Defended != 40 {
		t.Fatalf("unexpected home row %+v", home)
	}
}

func TestCheckInFollowsLiveFixOverStoredLocation(t *testing.T) {
	s := newServer(t)
	token, player := s.login("alice", "secret1")
	path := fmt.Sprintf("/api/players/%d/", player.ID)

	w, _ := s.do(http.MethodPatch, path, token, map[string]interface{}{
		"last_known_location": map[string]interface{}{"districtId": "500", "districtName": "Praha 5", "lng": 0.5, "lat": 0.5},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("store location: %d %s", w.Code, w.Body.String())
	}

	out := s.command("/api/checkin/", token, map[string]float64{"lng": 2.5, "lat": 0.5}, http.StatusOK)
	if out.Result.DistrictID != "712" || !out.Result.Melee || out.Result.Points != 20 {
		t.Fatalf("check-in must act where the live fix is: %+v", out.Result)
	}

	var row models.Player
	if err := s.db.First(&row, player.ID).Error; err != nil {
		t.Fatalf("load player: %v", err)
	}
	prof, err := row.ToProfile()
	if err != nil {
		t.Fatalf("ToProfile: %v", err)
	}
	if loc := prof.LastKnownLocation; loc == nil || loc.DistrictID != "712" || loc.Lng == nil || *loc.Lng != 2.5 {
		t.Fatalf("stored location not refreshed: %+v", loc)
	}
	var stale int64
	s.db.Model(&models.DistrictScore{}).Where("district_id = ?", "500").Count(&stale)
	if stale != 0 {
		t.Fatalf("stored district was charged instead of the live one")
	}
}

func TestUnknownDistrictTargetsRejected(t *testing.T) {
	s := newServer(t)
	token, _ := s.login("alice", "secret1")

	out := s.command("/api/attack/", token, map[string]string{"target_district_id": "no-such-district"}, http.StatusConflict)
	if out.Result.Accepted || out.Result.Status != "Select a valid district to attack." {
		t.Fatalf("unknown attack target: %+v", out.Result)
	}
	here := map[string]interface{}{"lng": 0.5, "lat": 0.5, "target_district_id": "no-such-district"}
	if out := s.command("/api/checkin/", token, here, http.StatusConflict); out.Result.Accepted {
		t.Fatalf("unknown check-in target accepted: %+v", out.Result)
	}

	var rows int64
	s.db.Model(&models.DistrictScore{}).Count(&rows)
	if rows != 0 {
		t.Fatalf("rejected targets wrote %d district rows", rows)
	}
}

func TestPatchPlayer(t *testing.T) {
	s := newServer(t)
	token, alice := s.login("alice", "secret1")
	_, bob := s.login("bob_b", "secret2")
	path := fmt.Sprintf("/api/players/%d/", alice.ID)

	if w, env := s.do(http.MethodPatch, fmt.Sprintf("/api/players/%d/", bob.ID), token, map[string]int{"score": 5}); w.Code != http.StatusForbidden || env.Code != 40301 {
		t.Fatalf("patching another player: %d %+v", w.Code, env)
	}

	history := []map[string]interface{}{
		{"timestamp": 1700000000000, "districtId": "500", "districtName": "Praha 5", "type": "attack", "multiplier": 2, "melee": true},
		{"timestamp": 1690000000000, "districtId": 712, "type": "defend"},
		{"timestamp": 1680000000000, "districtId": "9", "type": "bogus"},
	}
	w, env := s.do(http.MethodPatch, path, token, map[string]interface{}{
		"display_name":    "<b>Neo</b>",
		"score":           30,
		"attack_points":   20,
		"defend_points":   10,
		"checkin_history": history,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", w.Code, w.Body.String())
	}
	var view playerView
	decode(t, env.Data, &view)
	if view.DisplayName != "Neo" || view.Score != 30 || view.Checkins != 2 || len(view.CheckinHistory) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.CheckinHistory[1].DistrictID != "712" {
		t.Fatalf("numeric district id not normalised: %+v", view.CheckinHistory)
	}

	bad := []map[string]interface{}{
		{"score": -1},
		{"attack_points": "many"},
		{"skip_cooldown": true},
	}
	for _, body := range bad {
		if w, env := s.do(http.MethodPatch, path, token, body); w.Code != http.StatusBadRequest || env.Code != 40002 {
			t.Fatalf("patch %v: %d %+v", body, w.Code, env)
		}
	}

	w, env = s.do(http.MethodPatch, path, token, map[string]interface{}{"checkin_history": nil, "home_district_code": nil})
	if w.Code != http.StatusOK {
		t.Fatalf("clearing patch: %d", w.Code)
	}
	decode(t, env.Data, &view)
	if view.Checkins != 0 || view.HomeDistrictCode != nil || view.Score != 30 {
		t.Fatalf("clearing patch left %+v", view)
	}

	if w, env := s.do(http.MethodGet, "/api/players/0/", token, nil); w.Code != http.StatusBadRequest || env.Code != 40001 {
		t.Fatalf("invalid id: %d %+v", w.Code, env)
	}
	if w, env := s.do(http.MethodGet, "/api/players/9999/", token, nil); w.Code != http.StatusNotFound || env.Code != 40401 {
		t.Fatalf("missing player: %d %+v", w.Code, env)
	}
}

func TestLeaderboardRanksAndCaches(t *testing.T) {
	s := newServer(t)
	alice, _ := s.login("alice", "secret1")
	dev, _ := s.login("dev_user", "secret1")
	s.login("idle_player", "secret1")

	s.command("/api/checkin/", alice, map[string]float64{"lng": 0.5, "lat": 0.5}, http.StatusOK)
	s.command("/api/checkin/", dev, map[string]float64{"lng": 2.5, "lat": 0.5}, http.StatusOK)
	s.command("/api/charge/", dev, nil, http.StatusOK)
	s.command("/api/checkin/", dev, map[string]float64{"lng": 2.5, "lat": 0.5}, http.StatusOK)

	type board struct {
		Players []struct {
			Username string `json:"username"`
			Score    int    `json:"score"`
		} `json:"players"`
		Districts []struct {
			ID           string `json:"id"`
			Name         string `json:"name"`
			Score        int    `json:"score"`
			Status       string `json:"status"`
			RecentChange int    `json:"recent_change"`
			RecentStatus string `json:"recent_status"`
		} `json:"districts"`
	}

	w, env := s.do(http.MethodGet, "/api/leaderboard/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("leaderboard: %d", w.Code)
	}
	var lb board
	decode(t, env.Data, &lb)
	if len(lb.Players) != 2 || lb.Players[0].Username != "dev_user" || lb.Players[0].Score != 80 || lb.Players[1].Username != "alice" {
		t.Fatalf("unexpected players %+v", lb.Players)
	}
	if len(lb.Districts) != 2 || lb.Districts[0].ID != "500" || lb.Districts[0].Score != 1980 {
		t.Fatalf("unexpected districts %+v", lb.Districts)
	}
	if d := lb.Districts[1]; d.ID != "712" || d.Score != 1920 || d.RecentChange != -80 || d.Status != "contested" {
		t.Fatalf("unexpected district %+v", d)
	}

	if !s.redis.Exists(utils.LeaderboardCachePrefix + "limit=50") {
		t.Fatalf("leaderboard not cached, keys %v", s.redis.Keys())
	}
	_, cached := s.do(http.MethodGet, "/api/leaderboard/", "", nil)
	if string(cached.Data) != string(env.Data) {
		t.Fatalf("cached response differs")
	}

	s.command("/api/attack/", dev, map[string]string{"target_district_id": "500"}, http.StatusOK)
	if s.redis.Exists(utils.LeaderboardCachePrefix + "limit=50") {
		t.Fatalf("accepted command did not invalidate the cache")
	}

	_, env = s.do(http.MethodGet, "/api/leaderboard/?limit=1", "", nil)
	decode(t, env.Data, &lb)
	if len(lb.Players) != 1 || len(lb.Districts) != 1 {
		t.Fatalf("limit ignored: %+v", lb)
	}
	if w, env := s.do(http.MethodGet, "/api/leaderboard/?limit=0", "", nil); w.Code != http.StatusBadRequest || env.Code != 40004 {
		t.Fatalf("bad limit: %d %+v", w.Code, env)
	}
}
