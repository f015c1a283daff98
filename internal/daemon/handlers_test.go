package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/quotapace/quotapace/internal/api"
	"github.com/quotapace/quotapace/internal/config"
	"github.com/quotapace/quotapace/internal/cooldown"
	"github.com/quotapace/quotapace/internal/db"
	"github.com/quotapace/quotapace/internal/model"
	"github.com/quotapace/quotapace/internal/schedule"
)

func newTestServer(t *testing.T) (*Server, *db.Store) {
	t.Helper()
	ctx := context.Background()
	tmp := t.TempDir()

	store, err := db.Open(ctx, filepath.Join(tmp, "usage.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.DBPath = filepath.Join(tmp, "usage.db")
	cfg.SocketPath = filepath.Join(tmp, "quotapaced.sock")
	cfg.CooldownPath = filepath.Join(tmp, "cooldown.json")

	cdCfg := cooldown.DefaultConfig()
	tasks := schedule.DefaultTasks()
	cdCfg.Defaults = schedule.DefaultCooldowns(tasks)
	cdStore := cooldown.NewStore(cfg.CooldownPath, cdCfg)
	controller := cooldown.NewController(cdCfg, cdStore)
	registry := schedule.NewRegistry(tasks)

	return NewServer(cfg, store, registry, controller, cdStore), store
}

func getJSON(t *testing.T, srv *Server, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if out != nil && rr.Code == http.StatusOK {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v\n%s", path, err, rr.Body.String())
		}
	}
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	var resp api.HealthEnvelope
	rr := getJSON(t, srv, "/v1/health", &resp)
	if rr.Code != http.StatusOK {
		t.Fatalf("health status: %d", rr.Code)
	}
	if resp.Status != "ok" || resp.SchemaVersion != api.SchemaVersion {
		t.Fatalf("unexpected health payload: %+v", resp)
	}
}

func TestStatusEndpointEmptyStore(t *testing.T) {
	srv, _ := newTestServer(t)
	var resp api.StatusEnvelope
	rr := getJSON(t, srv, "/v1/status", &resp)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	if resp.Current != nil || resp.FiveHour != nil || resp.SevenDay != nil {
		t.Fatalf("empty store must report absence, got %+v", resp)
	}
	if resp.Adjustment.Factor != 1.0 {
		t.Fatalf("default factor expected, got %v", resp.Adjustment.Factor)
	}
	if resp.ActiveKeyID != "" {
		t.Fatalf("no active key expected, got %q", resp.ActiveKeyID)
	}
}

func TestIngestThenStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	now := time.Now().UTC().Truncate(time.Second)
	reset := now.Add(2 * time.Hour)

	// Three climbing samples give the trend enough points to project.
	for i := 0; i < 3; i++ {
		pct := 40.0 + float64(i)*10
		seven := pct / 2
		rec := api.IngestSnapshot{
			TS: now.Add(time.Duration(i-2) * time.Hour).Unix(),
			Keys: map[string]api.IngestKeyReading{
				"k1": {FiveHourPct: &pct, FiveHourReset: &reset, SevenDayPct: &seven},
			},
		}
		body, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("ingest %d: %d %s", i, rr.Code, rr.Body.String())
		}
		var resp api.IngestResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode ingest response: %v", err)
		}
		if !resp.Appended || resp.KeysIngested != 1 {
			t.Fatalf("ingest %d: %+v", i, resp)
		}
	}

	var status api.StatusEnvelope
	rr := getJSON(t, srv, "/v1/status", &status)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	if status.Current == nil || status.Current.FiveHourPct != 60 {
		t.Fatalf("current aggregate: %+v", status.Current)
	}
	if status.FiveHour == nil {
		t.Fatalf("expected five-hour projection")
	}
	if status.ActiveKeyID != "k1" {
		t.Fatalf("first observed key should be active, got %q", status.ActiveKeyID)
	}
}

func TestIngestRejectsBadPayload(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader([]byte("{broken")))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var resp api.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Error.Code != "invalid_payload" {
		t.Fatalf("error code: %q", resp.Error.Code)
	}
}

func TestIngestRequiresPost(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := getJSON(t, srv, "/v1/ingest", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestUsageLookbackClamping(t *testing.T) {
	srv, _ := newTestServer(t)
	cases := []struct {
		query string
		want  int
	}{
		{"", config.DefaultLookbackHours},
		{"?hours=12", 12},
		{"?hours=-5", config.MinLookbackHours},
		{"?hours=9999", config.MaxLookbackHours},
		{"?hours=abc", config.DefaultLookbackHours},
	}
	for _, tc := range cases {
		var resp api.UsageEnvelope
		rr := getJSON(t, srv, "/v1/usage"+tc.query, &resp)
		if rr.Code != http.StatusOK {
			t.Fatalf("usage %q: %d", tc.query, rr.Code)
		}
		if resp.LookbackHours != tc.want {
			t.Fatalf("lookback for %q: got %d want %d", tc.query, resp.LookbackHours, tc.want)
		}
	}
}

func TestScheduleEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	if err := store.MarkTaskRun(ctx, "doc-sync", now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("mark run: %v", err)
	}

	var resp api.ScheduleEnvelope
	rr := getJSON(t, srv, "/v1/schedule", &resp)
	if rr.Code != http.StatusOK {
		t.Fatalf("schedule: %d", rr.Code)
	}
	if resp.Factor != 1.0 {
		t.Fatalf("factor before first cycle: %v", resp.Factor)
	}
	if len(resp.Entries) != len(schedule.DefaultTasks()) {
		t.Fatalf("entries: %d", len(resp.Entries))
	}
	for _, e := range resp.Entries {
		if e.Name != "doc-sync" {
			continue
		}
		if e.LastRun == nil || e.NextRun == nil || e.SecondsUntilNext == nil {
			t.Fatalf("doc-sync entry incomplete: %+v", e)
		}
		if *e.SecondsUntilNext == 0 {
			t.Fatalf("doc-sync ran 10 minutes ago, must not be due yet")
		}
		return
	}
	t.Fatalf("doc-sync entry missing")
}

func TestKeysEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := store.TouchKeyUsage(ctx, "k1", model.KeyReading{FiveHourPct: 33}, now); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := store.TouchKeyUsage(ctx, "k2", model.KeyReading{FiveHourPct: 90}, now); err != nil {
		t.Fatalf("touch: %v", err)
	}

	var resp api.KeysEnvelope
	rr := getJSON(t, srv, "/v1/keys", &resp)
	if rr.Code != http.StatusOK {
		t.Fatalf("keys: %d", rr.Code)
	}
	if resp.ActiveKeyID != "k1" {
		t.Fatalf("active key: %q", resp.ActiveKeyID)
	}
	if len(resp.Keys) != 2 {
		t.Fatalf("keys: %d", len(resp.Keys))
	}
	k1 := resp.Keys["k1"]
	if k1.Status != string(model.KeyActive) {
		t.Fatalf("k1 status: %q", k1.Status)
	}
	if k1.LastUsage == nil || k1.LastUsage.FiveHour != 33 {
		t.Fatalf("k1 usage: %+v", k1.LastUsage)
	}
}

func TestGetOnlyEndpointsRejectPost(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/v1/status", "/v1/usage", "/v1/trend", "/v1/schedule", "/v1/keys"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", path, rr.Code)
		}
	}
}

func TestTrendEndpointReportsPointCount(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 4; i++ {
		snap := model.Snapshot{
			Timestamp: now.Add(time.Duration(i-4) * time.Hour),
			Keys:      map[string]model.KeyReading{"k1": {FiveHourPct: float64(10 * i)}},
		}
		if _, err := store.AppendSnapshot(ctx, snap); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	var resp api.TrendEnvelope
	rr := getJSON(t, srv, "/v1/trend", &resp)
	if rr.Code != http.StatusOK {
		t.Fatalf("trend: %d", rr.Code)
	}
	if resp.Points != 4 {
		t.Fatalf("points: %d", resp.Points)
	}
	if resp.TrendPerHour == nil {
		t.Fatalf("expected a fitted trend")
	}
	if got := fmt.Sprintf("%.1f", *resp.TrendPerHour); got != "10.0" {
		t.Fatalf("trend per hour: %s", got)
	}
}
