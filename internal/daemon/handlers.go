package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotapace/quotapace/internal/aggregate"
	"github.com/quotapace/quotapace/internal/api"
	"github.com/quotapace/quotapace/internal/config"
	"github.com/quotapace/quotapace/internal/db"
	"github.com/quotapace/quotapace/internal/model"
	"github.com/quotapace/quotapace/internal/trend"
)

const maxIngestBodyBytes = 1 << 20

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.HealthEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		Version:       Version,
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}
	ctx := r.Context()
	now := time.Now().UTC()
	snaps, err := s.store.ReadRecentSnapshots(ctx, trend.MaxFitPoints)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	aggs := aggregate.ReduceSeries(snaps)
	rep := trend.Analyze(aggs, now)
	rec, _ := s.cdStore.Read()

	resp := api.StatusEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   now,
		TrendPerHour:  rep.TrendPerHour,
		TrendPerDay:   rep.TrendPerDay,
		FiveHour:      projectionResponse(rep.FiveHour),
		SevenDay:      projectionResponse(rep.SevenDay),
		Adjustment: api.AdjustmentResponse{
			Factor:             rec.Adjustment.Factor,
			TargetPct:          rec.Adjustment.TargetPct,
			ProjectedAtReset:   rec.Adjustment.ProjectedAtReset,
			ConstrainingMetric: rec.Adjustment.ConstrainingMetric,
			LastUpdated:        rec.Adjustment.LastUpdated,
		},
	}
	if len(aggs) > 0 {
		p := aggregatePoint(aggs[len(aggs)-1])
		resp.Current = &p
	}
	if activeKey, err := s.store.ActiveKeyID(ctx); err == nil {
		resp.ActiveKeyID = activeKey
	} else if !errors.Is(err, db.ErrNotFound) {
		s.writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) usageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}
	hours := lookbackHours(r)
	now := time.Now().UTC()
	snaps, err := s.store.ReadSnapshotsSince(r.Context(), now.Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	aggs := aggregate.ReduceSeries(snaps)
	points := make([]api.AggregatePoint, 0, len(aggs))
	for _, a := range aggs {
		points = append(points, aggregatePoint(a))
	}
	s.writeJSON(w, http.StatusOK, api.UsageEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   now,
		LookbackHours: hours,
		Points:        points,
	})
}

func (s *Server) trendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}
	now := time.Now().UTC()
	snaps, err := s.store.ReadRecentSnapshots(r.Context(), trend.MaxFitPoints)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	aggs := aggregate.ReduceSeries(snaps)
	rep := trend.Analyze(aggs, now)
	s.writeJSON(w, http.StatusOK, api.TrendEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   now,
		Points:        len(aggs),
		TrendPerHour:  rep.TrendPerHour,
		TrendPerDay:   rep.TrendPerDay,
		FiveHour:      projectionResponse(rep.FiveHour),
		SevenDay:      projectionResponse(rep.SevenDay),
	})
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}
	now := time.Now().UTC()
	lastRuns, err := s.store.TaskRunStates(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	rec, _ := s.cdStore.Read()
	entries := s.registry.Entries(now, lastRuns, rec)
	resp := api.ScheduleEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   now,
		Factor:        rec.Adjustment.Factor,
		Entries:       make([]api.ScheduleEntryResponse, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, api.ScheduleEntryResponse{
			Name:             e.TaskName,
			Trigger:          string(e.Trigger),
			DefaultMinutes:   e.DefaultMinutes,
			EffectiveMinutes: e.EffectiveMinutes,
			LastRun:          e.LastRun,
			NextRun:          e.NextRun,
			SecondsUntilNext: e.SecondsUntilNext,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) keysHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}
	ctx := r.Context()
	now := time.Now().UTC()
	state, err := s.rotations.State(ctx, rotationLogLimit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	rotations, err := s.rotations.CountRotations(ctx, now.Add(-24*time.Hour))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	resp := api.KeysEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   now,
		Version:       1,
		ActiveKeyID:   state.ActiveKeyID,
		Keys:          make(map[string]api.KeyResponse, len(state.Keys)),
		RotationLog:   make([]api.RotationLogEntry, 0, len(state.RotationLog)),
		Rotations24h:  rotations,
	}
	for _, k := range state.Keys {
		kr := api.KeyResponse{
			Status:           string(k.Status),
			SubscriptionType: k.SubscriptionType,
		}
		if k.LastUsage != nil {
			kr.LastUsage = &api.KeyUsageResponse{
				FiveHour: k.LastUsage.FiveHourPct,
				SevenDay: k.LastUsage.SevenDayPct,
			}
		}
		resp.Keys[k.ID] = kr
	}
	for _, ev := range state.RotationLog {
		resp.RotationLog = append(resp.RotationLog, api.RotationLogEntry{
			Timestamp: ev.Timestamp,
			Event:     ev.Event,
			FromKeyID: ev.FromKeyID,
			ToKeyID:   ev.ToKeyID,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read_error", err.Error())
		return
	}
	var record api.IngestSnapshot
	if err := json.Unmarshal(raw, &record); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_payload", "unparseable snapshot record")
		return
	}
	snap, ingested := DecodeIngest(record)
	appended, err := IngestSnapshot(r.Context(), s.store, snap)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.IngestResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Appended:      appended,
		KeysIngested:  ingested,
	})
}

func lookbackHours(r *http.Request) int {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return config.DefaultLookbackHours
	}
	hours, err := strconv.Atoi(raw)
	if err != nil {
		logrus.Debugf("ignoring bad hours param %q", raw)
		return config.DefaultLookbackHours
	}
	return config.ClampLookback(hours)
}

func projectionResponse(p *model.Projection) *api.ProjectionResponse {
	if p == nil {
		return nil
	}
	return &api.ProjectionResponse{
		Metric:    string(p.Metric),
		Value:     p.Value,
		ResetTime: p.ResetTime,
	}
}

func aggregatePoint(a model.AggregateSnapshot) api.AggregatePoint {
	return api.AggregatePoint{
		Timestamp:     a.Timestamp,
		FiveHourPct:   a.FiveHourPct,
		SevenDayPct:   a.SevenDayPct,
		FiveHourReset: a.FiveHourReset,
		SevenDayReset: a.SevenDayReset,
	}
}
