package api

import "time"

const SchemaVersion = "v1"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

// IngestKeyReading mirrors the external collector's per-key payload. Fields
// are pointers to distinguish absent from zero; entries missing either
// percentage are skipped rather than treated as zero usage.
type IngestKeyReading struct {
	FiveHourPct   *float64   `json:"5h"`
	FiveHourReset *time.Time `json:"5h_reset"`
	SevenDayPct   *float64   `json:"7d"`
	SevenDayReset *time.Time `json:"7d_reset"`
}

// IngestSnapshot is the collector's snapshot record: epoch seconds plus
// key-scoped readings.
type IngestSnapshot struct {
	TS   int64                       `json:"ts"`
	Keys map[string]IngestKeyReading `json:"keys"`
}

type IngestResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Appended      bool      `json:"appended"`
	KeysIngested  int       `json:"keys_ingested"`
}

type AggregatePoint struct {
	Timestamp     time.Time  `json:"timestamp"`
	FiveHourPct   float64    `json:"five_hour_pct"`
	SevenDayPct   float64    `json:"seven_day_pct"`
	FiveHourReset *time.Time `json:"five_hour_reset,omitempty"`
	SevenDayReset *time.Time `json:"seven_day_reset,omitempty"`
}

type UsageEnvelope struct {
	SchemaVersion string           `json:"schema_version"`
	GeneratedAt   time.Time        `json:"generated_at"`
	LookbackHours int              `json:"lookback_hours"`
	Points        []AggregatePoint `json:"points"`
}

type ProjectionResponse struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	ResetTime time.Time `json:"reset_time"`
}

type TrendEnvelope struct {
	SchemaVersion string              `json:"schema_version"`
	GeneratedAt   time.Time           `json:"generated_at"`
	Points        int                 `json:"points"`
	TrendPerHour  *float64            `json:"trend_per_hour"`
	TrendPerDay   *float64            `json:"trend_per_day"`
	FiveHour      *ProjectionResponse `json:"five_hour"`
	SevenDay      *ProjectionResponse `json:"seven_day"`
}

type AdjustmentResponse struct {
	Factor             float64    `json:"factor"`
	TargetPct          float64    `json:"target_pct"`
	ProjectedAtReset   *float64   `json:"projected_at_reset"`
	ConstrainingMetric *string    `json:"constraining_metric"`
	LastUpdated        *time.Time `json:"last_updated"`
}

type StatusEnvelope struct {
	SchemaVersion string              `json:"schema_version"`
	GeneratedAt   time.Time           `json:"generated_at"`
	Current       *AggregatePoint     `json:"current"`
	TrendPerHour  *float64            `json:"trend_per_hour"`
	TrendPerDay   *float64            `json:"trend_per_day"`
	FiveHour      *ProjectionResponse `json:"five_hour"`
	SevenDay      *ProjectionResponse `json:"seven_day"`
	Adjustment    AdjustmentResponse  `json:"adjustment"`
	ActiveKeyID   string              `json:"active_key_id,omitempty"`
}

type ScheduleEntryResponse struct {
	Name             string     `json:"name"`
	Trigger          string     `json:"trigger"`
	DefaultMinutes   int        `json:"default_interval_minutes"`
	EffectiveMinutes int        `json:"effective_interval_minutes"`
	LastRun          *time.Time `json:"last_run"`
	NextRun          *time.Time `json:"next_run"`
	SecondsUntilNext *int64     `json:"seconds_until_next"`
}

type ScheduleEnvelope struct {
	SchemaVersion string                  `json:"schema_version"`
	GeneratedAt   time.Time               `json:"generated_at"`
	Factor        float64                 `json:"factor"`
	Entries       []ScheduleEntryResponse `json:"entries"`
}

type KeyUsageResponse struct {
	FiveHour float64 `json:"five_hour"`
	SevenDay float64 `json:"seven_day"`
}

type KeyResponse struct {
	Status           string            `json:"status"`
	SubscriptionType string            `json:"subscription_type"`
	LastUsage        *KeyUsageResponse `json:"last_usage"`
}

type RotationLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	FromKeyID string    `json:"from_key_id,omitempty"`
	ToKeyID   string    `json:"to_key_id,omitempty"`
}

// KeysEnvelope is the key rotation state record.
type KeysEnvelope struct {
	SchemaVersion string                 `json:"schema_version"`
	GeneratedAt   time.Time              `json:"generated_at"`
	Version       int                    `json:"version"`
	ActiveKeyID   string                 `json:"active_key_id"`
	Keys          map[string]KeyResponse `json:"keys"`
	RotationLog   []RotationLogEntry     `json:"rotation_log"`
	Rotations24h  int                    `json:"rotations_24h"`
}

type HealthEnvelope struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
	Version       string    `json:"version"`
}
