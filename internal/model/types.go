package model

import "time"

// Metric identifies one of the rolling quota windows tracked per key.
type Metric string

const (
	MetricFiveHour Metric = "five_hour"
	MetricSevenDay Metric = "seven_day"
)

// KeyStatus is the normalized credential key state persisted in the store.
type KeyStatus string

const (
	KeyActive    KeyStatus = "active"
	KeyExhausted KeyStatus = "exhausted"
	KeyInvalid   KeyStatus = "invalid"
	KeyExpired   KeyStatus = "expired"
)

// KeyStatusPrecedence resolves competing replacement candidates during
// rotation. Lower wins. Invalid and expired keys are never eligible.
var KeyStatusPrecedence = map[KeyStatus]int{
	KeyActive:    1,
	KeyExhausted: 2,
	KeyInvalid:   3,
	KeyExpired:   4,
}

// KeyReading is one key's utilization sample at a snapshot instant.
// Reset times are nil when the upstream did not report one.
type KeyReading struct {
	FiveHourPct   float64
	FiveHourReset *time.Time
	SevenDayPct   float64
	SevenDayReset *time.Time
}

// Snapshot is one timestamped sample of all observed keys. Immutable once
// appended to the store.
type Snapshot struct {
	Timestamp time.Time
	Keys      map[string]KeyReading
}

// AggregateSnapshot is the pool-wide reduction of a Snapshot: arithmetic mean
// across keys per metric. Derived, never stored.
type AggregateSnapshot struct {
	Timestamp     time.Time
	FiveHourPct   float64
	SevenDayPct   float64
	FiveHourReset *time.Time
	SevenDayReset *time.Time
}

// TrendEstimate is a least-squares line over recent aggregates.
// Slope is in pct per hour; Intercept in pct at the first sample.
type TrendEstimate struct {
	Slope     float64
	Intercept float64
}

// Projection is the trend line evaluated at a metric's reset time, clamped to
// [0,100]. A projection only exists when the reset time is strictly in the
// future and a trend could be fitted; absence is expressed as *Projection nil.
type Projection struct {
	Metric    Metric
	Value     float64
	ResetTime time.Time
}

// KeyRecord tracks one credential key across its lifetime. Created when the
// key is first observed in a snapshot; never deleted automatically.
type KeyRecord struct {
	ID               string
	Status           KeyStatus
	SubscriptionType string
	LastUsage        *KeyReading
	Active           bool
	FirstSeenAt      time.Time
	UpdatedAt        time.Time
}

// EventKeySwitched is the only rotation event type written today.
const EventKeySwitched = "key_switched"

// RotationEvent is an append-only log entry, written exactly once per
// active-key change.
type RotationEvent struct {
	EventID   string
	Timestamp time.Time
	Event     string
	FromKeyID string
	ToKeyID   string
}

// CooldownAdjustment is the single pool-wide control signal. Projected value
// and constraining metric are nil until the first cycle with a usable
// forecast; Factor defaults to 1.
type CooldownAdjustment struct {
	Factor             float64
	TargetPct          float64
	ProjectedAtReset   *float64
	ConstrainingMetric *Metric
	LastUpdated        *time.Time
}

// RotationState is the full key-rotation record: every known key, the single
// active key, and the recent rotation log.
type RotationState struct {
	ActiveKeyID string
	Keys        []KeyRecord
	RotationLog []RotationEvent
}

// TriggerKind classifies how a task is dispatched.
type TriggerKind string

const (
	TriggerContinuous TriggerKind = "continuous"
	TriggerCommit     TriggerKind = "commit"
	TriggerPrompt     TriggerKind = "prompt"
	TriggerFileChange TriggerKind = "file_change"
)

// TaskDefinition is a static description of one automated task. An empty
// CooldownKey marks an event-triggered task that is never interval-scheduled.
type TaskDefinition struct {
	Name           string
	Trigger        TriggerKind
	CooldownKey    string
	DefaultMinutes int
}

// Interval reports whether the task is interval-scheduled.
func (t TaskDefinition) Interval() bool {
	return t.CooldownKey != ""
}

// TaskRunState is the runner-owned last execution timestamp. Read-only here.
type TaskRunState struct {
	TaskName string
	LastRun  *time.Time
}

// ScheduleEntry is the derived per-task schedule output. NextRun and
// SecondsUntilNext are nil for event-triggered tasks.
type ScheduleEntry struct {
	TaskName         string
	Trigger          TriggerKind
	DefaultMinutes   int
	EffectiveMinutes int
	LastRun          *time.Time
	NextRun          *time.Time
	SecondsUntilNext *int64
}

// ClampPct forces a percentage into [0,100]. Upstream telemetry is untrusted;
// out-of-range values are corrected at the boundary rather than propagated.
func ClampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
