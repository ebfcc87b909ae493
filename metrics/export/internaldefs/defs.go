package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter reporting audit events lost to backpressure.
const (
	AuditDroppedName = "gosession_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricSessionCreated, Name: "gosession_session_created_total", Help: "Sessions created in memory."},
	{ID: goSession.MetricSessionLoaded, Name: "gosession_session_loaded_total", Help: "Lookups by id that found a live session."},
	{ID: goSession.MetricSessionNotFound, Name: "gosession_session_not_found_total", Help: "Lookups by id for missing or expired sessions."},
	{ID: goSession.MetricSessionLoadFailure, Name: "gosession_session_load_failure_total", Help: "Lookups by id that failed with a backend or decode error."},
	{ID: goSession.MetricSessionSaved, Name: "gosession_session_saved_total", Help: "Successful session saves."},
	{ID: goSession.MetricSessionSaveFailure, Name: "gosession_session_save_failure_total", Help: "Failed session saves."},
	{ID: goSession.MetricSessionIDRotated, Name: "gosession_session_id_rotated_total", Help: "Saves that renamed a session id."},
	{ID: goSession.MetricSessionDeleted, Name: "gosession_session_deleted_total", Help: "Deleted sessions."},
	{ID: goSession.MetricLogin, Name: "gosession_login_total", Help: "Sessions bound to a principal."},
	{ID: goSession.MetricLogoutAll, Name: "gosession_logout_all_total", Help: "Logout-all operations."},
	{ID: goSession.MetricPrincipalLookup, Name: "gosession_principal_lookup_total", Help: "Principal index lookups."},
	{ID: goSession.MetricCleanupRun, Name: "gosession_cleanup_run_total", Help: "Expiration sweep passes."},
	{ID: goSession.MetricCleanupCandidates, Name: "gosession_cleanup_candidates_total", Help: "Expiration markers examined by sweeps."},
	{ID: goSession.MetricCleanupExpired, Name: "gosession_cleanup_expired_total", Help: "Expired sessions deleted by sweeps."},
	{ID: goSession.MetricCleanupStale, Name: "gosession_cleanup_stale_total", Help: "Stale expiration markers dropped by sweeps."},
	{ID: goSession.MetricCleanupFailure, Name: "gosession_cleanup_failure_total", Help: "Expiration sweep passes that failed."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricSaveLatency, Name: "gosession_save_latency_seconds", Help: "Session save latency histogram."},
	{ID: goSession.MetricFindLatency, Name: "gosession_find_latency_seconds", Help: "Session lookup latency histogram."},
}

// HistogramBounds are the bucket upper bounds as rendered in text output.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramUpperBounds are the finite bucket upper bounds in seconds. The
// last engine bucket is the implicit +Inf bucket.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix turns each bound into an instrument name suffix.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw engine buckets to eight entries.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
