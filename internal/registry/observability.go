package registry

import (
	"context"
	"time"

	"gridreg/pkg/domain"
)

// Logger is the minimal structured logging interface the service emits
// through. *slog.Logger satisfies it. The default is a noop.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the service's notion of time. Registration records, audit
// entries, and durations are all stamped through it so tests can pin time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// MetricsRecorder observes per-operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer opens spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a span opened by a Tracer.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// AuditStatus classifies the outcome captured by an audit entry.
type AuditStatus string

// Audit entry outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one completed mutating operation. Entity and Action
// are resolved from the operation name; EntityID names the primary entity the
// operation acted on.
type AuditEntry struct {
	Operation string            `json:"operation"`
	Entity    domain.EntityKind `json:"entity,omitempty"`
	Action    domain.Action     `json:"action,omitempty"`
	EntityID  string            `json:"entity_id,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	Status    AuditStatus       `json:"status"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
}

// AuditRecorder receives audit entries for completed operations. Entries are
// emitted on success and on failure; recorders must not block.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// InvalidationHook receives the id of a project whose registered dataset
// submissions were invalidated by a cascading update. External caches of
// derived associations keyed by project id must drop their entries.
type InvalidationHook func(projectID string)

type serviceOptions struct {
	logger     Logger
	clock      Clock
	metrics    MetricsRecorder
	tracer     Tracer
	audit      AuditRecorder
	invalidate InvalidationHook
	cacheTTL   time.Duration
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:   noopLogger{},
		clock:    ClockFunc(func() time.Time { return time.Now().UTC() }),
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		audit:    noopAuditRecorder{},
		cacheTTL: defaultCacheTTL,
	}
}

// ServiceOption customizes service construction.
type ServiceOption func(*serviceOptions)

// WithLogger routes service logs to the supplied logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the service clock.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetricsRecorder routes operation metrics to the supplied recorder.
func WithMetricsRecorder(metrics MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTracer opens a span for every service operation on the supplied tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder routes audit entries to the supplied recorder.
func WithAuditRecorder(audit AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if audit != nil {
			o.audit = audit
		}
	}
}

// WithInvalidationHook registers a callback fired when a cascading update
// invalidates a project's dataset submissions.
func WithInvalidationHook(hook InvalidationHook) ServiceOption {
	return func(o *serviceOptions) {
		o.invalidate = hook
	}
}

// WithCacheTTL overrides how long loaded headers and configs are cached.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}
