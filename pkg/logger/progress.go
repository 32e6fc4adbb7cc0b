package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressConfig configures a ProgressTracker. LogInterval defaults to 5s.
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// ProgressTracker counts processed items and emits a progress entry at most
// once per interval. It is safe for concurrent use.
type ProgressTracker struct {
	cfg     ProgressConfig
	log     Logger
	started time.Time

	mu       sync.Mutex
	done     int64
	lastEmit time.Time
}

func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval <= 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	p := &ProgressTracker{
		cfg:      config,
		log:      config.Logger.WithComponent("progress").WithField("operation", config.Operation),
		started:  now,
		lastEmit: now,
	}
	p.log.WithField("total", config.Total).Info("Starting operation")
	return p
}

// Increment records one processed item.
func (p *ProgressTracker) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if now := time.Now(); now.Sub(p.lastEmit) >= p.cfg.LogInterval {
		p.lastEmit = now
		p.log.WithFields(p.snapshot(now).fields()).Info("Progress update")
	}
}

// Complete logs the final counts.
func (p *ProgressTracker) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.log.WithFields(p.snapshot(time.Now()).fields()).Info("Operation completed")
}

func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.snapshot(time.Now())
}

func (p *ProgressTracker) snapshot(now time.Time) ProgressStats {
	s := ProgressStats{
		Operation: p.cfg.Operation,
		Total:     p.cfg.Total,
		Current:   p.done,
		Duration:  now.Sub(p.started),
	}
	if s.Total > 0 {
		s.Percentage = float64(s.Current) * 100 / float64(s.Total)
	}
	return s
}

// ProgressStats is a point-in-time view of a tracker
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
}

func (ps ProgressStats) fields() Fields {
	f := Fields{
		"processed": ps.Current,
		"duration":  ps.Duration.String(),
	}
	if secs := ps.Duration.Seconds(); secs > 0 {
		f["rate"] = fmt.Sprintf("%.2f/sec", float64(ps.Current)/secs)
	}
	if ps.Total > 0 {
		f["total"] = ps.Total
		f["percentage"] = fmt.Sprintf("%.1f%%", ps.Percentage)
	}
	return f
}

func (ps ProgressStats) String() string {
	if ps.Total == 0 {
		return fmt.Sprintf("%s: %d processed in %v", ps.Operation, ps.Current, ps.Duration)
	}
	return fmt.Sprintf("%s: %d/%d (%.1f%%) in %v", ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Duration)
}

// OperationLogger logs the steps and outcome of one multi-step operation,
// stamping the elapsed time on the final entry.
type OperationLogger struct {
	log     Logger
	fields  Fields
	started time.Time
}

func NewOperationLogger(operation string, l Logger) *OperationLogger {
	if l == nil {
		l = GetGlobalLogger()
	}
	ol := &OperationLogger{
		log:     l,
		fields:  Fields{"operation": operation},
		started: time.Now(),
	}
	ol.entry().Debug("Starting operation")
	return ol
}

func (ol *OperationLogger) entry() Logger {
	return ol.log.WithFields(ol.fields)
}

func (ol *OperationLogger) finish(status string) Logger {
	return ol.entry().WithFields(Fields{
		"duration": time.Since(ol.started).String(),
		"status":   status,
	})
}

// WithField adds key to every later entry of the operation.
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

func (ol *OperationLogger) Step(step string) {
	ol.entry().WithField("step", step).Debug("Operation step")
}

func (ol *OperationLogger) Success(message string) {
	ol.finish("success").Info(message)
}

func (ol *OperationLogger) Error(err error, message string) {
	ol.finish("error").WithError(err).Error(message)
}

// TimedOperation runs fn inside an OperationLogger and returns its error.
func TimedOperation(operation string, l Logger, fn func() error) error {
	ol := NewOperationLogger(operation, l)
	if err := fn(); err != nil {
		ol.Error(err, "Operation failed")
		return err
	}
	ol.Success("Operation completed")
	return nil
}
