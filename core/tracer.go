package core

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// TraceLevel represents different levels of tracing
type TraceLevel int

const (
	TraceLevelOff TraceLevel = iota
	TraceLevelError
	TraceLevelWarn
	TraceLevelInfo
	TraceLevelDebug
)

// String returns the string representation of TraceLevel
func (tl TraceLevel) String() string {
	switch tl {
	case TraceLevelOff:
		return "OFF"
	case TraceLevelError:
		return "ERROR"
	case TraceLevelWarn:
		return "WARN"
	case TraceLevelInfo:
		return "INFO"
	case TraceLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseTraceLevel parses a level name. Unknown names map to TraceLevelOff.
func ParseTraceLevel(s string) TraceLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return TraceLevelError
	case "WARN":
		return TraceLevelWarn
	case "INFO":
		return TraceLevelInfo
	case "DEBUG":
		return TraceLevelDebug
	default:
		return TraceLevelOff
	}
}

// TraceComponent represents different components that can be traced
type TraceComponent string

const (
	TraceComponentPipeline TraceComponent = "PIPELINE"
	TraceComponentArena    TraceComponent = "ARENA"
	TraceComponentSink     TraceComponent = "SINK"
	TraceComponentSource   TraceComponent = "SOURCE"
	TraceComponentCompiler TraceComponent = "COMPILER"
	TraceComponentPlanner  TraceComponent = "PLANNER"
	TraceComponentBatch    TraceComponent = "BATCH"
)

var allComponents = []TraceComponent{
	TraceComponentPipeline, TraceComponentArena, TraceComponentSink,
	TraceComponentSource, TraceComponentCompiler, TraceComponentPlanner,
	TraceComponentBatch,
}

// TraceEntry represents a single trace entry
type TraceEntry struct {
	Timestamp time.Time
	Level     TraceLevel
	Component TraceComponent
	Message   string
	Context   map[string]interface{}
}

// Tracer routes component-scoped, levelled messages to a go-kit logger and
// keeps the most recent entries in memory for inspection.
type Tracer struct {
	logger            log.Logger
	level             TraceLevel
	enabledComponents map[TraceComponent]bool
	mutex             sync.RWMutex
	entries           []TraceEntry
	maxEntries        int
}

var (
	globalTracer *Tracer
	tracerOnce   sync.Once
)

// GetTracer returns the process tracer, configured from the environment on first use.
func GetTracer() *Tracer {
	tracerOnce.Do(func() {
		logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		globalTracer = NewTracer(logger)
		globalTracer.configureFromEnv()
	})
	return globalTracer
}

// NewTracer creates a tracer writing to logger. It starts at TraceLevelOff
// with every component enabled.
func NewTracer(logger log.Logger) *Tracer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	t := &Tracer{
		logger:            logger,
		level:             TraceLevelOff,
		enabledComponents: make(map[TraceComponent]bool),
		maxEntries:        1000,
	}
	for _, comp := range allComponents {
		t.enabledComponents[comp] = true
	}
	return t
}

// configureFromEnv reads BYTEPIPE_TRACE_LEVEL and BYTEPIPE_TRACE_COMPONENTS.
func (t *Tracer) configureFromEnv() {
	if levelStr := os.Getenv("BYTEPIPE_TRACE_LEVEL"); levelStr != "" {
		t.level = ParseTraceLevel(levelStr)
	}

	componentsStr := os.Getenv("BYTEPIPE_TRACE_COMPONENTS")
	if componentsStr == "" || strings.EqualFold(componentsStr, "ALL") {
		return
	}
	for comp := range t.enabledComponents {
		t.enabledComponents[comp] = false
	}
	for _, comp := range strings.Split(componentsStr, ",") {
		t.enabledComponents[TraceComponent(strings.TrimSpace(strings.ToUpper(comp)))] = true
	}
}

// SetLevel sets the trace level
func (t *Tracer) SetLevel(level TraceLevel) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.level = level
}

// EnableComponent enables tracing for a specific component
func (t *Tracer) EnableComponent(component TraceComponent) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.enabledComponents[component] = true
}

// DisableComponent disables tracing for a specific component
func (t *Tracer) DisableComponent(component TraceComponent) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.enabledComponents[component] = false
}

// IsEnabled checks if tracing is enabled for a given level and component
func (t *Tracer) IsEnabled(lvl TraceLevel, component TraceComponent) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.level >= lvl && t.enabledComponents[component]
}

func (t *Tracer) trace(lvl TraceLevel, component TraceComponent, message string, context map[string]interface{}) {
	if !t.IsEnabled(lvl, component) {
		return
	}

	entry := TraceEntry{
		Timestamp: time.Now(),
		Level:     lvl,
		Component: component,
		Message:   message,
		Context:   context,
	}

	t.mutex.Lock()
	t.entries = append(t.entries, entry)
	if len(t.entries) > t.maxEntries {
		t.entries = t.entries[len(t.entries)-t.maxEntries:]
	}
	t.mutex.Unlock()

	kvs := make([]interface{}, 0, 4+2*len(context))
	kvs = append(kvs, "component", string(component), "msg", message)
	for k, v := range context {
		kvs = append(kvs, k, v)
	}

	var logger log.Logger
	switch lvl {
	case TraceLevelError:
		logger = level.Error(t.logger)
	case TraceLevelWarn:
		logger = level.Warn(t.logger)
	case TraceLevelInfo:
		logger = level.Info(t.logger)
	default:
		logger = level.Debug(t.logger)
	}
	_ = logger.Log(kvs...)
}

// Error logs an error-level trace
func (t *Tracer) Error(component TraceComponent, message string, context ...map[string]interface{}) {
	t.trace(TraceLevelError, component, message, firstContext(context))
}

// Warn logs a warning-level trace
func (t *Tracer) Warn(component TraceComponent, message string, context ...map[string]interface{}) {
	t.trace(TraceLevelWarn, component, message, firstContext(context))
}

// Info logs an info-level trace
func (t *Tracer) Info(component TraceComponent, message string, context ...map[string]interface{}) {
	t.trace(TraceLevelInfo, component, message, firstContext(context))
}

// Debug logs a debug-level trace
func (t *Tracer) Debug(component TraceComponent, message string, context ...map[string]interface{}) {
	t.trace(TraceLevelDebug, component, message, firstContext(context))
}

func firstContext(context []map[string]interface{}) map[string]interface{} {
	if len(context) > 0 && context[0] != nil {
		return context[0]
	}
	return map[string]interface{}{}
}

// GetEntries returns a copy of the retained trace entries
func (t *Tracer) GetEntries() []TraceEntry {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	entries := make([]TraceEntry, len(t.entries))
	copy(entries, t.entries)
	return entries
}

// Clear clears all trace entries
func (t *Tracer) Clear() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.entries = nil
}

// TraceContext creates a context map for tracing
func TraceContext(pairs ...interface{}) map[string]interface{} {
	context := make(map[string]interface{}, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		if key, ok := pairs[i].(string); ok {
			context[key] = pairs[i+1]
		}
	}
	return context
}
