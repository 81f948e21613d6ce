// Package logging provides config-driven categorized file-based logging for COCO.
// Logs are written to .coco/logs/ with a separate file per category, backed by
// zap cores. Logging is controlled by debug_mode in the workspace config; when
// false no log files are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and workspace initialization
	CategoryEngine    Category = "engine"    // Consciousness engine turns
	CategoryAPI       Category = "api"       // LLM API calls
	CategoryContext   Category = "context"   // Context assembly, buffer, summaries
	CategoryMemory    Category = "memory"    // Episodic/summary persistence
	CategoryFacts     Category = "facts"     // Facts store and extraction
	CategoryRouter    Category = "router"    // Query routing decisions
	CategoryStore     Category = "store"     // SQLite store operations
	CategoryEmbedding Category = "embedding" // Embedding engine
	CategoryIdentity  Category = "identity"  // Identity document store
	CategoryTools     Category = "tools"     // Tool registry and execution
	CategoryScheduler Category = "scheduler" // Autonomous scheduler
	CategorySession   Category = "session"   // Session lifecycle
)

// Logger wraps a zap sugared logger bound to one category file.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	loggersMu sync.RWMutex
	loggers   = make(map[Category]*Logger)

	stateMu   sync.RWMutex
	logsDir   string
	debugMode bool
	minLevel  zapcore.Level
)

// Initialize sets up the logging directory. Should be called once at startup
// with the workspace path. When debug is false this is a silent no-op and all
// loggers discard their output.
func Initialize(workspace string, debug bool, level string) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	parsed := parseLevel(level)
	dir := filepath.Join(workspace, ".coco", "logs")

	stateMu.Lock()
	debugMode = debug
	minLevel = parsed
	logsDir = dir
	stateMu.Unlock()

	if !debug {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	// Get reads the state under stateMu.RLock, so the write lock must be
	// released before the boot banner is logged.
	boot := Get(CategoryBoot)
	boot.Info("=== COCO logging initialized ===")
	boot.Info("workspace: %s", workspace)
	boot.Info("level: %s", parsed)
	return nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := newLogger(category)
	loggers[category] = l
	return l
}

func newLogger(category Category) *Logger {
	stateMu.RLock()
	enabled := debugMode
	dir := logsDir
	level := minLevel
	stateMu.RUnlock()

	if !enabled {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	path := filepath.Join(dir, string(category)+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] cannot open %s: %v\n", path, err)
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(file),
		level,
	)
	sugar := zap.New(core).Named(string(category)).Sugar()
	return &Logger{category: category, sugar: sugar}
}

// Debug logs a debug-level message.
func (l *Logger) Debug(format string, args ...any) { l.sugar.Debugf(format, args...) }

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...any) { l.sugar.Infof(format, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) { l.sugar.Warnf(format, args...) }

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Reset clears all cached loggers. Intended for tests that re-Initialize.
func Reset() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
	}
	loggers = make(map[Category]*Logger)
}

// Category convenience helpers mirror the most frequent call sites so code
// reads as logging.Engine("...") instead of logging.Get(...).Info("...").

// Engine logs an info message in the engine category.
func Engine(format string, args ...any) { Get(CategoryEngine).Info(format, args...) }

// EngineDebug logs a debug message in the engine category.
func EngineDebug(format string, args ...any) { Get(CategoryEngine).Debug(format, args...) }

// API logs an info message in the api category.
func API(format string, args ...any) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs a debug message in the api category.
func APIDebug(format string, args ...any) { Get(CategoryAPI).Debug(format, args...) }

// Context logs an info message in the context category.
func Context(format string, args ...any) { Get(CategoryContext).Info(format, args...) }

// ContextDebug logs a debug message in the context category.
func ContextDebug(format string, args ...any) { Get(CategoryContext).Debug(format, args...) }

// Facts logs an info message in the facts category.
func Facts(format string, args ...any) { Get(CategoryFacts).Info(format, args...) }

// FactsDebug logs a debug message in the facts category.
func FactsDebug(format string, args ...any) { Get(CategoryFacts).Debug(format, args...) }

// Router logs an info message in the router category.
func Router(format string, args ...any) { Get(CategoryRouter).Info(format, args...) }

// Store logs an info message in the store category.
func Store(format string, args ...any) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs a debug message in the store category.
func StoreDebug(format string, args ...any) { Get(CategoryStore).Debug(format, args...) }

// Embedding logs an info message in the embedding category.
func Embedding(format string, args ...any) { Get(CategoryEmbedding).Info(format, args...) }

// EmbeddingDebug logs a debug message in the embedding category.
func EmbeddingDebug(format string, args ...any) { Get(CategoryEmbedding).Debug(format, args...) }

// Identity logs an info message in the identity category.
func Identity(format string, args ...any) { Get(CategoryIdentity).Info(format, args...) }

// Tools logs an info message in the tools category.
func Tools(format string, args ...any) { Get(CategoryTools).Info(format, args...) }

// ToolsDebug logs a debug message in the tools category.
func ToolsDebug(format string, args ...any) { Get(CategoryTools).Debug(format, args...) }

// Scheduler logs an info message in the scheduler category.
func Scheduler(format string, args ...any) { Get(CategoryScheduler).Info(format, args...) }

// SchedulerDebug logs a debug message in the scheduler category.
func SchedulerDebug(format string, args ...any) { Get(CategoryScheduler).Debug(format, args...) }

// Session logs an info message in the session category.
func Session(format string, args ...any) { Get(CategorySession).Info(format, args...) }

// =============================================================================
// Operation timing
// =============================================================================

// Timer measures the duration of an operation and logs slow ones.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// SlowThreshold is the duration beyond which an operation logs at warn level.
const SlowThreshold = 2 * time.Second

// StartTimer begins timing an operation.
func StartTimer(category Category, op string) *Timer {
	return &Timer{category: category, op: op, start: time.Now()}
}

// Stop logs the elapsed time for the operation.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed >= SlowThreshold {
		l.Warn("%s took %v (slow)", t.op, elapsed)
	} else {
		l.Debug("%s took %v", t.op, elapsed)
	}
	return elapsed
}
