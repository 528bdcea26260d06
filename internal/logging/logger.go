// Package logging provides categorized file-based logging for proofforge.
// Each pipeline stage writes to its own file under <run dir>/logs/ so a long
// batch run can be audited per subsystem. When no directory has been
// configured every logger is a silent no-op.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category identifies a pipeline subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and wiring
	CategoryGraph     Category = "graph"     // Concept graph operations
	CategoryGrounding Category = "grounding" // Grounding probe decisions
	CategoryDecompose Category = "decompose" // Breadth-first decomposition
	CategorySynthesis Category = "synthesis" // Scheduler and attempt workers
	CategoryAlignment Category = "alignment" // Back-translation and consistency check
	CategoryKnowledge Category = "knowledge" // Persistent cache load/save
	CategoryCompiler  Category = "compiler"  // Lean compile round-trips
	CategoryAPI       Category = "api"       // LLM and search HTTP calls
	CategoryBatch     Category = "batch"     // Batch runner progress
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger bound to one category file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	stateMu  sync.RWMutex
	logsDir  string
	logLevel = LevelInfo
)

// Initialize points the logging system at a run directory and sets the
// minimum level ("debug", "info", "warn", "error"). Calling it again
// redirects subsequent loggers; already-open files keep their handles
// until CloseAll.
func Initialize(dir, level string) error {
	stateMu.Lock()
	defer stateMu.Unlock()

	if dir == "" {
		logsDir = ""
		return nil
	}

	full := filepath.Join(dir, "logs")
	if err := os.MkdirAll(full, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	logsDir = full

	switch level {
	case "debug":
		logLevel = LevelDebug
	case "info", "":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	return nil
}

func currentDir() string {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return logsDir
}

func currentLevel() int {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return logLevel
}

// Get returns (or creates) the logger for a category. Returns a no-op
// logger when logging is not initialized or the file cannot be opened.
func Get(category Category) *Logger {
	dir := currentDir()
	if dir == "" {
		return &Logger{category: category}
	}

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

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || currentLevel() > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || currentLevel() > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || currentLevel() > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message. Always written when the logger has a file.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes every open log file. Call at shutdown.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Timer measures operation duration for performance logging.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// Convenience helpers. No-ops when logging is disabled.

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func Graph(format string, args ...interface{})     { Get(CategoryGraph).Info(format, args...) }
func Grounding(format string, args ...interface{}) { Get(CategoryGrounding).Info(format, args...) }
func Decompose(format string, args ...interface{}) { Get(CategoryDecompose).Info(format, args...) }
func Synthesis(format string, args ...interface{}) { Get(CategorySynthesis).Info(format, args...) }
func Alignment(format string, args ...interface{}) { Get(CategoryAlignment).Info(format, args...) }
func Knowledge(format string, args ...interface{}) { Get(CategoryKnowledge).Info(format, args...) }
func Compiler(format string, args ...interface{})  { Get(CategoryCompiler).Info(format, args...) }
func API(format string, args ...interface{})       { Get(CategoryAPI).Info(format, args...) }
func Batch(format string, args ...interface{})     { Get(CategoryBatch).Info(format, args...) }

func GraphDebug(format string, args ...interface{})     { Get(CategoryGraph).Debug(format, args...) }
func GroundingDebug(format string, args ...interface{}) { Get(CategoryGrounding).Debug(format, args...) }
func DecomposeDebug(format string, args ...interface{}) { Get(CategoryDecompose).Debug(format, args...) }
func SynthesisDebug(format string, args ...interface{}) { Get(CategorySynthesis).Debug(format, args...) }
func AlignmentDebug(format string, args ...interface{}) { Get(CategoryAlignment).Debug(format, args...) }
func KnowledgeDebug(format string, args ...interface{}) { Get(CategoryKnowledge).Debug(format, args...) }
func CompilerDebug(format string, args ...interface{})  { Get(CategoryCompiler).Debug(format, args...) }
func APIDebug(format string, args ...interface{})       { Get(CategoryAPI).Debug(format, args...) }
func BatchDebug(format string, args ...interface{})     { Get(CategoryBatch).Debug(format, args...) }

func DecomposeWarn(format string, args ...interface{}) { Get(CategoryDecompose).Warn(format, args...) }
func SynthesisWarn(format string, args ...interface{}) { Get(CategorySynthesis).Warn(format, args...) }
func KnowledgeWarn(format string, args ...interface{}) { Get(CategoryKnowledge).Warn(format, args...) }
func CompilerWarn(format string, args ...interface{})  { Get(CategoryCompiler).Warn(format, args...) }
func APIWarn(format string, args ...interface{})       { Get(CategoryAPI).Warn(format, args...) }

func SynthesisError(format string, args ...interface{}) { Get(CategorySynthesis).Error(format, args...) }
func AlignmentError(format string, args ...interface{}) { Get(CategoryAlignment).Error(format, args...) }
func KnowledgeError(format string, args ...interface{}) { Get(CategoryKnowledge).Error(format, args...) }
func CompilerError(format string, args ...interface{})  { Get(CategoryCompiler).Error(format, args...) }
func BatchError(format string, args ...interface{})     { Get(CategoryBatch).Error(format, args...) }
