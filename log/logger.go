package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"reprotest/config"
)

// Logger manages the run-level log files for a reprotest invocation: a
// rolling results log and a debug log, plus on-demand per-build logs opened
// via OpenBuildLog.
type Logger struct {
	cfg         *config.Config
	logsDir     string
	resultsFile *os.File
	debugFile   *os.File
	mu          sync.Mutex
}

// NewLogger creates a new logger rooted at cfg.StorePath/logs.
func NewLogger(cfg *config.Config) (*Logger, error) {
	logsDir := filepath.Join(cfg.StorePath, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	l := &Logger{cfg: cfg, logsDir: logsDir}

	var err error
	l.resultsFile, err = os.Create(filepath.Join(logsDir, "00_results.log"))
	if err != nil {
		return nil, err
	}
	l.debugFile, err = os.Create(filepath.Join(logsDir, "01_debug.log"))
	if err != nil {
		return nil, err
	}

	l.writeHeaders()
	return l, nil
}

// Close closes the run-level log files. Per-build logs returned by
// OpenBuildLog are closed independently by their callers.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.resultsFile != nil {
		l.resultsFile.Close()
	}
	if l.debugFile != nil {
		l.debugFile.Close()
	}
}

func (l *Logger) writeHeaders() {
	timestamp := time.Now().Format(time.RFC3339)

	fmt.Fprintf(l.resultsFile, "reprotest run log - %s\n", timestamp)
	fmt.Fprintf(l.resultsFile, "%s\n\n", strings.Repeat("=", 70))
	fmt.Fprintf(l.debugFile, "Debug log - %s\n\n", timestamp)
}

// BuildStarted logs that a build (control or an experiment) has started.
func (l *Logger) BuildStarted(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(l.resultsFile, "[%s] STARTED: %s\n", timestamp, name)
	l.resultsFile.Sync()
}

// BuildFinished logs the outcome of a completed build.
func (l *Logger) BuildFinished(name, status string, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(l.resultsFile, "[%s] %s: %s (%s)\n", timestamp, strings.ToUpper(status), name, duration)
	l.resultsFile.Sync()
}

// Diff logs the comparison outcome between two builds.
func (l *Logger) Diff(a, b string, identical bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	verdict := "IDENTICAL"
	if !identical {
		verdict = "DIFFERS"
	}
	fmt.Fprintf(l.resultsFile, "[%s] DIFF %s vs %s: %s\n", timestamp, a, b, verdict)
	l.resultsFile.Sync()
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	l.debugFile.WriteString(fmt.Sprintf("[%s] %s\n", timestamp, msg))
	l.debugFile.Sync()
}

// Error logs an error message to both the results and debug logs.
func (l *Logger) Error(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	errMsg := fmt.Sprintf("[%s] ERROR: %s\n", timestamp, msg)

	l.resultsFile.WriteString(errMsg)
	l.debugFile.WriteString(errMsg)

	l.resultsFile.Sync()
	l.debugFile.Sync()
}

// Info logs an informational message to the results log.
func (l *Logger) Info(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05")
	l.resultsFile.WriteString(fmt.Sprintf("[%s] INFO: %s\n", timestamp, msg))
	l.resultsFile.Sync()
}

// WriteSummary writes a final summary of the run to the results log.
func (l *Logger) WriteSummary(numBuilds int, reproducible bool, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	verdict := "REPRODUCIBLE"
	if !reproducible {
		verdict = "UNREPRODUCIBLE"
	}

	fmt.Fprintf(l.resultsFile, "\n%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(l.resultsFile, "RUN SUMMARY\n")
	fmt.Fprintf(l.resultsFile, "%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(l.resultsFile, "Builds:    %d\n", numBuilds)
	fmt.Fprintf(l.resultsFile, "Verdict:   %s\n", verdict)
	fmt.Fprintf(l.resultsFile, "Duration:  %s\n", duration)
	fmt.Fprintf(l.resultsFile, "%s\n", strings.Repeat("=", 70))

	l.resultsFile.Sync()
}

// OpenBuildLog opens (creating if needed) the dedicated log file for a
// single build's captured stdout/stderr, named after its build identity
// (e.g. "control", "experiment-1").
func (l *Logger) OpenBuildLog(name string) (*BuildLogger, error) {
	safe := strings.ReplaceAll(name, "/", "_")
	path := filepath.Join(l.logsDir, safe+".log")
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &BuildLogger{file: f, name: name}, nil
}
