package log

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// BuildLogger captures the full transcript of a single build (the control
// build or one numbered experiment) within a run: phase markers plus the
// testbed command's raw stdout/stderr.
type BuildLogger struct {
	file *os.File
	name string
	mu   sync.Mutex
}

// Write implements io.Writer so a BuildLogger can be attached directly as a
// testbed command's combined output sink.
func (bl *BuildLogger) Write(p []byte) (int, error) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.file.Write(p)
}

// Close closes the underlying log file.
func (bl *BuildLogger) Close() error {
	return bl.file.Close()
}

func (bl *BuildLogger) WriteHeader() {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	fmt.Fprintf(bl.file, "%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(bl.file, "Build: %s\n", bl.name)
	fmt.Fprintf(bl.file, "Started: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(bl.file, "%s\n\n", strings.Repeat("=", 70))
	bl.file.Sync()
}

func (bl *BuildLogger) WritePhase(phase string) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	fmt.Fprintf(bl.file, "\n%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(bl.file, "Phase: %s\n", phase)
	fmt.Fprintf(bl.file, "Time: %s\n", time.Now().Format("15:04:05"))
	fmt.Fprintf(bl.file, "%s\n", strings.Repeat("=", 70))
	bl.file.Sync()
}

func (bl *BuildLogger) WriteSuccess(duration time.Duration) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	fmt.Fprintf(bl.file, "\n%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(bl.file, "BUILD SUCCESS\n")
	fmt.Fprintf(bl.file, "Completed: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(bl.file, "Duration: %s\n", duration)
	fmt.Fprintf(bl.file, "%s\n", strings.Repeat("=", 70))
	bl.file.Sync()
}

func (bl *BuildLogger) WriteFailure(duration time.Duration, reason string) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	fmt.Fprintf(bl.file, "\n%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(bl.file, "BUILD FAILED\n")
	fmt.Fprintf(bl.file, "Reason: %s\n", reason)
	fmt.Fprintf(bl.file, "Completed: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(bl.file, "Duration: %s\n", duration)
	fmt.Fprintf(bl.file, "%s\n", strings.Repeat("=", 70))
	bl.file.Sync()
}
