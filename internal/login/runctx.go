package login

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Log levels for run output.
const (
	LevelInfo    = "INFO"
	LevelSuccess = "SUCCESS"
	LevelError   = "ERROR"
	LevelWarn    = "WARN"
	LevelStep    = "STEP"
)

var levelIcons = map[string]string{
	LevelInfo:    "ℹ️",
	LevelSuccess: "✅",
	LevelError:   "❌",
	LevelWarn:    "⚠️",
	LevelStep:    "🔹",
}

// RunContext carries the per-run mutable state that would otherwise be
// ambient: the screenshot sequence, the accumulated log buffer, and
// the run identity. It is owned by the orchestrator and passed into
// each stage explicitly.
type RunContext struct {
	ID      string
	User    string
	Channel Channel

	// ShotDir receives numbered screenshots.
	ShotDir string

	// Out receives log lines as they happen. Defaults to stdout.
	Out io.Writer

	seq   int
	lines []string
	shots []string
}

// NewRunContext builds the run state for one orchestration.
func NewRunContext(user string, ch Channel, shotDir string) *RunContext {
	if shotDir == "" {
		shotDir = "."
	}
	return &RunContext{
		ID:      uuid.NewString()[:8],
		User:    user,
		Channel: ch,
		ShotDir: shotDir,
		Out:     os.Stdout,
	}
}

// Logf records a log line and echoes it.
func (rc *RunContext) Logf(level, format string, args ...any) {
	icon, ok := levelIcons[level]
	if !ok {
		icon = "•"
	}
	line := icon + " " + fmt.Sprintf(format, args...)
	rc.lines = append(rc.lines, line)
	if rc.Out != nil {
		fmt.Fprintln(rc.Out, line)
	}
}

// Tail returns the last n log lines.
func (rc *RunContext) Tail(n int) []string {
	if n >= len(rc.lines) {
		return append([]string(nil), rc.lines...)
	}
	return append([]string(nil), rc.lines[len(rc.lines)-n:]...)
}

// Shot captures a numbered screenshot of the page. Failures are logged
// and never fail a stage; the returned path is "" in that case.
func (rc *RunContext) Shot(ctx context.Context, p Page, name string) string {
	rc.seq++
	path := filepath.Join(rc.ShotDir, fmt.Sprintf("%02d_%s.png", rc.seq, name))
	if err := p.Screenshot(ctx, path); err != nil {
		rc.Logf(LevelWarn, "screenshot %s failed: %v", name, err)
		return ""
	}
	rc.shots = append(rc.shots, path)
	return path
}

// LastShot returns the most recent screenshot path, or "".
func (rc *RunContext) LastShot() string {
	if len(rc.shots) == 0 {
		return ""
	}
	return rc.shots[len(rc.shots)-1]
}

// LastShots returns up to n most recent screenshot paths, oldest first.
func (rc *RunContext) LastShots(n int) []string {
	if n >= len(rc.shots) {
		return append([]string(nil), rc.shots...)
	}
	return append([]string(nil), rc.shots[len(rc.shots)-n:]...)
}
