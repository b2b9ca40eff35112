// Package probe measures the playback length of uploaded audio files with
// ffprobe and totals them per session.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/glavox/glavox-server/pkg/logger"
	"github.com/glavox/glavox-server/pkg/metrics"
)

const (
	DefaultBinary         = "ffprobe"
	DefaultTimeout        = 15 * time.Second
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 200 * time.Millisecond
)

// Failure kinds carried by *Error.
var (
	ErrFileNotFound = errors.New("probe: file not found")
	ErrUnparsable   = errors.New("probe: duration output not parsable")
	ErrTimeout      = errors.New("probe: timed out")
	ErrExec         = errors.New("probe: execution failed")
)

// Error reports a failed probe of one file.
type Error struct {
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Path)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Reason returns a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrFileNotFound):
		return "not_found"
	case errors.Is(err, ErrUnparsable):
		return "unparsable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrExec):
		return "exec"
	default:
		return "unknown"
	}
}

// Runner executes an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Config tunes the ffprobe invocation.
type Config struct {
	Binary         string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

// FFProbe reads container durations with ffprobe.
type FFProbe struct {
	cfg    Config
	runner Runner
	log    *zap.Logger
}

// Option customises FFProbe.
type Option func(*FFProbe)

// WithRunner swaps the command runner.
func WithRunner(r Runner) Option {
	return func(p *FFProbe) {
		if r != nil {
			p.runner = r
		}
	}
}

// NewFFProbe applies defaults for every unset field of cfg.
func NewFFProbe(cfg Config, opts ...Option) *FFProbe {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	p := &FFProbe{cfg: cfg, runner: ExecRunner{}, log: logger.WithModule("probe")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Binary returns the configured executable.
func (p *FFProbe) Binary() string {
	return p.cfg.Binary
}

// LookPath reports whether the binary is resolvable.
func (p *FFProbe) LookPath() error {
	_, err := exec.LookPath(p.cfg.Binary)
	return err
}

// Duration returns the playback length of path in seconds.
func (p *FFProbe) Duration(ctx context.Context, path string) (float64, error) {
	start := time.Now()
	seconds, err := p.duration(ctx, path)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ProbeDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return seconds, err
}

func (p *FFProbe) duration(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, &Error{Path: path, Kind: ErrFileNotFound, Err: err}
		}
		return 0, &Error{Path: path, Kind: ErrExec, Err: err}
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	var lastTimedOut bool
	attempt := 0
	operation := func() (float64, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		out, err := p.runner.Run(attemptCtx, p.cfg.Binary, args...)
		if err != nil {
			lastTimedOut = errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
			p.log.Debug("ffprobe attempt failed",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Bool("timed_out", lastTimedOut),
				zap.Error(err),
			)
			return 0, err
		}

		seconds, perr := parseDuration(out)
		if perr != nil {
			return 0, backoff.Permanent(&Error{Path: path, Kind: ErrUnparsable, Err: perr})
		}
		return seconds, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialBackoff

	seconds, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.MaxAttempts)),
	)
	if err == nil {
		return seconds, nil
	}

	var probeErr *Error
	if errors.As(err, &probeErr) {
		return 0, probeErr
	}
	if lastTimedOut || errors.Is(err, context.DeadlineExceeded) {
		return 0, &Error{Path: path, Kind: ErrTimeout, Err: err}
	}
	return 0, &Error{Path: path, Kind: ErrExec, Err: err}
}

func parseDuration(out []byte) (float64, error) {
	text := strings.TrimSpace(string(out))
	if text == "" {
		return 0, errors.New("empty output")
	}
	// some containers report one line per stream; the first is the format duration
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	seconds, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0, fmt.Errorf("invalid duration %q", text)
	}
	return seconds, nil
}
