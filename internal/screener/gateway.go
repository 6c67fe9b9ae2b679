// Package screener runs the external scan executable with in-flight
// deduplication and a failure-classifying circuit breaker.
package screener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/logging"
	"squeeze-discovery/internal/observability"
)

// flightKey is the single logical scan identity; every caller shares it.
const flightKey = "scan"

// RunOptions are the per-call scan parameters.
type RunOptions struct {
	Limit      int
	Budget     time.Duration
	OutputPath string
	Caller     string
}

// Options configures a Gateway.
type Options struct {
	Path           string   // scan executable
	ExtraArgs      []string // appended after the contract arguments
	AuthCooldown   time.Duration
	ServerCooldown time.Duration
	ExcerptBytes   int

	Runner ProcessRunner
	Clock  func() time.Time
	Logger *zap.Logger
}

// DefaultOptions returns default gateway options.
func DefaultOptions() Options {
	return Options{
		AuthCooldown:   5 * time.Minute,
		ServerCooldown: 2 * time.Minute,
		ExcerptBytes:   2048,
	}
}

// Gateway serializes external scan runs. Concurrent callers share one
// in-flight run and its result pointer.
type Gateway struct {
	opts   Options
	group  singleflight.Group
	logger *zap.Logger

	mu      sync.Mutex
	circuit domain.CircuitState
	last    *domain.ScreenerRunResult
	lastErr error
}

// NewGateway creates a new Gateway.
func NewGateway(opts Options) *Gateway {
	def := DefaultOptions()
	if opts.AuthCooldown <= 0 {
		opts.AuthCooldown = def.AuthCooldown
	}
	if opts.ServerCooldown <= 0 {
		opts.ServerCooldown = def.ServerCooldown
	}
	if opts.ExcerptBytes <= 0 {
		opts.ExcerptBytes = def.ExcerptBytes
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Gateway{opts: opts, logger: logging.OrNop(opts.Logger)}
}

// RunSingleton runs the scan, or joins the run already in flight.
// While the circuit is open it returns *CircuitOpenError without spawning.
// The returned result is non-nil whenever a process ran, even on error.
// Cancelling ctx abandons the wait but not the shared run.
func (g *Gateway) RunSingleton(ctx context.Context, opts RunOptions) (*domain.ScreenerRunResult, error) {
	if err := g.checkCircuit(); err != nil {
		observability.RecordScanRejected()
		g.logger.Debug("scan rejected, circuit open",
			zap.String("caller", opts.Caller), zap.Error(err))
		return nil, err
	}

	ch := g.group.DoChan(flightKey, func() (any, error) {
		return g.run(context.WithoutCancel(ctx), opts)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			observability.RecordScanShared()
		}
		result, _ := res.Val.(*domain.ScreenerRunResult)
		return result, res.Err
	}
}

func (g *Gateway) checkCircuit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.circuit.Open && g.opts.Clock().Before(g.circuit.CooldownUntil) {
		return &CircuitOpenError{Class: g.circuit.FailureClass, Until: g.circuit.CooldownUntil}
	}
	return nil
}

func (g *Gateway) run(ctx context.Context, opts RunOptions) (*domain.ScreenerRunResult, error) {
	ctx, span := observability.StartSpan(ctx, "screener.run")
	defer span.End()

	start := g.opts.Clock()
	result := &domain.ScreenerRunResult{
		RunID:     uuid.NewString(),
		Caller:    opts.Caller,
		StartedAt: start,
	}

	// A stale artifact from an earlier run must not pass for this one.
	if err := os.Remove(opts.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		g.logger.Warn("remove stale scan artifact", zap.String("path", opts.OutputPath), zap.Error(err))
	}

	out, runErr := g.opts.Runner.Run(ctx, ProcessSpec{
		Path:   g.opts.Path,
		Args:   g.args(opts),
		Budget: opts.Budget,
	})

	result.ExitCode = out.ExitCode
	result.Duration = g.opts.Clock().Sub(start)
	result.StdoutExcerpt = tail(out.Stdout, g.opts.ExcerptBytes)
	result.StderrExcerpt = tail(out.Stderr, g.opts.ExcerptBytes)
	result.FailureClass = Classify(out)

	var err error
	switch {
	case runErr != nil:
		err = &ProcessExitError{ExitCode: out.ExitCode, StderrExcerpt: result.StderrExcerpt, Err: runErr}
	case out.TimedOut:
		err = &TimeoutError{Budget: opts.Budget}
	case out.ExitCode != 0:
		err = &ProcessExitError{ExitCode: out.ExitCode, StderrExcerpt: result.StderrExcerpt}
	default:
		err = parseArtifact(opts.OutputPath, result)
	}

	g.settle(result, err)
	return result, err
}

// settle records the result and moves the circuit. Any completed run clears
// forced cached mode; a classified failure opens the circuit and sets it again.
func (g *Gateway) settle(result *domain.ScreenerRunResult, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.last = result
	g.lastErr = err

	switch result.FailureClass {
	case domain.FailureAuth, domain.FailureServer:
		cooldown := g.opts.ServerCooldown
		if result.FailureClass == domain.FailureAuth {
			cooldown = g.opts.AuthCooldown
		}
		g.circuit = domain.CircuitState{
			Open:          true,
			CooldownUntil: g.opts.Clock().Add(cooldown),
			FailureClass:  result.FailureClass,
			ForcedCache:   true,
		}
		g.logger.Warn("scan circuit opened",
			zap.String("class", string(result.FailureClass)),
			zap.Duration("cooldown", cooldown),
			zap.Int("exit_code", result.ExitCode))
	default:
		if g.circuit.Open || g.circuit.ForcedCache {
			g.logger.Info("scan circuit closed")
		}
		g.circuit = domain.CircuitState{}
	}

	status := "success"
	if err != nil {
		status = "failure"
	}
	observability.RecordScanRun(status, string(result.FailureClass), result.Duration.Seconds())
	observability.SetCircuitOpen(g.circuit.Open)

	fields := []zap.Field{
		zap.String("run_id", result.RunID),
		zap.String("caller", result.Caller),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
		zap.Int("count", result.Count),
	}
	if err != nil {
		g.logger.Error("scan run failed", append(fields, zap.Error(err))...)
	} else {
		g.logger.Info("scan run complete", fields...)
	}
}

func (g *Gateway) args(opts RunOptions) []string {
	args := []string{
		"--limit", strconv.Itoa(opts.Limit),
		"--budget-ms", strconv.FormatInt(opts.Budget.Milliseconds(), 10),
		"--json-out", opts.OutputPath,
	}
	return append(args, g.opts.ExtraArgs...)
}

// ForcedCacheMode reports whether live provider calls should be skipped.
func (g *Gateway) ForcedCacheMode() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.circuit.ForcedCache
}

// CircuitState returns a snapshot of the circuit breaker.
func (g *Gateway) CircuitState() domain.CircuitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.circuit
}

// LastResult returns the most recent run result and its error, if any.
func (g *Gateway) LastResult() (*domain.ScreenerRunResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.lastErr
}

// parseArtifact validates the {items, count} artifact and copies it into result.
func parseArtifact(path string, result *domain.ScreenerRunResult) error {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return &NoOutputError{Path: path}
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return &SchemaViolationError{Path: path, Detail: fmt.Sprintf("not a JSON object: %v", err)}
	}

	var missing []string
	var items []json.RawMessage
	if raw, ok := doc["items"]; !ok || !isJSONArray(raw) || json.Unmarshal(raw, &items) != nil {
		missing = append(missing, "items")
	}
	var count float64
	if raw, ok := doc["count"]; !ok || string(raw) == "null" || json.Unmarshal(raw, &count) != nil {
		missing = append(missing, "count")
	}
	if len(missing) > 0 {
		return &SchemaViolationError{Path: path, Missing: missing}
	}

	result.Items = items
	result.Count = int(count)
	result.ArtifactRunID = jsonScalar(doc["run_id"])
	result.SnapshotTS = jsonScalar(doc["snapshot_ts"])
	return nil
}

func isJSONArray(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

// jsonScalar renders a string or number field as text; anything else is empty.
func jsonScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

// tail returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
