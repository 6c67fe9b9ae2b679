// Package api exposes the ops HTTP surface: health, metrics, status,
// candidates, ingestion and the live feed.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"squeeze-discovery/internal/adapter"
	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/ingestion"
	"squeeze-discovery/internal/logging"
	"squeeze-discovery/internal/observability"
	"squeeze-discovery/internal/orchestrator"
)

// maxIngestBody caps POST /ingest payloads.
const maxIngestBody = 8 << 20

// Discovery is the orchestrator surface used by the API.
type Discovery interface {
	Candidates(ctx context.Context) *orchestrator.CandidateList
	Status() orchestrator.Status
}

// ScanState reports the scan gateway circuit and last run.
type ScanState interface {
	CircuitState() domain.CircuitState
	LastResult() (*domain.ScreenerRunResult, error)
}

// ColdTapeState reports the cold-tape controller state.
type ColdTapeState interface {
	State() domain.ColdTapeState
}

// Ingester ingests raw payloads.
type Ingester interface {
	IngestRaw(ctx context.Context, items []json.RawMessage, hint domain.Source) *ingestion.Result
}

// Options configures the router. Nil members disable their routes' data.
type Options struct {
	Discovery Discovery
	Scan      ScanState
	ColdTape  ColdTapeState
	Ingester  Ingester
	Feed      http.Handler
	Logger    *zap.Logger
}

type handler struct {
	opts    Options
	logger  *zap.Logger
	started time.Time
}

// NewRouter builds the gin engine.
func NewRouter(opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	h := &handler{opts: opts, logger: logging.OrNop(opts.Logger), started: time.Now()}

	r := gin.New()
	r.Use(gin.Recovery(), h.observe)

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	r.GET("/status", h.status)
	r.GET("/candidates", h.candidates)
	r.POST("/ingest", h.ingest)
	if opts.Feed != nil {
		r.GET("/feed", gin.WrapH(opts.Feed))
	}
	return r
}

// observe logs and meters every request.
func (h *handler) observe(c *gin.Context) {
	start := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	elapsed := time.Since(start)
	observability.RecordHTTPRequest(route, c.Request.Method, c.Writer.Status(), elapsed.Seconds())
	h.logger.Debug("http request",
		zap.String("method", c.Request.Method),
		zap.String("route", route),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("duration", elapsed))
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": time.Since(h.started).Round(time.Second).String()})
}

// ScanView is the last scan as reported by /status.
type ScanView struct {
	RunID        string              `json:"run_id"`
	Caller       string              `json:"caller"`
	StartedAt    time.Time           `json:"started_at"`
	Duration     string              `json:"duration"`
	ExitCode     int                 `json:"exit_code"`
	Count        int                 `json:"count"`
	FailureClass domain.FailureClass `json:"failure_class,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// CircuitView is the scan circuit as reported by /status.
type CircuitView struct {
	Open          bool                `json:"open"`
	CooldownUntil time.Time           `json:"cooldown_until,omitzero"`
	FailureClass  domain.FailureClass `json:"failure_class,omitempty"`
	ForcedCache   bool                `json:"forced_cache"`
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status    string                `json:"status"`
	Uptime    string                `json:"uptime"`
	Circuit   *CircuitView          `json:"circuit,omitempty"`
	LastScan  *ScanView             `json:"last_scan,omitempty"`
	ColdTape  *domain.ColdTapeState `json:"cold_tape,omitempty"`
	Scheduler *orchestrator.Status  `json:"scheduler,omitempty"`
}

func (h *handler) status(c *gin.Context) {
	resp := StatusResponse{
		Status: "running",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}
	if s := h.opts.Scan; s != nil {
		cs := s.CircuitState()
		resp.Circuit = &CircuitView{
			Open:          cs.Open,
			CooldownUntil: cs.CooldownUntil,
			FailureClass:  cs.FailureClass,
			ForcedCache:   cs.ForcedCache,
		}
		if last, err := s.LastResult(); last != nil {
			v := &ScanView{
				RunID:        last.RunID,
				Caller:       last.Caller,
				StartedAt:    last.StartedAt,
				Duration:     last.Duration.String(),
				ExitCode:     last.ExitCode,
				Count:        last.Count,
				FailureClass: last.FailureClass,
			}
			if err != nil {
				v.Error = err.Error()
			}
			resp.LastScan = v
		}
		if cs.Open {
			resp.Status = "degraded"
		}
	}
	if ct := h.opts.ColdTape; ct != nil {
		st := ct.State()
		resp.ColdTape = &st
	}
	if d := h.opts.Discovery; d != nil {
		st := d.Status()
		resp.Scheduler = &st
	}
	c.JSON(http.StatusOK, resp)
}

// candidates always answers; an empty list carries its reason.
func (h *handler) candidates(c *gin.Context) {
	if h.opts.Discovery == nil {
		c.JSON(http.StatusOK, orchestrator.CandidateList{
			Source: orchestrator.CandidatesEmpty,
			Day:    domain.DayOf(time.Now()).Format("2006-01-02"),
			Reason: "discovery is not running",
			Items:  []orchestrator.Candidate{},
		})
		return
	}
	c.JSON(http.StatusOK, h.opts.Discovery.Candidates(c.Request.Context()))
}

// ingest accepts a JSON array or an {"items": [...]} envelope. The source
// query parameter forces the item shape; omitted, each item is sniffed.
func (h *handler) ingest(c *gin.Context) {
	if h.opts.Ingester == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion is not configured"})
		return
	}

	hint := domain.Source(c.Query("source"))
	if hint != domain.SourceAuto && !hint.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown source %q", hint)})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIngestBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body) > maxIngestBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}
	items, err := adapter.DecodeBatch(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := h.opts.Ingester.IngestRaw(c.Request.Context(), items, hint)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}
