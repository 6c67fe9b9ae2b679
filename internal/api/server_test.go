package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/feed"
	"squeeze-discovery/internal/ingestion"
	"squeeze-discovery/internal/orchestrator"
	"squeeze-discovery/internal/storage/memory"
)

type fakeDiscovery struct {
	list *orchestrator.CandidateList
}

func (f *fakeDiscovery) Candidates(context.Context) *orchestrator.CandidateList { return f.list }

func (f *fakeDiscovery) Status() orchestrator.Status {
	return orchestrator.Status{Ticks: 3}
}

type fakeScan struct {
	circuit domain.CircuitState
	last    *domain.ScreenerRunResult
	err     error
}

func (f *fakeScan) CircuitState() domain.CircuitState { return f.circuit }

func (f *fakeScan) LastResult() (*domain.ScreenerRunResult, error) { return f.last, f.err }

type fakeColdTape struct{}

func (fakeColdTape) State() domain.ColdTapeState {
	return domain.ColdTapeState{Active: true, Activations: 2}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r := NewRouter(Options{})
	w := do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetrics(t *testing.T) {
	r := NewRouter(Options{})
	do(t, r, http.MethodGet, "/health", "")

	w := do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "squeeze_discovery_api_requests_total")
}

func TestStatus(t *testing.T) {
	r := NewRouter(Options{
		Discovery: &fakeDiscovery{},
		Scan: &fakeScan{
			circuit: domain.CircuitState{Open: true, FailureClass: domain.FailureAuth, ForcedCache: true},
			last:    &domain.ScreenerRunResult{RunID: "r1", ExitCode: 1, FailureClass: domain.FailureAuth},
			err:     errors.New("exit status 1"),
		},
		ColdTape: fakeColdTape{},
	})

	w := do(t, r, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	require.NotNil(t, resp.Circuit)
	assert.True(t, resp.Circuit.ForcedCache)
	require.NotNil(t, resp.LastScan)
	assert.Equal(t, "r1", resp.LastScan.RunID)
	assert.Equal(t, "exit status 1", resp.LastScan.Error)
	require.NotNil(t, resp.ColdTape)
	assert.True(t, resp.ColdTape.Active)
	require.NotNil(t, resp.Scheduler)
	assert.Equal(t, 3, resp.Scheduler.Ticks)
}

func TestCandidates(t *testing.T) {
	list := &orchestrator.CandidateList{
		Source: orchestrator.CandidatesFromRanking,
		Day:    "2026-03-03",
		Items:  []orchestrator.Candidate{{Symbol: "SQZ", Score: 81, Action: "BUY"}},
	}
	r := NewRouter(Options{Discovery: &fakeDiscovery{list: list}})

	w := do(t, r, http.MethodGet, "/candidates", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got orchestrator.CandidateList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "ranking", got.Source)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "SQZ", got.Items[0].Symbol)
}

func TestCandidates_NoDiscoveryStillAnswers(t *testing.T) {
	r := NewRouter(Options{})
	w := do(t, r, http.MethodGet, "/candidates", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got orchestrator.CandidateList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, orchestrator.CandidatesEmpty, got.Source)
	assert.NotEmpty(t, got.Reason)
	assert.NotNil(t, got.Items)
}

func newIngestRouter(store *memory.DiscoveryStore) http.Handler {
	return NewRouter(Options{Ingester: ingestion.NewService(ingestion.Options{Store: store})})
}

func TestIngest(t *testing.T) {
	store := memory.NewDiscoveryStore()
	r := newIngestRouter(store)

	body := `[{"ticker":"abc","score":80,"price":3.5},{"ticker":"","score":150}]`
	w := do(t, r, http.MethodPost, "/ingest?source=canonical", body)
	require.Equal(t, http.StatusOK, w.Code)

	var res ingestion.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 1, store.Count())
}

func TestIngest_Envelope(t *testing.T) {
	store := memory.NewDiscoveryStore()
	r := newIngestRouter(store)

	w := do(t, r, http.MethodPost, "/ingest", `{"items":[{"ticker":"XYZ","score":66}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, store.Count())
}

func TestIngest_MostlyInvalidIs422(t *testing.T) {
	r := newIngestRouter(memory.NewDiscoveryStore())

	w := do(t, r, http.MethodPost, "/ingest?source=canonical", `[{"ticker":"","score":1},{"ticker":"OK","score":500}]`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestIngest_BadRequests(t *testing.T) {
	r := newIngestRouter(memory.NewDiscoveryStore())

	w := do(t, r, http.MethodPost, "/ingest", `{"ticker":"ABC"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/ingest", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/ingest?source=fax", `[]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngest_NotConfigured(t *testing.T) {
	w := do(t, NewRouter(Options{}), http.MethodPost, "/ingest", `[]`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestFeed_ReceivesIngestedRecords(t *testing.T) {
	hub := feed.NewHub(feed.Options{})
	defer hub.Close()
	store := memory.NewDiscoveryStore()
	r := NewRouter(Options{
		Ingester: ingestion.NewService(ingestion.Options{Store: store, Publisher: hub}),
		Feed:     hub,
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/feed", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/ingest?source=canonical", "application/json",
		strings.NewReader(`[{"ticker":"FEED","score":72,"price":2.5}]`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg feed.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "FEED", msg.Ticker)
	assert.Equal(t, 72.0, msg.Score)
}
