package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sphota-ai/sphota/internal/corpus"
	"github.com/sphota-ai/sphota/internal/crm"
	"github.com/sphota-ai/sphota/internal/fastmemory"
	"github.com/sphota-ai/sphota/internal/feedback"
	"github.com/sphota-ai/sphota/internal/model"
	"github.com/sphota-ai/sphota/internal/normalize"
	"github.com/sphota-ai/sphota/internal/resolver"
	"github.com/sphota-ai/sphota/internal/reviewqueue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubProvider maps known texts to fixed vectors; anything else embeds to
// zero.
type stubProvider struct {
	vectors map[string][]float32
}

func (s *stubProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, 3), nil
}

func (s *stubProvider) Dimensions() int { return 3 }
func (s *stubProvider) ModelID() string { return "stub-v1-3" }

func strp(v string) *string { return &v }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := discardLogger()
	norm := normalize.New(nil)
	c, err := corpus.New([]model.Intent{
		{
			ID:              "transfer_to_account",
			Examples:        []string{"transfer 500 to john"},
			RequiredPurpose: strp("finance"),
		},
		{ID: "borrow_money", Examples: []string{"borrow 500 from john"}},
	})
	require.NoError(t, err)

	provider := &stubProvider{vectors: map[string][]float32{
		"transfer 500 to john": {1, 0, 0},
		"borrow 500 from john": {0.6, 0.8, 0},
	}}
	require.NoError(t, c.EmbedExamples(context.Background(), provider, nil))

	mem := fastmemory.NewStore(logger, 0, nil)
	pending := resolver.NewPendingCache(time.Minute, 0)
	t.Cleanup(pending.Close)

	res := resolver.New(logger, c, mem, crm.New(), provider, norm, pending, resolver.Tuning{})

	reviews, err := reviewqueue.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reviews.Close() })

	fb := feedback.New(logger, res, mem, reviews, c)

	return New(ServerConfig{
		Resolver:            res,
		Feedback:            fb,
		Reviews:             reviews,
		Corpus:              c,
		Memory:              mem,
		Logger:              logger,
		Port:                0,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestEndpointsReturn503BeforeReady(t *testing.T) {
	srv := newTestServer(t)

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/resolve-intent", model.ResolveRequest{CommandText: "x"}},
		{http.MethodPost, "/feedback", nil},
		{http.MethodGet, "/feedback/stats", nil},
		{http.MethodGet, "/feedback/review-queue", nil},
	} {
		rr := doJSON(t, srv.Handler(), tc.method, tc.path, tc.body)
		require.Equal(t, http.StatusServiceUnavailable, rr.Code, "%s %s", tc.method, tc.path)
		apiErr := decodeBody[model.APIError](t, rr)
		require.Equal(t, model.ErrCodeNotReady, apiErr.Error.Code)
	}

	// Health stays reachable during startup.
	rr := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	health := decodeBody[model.HealthResponse](t, rr)
	require.Equal(t, "starting", health.Status)
	require.False(t, health.Ready)
}

func TestResolveEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.Handlers().SetReady()

	rr := doJSON(t, srv.Handler(), http.MethodPost, "/resolve-intent", model.ResolveRequest{
		CommandText: "Transfer 500 to John",
		Context:     &model.ContextSnapshot{GoalAlignment: strp("finance")},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	resp := decodeBody[model.ResolveResponse](t, rr)
	require.Equal(t, "transfer_to_account", resp.ResolvedIntent)
	require.InDelta(t, 1.0, resp.ConfidenceScore, 1e-6)
	require.NotEmpty(t, resp.RequestID)
	require.Equal(t, "transfer 500 to john", resp.AuditTrail.InputText)
	require.Contains(t, resp.AuditTrail.AllScores, "borrow_money")
	require.GreaterOrEqual(t, resp.ProcessingTimeMillis, 0.0)

	var found bool
	for _, f := range resp.ContributingFactors {
		if f.FactorName == "goal_alignment" {
			found = true
			require.InDelta(t, 0.20, f.Delta, 1e-9)
		}
	}
	require.True(t, found, "goal_alignment factor missing: %v", resp.ContributingFactors)
}

func TestResolveEndpointFallback(t *testing.T) {
	srv := newTestServer(t)
	srv.Handlers().SetReady()

	rr := doJSON(t, srv.Handler(), http.MethodPost, "/resolve-intent", model.ResolveRequest{
		CommandText: "qwerty asdf",
	})
	require.Equal(t, http.StatusOK, rr.Code, "fallback is a success response, not an error")

	resp := decodeBody[model.ResolveResponse](t, rr)
	require.Equal(t, model.FallbackIntentID, resp.ResolvedIntent)
	require.Zero(t, resp.ConfidenceScore)
}

func TestResolveEndpointBadRequests(t *testing.T) {
	srv := newTestServer(t)
	srv.Handlers().SetReady()

	// Malformed JSON.
	req := httptest.NewRequest(http.MethodPost, "/resolve-intent", bytes.NewBufferString("{nope"))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, model.ErrCodeInvalidInput, decodeBody[model.APIError](t, rr).Error.Code)

	// Missing command text.
	rr = doJSON(t, srv.Handler(), http.MethodPost, "/resolve-intent", model.ResolveRequest{})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	// Unknown fields are rejected.
	req = httptest.NewRequest(http.MethodPost, "/resolve-intent",
		bytes.NewBufferString(`{"command_text":"x","surprise":true}`))
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	// Context value outside its range comes back as a context error, not an
	// input error.
	capacity := 1.5
	rr = doJSON(t, srv.Handler(), http.MethodPost, "/resolve-intent", model.ResolveRequest{
		CommandText: "transfer 500 to john",
		Context:     &model.ContextSnapshot{SemanticCapacity: &capacity},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, model.ErrCodeInvalidContext, decodeBody[model.APIError](t, rr).Error.Code)
}

func TestResolveEndpointClientGone(t *testing.T) {
	srv := newTestServer(t)
	srv.Handlers().SetReady()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(model.ResolveRequest{
		CommandText: "transfer 500 to john",
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/resolve-intent", &buf).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	// A cancelled client never sees an implicit 200.
	require.Equal(t, 499, rr.Code)
}

func TestFeedbackRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	srv.Handlers().SetReady()

	rr := doJSON(t, srv.Handler(), http.MethodPost, "/resolve-intent", model.ResolveRequest{
		CommandText: "transfer 500 to john",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	resolved := decodeBody[model.ResolveResponse](t, rr)

	ok := true
	rr = doJSON(t, srv.Handler(), http.MethodPost, "/feedback", model.FeedbackRequest{
		RequestID:      resolved.RequestID,
		UserCorrection: "transfer_to_account",
		WasSuccessful:  &ok,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	fb := decodeBody[model.FeedbackResponse](t, rr)
	require.True(t, fb.Success)
	require.Equal(t, model.ActionLoggedForLearning, fb.ActionTaken)
	require.EqualValues(t, 1, fb.LearningStatus.CorrectFeedbacks)

	// The reinforcement shows up in the health counters.
	rr = doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	health := decodeBody[model.HealthResponse](t, rr)
	require.Equal(t, 1, health.MemoryRecords)
	require.Equal(t, "ok", health.Status)
}

func TestFeedbackValidation(t *testing.T) {
	srv := newTestServer(t)
	srv.Handlers().SetReady()

	ok := true
	rr := doJSON(t, srv.Handler(), http.MethodPost, "/feedback", model.FeedbackRequest{
		RequestID:      "not-a-uuid",
		UserCorrection: "x",
		WasSuccessful:  &ok,
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, model.ErrCodeInvalidFeedback, decodeBody[model.APIError](t, rr).Error.Code)

	// was_successful is mandatory.
	rr = doJSON(t, srv.Handler(), http.MethodPost, "/feedback", model.FeedbackRequest{
		RequestID:      "5f1b0a4e-8c3d-4f6a-9b2e-7d8c1a0e4f6b",
		UserCorrection: "x",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReviewQueueLifecycle(t *testing.T) {
	srv := newTestServer(t)
	srv.Handlers().SetReady()

	rr := doJSON(t, srv.Handler(), http.MethodPost, "/resolve-intent", model.ResolveRequest{
		CommandText: "transfer 500 to john",
	})
	resolved := decodeBody[model.ResolveResponse](t, rr)

	notOK := false
	rr = doJSON(t, srv.Handler(), http.MethodPost, "/feedback", model.FeedbackRequest{
		RequestID:      resolved.RequestID,
		UserCorrection: "borrow_money",
		WasSuccessful:  &notOK,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, model.ActionQueuedForReview, decodeBody[model.FeedbackResponse](t, rr).ActionTaken)

	rr = doJSON(t, srv.Handler(), http.MethodGet, "/feedback/review-queue", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	queue := decodeBody[model.ReviewQueueResponse](t, rr)
	require.Equal(t, 1, queue.PendingReviews)
	require.Len(t, queue.Items, 1)
	item := queue.Items[0]
	require.Equal(t, resolved.RequestID, item.RequestID)
	require.Equal(t, "borrow_money", item.UserCorrection)

	rr = doJSON(t, srv.Handler(), http.MethodPost, "/feedback/review-queue/"+item.ItemID+"/reviewed", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, srv.Handler(), http.MethodGet, "/feedback/review-queue", nil)
	queue = decodeBody[model.ReviewQueueResponse](t, rr)
	require.Zero(t, queue.PendingReviews)
	require.NotNil(t, queue.Items)

	// Marking twice is a 404.
	rr = doJSON(t, srv.Handler(), http.MethodPost, "/feedback/review-queue/"+item.ItemID+"/reviewed", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, model.ErrCodeNotFound, decodeBody[model.APIError](t, rr).Error.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.Handlers().SetReady()

	rr := doJSON(t, srv.Handler(), http.MethodGet, "/feedback/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decodeBody[model.StatsResponse](t, rr)
	require.Zero(t, stats.TotalFeedbacks)
	require.False(t, stats.Now.IsZero())
}

func TestErrorEnvelopeCarriesRequestID(t *testing.T) {
	srv := newTestServer(t)
	srv.Handlers().SetReady()

	req := httptest.NewRequest(http.MethodPost, "/resolve-intent", bytes.NewBufferString("{nope"))
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	apiErr := decodeBody[model.APIError](t, rr)
	require.Equal(t, "client-supplied-id", apiErr.Meta.RequestID)
	require.Equal(t, "client-supplied-id", rr.Header().Get("X-Request-ID"))
}
