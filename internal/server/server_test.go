package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

const testDim = 64

func unitVec(axis int) []float64 {
	v := make([]float64, testDim)
	v[axis] = 1.0
	return v
}

func mixVec(a, b int) []float64 {
	v := make([]float64, testDim)
	v[a] = 1.0 / math.Sqrt2
	v[b] = 1.0 / math.Sqrt2
	return v
}

// embedRule maps texts containing a substring onto a fixed vector.
type embedRule struct {
	substr string
	vector []float64
}

// fakeEmbedder returns the first matching rule's vector, or a deterministic
// axis derived from the text when no rule matches.
type fakeEmbedder struct {
	rules []embedRule
}

func (f *fakeEmbedder) on(substr string, vector []float64) *fakeEmbedder {
	f.rules = append(f.rules, embedRule{substr: substr, vector: vector})
	return f
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	for _, rule := range f.rules {
		if strings.Contains(text, rule.substr) {
			return rule.vector, nil
		}
	}
	sum := 0
	for _, r := range text {
		sum += int(r)
	}
	return unitVec(8 + sum%(testDim-8)), nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embed" }

type fakeGenerator struct {
	response string
}

func (f *fakeGenerator) Complete(context.Context, string) (string, error) { return f.response, nil }
func (f *fakeGenerator) GetModel() string                                 { return "fake-chat" }

// memStore is an in-memory RecordStore preserving insertion order.
type memStore struct {
	mu      sync.Mutex
	records []types.MemoryRecord
}

func (s *memStore) Insert(_ context.Context, record *types.MemoryRecord) error {
	if record == nil || record.ID == "" || record.Text == "" {
		return fmt.Errorf("%w: id and text are required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.ID == record.ID {
			return fmt.Errorf("duplicate id %s", record.ID)
		}
	}
	s.records = append(s.records, record.Clone())
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*types.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			clone := s.records[i].Clone()
			return &clone, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *memStore) ScanAll(context.Context) ([]types.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.MemoryRecord, 0, len(s.records))
	for i := range s.records {
		out = append(out, s.records[i].Clone())
	}
	return out, nil
}

func (s *memStore) List(_ context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.MemoryRecord], error) {
	opts.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []types.MemoryRecord
	for i := len(s.records) - 1 - opts.Offset(); i >= 0 && len(items) < opts.Limit; i-- {
		clone := s.records[i].Clone()
		clone.Embedding = nil
		items = append(items, clone)
	}
	return &storage.PaginatedResult[types.MemoryRecord]{
		Items:    items,
		Total:    len(s.records),
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < len(s.records),
	}, nil
}

func (s *memStore) Update(_ context.Context, id, text string, emb []float64) error {
	if id == "" || text == "" {
		return fmt.Errorf("%w: id and text are required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].Text = text
			s.records[i].Embedding = append([]float64(nil), emb...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *memStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

func (s *memStore) Close() error { return nil }

type serverOption func(*config.Config)

func withAPIKeys(keys string) serverOption {
	return func(cfg *config.Config) { cfg.Security.APIKeys = keys }
}

func withRateLimit(window, max int) serverOption {
	return func(cfg *config.Config) {
		cfg.RateLimit.WindowSeconds = window
		cfg.RateLimit.MaxRequests = max
	}
}

func newTestServer(t *testing.T, embedder *fakeEmbedder, generator llm.TextGenerator, opts ...serverOption) http.Handler {
	t.Helper()

	cfg := &config.Config{
		Retrieval: config.RetrievalConfig{
			DuplicateThreshold: 0.85,
			AmbiguityGap:       0.05,
			MinCandidates:      2,
			TopK:               5,
		},
		RateLimit: config.RateLimitConfig{WindowSeconds: 60, MaxRequests: 1000},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	cache, err := embedding.NewCache(embedder, 128)
	require.NoError(t, err)

	var classifier *llm.IntentClassifier
	if generator != nil {
		classifier = llm.NewIntentClassifier(generator)
	}

	eng := engine.NewMemoryEngine(&memStore{}, cache, classifier, engine.OptionsFromConfig(cfg))
	return New(cfg, eng).Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStoreThenDuplicate(t *testing.T) {
	embedder := (&fakeEmbedder{}).on("red pen", unitVec(0))
	handler := newTestServer(t, embedder, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/store",
		map[string]string{"text": "I bought a red pen"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeBody(t, rec)
	memoryID := first["memory_id"].(string)
	require.NotEmpty(t, memoryID)
	assert.NotEqual(t, true, first["duplicate_detected"])

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/store",
		map[string]string{"text": "Bought a red pen today"}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	dup := decodeBody(t, rec)
	assert.Equal(t, true, dup["duplicate_detected"])
	assert.Equal(t, memoryID, dup["memory_id"])
	assert.Equal(t, "I bought a red pen", dup["existing_memory_preview"])
	assert.GreaterOrEqual(t, dup["similarity_score"].(float64), 0.97)
}

func TestStoreEmptyText(t *testing.T) {
	handler := newTestServer(t, &fakeEmbedder{}, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/store",
		map[string]string{"text": "   "}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decodeBody(t, rec)["error"])
}

func TestMalformedJSONBody(t *testing.T) {
	handler := newTestServer(t, &fakeEmbedder{}, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/store", `{"text": `, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformed JSON body", decodeBody(t, rec)["message"])
}

// daliaHandler seeds the ambiguous two-memory corpus used by the query and
// clarify flows.
func daliaHandler(t *testing.T) http.Handler {
	t.Helper()
	embedder := (&fakeEmbedder{}).
		on("from work", unitVec(0)).
		on("Aunt", unitVec(1)).
		on("What is Dalia's code?", mixVec(0, 1))
	handler := newTestServer(t, embedder, nil)

	for _, text := range []string{
		"Code for Dalia from work is 1234",
		"Code for Aunt Dalia is 2580",
	} {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/store",
			map[string]string{"text": text}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	return handler
}

func TestQueryAmbiguousThenClarifyByPhrase(t *testing.T) {
	handler := daliaHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/query",
		map[string]any{"query": "What is Dalia's code?"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	query := decodeBody(t, rec)
	require.Equal(t, true, query["clarification_required"])
	assert.Contains(t, query["clarification_question"].(string), "Dalia")
	sessionID := query["session_id"].(string)
	require.NotEmpty(t, sessionID)
	require.Len(t, query["candidates"].([]any), 2)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/clarify",
		map[string]string{"session_id": sessionID, "chosen_phrase": "the one for Aunt Dalia"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decodeBody(t, rec)
	assert.Equal(t, true, resolved["clarification_resolved"])
	assert.Equal(t, "Code for Aunt Dalia is 2580", resolved["text"])
}

func TestClarifyByChosenMemoryID(t *testing.T) {
	handler := daliaHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/query",
		map[string]any{"query": "What is Dalia's code?"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	candidates := decodeBody(t, rec)["candidates"].([]any)
	chosen := candidates[0].(map[string]any)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/clarify",
		map[string]string{"chosen_memory_id": chosen["memory_id"].(string)}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decodeBody(t, rec)
	assert.Equal(t, true, resolved["clarification_resolved"])
	assert.Equal(t, chosen["text"], resolved["text"])
}

func TestClarifyUnknownMemoryID(t *testing.T) {
	handler := daliaHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/clarify",
		map[string]string{"chosen_memory_id": "no-such-memory"}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])
}

func TestClarifyAnalysisWithoutSelection(t *testing.T) {
	handler := daliaHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/clarify",
		map[string]string{"query": "What is Dalia's code?"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	analysis := decodeBody(t, rec)
	assert.NotEmpty(t, analysis["clarification_question"])
	assert.NotEmpty(t, analysis["session_id"])

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/clarify",
		map[string]string{"query": "code from work"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	clear := decodeBody(t, rec)
	assert.Equal(t, "No ambiguity detected - single clear result.", clear["message"])
	assert.Empty(t, clear["session_id"])
}

func TestCancelFindsTarget(t *testing.T) {
	embedder := (&fakeEmbedder{}).on("red pen", unitVec(0))
	handler := newTestServer(t, embedder, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/store",
		map[string]string{"text": "I bought a red pen"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	memoryID := decodeBody(t, rec)["memory_id"].(string)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cancel",
		map[string]string{"last_input": "forget the red pen thing"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cancel := decodeBody(t, rec)
	assert.Equal(t, memoryID, cancel["target_memory_id"])
	assert.Contains(t, cancel["confirmation_text"], "Do you mean to cancel")
}

func TestCancelNoMatch(t *testing.T) {
	handler := newTestServer(t, &fakeEmbedder{}, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cancel",
		map[string]string{"last_input": "forget that"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cancel := decodeBody(t, rec)
	assert.Empty(t, cancel["target_memory_id"])
	assert.Contains(t, cancel["confirmation_text"], "Nothing to cancel")
}

func TestUpdateAndDelete(t *testing.T) {
	embedder := (&fakeEmbedder{}).on("wifi", unitVec(0))
	handler := newTestServer(t, embedder, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/store",
		map[string]string{"text": "The wifi password is hunter2"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	memoryID := decodeBody(t, rec)["memory_id"].(string)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/update",
		map[string]string{"memory_id": memoryID, "new_text": "The wifi password is hunter3"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody(t, rec)
	assert.Equal(t, true, updated["success"])
	assert.Equal(t, "The wifi password is hunter2", updated["before"])
	assert.Equal(t, "The wifi password is hunter3", updated["after"])

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/delete",
		map[string]string{"memory_id": memoryID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deleted := decodeBody(t, rec)
	assert.Equal(t, true, deleted["success"])
	assert.Equal(t, "The wifi password is hunter3", deleted["deleted_text"])

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/memories/"+memoryID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndExport(t *testing.T) {
	embedder := (&fakeEmbedder{}).
		on("alpha", unitVec(0)).
		on("beta", unitVec(1)).
		on("gamma", unitVec(2))
	handler := newTestServer(t, embedder, nil)

	for _, text := range []string{"note alpha", "note beta", "note gamma"} {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/store",
			map[string]string{"text": text}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/memories?page=1&limit=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody(t, rec)
	assert.Equal(t, float64(3), list["total_memories"])
	assert.Equal(t, true, list["has_more"])
	memories := list["memories"].([]any)
	require.Len(t, memories, 2)
	assert.Equal(t, "note gamma", memories[0].(map[string]any)["text"])
	assert.Equal(t, "note beta", memories[1].(map[string]any)["text"])

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/export", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	export := decodeBody(t, rec)
	assert.Equal(t, float64(3), export["count"])
	items := export["items"].([]any)
	require.Len(t, items, 3)
	assert.Equal(t, "note alpha", items[0].(map[string]any)["text"])
	_, hasEmbedding := items[0].(map[string]any)["embedding"]
	assert.False(t, hasEmbedding)
}

func TestGetMemoryByID(t *testing.T) {
	embedder := (&fakeEmbedder{}).on("alpha", unitVec(0))
	handler := newTestServer(t, embedder, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/store",
		map[string]string{"text": "note alpha", "language": "en"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	memoryID := decodeBody(t, rec)["memory_id"].(string)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/memories/"+memoryID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	memory := decodeBody(t, rec)
	assert.Equal(t, memoryID, memory["memory_id"])
	assert.Equal(t, "note alpha", memory["text"])
	assert.Equal(t, "en", memory["language"])
}

func TestQueryTopKOutOfRange(t *testing.T) {
	handler := newTestServer(t, &fakeEmbedder{}, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/query",
		map[string]any{"query": "anything", "top_k": 1000}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAutoStoreAction(t *testing.T) {
	generator := &fakeGenerator{
		response: `{"action": "store", "confidence": 0.95, "language": "en", "reason": "statement of fact"}`,
	}
	embedder := (&fakeEmbedder{}).on("red pen", unitVec(0))
	handler := newTestServer(t, embedder, generator)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auto",
		map[string]string{"text": "I bought a red pen"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	auto := decodeBody(t, rec)
	assert.Equal(t, "store", auto["action"])
	assert.Equal(t, 0.95, auto["confidence"])
	result := auto["result"].(map[string]any)
	assert.NotEmpty(t, result["memory_id"])
}

func TestAutoRetrieveAction(t *testing.T) {
	generator := &fakeGenerator{
		response: `{"action": "retrieve", "confidence": 0.9, "language": "en", "reason": "question"}`,
	}
	embedder := (&fakeEmbedder{}).on("red pen", unitVec(0))
	handler := newTestServer(t, embedder, generator)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/store",
		map[string]string{"text": "I bought a red pen"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auto",
		map[string]string{"text": "what did I buy? the red pen?"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	auto := decodeBody(t, rec)
	assert.Equal(t, "retrieve", auto["action"])
	result := auto["result"].(map[string]any)
	require.Len(t, result["candidates"].([]any), 1)
}

func TestAutoLowConfidenceClarifies(t *testing.T) {
	generator := &fakeGenerator{
		response: `{"action": "store", "confidence": 0.4, "language": "en", "reason": "unsure"}`,
	}
	handler := newTestServer(t, &fakeEmbedder{}, generator)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auto",
		map[string]string{"text": "hmm, the thing"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	auto := decodeBody(t, rec)
	assert.Equal(t, "clarify", auto["action"])
	assert.NotEmpty(t, auto["message"])

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/memories", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["total_memories"])
}

func TestAutoWithoutClassifier(t *testing.T) {
	handler := newTestServer(t, &fakeEmbedder{}, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auto",
		map[string]string{"text": "remember this"}, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "provider_unavailable", decodeBody(t, rec)["error"])
}

func TestAutoForceActionSkipsClassifier(t *testing.T) {
	embedder := (&fakeEmbedder{}).on("red pen", unitVec(0))
	handler := newTestServer(t, embedder, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auto",
		map[string]string{"text": "I bought a red pen", "force_action": "store"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	auto := decodeBody(t, rec)
	assert.Equal(t, "store", auto["action"])
	assert.Equal(t, float64(1), auto["confidence"])
}

func TestAuthRequired(t *testing.T) {
	handler := newTestServer(t, &fakeEmbedder{}, nil, withAPIKeys("secret-key, other-key"))

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/memories", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/memories", nil,
		map[string]string{"X-API-Key": "wrong-key"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/memories", nil,
		map[string]string{"X-API-Key": "other-key"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Health stays open regardless of configured keys.
	rec = doJSON(t, handler, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPerKeyRateLimit(t *testing.T) {
	handler := newTestServer(t, &fakeEmbedder{}, nil,
		withAPIKeys("limited-key,free-key"), withRateLimit(60, 3))

	for i := 0; i < 3; i++ {
		rec := doJSON(t, handler, http.MethodGet, "/api/v1/memories", nil,
			map[string]string{"X-API-Key": "limited-key"})
		require.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/memories", nil,
		map[string]string{"X-API-Key": "limited-key"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeBody(t, rec)["error"])

	// Another key has its own window.
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/memories", nil,
		map[string]string{"X-API-Key": "free-key"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	handler := newTestServer(t, &fakeEmbedder{}, nil)

	rec := doJSON(t, handler, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody(t, rec)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "engram", health["service"])
}

func TestSecurityHeaders(t *testing.T) {
	handler := newTestServer(t, &fakeEmbedder{}, nil)

	rec := doJSON(t, handler, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestWebSocketEventFeed(t *testing.T) {
	embedder := (&fakeEmbedder{}).on("red pen", unitVec(0))
	cfg := &config.Config{
		Retrieval: config.RetrievalConfig{
			DuplicateThreshold: 0.85,
			AmbiguityGap:       0.05,
			MinCandidates:      2,
			TopK:               5,
		},
		RateLimit: config.RateLimitConfig{WindowSeconds: 60, MaxRequests: 1000},
		Features:  config.FeaturesConfig{EnableEvents: true},
	}
	cache, err := embedding.NewCache(embedder, 128)
	require.NoError(t, err)
	eng := engine.NewMemoryEngine(&memStore{}, cache, nil, engine.OptionsFromConfig(cfg))
	srv := New(cfg, eng)
	handler := srv.Handler()

	ts := httptest.NewServer(handler)
	defer ts.Close()
	defer func() { _ = srv.Shutdown(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err, "upgrade must succeed through the full middleware chain")
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The handler registers the subscriber after the handshake completes.
	require.Eventually(t, func() bool {
		srv.hub.mu.Lock()
		defer srv.hub.mu.Unlock()
		return len(srv.hub.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/store",
		map[string]string{"text": "I bought a red pen"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	memoryID := decodeBody(t, rec)["memory_id"].(string)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, EventMemoryStored, event.Type)
	assert.Equal(t, memoryID, event.MemoryID)
	assert.Equal(t, "I bought a red pen", event.Preview)
}

func TestCacheStatsAndClear(t *testing.T) {
	embedder := (&fakeEmbedder{}).on("alpha", unitVec(0))
	handler := newTestServer(t, embedder, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/store",
		map[string]string{"text": "note alpha"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/admin/cache/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody(t, rec)
	assert.Equal(t, "healthy", stats["status"])

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/admin/cache/clear", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := decodeBody(t, rec)
	assert.Equal(t, "success", cleared["status"])
	assert.Equal(t, float64(1), cleared["items_removed"])
}
