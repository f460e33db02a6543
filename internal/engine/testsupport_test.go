package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

const testDim = 1536

// unitVec returns a unit vector with a single non-zero axis.
func unitVec(axis int) []float64 {
	v := make([]float64, testDim)
	v[axis] = 1.0
	return v
}

// mixVec returns the normalized sum of two axes, equally similar to both.
func mixVec(axisA, axisB int) []float64 {
	v := make([]float64, testDim)
	v[axisA] = 1.0 / math.Sqrt(2)
	v[axisB] = 1.0 / math.Sqrt(2)
	return v
}

// fakeEmbedder maps text substrings onto fixed vectors so similarity
// outcomes are deterministic. Unmatched texts hash onto a spare axis.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float64
	calls   int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float64)}
}

func (f *fakeEmbedder) on(substring string, vector []float64) *fakeEmbedder {
	f.vectors[substring] = vector
	return f
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for substring, vector := range f.vectors {
		if strings.Contains(text, substring) {
			return vector, nil
		}
	}
	axis := 100
	for _, r := range text {
		axis = (axis + int(r)) % (testDim - 200)
	}
	return unitVec(200 + axis), nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embedder" }

// fakeGenerator returns canned classifier output.
type fakeGenerator struct {
	response string
	err      error
}

func (f *fakeGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return f.response, f.err
}

func (f *fakeGenerator) GetModel() string { return "fake-generator" }

// memStore is an in-memory RecordStore preserving insertion order.
type memStore struct {
	mu      sync.Mutex
	records []types.MemoryRecord
}

func newMemStore() *memStore { return &memStore{} }

func (m *memStore) Insert(ctx context.Context, record *types.MemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == "" || record.Text == "" {
		return storage.ErrInvalidInput
	}
	for _, existing := range m.records {
		if existing.ID == record.ID {
			return fmt.Errorf("duplicate id %s", record.ID)
		}
	}
	m.records = append(m.records, record.Clone())
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.ID == id {
			clone := record.Clone()
			return &clone, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) ScanAll(ctx context.Context) ([]types.MemoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.MemoryRecord, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, record.Clone())
	}
	return out, nil
}

func (m *memStore) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.MemoryRecord], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts.Normalize()

	// Newest first.
	reversed := make([]types.MemoryRecord, 0, len(m.records))
	for i := len(m.records) - 1; i >= 0; i-- {
		clone := m.records[i].Clone()
		clone.Embedding = nil
		reversed = append(reversed, clone)
	}

	start := opts.Offset()
	if start > len(reversed) {
		start = len(reversed)
	}
	end := start + opts.Limit
	if end > len(reversed) {
		end = len(reversed)
	}
	return &storage.PaginatedResult[types.MemoryRecord]{
		Items:    reversed[start:end],
		Total:    len(reversed),
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  end < len(reversed),
	}, nil
}

func (m *memStore) Update(ctx context.Context, id, text string, embeddingVec []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Text = text
			m.records[i].Embedding = append([]float64(nil), embeddingVec...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *memStore) Close() error { return nil }

var _ storage.RecordStore = (*memStore)(nil)

// newTestEngine builds an engine over an in-memory store and the given fake
// providers.
func newTestEngine(embedder *fakeEmbedder, generator llm.TextGenerator, opts Options) (*MemoryEngine, *memStore) {
	cache, err := embedding.NewCache(embedder, 128)
	if err != nil {
		panic(err)
	}
	var classifier *llm.IntentClassifier
	if generator != nil {
		classifier = llm.NewIntentClassifier(generator)
	}
	store := newMemStore()
	return NewMemoryEngine(store, cache, classifier, opts), store
}
