// Package engine implements the semantic memory core: duplicate-aware
// storage, cosine similarity retrieval, ambiguity detection with
// clarification sessions, and per-caller rate limiting.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

// cancelThreshold is the minimum similarity before a memory is offered as a
// cancellation target.
const cancelThreshold = 0.7

// maxTopK bounds how many results a single query may request.
const maxTopK = 100

// Options tunes the engine thresholds. Zero values fall back to the
// defaults documented on each field.
type Options struct {
	DuplicateThreshold float64       // default 0.85
	AmbiguityGap       float64       // default 0.05
	MinCandidates      int           // default 2
	TopK               int           // default 5
	SessionTTL         time.Duration // default 300s
	ConfidenceMin      float64       // default 0.75
}

// OptionsFromConfig maps the retrieval and provider config onto engine
// options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DuplicateThreshold: cfg.Retrieval.DuplicateThreshold,
		AmbiguityGap:       cfg.Retrieval.AmbiguityGap,
		MinCandidates:      cfg.Retrieval.MinCandidates,
		TopK:               cfg.Retrieval.TopK,
		SessionTTL:         cfg.Retrieval.SessionTTL,
		ConfidenceMin:      cfg.Provider.ConfidenceMin,
	}
}

func (o *Options) normalize() {
	if o.DuplicateThreshold <= 0 {
		o.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if o.AmbiguityGap <= 0 {
		o.AmbiguityGap = DefaultAmbiguityGap
	}
	if o.MinCandidates < 2 {
		o.MinCandidates = DefaultMinCandidates
	}
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}
	if o.ConfidenceMin <= 0 {
		o.ConfidenceMin = 0.75
	}
}

// StoreResult is the outcome of a store request. Exactly one of "inserted"
// or "duplicate reported" happens per call; a duplicate carries the existing
// record's id, text, and the similarity that tripped the threshold.
type StoreResult struct {
	MemoryID        string
	Duplicate       bool
	ExistingPreview string
	Score           float64
	Record          types.MemoryRecord
}

// QueryResult carries ranked candidates plus the clarification state when
// the top results are too close to call.
type QueryResult struct {
	Candidates            types.CandidateSet
	Ambiguous             bool
	ClarificationQuestion string
	SessionID             string
}

// ClarifySelection identifies which clarification candidate the caller
// means, either directly by id or by a free-text phrase matched against the
// session's (or a fresh query's) candidates.
type ClarifySelection struct {
	SessionID      string
	Query          string
	ChosenMemoryID string
	ChosenPhrase   string
}

// ClarifyResult is the resolved record for a clarification selection.
type ClarifyResult struct {
	Resolved bool
	Record   types.MemoryRecord
}

// CancelResult names the memory a cancellation request most likely targets.
// TargetMemoryID is empty when nothing matched closely enough.
type CancelResult struct {
	TargetMemoryID   string
	ConfirmationText string
}

// AutoResult is the outcome of the auto decision flow: the classification
// plus whichever operation it triggered.
type AutoResult struct {
	Decision types.Decision
	Store    *StoreResult
	Query    *QueryResult
	Message  string
}

// MemoryEngine coordinates the embedding cache, record store, and
// clarification sessions behind one facade. Construct once at startup and
// share across requests; all methods are safe for concurrent use.
type MemoryEngine struct {
	store      storage.RecordStore
	embeddings *embedding.Cache
	classifier *llm.IntentClassifier
	sessions   *SessionStore
	opts       Options

	// writeMu serializes the dedup scan with the following insert so two
	// concurrent stores of near-identical text cannot both pass the scan.
	// Embedding happens before the lock is taken.
	writeMu sync.Mutex
}

// NewMemoryEngine creates the engine. The classifier may be nil, in which
// case Auto returns an error; everything else works without it.
func NewMemoryEngine(store storage.RecordStore, embeddings *embedding.Cache, classifier *llm.IntentClassifier, opts Options) *MemoryEngine {
	opts.normalize()
	return &MemoryEngine{
		store:      store,
		embeddings: embeddings,
		classifier: classifier,
		sessions:   NewSessionStore(opts.SessionTTL),
		opts:       opts,
	}
}

// Sessions exposes the clarification session store, mainly for tests.
func (e *MemoryEngine) Sessions() *SessionStore {
	return e.sessions
}

// embed runs the text through the cache and maps provider failures onto the
// engine error taxonomy.
func (e *MemoryEngine) embed(ctx context.Context, text string) ([]float64, error) {
	vector, err := e.embeddings.GetOrCompute(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return vector, nil
}

func (e *MemoryEngine) scanAll(ctx context.Context) ([]types.MemoryRecord, error) {
	records, err := e.store.ScanAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return records, nil
}

// Store embeds the text, scans for a near-duplicate, and either reports the
// first existing record at or above the duplicate threshold or inserts a new
// record. The scan and insert run under a single writer lock.
func (e *MemoryEngine) Store(ctx context.Context, text, language, location string) (*StoreResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	}
	if language == "" {
		language = "he"
	}

	vector, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	records, err := e.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	match, err := findDuplicate(vector, records, e.opts.DuplicateThreshold)
	if err != nil {
		return nil, err
	}
	if match != nil {
		log.Printf("duplicate detected: new text matches memory %s (score %.4f)", match.Existing.ID, match.Score)
		return &StoreResult{
			MemoryID:        match.Existing.ID,
			Duplicate:       true,
			ExistingPreview: match.Existing.Text,
			Score:           match.Score,
			Record:          match.Existing,
		}, nil
	}

	record := types.MemoryRecord{
		ID:        uuid.NewString(),
		Text:      text,
		Embedding: vector,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Language:  language,
		Location:  location,
	}
	if err := e.store.Insert(ctx, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	log.Printf("stored memory %s (%d chars, language=%s)", record.ID, len(text), language)
	return &StoreResult{MemoryID: record.ID, Record: record}, nil
}

// Query embeds the query, ranks every stored record by cosine similarity,
// and returns the top results. When at least MinCandidates results exist and
// the top two scores sit within the ambiguity gap, a clarification question
// and session are returned alongside the candidates.
func (e *MemoryEngine) Query(ctx context.Context, query string, topK int) (*QueryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if topK <= 0 {
		topK = e.opts.TopK
	}
	if topK > maxTopK {
		return nil, fmt.Errorf("%w: top_k must be between 1 and %d", ErrInvalidInput, maxTopK)
	}

	scored, err := e.rankQuery(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	candidates := toCandidates(scored)
	result := &QueryResult{Candidates: candidates}
	if isAmbiguous(scored, e.opts.AmbiguityGap, e.opts.MinCandidates) {
		result.Ambiguous = true
		result.ClarificationQuestion = clarificationQuestion(candidates)
		result.SessionID = e.sessions.Create(query, candidates)
		log.Printf("ambiguous query: top scores %.4f/%.4f, session %s created",
			scored[0].Score, scored[1].Score, result.SessionID)
	}
	return result, nil
}

func (e *MemoryEngine) rankQuery(ctx context.Context, query string, topK int) ([]ScoredRecord, error) {
	vector, err := e.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	records, err := e.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	scored, err := Rank(vector, records, topK)
	if err != nil {
		return nil, err
	}
	return scored, nil
}

// Clarify resolves a clarification selection. A chosen memory id wins
// outright; otherwise the phrase is matched against the session's candidates
// (or a fresh retrieval for the query) by word overlap, falling back to
// embedding similarity when no words overlap at all.
func (e *MemoryEngine) Clarify(ctx context.Context, sel ClarifySelection) (*ClarifyResult, error) {
	if id := strings.TrimSpace(sel.ChosenMemoryID); id != "" {
		record, err := e.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &ClarifyResult{Resolved: true, Record: *record}, nil
	}

	phrase := strings.TrimSpace(sel.ChosenPhrase)
	if phrase == "" {
		return nil, fmt.Errorf("%w: either chosen_memory_id or chosen_phrase is required", ErrInvalidInput)
	}

	candidates, err := e.clarifyCandidates(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates to resolve against", ErrInvalidInput)
	}

	idx := bestByOverlap(candidates, phrase)
	if idx < 0 {
		idx, err = e.bestBySimilarity(ctx, candidates, phrase)
		if err != nil {
			return nil, err
		}
	}

	record, err := e.Get(ctx, candidates[idx].MemoryID)
	if err != nil {
		return nil, err
	}
	return &ClarifyResult{Resolved: true, Record: *record}, nil
}

func (e *MemoryEngine) clarifyCandidates(ctx context.Context, sel ClarifySelection) (types.CandidateSet, error) {
	if sessionID := strings.TrimSpace(sel.SessionID); sessionID != "" {
		candidates, ok := e.sessions.Get(sessionID)
		if !ok {
			return nil, fmt.Errorf("%w: session unknown or expired", ErrInvalidInput)
		}
		return candidates, nil
	}
	if query := strings.TrimSpace(sel.Query); query != "" {
		scored, err := e.rankQuery(ctx, query, e.opts.TopK)
		if err != nil {
			return nil, err
		}
		return toCandidates(scored), nil
	}
	return nil, fmt.Errorf("%w: either session_id or query is required", ErrInvalidInput)
}

// bestBySimilarity embeds the phrase and each candidate text and picks the
// closest. Candidate embeddings go through the cache, so texts already
// stored are usually free.
func (e *MemoryEngine) bestBySimilarity(ctx context.Context, candidates types.CandidateSet, phrase string) (int, error) {
	phraseVec, err := e.embed(ctx, phrase)
	if err != nil {
		return 0, err
	}
	bestIdx := 0
	bestScore := -1.0
	for i, c := range candidates {
		vec, err := e.embed(ctx, c.Text)
		if err != nil {
			return 0, err
		}
		score, err := CosineSimilarity(phraseVec, vec)
		if err != nil {
			return 0, err
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return bestIdx, nil
}

// Cancel finds the memory most similar to the caller's last input and, when
// the match is strong enough, offers it for cancellation. Nothing is
// deleted here; callers confirm and then call Delete.
func (e *MemoryEngine) Cancel(ctx context.Context, lastInput string) (*CancelResult, error) {
	lastInput = strings.TrimSpace(lastInput)
	if lastInput == "" {
		return nil, fmt.Errorf("%w: last input cannot be empty", ErrInvalidInput)
	}

	scored, err := e.rankQuery(ctx, lastInput, 1)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		return &CancelResult{
			ConfirmationText: fmt.Sprintf("No recent memory found matching '%s'. Nothing to cancel.", lastInput),
		}, nil
	}

	best := scored[0]
	if best.Score <= cancelThreshold {
		return &CancelResult{
			ConfirmationText: fmt.Sprintf("No clear match found for '%s'. Please be more specific about what to cancel.", lastInput),
		}, nil
	}
	return &CancelResult{
		TargetMemoryID:   best.Record.ID,
		ConfirmationText: fmt.Sprintf("Do you mean to cancel '%s'?", best.Record.Text),
	}, nil
}

// Update replaces the text and embedding of an existing memory. ID and
// timestamp are retained.
func (e *MemoryEngine) Update(ctx context.Context, id, text string) (*types.MemoryRecord, error) {
	id = strings.TrimSpace(id)
	text = strings.TrimSpace(text)
	if id == "" {
		return nil, fmt.Errorf("%w: memory id cannot be empty", ErrInvalidInput)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	}

	vector, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.store.Update(ctx, id, text, vector); err != nil {
		return nil, e.storageErr(err)
	}
	return e.Get(ctx, id)
}

// Delete permanently removes a memory.
func (e *MemoryEngine) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: memory id cannot be empty", ErrInvalidInput)
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return e.storageErr(err)
	}
	log.Printf("deleted memory %s", id)
	return nil
}

// Get fetches a single memory by id.
func (e *MemoryEngine) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	record, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, e.storageErr(err)
	}
	return record, nil
}

// List returns stored memories without embeddings, paginated newest first.
func (e *MemoryEngine) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.MemoryRecord], error) {
	result, err := e.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return result, nil
}

// Export returns every stored memory including embeddings, in insertion
// order.
func (e *MemoryEngine) Export(ctx context.Context) ([]types.MemoryRecord, error) {
	return e.scanAll(ctx)
}

// Count returns the number of stored memories.
func (e *MemoryEngine) Count(ctx context.Context) (int, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return count, nil
}

// Auto classifies free-form input and dispatches to Store or Query. A
// forceAction of "store" or "retrieve" skips classification. Confidence
// below the floor downgrades to clarify, as does any malformed classifier
// output.
func (e *MemoryEngine) Auto(ctx context.Context, text, forceAction, language string) (*AutoResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	}

	decision, err := e.decide(ctx, text, forceAction)
	if err != nil {
		return nil, err
	}
	if language == "" {
		language = decision.Language
	}

	result := &AutoResult{Decision: decision}
	switch decision.Action {
	case types.ActionStore:
		store, err := e.Store(ctx, text, language, "")
		if err != nil {
			return nil, err
		}
		result.Store = store
	case types.ActionRetrieve:
		query, err := e.Query(ctx, text, e.opts.TopK)
		if err != nil {
			return nil, err
		}
		result.Query = query
	case types.ActionClarify:
		result.Message = "I'm not sure whether you want to save this or look something up. Could you rephrase?"
	}
	return result, nil
}

func (e *MemoryEngine) decide(ctx context.Context, text, forceAction string) (types.Decision, error) {
	if forceAction != "" {
		action := types.DecisionAction(forceAction)
		if !action.Valid() {
			return types.Decision{}, fmt.Errorf("%w: unknown force_action %q", ErrInvalidInput, forceAction)
		}
		return types.Decision{
			Action:         action,
			Confidence:     1.0,
			Language:       "en",
			Reason:         "forced by caller",
			NormalizedText: text,
		}, nil
	}

	if e.classifier == nil {
		return types.Decision{}, fmt.Errorf("%w: no classification provider configured", ErrProvider)
	}
	decision, err := e.classifier.Classify(ctx, text)
	if err != nil {
		return types.Decision{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if decision.Action != types.ActionClarify && decision.Confidence < e.opts.ConfidenceMin {
		log.Printf("classifier confidence %.2f below floor %.2f, downgrading to clarify",
			decision.Confidence, e.opts.ConfidenceMin)
		return types.ClarifyDecision(text, fmt.Sprintf("confidence %.2f below %.2f", decision.Confidence, e.opts.ConfidenceMin)), nil
	}
	return decision, nil
}

// CacheStats reports embedding cache occupancy.
func (e *MemoryEngine) CacheStats() embedding.Stats {
	return e.embeddings.Stats()
}

// ClearCache drops every cached embedding and returns how many were
// removed.
func (e *MemoryEngine) ClearCache() int {
	removed := e.embeddings.Clear()
	log.Printf("embedding cache cleared, %d entries removed", removed)
	return removed
}

// storageErr maps storage sentinels onto the engine taxonomy.
func (e *MemoryEngine) storageErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, storage.ErrInvalidInput):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	default:
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
}

func toCandidates(scored []ScoredRecord) types.CandidateSet {
	candidates := make(types.CandidateSet, 0, len(scored))
	for _, s := range scored {
		candidates = append(candidates, types.Candidate{
			MemoryID:        s.Record.ID,
			Text:            s.Record.Text,
			SimilarityScore: s.Score,
		})
	}
	return candidates
}
