package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/metrics"
	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

type storeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Location string `json:"location"`
}

type storeResponse struct {
	DuplicateDetected     bool     `json:"duplicate_detected"`
	MemoryID              string   `json:"memory_id"`
	ExistingMemoryPreview string   `json:"existing_memory_preview,omitempty"`
	SimilarityScore       *float64 `json:"similarity_score,omitempty"`
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type queryResponse struct {
	Candidates            types.CandidateSet `json:"candidates"`
	ClarificationRequired bool               `json:"clarification_required"`
	ClarificationQuestion string             `json:"clarification_question,omitempty"`
	SessionID             string             `json:"session_id,omitempty"`
}

type clarifyRequest struct {
	SessionID      string `json:"session_id"`
	Query          string `json:"query"`
	ChosenMemoryID string `json:"chosen_memory_id"`
	ChosenPhrase   string `json:"chosen_phrase"`
}

type clarifyResolvedResponse struct {
	ClarificationResolved bool   `json:"clarification_resolved"`
	MemoryID              string `json:"memory_id"`
	Text                  string `json:"text"`
	Language              string `json:"language,omitempty"`
	Timestamp             string `json:"timestamp,omitempty"`
}

type clarifyAnalysisResponse struct {
	ClarificationQuestion string             `json:"clarification_question,omitempty"`
	Message               string             `json:"message,omitempty"`
	SessionID             string             `json:"session_id,omitempty"`
	Candidates            types.CandidateSet `json:"candidates"`
}

type updateRequest struct {
	MemoryID string `json:"memory_id"`
	NewText  string `json:"new_text"`
}

type updateResponse struct {
	Success bool   `json:"success"`
	Before  string `json:"before,omitempty"`
	After   string `json:"after,omitempty"`
}

type deleteRequest struct {
	MemoryID string `json:"memory_id"`
}

type deleteResponse struct {
	Success     bool   `json:"success"`
	DeletedText string `json:"deleted_text,omitempty"`
}

type cancelRequest struct {
	LastInput string `json:"last_input"`
}

type cancelResponse struct {
	TargetMemoryID   string `json:"target_memory_id,omitempty"`
	ConfirmationText string `json:"confirmation_text"`
}

type autoRequest struct {
	Text        string `json:"text"`
	ForceAction string `json:"force_action"`
	Language    string `json:"language"`
}

type autoResponse struct {
	Action     types.DecisionAction `json:"action"`
	Confidence float64              `json:"confidence"`
	Language   string               `json:"language"`
	Reason     string               `json:"reason"`
	Result     any                  `json:"result,omitempty"`
	Message    string               `json:"message,omitempty"`
}

type memorySummary struct {
	MemoryID  string `json:"memory_id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
	Language  string `json:"language,omitempty"`
	Location  string `json:"location,omitempty"`
}

type listResponse struct {
	TotalMemories int             `json:"total_memories"`
	Memories      []memorySummary `json:"memories"`
	Page          int             `json:"page"`
	PageSize      int             `json:"page_size"`
	HasMore       bool            `json:"has_more"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, errorResponse{Error: errType, Message: message, StatusCode: status})
}

// writeEngineError maps engine taxonomy errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, engine.ErrProvider):
		writeError(w, http.StatusServiceUnavailable, "provider_unavailable", err.Error())
	case errors.Is(err, engine.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	default:
		log.Printf("ERROR: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decode[T any](w http.ResponseWriter, r *http.Request, into *T) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return false
	}
	return true
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := s.engine.Store(r.Context(), req.Text, req.Language, req.Location)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if result.Duplicate {
		s.publish(NewEvent(EventMemoryDuplicate, result.MemoryID, result.ExistingPreview))
		score := result.Score
		writeJSON(w, http.StatusConflict, storeResponse{
			DuplicateDetected:     true,
			MemoryID:              result.MemoryID,
			ExistingMemoryPreview: result.ExistingPreview,
			SimilarityScore:       &score,
		})
		return
	}

	s.publish(NewEvent(EventMemoryStored, result.MemoryID, result.Record.Text))
	s.refreshMemoriesGauge(r)
	writeJSON(w, http.StatusCreated, storeResponse{MemoryID: result.MemoryID})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := s.engine.Query(r.Context(), req.Query, req.TopK)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if result.Ambiguous {
		event := NewEvent(EventQueryAmbiguous, "", "")
		event.SessionID = result.SessionID
		s.publish(event)
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Candidates:            result.Candidates,
		ClarificationRequired: result.Ambiguous,
		ClarificationQuestion: result.ClarificationQuestion,
		SessionID:             result.SessionID,
	})
}

// handleClarify serves two shapes of request. With a chosen memory id or
// phrase it resolves the selection against the session (or a fresh query).
// With only a query it reports whether the query is ambiguous and returns
// the candidate set for the caller to choose from.
func (s *Server) handleClarify(w http.ResponseWriter, r *http.Request) {
	var req clarifyRequest
	if !decode(w, r, &req) {
		return
	}

	if req.ChosenMemoryID == "" && req.ChosenPhrase == "" {
		s.handleClarifyAnalysis(w, r, req.Query)
		return
	}

	result, err := s.engine.Clarify(r.Context(), engine.ClarifySelection{
		SessionID:      req.SessionID,
		Query:          req.Query,
		ChosenMemoryID: req.ChosenMemoryID,
		ChosenPhrase:   req.ChosenPhrase,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clarifyResolvedResponse{
		ClarificationResolved: result.Resolved,
		MemoryID:              result.Record.ID,
		Text:                  result.Record.Text,
		Language:              result.Record.Language,
		Timestamp:             result.Record.Timestamp,
	})
}

func (s *Server) handleClarifyAnalysis(w http.ResponseWriter, r *http.Request, query string) {
	result, err := s.engine.Query(r.Context(), query, 0)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := clarifyAnalysisResponse{Candidates: result.Candidates}
	if result.Ambiguous {
		resp.ClarificationQuestion = result.ClarificationQuestion
		resp.SessionID = result.SessionID
	} else {
		resp.Message = "No ambiguity detected - single clear result."
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := s.engine.Cancel(r.Context(), req.LastInput)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{
		TargetMemoryID:   result.TargetMemoryID,
		ConfirmationText: result.ConfirmationText,
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decode(w, r, &req) {
		return
	}

	before, err := s.engine.Get(r.Context(), req.MemoryID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	updated, err := s.engine.Update(r.Context(), req.MemoryID, req.NewText)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.publish(NewEvent(EventMemoryUpdated, updated.ID, updated.Text))
	writeJSON(w, http.StatusOK, updateResponse{
		Success: true,
		Before:  before.Text,
		After:   updated.Text,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !decode(w, r, &req) {
		return
	}

	record, err := s.engine.Get(r.Context(), req.MemoryID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.engine.Delete(r.Context(), req.MemoryID); err != nil {
		writeEngineError(w, err)
		return
	}

	s.publish(NewEvent(EventMemoryDeleted, record.ID, record.Text))
	s.refreshMemoriesGauge(r)
	writeJSON(w, http.StatusOK, deleteResponse{Success: true, DeletedText: record.Text})
}

func (s *Server) handleAuto(w http.ResponseWriter, r *http.Request) {
	var req autoRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := s.engine.Auto(r.Context(), req.Text, req.ForceAction, req.Language)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := autoResponse{
		Action:     result.Decision.Action,
		Confidence: result.Decision.Confidence,
		Language:   result.Decision.Language,
		Reason:     result.Decision.Reason,
		Message:    result.Message,
	}

	status := http.StatusOK
	switch {
	case result.Store != nil && result.Store.Duplicate:
		status = http.StatusConflict
		score := result.Store.Score
		resp.Result = storeResponse{
			DuplicateDetected:     true,
			MemoryID:              result.Store.MemoryID,
			ExistingMemoryPreview: result.Store.ExistingPreview,
			SimilarityScore:       &score,
		}
		s.publish(NewEvent(EventMemoryDuplicate, result.Store.MemoryID, result.Store.ExistingPreview))
	case result.Store != nil:
		status = http.StatusCreated
		resp.Result = storeResponse{MemoryID: result.Store.MemoryID}
		s.publish(NewEvent(EventMemoryStored, result.Store.MemoryID, result.Store.Record.Text))
		s.refreshMemoriesGauge(r)
	case result.Query != nil:
		resp.Result = queryResponse{
			Candidates:            result.Query.Candidates,
			ClarificationRequired: result.Query.Ambiguous,
			ClarificationQuestion: result.Query.ClarificationQuestion,
			SessionID:             result.Query.SessionID,
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	opts := storage.ListOptions{
		Page:  atoiDefault(r.URL.Query().Get("page"), 1),
		Limit: atoiDefault(r.URL.Query().Get("limit"), 20),
	}

	result, err := s.engine.List(r.Context(), opts)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	memories := make([]memorySummary, 0, len(result.Items))
	for _, m := range result.Items {
		memories = append(memories, memorySummary{
			MemoryID:  m.ID,
			Text:      m.Text,
			Timestamp: m.Timestamp,
			Language:  m.Language,
			Location:  m.Location,
		})
	}
	writeJSON(w, http.StatusOK, listResponse{
		TotalMemories: result.Total,
		Memories:      memories,
		Page:          result.Page,
		PageSize:      result.PageSize,
		HasMore:       result.HasMore,
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	record, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memorySummary{
		MemoryID:  record.ID,
		Text:      record.Text,
		Timestamp: record.Timestamp,
		Language:  record.Language,
		Location:  record.Location,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.Export(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	items := make([]memorySummary, 0, len(records))
	for _, m := range records {
		items = append(items, memorySummary{
			MemoryID:  m.ID,
			Text:      m.Text,
			Timestamp: m.Timestamp,
			Language:  m.Language,
			Location:  m.Location,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(items),
		"items": items,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.CacheStats()
	metrics.EmbeddingCacheEntries.Set(float64(stats.Size))
	writeJSON(w, http.StatusOK, map[string]any{
		"cache_statistics": stats,
		"status":           "healthy",
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	removed := s.engine.ClearCache()
	metrics.EmbeddingCacheEntries.Set(0)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Cache cleared successfully",
		"items_removed": removed,
		"status":        "success",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// refreshMemoriesGauge updates the corpus size gauge after a mutation.
func (s *Server) refreshMemoriesGauge(r *http.Request) {
	count, err := s.engine.Count(r.Context())
	if err != nil {
		log.Printf("WARNING: failed to refresh memory count: %v", err)
		return
	}
	metrics.MemoriesTotal.Set(float64(count))
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
