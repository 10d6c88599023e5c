// Package api serves the partner-facing HTTP endpoints.
package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"blitz-workers/internal/common/auth"
	"blitz-workers/internal/common/errors"
	"blitz-workers/internal/common/logger"
	"blitz-workers/internal/models"
	partnerrecords "blitz-workers/internal/workers/data-access/partner-records"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rs/cors"
)

const (
	EndpointGenerateInsights = "generate_insights"
	EndpointConversation     = "conversation"

	insightCachePrefix = "blitz:insight:"
)

type Answerer interface {
	Answer(ctx context.Context, q models.Question) *models.TurnOutcome
}

// CallRecorder audits partner calls and stores their feedback.
type CallRecorder interface {
	RecordCall(ctx context.Context, record *models.CallRecord) (string, error)
	RecordFeedback(ctx context.Context, feedback models.Feedback) error
}

type InsightCache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type Config struct {
	AllowedOrigins []string
	DefaultLeague  models.League
	CacheTTL       time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

type Server struct {
	config   *Config
	answerer Answerer
	calls    CallRecorder
	cache    InsightCache
	keys     *auth.APIKeys
	logger   logger.Logger
}

// NewServer wires the endpoints. cache may be nil.
func NewServer(config *Config, answerer Answerer, calls CallRecorder, cache InsightCache, keys *auth.APIKeys, log logger.Logger) *Server {
	if config.DefaultLeague == "" {
		config.DefaultLeague = models.LeagueMLB
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	return &Server{
		config:   config,
		answerer: answerer,
		calls:    calls,
		cache:    cache,
		keys:     keys,
		logger:   log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate-insights", s.handleGenerateInsights)
	mux.HandleFunc("POST /conversation", s.handleConversation)
	mux.HandleFunc("POST /feedback", s.handleFeedback)

	var handler http.Handler = s.keys.Middleware(mux)
	handler = s.recoverer(handler)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", auth.HeaderAPIKey},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(handler)
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleGenerateInsights(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInsight(w, r)
	if !ok {
		return
	}
	partner := s.partner(r.Context(), req)

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	q := req.question(s.config.DefaultLeague)
	q.SkipClarification = true
	q.History = models.History{}

	record := s.newRecord(EndpointGenerateInsights, partner, req)
	key := cacheKey(partner, q)

	var cached InsightResponse
	if s.lookup(ctx, key, &cached) {
		record.SQLQuery = cached.SQLQuery
		record.ResponseText = cached.Response
		cached.CallID = s.audit(ctx, record)
		writeJSON(w, http.StatusOK, cached)
		return
	}

	turn := s.answerer.Answer(ctx, q)
	if turn == nil || turn.Fatal() || turn.Payload == nil {
		s.writeTurnError(ctx, w, record, turn)
		return
	}

	resp := insightResponse(turn)
	s.store(ctx, key, resp)

	record.SQLQuery = resp.SQLQuery
	record.ResponseText = resp.Response
	resp.CallID = s.audit(ctx, record)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInsight(w, r)
	if !ok {
		return
	}
	partner := s.partner(r.Context(), req)

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	q := req.question(s.config.DefaultLeague)
	q.SessionID = SessionID(partner, string(req.UserID), string(req.ConversationID))

	record := s.newRecord(EndpointConversation, partner, req)

	turn := s.answerer.Answer(ctx, q)
	if turn != nil && turn.Outcome == models.OutcomeClarification {
		record.ResponseText = turn.Clarification
		writeJSON(w, http.StatusOK, ClarifyResponse{
			CallID:  s.audit(ctx, record),
			Clarify: turn.Clarification,
		})
		return
	}
	if turn == nil || turn.Fatal() || turn.Payload == nil {
		s.writeTurnError(ctx, w, record, turn)
		return
	}

	resp := insightResponse(turn)
	record.SQLQuery = resp.SQLQuery
	record.ResponseText = resp.Response
	resp.CallID = s.audit(ctx, record)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", errors.NewInvalidRequestError(err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "", errors.NewInvalidRequestError(err.Error()))
		return
	}

	err := s.calls.RecordFeedback(r.Context(), models.Feedback{CallID: req.CallID, Helpful: *req.Helpful})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"callId": req.CallID, "recorded": true})
	case stderrors.Is(err, partnerrecords.ErrCallNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			CallID: req.CallID,
			Error:  ErrorBody{Code: "CALL_NOT_FOUND", Message: "No call with that id"},
		})
	case stderrors.Is(err, partnerrecords.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, req.CallID, errors.NewInvalidRequestError(err.Error()))
	default:
		s.logger.Error("feedback not recorded", map[string]interface{}{
			"callId": req.CallID,
			"error":  err.Error(),
		})
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			CallID: req.CallID,
			Error:  ErrorBody{Code: string(errors.ErrCodeInternal), Message: "Feedback could not be recorded"},
		})
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Server) decodeInsight(w http.ResponseWriter, r *http.Request) (InsightRequest, bool) {
	var req InsightRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", errors.NewInvalidRequestError(err.Error()))
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "", errors.NewInvalidRequestError(validationDetails(err)))
		return req, false
	}
	return req, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// partner prefers the authenticated partner over the one in the body.
func (s *Server) partner(ctx context.Context, req InsightRequest) string {
	if p := auth.PartnerFromContext(ctx); p != "" {
		return p
	}
	return string(req.PartnerID)
}

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.RequestTimeout)
}

func (s *Server) newRecord(endpoint, partner string, req InsightRequest) *models.CallRecord {
	return &models.CallRecord{
		ID:             uuid.New().String(),
		PartnerID:      partner,
		UserID:         string(req.UserID),
		ConversationID: string(req.ConversationID),
		Endpoint:       endpoint,
		Question:       strings.TrimSpace(req.Question),
		CustomData:     req.CustomData,
	}
}

// audit records the call and returns its id. Audit failures are logged and
// never fail the request.
func (s *Server) audit(ctx context.Context, record *models.CallRecord) string {
	if s.calls == nil {
		return record.ID
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	id, err := s.calls.RecordCall(auditCtx, record)
	if err != nil {
		s.logger.Warn("call audit failed", map[string]interface{}{
			"callId":   record.ID,
			"endpoint": record.Endpoint,
			"error":    err.Error(),
		})
		return record.ID
	}
	return id
}

func (s *Server) writeTurnError(ctx context.Context, w http.ResponseWriter, record *models.CallRecord, turn *models.TurnOutcome) {
	body := ErrorBody{Code: string(errors.ErrCodeInternal), Message: "The question could not be answered"}
	if turn != nil && turn.Error != nil {
		body.Code = turn.Error.Code
		body.Message = turn.Error.Message
	}
	if turn != nil && turn.Payload != nil {
		record.ResponseText = turn.Payload.Response
	}
	record.Error = body.Code
	record.SQLQuery = turn.SQL()

	s.logger.Warn("turn failed", map[string]interface{}{
		"callId":   record.ID,
		"endpoint": record.Endpoint,
		"code":     body.Code,
	})
	writeJSON(w, http.StatusBadGateway, ErrorResponse{CallID: s.audit(ctx, record), Error: body})
}

func (s *Server) lookup(ctx context.Context, key string, dst *InsightResponse) bool {
	if s.cache == nil || s.config.CacheTTL <= 0 {
		return false
	}
	found, err := s.cache.GetJSON(ctx, key, dst)
	if err != nil {
		s.logger.Warn("insight cache read failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return found
}

func (s *Server) store(ctx context.Context, key string, resp InsightResponse) {
	if s.cache == nil || s.config.CacheTTL <= 0 {
		return
	}
	if err := s.cache.SetJSON(ctx, key, resp, s.config.CacheTTL); err != nil {
		s.logger.Warn("insight cache write failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", map[string]interface{}{
					"path":  r.URL.Path,
					"panic": fmt.Sprint(rec),
				})
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{
					Error: ErrorBody{Code: string(errors.ErrCodeInternal), Message: "Internal error"},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func insightResponse(turn *models.TurnOutcome) InsightResponse {
	links := turn.Payload.Links
	if links == nil {
		links = []models.Link{}
	}
	return InsightResponse{
		Response:    turn.Payload.Response,
		Explanation: turn.Payload.Explanation,
		Links:       links,
		SQLQuery:    turn.SQL(),
		LiveData:    turn.LiveData,
	}
}

// SessionID scopes a conversation to its partner and user. An empty
// conversation id means the call has no history.
func SessionID(partner, userID, conversationID string) string {
	if conversationID == "" {
		return ""
	}
	return strings.Join([]string{partner, userID, conversationID}, ":")
}

func cacheKey(partner string, q models.Question) string {
	h := sha256.New()
	for _, part := range []string{partner, string(q.League), string(q.Mode), strings.ToLower(q.Text), string(q.CustomData)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return insightCachePrefix + hex.EncodeToString(h.Sum(nil))
}

func validationDetails(err error) string {
	var errs validation.Errors
	if stderrors.As(err, &errs) {
		fields := make([]string, 0, len(errs))
		for field := range errs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		parts := make([]string, 0, len(fields))
		for _, field := range fields {
			parts = append(parts, fmt.Sprintf("%s: %v", field, errs[field]))
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, callID string, stdErr *errors.StandardError) {
	writeJSON(w, status, ErrorResponse{
		CallID: callID,
		Error:  ErrorBody{Code: string(stdErr.Code), Message: stdErr.Message, Details: stdErr.Details},
	})
}
