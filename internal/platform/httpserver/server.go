package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	paymentservice "agora/contexts/finance-core/payment-service"
	paymenterrors "agora/contexts/finance-core/payment-service/domain/errors"
	paymenthttp "agora/contexts/finance-core/payment-service/transport/http"
	pollservice "agora/contexts/polling/poll-service"
	pollentities "agora/contexts/polling/poll-service/domain/entities"
	pollerrors "agora/contexts/polling/poll-service/domain/errors"
	pollports "agora/contexts/polling/poll-service/ports"
	pollhttp "agora/contexts/polling/poll-service/transport/http"
	voteengine "agora/contexts/polling/vote-engine"
	votehttpadapter "agora/contexts/polling/vote-engine/adapters/http"
	"agora/contexts/polling/vote-engine/adapters/live"
	voteerrors "agora/contexts/polling/vote-engine/domain/errors"
	votehttp "agora/contexts/polling/vote-engine/transport/http"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "agora/internal/platform/httpserver/docs"
)

type Server struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	addr     string
	polls    pollservice.Module
	votes    voteengine.Module
	payments paymentservice.Module
	hub      *live.Hub
}

func New(
	polls pollservice.Module,
	votes voteengine.Module,
	payments paymentservice.Module,
	hub *live.Hub,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:      http.NewServeMux(),
		logger:   logger,
		addr:     addr,
		polls:    polls,
		votes:    votes,
		payments: payments,
		hub:      hub,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the route mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /api/polls", s.handleCreatePoll)
	s.mux.HandleFunc("GET /api/polls", s.handleListPolls)
	s.mux.HandleFunc("GET /api/polls/{poll_id}", s.handleGetPoll)
	s.mux.HandleFunc("POST /api/polls/{poll_id}/close", s.handleClosePoll)
	s.mux.HandleFunc("DELETE /api/polls/{poll_id}", s.handleDeletePoll)

	s.mux.HandleFunc("POST /api/polls/{poll_id}/vote", s.handleCastVote)
	s.mux.HandleFunc("GET /api/polls/{poll_id}/results", s.handleGetResults)
	s.mux.HandleFunc("POST /api/polls/{poll_id}/results/recompute", s.handleRecomputeResults)
	s.mux.HandleFunc("GET /api/polls/{poll_id}/live", s.handleLiveResults)

	s.mux.HandleFunc("POST /api/payments/initialize", s.handleInitializePayment)
	s.mux.HandleFunc("POST /api/payments/verify", s.handleVerifyPayment)
	s.mux.HandleFunc("POST /api/payments/webhook", s.handlePaymentWebhook)
	s.mux.HandleFunc("GET /api/payments/{reference}", s.handleGetPayment)
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get("X-User-Id")
	if strings.TrimSpace(ownerID) == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	var req pollhttp.CreatePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.polls.Handler.CreatePollHandler(r.Context(), ownerID, req)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListPolls(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := pollports.ListFilter{
		OwnerID:        query.Get("owner_id"),
		OrganizationID: query.Get("organization_id"),
		PublicOnly:     query.Get("public") == "true",
		State:          pollentities.LifecycleState(query.Get("state")),
	}
	resp, err := s.polls.Handler.ListPollsHandler(r.Context(), filter)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	resp, err := s.polls.Handler.GetPollHandler(r.Context(), r.PathValue("poll_id"))
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClosePoll(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get("X-User-Id")
	if strings.TrimSpace(actorID) == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	resp, err := s.polls.Handler.ClosePollHandler(r.Context(), r.PathValue("poll_id"), actorID)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeletePoll(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get("X-User-Id")
	if strings.TrimSpace(actorID) == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	if err := s.polls.Handler.DeletePollHandler(r.Context(), r.PathValue("poll_id"), actorID); err != nil {
		writePollDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req votehttp.CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeVoteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.votes.Handler.CastVoteHandler(
		r.Context(),
		r.PathValue("poll_id"),
		voterIdentity(r),
		req,
	)
	if err != nil {
		writeVoteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	resp, err := s.votes.Handler.GetTallyHandler(r.Context(), r.PathValue("poll_id"))
	if err != nil {
		writeVoteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecomputeResults(w http.ResponseWriter, r *http.Request) {
	resp, err := s.votes.Handler.RecomputeTallyHandler(r.Context(), r.PathValue("poll_id"))
	if err != nil {
		writeVoteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInitializePayment(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get("X-User-Id")
	if strings.TrimSpace(ownerID) == "" {
		writePaymentError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	var req paymenthttp.InitializePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePaymentError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.payments.Handler.InitializePaymentHandler(r.Context(), ownerID, req)
	if err != nil {
		writePaymentDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req paymenthttp.VerifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePaymentError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.payments.Handler.VerifyPaymentHandler(r.Context(), req.Reference)
	if err != nil {
		writePaymentDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req paymenthttp.WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePaymentError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if err := s.payments.Handler.WebhookHandler(r.Context(), req); err != nil {
		writePaymentDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	resp, err := s.payments.Handler.GetPaymentHandler(r.Context(), r.PathValue("reference"))
	if err != nil {
		writePaymentDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writePollDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pollerrors.ErrPollNotFound):
		writePollError(w, http.StatusNotFound, "poll_not_found", err.Error())
	case errors.Is(err, pollerrors.ErrInvalidPollInput):
		writePollError(w, http.StatusBadRequest, "invalid_poll_input", err.Error())
	case errors.Is(err, pollerrors.ErrForbidden):
		writePollError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, pollerrors.ErrTransitionRejected):
		writePollError(w, http.StatusConflict, "transition_rejected", err.Error())
	case errors.Is(err, pollerrors.ErrPollHasVotes):
		writePollError(w, http.StatusConflict, "poll_has_votes", err.Error())
	default:
		writePollError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeVoteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, voteerrors.ErrPollNotFound):
		writeVoteError(w, http.StatusNotFound, "poll_not_found", err.Error())
	case errors.Is(err, voteerrors.ErrOptionNotFound):
		writeVoteError(w, http.StatusUnprocessableEntity, "option_not_found", err.Error())
	case errors.Is(err, voteerrors.ErrInvalidVoteInput):
		writeVoteError(w, http.StatusBadRequest, "invalid_vote_input", err.Error())
	case errors.Is(err, voteerrors.ErrPollNotOpen):
		writeVoteError(w, http.StatusConflict, "poll_not_open", err.Error())
	case errors.Is(err, voteerrors.ErrAuthRequired):
		writeVoteError(w, http.StatusUnauthorized, "auth_required", err.Error())
	case errors.Is(err, voteerrors.ErrAlreadyVoted),
		errors.Is(err, voteerrors.ErrDuplicateVote):
		writeVoteError(w, http.StatusConflict, "already_voted", err.Error())
	case errors.Is(err, voteerrors.ErrRateLimited):
		writeVoteError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	default:
		writeVoteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writePaymentDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, paymenterrors.ErrPaymentNotFound):
		writePaymentError(w, http.StatusNotFound, "payment_not_found", err.Error())
	case errors.Is(err, paymenterrors.ErrInvalidPaymentInput):
		writePaymentError(w, http.StatusBadRequest, "invalid_payment_input", err.Error())
	case errors.Is(err, paymenterrors.ErrGatewayRejected):
		writePaymentError(w, http.StatusPaymentRequired, "gateway_rejected", err.Error())
	case errors.Is(err, paymenterrors.ErrVerificationTransient):
		writePaymentError(w, http.StatusAccepted, "verification_pending", err.Error())
	case errors.Is(err, paymenterrors.ErrVerificationExhausted):
		writePaymentError(w, http.StatusConflict, "verification_exhausted", err.Error())
	default:
		writePaymentError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writePollError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, pollhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeVoteError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, votehttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writePaymentError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, paymenthttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func voterIdentity(r *http.Request) votehttpadapter.VoterIdentity {
	return votehttpadapter.VoterIdentity{
		UserID:    strings.TrimSpace(r.Header.Get("X-User-Id")),
		Address:   resolveClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func resolveClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		// First hop is the original client.
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
