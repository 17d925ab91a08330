package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/offduel/offduel/internal/challenge"
	"github.com/offduel/offduel/internal/models"
	"github.com/offduel/offduel/internal/monitor"
)

// SessionAPI is the slice of the session the HTTP surface drives.
type SessionAPI interface {
	Current() (*models.Challenge, string)
	Create(ctx context.Context, name string, duration int, reward string) (*models.Challenge, error)
	Join(ctx context.Context, challengeID, name, reward string) (*models.Challenge, error)
	Start(ctx context.Context) (*models.Challenge, error)
	Reset(ctx context.Context) error
}

// SignalSink receives attention signals from the UI.
type SignalSink interface {
	Observe(ctx context.Context, sig monitor.Signal)
}

// Handler exposes the session over HTTP for the client UI: challenge
// lifecycle calls, attention signal ingestion and the WebSocket upgrade
// for push updates.
type Handler struct {
	session SessionAPI
	signals SignalSink
	cm      *ConnectionManager
}

// NewHandler creates the HTTP surface.
func NewHandler(session SessionAPI, signals SignalSink, cm *ConnectionManager) *Handler {
	return &Handler{
		session: session,
		signals: signals,
		cm:      cm,
	}
}

// RegisterRoutes registers the API routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/challenge", h.handleCreate)
	mux.HandleFunc("POST /api/challenge/join", h.handleJoin)
	mux.HandleFunc("POST /api/challenge/start", h.handleStart)
	mux.HandleFunc("POST /api/challenge/reset", h.handleReset)
	mux.HandleFunc("GET /api/challenge", h.handleSnapshot)
	mux.HandleFunc("POST /api/signal", h.handleSignal)
	mux.HandleFunc("GET /ws", h.handleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

type createRequest struct {
	Name     string `json:"name"`
	Duration int    `json:"duration"`
	Reward   string `json:"reward"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ch, err := h.session.Create(r.Context(), req.Name, req.Duration, req.Reward)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSnapshot(w, http.StatusCreated, ch)
}

type joinRequest struct {
	ChallengeID string `json:"challengeId"`
	Name        string `json:"name"`
	Reward      string `json:"reward"`
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ch, err := h.session.Join(r.Context(), req.ChallengeID, req.Name, req.Reward)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSnapshot(w, http.StatusOK, ch)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ch, err := h.session.Start(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSnapshot(w, http.StatusOK, ch)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Reset(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ch, _ := h.session.Current()
	h.writeSnapshot(w, http.StatusOK, ch)
}

type signalRequest struct {
	Signal string `json:"signal"`
}

func (h *Handler) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Signal == "" {
		writeError(w, http.StatusBadRequest, "signal is required")
		return
	}

	// Observe returns immediately; any grace window runs on its own
	// goroutine with a background context so an HTTP disconnect cannot
	// cancel a pending elimination.
	h.signals.Observe(context.WithoutCancel(r.Context()), monitor.Signal(req.Signal))
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := h.cm.UpgradeConnection(w, r); err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// Snapshot builds the UI-facing view from the session's current cell.
func (h *Handler) Snapshot() StateSnapshot {
	ch, participantID := h.session.Current()
	snap := StateSnapshot{Challenge: ch, ParticipantID: participantID}
	if ch != nil {
		snap.WonRewards = ch.WonRewards()
	}
	return snap
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, status int, ch *models.Challenge) {
	_, participantID := h.session.Current()
	snap := StateSnapshot{Challenge: ch, ParticipantID: participantID}
	if ch != nil {
		snap.WonRewards = ch.WonRewards()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.Error().Err(err).Msg("failed to encode snapshot response")
	}
}

// writeDomainError maps domain errors onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *challenge.ValidationError
	var transportErr *challenge.TransportError

	switch {
	case errors.Is(err, challenge.ErrChallengeNotFound):
		writeError(w, http.StatusNotFound, "challenge not found")
	case errors.Is(err, challenge.ErrChallengeAlreadyStarted):
		writeError(w, http.StatusConflict, "challenge has already started")
	case errors.Is(err, challenge.ErrNoSession):
		writeError(w, http.StatusConflict, "no active challenge session")
	case errors.As(err, &validationErr):
		writeError(w, http.StatusUnprocessableEntity, validationErr.Error())
	case errors.As(err, &transportErr):
		log.Error().Err(err).Msg("shared store unreachable")
		writeError(w, http.StatusBadGateway, "shared store unreachable")
	default:
		log.Error().Err(err).Msg("unhandled domain error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
