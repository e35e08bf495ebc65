// Package api provides the HTTP host surface of the voice widget.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/voicewidget/internal/domain"
	"github.com/ashureev/voicewidget/internal/store"
	"github.com/ashureev/voicewidget/internal/widget"
)

const defaultMaxRequestBodySize = 1 << 20 // 1MB

// Widget is the widget surface driven over HTTP.
type Widget interface {
	View() widget.View
	Data() any
	History() any
	SetData(v any)
	SetHistory(v any)
	HandleIntent(ctx context.Context, intent widget.Intent)
	AddEventListener(name string, fn widget.Listener) (remove func())
	SessionID() string
	AgentID() string
	AccountID() string
	Config() *domain.AgentConfig
}

// Handler serves widget control and conversation routes.
type Handler struct {
	widget       Widget
	repo         store.Repository
	version      string
	startTimeout time.Duration
	logger       *slog.Logger
}

// NewHandler creates a new Handler. repo may be nil when persistence is disabled.
func NewHandler(w Widget, repo store.Repository, version string, startTimeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if startTimeout <= 0 {
		startTimeout = 30 * time.Second
	}
	return &Handler{
		widget:       w,
		repo:         repo,
		version:      version,
		startTimeout: startTimeout,
		logger:       logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers widget and conversation routes. limit wraps the mutating routes.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Get("/api/widget", h.GetWidget)
	r.Get("/api/conversations", h.ListConversations)

	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/api/widget/{intent}", h.PostIntent)
		r.Put("/api/widget/data", h.PutData)
		r.Put("/api/widget/history", h.PutHistory)
	})
}

type widgetResponse struct {
	View      widget.View `json:"view"`
	Data      any         `json:"data"`
	History   any         `json:"history"`
	SessionID string      `json:"sessionId,omitempty"`
	AgentID   string      `json:"agentId,omitempty"`
	AccountID string      `json:"accountId,omitempty"`
	Version   string      `json:"version"`
}

func (h *Handler) snapshot() widgetResponse {
	return widgetResponse{
		View:      h.widget.View(),
		Data:      h.widget.Data(),
		History:   h.widget.History(),
		SessionID: h.widget.SessionID(),
		AgentID:   h.widget.AgentID(),
		AccountID: h.widget.AccountID(),
		Version:   h.version,
	}
}

// GetWidget returns the view state together with the current properties.
func (h *Handler) GetWidget(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.snapshot())
}

// PostIntent dispatches start, stop, mute or escape and returns the resulting state.
func (h *Handler) PostIntent(w http.ResponseWriter, r *http.Request) {
	intent, ok := widget.ParseIntent(chi.URLParam(r, "intent"))
	if !ok {
		Error(w, http.StatusNotFound, "unknown intent")
		return
	}

	// The realtime connection outlives this request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.startTimeout)
	defer cancel()

	h.widget.HandleIntent(ctx, intent)
	h.logger.Info("widget intent handled",
		"intent", string(intent),
		"agent_id", h.widget.AgentID(),
		"session_id", h.widget.SessionID(),
	)
	JSON(w, http.StatusOK, h.snapshot())
}

// PutData assigns the data property. Invalid values are reset by the widget; the
// response carries the value actually stored.
func (h *Handler) PutData(w http.ResponseWriter, r *http.Request) {
	v, err := decodeAny(w, r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.widget.SetData(v)
	JSON(w, http.StatusOK, map[string]any{"data": h.widget.Data()})
}

// PutHistory assigns the history property.
func (h *Handler) PutHistory(w http.ResponseWriter, r *http.Request) {
	v, err := decodeAny(w, r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.widget.SetHistory(v)
	JSON(w, http.StatusOK, map[string]any{"history": h.widget.History()})
}

func decodeAny(w http.ResponseWriter, r *http.Request) (any, error) {
	body := http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	var v any
	if err := json.NewDecoder(body).Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request body is empty")
		}
		return nil, errors.New("invalid JSON body")
	}
	return v, nil
}

type conversationResponse struct {
	ID             string                   `json:"id"`
	SessionID      string                   `json:"sessionId"`
	AgentID        string                   `json:"agentId"`
	Trigger        string                   `json:"trigger"`
	StartedAt      time.Time                `json:"startedAt"`
	EndedAt        time.Time                `json:"endedAt"`
	DurationMs     int64                    `json:"durationMs"`
	Summary        *string                  `json:"summary,omitempty"`
	Transcript     []domain.TranscriptEntry `json:"transcript"`
	TranscriptText string                   `json:"transcriptText"`
}

// ListConversations returns recent conversations of the widget's agent, newest first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		JSON(w, http.StatusOK, map[string]any{"conversations": []conversationResponse{}})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		agentID = h.widget.AgentID()
	}

	records, err := h.repo.ListConversations(r.Context(), agentID, limit)
	if err != nil {
		h.logger.Error("Failed to list conversations", "agent_id", agentID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	out := make([]conversationResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, conversationResponse{
			ID:             rec.ID,
			SessionID:      rec.SessionID,
			AgentID:        rec.AgentID,
			Trigger:        rec.Trigger,
			StartedAt:      rec.StartedAt,
			EndedAt:        rec.EndedAt,
			DurationMs:     rec.Duration.Milliseconds(),
			Summary:        rec.Summary,
			Transcript:     rec.Transcript,
			TranscriptText: rec.TranscriptText(),
		})
	}
	JSON(w, http.StatusOK, map[string]any{"conversations": out})
}
