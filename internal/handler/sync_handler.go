package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"studio-sync/internal/domain"
	"studio-sync/internal/middleware"
	"studio-sync/internal/service"
	"studio-sync/pkg/response"

	"github.com/go-playground/validator/v10"
)

// SyncCoordinator is the part of service.SyncCoordinator the HTTP surface
// needs.
type SyncCoordinator interface {
	GetStatus(ctx context.Context) (*domain.StatusResponse, error)
	GetActiveUsers(ctx context.Context, threshold time.Duration) (*domain.ActiveUsersResponse, error)
	Notify(ctx context.Context, userID string, version domain.Version, action string) (*domain.NotifyResponse, error)
}

type SyncHandler struct {
	coordinator SyncCoordinator
	validate    *validator.Validate
}

func NewSyncHandler(coordinator SyncCoordinator) *SyncHandler {
	return &SyncHandler{
		coordinator: coordinator,
		validate:    validator.New(),
	}
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.coordinator.GetStatus(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, status)
}

// Users lists active users. An optional threshold query parameter, in
// milliseconds, overrides the server's default window.
func (h *SyncHandler) Users(w http.ResponseWriter, r *http.Request) {
	var threshold time.Duration
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms <= 0 {
			response.BadRequest(w, "threshold must be a positive number of milliseconds")
			return
		}
		threshold = time.Duration(ms) * time.Millisecond
	}

	users, err := h.coordinator.GetActiveUsers(r.Context(), threshold)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, users)
}

func (h *SyncHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req domain.NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, "userId and version required")
		return
	}

	// With auth enabled an editor may only report their own activity.
	if tokenUser := middleware.GetUserID(r); tokenUser != "" && tokenUser != req.UserID {
		response.Error(w, http.StatusForbidden, "token does not match userId")
		return
	}

	res, err := h.coordinator.Notify(r.Context(), req.UserID, req.Version, req.Action)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, res)
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	response.NotFound(w, "Route not found")
}

func Health(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]string{
		"status":  "healthy",
		"service": "studio-sync",
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		response.BadRequest(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		response.Conflict(w, err.Error())
	default:
		log.Printf("sync request failed: %v", err)
		response.InternalError(w, err.Error())
	}
}
