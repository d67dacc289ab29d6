// Profile HTTP handlers.
//
// This file exposes the display-identity surface:
//   - PUT /profile   (create or replace the caller's display profile)
//   - GET /senders   (batch-resolve sender ids to display identities)
//
// /senders is what remote reconciler clients point their identity store at:
// one request resolves every cache miss of a history page.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/terply/chat-backend/internal/domain"
	"github.com/terply/chat-backend/internal/services"
)

// ProfileService defines profile operations consumed by HTTP handlers.
type ProfileService interface {
	// Upsert creates or replaces the profile stored under id.
	Upsert(ctx context.Context, id, displayName, avatarURL string) (*domain.Profile, error)
}

// SenderResolver resolves sender ids to display identities, cache-first.
type SenderResolver interface {
	ResolveBatch(ctx context.Context, ids []string) (map[string]domain.SenderIdentity, error)
}

// UpsertProfileRequest is the JSON payload for updating the caller's
// display profile.
type UpsertProfileRequest struct {
	DisplayName string `json:"display_name" binding:"required" example:"Ada"`
	AvatarURL   string `json:"avatar_url" example:"https://cdn.example.com/a/ada.png"`
}

// SendersResponse maps sender ids to resolved identities. Unknown ids are
// absent.
type SendersResponse struct {
	Senders map[string]domain.SenderIdentity `json:"senders"`
}

// maxSenderBatch caps one /senders request; larger batches should page.
const maxSenderBatch = 100

// UpdateProfile godoc
// @ID          updateProfile
// @Summary     Create or replace the caller's display profile
// @Tags        Profiles
// @Accept      json
// @Produce     json
// @Param       payload  body  handlers.UpsertProfileRequest  true  "Display name and optional avatar"
// @Success     200  {object}  domain.Profile
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /profile [put]
func (h *Handlers) UpdateProfile(c *gin.Context) {
	var req UpsertProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request payload")
		return
	}

	p, err := h.profileSvc.Upsert(c.Request.Context(), userID(c), req.DisplayName, req.AvatarURL)
	if err != nil {
		if errors.Is(err, services.ErrEmptyDisplayName) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "display_name must not be blank")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not save profile")
		return
	}
	ok(c, http.StatusOK, p)
}

// ListSenders godoc
// @ID          listSenders
// @Summary     Batch-resolve sender ids to display identities
// @Description Accepts a comma-separated id list; ids without a stored
// @Description profile are omitted from the response.
// @Tags        Profiles
// @Produce     json
// @Param       ids  query  string  true  "Comma-separated sender ids"
// @Success     200  {object}  handlers.SendersResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /senders [get]
func (h *Handlers) ListSenders(c *gin.Context) {
	ids := splitIDs(c.Query("ids"))
	if len(ids) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ids query parameter is required")
		return
	}
	if len(ids) > maxSenderBatch {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "too many ids in one batch")
		return
	}

	idents, err := h.senders.ResolveBatch(c.Request.Context(), ids)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not resolve senders")
		return
	}
	ok(c, http.StatusOK, SendersResponse{Senders: idents})
}

// splitIDs parses a comma-separated id list, dropping blanks.
func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
