// Message HTTP handlers.
//
// This file exposes REST endpoints for channel message resources:
//   - POST   /channels/{id}/messages     (post, optionally with a client id)
//   - GET    /channels/{id}/messages     (history, cursor-paginated)
//   - PUT    /messages/{id}/reactions    (replace reaction map)
//   - DELETE /messages/{id}              (delete)
//
// History is cursor-based rather than page-numbered: clients walk backwards
// with the `before` RFC3339 timestamp of the oldest message they hold, which
// matches how the realtime reconciler consumes it.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/terply/chat-backend/internal/domain"
	"github.com/terply/chat-backend/internal/services"
	"github.com/terply/chat-backend/internal/utils"
)

// MessageService defines message lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	// Post validates and persists a message, announcing it on the feed.
	Post(ctx context.Context, in services.PostMessageInput) (*domain.Message, error)
	// History returns up to limit messages older than the cursor, newest first.
	History(ctx context.Context, channelID string, before time.Time, limit int) ([]domain.Message, error)
	// React replaces a message's reaction map.
	React(ctx context.Context, messageID string, reactions map[string][]string) (*domain.Message, error)
	// Edit replaces a message's content.
	Edit(ctx context.Context, messageID, content string) (*domain.Message, error)
	// Delete removes a message.
	Delete(ctx context.Context, messageID string) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for messages, notifications, and display
// profiles. It depends
// on abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	msgSvc     MessageService
	notifSvc   NotificationService
	profileSvc ProfileService
	senders    SenderResolver
}

// New constructs and returns a Handlers instance bound to the given services.
func New(msgSvc MessageService, notifSvc NotificationService, profileSvc ProfileService, senders SenderResolver) *Handlers {
	return &Handlers{msgSvc: msgSvc, notifSvc: notifSvc, profileSvc: profileSvc, senders: senders}
}

//
// DTOs
//

// PostMessageRequest is the JSON payload for posting a message. ID is
// optional; optimistic clients send their own UUID so the stored row comes
// back from the feed under the same key.
type PostMessageRequest struct {
	ID          string              `json:"id"`
	Content     string              `json:"content" binding:"required"`
	ParentID    *string             `json:"parent_id"`
	Attachments []domain.Attachment `json:"attachments"`
}

// ReactionsRequest is the JSON payload for replacing a message's reactions.
type ReactionsRequest struct {
	Reactions map[string][]string `json:"reactions"`
}

// EditMessageRequest is the JSON payload for editing a message.
type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// HistoryResponse wraps one history page. HasMore is false when the page
// came back short, which tells the client it reached the channel's start.
type HistoryResponse struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Post a message to a channel
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Channel ID"
// @Param       body       body    handlers.PostMessageRequest  true  "Message payload"
// @Success     201  {object}  domain.Message
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /channels/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	m, err := h.msgSvc.Post(c.Request.Context(), services.PostMessageInput{
		ID:          req.ID,
		ChannelID:   c.Param("id"),
		SenderID:    userID(c),
		Content:     req.Content,
		ParentID:    req.ParentID,
		Attachments: req.Attachments,
	})
	if err != nil {
		if errors.Is(err, services.ErrEmptyMessage) || errors.Is(err, services.ErrTooLong) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodePostFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, m)
}

// ListChannelMessages godoc
// @ID          listChannelMessages
// @Summary     Fetch channel history (cursor-paginated)
// @Tags        Messages
// @Produce     json
// @Param       id      path   string  true  "Channel ID"
// @Param       before  query  string  false "RFC3339 cursor; omit for the latest page"
// @Param       limit   query  int     false "Page size" minimum(1) maximum(100) default(50)
// @Success     200  {object}  handlers.HistoryResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad cursor"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /channels/{id}/messages [get]
func (h *Handlers) ListChannelMessages(c *gin.Context) {
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "before must be RFC3339")
			return
		}
		before = t
	}
	limit := utils.Clamp(utils.AtoiDefault(c.Query("limit"), 50), 1, 100)

	msgs, err := h.msgSvc.History(c.Request.Context(), c.Param("id"), before, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, HistoryResponse{
		Messages: msgs,
		HasMore:  len(msgs) == limit,
	})
}

// ReactMessage godoc
// @ID          reactMessage
// @Summary     Replace a message's reactions
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Message ID"
// @Param       body  body  handlers.ReactionsRequest  true  "Full reaction map"
// @Success     200  {object}  domain.Message
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown message"
// @Router      /messages/{id}/reactions [put]
func (h *Handlers) ReactMessage(c *gin.Context) {
	var req ReactionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	m, err := h.msgSvc.React(c.Request.Context(), c.Param("id"), req.Reactions)
	if err != nil {
		if errors.Is(err, services.ErrMessageNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, m)
}

// EditMessage godoc
// @ID          editMessage
// @Summary     Edit a message's content
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Message ID"
// @Param       body  body  handlers.EditMessageRequest  true  "New content"
// @Success     200  {object}  domain.Message
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown message"
// @Router      /messages/{id} [put]
func (h *Handlers) EditMessage(c *gin.Context) {
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	m, err := h.msgSvc.Edit(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMessageNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
		case errors.Is(err, services.ErrEmptyMessage), errors.Is(err, services.ErrTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, m)
}

// DeleteMessage godoc
// @ID          deleteMessage
// @Summary     Delete a message
// @Tags        Messages
// @Produce     json
// @Param       id  path  string  true  "Message ID"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown message"
// @Router      /messages/{id} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	err := h.msgSvc.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrMessageNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
