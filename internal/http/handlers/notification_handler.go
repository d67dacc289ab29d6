// Notification HTTP handlers.
//
// This file exposes REST endpoints for push notification resources:
//   - POST /notifications/subscribe    (register a push endpoint)
//   - POST /notifications/unsubscribe  (deactivate a push endpoint)
//   - POST /notifications/send         (enqueue a notification)
//   - GET  /notifications              (list, paginated)
//   - GET  /vapid/public-key           (signing key for new subscriptions)
//   - POST /vapid/generate             (rotate the signing key pair)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/terply/chat-backend/internal/domain"
	"github.com/terply/chat-backend/internal/services"
	"github.com/terply/chat-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// NotificationService defines push subscription and queueing operations
// consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type NotificationService interface {
	// Subscribe registers (or refreshes) a push endpoint for a recipient.
	Subscribe(ctx context.Context, recipientID, endpoint, p256dh, auth string) (*domain.DeliveryEndpoint, error)
	// Unsubscribe deactivates a recipient's endpoint.
	Unsubscribe(ctx context.Context, recipientID, endpoint string) error
	// Send enqueues a notification for asynchronous delivery.
	Send(ctx context.Context, recipientID, title, body string, data map[string]any, priority int) (*domain.NotificationRow, error)
	// ListPage returns a page of the recipient's notifications and the total count.
	ListPage(ctx context.Context, recipientID string, page, pageSize int) ([]domain.NotificationRow, int64, error)
	// PublicKey returns the active VAPID public key, provisioning on first use.
	PublicKey(ctx context.Context) (string, error)
	// RotateKeys installs a freshly generated VAPID key pair.
	RotateKeys(ctx context.Context) (*domain.VapidKeyPair, error)
}

//
// DTOs
//

// SubscribeRequest is the JSON payload for registering a push subscription.
// It mirrors the browser PushSubscription shape.
type SubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required" example:"https://fcm.googleapis.com/fcm/send/abc"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth"   binding:"required"`
	} `json:"keys" binding:"required"`
}

// UnsubscribeRequest is the JSON payload for deactivating a subscription.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// SendNotificationRequest is the JSON payload for enqueueing a notification.
type SendNotificationRequest struct {
	RecipientID string         `json:"recipient_id" binding:"required" example:"user123"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Data        map[string]any `json:"data"`
	Priority    int            `json:"priority"`
}

// ListNotificationsResponse wraps a page of notifications and pagination
// information.
type ListNotificationsResponse struct {
	Notifications []domain.NotificationRow `json:"notifications"`
	Pagination    Pagination               `json:"pagination"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// RequireIdentity gates a route on an authenticated identity: the upstream
// gateway's context value or, for internal calls and tests, the X-User-ID
// header. Requests with neither are rejected before the handler runs —
// the demo-user fallback of userID never applies on guarded routes.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				c.Next()
				return
			}
		}
		if strings.TrimSpace(c.GetHeader("X-User-ID")) != "" {
			c.Next()
			return
		}
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	}
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

//
// Handlers
//

// SubscribePush godoc
// @ID          subscribePush
// @Summary     Register a push subscription
// @Tags        Notifications
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.SubscribeRequest  true  "Push subscription payload"
// @Success     201  {object}  domain.DeliveryEndpoint
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications/subscribe [post]
func (h *Handlers) SubscribePush(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ep, err := h.notifSvc.Subscribe(c.Request.Context(), userID(c), req.Endpoint, req.Keys.P256dh, req.Keys.Auth)
	if err != nil {
		if errors.Is(err, services.ErrInvalidSubscription) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeSubscribeFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, ep)
}

// UnsubscribePush godoc
// @ID          unsubscribePush
// @Summary     Deactivate a push subscription
// @Tags        Notifications
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       body       body    handlers.UnsubscribeRequest  true  "Endpoint to deactivate"
// @Success     200  {object}  map[string]string
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown endpoint"
// @Router      /notifications/unsubscribe [post]
func (h *Handlers) UnsubscribePush(c *gin.Context) {
	var req UnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	err := h.notifSvc.Unsubscribe(c.Request.Context(), userID(c), req.Endpoint)
	switch {
	case err == nil:
		ok(c, http.StatusOK, gin.H{"status": "unsubscribed"})
	case errors.Is(err, services.ErrEndpointNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidSubscription):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// SendNotification godoc
// @ID          sendNotification
// @Summary     Enqueue a notification
// @Description Persists the notification to the delivery queue; the processor
// @Description delivers it on its next tick.
// @Tags        Notifications
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.SendNotificationRequest  true  "Notification payload"
// @Success     200  {object}  domain.NotificationRow
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications/send [post]
func (h *Handlers) SendNotification(c *gin.Context) {
	var req SendNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	n, err := h.notifSvc.Send(c.Request.Context(), req.RecipientID, req.Title, req.Body, req.Data, req.Priority)
	if err != nil {
		if errors.Is(err, services.ErrMissingRecipient) || errors.Is(err, services.ErrEmptyNotification) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, n)
}

// ListNotifications godoc
// @ID          listNotifications
// @Summary     List notifications (paginated)
// @Tags        Notifications
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       page       query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListNotificationsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.notifSvc.ListPage(c.Request.Context(), userID(c), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListNotificationsResponse{
		Notifications: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// VapidPublicKey godoc
// @ID          vapidPublicKey
// @Summary     Fetch the VAPID public key
// @Description Returns the active application server key; a key pair is
// @Description provisioned on first use.
// @Tags        VAPID
// @Produce     json
// @Success     200  {object}  map[string]string
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /vapid/public-key [get]
func (h *Handlers) VapidPublicKey(c *gin.Context) {
	key, err := h.notifSvc.PublicKey(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeKeygenFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"public_key": key})
}

// GenerateVapidKeys godoc
// @ID          generateVapidKeys
// @Summary     Rotate the VAPID key pair
// @Description Generates and activates a new signing pair. Existing
// @Description subscriptions keep the old key until they renew.
// @Tags        VAPID
// @Produce     json
// @Success     201  {object}  domain.VapidKeyPair
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /vapid/generate [post]
func (h *Handlers) GenerateVapidKeys(c *gin.Context) {
	kp, err := h.notifSvc.RotateKeys(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeKeygenFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, kp)
}
