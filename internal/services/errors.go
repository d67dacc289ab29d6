// Package services defines the business logic for messages, notifications,
// and push subscriptions. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

// Notification-related errors.
var (
	// ErrInvalidSubscription is returned when a push subscription request
	// is missing its endpoint URL or either encryption key.
	ErrInvalidSubscription = errors.New("invalid push subscription")

	// ErrEndpointNotFound indicates that the endpoint being unsubscribed
	// does not exist for the current recipient.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrEmptyNotification is returned when a send request carries neither
	// a title nor a body.
	ErrEmptyNotification = errors.New("notification is empty")

	// ErrMissingRecipient is returned when a send request does not name a
	// recipient.
	ErrMissingRecipient = errors.New("recipient is required")
)

// Message-related errors.
var (
	// ErrEmptyMessage is returned when a request to post a message contains
	// no content.
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrTooLong is returned when message content exceeds the maximum
	// configured length limit.
	ErrTooLong = errors.New("message content too long")

	// ErrMessageNotFound indicates that the requested message does not
	// exist.
	ErrMessageNotFound = errors.New("message not found")
)

// Profile-related errors.
var (
	// ErrEmptyDisplayName is returned when a profile update carries no
	// display name.
	ErrEmptyDisplayName = errors.New("display name is empty")
)
