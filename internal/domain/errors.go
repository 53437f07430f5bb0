package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrInternal     = errors.New("internal server error")
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuth refuses a connection whose identity token is bad or missing.
	ErrAuth = errors.New("authentication failed")

	// ErrContentRejected marks a message flagged by content moderation.
	ErrContentRejected = errors.New("content rejected by moderation")

	// ErrInvalidState rejects a call action illegal for the session's state.
	ErrInvalidState = errors.New("invalid call state")

	// ErrDropped marks best-effort signaling whose target is gone. It is
	// logged, never surfaced to the sender.
	ErrDropped = errors.New("signal dropped")

	// ErrPushGone reports an invalidated push endpoint; the subscription is
	// pruned instead of retried.
	ErrPushGone = errors.New("push subscription gone")
)
