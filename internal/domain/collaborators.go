package domain

import "context"

// TokenVerifier validates an externally-issued identity token and returns the
// authenticated user ID.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Moderator is the external content-moderation check. It is best-effort: a
// non-nil error means the service was unreachable and the caller proceeds.
type Moderator interface {
	Check(ctx context.Context, text string) (flagged bool, err error)
}

// PushSender delivers a payload to one push subscription. It returns
// ErrPushGone for invalidated endpoints; any other error is transient.
type PushSender interface {
	Deliver(ctx context.Context, sub *PushSubscription, payload []byte) error
}
