// Package transport defines the delivery-channel contract the pipeline sends
// digests through. The core guarantees per-recipient send ordering; anything
// beyond that (channel-level dedup, receipts) belongs to the adapter's
// platform.
package transport

import "context"

// ChatTarget addresses one recipient conversation.
type ChatTarget struct {
	ChatID   int64
	ThreadID int // forum topic thread id (0 if none)
}

// MessageRef identifies a delivered message.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// SendOptions carries platform formatting knobs.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter delivers text to a platform.
//
// Errors follow the resilience taxonomy: rate limiting surfaces as a
// transient error with a RetryAfter hint; unrecoverable rejections (blocked
// bot, unknown chat) are wrapped with resilience.NoRetry.
type Adapter interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
