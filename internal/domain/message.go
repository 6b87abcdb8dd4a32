package domain

import "context"

// RawRequest is a run request as read from the request topic, before
// decoding.
type RawRequest struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64

	// Commit acknowledges the message. Nil when the source has no offsets.
	Commit func(ctx context.Context) error
}
