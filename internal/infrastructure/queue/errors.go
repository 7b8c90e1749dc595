package queue

import "errors"

// ErrQueueClosed is returned when enqueueing after Close.
var ErrQueueClosed = errors.New("continuation queue is closed")
