package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInsufficientStockOrNotFound is returned when a single adjustment matched
// no row: either the book does not exist or a negative delta would have taken
// stock below zero. The two cases are indistinguishable by design; the caller
// decides whether to retry with fresh data.
var ErrInsufficientStockOrNotFound = errors.New("book not found or insufficient stock")

// ErrDuplicateAdjustmentTarget is returned when a bulk adjustment targets the
// same book more than once.
var ErrDuplicateAdjustmentTarget = errors.New("bulk adjustment targets the same book more than once")

// ErrSignalChannelFull is returned by a non-blocking emit when the signal
// channel is at capacity. Callers treat it as best-effort loss, not failure.
var ErrSignalChannelFull = errors.New("availability signal channel is full")

// BatchAbortedError reports a rolled-back bulk adjustment. It names the full
// request set; no partial result is ever observable.
type BatchAbortedError struct {
	Requests []AdjustmentRequest
	Matched  int
}

func (e *BatchAbortedError) Error() string {
	parts := make([]string, 0, len(e.Requests))
	for _, req := range e.Requests {
		parts = append(parts, fmt.Sprintf("%s:%+d", req.BookID, req.Delta))
	}
	return fmt.Sprintf("bulk adjustment aborted: matched %d of %d requests [%s]",
		e.Matched, len(e.Requests), strings.Join(parts, ", "))
}
