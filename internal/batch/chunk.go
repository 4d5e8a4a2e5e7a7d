// Package batch splits outbound work into transport-sized groups.
package batch

import (
	"errors"
	"fmt"
)

// MaxQueueBatch is the largest batch the queue transports accept in one send.
const MaxQueueBatch = 100

var ErrInvalidSize = errors.New("batch: size must be > 0")

// Chunk splits items into contiguous groups of at most size elements,
// preserving order. The last group may be smaller. Groups share the backing
// array of items; callers must not append to them.
func Chunk[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidSize, size)
	}
	n := len(items) / size
	if len(items)%size != 0 {
		n++
	}
	out := make([][]T, 0, n)
	for start := 0; start < len(items); start += size {
		end := start + min(size, len(items)-start)
		out = append(out, items[start:end:end])
	}
	return out, nil
}
