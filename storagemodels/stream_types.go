/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"time"
)

// StreamResult represents a single item in a stream with metadata
type StreamResult[T any] struct {
	Item  T          // The decoded item
	Error error      // Terminal error; no further results follow it
	Meta  StreamMeta // Metadata about this item
}

// StreamMeta contains metadata about a streamed item
type StreamMeta struct {
	Index     int64     // Item index in stream (0-based)
	Timestamp time.Time // When item was produced
}

// StreamOptions configures streaming behavior
type StreamOptions struct {
	BufferSize      int                  // Channel buffer size (default: 100)
	ProgressEvery   int64                // Report progress every N items (default: 100)
	ProgressHandler func(StreamProgress) // Optional progress callback
}

// StreamProgress tracks streaming progress
type StreamProgress struct {
	ItemsProcessed int64     // Total items processed
	StartTime      time.Time // When streaming started
	CurrentRate    float64   // Items per second
	Done           bool      // Set on the final report
}

// StreamOption is a functional option for configuring streaming
type StreamOption func(*StreamOptions)

// DefaultStreamOptions returns default streaming options
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		BufferSize:    100,
		ProgressEvery: 100,
	}
}

// WithBufferSize sets the channel buffer size
func WithBufferSize(size int) StreamOption {
	return func(opts *StreamOptions) {
		if size >= 0 {
			opts.BufferSize = size
		}
	}
}

// WithProgressEvery sets how many items pass between progress reports
func WithProgressEvery(n int64) StreamOption {
	return func(opts *StreamOptions) {
		if n > 0 {
			opts.ProgressEvery = n
		}
	}
}

// WithProgressHandler sets a progress callback
func WithProgressHandler(handler func(StreamProgress)) StreamOption {
	return func(opts *StreamOptions) {
		opts.ProgressHandler = handler
	}
}

// Report builds a progress snapshot for n items since start.
func Report(n int64, start time.Time, done bool) StreamProgress {
	p := StreamProgress{ItemsProcessed: n, StartTime: start, Done: done}
	if elapsed := time.Since(start).Seconds(); elapsed > 0 {
		p.CurrentRate = float64(n) / elapsed
	}
	return p
}
