package transfer

import (
	"time"

	"go.uber.org/zap"

	permitrelay "github.com/coinbase/permitrelay"
)

// Option configures an Executor.
type Option func(*Executor)

// WithEventSink registers a completion event sink. Sinks run in
// registration order after value has moved.
func WithEventSink(sink permitrelay.EventSink) Option {
	return func(e *Executor) {
		e.sinks = append(e.sinks, sink)
	}
}

// WithLogger sets the logger.
//
// Default: zap.NewNop()
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithClock sets the clock used to timestamp completion events.
//
// Default: time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithIDGenerator sets how completion event ids are generated.
//
// Default: uuid.NewString
func WithIDGenerator(newID func() string) Option {
	return func(e *Executor) {
		e.newID = newID
	}
}
