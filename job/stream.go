package job

import (
	"context"
	"sync"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/id"
)

// StreamPhase tracks a stream's position in its lifecycle.
type StreamPhase string

const (
	// StreamProducing means the producing callable has not yet returned
	// the handle.
	StreamProducing StreamPhase = "producing"
	// StreamStreaming means the consumer may pull values.
	StreamStreaming StreamPhase = "streaming"
	// StreamExhausted means no further values will be produced.
	StreamExhausted StreamPhase = "exhausted"
)

// Pull produces the next stream value. send carries a consumer-supplied
// value (nil for plain Next). Returning executor.ErrStreamExhausted ends
// the stream cleanly; executor.ErrCancelled or context.Canceled marks the
// producing job cancelled; any other error fails it.
type Pull func(ctx context.Context, send any) (any, error)

// Stream is a lazy sequence produced by a streaming callable. The
// producing job is marked running as soon as the callable returns the
// handle, and reaches done only when the consumer exhausts or closes the
// stream. Engine.Wait does not wait on streaming jobs.
//
// The consumer protocol is explicit: Next pulls the next value, Send
// pulls with a value passed to the producer, Close ends consumption
// early. A Stream must be consumed from one goroutine at a time.
type Stream struct {
	streamID id.StreamID
	pull     Pull

	mu     sync.Mutex
	phase  StreamPhase
	onDone func(err error)
}

// NewStream wraps a pull function into a stream handle. Return it from
// a callable to make the job streaming.
func NewStream(pull Pull) *Stream {
	return &Stream{
		streamID: id.NewStreamID(),
		pull:     pull,
		phase:    StreamProducing,
	}
}

// StreamOf returns a stream yielding the given values in order.
func StreamOf(values ...any) *Stream {
	i := 0
	return NewStream(func(_ context.Context, _ any) (any, error) {
		if i >= len(values) {
			return nil, executor.ErrStreamExhausted
		}
		v := values[i]
		i++
		return v, nil
	})
}

// ID returns the stream's unique identifier.
func (s *Stream) ID() id.StreamID { return s.streamID }

// Phase returns the stream's current lifecycle phase.
func (s *Stream) Phase() StreamPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Next pulls the next value. Returns executor.ErrStreamExhausted once
// the stream ends; a producer error ends the stream and fails the job.
func (s *Stream) Next(ctx context.Context) (any, error) {
	return s.advance(ctx, nil)
}

// Send pulls the next value, passing v to the producer.
func (s *Stream) Send(ctx context.Context, v any) (any, error) {
	return s.advance(ctx, v)
}

// Close ends consumption. The producing job completes as done.
// Idempotent.
func (s *Stream) Close(_ context.Context) error {
	s.Finish(nil)
	return nil
}

func (s *Stream) advance(ctx context.Context, send any) (any, error) {
	s.mu.Lock()
	if s.phase == StreamExhausted {
		s.mu.Unlock()
		return nil, executor.ErrStreamExhausted
	}
	s.mu.Unlock()

	v, err := s.pull(ctx, send)
	if err != nil {
		s.Finish(err)
		if err == executor.ErrStreamExhausted || err == context.Canceled {
			return nil, executor.ErrStreamExhausted
		}
		return nil, err
	}
	return v, nil
}

// Bind installs the completion observer the engine uses to learn when
// the stream is exhausted, and flips the phase to streaming. Called
// only by the engine's scheduler.
func (s *Stream) Bind(onDone func(err error)) {
	s.mu.Lock()
	s.phase = StreamStreaming
	s.onDone = onDone
	s.mu.Unlock()
}

// Finish marks the stream exhausted and notifies the engine once.
// A nil or ErrStreamExhausted err counts as clean exhaustion. Consumers
// use Close; the engine uses Finish directly to cancel a stream.
func (s *Stream) Finish(err error) {
	s.mu.Lock()
	if s.phase == StreamExhausted {
		s.mu.Unlock()
		return
	}
	s.phase = StreamExhausted
	onDone := s.onDone
	s.mu.Unlock()

	if onDone != nil {
		if err == executor.ErrStreamExhausted {
			err = nil
		}
		onDone(err)
	}
}
