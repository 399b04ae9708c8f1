package stream

import "context"

// EventKind distinguishes the events a decoder publishes.
type EventKind int

// Event is what the decoder goroutine hands to its consumer. Exactly one EventDone or
// EventError is the last event before the channel closes, unless ctx is cancelled first.
type Event struct {
	Kind  EventKind
	Token Token
	Err   error
}

const (
	EventToken EventKind = iota
	EventDone
	EventError
)

const eventBuffer = 32

// Events decodes d on its own goroutine and publishes the result on the returned channel, so
// the consumer renders at its own pace while tokens keep their order. Cancelling ctx stops
// publishing; the caller still owns the underlying body and must close it to unblock a read.
func Events(ctx context.Context, d *Decoder) <-chan Event {
	ch := make(chan Event, eventBuffer)

	go func() {
		defer close(ch)

		send := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for tok, err := range d.Tokens() {
			if err != nil {
				send(Event{Kind: EventError, Err: err})
				return
			}
			if !send(Event{Kind: EventToken, Token: tok}) {
				return
			}
		}
		send(Event{Kind: EventDone})
	}()

	return ch
}
