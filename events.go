package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type EventKind string

const (
	EventInstall  EventKind = "install"
	EventActivate EventKind = "activate"
	EventFetch    EventKind = "fetch"
	EventMessage  EventKind = "message"
)

var ErrUnknownEvent = errors.New("unknown event kind")

// Event is delivered to exactly one handler, selected by its kind.
// Only the fields belonging to the kind are set.
type Event struct {
	Kind EventKind
	// install, activate
	Worker *Worker
	// fetch
	Writer  http.ResponseWriter
	Request *http.Request
	// message
	Message ControlMessage
}

// eventHandler returns once the event is resolved.
type eventHandler func(ctx context.Context, evt Event) error

func (e *Engine) eventHandlers() map[EventKind]eventHandler {
	return map[EventKind]eventHandler{
		EventInstall:  e.onInstall,
		EventActivate: e.onActivate,
		EventFetch:    e.onFetch,
		EventMessage:  e.onMessage,
	}
}

func (e *Engine) dispatch(ctx context.Context, evt Event) error {
	handler, ok := e.events[evt.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, evt.Kind)
	}
	return handler(ctx, evt)
}

func (e *Engine) onFetch(ctx context.Context, evt Event) error {
	e.handleFetch(evt.Writer, evt.Request)
	return nil
}
