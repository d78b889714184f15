package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

type MessageType string

const (
	// ActivateNow asks a waiting generation to take over without waiting.
	ActivateNow MessageType = "ACTIVATE_NOW"
	// ClaimClients asks the active generation to control already open clients.
	ClaimClients MessageType = "CLAIM_CLIENTS"
)

var messageAliases = map[MessageType]MessageType{
	"SKIP_WAITING":  ActivateNow,
	"CLIENTS_CLAIM": ClaimClients,
}

// ControlMessage is sent by a foreground client to influence the lifecycle.
type ControlMessage struct {
	Type MessageType `json:"type"`
}

// Message handles a control message. Unknown message types are ignored.
func (e *Engine) Message(ctx context.Context, msg ControlMessage) error {
	return e.dispatch(ctx, Event{Kind: EventMessage, Message: msg})
}

func (e *Engine) onMessage(ctx context.Context, evt Event) error {
	t := evt.Message.Type
	if alias, ok := messageAliases[t]; ok {
		t = alias
	}
	switch t {
	case ActivateNow:
		return e.ActivateNow(ctx)
	case ClaimClients:
		n := e.clients.claimAll()
		e.log.Debug().Int("clients", n).Msg("Claimed clients")
		return nil
	default:
		e.log.Debug().Str("type", string(evt.Message.Type)).Msg("Ignoring unknown control message")
		return nil
	}
}

// GenerationStatus describes one registered generation.
type GenerationStatus struct {
	Version string        `json:"version"`
	State   string        `json:"state"`
	Stores  []string      `json:"stores"`
	Install InstallResult `json:"install"`
}

type Status struct {
	Active              *GenerationStatus `json:"active,omitempty"`
	Waiting             *GenerationStatus `json:"waiting,omitempty"`
	Installing          *GenerationStatus `json:"installing,omitempty"`
	UncontrolledClients int               `json:"uncontrolledClients"`
	// versions that still own stores in the cache
	StoredVersions []string `json:"storedVersions"`
}

// Status returns a snapshot of the lifecycle.
func (e *Engine) Status() Status {
	versions, err := e.generations.Versions()
	if err != nil {
		e.log.Error().Err(err).Msg("Could not list stored versions")
	}
	l := e.lifecycle
	l.mu.Lock()
	defer l.mu.Unlock()
	describe := func(w *Worker) *GenerationStatus {
		if w == nil {
			return nil
		}
		gs := &GenerationStatus{
			Version: w.Version,
			State:   w.state.String(),
			Stores:  w.StoreNames(),
		}
		// the install result is only complete once the install left its state
		if w.state != StateInstalling {
			gs.Install = w.result
		}
		return gs
	}
	return Status{
		Active:              describe(l.active.Load()),
		Waiting:             describe(l.waiting),
		Installing:          describe(l.installing),
		UncontrolledClients: e.clients.uncontrolledCount(),
		StoredVersions:      versions,
	}
}

func (e *Engine) controlRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(e.log))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Route("/.offline-cache", func(r chi.Router) {
		r.Post("/message", e.handleMessage)
		r.Get("/status", e.handleStatus)
	})
	return r
}

func (e *Engine) handleMessage(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)
	var msg ControlMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		logger.Debug().Err(err).Msg("Malformed control message")
		http.Error(w, "malformed control message", http.StatusBadRequest)
		return
	}
	err := e.Message(r.Context(), msg)
	switch {
	case errors.Is(err, ErrNoWaitingGeneration):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		logger.Error().Err(err).Str("type", string(msg.Type)).Msg("Control message failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		logger.Info().Str("type", string(msg.Type)).Msg("Control message accepted")
		w.WriteHeader(http.StatusAccepted)
	}
}

func (e *Engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(e.Status()); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write status")
	}
}
