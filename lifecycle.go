package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/always-cache/offline-cache/cache"
	assetmanifest "github.com/always-cache/offline-cache/pkg/asset-manifest"
	"github.com/always-cache/offline-cache/pkg/generation"
	classifier "github.com/always-cache/offline-cache/pkg/request-classifier"
)

var (
	// ErrInstallFailed is returned by Register when a generation could not be installed at all.
	ErrInstallFailed = errors.New("install failed")
	// ErrNoWaitingGeneration is returned when activation is requested but there is nothing to activate.
	ErrNoWaitingGeneration = errors.New("no waiting generation")
)

type State int

const (
	StateInstalling State = iota
	StateWaiting
	StateActive
	StateSuperseded
	// StateRedundant is the final state of a generation whose install or activation failed,
	// or that was replaced while waiting.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	default:
		return "redundant"
	}
}

// Worker is one registered generation and its progress through the lifecycle.
type Worker struct {
	generation.Generation
	manifest assetmanifest.Manifest

	// guarded by the lifecycle mutex
	state          State
	activateQueued bool

	// written before the worker is published as active, read-only afterwards
	stores map[classifier.Category]cache.Store
	result InstallResult
}

func newWorker(g generation.Generation, manifest assetmanifest.Manifest) *Worker {
	return &Worker{
		Generation: g,
		manifest:   manifest,
		state:      StateInstalling,
		stores:     make(map[classifier.Category]cache.Store),
		result:     InstallResult{Version: g.Version},
	}
}

// Store returns the worker's store for the category.
func (w *Worker) Store(category classifier.Category) cache.Store {
	return w.stores[category]
}

type lifecycle struct {
	skipWaiting     bool
	claimOnActivate bool

	// serializes Register
	registerMu sync.Mutex
	// guards every state transition
	mu         sync.Mutex
	active     atomic.Pointer[Worker]
	installing *Worker
	waiting    *Worker
}

// Active returns the generation currently routing requests, or nil.
func (l *lifecycle) Active() *Worker {
	return l.active.Load()
}

// Register installs the generation for a version tag and returns once the install is resolved.
// The generation activates right away if no generation is active, SkipWaiting is configured,
// or an ActivateNow message arrived during the install. Otherwise it waits.
//
// Registering the version of the active or waiting generation again is a no-op.
func (e *Engine) Register(ctx context.Context, version string, manifest assetmanifest.Manifest) (InstallResult, error) {
	l := e.lifecycle
	l.registerMu.Lock()
	defer l.registerMu.Unlock()

	if version == "" {
		return InstallResult{}, fmt.Errorf("%w: empty version", ErrInstallFailed)
	}

	l.mu.Lock()
	for _, w := range []*Worker{l.active.Load(), l.waiting} {
		if w != nil && w.Version == version {
			state := w.state
			l.mu.Unlock()
			e.log.Info().Str("version", version).Str("state", state.String()).Msg("Version already registered")
			return w.result, nil
		}
	}
	w := newWorker(e.generations.Generation(version), manifest)
	l.installing = w
	l.mu.Unlock()

	log := e.log.With().Str("version", version).Logger()
	log.Info().Int("assets", len(manifest)).Msg("Installing generation")

	if err := e.dispatch(ctx, Event{Kind: EventInstall, Worker: w}); err != nil {
		l.mu.Lock()
		w.state = StateRedundant
		l.installing = nil
		l.mu.Unlock()
		log.Error().Err(err).Msg("Install failed")
		return w.result, err
	}

	l.mu.Lock()
	l.installing = nil
	activate := w.activateQueued || l.skipWaiting || l.active.Load() == nil
	if !activate {
		if l.waiting != nil {
			l.waiting.state = StateRedundant
		}
		l.waiting = w
		w.state = StateWaiting
	}
	l.mu.Unlock()

	if !activate {
		log.Info().Msg("Generation installed, waiting for activation")
		return w.result, nil
	}
	return w.result, e.activate(ctx, w)
}

// ActivateNow activates the waiting generation.
// If a generation is still installing, activation is queued and happens once the install is done.
func (e *Engine) ActivateNow(ctx context.Context) error {
	l := e.lifecycle
	l.mu.Lock()
	switch {
	case l.waiting != nil:
		l.mu.Unlock()
		// a newer install may replace the waiting generation in between
		return e.activate(ctx, nil)
	case l.installing != nil:
		l.installing.activateQueued = true
		version := l.installing.Version
		l.mu.Unlock()
		e.log.Debug().Str("version", version).Msg("Activation queued until install completes")
		return nil
	default:
		l.mu.Unlock()
		return ErrNoWaitingGeneration
	}
}

// activate makes w the active generation, unless it already left the
// installing and waiting states in the meantime.
// A nil w activates whichever generation is waiting when the lifecycle lock is taken.
func (e *Engine) activate(ctx context.Context, w *Worker) error {
	l := e.lifecycle
	l.mu.Lock()
	defer l.mu.Unlock()
	if w == nil {
		if l.waiting == nil {
			return ErrNoWaitingGeneration
		}
		w = l.waiting
	}
	if w.state != StateInstalling && w.state != StateWaiting {
		return nil
	}
	if err := e.dispatch(ctx, Event{Kind: EventActivate, Worker: w}); err != nil {
		w.state = StateRedundant
		if l.waiting == w {
			l.waiting = nil
		}
		e.log.Error().Err(err).Str("version", w.Version).Msg("Activation failed")
		return err
	}
	return nil
}

// onInstall opens the static store and precaches the manifest into it.
// Only the store open is fatal; individual asset failures are recorded in the result.
func (e *Engine) onInstall(ctx context.Context, evt Event) error {
	w := evt.Worker
	store, err := e.generations.Open(w.Generation, classifier.Static)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrInstallFailed, w.StoreName(classifier.Static), err)
	}
	w.stores[classifier.Static] = store
	w.result = e.precache(ctx, w.Version, store, w.manifest)
	return nil
}

// onActivate runs with the lifecycle mutex held.
func (e *Engine) onActivate(ctx context.Context, evt Event) error {
	l := e.lifecycle
	w := evt.Worker
	log := e.log.With().Str("version", w.Version).Logger()

	for _, category := range generation.Categories {
		if w.stores[category] != nil {
			continue
		}
		store, err := e.generations.Open(w.Generation, category)
		if err != nil {
			return fmt.Errorf("open %s: %w", w.StoreName(category), err)
		}
		w.stores[category] = store
	}

	previous := l.active.Swap(w)
	if previous != nil && previous != w {
		previous.state = StateSuperseded
	}
	w.state = StateActive
	if l.waiting == w {
		l.waiting = nil
	}
	log.Info().Msg("Generation activated")

	// stores of a generation still on its way in are not stale
	keep := make([]string, 0, 2)
	for _, other := range []*Worker{l.installing, l.waiting} {
		if other != nil {
			keep = append(keep, other.Version)
		}
	}
	deleted, err := e.generations.Collect(w.Version, keep...)
	if err != nil {
		log.Error().Err(err).Msg("Could not delete all old stores")
	}
	if len(deleted) > 0 {
		log.Info().Strs("stores", deleted).Msg("Deleted old stores")
	}

	if l.claimOnActivate {
		e.clients.claimAll()
		log.Debug().Msg("Claimed clients")
	}
	return nil
}
