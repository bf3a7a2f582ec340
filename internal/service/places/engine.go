// internal/service/places/engine.go

package places

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"pawmap/internal/domain/identity"
	"pawmap/internal/domain/place"
)

// DefaultFetchLimit is how many user-submitted places a load reads
const DefaultFetchLimit = 80

// EngineConfig contains configuration for the places engine
type EngineConfig struct {
	FetchLimit int
}

// Engine merges user-submitted and externally found places into one view
// filtered by category and map viewport
type Engine struct {
	store    place.Store
	searcher place.Searcher
	uploader place.ImageUploader
	identity identity.Provider
	config   EngineConfig

	mu         sync.Mutex
	user       []place.Place
	external   []place.Place
	filter     place.Filter
	viewport   *place.Bounds
	view       place.View
	recomputes uint64

	// Each source keeps the sequence of the newest fetch started and the
	// newest one applied, so a slow fetch never overwrites a newer result.
	userStarted      uint64
	userApplied      uint64
	externalStarted  uint64
	externalApplied  uint64
	filterGeneration uint64

	notifyMu     sync.Mutex
	onChange     func(place.View)
	lastNotified uint64
}

// NewEngine creates a new places engine. searcher and uploader may be nil.
func NewEngine(
	store place.Store,
	searcher place.Searcher,
	uploader place.ImageUploader,
	identity identity.Provider,
	config EngineConfig,
) *Engine {
	if config.FetchLimit <= 0 {
		config.FetchLimit = DefaultFetchLimit
	}

	return &Engine{
		store:    store,
		searcher: searcher,
		uploader: uploader,
		identity: identity,
		config:   config,
		filter:   place.FilterAll,
		view:     place.View{},
	}
}

// OnChange registers the callback invoked with the new view after every
// recompute. fn must not call back into the engine's setters.
func (e *Engine) OnChange(fn func(place.View)) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.onChange = fn
}

// View returns the current view
func (e *Engine) View() place.View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append(place.View{}, e.view...)
}

// Filter returns the active category filter
func (e *Engine) Filter() place.Filter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filter
}

// Load fetches user-submitted and external places concurrently and
// recomputes the view once both are in. A failed user fetch keeps the
// previous state; a failed external search only empties the external list.
// Results superseded by a newer fetch of the same source are dropped, and
// the external list is only applied while filter is still active.
func (e *Engine) Load(ctx context.Context, filter place.Filter) error {
	e.mu.Lock()
	e.userStarted++
	userSeq := e.userStarted
	e.externalStarted++
	externalSeq := e.externalStarted
	e.filterGeneration++
	filterGen := e.filterGeneration
	e.mu.Unlock()

	var user, external []place.Place

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		places, err := e.store.List(gctx, e.config.FetchLimit)
		if err != nil {
			return fmt.Errorf("%w: %w", place.ErrPlacesLoadFailed, err)
		}
		user = places
		return nil
	})
	g.Go(func() error {
		external = e.search(gctx, filter)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("Error loading places: %v", err)
		return err
	}

	e.mu.Lock()
	if filterGen == e.filterGeneration {
		e.filter = filter
	}
	applied := false
	if userSeq > e.userApplied {
		e.user = user
		e.userApplied = userSeq
		applied = true
	}
	if externalSeq > e.externalApplied && filter == e.filter {
		e.external = external
		e.externalApplied = externalSeq
		applied = true
	}
	if !applied {
		e.mu.Unlock()
		log.Printf("Dropping superseded places load")
		return nil
	}
	seq, view := e.recomputeLocked()
	e.mu.Unlock()

	e.publish(seq, view)
	return nil
}

// SetFilter applies filter to the places already loaded, then refreshes the
// external places for the new category
func (e *Engine) SetFilter(ctx context.Context, filter place.Filter) {
	e.mu.Lock()
	e.filter = filter
	e.filterGeneration++
	e.externalStarted++
	externalSeq := e.externalStarted
	seq, view := e.recomputeLocked()
	e.mu.Unlock()

	e.publish(seq, view)

	external := e.search(ctx, filter)

	e.mu.Lock()
	if externalSeq <= e.externalApplied || filter != e.filter {
		e.mu.Unlock()
		return
	}
	e.external = external
	e.externalApplied = externalSeq
	seq, view = e.recomputeLocked()
	e.mu.Unlock()

	e.publish(seq, view)
}

// SetUserPlaces replaces the user-submitted places with a list fetched
// elsewhere. It supersedes any user fetch still in flight.
func (e *Engine) SetUserPlaces(user []place.Place) {
	e.mu.Lock()
	e.userStarted++
	e.userApplied = e.userStarted
	e.user = append([]place.Place{}, user...)
	seq, view := e.recomputeLocked()
	e.mu.Unlock()

	e.publish(seq, view)
}

// SetViewport restricts the view to bounds; nil shows everything
func (e *Engine) SetViewport(bounds *place.Bounds) {
	e.mu.Lock()
	if bounds != nil {
		b := *bounds
		e.viewport = &b
	} else {
		e.viewport = nil
	}
	seq, view := e.recomputeLocked()
	e.mu.Unlock()

	e.publish(seq, view)
}

// Submit validates and writes a user place, then reloads with the active
// filter so the new place shows up the same way every other place does
func (e *Engine) Submit(ctx context.Context, draft place.Draft) (string, error) {
	newPlace, err := draft.Validate()
	if err != nil {
		return "", err
	}

	if draft.Image != nil {
		if e.uploader == nil {
			return "", fmt.Errorf("%w: image uploads are not configured", place.ErrPlaceSubmitFailed)
		}
		photoURL, err := e.uploader.Upload(ctx, *draft.Image)
		if err != nil {
			return "", fmt.Errorf("%w: %w", place.ErrPlaceSubmitFailed, err)
		}
		newPlace.PhotoURL = photoURL
	}

	if actor := e.identity.CurrentActor(ctx); actor != nil {
		authorID := actor.ID
		newPlace.AuthorID = &authorID
	}

	id, err := e.store.Create(ctx, newPlace)
	if err != nil {
		return "", fmt.Errorf("%w: %w", place.ErrPlaceSubmitFailed, err)
	}
	log.Printf("Place %s submitted: %s", id, newPlace.Name)

	if err := e.Load(ctx, e.Filter()); err != nil {
		log.Printf("Error reloading places after submit: %v", err)
	}

	return id, nil
}

func (e *Engine) search(ctx context.Context, filter place.Filter) []place.Place {
	if e.searcher == nil {
		return []place.Place{}
	}
	places, err := e.searcher.Search(ctx, filter.SearchCategory())
	if err != nil {
		log.Printf("Error searching external places: %v", err)
		return []place.Place{}
	}
	return places
}

// recomputeLocked must be called with mu held
func (e *Engine) recomputeLocked() (uint64, place.View) {
	e.view = place.RecomputeView(e.user, e.external, e.filter, e.viewport)
	e.recomputes++
	return e.recomputes, append(place.View{}, e.view...)
}

// publish hands view to the change callback unless a newer view already went out
func (e *Engine) publish(seq uint64, view place.View) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	if seq <= e.lastNotified {
		return
	}
	e.lastNotified = seq
	if e.onChange != nil {
		e.onChange(view)
	}
}
