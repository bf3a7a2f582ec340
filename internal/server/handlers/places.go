// internal/server/handlers/places.go

package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"pawmap/internal/domain/identity"
	"pawmap/internal/domain/place"
	placesService "pawmap/internal/service/places"
)

// PlaceHandler handles place HTTP and WebSocket requests
type PlaceHandler struct {
	store     place.Store
	searcher  place.Searcher
	uploader  place.ImageUploader
	identity  identity.Provider
	config    placesService.EngineConfig
	submitter *placesService.Engine

	mu       sync.Mutex
	sessions map[*placesService.Engine]struct{}
}

// NewPlaceHandler creates a new place handler. searcher and uploader may be nil.
func NewPlaceHandler(
	store place.Store,
	searcher place.Searcher,
	uploader place.ImageUploader,
	provider identity.Provider,
	config placesService.EngineConfig,
) *PlaceHandler {
	h := &PlaceHandler{
		store:    store,
		searcher: searcher,
		uploader: uploader,
		identity: provider,
		config:   config,
		// The submitter never searches and keeps filter all with no
		// viewport, so its view is exactly the user place list.
		submitter: placesService.NewEngine(store, nil, uploader, provider, config),
		sessions:  make(map[*placesService.Engine]struct{}),
	}
	h.submitter.OnChange(h.broadcastUserPlaces)
	return h
}

// broadcastUserPlaces hands the reloaded user places to every open session
func (h *PlaceHandler) broadcastUserPlaces(user place.View) {
	h.mu.Lock()
	engines := make([]*placesService.Engine, 0, len(h.sessions))
	for e := range h.sessions {
		engines = append(engines, e)
	}
	h.mu.Unlock()

	for _, e := range engines {
		e.SetUserPlaces(user)
	}
}

func (h *PlaceHandler) register(e *placesService.Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[e] = struct{}{}
}

func (h *PlaceHandler) unregister(e *placesService.Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, e)
}

func (h *PlaceHandler) newEngine() *placesService.Engine {
	return placesService.NewEngine(h.store, h.searcher, h.uploader, h.identity, h.config)
}

// placesResponse is the aggregated view
type placesResponse struct {
	Type   string       `json:"type,omitempty"`
	Filter place.Filter `json:"filter"`
	Places place.View   `json:"places"`
}

// ListPlaces returns the aggregated view for one category and optional viewport
func (h *PlaceHandler) ListPlaces(w http.ResponseWriter, r *http.Request) {
	filter, err := place.ParseFilter(r.URL.Query().Get("category"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error(), err)
		return
	}

	bounds, err := parseBounds(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error(), err)
		return
	}

	engine := h.newEngine()
	engine.SetViewport(bounds)
	if err := engine.Load(r.Context(), filter); err != nil {
		respondWithError(w, http.StatusBadGateway, "Failed to load places", err)
		return
	}

	respondWithJSON(w, http.StatusOK, placesResponse{Filter: filter, Places: engine.View()})
}

// parseBounds reads the optional viewport; all four values or none
func parseBounds(r *http.Request) (*place.Bounds, error) {
	q := r.URL.Query()
	keys := []string{"lat", "lng", "latSpan", "lngSpan"}

	present := 0
	for _, k := range keys {
		if q.Get(k) != "" {
			present++
		}
	}
	if present == 0 {
		return nil, nil
	}
	if present != len(keys) {
		return nil, fmt.Errorf("viewport needs lat, lng, latSpan and lngSpan")
	}

	values := make([]float64, len(keys))
	for i, k := range keys {
		v, err := strconv.ParseFloat(q.Get(k), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s", k)
		}
		values[i] = v
	}

	return &place.Bounds{
		CenterLat: values[0],
		CenterLng: values[1],
		LatSpan:   values[2],
		LngSpan:   values[3],
	}, nil
}

// submitPlaceRequest is a draft with an optional base64 image
type submitPlaceRequest struct {
	place.Draft
	Image            string `json:"image"`
	ImageContentType string `json:"imageContentType"`
}

// toDraft decodes the optional base64 image into the draft
func (req submitPlaceRequest) toDraft() (place.Draft, error) {
	draft := req.Draft
	if req.Image != "" {
		data, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			return place.Draft{}, &place.InvalidDraftError{Field: "image", Reason: "is not valid base64"}
		}
		draft.Image = &place.Image{ContentType: req.ImageContentType, Data: data}
	}
	return draft, nil
}

// SubmitPlace validates and stores a user place. Open place sessions pick
// up the new place from the reload that follows.
func (h *PlaceHandler) SubmitPlace(w http.ResponseWriter, r *http.Request) {
	var req submitPlaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	draft, err := req.toDraft()
	if err != nil {
		h.respondWithSubmitError(w, err)
		return
	}

	id, err := h.submitter.Submit(r.Context(), draft)
	if err != nil {
		h.respondWithSubmitError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *PlaceHandler) respondWithSubmitError(w http.ResponseWriter, err error) {
	var invalid *place.InvalidDraftError
	switch {
	case errors.As(err, &invalid):
		respondWithJSON(w, http.StatusBadRequest, map[string]string{
			"error": invalid.Error(),
			"field": invalid.Field,
		})
	case errors.Is(err, place.ErrPlaceSubmitFailed):
		respondWithError(w, http.StatusBadGateway, "Failed to submit place", err)
	default:
		respondWithError(w, http.StatusInternalServerError, "Failed to submit place", err)
	}
}

type categoryMessage struct {
	Category string `json:"category"`
}

type viewportMessage struct {
	Viewport *place.Bounds `json:"viewport"`
}

type submitMessage struct {
	Place submitPlaceRequest `json:"place"`
}

type submittedFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type submitErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// ServeWebSocket pushes the aggregated view after every recompute. Clients
// switch category and move the viewport over the same connection.
func (h *PlaceHandler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	session, err := upgrade(w, r, "places")
	if err != nil {
		return
	}

	engine := h.newEngine()
	engine.OnChange(func(v place.View) {
		session.enqueue(placesResponse{Type: "places", Filter: engine.Filter(), Places: v})
	})

	load := func(filter place.Filter) {
		if err := engine.Load(session.ctx, filter); err != nil {
			session.sendError("Failed to load places")
		}
	}
	h.register(engine)
	defer h.unregister(engine)
	go load(place.FilterAll)

	session.readPump(func(msgType string, payload []byte) {
		switch msgType {
		case "category":
			var msg categoryMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				session.sendError("invalid message")
				return
			}
			filter, err := place.ParseFilter(msg.Category)
			if err != nil {
				session.sendError(err.Error())
				return
			}
			go engine.SetFilter(session.ctx, filter)

		case "viewport":
			var msg viewportMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				session.sendError("invalid message")
				return
			}
			engine.SetViewport(msg.Viewport)

		case "reload":
			go load(engine.Filter())

		case "submit":
			var msg submitMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				session.sendError("invalid message")
				return
			}
			go h.submitFromSession(session, msg.Place)

		default:
			session.sendError("unknown message type " + strconv.Quote(msgType))
		}
	})
}

func (h *PlaceHandler) submitFromSession(session *wsSession, req submitPlaceRequest) {
	draft, err := req.toDraft()
	if err == nil {
		var id string
		id, err = h.submitter.Submit(session.ctx, draft)
		if err == nil {
			session.enqueue(submittedFrame{Type: "submitted", ID: id})
			return
		}
	}

	frame := submitErrorFrame{Type: "error", Error: "Failed to submit place"}
	var invalid *place.InvalidDraftError
	if errors.As(err, &invalid) {
		frame.Error = invalid.Error()
		frame.Field = invalid.Field
	}
	session.enqueue(frame)
}
