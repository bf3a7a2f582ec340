// internal/server/handlers/feed.go

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"pawmap/internal/domain/feed"
	"pawmap/internal/domain/identity"
	feedService "pawmap/internal/service/feed"
)

// FeedHandler handles chat feed HTTP and WebSocket requests
type FeedHandler struct {
	store       feed.Store
	identity    identity.Provider
	config      feedService.EngineConfig
	maxMessages int
	sender      *feedService.Engine
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(store feed.Store, provider identity.Provider, config feedService.EngineConfig, maxMessages int) *FeedHandler {
	if maxMessages <= 0 {
		maxMessages = feedService.DefaultMaxMessages
	}

	return &FeedHandler{
		store:       store,
		identity:    provider,
		config:      config,
		maxMessages: maxMessages,
		sender:      feedService.NewEngine(store, provider, config),
	}
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage appends a message to the feed
func (h *FeedHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.sender.Send(r.Context(), req.Text); err != nil {
		code, message := sendErrorStatus(err)
		respondWithError(w, code, message, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]string{"status": "sent"})
}

func sendErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized, "Sign in to send messages"
	case errors.Is(err, feed.ErrEmptyMessage):
		return http.StatusBadRequest, "Message is empty"
	case errors.Is(err, feed.ErrMessageTooLong):
		return http.StatusBadRequest, "Message is too long"
	case errors.Is(err, feed.ErrSendFailed):
		return http.StatusBadGateway, "Failed to send message"
	default:
		return http.StatusInternalServerError, "Failed to send message"
	}
}

// messagesFrame carries the complete message window, oldest first
type messagesFrame struct {
	Type     string         `json:"type"`
	Messages []feed.Message `json:"messages"`
}

type disconnectedFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type feedClientMessage struct {
	Text string `json:"text"`
}

// ServeWebSocket streams the latest messages to the client and accepts new
// ones. Each connection owns one subscription.
func (h *FeedHandler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	limit := h.maxMessages
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		if n < limit {
			limit = n
		}
	}

	session, err := upgrade(w, r, "feed")
	if err != nil {
		return
	}

	engine := feedService.NewEngine(h.store, h.identity, h.config)
	cancel, err := engine.Subscribe(session.ctx, limit, func(u feed.Update) {
		if u.Err != nil {
			session.enqueue(disconnectedFrame{Type: "disconnected", Error: "Live feed disconnected"})
			return
		}
		session.enqueue(messagesFrame{Type: "messages", Messages: u.Messages})
	})
	if err != nil {
		session.enqueue(disconnectedFrame{Type: "disconnected", Error: "Live feed unavailable"})
		session.close()
		return
	}
	defer cancel()

	session.readPump(func(msgType string, payload []byte) {
		switch msgType {
		case "message":
			var msg feedClientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				session.sendError("invalid message")
				return
			}
			if err := engine.Send(session.ctx, msg.Text); err != nil {
				_, message := sendErrorStatus(err)
				session.sendError(message)
			}
		default:
			session.sendError("unknown message type " + strconv.Quote(msgType))
		}
	})
}
