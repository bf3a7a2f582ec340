// internal/server/handlers/images.go

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pawmap/internal/domain/document"
	"pawmap/internal/domain/place"
)

// ImageSource loads uploaded images
type ImageSource interface {
	Get(ctx context.Context, id string) (place.Image, error)
}

// ImageHandler serves uploaded place images
type ImageHandler struct {
	images ImageSource
}

// NewImageHandler creates a new image handler
func NewImageHandler(images ImageSource) *ImageHandler {
	return &ImageHandler{
		images: images,
	}
}

// GetImage writes the raw image bytes
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing image ID", nil)
		return
	}

	img, err := h.images.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Image not found", err)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to load image", err)
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	// Uploaded images never change
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}
