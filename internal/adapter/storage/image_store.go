// internal/adapter/storage/image_store.go

package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"pawmap/internal/domain/document"
	"pawmap/internal/domain/place"
)

// ImagesCollection holds uploaded place pictures
const ImagesCollection = "place_images"

// ImageStore keeps uploaded images in the document store and hands out URLs
// served by the images endpoint
type ImageStore struct {
	docs     document.Store
	baseURL  string
	maxBytes int
}

// NewImageStore creates a new image store. URLs are built as
// <baseURL>/api/v1/images/<id>.
func NewImageStore(docs document.Store, baseURL string, maxBytes int) *ImageStore {
	return &ImageStore{
		docs:     docs,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
	}
}

// Upload stores img and returns its URL
func (s *ImageStore) Upload(ctx context.Context, img place.Image) (string, error) {
	if len(img.Data) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	if s.maxBytes > 0 && len(img.Data) > s.maxBytes {
		return "", fmt.Errorf("image is %d bytes, limit is %d", len(img.Data), s.maxBytes)
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}

	id, err := s.docs.Insert(ctx, ImagesCollection, map[string]interface{}{
		"contentType": contentType,
		"data":        base64.StdEncoding.EncodeToString(img.Data),
	})
	if err != nil {
		return "", fmt.Errorf("error storing image: %w", err)
	}

	return s.baseURL + "/api/v1/images/" + id, nil
}

// Get loads an uploaded image
func (s *ImageStore) Get(ctx context.Context, id string) (place.Image, error) {
	doc, err := s.docs.Get(ctx, ImagesCollection, id)
	if err != nil {
		return place.Image{}, err
	}

	d := document.NewDecoder(ImagesCollection, *doc)
	contentType := d.String("contentType")
	encoded := d.String("data")
	if err := d.Err(); err != nil {
		return place.Image{}, err
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return place.Image{}, &document.MalformedRecordError{
			Collection: ImagesCollection,
			ID:         doc.ID,
			Field:      "data",
			Reason:     "is not base64",
		}
	}

	return place.Image{ContentType: contentType, Data: data}, nil
}
