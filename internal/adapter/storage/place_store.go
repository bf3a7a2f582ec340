// internal/adapter/storage/place_store.go

package storage

import (
	"context"
	"fmt"
	"log"

	"pawmap/internal/domain/document"
	"pawmap/internal/domain/place"
)

// PlacesCollection is the collection user-submitted places live in
const PlacesCollection = "places"

// PlaceStore implements place.Store on top of a document store
type PlaceStore struct {
	docs document.Store
}

// NewPlaceStore creates a new place store
func NewPlaceStore(docs document.Store) *PlaceStore {
	return &PlaceStore{
		docs: docs,
	}
}

// List returns up to limit places, newest first. Documents that fail to
// decode are logged and left out.
func (s *PlaceStore) List(ctx context.Context, limit int) ([]place.Place, error) {
	docs, err := s.docs.Query(ctx, document.Query{
		Collection: PlacesCollection,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("error querying places: %w", err)
	}

	places := make([]place.Place, 0, len(docs))
	for _, doc := range docs {
		p, err := DecodePlace(doc)
		if err != nil {
			log.Printf("Skipping place: %v", err)
			continue
		}
		places = append(places, p)
	}

	log.Printf("Fetched %d places from store", len(places))
	return places, nil
}

// Create writes a place with zero upvotes; the store assigns the timestamp
func (s *PlaceStore) Create(ctx context.Context, p place.NewPlace) (string, error) {
	fields := map[string]interface{}{
		"name":     p.Name,
		"type":     string(p.Category),
		"address":  p.Address,
		"lat":      p.Lat,
		"lng":      p.Lng,
		"notes":    p.Notes,
		"parking":  p.ParkingInfo,
		"upvotes":  0,
		"photoUrl": nil,
		"authorId": nil,
	}
	if p.PhotoURL != "" {
		fields["photoUrl"] = p.PhotoURL
	}
	if p.AuthorID != nil {
		fields["authorId"] = *p.AuthorID
	}

	id, err := s.docs.Insert(ctx, PlacesCollection, fields)
	if err != nil {
		return "", fmt.Errorf("error creating place: %w", err)
	}

	log.Printf("Place created with ID: %s", id)
	return id, nil
}

// DecodePlace converts a stored document into a user-submitted place
func DecodePlace(doc document.Document) (place.Place, error) {
	d := document.NewDecoder(PlacesCollection, doc)
	p := place.Place{
		ID:          doc.ID,
		Name:        d.String("name"),
		Category:    place.Category(d.String("type")),
		Address:     d.OptionalString("address"),
		Lat:         d.Float("lat"),
		Lng:         d.Float("lng"),
		Notes:       d.OptionalString("notes"),
		ParkingInfo: d.OptionalString("parking"),
		PhotoURL:    d.OptionalString("photoUrl"),
		AuthorID:    d.NullableString("authorId"),
		Upvotes:     d.OptionalInt("upvotes"),
		Source:      place.SourceUser,
	}
	if err := d.Err(); err != nil {
		return place.Place{}, err
	}
	if !p.Category.Valid() {
		return place.Place{}, &document.MalformedRecordError{
			Collection: PlacesCollection,
			ID:         doc.ID,
			Field:      "type",
			Reason:     fmt.Sprintf("has unknown category %q", p.Category),
		}
	}
	if doc.CreatedAt != nil {
		p.CreatedAt = *doc.CreatedAt
	}

	return p, nil
}
