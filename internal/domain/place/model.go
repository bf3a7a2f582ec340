// internal/domain/place/model.go

package place

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPlacesLoadFailed wraps failures of the authoritative user-submitted fetch
	ErrPlacesLoadFailed = errors.New("places load failed")

	// ErrPlaceSubmitFailed wraps failures while writing a new place
	ErrPlaceSubmitFailed = errors.New("place submit failed")

	// ErrInvalidPlaceDraft is matched by every draft validation error
	ErrInvalidPlaceDraft = errors.New("invalid place draft")
)

// Category classifies a place
type Category string

const (
	CategoryPark  Category = "park"
	CategoryCafe  Category = "cafe"
	CategoryTrail Category = "trail"
	CategoryOther Category = "other"
)

// Categories lists every valid category
var Categories = []Category{CategoryPark, CategoryCafe, CategoryTrail, CategoryOther}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryPark, CategoryCafe, CategoryTrail, CategoryOther:
		return true
	}
	return false
}

// Filter selects places by category; FilterAll passes everything
type Filter string

const (
	FilterAll   Filter = "all"
	FilterPark  Filter = Filter(CategoryPark)
	FilterCafe  Filter = Filter(CategoryCafe)
	FilterTrail Filter = Filter(CategoryTrail)
	FilterOther Filter = Filter(CategoryOther)
)

// ParseFilter parses a filter name; the empty string means all
func ParseFilter(s string) (Filter, error) {
	if s == "" || Filter(s) == FilterAll {
		return FilterAll, nil
	}
	if Category(s).Valid() {
		return Filter(s), nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Matches reports whether a place of category c passes the filter
func (f Filter) Matches(c Category) bool {
	return f == FilterAll || f == "" || Category(f) == c
}

// SearchCategory resolves the category sent to the external provider, which
// accepts exactly one category per call
func (f Filter) SearchCategory() Category {
	if f == FilterAll || f == "" {
		return CategoryPark
	}
	return Category(f)
}

// Source identifies where a place came from
type Source string

const (
	SourceUser     Source = "user-submitted"
	SourceExternal Source = "external-search"
)

// Place is a point of interest shown on the map
type Place struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Address     string   `json:"address,omitempty"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Notes       string   `json:"notes,omitempty"`
	ParkingInfo string   `json:"parkingInfo,omitempty"`
	PhotoURL    string   `json:"photoUrl,omitempty"`
	// PhotoRefs holds provider photo references; the first one has already
	// been resolved into PhotoURL, the rest resolve on demand.
	PhotoRefs []string `json:"photoRefs,omitempty"`
	Source    Source   `json:"source"`

	// Only set for user-submitted places
	AuthorID  *string   `json:"authorId,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	Upvotes   int       `json:"upvotes"`
}

// NewPlace is a validated place about to be written
type NewPlace struct {
	Name        string
	Category    Category
	Address     string
	Lat         float64
	Lng         float64
	Notes       string
	ParkingInfo string
	PhotoURL    string
	AuthorID    *string
}

// Image is a picture attached to a draft
type Image struct {
	ContentType string
	Data        []byte
}

// Store reads and writes user-submitted places
type Store interface {
	// List returns up to limit places, newest first
	List(ctx context.Context, limit int) ([]Place, error)

	// Create writes a place with a server timestamp and zero upvotes
	Create(ctx context.Context, p NewPlace) (string, error)
}

// Searcher fetches places from the external provider for one category
type Searcher interface {
	Search(ctx context.Context, category Category) ([]Place, error)
}

// ImageUploader stores an image and returns a displayable URL
type ImageUploader interface {
	Upload(ctx context.Context, img Image) (string, error)
}
