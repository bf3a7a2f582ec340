// internal/domain/place/draft.go

package place

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Draft is a place as typed into the submission form
type Draft struct {
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Address     string   `json:"address"`
	Notes       string   `json:"notes"`
	ParkingInfo string   `json:"parkingInfo"`
	Lat         string   `json:"lat"`
	Lng         string   `json:"lng"`
	Image       *Image   `json:"-"`
}

// InvalidDraftError names the draft field that failed validation
type InvalidDraftError struct {
	Field  string
	Reason string
}

func (e *InvalidDraftError) Error() string {
	return fmt.Sprintf("invalid place draft: %s %s", e.Field, e.Reason)
}

func (e *InvalidDraftError) Unwrap() error {
	return ErrInvalidPlaceDraft
}

// Validate checks the draft and converts it into a NewPlace. Text fields are
// trimmed and an empty category defaults to park.
func (d Draft) Validate() (NewPlace, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return NewPlace{}, &InvalidDraftError{Field: "name", Reason: "is required"}
	}

	category := d.Category
	if category == "" {
		category = CategoryPark
	}
	if !category.Valid() {
		return NewPlace{}, &InvalidDraftError{Field: "category", Reason: fmt.Sprintf("%q is not a category", category)}
	}

	lat, err := parseCoordinate("lat", d.Lat, 90)
	if err != nil {
		return NewPlace{}, err
	}
	lng, err := parseCoordinate("lng", d.Lng, 180)
	if err != nil {
		return NewPlace{}, err
	}

	return NewPlace{
		Name:        name,
		Category:    category,
		Address:     strings.TrimSpace(d.Address),
		Lat:         lat,
		Lng:         lng,
		Notes:       strings.TrimSpace(d.Notes),
		ParkingInfo: strings.TrimSpace(d.ParkingInfo),
	}, nil
}

func parseCoordinate(field, raw string, limit float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, &InvalidDraftError{Field: field, Reason: "is required"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &InvalidDraftError{Field: field, Reason: "is not a finite number"}
	}
	if v < -limit || v > limit {
		return 0, &InvalidDraftError{Field: field, Reason: fmt.Sprintf("must be within ±%g", limit)}
	}
	return v, nil
}
