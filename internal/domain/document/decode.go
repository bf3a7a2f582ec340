// internal/domain/document/decode.go

package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformedRecord is returned when a stored document does not match the
// shape an adapter expects
var ErrMalformedRecord = errors.New("malformed record")

// MalformedRecordError names the document and field that failed to decode
type MalformedRecordError struct {
	Collection string
	ID         string
	Field      string
	Reason     string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %s/%s: field %q %s", e.Collection, e.ID, e.Field, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error {
	return ErrMalformedRecord
}

// Decoder reads typed fields out of a document, remembering the first failure
type Decoder struct {
	collection string
	doc        Document
	err        error
}

// NewDecoder creates a decoder for a document read from collection
func NewDecoder(collection string, doc Document) *Decoder {
	return &Decoder{collection: collection, doc: doc}
}

// Err returns the first decode failure, if any
func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) fail(field, reason string) {
	if d.err != nil {
		return
	}
	d.err = &MalformedRecordError{
		Collection: d.collection,
		ID:         d.doc.ID,
		Field:      field,
		Reason:     reason,
	}
}

// String reads a required, non-blank string field
func (d *Decoder) String(field string) string {
	raw, ok := d.doc.Fields[field]
	if !ok || raw == nil {
		d.fail(field, "is missing")
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		d.fail(field, "is not a string")
		return ""
	}
	if strings.TrimSpace(s) == "" {
		d.fail(field, "is empty")
		return ""
	}
	return s
}

// OptionalString reads a string field that may be absent or null
func (d *Decoder) OptionalString(field string) string {
	raw, ok := d.doc.Fields[field]
	if !ok || raw == nil {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		d.fail(field, "is not a string")
		return ""
	}
	return s
}

// NullableString reads a string field, returning nil when it is absent or null
func (d *Decoder) NullableString(field string) *string {
	raw, ok := d.doc.Fields[field]
	if !ok || raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		d.fail(field, "is not a string")
		return nil
	}
	return &s
}

// Float reads a required, finite numeric field
func (d *Decoder) Float(field string) float64 {
	raw, ok := d.doc.Fields[field]
	if !ok || raw == nil {
		d.fail(field, "is missing")
		return 0
	}
	f, ok := toFloat(raw)
	if !ok {
		d.fail(field, "is not a number")
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		d.fail(field, "is not finite")
		return 0
	}
	return f
}

// OptionalInt reads an integer field, defaulting to zero when absent
func (d *Decoder) OptionalInt(field string) int {
	raw, ok := d.doc.Fields[field]
	if !ok || raw == nil {
		return 0
	}
	f, ok := toFloat(raw)
	if !ok || f != math.Trunc(f) {
		d.fail(field, "is not an integer")
		return 0
	}
	return int(f)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
