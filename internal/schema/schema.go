// Package schema recognizes which indexer schema generation produced a record
// and normalizes it into the gateway's model.
//
// The indexer has served two generations of every entity. They differ in the
// name of the field that orders updates (for pools, lastUpdateTimestamp in
// generation A and blockTimestamp in generation B). A frame's generation is
// decided by which ordering field is present, never by matching error text.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rickgao/liquidity-gateway/internal/graphql"
)

// Version identifies a schema generation.
type Version int

const (
	Unrecognized Version = iota
	SchemaA
	SchemaB
)

func (v Version) String() string {
	switch v {
	case SchemaA:
		return "A"
	case SchemaB:
		return "B"
	default:
		return "unrecognized"
	}
}

// Errors
var (
	// ErrTransitional marks a frame in a known generation other than the
	// committed one. It is dropped without ending the stream.
	ErrTransitional = errors.New("frame from non-committed schema")

	// ErrUnrecognized marks a frame matching no known generation.
	ErrUnrecognized = errors.New("frame matches no known schema")

	// ErrMalformed marks a frame whose generation is known but whose fields
	// cannot be decoded.
	ErrMalformed = errors.New("malformed frame")
)

// Severity tells the stream consumer what to do with a normalization error.
type Severity int

const (
	SeverityFatal Severity = iota
	SeverityTransitional
)

func (s Severity) String() string {
	if s == SeverityTransitional {
		return "transitional"
	}
	return "fatal"
}

// Classify returns the severity of a normalization error. Anything not
// explicitly transitional is fatal.
func Classify(err error) Severity {
	if errors.Is(err, ErrTransitional) {
		return SeverityTransitional
	}
	return SeverityFatal
}

// Shape describes one generation of an entity family.
type Shape struct {
	Version       Version
	OrderingField string                    // Present only in this generation
	Connection    graphql.ConnectionQuery   // Zero Node means no bulk bootstrap
	Subscription  graphql.SubscriptionQuery // Live updates
}

// Bootstrap reports whether the shape can be bulk read.
func (s Shape) Bootstrap() bool {
	return s.Connection.Node != ""
}

// Family is a set of generations for one entity type plus its decoder.
type Family[T any] struct {
	Name   string
	Shapes []Shape // In probe order
	Decode func(f Fields, s Shape) (T, error)
}

// WithPageSize returns a copy of f whose bulk reads request n nodes per page.
func (f Family[T]) WithPageSize(n int) Family[T] {
	shapes := make([]Shape, len(f.Shapes))
	copy(shapes, f.Shapes)
	for i := range shapes {
		shapes[i].Connection.PageSize = n
	}
	f.Shapes = shapes
	return f
}

// Shape returns the shape for v.
func (f Family[T]) Shape(v Version) (Shape, bool) {
	for _, s := range f.Shapes {
		if s.Version == v {
			return s, true
		}
	}
	return Shape{}, false
}

// Detect returns the generation of raw. Exactly one known ordering field
// must be present.
func (f Family[T]) Detect(raw json.RawMessage) (Version, Fields, error) {
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Unrecognized, nil, fmt.Errorf("%w: %s record is not an object", ErrUnrecognized, f.Name)
	}

	found := Unrecognized
	matches := 0
	for _, s := range f.Shapes {
		if fields.Has(s.OrderingField) {
			found = s.Version
			matches++
		}
	}
	if matches != 1 {
		return Unrecognized, fields, fmt.Errorf("%w: %s record has %d ordering fields", ErrUnrecognized, f.Name, matches)
	}
	return found, fields, nil
}

// Normalize converts a raw record in the committed generation into T.
func (f Family[T]) Normalize(raw json.RawMessage, committed Version) (T, error) {
	var zero T

	v, fields, err := f.Detect(raw)
	if err != nil {
		return zero, err
	}
	if v != committed {
		return zero, fmt.Errorf("%w: %s record is schema %s, committed to %s", ErrTransitional, f.Name, v, committed)
	}

	shape, _ := f.Shape(v)
	out, err := f.Decode(fields, shape)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Name, err)
	}
	return out, nil
}

// Frames splits a subscription payload into records. The payload may be an
// array of records or a single record.
func Frames(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var frames []json.RawMessage
		if err := json.Unmarshal(trimmed, &frames); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnrecognized, err)
		}
		return frames, nil
	}
	return []json.RawMessage{trimmed}, nil
}
