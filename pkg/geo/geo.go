// Package geo provides the polygon type used to describe plot boundaries.
//
// A polygon is an ordered sequence of [lat, lng] vertices. The intake
// boundary transports polygons as JSON arrays of two-element arrays:
//
//	[[6.521, -1.932], [6.523, -1.931], [6.522, -1.929]]
//
// A valid boundary has at least three vertices, each within WGS84 range.
// The ring does not need to be explicitly closed; ContentHash closes it
// canonically so that an open and a closed encoding of the same boundary
// commit to the same value.
package geo

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MinVertices is the smallest vertex count that describes an area.
const MinVertices = 3

// Vertex is a single [lat, lng] point.
type Vertex [2]float64

// Lat returns the latitude component.
func (v Vertex) Lat() float64 { return v[0] }

// Lng returns the longitude component.
func (v Vertex) Lng() float64 { return v[1] }

// Polygon is an ordered boundary ring.
type Polygon []Vertex

// Parse decodes a JSON-encoded polygon and validates it.
func Parse(data []byte) (Polygon, error) {
	var p Polygon
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode polygon: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the vertex count and coordinate ranges.
func (p Polygon) Validate() error {
	if len(p) < MinVertices {
		return fmt.Errorf("polygon has %d vertices, need at least %d", len(p), MinVertices)
	}
	for i, v := range p {
		if v.Lat() < -90 || v.Lat() > 90 {
			return fmt.Errorf("vertex %d: latitude %v out of range", i, v.Lat())
		}
		if v.Lng() < -180 || v.Lng() > 180 {
			return fmt.Errorf("vertex %d: longitude %v out of range", i, v.Lng())
		}
	}
	return nil
}

// Closed returns the polygon with its first vertex appended when the ring
// is not already closed. The receiver is never modified.
func (p Polygon) Closed() Polygon {
	if len(p) == 0 || p[0] == p[len(p)-1] {
		return p
	}
	out := make(Polygon, len(p)+1)
	copy(out, p)
	out[len(p)] = p[0]
	return out
}

// ContentHash returns the hex SHA-256 commitment for the canonical (closed)
// form of the boundary. Plots store this commitment on ledger in place of
// the full coordinate list.
func (p Polygon) ContentHash() string {
	h := sha256.New()
	for _, v := range p.Closed() {
		fmt.Fprintf(h, "%.7f,%.7f;", v.Lat(), v.Lng())
	}
	return hex.EncodeToString(h.Sum(nil))
}
