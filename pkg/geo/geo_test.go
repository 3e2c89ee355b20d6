package geo_test

import (
	"testing"

	"github.com/canopytrace/canopytrace/pkg/geo"
)

func TestParse_valid(t *testing.T) {
	p, err := geo.Parse([]byte(`[[6.521,-1.932],[6.523,-1.931],[6.522,-1.929]]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p) != 3 {
		t.Errorf("vertex count: got %d, want 3", len(p))
	}
	if p[0].Lat() != 6.521 || p[0].Lng() != -1.932 {
		t.Errorf("first vertex: got %v", p[0])
	}
}

func TestParse_rejectsTooFewVertices(t *testing.T) {
	if _, err := geo.Parse([]byte(`[[6.521,-1.932],[6.523,-1.931]]`)); err == nil {
		t.Error("expected error for 2-vertex polygon")
	}
}

func TestValidate_rejectsOutOfRange(t *testing.T) {
	cases := []geo.Polygon{
		{{91, 0}, {0, 0}, {1, 1}},
		{{-91, 0}, {0, 0}, {1, 1}},
		{{0, 181}, {0, 0}, {1, 1}},
		{{0, -181}, {0, 0}, {1, 1}},
	}
	for i, p := range cases {
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: expected range error", i)
		}
	}
}

func TestContentHash_deterministic(t *testing.T) {
	p := geo.Polygon{{6.521, -1.932}, {6.523, -1.931}, {6.522, -1.929}}
	if p.ContentHash() != p.ContentHash() {
		t.Error("ContentHash not deterministic")
	}

	q := geo.Polygon{{6.521, -1.932}, {6.523, -1.931}, {6.522, -1.928}}
	if p.ContentHash() == q.ContentHash() {
		t.Error("distinct polygons produced equal hashes")
	}
}

func TestContentHash_closedAndOpenRingsAgree(t *testing.T) {
	open := geo.Polygon{{6.521, -1.932}, {6.523, -1.931}, {6.522, -1.929}}
	closed := append(geo.Polygon{}, open...)
	closed = append(closed, open[0])

	if open.ContentHash() != closed.ContentHash() {
		t.Error("open and closed encodings of the same ring must commit equally")
	}
}
