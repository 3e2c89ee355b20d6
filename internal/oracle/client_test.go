package oracle_test

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/oracle"
)

func fixedTime(daysFromNow int) time.Time {
	return time.Now().AddDate(0, 0, daysFromNow)
}

func TestImageryClient_searchSortsByCloudCover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/composites/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"composites":[
			{"id":"cloudy","cloud_cover_pct":41.5},
			{"id":"clear","cloud_cover_pct":2.1},
			{"id":"hazy","cloud_cover_pct":18.0}
		]}`)
	}))
	defer srv.Close()

	c := oracle.NewImageryClient(oracle.ImageryConfig{BaseURL: srv.URL}, zap.NewNop())
	got, err := c.SearchComposites(ctx, testPolygon, fixedTime(-30), fixedTime(0), 50)
	if err != nil {
		t.Fatalf("SearchComposites: %v", err)
	}
	if len(got) != 3 || got[0].ID != "clear" || got[2].ID != "cloudy" {
		t.Errorf("not sorted ascending by cloud cover: %+v", got)
	}
}

func TestImageryClient_fetchEncodesArtifact(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0x01}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	c := oracle.NewImageryClient(oracle.ImageryConfig{BaseURL: srv.URL}, zap.NewNop())
	b64, err := c.FetchEncoded(ctx, oracle.Composite{ID: "x", HREF: srv.URL + "/artifact"})
	if err != nil {
		t.Fatalf("FetchEncoded: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("not valid base64: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Error("round trip mismatch")
	}
}

func TestImageryClient_oversizedArtifactFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	c := oracle.NewImageryClient(oracle.ImageryConfig{BaseURL: srv.URL, MaxArtifactBytes: 1024}, zap.NewNop())
	_, err := c.FetchEncoded(ctx, oracle.Composite{ID: "big", HREF: srv.URL + "/artifact"})
	if !errors.Is(err, oracle.ErrArtifact) {
		t.Fatalf("got %v, want ErrArtifact", err)
	}
}

// inferenceServer replies with the given message content in chat-completions
// shape.
func inferenceServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Messages []struct {
				Content []json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		// prompt plus two image attachments
		if len(req.Messages) != 1 || len(req.Messages[0].Content) != 3 {
			t.Errorf("unexpected request shape: %+v", req)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestInferenceClient_parsesPlainVerdict(t *testing.T) {
	srv := inferenceServer(t, `{"deforestation_detected": true, "explanation": "clearing along the eastern edge"}`)
	defer srv.Close()

	c := oracle.NewInferenceClient(oracle.InferenceConfig{BaseURL: srv.URL, Model: "canopy-diff-v1"}, zap.NewNop())
	v, err := c.Classify(ctx, "cmVjZW50", "aGlzdA==")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !v.DeforestationDetected || v.Explanation == "" {
		t.Errorf("unexpected verdict: %+v", v)
	}
}

func TestInferenceClient_parsesFencedVerdict(t *testing.T) {
	srv := inferenceServer(t, "```json\n{\"deforestation_detected\": false, \"explanation\": \"stable\"}\n```")
	defer srv.Close()

	c := oracle.NewInferenceClient(oracle.InferenceConfig{BaseURL: srv.URL}, zap.NewNop())
	v, err := c.Classify(ctx, "cmVjZW50", "aGlzdA==")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.DeforestationDetected {
		t.Error("expected clean verdict")
	}
}

func TestInferenceClient_rejectsMalformedReplies(t *testing.T) {
	cases := map[string]string{
		"free text":        "I believe there is deforestation on this plot.",
		"missing field":    `{"explanation": "no verdict field"}`,
		"trailing content": `{"deforestation_detected": false} and furthermore`,
		"empty":            "",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			srv := inferenceServer(t, content)
			defer srv.Close()

			c := oracle.NewInferenceClient(oracle.InferenceConfig{BaseURL: srv.URL}, zap.NewNop())
			if _, err := c.Classify(ctx, "cmVjZW50", "aGlzdA=="); !errors.Is(err, oracle.ErrUnparseableVerdict) {
				t.Errorf("got %v, want ErrUnparseableVerdict", err)
			}
		})
	}
}

func TestInferenceClient_serviceErrorIsNotAVerdictError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := oracle.NewInferenceClient(oracle.InferenceConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := c.Classify(ctx, "cmVjZW50", "aGlzdA==")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, oracle.ErrUnparseableVerdict) {
		t.Error("transport failure must not be classified as an unparseable verdict")
	}
}
