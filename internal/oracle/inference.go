package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnparseableVerdict is returned when the inference service reply does not
// contain a well-formed verdict. The attempt fails; no heuristic recovery is
// attempted on free-form text.
var ErrUnparseableVerdict = errors.New("inference reply is not a parseable verdict")

// Verdict is the structured finding of one change-detection comparison.
type Verdict struct {
	DeforestationDetected bool   `json:"deforestation_detected"`
	Explanation           string `json:"explanation"`
}

// VerdictClassifier is the inference boundary the pipeline depends on.
// *InferenceClient satisfies this interface.
type VerdictClassifier interface {
	Classify(ctx context.Context, recentB64, historicalB64 string) (*Verdict, error)
}

// classifyPrompt instructs the model to compare the two composites and answer
// in the exact JSON shape parseVerdict expects.
const classifyPrompt = `You are a deforestation analyst. Image one is a recent satellite composite of an agricultural plot; image two shows the same plot three to six months earlier. Compare forest cover between the two. Respond with only a JSON object of the form {"deforestation_detected": <bool>, "explanation": "<one sentence>"} and nothing else.`

// InferenceConfig holds the inference service connection settings.
type InferenceConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// InferenceClient calls a chat-completions style inference endpoint with two
// image attachments and parses the structured verdict from the reply.
type InferenceClient struct {
	cfg        InferenceConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewInferenceClient creates an InferenceClient.
func NewInferenceClient(cfg InferenceConfig, logger *zap.Logger) *InferenceClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &InferenceClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type chatContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func imageContent(b64 string) chatContent {
	return chatContent{
		Type: "image_url",
		ImageURL: &struct {
			URL string `json:"url"`
		}{URL: "data:image/png;base64," + b64},
	}
}

// Classify implements VerdictClassifier.
func (c *InferenceClient) Classify(ctx context.Context, recentB64, historicalB64 string) (*Verdict, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: classifyPrompt},
				imageContent(recentB64),
				imageContent(historicalB64),
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference call: service returned %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrUnparseableVerdict)
	}

	verdict, err := parseVerdict(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("verdict classified",
		zap.Bool("deforestation_detected", verdict.DeforestationDetected),
	)
	return verdict, nil
}

// parseVerdict decodes the model reply. Markdown code fences around the JSON
// object are tolerated; anything else that fails a strict decode fails the
// attempt with ErrUnparseableVerdict.
func parseVerdict(content string) (*Verdict, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var raw struct {
		DeforestationDetected *bool  `json:"deforestation_detected"`
		Explanation           string `json:"explanation"`
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableVerdict, err)
	}
	// A trailing second JSON value means the reply was not just the verdict.
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing content after verdict object", ErrUnparseableVerdict)
	}
	if raw.DeforestationDetected == nil {
		return nil, fmt.Errorf("%w: missing deforestation_detected", ErrUnparseableVerdict)
	}

	return &Verdict{
		DeforestationDetected: *raw.DeforestationDetected,
		Explanation:           raw.Explanation,
	}, nil
}
