package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the Gemini REST API and returns schema-validated trading
// decisions. An empty API key disables the client.
type Client struct {
	apiKey     string
	url        string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient builds a Client for the given model.
func NewClient(apiKey, model string, log zerolog.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		url:        fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", model),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log.With().Str("component", "ai").Logger(),
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Request/response shapes for the Gemini REST API. Decoded strictly, no
// map[string]interface{} walking.
type geminiRequest struct {
	SystemInstruction geminiContent    `json:"system_instruction"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMIMEType string `json:"response_mime_type"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// AnalyzePortfolio sends the snapshot to the advisory model and returns the
// validated decisions plus the number of malformed entries discarded.
func (c *Client) AnalyzePortfolio(ctx context.Context, systemInstruction string, snapshot PortfolioSnapshot) ([]Decision, int, error) {
	if !c.Enabled() {
		return nil, 0, fmt.Errorf("advisory client not configured")
	}

	snapJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	reqBody := geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: systemInstruction}}},
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: fmt.Sprintf("Analyze this portfolio state: %s", snapJSON)}}},
		},
		GenerationConfig: generationConfig{ResponseMIMEType: "application/json"},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"?key="+c.apiKey, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, 0, fmt.Errorf("advisory API error %d: %s", resp.StatusCode, body)
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, 0, fmt.Errorf("decode advisory response: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, 0, fmt.Errorf("no candidates in advisory response")
	}

	text := result.Candidates[0].Content.Parts[0].Text
	decisions, discarded, err := ParseDecisions([]byte(text))
	if err != nil {
		return nil, 0, fmt.Errorf("advisory output: %w (raw: %s)", err, text)
	}
	if discarded > 0 {
		c.log.Warn().Int("discarded", discarded).Msg("malformed advisory entries rejected")
	}
	return decisions, discarded, nil
}
