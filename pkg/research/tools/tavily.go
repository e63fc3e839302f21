package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mikeboe/deep-research/pkg/research"
)

const tavilyBaseURL = "https://api.tavily.com/search"

// TavilySearcher runs advanced-depth web searches through the Tavily API.
type TavilySearcher struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	HTTPClient *http.Client
}

// NewTavilySearcher returns a searcher for the public Tavily endpoint.
func NewTavilySearcher(apiKey string, maxResults int) *TavilySearcher {
	return &TavilySearcher{
		APIKey:     apiKey,
		BaseURL:    tavilyBaseURL,
		MaxResults: maxResults,
		HTTPClient: http.DefaultClient,
	}
}

type tavilyRequest struct {
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	MaxResults        int    `json:"max_results"`
	IncludeImages     bool   `json:"include_images"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResult struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent *string `json:"raw_content"`
}

type tavilyResponse struct {
	Results []tavilyResult    `json:"results"`
	Images  []json.RawMessage `json:"images"`
}

// Search runs query and prefers each result's raw page content over its snippet.
func (s *TavilySearcher) Search(ctx context.Context, query string) (research.SearchOutput, error) {
	if s.APIKey == "" {
		return research.SearchOutput{}, errors.New("TAVILY_API_KEY is not set")
	}
	maxResults := s.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	jsonBody, err := json.Marshal(tavilyRequest{
		Query:             query,
		SearchDepth:       "advanced",
		MaxResults:        maxResults,
		IncludeImages:     true,
		IncludeRawContent: true,
	})
	if err != nil {
		return research.SearchOutput{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return research.SearchOutput{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return research.SearchOutput{}, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return research.SearchOutput{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return research.SearchOutput{}, fmt.Errorf("tavily returned status %s: %s", resp.Status, string(body))
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return research.SearchOutput{}, fmt.Errorf("failed to unmarshal tavily response: %w", err)
	}

	out := research.SearchOutput{
		Sources: make([]research.Source, 0, len(parsed.Results)),
		Images:  make([]research.Image, 0, len(parsed.Images)),
	}
	for _, r := range parsed.Results {
		content := r.Content
		if r.RawContent != nil && strings.TrimSpace(*r.RawContent) != "" {
			content = *r.RawContent
		}
		out.Sources = append(out.Sources, research.Source{Title: r.Title, URL: r.URL, Content: content})
	}
	for _, raw := range parsed.Images {
		if img, ok := decodeTavilyImage(raw); ok {
			out.Images = append(out.Images, img)
		}
	}
	return out, nil
}

// Images come back as bare URLs, or as objects when descriptions are enabled.
func decodeTavilyImage(raw json.RawMessage) (research.Image, bool) {
	var u string
	if err := json.Unmarshal(raw, &u); err == nil {
		return research.Image{URL: u}, u != ""
	}
	var img research.Image
	if err := json.Unmarshal(raw, &img); err == nil && img.URL != "" {
		return img, true
	}
	return research.Image{}, false
}
