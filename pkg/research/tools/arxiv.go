package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mikeboe/deep-research/pkg/research"
)

const arxivBaseURL = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// PDFLink returns the entry's PDF link, if any.
func (e ArxivEntry) PDFLink() string {
	for _, link := range e.Link {
		if link.Type == "application/pdf" {
			return link.Href
		}
	}
	return ""
}

// ArxivSearcher searches the arXiv Atom API. When OCR is set, the first
// paper's PDF is transcribed and used as its content.
type ArxivSearcher struct {
	BaseURL    string
	MaxResults int
	HTTPClient *http.Client
	OCR        *PDFScraper
	Logger     *slog.Logger
}

// NewArxivSearcher returns a searcher against the public arXiv API.
func NewArxivSearcher(maxResults int) *ArxivSearcher {
	return &ArxivSearcher{
		BaseURL:    arxivBaseURL,
		MaxResults: maxResults,
		HTTPClient: http.DefaultClient,
		Logger:     slog.Default(),
	}
}

// Search queries arXiv and maps every entry to a source.
func (s *ArxivSearcher) Search(ctx context.Context, query string) (research.SearchOutput, error) {
	feed, err := s.fetch(ctx, query)
	if err != nil {
		return research.SearchOutput{}, err
	}

	out := research.SearchOutput{Sources: []research.Source{}, Images: []research.Image{}}
	for i, entry := range feed.Entry {
		link := entry.PDFLink()
		if link == "" {
			link = strings.TrimSpace(entry.ID)
		}
		content := strings.TrimSpace(entry.Summary)

		if i == 0 && s.OCR != nil && entry.PDFLink() != "" {
			text, err := s.OCR.Scrape(ctx, entry.PDFLink())
			if err != nil {
				s.Logger.Warn("Failed to scrape, using summary", "url", entry.PDFLink(), "error", err)
			} else {
				content = text
			}
		}

		out.Sources = append(out.Sources, research.Source{
			Title:   strings.Join(strings.Fields(entry.Title), " "),
			URL:     link,
			Content: content,
		})
	}

	s.Logger.Info("Arxiv search successful", "query", query, "count", len(out.Sources))
	return out, nil
}

func (s *ArxivSearcher) fetch(ctx context.Context, query string) (*ArxivFeed, error) {
	maxResults := s.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0") // Start from the first result

	apiURL := s.BaseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create API request: %w", err)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned non-200 status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}
	return &feed, nil
}
