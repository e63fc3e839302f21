package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFScraper_Scrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body struct {
			Document struct {
				URL string `json:"document_url"`
			} `json:"document"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://arxiv.org/pdf/1", body.Document.URL)
		w.Write([]byte(`{"pages":[{"index":0,"markdown":"one"},{"index":1,"markdown":"two"}]}`))
	}))
	defer srv.Close()

	s := &PDFScraper{APIKey: "secret", BaseURL: srv.URL, HTTPClient: srv.Client()}
	text, err := s.Scrape(context.Background(), "http://arxiv.org/pdf/1")
	require.NoError(t, err)
	assert.Equal(t, "- Page 0 -\none\n\n- Page 1 -\ntwo", text)
}

func TestNewPDFScraper_WithoutKey(t *testing.T) {
	assert.Nil(t, NewPDFScraper(""))
}
