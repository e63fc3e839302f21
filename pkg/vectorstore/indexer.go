package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/splitter"
)

// Embedder turns text into vectors.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentStore persists and searches embedded chunks.
type DocumentStore interface {
	AddDocuments(ctx context.Context, docs []Document) error
	SimilaritySearch(ctx context.Context, runID string, queryEmbedding []float32, topK int, filter map[string]interface{}) ([]SimilaritySearchResult, error)
}

// Indexer chunks and embeds research sources so a run's material can be
// searched semantically.
type Indexer struct {
	Store    DocumentStore
	Embedder Embedder
	Splitter *splitter.TextSplitter
	Logger   *slog.Logger
}

// NewIndexer returns an indexer splitting sources into chunkSize pieces.
func NewIndexer(store DocumentStore, embedder Embedder, chunkSize, chunkOverlap int) *Indexer {
	return &Indexer{
		Store:    store,
		Embedder: embedder,
		Splitter: splitter.NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap),
		Logger:   slog.Default(),
	}
}

// IndexSources embeds every chunk of every source and stores it under runID.
func (ix *Indexer) IndexSources(ctx context.Context, runID string, sources []research.Source) error {
	var docs []Document
	var texts []string
	for _, src := range sources {
		if src.Content == "" {
			continue
		}
		chunks, err := ix.Splitter.SplitText(src.Content)
		if err != nil {
			ix.Logger.Error("Failed to split text", "title", src.Title, "error", err)
			continue
		}
		for i, chunk := range chunks {
			docs = append(docs, Document{
				RunID:   runID,
				Content: chunk,
				Metadata: map[string]interface{}{
					"source_id": src.ID,
					"source":    src.URL,
					"title":     src.Title,
					"chunk":     i,
				},
			})
			texts = append(texts, chunk)
		}
	}
	if len(docs) == 0 {
		return nil
	}

	vectors, err := ix.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(docs))
	}
	for i := range docs {
		docs[i].Embedding = vectors[i]
	}

	if err := ix.Store.AddDocuments(ctx, docs); err != nil {
		return fmt.Errorf("failed to add documents to vector store: %w", err)
	}
	ix.Logger.Info("Indexed sources", "run_id", runID, "sources", len(sources), "chunks", len(docs))
	return nil
}

// Search returns the chunks of runID most similar to query.
func (ix *Indexer) Search(ctx context.Context, runID, query string, topK int, filter map[string]interface{}) ([]SimilaritySearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := ix.Embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return ix.Store.SimilaritySearch(ctx, runID, vec, topK, filter)
}
