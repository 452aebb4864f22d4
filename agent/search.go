// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"iter"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"
	"unicode"

	"github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"
)

const (
	searchCollection = "a2a-search"
	searchThinking   = "Thinking..."
	searchSearching  = "Searching..."
	searchNoAnswer   = "We couldn't find an answer. Please rephrase your query."

	// DefaultMinSimilarity is the cosine similarity a document needs to be
	// returned as an answer.
	DefaultMinSimilarity = 0.3

	embeddingDims = 256
)

// Document is one entry of the search corpus.
type Document struct {
	ID       string            `yaml:"id"`
	Content  string            `yaml:"content"`
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// LoadCorpus reads a YAML list of documents from path.
func LoadCorpus(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	var docs []Document
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}
	return docs, nil
}

// SearchAgent answers questions from an in-memory vector index.
type SearchAgent struct {
	collection    *chromem.Collection
	minSimilarity float32
	logger        *slog.Logger
}

var _ Agent = (*SearchAgent)(nil)

// SearchOption configures a SearchAgent.
type SearchOption func(*SearchAgent)

// WithMinSimilarity sets the similarity below which matches are ignored.
func WithMinSimilarity(s float32) SearchOption {
	return func(a *SearchAgent) {
		a.minSimilarity = s
	}
}

// WithSearchLogger sets the [*slog.Logger] for the SearchAgent.
func WithSearchLogger(logger *slog.Logger) SearchOption {
	return func(a *SearchAgent) {
		a.logger = logger
	}
}

// NewSearchAgent indexes docs and returns a SearchAgent over them.
func NewSearchAgent(ctx context.Context, docs []Document, opts ...SearchOption) (*SearchAgent, error) {
	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection(searchCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = fmt.Sprintf("doc-%d", i)
		}
		if err := collection.AddDocument(ctx, chromem.Document{
			ID:       id,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}); err != nil {
			return nil, fmt.Errorf("add document %s: %w", id, err)
		}
	}

	a := &SearchAgent{
		collection:    collection,
		minSimilarity: DefaultMinSimilarity,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Invoke implements [Agent].
func (a *SearchAgent) Invoke(ctx context.Context, query, sessionID string) (Response, error) {
	a.logger.InfoContext(ctx, "invoking search agent", "session_id", sessionID)
	answer, err := a.search(ctx, query)
	return ProcessResult(answer, err, searchNoAnswer), nil
}

// Stream implements [Agent].
func (a *SearchAgent) Stream(ctx context.Context, query, sessionID string) iter.Seq2[Response, error] {
	return func(yield func(Response, error) bool) {
		if !yield(Response{Content: searchThinking}, nil) {
			return
		}
		if !yield(Response{Content: searchSearching}, nil) {
			return
		}
		yield(a.Invoke(ctx, query, sessionID))
	}
}

// SupportedContentTypes implements [Agent].
func (a *SearchAgent) SupportedContentTypes() []string {
	return slices.Clone(DefaultContentTypes)
}

// search returns the content of the best matching document, or "" when no
// document is similar enough.
func (a *SearchAgent) search(ctx context.Context, query string) (string, error) {
	if len(tokenize(query)) == 0 {
		return "", nil
	}
	if a.collection.Count() == 0 {
		return "", nil
	}

	results, err := a.collection.Query(ctx, query, 1, nil, nil)
	if err != nil {
		return "", fmt.Errorf("query collection: %w", err)
	}
	if len(results) == 0 || results[0].Similarity < a.minSimilarity {
		return "", nil
	}
	return results[0].Content, nil
}

var errEmptyText = errors.New("text has no indexable terms")

// embed maps text to a normalized bag-of-words vector using feature hashing,
// so the index needs no external embedding model.
func embed(_ context.Context, text string) ([]float32, error) {
	terms := tokenize(text)
	if len(terms) == 0 {
		return nil, errEmptyText
	}

	vec := make([]float32, embeddingDims)
	for _, term := range terms {
		h := fnv.New32a()
		h.Write([]byte(term))
		vec[h.Sum32()%embeddingDims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
