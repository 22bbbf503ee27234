// Package indexer turns websites and documents into embedded knowledge
// chunks.
package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/zulandar/switchyard/internal/knowledge"
	"github.com/zulandar/switchyard/internal/models"
)

const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200
)

// ErrNoContent is returned when a source produced no indexable text.
var ErrNoContent = errors.New("indexer: no content extracted")

// Meta is caller-supplied metadata applied to every chunk of a source.
type Meta struct {
	TenantID string
	Title    string
	Category string
	Tags     []string
}

// Result summarizes one indexing run.
type Result struct {
	SourceID   string `json:"sourceId"`
	ChunkCount int    `json:"chunkCount"`
	Pages      int    `json:"pages,omitempty"`
}

// Opts configures an Indexer.
type Opts struct {
	Store        knowledge.VectorStore
	Embedder     embeddings.Embedder
	Fetcher      Fetcher // defaults to NewHTTPFetcher(DefaultFetchTimeout)
	ChunkSize    int
	ChunkOverlap int
	MaxPages     int
	Delay        time.Duration
	Now          func() time.Time
}

// Indexer crawls, chunks, embeds and stores source material.
type Indexer struct {
	store    knowledge.VectorStore
	embedder embeddings.Embedder
	fetcher  Fetcher
	crawler  *Crawler
	size     int
	overlap  int
	now      func() time.Time
}

// New creates an Indexer.
func New(opts Opts) (*Indexer, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("indexer: store is required")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("indexer: embedder is required")
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewHTTPFetcher(DefaultFetchTimeout)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Indexer{
		store:    opts.Store,
		embedder: opts.Embedder,
		fetcher:  opts.Fetcher,
		crawler:  NewCrawler(opts.Fetcher, opts.MaxPages, opts.Delay),
		size:     opts.ChunkSize,
		overlap:  opts.ChunkOverlap,
		now:      opts.Now,
	}, nil
}

// SourceID derives the stable id of a locator. Re-indexing the same
// locator replaces its chunks.
func SourceID(locator string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(locator)).String()
}

// Index fetches locator and stores its chunks. sourceType is
// models.SourceWebsite (crawl) or models.SourceDocument (single fetch of a
// URL or local path).
func (ix *Indexer) Index(ctx context.Context, locator, sourceType string, meta Meta) (Result, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return Result{}, fmt.Errorf("indexer: index: locator is required")
	}

	var pages []Page
	switch sourceType {
	case models.SourceWebsite:
		crawled, err := ix.crawler.Crawl(ctx, locator)
		if err != nil {
			return Result{}, err
		}
		pages = crawled
	case models.SourceDocument, "":
		sourceType = models.SourceDocument
		p, err := ix.fetchDocument(ctx, locator)
		if err != nil {
			return Result{}, fmt.Errorf("indexer: index %s: %w", locator, err)
		}
		pages = []Page{p}
	default:
		return Result{}, fmt.Errorf("indexer: index: unknown source type %q", sourceType)
	}

	return ix.persist(ctx, SourceID(locator), sourceType, pages, meta)
}

// IndexDocument indexes uploaded bytes. contentType selects the extractor;
// when empty it is guessed from the file extension.
func (ix *Indexer) IndexDocument(ctx context.Context, name, contentType string, data []byte, meta Meta) (Result, error) {
	if name == "" {
		return Result{}, fmt.Errorf("indexer: index document: name is required")
	}
	p, err := extractBytes(name, contentType, data)
	if err != nil {
		return Result{}, fmt.Errorf("indexer: index document %s: %w", name, err)
	}
	return ix.persist(ctx, SourceID("upload:"+name), models.SourceDocument, []Page{p}, meta)
}

func (ix *Indexer) fetchDocument(ctx context.Context, locator string) (Page, error) {
	if u, err := url.Parse(locator); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return ix.fetcher.Fetch(ctx, locator)
	}
	data, err := os.ReadFile(locator)
	if err != nil {
		return Page{}, err
	}
	return extractBytes(locator, "", data)
}

func (ix *Indexer) persist(ctx context.Context, sourceID, sourceType string, pages []Page, meta Meta) (Result, error) {
	type piece struct {
		text  string
		title string
		url   string
	}
	var pieces []piece
	for _, p := range pages {
		title := p.Title
		if meta.Title != "" {
			title = meta.Title
		}
		for _, c := range Split(p.Text, ix.size, ix.overlap) {
			pieces = append(pieces, piece{text: c, title: title, url: p.URL})
		}
	}
	if len(pieces) == 0 {
		return Result{}, ErrNoContent
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.text
	}
	vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("indexer: embed %s: %w", sourceID, err)
	}
	if len(vectors) != len(texts) {
		return Result{}, fmt.Errorf("indexer: embed %s: got %d vectors for %d chunks", sourceID, len(vectors), len(texts))
	}

	now := ix.now().UTC()
	chunks := make([]knowledge.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = knowledge.Chunk{
			ID:         fmt.Sprintf("%s-%04d", sourceID, i),
			SourceID:   sourceID,
			TenantID:   meta.TenantID,
			SourceType: sourceType,
			Text:       p.text,
			Embedding:  vectors[i],
			Metadata: knowledge.Metadata{
				Title:       p.title,
				URL:         p.url,
				Category:    meta.Category,
				Tags:        meta.Tags,
				ChunkIndex:  i,
				TotalChunks: len(pieces),
			},
			CreatedAt: now,
		}
	}
	if err := ix.store.ReplaceSource(ctx, sourceID, chunks); err != nil {
		return Result{}, fmt.Errorf("indexer: store %s: %w", sourceID, err)
	}

	log.Info().Str("source_id", sourceID).Int("pages", len(pages)).Int("chunks", len(chunks)).Msg("indexer: source indexed")
	return Result{SourceID: sourceID, ChunkCount: len(chunks), Pages: len(pages)}, nil
}

// extractBytes turns document bytes into a Page.
func extractBytes(name, contentType string, data []byte) (Page, error) {
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	}
	mt, _, _ := mime.ParseMediaType(contentType)
	switch {
	case strings.Contains(mt, "html"):
		p, err := ExtractHTML(bytes.NewReader(data), nil)
		if err != nil {
			return Page{}, err
		}
		p.URL = name
		if p.Title == "" {
			p.Title = filepath.Base(name)
		}
		return p, nil
	case mt == "", strings.HasPrefix(mt, "text/"), isMarkdown(name):
		return Page{URL: name, Title: filepath.Base(name), Text: collapse(string(data))}, nil
	default:
		return Page{}, fmt.Errorf("unsupported content type %q", mt)
	}
}

func isMarkdown(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".md" || ext == ".markdown"
}
