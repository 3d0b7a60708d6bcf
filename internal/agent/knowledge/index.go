package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/cloudwego/eino/components/document"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	errx "github.com/dev-onboarding-agent/server/internal/core/error"
	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

const collectionName = "knowledge"

// Snippet is one search hit.
type Snippet struct {
	Source     string
	Content    string
	StartIndex int
	Similarity float32
}

// Filename is the last path element of the snippet's source.
func (s Snippet) Filename() string {
	return filepath.Base(s.Source)
}

// IndexConfig configures where documents come from and how they are chunked.
type IndexConfig struct {
	Dir          string
	ExtraFiles   []string
	ChunkSize    int
	ChunkOverlap int
}

// Index is an in-memory vector index over the knowledge directory.
// Documents are loaded, split and embedded on the first search; a failed
// indexing attempt is retried on the next one.
type Index struct {
	cfg      IndexConfig
	loader   document.Loader
	splitter document.Transformer
	embed    chromem.EmbeddingFunc

	mu         sync.Mutex
	collection *chromem.Collection
}

func NewIndex(ctx context.Context, cfg IndexConfig, embed chromem.EmbeddingFunc) (*Index, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding func is nil")
	}
	loader, err := NewFileLoader(ctx)
	if err != nil {
		return nil, err
	}
	splitter, err := NewRecursiveSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return &Index{cfg: cfg, loader: loader, splitter: splitter, embed: embed}, nil
}

// Search returns up to k snippets most similar to query.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Snippet, error) {
	if query == "" {
		return nil, errx.Input("query is empty")
	}
	if k <= 0 {
		return nil, errx.Input("k must be positive, got %d", k)
	}

	col, err := ix.ensureIndexed(ctx)
	if err != nil {
		return nil, err
	}
	if n := col.Count(); n < k {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, errx.Backend(err, "query knowledge index")
	}

	snippets := make([]Snippet, 0, len(results))
	for _, r := range results {
		start, _ := strconv.Atoi(r.Metadata[MetaKeyStartIndex])
		snippets = append(snippets, Snippet{
			Source:     r.Metadata["source"],
			Content:    r.Content,
			StartIndex: start,
			Similarity: r.Similarity,
		})
	}
	return snippets, nil
}

// Count reports the number of indexed chunks, indexing first if needed.
func (ix *Index) Count(ctx context.Context) (int, error) {
	col, err := ix.ensureIndexed(ctx)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (ix *Index) ensureIndexed(ctx context.Context) (*chromem.Collection, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.collection != nil {
		return ix.collection, nil
	}

	docs, err := LoadDocuments(ctx, ix.loader, ix.cfg.Dir, ix.cfg.ExtraFiles)
	if err != nil {
		return nil, err
	}
	chunks, err := ix.splitter.Transform(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("split knowledge documents: %w", err)
	}

	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, ix.embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	if len(chunks) > 0 {
		chromemDocs := make([]chromem.Document, 0, len(chunks))
		for _, c := range chunks {
			chromemDocs = append(chromemDocs, chromem.Document{
				ID:      uuid.NewString(),
				Content: c.Content,
				Metadata: map[string]string{
					"source":          Source(c),
					MetaKeyStartIndex: strconv.Itoa(StartIndex(c)),
				},
			})
		}
		if err := col.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
			return nil, errx.Backend(err, "embed knowledge documents")
		}
	}

	logx.Info().
		Str("dir", ix.cfg.Dir).
		Int("documents", len(docs)).
		Int("chunks", len(chunks)).
		Msg("knowledge base indexed")

	ix.collection = col
	return col, nil
}
