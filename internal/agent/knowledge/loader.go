package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"

	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

// FileLoader loads local files as eino documents. Files are parsed by
// extension; markdown and unknown extensions are read as plain text.
type FileLoader struct {
	parser parser.Parser
}

func NewFileLoader(ctx context.Context) (*FileLoader, error) {
	p, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers: map[string]parser.Parser{
			".md": parser.TextParser{},
		},
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("create document parser: %w", err)
	}
	return &FileLoader{parser: p}, nil
}

// Load reads src.URI as a file path. Every document gets the path as its
// source and, when the parser left it empty, as its ID.
func (l *FileLoader) Load(ctx context.Context, src document.Source, opts ...document.LoaderOption) ([]*schema.Document, error) {
	f, err := os.Open(src.URI)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src.URI, err)
	}
	defer f.Close()

	options := document.GetLoaderCommonOptions(&document.LoaderOptions{}, opts...)
	parserOpts := append([]parser.Option{parser.WithURI(src.URI)}, options.ParserOptions...)

	docs, err := l.parser.Parse(ctx, f, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.URI, err)
	}
	for i, doc := range docs {
		if doc == nil {
			continue
		}
		if doc.ID == "" {
			doc.ID = src.URI
			if len(docs) > 1 {
				doc.ID = fmt.Sprintf("%s#%d", src.URI, i)
			}
		}
	}
	return docs, nil
}

// Source is the path a document or chunk was loaded from.
func Source(doc *schema.Document) string {
	if doc == nil {
		return ""
	}
	s, _ := doc.MetaData[parser.MetaKeySource].(string)
	return s
}

// LoadDocuments loads every markdown file below dir plus the extra files that
// exist. A missing dir yields no documents. Missing extra files are skipped.
func LoadDocuments(ctx context.Context, loader document.Loader, dir string, extraFiles []string) ([]*schema.Document, error) {
	var paths []string

	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		var found []string
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk knowledge dir: %w", err)
		}
		sort.Strings(found)
		paths = append(paths, found...)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat knowledge dir: %w", err)
	}

	for _, path := range extraFiles {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			logx.Warn().Str("path", path).Msg("extra knowledge file not found, skipping")
			continue
		}
		paths = append(paths, path)
	}

	var docs []*schema.Document
	for _, path := range paths {
		loaded, err := loader.Load(ctx, document.Source{URI: path})
		if err != nil {
			return nil, err
		}
		docs = append(docs, loaded...)
	}
	return docs, nil
}

var _ document.Loader = (*FileLoader)(nil)
