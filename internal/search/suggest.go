// Package search maintains a Bleve index over document titles and text for
// search suggestions.
package search

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kiroku/internal/models"
)

// Index is a Bleve-backed suggestion index, updated on every document
// mutation.
type Index struct {
	index bleve.Index
}

type indexedDocument struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// NewIndex creates or opens a Bleve index at path.
// If the path already exists, the existing index is opened and reused.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewIndex(path string) (*Index, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so prefixes of
	// the typed query match the indexed terms directly.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	im.AddDocumentMapping("document", docMapping)
	im.DefaultType = "document"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &Index{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &Index{index: index}, nil
}

// Put indexes the title and text of a document by id.
func (ix *Index) Put(ctx context.Context, doc *models.Document) error {
	return ix.index.Index(doc.ID, indexedDocument{Title: doc.Title, Text: doc.TextContent})
}

// Delete removes a document from the index.
func (ix *Index) Delete(ctx context.Context, id string) error {
	return ix.index.Delete(id)
}

// Suggest returns up to limit document titles matching the query, combining
// a title prefix query with a match query over title and text.
func (ix *Index) Suggest(ctx context.Context, query string, limit int) ([]string, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}

	prefix := bleve.NewPrefixQuery(query)
	prefix.SetField("title")
	match := bleve.NewMatchQuery(query)
	q := bleve.NewDisjunctionQuery([]blevequery.Query{prefix, match}...)

	req := bleve.NewSearchRequest(q)
	req.Size = limit * 2
	req.Fields = []string{"title"}
	results, err := ix.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve suggestion search failed: %w", err)
	}

	seen := make(map[string]struct{})
	out := make([]string, 0, limit)
	for _, hit := range results.Hits {
		title, ok := hit.Fields["title"].(string)
		if !ok || title == "" {
			continue
		}
		if _, dup := seen[title]; dup {
			continue
		}
		seen[title] = struct{}{}
		out = append(out, title)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close closes the Bleve index.
func (ix *Index) Close() error {
	return ix.index.Close()
}
