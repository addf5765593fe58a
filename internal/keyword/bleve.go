package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/mitsukeru/internal/models"
)

// nameDocument is the indexed form of a business.
type nameDocument struct {
	Name     string `json:"name"`
	Tags     string `json:"tags"`
	Services string `json:"services"`
}

// BleveIndex implements NameIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates
// an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer lowercases and tokenizes without stemming so that
	// prefixes typed by the user line up with stored terms.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("name", textFieldMapping)
	docMapping.AddFieldMappingsAt("tags", textFieldMapping)
	docMapping.AddFieldMappingsAt("services", textFieldMapping)
	im.AddDocumentMapping("business", docMapping)
	im.DefaultType = "business"
	im.DefaultMapping = docMapping

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds or replaces a business.
func (b *BleveIndex) Index(ctx context.Context, business *models.BusinessSummary) error {
	return b.index.Index(docID(business.ID), toNameDocument(business))
}

// Rebuild replaces the index contents with businesses.
func (b *BleveIndex) Rebuild(ctx context.Context, businesses []models.BusinessSummary) error {
	keep := make(map[string]struct{}, len(businesses))
	batch := b.index.NewBatch()
	for i := range businesses {
		id := docID(businesses[i].ID)
		keep[id] = struct{}{}
		if err := batch.Index(id, toNameDocument(&businesses[i])); err != nil {
			return fmt.Errorf("failed to batch business %s: %w", id, err)
		}
	}

	existing, err := b.allIDs()
	if err != nil {
		return err
	}
	for _, id := range existing {
		if _, ok := keep[id]; !ok {
			batch.Delete(id)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to rebuild Bleve index: %w", err)
	}
	return nil
}

// Suggest returns businesses whose name, tags or services start with or
// approximately match the query terms, best first.
func (b *BleveIndex) Suggest(ctx context.Context, query string, limit int, opts *SuggestOptions) ([]*Suggestion, error) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	fuzziness := 2
	nameBoost := 3.0
	if opts != nil {
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
		if opts.NameBoost > 0 {
			nameBoost = opts.NameBoost
		}
	}

	queries := make([]blevequery.Query, 0, len(terms)*4)
	for _, term := range terms {
		prefix := bleve.NewPrefixQuery(term)
		prefix.SetField("name")
		prefix.SetBoost(nameBoost)
		queries = append(queries, prefix)

		fuzzyName := bleve.NewFuzzyQuery(term)
		fuzzyName.SetFuzziness(fuzziness)
		fuzzyName.SetField("name")
		fuzzyName.SetBoost(nameBoost)
		queries = append(queries, fuzzyName)

		for _, field := range []string{"tags", "services"} {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(fuzziness)
			fq.SetField(field)
			queries = append(queries, fq)
		}
	}

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(queries...))
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve suggest failed: %w", err)
	}

	out := make([]*Suggestion, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, &Suggestion{BusinessID: id, Score: hit.Score})
	}
	return out, nil
}

// Delete removes a business from the index.
func (b *BleveIndex) Delete(ctx context.Context, id int64) error {
	return b.index.Delete(docID(id))
}

// DocCount returns the number of indexed businesses.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

func (b *BleveIndex) allIDs() ([]string, error) {
	count, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to get doc count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed businesses: %w", err)
	}
	ids := make([]string, len(results.Hits))
	for i, hit := range results.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func toNameDocument(b *models.BusinessSummary) nameDocument {
	return nameDocument{
		Name:     b.Name,
		Tags:     strings.Join(b.Tags, " "),
		Services: strings.Join(b.Services, " "),
	}
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}
