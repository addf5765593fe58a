// Package cli provides CLI utilities for Mitsukeru.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/hyperjump/mitsukeru/internal/discovery"
	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/pkg/utils"
)

// OutputFormat is the format for discovery result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one line per business.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat parses text, compact, or json. The empty string means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return OutputText, nil
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, compact or json)", s)
	}
}

type jsonResult struct {
	Business models.BusinessSummary `json:"business"`
	Distance *float64               `json:"distance"`
}

type jsonResponse struct {
	Filters     models.Filters `json:"filters"`
	Results     []jsonResult   `json:"results"`
	Total       int            `json:"total"`
	Relaxed     bool           `json:"relaxed"`
	QueryTimeMs int64          `json:"query_time_ms"`
}

// WriteResults writes discovery results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteResults(w io.Writer, result *discovery.Result, filter models.Filters, format OutputFormat) error {
	switch format {
	case OutputJSON:
		resp := jsonResponse{
			Filters:     filter,
			Results:     make([]jsonResult, len(result.Businesses)),
			Total:       len(result.Businesses),
			Relaxed:     result.Relaxed,
			QueryTimeMs: result.QueryTime.Milliseconds(),
		}
		for i, rb := range result.Businesses {
			resp.Results[i] = jsonResult{Business: rb.Business}
			if !math.IsInf(rb.Distance, 0) && !math.IsNaN(rb.Distance) {
				d := rb.Distance
				resp.Results[i].Distance = &d
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case OutputCompact:
		for i, rb := range result.Businesses {
			fmt.Fprintf(w, "%d\t%d\t%s\t%.1f\t%s\n",
				i+1, rb.Business.ID, rb.Business.Name, rb.Business.Rating, utils.FormatMiles(rb.Distance))
		}
		return nil
	default:
		writeResultsText(w, result, filter)
		return nil
	}
}

func writeResultsText(w io.Writer, result *discovery.Result, filter models.Filters) {
	fmt.Fprintf(w, "\nFound %d businesses in %dms (radius %s, rating %s, sorted by %s)\n",
		len(result.Businesses), result.QueryTime.Milliseconds(), filter.Radius, filter.Rating, filter.SortBy)
	if result.Relaxed {
		fmt.Fprintln(w, "No business matched closely; showing every candidate by relevance.")
	}
	fmt.Fprintln(w)
	for i, rb := range result.Businesses {
		writeOneResult(w, i+1, rb)
	}
}

func writeOneResult(w io.Writer, rank int, rb models.RankedBusiness) {
	b := rb.Business
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "%d. %s (ID %d) | Rating: %.1f | Distance: %s\n",
		rank, b.Name, b.ID, b.Rating, utils.FormatMiles(rb.Distance))
	if len(b.Services) > 0 {
		fmt.Fprintf(w, "Services: %s\n", utils.Truncate(utils.JoinLimited(b.Services, 5), 200))
	}
	if len(b.Styles) > 0 {
		fmt.Fprintf(w, "Styles: %s\n", utils.Truncate(utils.JoinLimited(b.Styles, 5), 200))
	}
	if len(b.Tags) > 0 {
		fmt.Fprintf(w, "Tags: %s\n", utils.Truncate(utils.JoinLimited(b.Tags, 8), 200))
	}
	enabled := 0
	for _, loc := range b.Locations {
		if loc.Enabled {
			enabled++
		}
	}
	fmt.Fprintf(w, "Locations: %d (%d enabled)\n", len(b.Locations), enabled)
	fmt.Fprintln(w)
}

// PrintResults prints discovery results to stdout in text format.
func PrintResults(result *discovery.Result, filter models.Filters) {
	_ = WriteResults(os.Stdout, result, filter, OutputText)
}
