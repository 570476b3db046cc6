// Package parser turns shared links into metadata records. Each platform gets
// a Parser implementation; the Router dispatches a URL to the first parser
// claiming it.
package parser

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"mediafetch/models"
)

// Parser extracts and normalizes media metadata for one platform.
type Parser interface {
	// CanParse reports whether this parser handles the given URL.
	CanParse(rawURL string) bool
	// ExtractLinks pulls candidate share links out of free-form text.
	ExtractLinks(text string) []string
	// Parse fetches and normalizes the link into a metadata record.
	Parse(ctx context.Context, client *http.Client, rawURL string) (*models.MetadataRecord, error)
}

var linkPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// ExtractURLs returns every http(s) URL found in the text, in order.
func ExtractURLs(text string) []string {
	return linkPattern.FindAllString(text, -1)
}

// Router dispatches URLs to the first registered parser that claims them.
// Registration order is precedence order.
type Router struct {
	parsers []Parser
}

func NewRouter(parsers ...Parser) *Router {
	return &Router{parsers: parsers}
}

// Route returns the first parser claiming the URL, or nil.
func (r *Router) Route(rawURL string) Parser {
	for _, p := range r.parsers {
		if p.CanParse(rawURL) {
			return p
		}
	}
	return nil
}

// ExtractLinks collects links claimed by any registered parser, preserving
// text order and dropping duplicates.
func (r *Router) ExtractLinks(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, u := range ExtractURLs(text) {
		if _, dup := seen[u]; dup {
			continue
		}
		if r.Route(u) == nil {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Parse routes and parses in one step.
func (r *Router) Parse(ctx context.Context, client *http.Client, rawURL string) (*models.MetadataRecord, error) {
	p := r.Route(rawURL)
	if p == nil {
		return nil, fmt.Errorf("no parser for %s", rawURL)
	}
	return p.Parse(ctx, client, rawURL)
}
