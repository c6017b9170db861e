// Package extract provides constructors for common extraction functions so
// per-site scrapers stay pure content-to-record plugins with no fetch or
// concurrency logic of their own.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scrapekit/scrapekit/internal/engine"
)

// Fields builds an extractor mapping record field names to CSS selectors.
// Each field captures the trimmed text of the selector's first match. It
// fails when the document does not parse or when no configured selector
// matches at all.
func Fields(fields map[string]string) engine.ExtractFunc {
	return func(_ context.Context, page engine.Payload) (any, error) {
		doc, err := parse(page)
		if err != nil {
			return nil, err
		}
		record := make(map[string]string, len(fields))
		matched := false
		for name, selector := range fields {
			sel := doc.Find(selector).First()
			if sel.Length() == 0 {
				continue
			}
			matched = true
			record[name] = strings.TrimSpace(sel.Text())
		}
		if !matched {
			return nil, fmt.Errorf("no selector matched in %s", page.FinalURL)
		}
		return record, nil
	}
}

// Links builds an extractor collecting href attributes under selector,
// resolved against the fetched page's final URL. Useful for listing pages
// that feed further jobs.
func Links(selector string) engine.ExtractFunc {
	return func(_ context.Context, page engine.Payload) (any, error) {
		doc, err := parse(page)
		if err != nil {
			return nil, err
		}
		base, err := url.Parse(page.FinalURL)
		if err != nil {
			base = nil
		}

		var links []string
		seen := make(map[string]struct{})
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok || href == "" {
				return
			}
			if base != nil {
				if ref, err := url.Parse(href); err == nil {
					href = base.ResolveReference(ref).String()
				}
			}
			if _, dup := seen[href]; dup {
				return
			}
			seen[href] = struct{}{}
			links = append(links, href)
		})
		if len(links) == 0 {
			return nil, fmt.Errorf("no links matched %q in %s", selector, page.FinalURL)
		}
		return links, nil
	}
}

func parse(page engine.Payload) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}
