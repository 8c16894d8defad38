// Package knowledge answers general-knowledge questions from public sources.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// NoWikipediaResults is returned as the answer when a search finds nothing.
const NoWikipediaResults = "No results found on Wikipedia."

// Source looks up a short factual answer for a query.
type Source interface {
	Lookup(ctx context.Context, query, lang string) (string, error)
}

// Wikipedia answers with the first sentences of the best-matching article.
type Wikipedia struct {
	// BaseURL is a format string receiving the language code,
	// e.g. "https://%s.wikipedia.org".
	BaseURL   string
	Sentences int
	Client    *http.Client
	UserAgent string
}

// NewWikipedia returns a Wikipedia source with a 3-sentence summary.
func NewWikipedia(client *http.Client) *Wikipedia {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Wikipedia{
		BaseURL:   "https://%s.wikipedia.org",
		Sentences: 3,
		Client:    client,
		UserAgent: "mindcare/1.0 (knowledge lookup)",
	}
}

type searchResponse struct {
	Query struct {
		Search []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"search"`
	} `json:"query"`
}

type extractResponse struct {
	Query struct {
		Pages map[string]struct {
			Title   string  `json:"title"`
			Extract string  `json:"extract"`
			Missing *string `json:"missing,omitempty"`
		} `json:"pages"`
	} `json:"query"`
}

// Lookup searches Wikipedia in lang (default "en") and returns a summary of
// the top hit, or NoWikipediaResults.
func (w *Wikipedia) Lookup(ctx context.Context, query, lang string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return NoWikipediaResults, nil
	}
	if lang == "" {
		lang = "en"
	}
	endpoint := fmt.Sprintf(w.BaseURL, url.PathEscape(lang)) + "/w/api.php"

	var search searchResponse
	err := w.get(ctx, endpoint, url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {"1"},
		"format":   {"json"},
	}, &search)
	if err != nil {
		return "", fmt.Errorf("wikipedia search: %w", err)
	}
	if len(search.Query.Search) == 0 {
		return NoWikipediaResults, nil
	}
	hit := search.Query.Search[0]

	var extract extractResponse
	err = w.get(ctx, endpoint, url.Values{
		"action":      {"query"},
		"prop":        {"extracts"},
		"exintro":     {"1"},
		"explaintext": {"1"},
		"exsentences": {fmt.Sprint(w.Sentences)},
		"redirects":   {"1"},
		"titles":      {hit.Title},
		"format":      {"json"},
	}, &extract)
	if err != nil {
		return "", fmt.Errorf("wikipedia extract: %w", err)
	}
	for _, p := range extract.Query.Pages {
		if p.Missing == nil && strings.TrimSpace(p.Extract) != "" {
			return strings.TrimSpace(p.Extract), nil
		}
	}

	// No extract available; fall back to the search snippet, which is HTML.
	if text := stripHTML(hit.Snippet); text != "" {
		return text, nil
	}
	return NoWikipediaResults, nil
}

func (w *Wikipedia) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	if w.UserAgent != "" {
		req.Header.Set("User-Agent", w.UserAgent)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func stripHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
