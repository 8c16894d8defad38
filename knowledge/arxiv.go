package knowledge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Paper is one arXiv search result.
type Paper struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	URL     string `json:"url"`
}

// Arxiv searches the arXiv Atom API.
type Arxiv struct {
	BaseURL    string
	MaxResults int
	parser     *gofeed.Parser
}

// NewArxiv returns an arXiv source that returns up to 3 papers.
func NewArxiv(client *http.Client) *Arxiv {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	p := gofeed.NewParser()
	p.Client = client
	return &Arxiv{
		BaseURL:    "https://export.arxiv.org/api/query",
		MaxResults: 3,
		parser:     p,
	}
}

// Search returns papers matching query ordered by relevance.
func (a *Arxiv) Search(ctx context.Context, query string) ([]Paper, error) {
	params := url.Values{
		"search_query": {"all:" + strings.TrimSpace(query)},
		"max_results":  {fmt.Sprint(a.MaxResults)},
		"sortBy":       {"relevance"},
	}
	feed, err := a.parser.ParseURLWithContext(a.BaseURL+"?"+params.Encode(), ctx)
	if err != nil {
		return nil, fmt.Errorf("arxiv query: %w", err)
	}
	papers := make([]Paper, 0, len(feed.Items))
	for _, item := range feed.Items {
		if len(papers) == a.MaxResults {
			break
		}
		papers = append(papers, Paper{
			Title:   collapse(item.Title),
			Summary: collapse(item.Description),
			URL:     item.Link,
		})
	}
	return papers, nil
}

// Lookup formats the top papers as a short reading list. lang is ignored;
// arXiv metadata is English.
func (a *Arxiv) Lookup(ctx context.Context, query, _ string) (string, error) {
	papers, err := a.Search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(papers) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("Here are some research papers on this topic:\n")
	for i, p := range papers {
		fmt.Fprintf(&b, "\n%d. %s\n%s\n%s\n", i+1, p.Title, truncate(p.Summary, 300), p.URL)
	}
	return strings.TrimSpace(b.String()), nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
