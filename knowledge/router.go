package knowledge

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"
)

var researchKeywords = []string{"research", "study", "studies", "paper", "papers"}

// Router sends research questions to arXiv and everything else to
// Wikipedia. Concurrent identical lookups share one upstream call.
type Router struct {
	wiki   Source
	arxiv  Source
	logger *slog.Logger
	group  singleflight.Group
}

// NewRouter creates a Router. arxiv may be nil.
func NewRouter(wiki, arxiv Source, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{wiki: wiki, arxiv: arxiv, logger: logger}
}

// IsResearch reports whether the query asks for research literature.
func IsResearch(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range researchKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// Lookup answers query. Research questions fall back to Wikipedia when arXiv
// fails or has nothing.
func (r *Router) Lookup(ctx context.Context, query, lang string) (string, error) {
	key := lang + "\x00" + query
	v, err, _ := r.group.Do(key, func() (any, error) {
		if r.arxiv != nil && IsResearch(query) {
			out, err := r.arxiv.Lookup(ctx, query, lang)
			if err == nil && out != "" {
				return out, nil
			}
			if err != nil {
				r.logger.Warn("arxiv lookup failed, using wikipedia", "err", err)
			}
		}
		return r.wiki.Lookup(ctx, query, lang)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
