package github

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	"github.com/nao1215/repocrawl/internal/crawl"
	"github.com/nao1215/repocrawl/internal/model"
)

const (
	// DefaultPerPage is the largest page size the search API accepts.
	DefaultPerPage = 100

	// DefaultRequestsPerMinute matches the authenticated search limit.
	DefaultRequestsPerMinute = 30

	// defaultSecondaryWait is used when a secondary rate limit response
	// carries no Retry-After header.
	defaultSecondaryWait = time.Minute
)

// Searcher runs repository searches. It implements crawl.Searcher.
type Searcher struct {
	client  *gh.Client
	limiter *rate.Limiter
	perPage int
	logger  *slog.Logger
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithPerPage sets the page size, capped at DefaultPerPage.
func WithPerPage(n int) SearcherOption {
	return func(s *Searcher) {
		if n > 0 && n <= DefaultPerPage {
			s.perPage = n
		}
	}
}

// WithRequestsPerMinute paces searches. Zero or less disables pacing.
func WithRequestsPerMinute(n int) SearcherOption {
	return func(s *Searcher) {
		if n <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SearcherOption {
	return func(s *Searcher) {
		s.logger = logger
	}
}

// NewSearcher creates a Searcher over the API client.
func NewSearcher(client *gh.Client, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		client:  client,
		perPage: DefaultPerPage,
		limiter: rate.NewLimiter(rate.Every(time.Minute/DefaultRequestsPerMinute), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Search fetches one page of results, sorted descending.
func (s *Searcher) Search(ctx context.Context, query, sort string, page int) (model.SearchPage, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return model.SearchPage{}, err
	}

	opts := &gh.SearchOptions{
		Sort:  sort,
		Order: "desc",
		ListOptions: gh.ListOptions{
			Page:    page,
			PerPage: s.perPage,
		},
	}

	result, resp, err := s.client.Search.Repositories(ctx, query, opts)
	if err != nil {
		return model.SearchPage{}, classify(ctx, err, resp)
	}

	out := model.SearchPage{
		Repositories: make([]model.Repository, 0, len(result.Repositories)),
		HasMore:      resp.NextPage != 0,
		TotalCount:   result.GetTotal(),
	}
	for _, r := range result.Repositories {
		if r == nil || r.GetID() == 0 {
			continue
		}
		out.Repositories = append(out.Repositories, model.Repository{
			ID:       r.GetID(),
			FullName: r.GetFullName(),
			CloneURL: r.GetCloneURL(),
			Stars:    r.GetStargazersCount(),
			Forks:    r.GetForksCount(),
			SizeKB:   r.GetSize(),
		})
	}

	if result.GetIncompleteResults() {
		s.logger.Debug("search returned incomplete results", "query", query, "page", page)
	}
	return out, nil
}

// classify maps an API error to the crawl error taxonomy.
func classify(ctx context.Context, err error, resp *gh.Response) error {
	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		wait := time.Until(rle.Rate.Reset.Time) + time.Second
		if wait < time.Second {
			wait = time.Second
		}
		return &crawl.RateLimitedError{RetryAfter: wait, Err: err}
	}

	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) {
		wait := defaultSecondaryWait
		if abuse.RetryAfter != nil && *abuse.RetryAfter > 0 {
			wait = *abuse.RetryAfter
		}
		return &crawl.RateLimitedError{RetryAfter: wait, Err: err}
	}

	if ctx.Err() != nil {
		return err
	}

	if resp == nil || resp.Response == nil {
		return &crawl.TransientError{Err: err}
	}

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return &crawl.RateLimitedError{RetryAfter: defaultSecondaryWait, Err: err}
	case code >= http.StatusInternalServerError:
		return &crawl.TransientError{Err: err}
	default:
		return err
	}
}
