package enrichment

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"memecoin-signal-lab/internal/domain"
)

// Social supplies social buzz, sentiment and mention counts from an HTTP
// JSON endpoint: GET {endpoint}?address=<mint> returning
// {"social_score":0..1,"sentiment_score":0..1,"telegram_mentions":n,"twitter_mentions":n}.
type Social struct {
	endpoint string
	http     *httpJSON
	now      func() time.Time
}

// NewSocial creates the social-mention enricher. apiKey is sent as a bearer token when set.
func NewSocial(endpoint, apiKey string, client *http.Client) *Social {
	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return &Social{
		endpoint: endpoint,
		http:     newHTTPJSON(SourceSocial, client, headers),
		now:      time.Now,
	}
}

// Name returns the source name.
func (s *Social) Name() string { return SourceSocial }

type socialResponse struct {
	SocialScore      *float64 `json:"social_score"`
	SentimentScore   *float64 `json:"sentiment_score"`
	TelegramMentions *int64   `json:"telegram_mentions"`
	TwitterMentions  *int64   `json:"twitter_mentions"`
}

// Fetch queries the configured endpoint. Scores are clamped to [0,1] and
// negative mention counts are rejected as malformed.
func (s *Social) Fetch(ctx context.Context, address string) (*domain.PartialEnrichment, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil || u.Host == "" {
		return nil, NewSourceError(SourceSocial, KindUnknown, errors.New("invalid social endpoint"))
	}
	q := u.Query()
	q.Set("address", address)
	u.RawQuery = q.Encode()

	var resp socialResponse
	if err := s.http.get(ctx, u.String(), &resp); err != nil {
		return nil, err
	}
	if (resp.TelegramMentions != nil && *resp.TelegramMentions < 0) ||
		(resp.TwitterMentions != nil && *resp.TwitterMentions < 0) {
		return nil, NewSourceError(SourceSocial, KindMalformed, errors.New("negative mention count"))
	}

	out := &domain.PartialEnrichment{
		Source:           SourceSocial,
		FetchedAt:        s.now().UTC(),
		TelegramMentions: resp.TelegramMentions,
		TwitterMentions:  resp.TwitterMentions,
	}
	if resp.SocialScore != nil {
		out.SocialScore = ptr(clamp01(*resp.SocialScore))
	}
	if resp.SentimentScore != nil {
		out.SentimentScore = ptr(clamp01(*resp.SentimentScore))
	}
	return out, nil
}
