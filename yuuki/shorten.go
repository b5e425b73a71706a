package yuuki

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/lmittmann/tint"
)

// Shortener wraps the cutt.ly URL shortening API.
type Shortener struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func newShortener(cfg *ShortenerConfig, client *http.Client, logger *slog.Logger) *Shortener {
	return &Shortener{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client:  client,
		logger:  logger.With(loggerNameKey, "shortener"),
	}
}

// Enabled reports whether an API key is configured. The shorten command
// is only registered when it is.
func (s *Shortener) Enabled() bool {
	return s.apiKey != ""
}

// ShortLink is a successfully shortened URL.
type ShortLink struct {
	Title string
	URL   string
}

type cuttlyResponse struct {
	URL struct {
		Status    int    `json:"status"`
		Title     string `json:"title"`
		ShortLink string `json:"shortLink"`
	} `json:"url"`
}

// Shorten submits a link. A non-success API status (status != 7 in the
// cutt.ly contract) is returned as an error.
func (s *Shortener) Shorten(ctx context.Context, fullLink string) (*ShortLink, error) {
	query := url.Values{}
	query.Set("key", s.apiKey)
	query.Set("short", fullLink)

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, s.baseURL+"?"+query.Encode(), nil,
	)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from shortener api", resp.StatusCode)
	}

	var parsed cuttlyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("error decoding shortener response: %w", err)
	}
	if parsed.URL.ShortLink == "" {
		return nil, fmt.Errorf("shortener api status %d", parsed.URL.Status)
	}
	return &ShortLink{Title: parsed.URL.Title, URL: parsed.URL.ShortLink}, nil
}

func (s *Shortener) commands() []*Command {
	return []*Command{
		{
			Name:    "shorten",
			Help:    "shorten <url> - shorten a link",
			Handler: s.handleShorten,
		},
	}
}

func (s *Shortener) handleShorten(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) != 1 {
		cc.Reply("❓ Usage: `shorten <url>`")
		return
	}
	link, err := s.Shorten(ctx, cc.Args[0])
	if err != nil {
		s.logger.ErrorContext(ctx, "error shortening link", tint.Err(err))
		cc.Reply("❌ Couldn't shorten that link. Make sure it's a valid URL.")
		return
	}
	cc.Reply(fmt.Sprintf("🔗 **%s**\n%s", link.Title, link.URL))
}
