package yuuki

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShortener(t testing.TB, body string) *Shortener {
	t.Helper()
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}),
	)
	t.Cleanup(server.Close)
	return newShortener(
		&ShortenerConfig{APIKey: "test-key", BaseURL: server.URL},
		server.Client(),
		testLogger(),
	)
}

func TestShortenerEnabled(t *testing.T) {
	s := newShortener(&ShortenerConfig{}, http.DefaultClient, testLogger())
	assert.False(t, s.Enabled())

	s = newShortener(&ShortenerConfig{APIKey: "k"}, http.DefaultClient, testLogger())
	assert.True(t, s.Enabled())
}

func TestShorten(t *testing.T) {
	s := newTestShortener(t, `{
	  "url": {"status": 7, "title": "Example Domain", "shortLink": "https://cutt.ly/abc123"}
	}`)

	link, err := s.Shorten(context.Background(), "https://example.com/some/long/path")
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", link.Title)
	assert.Equal(t, "https://cutt.ly/abc123", link.URL)
}

func TestShortenAPIError(t *testing.T) {
	// status 3 is cutt.ly's "invalid link" code; no shortLink comes back
	s := newTestShortener(t, `{"url": {"status": 3}}`)

	_, err := s.Shorten(context.Background(), "not a url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 3")
}

func TestHandleShorten(t *testing.T) {
	s := newTestShortener(t, `{
	  "url": {"status": 7, "title": "Example Domain", "shortLink": "https://cutt.ly/abc123"}
	}`)

	cc, replies := testCommandContext(t, "guild-1", "https://example.com")
	s.handleShorten(context.Background(), cc)
	reply := replies.lastContent(t)
	assert.Contains(t, reply, "Example Domain")
	assert.Contains(t, reply, "https://cutt.ly/abc123")

	cc, replies = testCommandContext(t, "guild-1", "")
	s.handleShorten(context.Background(), cc)
	assert.Contains(t, replies.lastContent(t), "Usage")
}

func TestHandleShortenFailure(t *testing.T) {
	s := newTestShortener(t, `{"url": {"status": 2}}`)

	cc, replies := testCommandContext(t, "guild-1", "https://example.com")
	s.handleShorten(context.Background(), cc)
	assert.Contains(t, replies.lastContent(t), "Couldn't shorten")
}
