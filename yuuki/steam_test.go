package yuuki

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const steamSearchBody = `{
  "items": [
    {"id": 620, "name": "Portal 2", "price": {"initial": 15000000, "final": 1500000}},
    {"id": 570, "name": "Dota 2"},
    {"id": 730, "name": "Counter-Strike 2", "price": {"initial": 0, "final": 0}}
  ]
}`

const steamSpecialsBody = `{
  "specials": {
    "items": [
      {"id": 620, "name": "Portal 2", "original_price": 15000000, "final_price": 1500000},
      {"id": 400, "name": "Portal", "original_price": 7000000, "final_price": 3500000},
      {"id": 220, "name": "Half-Life 2", "original_price": 12000000, "final_price": 12000000}
    ]
  }
}`

type steamTestServer struct {
	searchBody    string
	specialsBody  string
	searchHits    int
	specialsHits  int
	searchServer  *httptest.Server
	specialServer *httptest.Server
	lock          sync.Mutex
}

func newTestSteamFeature(t testing.TB, sender MessageSender) (*SteamFeature, *steamTestServer) {
	t.Helper()
	backend := &steamTestServer{
		searchBody:   steamSearchBody,
		specialsBody: steamSpecialsBody,
	}
	backend.searchServer = httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			backend.lock.Lock()
			defer backend.lock.Unlock()
			backend.searchHits++
			_, _ = w.Write([]byte(backend.searchBody))
		}),
	)
	backend.specialServer = httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			backend.lock.Lock()
			defer backend.lock.Unlock()
			backend.specialsHits++
			_, _ = w.Write([]byte(backend.specialsBody))
		}),
	)
	t.Cleanup(backend.searchServer.Close)
	t.Cleanup(backend.specialServer.Close)

	registry := NewFileRegistry[SteamTarget](
		filepath.Join(t.TempDir(), "steam.json"), testLogger(),
	)
	require.NoError(t, registry.Load())

	f := newSteamFeature(
		registry,
		sender,
		func(string) error { return nil },
		http.DefaultClient,
		testLogger(),
	)
	f.searchURL = backend.searchServer.URL
	f.featuredURL = backend.specialServer.URL
	return f, backend
}

func TestSteamSearch(t *testing.T) {
	f, _ := newTestSteamFeature(t, &fakeSender{})

	games, err := f.Search(context.Background(), "portal", 0)
	require.NoError(t, err)
	require.Len(t, games, 3)

	assert.Equal(t, "Portal 2", games[0].Name)
	assert.Equal(t, 15000, games[0].Price)
	assert.False(t, games[0].Free)
	assert.Equal(t, "https://store.steampowered.com/app/620", games[0].URL)

	// missing or zero price means free
	assert.True(t, games[1].Free)
	assert.True(t, games[2].Free)
}

func TestSteamSearchPriceFilter(t *testing.T) {
	f, _ := newTestSteamFeature(t, &fakeSender{})

	games, err := f.Search(context.Background(), "portal", 10000)
	require.NoError(t, err)

	// paid games above the cap drop out; free games always pass
	require.Len(t, games, 2)
	for _, game := range games {
		assert.True(t, game.Free)
	}
}

func TestSteamDiscounted(t *testing.T) {
	f, _ := newTestSteamFeature(t, &fakeSender{})

	games, err := f.Discounted(context.Background(), 50000)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "Portal 2", games[0].Name)
	assert.Equal(t, 15000, games[0].Price)
	assert.Equal(t, "Portal", games[1].Name)
	assert.Equal(t, 35000, games[1].Price)
}

func TestSteamTickAnnouncesNewDiscounts(t *testing.T) {
	sender := &fakeSender{}
	f, backend := newTestSteamFeature(t, sender)

	require.NoError(t, f.registry.Set("guild-1", SteamTarget{
		ChannelID: "c1",
		MaxPrice:  50000,
		Time:      "10:00",
	}))

	day1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	f.tick(context.Background(), day1)

	messages := sender.sent()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Content, "Portal 2")
	assert.Contains(t, messages[0].Content, "Rp 15,000")

	target, _ := f.registry.Get("guild-1")
	assert.Equal(t, []string{"Portal 2", "Portal"}, target.Seen)

	// unchanged specials on day 2: nothing new to announce
	f.tick(context.Background(), day1.Add(24*time.Hour))
	assert.Len(t, sender.sent(), 1)

	// a new special appears on day 3
	backend.lock.Lock()
	backend.specialsBody = `{
      "specials": {"items": [
        {"id": 620, "name": "Portal 2", "original_price": 15000000, "final_price": 1500000},
        {"id": 440, "name": "Team Fortress 2", "original_price": 0, "final_price": 0}
      ]}
    }`
	backend.lock.Unlock()

	f.tick(context.Background(), day1.Add(48*time.Hour))
	messages = sender.sent()
	require.Len(t, messages, 2)
	assert.Contains(t, messages[1].Content, "Team Fortress 2")
	assert.NotContains(t, messages[1].Content, "Portal 2")

	target, _ = f.registry.Get("guild-1")
	assert.Equal(t, []string{"Portal 2", "Team Fortress 2"}, target.Seen)
}

func TestSteamTickRequiresFullConfig(t *testing.T) {
	sender := &fakeSender{}
	f, backend := newTestSteamFeature(t, sender)

	// no price threshold: skipped entirely, no fetch
	require.NoError(t, f.registry.Set("guild-1", SteamTarget{
		ChannelID: "c1",
		Time:      "10:00",
	}))
	f.tick(context.Background(), time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))
	assert.Empty(t, sender.sent())
	assert.Zero(t, backend.specialsHits)
}

func TestSteamSetPriceCommand(t *testing.T) {
	f, _ := newTestSteamFeature(t, &fakeSender{})

	cc, replies := testCommandContext(t, "guild-1", "100000")
	f.handleSetPrice(context.Background(), cc)
	target, ok := f.registry.Get("guild-1")
	require.True(t, ok)
	assert.Equal(t, 100000, target.MaxPrice)
	assert.Contains(t, replies.lastContent(t), "Rp 100,000")

	cc, replies = testCommandContext(t, "guild-1", "-5")
	f.handleSetPrice(context.Background(), cc)
	assert.Contains(t, replies.lastContent(t), "Invalid price")
}

func TestSteamScheduleRequiresChannelAndPrice(t *testing.T) {
	f, _ := newTestSteamFeature(t, &fakeSender{})

	cc, replies := testCommandContext(t, "guild-1", "10:00")
	f.handleSchedule(context.Background(), cc)
	assert.Contains(t, replies.lastContent(t), "setsteam")

	require.NoError(t, f.registry.Set("guild-1", SteamTarget{
		ChannelID: "c1", MaxPrice: 50000,
	}))
	cc, replies = testCommandContext(t, "guild-1", "10:00")
	f.handleSchedule(context.Background(), cc)
	assert.Contains(t, replies.lastContent(t), "daily at 10:00")
}

func TestFormatThousands(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{15000, "15,000"},
		{1234567, "1,234,567"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatThousands(tt.in))
	}
}
