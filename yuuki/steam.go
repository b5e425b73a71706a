package yuuki

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSteamSearchURL   = "https://store.steampowered.com/api/storesearch/"
	defaultSteamFeaturedURL = "https://store.steampowered.com/api/featuredcategories/"

	// storefront region for prices (IDR)
	steamCountryCode = "ID"
)

// SteamTarget is the per-guild discount notification configuration.
// MaxPrice is in whole rupiah; Seen holds already-announced game names.
type SteamTarget struct {
	ChannelID string   `json:"channel_id"`
	MaxPrice  int      `json:"max_price"`
	Time      string   `json:"time"`
	Seen      []string `json:"seen,omitempty"`
}

// SteamGame is a normalized storefront item. Prices are whole currency
// units; the API reports them in cents.
type SteamGame struct {
	Name  string
	Price int
	Free  bool
	URL   string
}

func (g SteamGame) priceLabel() string {
	if g.Free {
		return "Free"
	}
	return fmt.Sprintf("Rp %s", formatThousands(g.Price))
}

// formatThousands renders n with comma separators.
func formatThousands(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// SteamFeature announces discounted games under a per-guild price
// threshold, deduplicated against each guild's seen set.
type SteamFeature struct {
	registry     *FileRegistry[SteamTarget]
	fired        *fireTracker
	client       *http.Client
	sender       MessageSender
	checkChannel func(channelID string) error
	logger       *slog.Logger
	now          func() time.Time

	searchURL   string
	featuredURL string
}

func newSteamFeature(
	registry *FileRegistry[SteamTarget],
	sender MessageSender,
	checkChannel func(string) error,
	client *http.Client,
	logger *slog.Logger,
) *SteamFeature {
	return &SteamFeature{
		registry:     registry,
		fired:        newFireTracker(),
		client:       client,
		sender:       sender,
		checkChannel: checkChannel,
		logger:       logger.With(loggerNameKey, "steam"),
		now:          time.Now,
		searchURL:    defaultSteamSearchURL,
		featuredURL:  defaultSteamFeaturedURL,
	}
}

type steamSearchResponse struct {
	Items []struct {
		ID    json.Number `json:"id"`
		Name  string      `json:"name"`
		Price *struct {
			Initial int `json:"initial"`
			Final   int `json:"final"`
		} `json:"price"`
	} `json:"items"`
}

// Search queries the storefront by name. maxPrice of 0 means no filter.
func (f *SteamFeature) Search(
	ctx context.Context,
	name string,
	maxPrice int,
) ([]SteamGame, error) {
	query := url.Values{}
	query.Set("term", name)
	query.Set("cc", steamCountryCode)

	var parsed steamSearchResponse
	if err := f.getJSON(ctx, f.searchURL+"?"+query.Encode(), &parsed); err != nil {
		return nil, err
	}

	var games []SteamGame
	for _, item := range parsed.Items {
		game := SteamGame{
			Name: item.Name,
			URL:  "https://store.steampowered.com/app/" + item.ID.String(),
		}
		if item.Price == nil || item.Price.Final == 0 {
			game.Free = true
		} else {
			game.Price = item.Price.Final / 100
		}
		if maxPrice > 0 && !game.Free && game.Price > maxPrice {
			continue
		}
		games = append(games, game)
	}
	return games, nil
}

type steamFeaturedResponse struct {
	Specials struct {
		Items []struct {
			ID            json.Number `json:"id"`
			Name          string      `json:"name"`
			OriginalPrice int         `json:"original_price"`
			FinalPrice    int         `json:"final_price"`
		} `json:"items"`
	} `json:"specials"`
}

// Discounted fetches the current specials priced at or under maxPrice.
func (f *SteamFeature) Discounted(ctx context.Context, maxPrice int) ([]SteamGame, error) {
	query := url.Values{}
	query.Set("cc", steamCountryCode)

	var parsed steamFeaturedResponse
	if err := f.getJSON(ctx, f.featuredURL+"?"+query.Encode(), &parsed); err != nil {
		return nil, err
	}

	var games []SteamGame
	for _, item := range parsed.Specials.Items {
		price := item.FinalPrice / 100
		if price > maxPrice {
			continue
		}
		games = append(games, SteamGame{
			Name:  item.Name,
			Price: price,
			Free:  item.FinalPrice == 0,
			URL:   "https://store.steampowered.com/app/" + item.ID.String(),
		})
	}
	return games, nil
}

func (f *SteamFeature) getJSON(ctx context.Context, requestURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from steam api", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// newSteamGames returns the subset of current whose names aren't in
// seen.
func newSteamGames(current []SteamGame, seen []string) []SteamGame {
	seenSet := make(map[string]bool, len(seen))
	for _, name := range seen {
		seenSet[name] = true
	}
	var fresh []SteamGame
	for _, game := range current {
		if !seenSet[game.Name] {
			fresh = append(fresh, game)
		}
	}
	return fresh
}

func steamNames(games []SteamGame) []string {
	names := make([]string, 0, len(games))
	for _, game := range games {
		names = append(names, game.Name)
	}
	return names
}

func formatSteamGames(header string, games []SteamGame, limit int) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for i, game := range games {
		if limit > 0 && i == limit {
			break
		}
		fmt.Fprintf(&b, "🎮 **%s**\n", game.Name)
		fmt.Fprintf(&b, "💸 Price: %s\n", game.priceLabel())
		fmt.Fprintf(&b, "🔗 [Steam Store link](%s)\n\n", game.URL)
	}
	return b.String()
}

// tick announces specials under each due guild's price threshold. The
// specials list is fetched per distinct price threshold, not per guild.
func (f *SteamFeature) tick(ctx context.Context, now time.Time) {
	targets := f.registry.All()

	var due []string
	for guildID, target := range targets {
		if target.Time == "" || target.ChannelID == "" || target.MaxPrice <= 0 {
			continue
		}
		clock, err := ParseClock(target.Time)
		if err != nil || !clock.Matches(now) {
			continue
		}
		if f.fired.ShouldFire("steam:"+guildID, minuteSignature(now)) {
			due = append(due, guildID)
		}
	}
	if len(due) == 0 {
		return
	}

	var group errgroup.Group
	for _, guildID := range due {
		guildID := guildID
		target := targets[guildID]
		group.Go(func() error {
			f.announce(ctx, guildID, target)
			return nil
		})
	}
	_ = group.Wait()
}

func (f *SteamFeature) announce(ctx context.Context, guildID string, target SteamTarget) {
	current, err := f.Discounted(ctx, target.MaxPrice)
	if err != nil {
		f.logger.ErrorContext(ctx, "error fetching specials", tint.Err(err),
			"guild_id", guildID)
		return
	}
	fresh := newSteamGames(current, target.Seen)
	if len(fresh) == 0 {
		return
	}
	message := formatSteamGames(
		fmt.Sprintf(
			"**Steam discounts under Rp %s:**", formatThousands(target.MaxPrice),
		),
		fresh,
		0,
	)
	if err := f.sender.SendMessage(target.ChannelID, message); err != nil {
		f.logger.ErrorContext(ctx, "error delivering discounts", tint.Err(err),
			"guild_id", guildID, "channel_id", target.ChannelID)
		return
	}
	err = f.registry.Update(guildID, func(t SteamTarget, ok bool) (SteamTarget, bool) {
		t.Seen = steamNames(current)
		return t, ok
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving seen names", tint.Err(err),
			"guild_id", guildID)
	}
}

func (f *SteamFeature) commands() []*Command {
	return []*Command{
		{
			Name:    "searchsteam",
			Help:    "searchsteam <name|price> - search Steam by name, or list games under a price",
			Handler: f.handleSearch,
		},
		{
			Name:      "setsteam",
			Help:      "setsteam <#channel> - set the Steam discount notification channel",
			AdminOnly: true,
			Handler:   f.handleSetChannel,
		},
		{
			Name:      "setsteamprice",
			Help:      "setsteamprice <price> - set the max price (Rp) for discount notifications",
			AdminOnly: true,
			Handler:   f.handleSetPrice,
		},
		{
			Name:      "schedulesteam",
			Help:      "schedulesteam <HH:MM> - schedule the daily discount check",
			AdminOnly: true,
			Handler:   f.handleSchedule,
		},
		{
			Name:      "stopsteam",
			Help:      "stopsteam - stop the daily discount notifications",
			AdminOnly: true,
			Handler:   f.handleStop,
		},
	}
}

func (f *SteamFeature) handleSearch(ctx context.Context, cc *CommandContext) {
	if cc.Raw == "" {
		cc.Reply("❓ Usage: `searchsteam <game name>` or `searchsteam <max price>`")
		return
	}
	cc.Typing()

	var (
		games []SteamGame
		err   error
	)
	// a single numeric argument is a price-only browse of the specials
	if price, convErr := strconv.Atoi(cc.Raw); convErr == nil && len(cc.Args) == 1 {
		games, err = f.Discounted(ctx, price)
	} else {
		games, err = f.Search(ctx, cc.Raw, 0)
	}
	if err != nil {
		f.logger.ErrorContext(ctx, "error searching steam", tint.Err(err))
		cc.Reply("❌ Sorry, something went wrong searching Steam")
		return
	}
	if len(games) == 0 {
		cc.Reply("❌ No results found for that search.")
		return
	}
	cc.Reply(formatSteamGames("**Steam search results:**", games, 10))
}

func (f *SteamFeature) handleSetChannel(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) != 1 {
		cc.Reply("❓ Usage: `setsteam <#channel>`")
		return
	}
	channelID := parseChannelArg(cc.Args[0])
	if err := f.checkChannel(channelID); err != nil {
		cc.Reply(fmt.Sprintf("❌ I can't send messages to %s", channelMention(channelID)))
		return
	}
	err := f.registry.Update(cc.GuildID(), func(t SteamTarget, _ bool) (SteamTarget, bool) {
		t.ChannelID = channelID
		return t, true
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving steam target", tint.Err(err))
		cc.Reply("❌ Couldn't save the notification settings")
		return
	}
	cc.Reply(fmt.Sprintf(
		"✅ Steam discount notifications will be sent to %s", channelMention(channelID),
	))
}

func (f *SteamFeature) handleSetPrice(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) != 1 {
		cc.Reply("❓ Usage: `setsteamprice <price in Rp>`")
		return
	}
	price, err := strconv.Atoi(cc.Args[0])
	if err != nil || price <= 0 {
		cc.Reply("❌ Invalid price.")
		return
	}
	err = f.registry.Update(cc.GuildID(), func(t SteamTarget, _ bool) (SteamTarget, bool) {
		t.MaxPrice = price
		return t, true
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving steam price", tint.Err(err))
		cc.Reply("❌ Couldn't save the price threshold")
		return
	}
	cc.Reply(fmt.Sprintf(
		"✅ Discount notifications capped at Rp %s.", formatThousands(price),
	))
}

func (f *SteamFeature) handleSchedule(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) != 1 {
		cc.Reply("❓ Usage: `schedulesteam <HH:MM>`")
		return
	}
	clock, err := ParseClock(cc.Args[0])
	if err != nil {
		cc.Reply("❌ Invalid time format! Use 24-hour HH:MM")
		return
	}
	var ready bool
	err = f.registry.Update(cc.GuildID(), func(t SteamTarget, ok bool) (SteamTarget, bool) {
		ready = ok && t.ChannelID != "" && t.MaxPrice > 0
		t.Time = clock.String()
		return t, ready
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving steam schedule", tint.Err(err))
		cc.Reply("❌ Couldn't save the schedule")
		return
	}
	if !ready {
		cc.Reply("❌ Set a channel (`setsteam`) and a max price (`setsteamprice`) first")
		return
	}
	f.fired.Forget("steam:" + cc.GuildID())
	cc.Reply(fmt.Sprintf("✅ Steam discount notifications will be sent daily at %s.", clock))
}

func (f *SteamFeature) handleStop(ctx context.Context, cc *CommandContext) {
	var found bool
	err := f.registry.Update(cc.GuildID(), func(t SteamTarget, ok bool) (SteamTarget, bool) {
		found = ok
		t.Time = ""
		return t, ok
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving steam target", tint.Err(err))
		cc.Reply("❌ Couldn't update the notification settings")
		return
	}
	if !found {
		cc.Reply("❌ Steam notifications haven't been set up for this server")
		return
	}
	cc.Reply("✅ Daily Steam discount notifications stopped.")
}
