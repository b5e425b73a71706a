package yuuki

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

const (
	defaultEpicFreeGamesURL = "https://store-site-backend-static.ak.epicgames.com/freeGamesPromotions"
	defaultEpicCatalogURL   = "https://store.epicgames.com/api/content/v2/catalog"

	epicTimestampLayout = "2006-01-02T15:04:05.000Z"
)

// EpicTarget is the per-guild free-games notification configuration.
// Seen holds the titles already announced, replaced with the full
// current catalog after each successful delivery.
type EpicTarget struct {
	ChannelID     string   `json:"channel_id"`
	Time          string   `json:"time"`
	MentionRoleID string   `json:"mention_role_id,omitempty"`
	Seen          []string `json:"seen,omitempty"`
}

// EpicGame is a normalized free-game promotion.
type EpicGame struct {
	Title       string
	Description string
	StartDate   time.Time
	EndDate     time.Time
}

// URL derives the store page link the same way the store slugs titles.
func (g EpicGame) URL() string {
	slug := strings.ToLower(strings.ReplaceAll(g.Title, " ", "-"))
	return "https://store.epicgames.com/p/" + slug
}

// EpicSearchResult is one catalog search hit.
type EpicSearchResult struct {
	Title       string
	Description string
	Price       string
	URL         string
}

// EpicFeature announces new Epic Games Store giveaways to configured
// channels, deduplicated against each guild's seen set.
type EpicFeature struct {
	registry     *FileRegistry[EpicTarget]
	fired        *fireTracker
	client       *http.Client
	sender       MessageSender
	checkChannel func(channelID string) error
	loc          *time.Location
	logger       *slog.Logger
	now          func() time.Time

	freeGamesURL string
	catalogURL   string
}

func newEpicFeature(
	registry *FileRegistry[EpicTarget],
	loc *time.Location,
	sender MessageSender,
	checkChannel func(string) error,
	client *http.Client,
	logger *slog.Logger,
) *EpicFeature {
	return &EpicFeature{
		registry:     registry,
		loc:          loc,
		fired:        newFireTracker(),
		client:       client,
		sender:       sender,
		checkChannel: checkChannel,
		logger:       logger.With(loggerNameKey, "epicgames"),
		now:          time.Now,
		freeGamesURL: defaultEpicFreeGamesURL,
		catalogURL:   defaultEpicCatalogURL,
	}
}

type epicPromotionsResponse struct {
	Data struct {
		Catalog struct {
			SearchStore struct {
				Elements []struct {
					Title       string `json:"title"`
					Description string `json:"description"`
					Promotions  *struct {
						PromotionalOffers []struct {
							PromotionalOffers []struct {
								StartDate       string `json:"startDate"`
								EndDate         string `json:"endDate"`
								DiscountSetting struct {
									DiscountPercentage *int `json:"discountPercentage"`
								} `json:"discountSetting"`
							} `json:"promotionalOffers"`
						} `json:"promotionalOffers"`
					} `json:"promotions"`
				} `json:"elements"`
			} `json:"searchStore"`
		} `json:"Catalog"`
	} `json:"data"`
}

// FreeGames fetches the currently active 100%-off promotions. Offers
// already expired, or discounted but not free, are filtered out.
func (f *EpicFeature) FreeGames(ctx context.Context) ([]EpicGame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.freeGamesURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from epic games api", resp.StatusCode)
	}

	var parsed epicPromotionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("error decoding epic games response: %w", err)
	}

	now := f.now().UTC()
	var games []EpicGame
	for _, element := range parsed.Data.Catalog.SearchStore.Elements {
		if element.Promotions == nil {
			continue
		}
		for _, group := range element.Promotions.PromotionalOffers {
			for _, offer := range group.PromotionalOffers {
				// absent discountSetting means not a giveaway
				if offer.DiscountSetting.DiscountPercentage == nil ||
					*offer.DiscountSetting.DiscountPercentage != 0 {
					continue
				}
				start, err := time.Parse(epicTimestampLayout, offer.StartDate)
				if err != nil {
					continue
				}
				end, err := time.Parse(epicTimestampLayout, offer.EndDate)
				if err != nil || !end.After(now) {
					continue
				}
				games = append(games, EpicGame{
					Title:       element.Title,
					Description: element.Description,
					StartDate:   start,
					EndDate:     end,
				})
			}
		}
	}
	return games, nil
}

type epicCatalogResponse struct {
	Elements []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Price       struct {
			TotalPrice struct {
				FmtPrice struct {
					OriginalPrice string `json:"originalPrice"`
				} `json:"fmtPrice"`
			} `json:"totalPrice"`
		} `json:"price"`
	} `json:"elements"`
}

// Search queries the store catalog by name.
func (f *EpicFeature) Search(ctx context.Context, name string) ([]EpicSearchResult, error) {
	query := url.Values{}
	query.Set("keywords", name)
	query.Set("category", "games")
	query.Set("locale", "en-US")
	query.Set("count", "10")

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, f.catalogURL+"?"+query.Encode(), nil,
	)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from epic catalog api", resp.StatusCode)
	}

	var parsed epicCatalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("error decoding epic catalog response: %w", err)
	}

	var results []EpicSearchResult
	for _, element := range parsed.Elements {
		price := element.Price.TotalPrice.FmtPrice.OriginalPrice
		if price == "" {
			price = "Unknown"
		}
		slug := strings.ToLower(strings.ReplaceAll(element.Title, " ", "-"))
		results = append(results, EpicSearchResult{
			Title:       element.Title,
			Description: element.Description,
			Price:       price,
			URL:         "https://store.epicgames.com/p/" + slug,
		})
	}
	return results, nil
}

// newGames returns the subset of current not present in seen, compared
// by title. Defined as a total function over both inputs so an empty
// catalog or empty seen set yields a well-defined (possibly empty)
// result.
func newGames(current []EpicGame, seen []string) []EpicGame {
	seenSet := make(map[string]bool, len(seen))
	for _, title := range seen {
		seenSet[title] = true
	}
	var fresh []EpicGame
	for _, game := range current {
		if !seenSet[game.Title] {
			fresh = append(fresh, game)
		}
	}
	return fresh
}

func gameTitles(games []EpicGame) []string {
	titles := make([]string, 0, len(games))
	for _, game := range games {
		titles = append(titles, game.Title)
	}
	return titles
}

func formatEpicGames(header string, games []EpicGame) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for _, game := range games {
		fmt.Fprintf(&b, "🎮 **%s**\n", game.Title)
		if game.Description != "" {
			b.WriteString(game.Description)
			b.WriteString("\n")
		}
		fmt.Fprintf(
			&b,
			"📅 Free from %s until %s\n",
			game.StartDate.Format("02 January 2006"),
			game.EndDate.Format("02 January 2006"),
		)
		fmt.Fprintf(&b, "🔗 [Claim now](%s)\n\n", game.URL())
	}
	return b.String()
}

// tick fetches the catalog once, then announces per-guild diffs for
// every target whose scheduled time matches the current minute. After a
// successful delivery the guild's seen set becomes the full current
// title list.
func (f *EpicFeature) tick(ctx context.Context, now time.Time) {
	targets := f.registry.All()

	var due []string
	for guildID, target := range targets {
		if target.Time == "" || target.ChannelID == "" {
			continue
		}
		clock, err := ParseClock(target.Time)
		if err != nil || !clock.Matches(now) {
			continue
		}
		if f.fired.ShouldFire("epic:"+guildID, minuteSignature(now)) {
			due = append(due, guildID)
		}
	}
	if len(due) == 0 {
		return
	}

	current, err := f.FreeGames(ctx)
	if err != nil {
		f.logger.ErrorContext(ctx, "error fetching free games", tint.Err(err))
		return
	}

	var group errgroup.Group
	for _, guildID := range due {
		guildID := guildID
		target := targets[guildID]
		group.Go(func() error {
			f.announce(ctx, guildID, target, current)
			return nil
		})
	}
	_ = group.Wait()
}

func (f *EpicFeature) announce(
	ctx context.Context,
	guildID string,
	target EpicTarget,
	current []EpicGame,
) {
	fresh := newGames(current, target.Seen)
	if len(fresh) == 0 {
		return
	}
	message := formatEpicGames("**New free games on the Epic Games Store:**", fresh)
	if target.MentionRoleID != "" {
		message = fmt.Sprintf("<@&%s>\n%s", target.MentionRoleID, message)
	}
	if err := f.sender.SendMessage(target.ChannelID, message); err != nil {
		f.logger.ErrorContext(ctx, "error delivering free games", tint.Err(err),
			"guild_id", guildID, "channel_id", target.ChannelID)
		return
	}
	err := f.registry.Update(guildID, func(t EpicTarget, ok bool) (EpicTarget, bool) {
		t.Seen = gameTitles(current)
		return t, ok
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving seen titles", tint.Err(err),
			"guild_id", guildID)
	}
}

func (f *EpicFeature) commands() []*Command {
	return []*Command{
		{
			Name:    "checkgames",
			Help:    "checkgames - list the Epic Games Store's current giveaways",
			Handler: f.handleCheckGames,
		},
		{
			Name:    "searchepic",
			Help:    "searchepic <name> - search the Epic Games Store",
			Handler: f.handleSearchEpic,
		},
		{
			Name:      "setepicgames",
			Help:      "setepicgames <#channel> [@role] - set the giveaway notification channel",
			AdminOnly: true,
			Handler:   f.handleSetChannel,
		},
		{
			Name:      "scheduleepic",
			Help:      "scheduleepic <HH:MM> - schedule the daily giveaway check",
			AdminOnly: true,
			Handler:   f.handleSchedule,
		},
		{
			Name:      "stopepic",
			Help:      "stopepic - stop the daily giveaway notifications",
			AdminOnly: true,
			Handler:   f.handleStop,
		},
	}
}

func (f *EpicFeature) handleCheckGames(ctx context.Context, cc *CommandContext) {
	cc.Typing()
	games, err := f.FreeGames(ctx)
	if err != nil {
		f.logger.ErrorContext(ctx, "error fetching free games", tint.Err(err))
		cc.Reply("❌ Sorry, something went wrong fetching the giveaways")
		return
	}
	if len(games) == 0 {
		cc.Reply("⚠️ No free games available right now.")
		return
	}
	cc.Reply(formatEpicGames("**Free games on the Epic Games Store right now:**", games))
}

func (f *EpicFeature) handleSearchEpic(ctx context.Context, cc *CommandContext) {
	name := cc.Raw
	if name == "" {
		cc.Reply("❓ Usage: `searchepic <game name>`")
		return
	}
	cc.Typing()
	results, err := f.Search(ctx, name)
	if err != nil {
		f.logger.ErrorContext(ctx, "error searching epic catalog", tint.Err(err))
		cc.Reply("❌ Sorry, something went wrong searching the store")
		return
	}
	if len(results) == 0 {
		cc.Reply("❌ No results found for that search.")
		return
	}
	var b strings.Builder
	b.WriteString("**Epic Games Store search results:**\n")
	for i, result := range results {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "🎮 **%s**\n", result.Title)
		if result.Description != "" {
			b.WriteString(result.Description)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "💸 Price: %s\n", result.Price)
		fmt.Fprintf(&b, "🔗 [Epic Store link](%s)\n\n", result.URL)
	}
	cc.Reply(b.String())
}

func (f *EpicFeature) handleSetChannel(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) == 0 {
		cc.Reply("❓ Usage: `setepicgames <#channel> [@role]`")
		return
	}
	channelID := parseChannelArg(cc.Args[0])
	if err := f.checkChannel(channelID); err != nil {
		cc.Reply(fmt.Sprintf("❌ I can't send messages to %s", channelMention(channelID)))
		return
	}
	roleID := ""
	if len(cc.Args) > 1 {
		roleID = parseRoleArg(cc.Args[1])
	}
	err := f.registry.Update(cc.GuildID(), func(t EpicTarget, _ bool) (EpicTarget, bool) {
		t.ChannelID = channelID
		t.MentionRoleID = roleID
		return t, true
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving epic target", tint.Err(err))
		cc.Reply("❌ Couldn't save the notification settings")
		return
	}
	cc.Reply(fmt.Sprintf(
		"✅ Epic Games notifications will be sent to %s", channelMention(channelID),
	))
}

func (f *EpicFeature) handleSchedule(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) != 1 {
		cc.Reply("❓ Usage: `scheduleepic <HH:MM>`")
		return
	}
	clock, err := ParseClock(cc.Args[0])
	if err != nil {
		cc.Reply("❌ Invalid time format! Use 24-hour HH:MM")
		return
	}
	// the schedule is a civil time, so "already passed" is judged in the
	// bot's timezone, not the machine's
	now := f.now().In(f.loc)
	if clock.Hour < now.Hour() || (clock.Hour == now.Hour() && clock.Minute < now.Minute()) {
		cc.Reply("❌ That time has already passed today. Pick a time in the future.")
		return
	}
	var hasChannel bool
	err = f.registry.Update(cc.GuildID(), func(t EpicTarget, ok bool) (EpicTarget, bool) {
		hasChannel = ok && t.ChannelID != ""
		t.Time = clock.String()
		return t, hasChannel
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving epic schedule", tint.Err(err))
		cc.Reply("❌ Couldn't save the schedule")
		return
	}
	if !hasChannel {
		cc.Reply("❌ Set a notification channel first with `setepicgames`")
		return
	}
	f.fired.Forget("epic:" + cc.GuildID())
	cc.Reply(fmt.Sprintf("✅ Giveaway notifications will be sent daily at %s.", clock))
}

func (f *EpicFeature) handleStop(ctx context.Context, cc *CommandContext) {
	var found bool
	err := f.registry.Update(cc.GuildID(), func(t EpicTarget, ok bool) (EpicTarget, bool) {
		found = ok
		t.Time = ""
		return t, ok
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving epic target", tint.Err(err))
		cc.Reply("❌ Couldn't update the notification settings")
		return
	}
	if !found {
		cc.Reply("❌ Epic Games notifications haven't been set up for this server")
		return
	}
	cc.Reply("✅ Daily giveaway notifications stopped.")
}
