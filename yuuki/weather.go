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
)

const (
	defaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	defaultForecastURL  = "https://api.open-meteo.com/v1/forecast"
)

// WeatherTarget is the per-guild daily forecast configuration.
type WeatherTarget struct {
	ChannelID string `json:"channel_id"`
	City      string `json:"city"`
	Time      string `json:"time"`
	Enabled   bool   `json:"enabled"`
}

// Location is a geocoded city.
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// WeatherReport is the normalized forecast for one city.
type WeatherReport struct {
	Location        Location
	Temperature     float64
	Humidity        float64
	WindSpeed       float64
	ConditionCode   int
	TemperatureMax  float64
	TemperatureMin  float64
	RainProbability float64
}

// WeatherFeature sends daily forecasts to configured channels and
// answers on-demand weather queries, using the open-meteo geocoding and
// forecast APIs.
type WeatherFeature struct {
	registry     *FileRegistry[WeatherTarget]
	fired        *fireTracker
	client       *http.Client
	sender       MessageSender
	checkChannel func(channelID string) error
	loc          *time.Location
	logger       *slog.Logger
	now          func() time.Time

	geocodingURL string
	forecastURL  string
}

func newWeatherFeature(
	registry *FileRegistry[WeatherTarget],
	loc *time.Location,
	sender MessageSender,
	checkChannel func(string) error,
	client *http.Client,
	logger *slog.Logger,
) *WeatherFeature {
	return &WeatherFeature{
		registry:     registry,
		loc:          loc,
		fired:        newFireTracker(),
		client:       client,
		sender:       sender,
		checkChannel: checkChannel,
		logger:       logger.With(loggerNameKey, "weather"),
		now:          time.Now,
		geocodingURL: defaultGeocodingURL,
		forecastURL:  defaultForecastURL,
	}
}

type geocodingResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
	} `json:"current"`
	Daily struct {
		WeatherCode     []int     `json:"weather_code"`
		TemperatureMax  []float64 `json:"temperature_2m_max"`
		TemperatureMin  []float64 `json:"temperature_2m_min"`
		RainProbability []float64 `json:"precipitation_probability_max"`
	} `json:"daily"`
}

// Geocode resolves a city name to coordinates. A city with no results
// returns nil with no error.
func (f *WeatherFeature) Geocode(ctx context.Context, city string) (*Location, error) {
	query := url.Values{}
	query.Set("name", city)
	query.Set("count", "1")

	var parsed geocodingResponse
	if err := f.getJSON(ctx, f.geocodingURL+"?"+query.Encode(), &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Results) == 0 {
		return nil, nil
	}
	r := parsed.Results[0]
	return &Location{Name: r.Name, Latitude: r.Latitude, Longitude: r.Longitude}, nil
}

// Forecast fetches current conditions and the one-day-ahead daily
// summary for a location.
func (f *WeatherFeature) Forecast(ctx context.Context, loc Location) (*WeatherReport, error) {
	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	query.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	query.Set(
		"daily",
		"weather_code,temperature_2m_max,temperature_2m_min,precipitation_probability_max",
	)
	query.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m")
	query.Set("timezone", "auto")

	var parsed forecastResponse
	if err := f.getJSON(ctx, f.forecastURL+"?"+query.Encode(), &parsed); err != nil {
		return nil, err
	}
	report := &WeatherReport{
		Location:    loc,
		Temperature: parsed.Current.Temperature,
		Humidity:    parsed.Current.Humidity,
		WindSpeed:   parsed.Current.WindSpeed,
	}
	if len(parsed.Daily.WeatherCode) > 0 {
		report.ConditionCode = parsed.Daily.WeatherCode[0]
	}
	if len(parsed.Daily.TemperatureMax) > 0 {
		report.TemperatureMax = parsed.Daily.TemperatureMax[0]
	}
	if len(parsed.Daily.TemperatureMin) > 0 {
		report.TemperatureMin = parsed.Daily.TemperatureMin[0]
	}
	if len(parsed.Daily.RainProbability) > 0 {
		report.RainProbability = parsed.Daily.RainProbability[0]
	}
	return report, nil
}

func (f *WeatherFeature) getJSON(ctx context.Context, requestURL string, out any) error {
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
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, requestURL)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// weatherConditions maps open-meteo weather codes to descriptions.
var weatherConditions = map[int]string{
	0:  "Clear",
	1:  "Mostly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Foggy",
	48: "Dense fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Heavy drizzle",
	61: "Light rain",
	63: "Moderate rain",
	65: "Heavy rain",
	80: "Local showers",
	95: "Thunderstorm",
}

func weatherCondition(code int) string {
	if s, ok := weatherConditions[code]; ok {
		return s
	}
	return "Unknown"
}

// FormatReport renders a forecast message with condition-dependent tips.
func FormatReport(report *WeatherReport, date time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🌦️ **Weather forecast for %s** 🌦️\n", report.Location.Name)
	fmt.Fprintf(&b, "*%s*\n\n", date.Format("02 January 2006"))
	b.WriteString("**Current conditions:**\n")
	fmt.Fprintf(&b, "• Temperature: %.1f°C\n", report.Temperature)
	fmt.Fprintf(&b, "• Humidity: %.0f%%\n", report.Humidity)
	fmt.Fprintf(&b, "• Wind speed: %.1f km/h\n\n", report.WindSpeed)
	b.WriteString("**Today's outlook:**\n")
	fmt.Fprintf(&b, "• Conditions: %s\n", weatherCondition(report.ConditionCode))
	fmt.Fprintf(&b, "• High: %.1f°C\n", report.TemperatureMax)
	fmt.Fprintf(&b, "• Low: %.1f°C\n", report.TemperatureMin)
	fmt.Fprintf(&b, "• Rain probability: %.0f%%\n", report.RainProbability)

	var tips []string
	if report.RainProbability > 70 {
		tips = append(tips, "🌂 Don't forget an umbrella! High chance of rain today.")
	} else if report.RainProbability > 30 {
		tips = append(tips, "🌂 Some chance of rain, keep an umbrella handy.")
	}
	switch report.ConditionCode {
	case 0, 1:
		tips = append(tips, "🧴 Clear skies, don't forget sunscreen!")
	case 45, 48:
		tips = append(tips, "⚠️ Drive carefully, visibility may be limited.")
	case 95:
		tips = append(tips, "⚡ Thunderstorm warning! Avoid outdoor activities.")
	}
	if len(tips) > 0 {
		b.WriteString("\n**Tips:**\n")
		for _, tip := range tips {
			b.WriteString(tip)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Report geocodes the city and renders its forecast.
func (f *WeatherFeature) Report(ctx context.Context, city string) (string, error) {
	loc, err := f.Geocode(ctx, city)
	if err != nil {
		return "", err
	}
	if loc == nil {
		return "❌ City not found", nil
	}
	report, err := f.Forecast(ctx, *loc)
	if err != nil {
		return "", err
	}
	return FormatReport(report, f.now().In(f.loc)), nil
}

// tick runs once per engine tick: any enabled target whose configured
// time matches the current minute, and which hasn't fired for this
// minute yet, gets its forecast. Per-target failures are logged and
// don't affect other targets.
func (f *WeatherFeature) tick(ctx context.Context, now time.Time) {
	for guildID, target := range f.registry.All() {
		if !target.Enabled || target.Time == "" {
			continue
		}
		clock, err := ParseClock(target.Time)
		if err != nil {
			f.logger.Warn(
				"invalid stored schedule",
				"guild_id", guildID,
				"time", target.Time,
			)
			continue
		}
		if !clock.Matches(now) {
			continue
		}
		if !f.fired.ShouldFire("weather:"+guildID, minuteSignature(now)) {
			continue
		}
		report, err := f.Report(ctx, target.City)
		if err != nil {
			f.logger.ErrorContext(ctx, "error fetching forecast", tint.Err(err),
				"guild_id", guildID, "city", target.City)
			continue
		}
		if err := f.sender.SendMessage(target.ChannelID, report); err != nil {
			f.logger.ErrorContext(ctx, "error delivering forecast", tint.Err(err),
				"guild_id", guildID, "channel_id", target.ChannelID)
		}
	}
}

func (f *WeatherFeature) commands() []*Command {
	return []*Command{
		{
			Name:    "setweather",
			Help:    "setweather <#channel> <city> <HH:MM> - set the daily forecast",
			Handler: f.handleSetWeather,
		},
		{
			Name:      "stopweather",
			Help:      "stopweather - disable the daily forecast",
			AdminOnly: true,
			Handler:   f.handleStopWeather,
		},
		{
			Name:      "startweather",
			Help:      "startweather - re-enable a stopped daily forecast",
			AdminOnly: true,
			Handler:   f.handleStartWeather,
		},
		{
			Name:    "checkweather",
			Help:    "checkweather [city] - current weather for a city",
			Handler: f.handleCheckWeather,
		},
	}
}

func (f *WeatherFeature) handleSetWeather(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) < 3 {
		cc.Reply("❓ Usage: `setweather <#channel> <city> <HH:MM>`")
		return
	}
	channelID := parseChannelArg(cc.Args[0])
	timeArg := cc.Args[len(cc.Args)-1]
	city := strings.Join(cc.Args[1:len(cc.Args)-1], " ")

	clock, err := ParseClock(timeArg)
	if err != nil {
		cc.Reply("❌ Invalid time format! Use 24-hour HH:MM")
		return
	}
	if err := f.checkChannel(channelID); err != nil {
		cc.Reply(fmt.Sprintf("❌ I can't send messages to %s", channelMention(channelID)))
		return
	}
	loc, err := f.Geocode(ctx, city)
	if err != nil {
		f.logger.ErrorContext(ctx, "geocoding error", tint.Err(err))
		cc.Reply("❌ Sorry, something went wrong looking up that city")
		return
	}
	if loc == nil {
		cc.Reply("❌ City not found!")
		return
	}

	target := WeatherTarget{
		ChannelID: channelID,
		City:      city,
		Time:      clock.String(),
		Enabled:   true,
	}
	if err := f.registry.Set(cc.GuildID(), target); err != nil {
		f.logger.ErrorContext(ctx, "error saving weather target", tint.Err(err))
		cc.Reply("❌ Couldn't save the forecast settings")
		return
	}
	f.fired.Forget("weather:" + cc.GuildID())

	sample, err := f.Report(ctx, city)
	if err != nil {
		sample = ""
	}
	reply := fmt.Sprintf(
		"✅ Daily forecast configured!\n📍 City: %s\n⏰ Time: %s\n📢 Channel: %s",
		loc.Name, clock, channelMention(channelID),
	)
	if sample != "" {
		reply += "\n\nHere's a sample of what I'll send:\n" + sample
	}
	cc.Reply(reply)
}

func (f *WeatherFeature) handleStopWeather(_ context.Context, cc *CommandContext) {
	var found bool
	err := f.registry.Update(
		cc.GuildID(),
		func(t WeatherTarget, ok bool) (WeatherTarget, bool) {
			found = ok
			t.Enabled = false
			return t, ok
		},
	)
	if err != nil {
		cc.Reply("❌ Couldn't update the forecast settings")
		return
	}
	if !found {
		cc.Reply("❌ The daily forecast hasn't been set up for this server")
		return
	}
	cc.Reply("✅ Daily forecast disabled")
}

func (f *WeatherFeature) handleStartWeather(_ context.Context, cc *CommandContext) {
	var found bool
	err := f.registry.Update(
		cc.GuildID(),
		func(t WeatherTarget, ok bool) (WeatherTarget, bool) {
			found = ok
			t.Enabled = true
			return t, ok
		},
	)
	if err != nil {
		cc.Reply("❌ Couldn't update the forecast settings")
		return
	}
	if !found {
		cc.Reply("❌ The daily forecast hasn't been set up for this server")
		return
	}
	cc.Reply("✅ Daily forecast enabled")
}

func (f *WeatherFeature) handleCheckWeather(ctx context.Context, cc *CommandContext) {
	city := cc.Raw
	if city == "" {
		if target, ok := f.registry.Get(cc.GuildID()); ok {
			city = target.City
		}
	}
	if city == "" {
		cc.Reply("❌ Please provide a city name!")
		return
	}
	cc.Typing()
	report, err := f.Report(ctx, city)
	if err != nil {
		f.logger.ErrorContext(ctx, "error fetching weather", tint.Err(err))
		cc.Reply("❌ Sorry, something went wrong fetching the weather")
		return
	}
	cc.Reply(report)
}
