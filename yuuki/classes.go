package yuuki

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

const defaultClassLeadMinutes = 15

// ClassEntry is one weekly class occurrence.
type ClassEntry struct {
	Day  string `json:"day"`
	Time string `json:"time"`
	Name string `json:"name"`
}

// ClassSchedule is the per-guild weekly timetable.
type ClassSchedule struct {
	ChannelID   string       `json:"channel_id"`
	LeadMinutes int          `json:"lead_minutes"`
	Entries     []ClassEntry `json:"entries"`
}

// ClassFeature sends a reminder shortly before each scheduled class,
// once per weekly occurrence.
type ClassFeature struct {
	registry     *FileRegistry[ClassSchedule]
	sender       MessageSender
	checkChannel func(channelID string) error
	logger       *slog.Logger

	// occurrence markers, cleared once the class window passes so the
	// same slot can fire again next week
	sent map[string]bool
}

func newClassFeature(
	registry *FileRegistry[ClassSchedule],
	sender MessageSender,
	checkChannel func(string) error,
	logger *slog.Logger,
) *ClassFeature {
	return &ClassFeature{
		registry:     registry,
		sender:       sender,
		checkChannel: checkChannel,
		logger:       logger.With(loggerNameKey, "classes"),
		sent:         map[string]bool{},
	}
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(s string) (time.Weekday, bool) {
	day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	return day, ok
}

// tick fires reminders for classes starting within the lead window, and
// clears per-occurrence markers once the class has started.
func (f *ClassFeature) tick(ctx context.Context, now time.Time) {
	for guildID, schedule := range f.registry.All() {
		if schedule.ChannelID == "" {
			continue
		}
		lead := schedule.LeadMinutes
		if lead <= 0 {
			lead = defaultClassLeadMinutes
		}
		for _, entry := range schedule.Entries {
			day, ok := parseWeekday(entry.Day)
			if !ok || day != now.Weekday() {
				continue
			}
			clock, err := ParseClock(entry.Time)
			if err != nil {
				continue
			}
			classTime := time.Date(
				now.Year(), now.Month(), now.Day(),
				clock.Hour, clock.Minute, 0, 0, now.Location(),
			)
			key := fmt.Sprintf("%s:%s:%s:%s", guildID, entry.Day, entry.Time, entry.Name)
			reminderStart := classTime.Add(-time.Duration(lead) * time.Minute)
			windowEnd := classTime.Add(time.Minute)

			switch {
			case !now.Before(reminderStart) && now.Before(windowEnd):
				if f.sent[key] {
					continue
				}
				f.sent[key] = true
				message := fmt.Sprintf(
					"🔔 Reminder: class **%s** starts in %d minutes!",
					entry.Name, lead,
				)
				if err := f.sender.SendMessage(schedule.ChannelID, message); err != nil {
					f.logger.ErrorContext(ctx, "error delivering class reminder",
						tint.Err(err), "guild_id", guildID, "class", entry.Name)
				}
			case now.After(windowEnd):
				delete(f.sent, key)
			}
		}
	}
}

func (f *ClassFeature) commands() []*Command {
	return []*Command{
		{
			Name:    "setclass",
			Help:    "setclass <day> <HH:MM> <name> - add a weekly class",
			Handler: f.handleSetClass,
		},
		{
			Name:    "removeclass",
			Help:    "removeclass <day> <HH:MM> - remove a class slot",
			Handler: f.handleRemoveClass,
		},
		{
			Name:    "schedule",
			Help:    "schedule - show the class timetable",
			Handler: f.handleSchedule,
		},
		{
			Name:      "setclasschannel",
			Help:      "setclasschannel <#channel> - set the class reminder channel",
			AdminOnly: true,
			Handler:   f.handleSetChannel,
		},
		{
			Name:      "setclasslead",
			Help:      "setclasslead <minutes> - how far ahead to remind",
			AdminOnly: true,
			Handler:   f.handleSetLead,
		},
	}
}

func (f *ClassFeature) handleSetClass(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) < 3 {
		cc.Reply("❓ Usage: `setclass <day> <HH:MM> <name>`")
		return
	}
	day, ok := parseWeekday(cc.Args[0])
	if !ok {
		cc.Reply("❌ Unknown day. Use the full English weekday name.")
		return
	}
	clock, err := ParseClock(cc.Args[1])
	if err != nil {
		cc.Reply("❌ Invalid time format! Use 24-hour HH:MM")
		return
	}
	name := strings.Join(cc.Args[2:], " ")

	err = f.registry.Update(cc.GuildID(), func(s ClassSchedule, _ bool) (ClassSchedule, bool) {
		s.Entries = append(s.Entries, ClassEntry{
			Day:  day.String(),
			Time: clock.String(),
			Name: name,
		})
		return s, true
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving class", tint.Err(err))
		cc.Reply("❌ Couldn't save the class")
		return
	}
	cc.Reply(fmt.Sprintf("✅ Class **%s** set on %s at %s.", name, day, clock))
}

func (f *ClassFeature) handleRemoveClass(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) != 2 {
		cc.Reply("❓ Usage: `removeclass <day> <HH:MM>`")
		return
	}
	day, ok := parseWeekday(cc.Args[0])
	if !ok {
		cc.Reply("❌ Unknown day. Use the full English weekday name.")
		return
	}
	clock, err := ParseClock(cc.Args[1])
	if err != nil {
		cc.Reply("❌ Invalid time format! Use 24-hour HH:MM")
		return
	}

	var removed bool
	err = f.registry.Update(cc.GuildID(), func(s ClassSchedule, ok bool) (ClassSchedule, bool) {
		if !ok {
			return s, false
		}
		kept := s.Entries[:0]
		for _, entry := range s.Entries {
			if strings.EqualFold(entry.Day, day.String()) && entry.Time == clock.String() {
				removed = true
				continue
			}
			kept = append(kept, entry)
		}
		s.Entries = kept
		return s, removed
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error removing class", tint.Err(err))
		cc.Reply("❌ Couldn't update the timetable")
		return
	}
	if !removed {
		cc.Reply(fmt.Sprintf("❌ No class found at %s on %s.", clock, day))
		return
	}
	cc.Reply(fmt.Sprintf("✅ Class at %s on %s removed.", clock, day))
}

func (f *ClassFeature) handleSchedule(_ context.Context, cc *CommandContext) {
	schedule, ok := f.registry.Get(cc.GuildID())
	if !ok || len(schedule.Entries) == 0 {
		cc.Reply("📋 No classes scheduled.")
		return
	}

	byDay := map[string][]ClassEntry{}
	for _, entry := range schedule.Entries {
		if day, ok := parseWeekday(entry.Day); ok {
			byDay[day.String()] = append(byDay[day.String()], entry)
		}
	}

	var b strings.Builder
	b.WriteString("**Class timetable:**\n")
	for day := time.Sunday; day <= time.Saturday; day++ {
		entries := byDay[day.String()]
		if len(entries) == 0 {
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Time < entries[j].Time })
		fmt.Fprintf(&b, "\n%s:\n", day)
		for _, entry := range entries {
			fmt.Fprintf(&b, "  %s - %s\n", entry.Time, entry.Name)
		}
	}
	cc.Reply(b.String())
}

func (f *ClassFeature) handleSetChannel(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) != 1 {
		cc.Reply("❓ Usage: `setclasschannel <#channel>`")
		return
	}
	channelID := parseChannelArg(cc.Args[0])
	if err := f.checkChannel(channelID); err != nil {
		cc.Reply(fmt.Sprintf("❌ I can't send messages to %s", channelMention(channelID)))
		return
	}
	err := f.registry.Update(cc.GuildID(), func(s ClassSchedule, _ bool) (ClassSchedule, bool) {
		s.ChannelID = channelID
		return s, true
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving class channel", tint.Err(err))
		cc.Reply("❌ Couldn't save the reminder channel")
		return
	}
	cc.Reply(fmt.Sprintf("✅ Class reminders will be sent to %s.", channelMention(channelID)))
}

func (f *ClassFeature) handleSetLead(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) != 1 {
		cc.Reply("❓ Usage: `setclasslead <minutes>`")
		return
	}
	minutes, err := strconv.Atoi(cc.Args[0])
	if err != nil || minutes <= 0 {
		cc.Reply("❌ Invalid lead time.")
		return
	}
	err = f.registry.Update(cc.GuildID(), func(s ClassSchedule, _ bool) (ClassSchedule, bool) {
		s.LeadMinutes = minutes
		return s, true
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving class lead time", tint.Err(err))
		cc.Reply("❌ Couldn't save the lead time")
		return
	}
	cc.Reply(fmt.Sprintf("✅ Class reminders will arrive %d minutes early.", minutes))
}
