// Package scheduler runs named task templates on natural-language schedules.
// Schedules are normalized to 5-field cron; a background worker ticks, fires
// due tasks through the tool registry, and writes results back into memory.
package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/en"
	"github.com/robfig/cron/v3"
)

// cronParser accepts the canonical 5-field form (minute hour dom month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// whenParser resolves free-form time phrases ("at noon", "at half past 9")
// that the hand patterns below do not cover.
var whenParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	return w
}()

// Schedule is a parsed, canonicalized task schedule.
type Schedule struct {
	Text     string // as the user wrote it
	CronExpr string // canonical 5-field cron

	// lastDayOnly guards "last day of month": the cron day-of-month range
	// 28-31 over-matches, so Next skips days with a tomorrow in the same
	// month.
	lastDayOnly bool
}

var (
	everyMinutesPattern = regexp.MustCompile(`(?i)^every\s+(\d+)\s+min(?:ute)?s?$`)
	everyHoursPattern   = regexp.MustCompile(`(?i)^every\s+(\d+)\s+hours?$`)
	dailyPattern        = regexp.MustCompile(`(?i)^(?:every\s*day|daily|each\s+day)\s+(at\s+.+)$`)
	weekdayPattern      = regexp.MustCompile(`(?i)^every\s+weekday\s+(at\s+.+)$`)
	weeklyPattern       = regexp.MustCompile(`(?i)^every\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\s+(at\s+.+)$`)
	monthEdgePattern    = regexp.MustCompile(`(?i)^(first|last)\s+day\s+of\s+(?:the\s+)?month\s+(at\s+.+)$`)
	clockPattern        = regexp.MustCompile(`(?i)^at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

var weekdayNumbers = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

// ParseSchedule normalizes a natural-language schedule (or raw 5-field cron)
// to its canonical cron form.
func ParseSchedule(text string) (*Schedule, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	if m := everyMinutesPattern.FindStringSubmatch(trimmed); m != nil {
		n, err := intervalValue(m[1], 59)
		if err != nil {
			return nil, fmt.Errorf("bad minute interval in %q: %w", text, err)
		}
		return newSchedule(text, fmt.Sprintf("*/%d * * * *", n), false)
	}
	if m := everyHoursPattern.FindStringSubmatch(trimmed); m != nil {
		n, err := intervalValue(m[1], 23)
		if err != nil {
			return nil, fmt.Errorf("bad hour interval in %q: %w", text, err)
		}
		return newSchedule(text, fmt.Sprintf("0 */%d * * *", n), false)
	}
	if m := dailyPattern.FindStringSubmatch(trimmed); m != nil {
		hour, minute, err := timeOfDay(m[1])
		if err != nil {
			return nil, err
		}
		return newSchedule(text, fmt.Sprintf("%d %d * * *", minute, hour), false)
	}
	if m := weekdayPattern.FindStringSubmatch(trimmed); m != nil {
		hour, minute, err := timeOfDay(m[1])
		if err != nil {
			return nil, err
		}
		return newSchedule(text, fmt.Sprintf("%d %d * * 1-5", minute, hour), false)
	}
	if m := weeklyPattern.FindStringSubmatch(trimmed); m != nil {
		hour, minute, err := timeOfDay(m[2])
		if err != nil {
			return nil, err
		}
		dow := weekdayNumbers[strings.ToLower(m[1])]
		return newSchedule(text, fmt.Sprintf("%d %d * * %d", minute, hour, dow), false)
	}
	if m := monthEdgePattern.FindStringSubmatch(trimmed); m != nil {
		hour, minute, err := timeOfDay(m[2])
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(m[1], "first") {
			return newSchedule(text, fmt.Sprintf("%d %d 1 * *", minute, hour), false)
		}
		return newSchedule(text, fmt.Sprintf("%d %d 28-31 * *", minute, hour), true)
	}

	// Raw 5-field cron.
	if len(strings.Fields(trimmed)) == 5 {
		return newSchedule(text, trimmed, false)
	}
	return nil, fmt.Errorf("unrecognized schedule %q", text)
}

func newSchedule(text, expr string, lastDay bool) (*Schedule, error) {
	if _, err := cronParser.Parse(expr); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", text, err)
	}
	return &Schedule{Text: text, CronExpr: expr, lastDayOnly: lastDay}, nil
}

// Next returns the smallest strictly-future firing time after the given
// instant, in that instant's location.
func (s *Schedule) Next(after time.Time) time.Time {
	sched, err := cronParser.Parse(s.CronExpr)
	if err != nil {
		return time.Time{}
	}
	t := after
	for i := 0; i < 48; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			return t
		}
		if !s.lastDayOnly || isLastDayOfMonth(t) {
			return t
		}
	}
	return time.Time{}
}

// NextRun recomputes a stored task's next firing time from its canonical
// cron and original schedule text.
func NextRun(cronExpr, scheduleText string, loc *time.Location, after time.Time) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Schedule{
		Text:        scheduleText,
		CronExpr:    cronExpr,
		lastDayOnly: strings.Contains(strings.ToLower(scheduleText), "last day"),
	}
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return time.Time{}, fmt.Errorf("invalid cron %q: %w", cronExpr, err)
	}
	next := s.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("schedule %q never fires", scheduleText)
	}
	return next, nil
}

func isLastDayOfMonth(t time.Time) bool {
	return t.AddDate(0, 0, 1).Month() != t.Month()
}

func intervalValue(s string, max int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > max {
		return 0, fmt.Errorf("interval %d out of range 1..%d", n, max)
	}
	return n, nil
}

// timeOfDay resolves an "at ..." phrase to hour and minute. Plain clock
// times are matched directly; anything else goes through the natural
// language date parser.
func timeOfDay(phrase string) (hour, minute int, err error) {
	phrase = strings.TrimSpace(phrase)
	if m := clockPattern.FindStringSubmatch(phrase); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		switch strings.ToLower(m[3]) {
		case "pm":
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
		if hour > 23 || minute > 59 {
			return 0, 0, fmt.Errorf("invalid clock time %q", phrase)
		}
		return hour, minute, nil
	}

	base := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	r, err := whenParser.Parse(phrase, base)
	if err != nil || r == nil {
		return 0, 0, fmt.Errorf("unrecognized time %q", phrase)
	}
	return r.Time.Hour(), r.Time.Minute(), nil
}
