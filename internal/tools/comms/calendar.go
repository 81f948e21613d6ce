package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"coco/internal/logging"
	"coco/internal/tools"
)

// Event is one calendar entry.
type Event struct {
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	Location string    `json:"location,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// Calendar is a small local event store backed by one JSON file under the
// workspace. It stands in for an external calendar provider.
type Calendar struct {
	mu   sync.Mutex
	path string
}

// NewCalendar opens (or lazily creates) the workspace calendar.
func NewCalendar(workspace string) *Calendar {
	return &Calendar{path: filepath.Join(workspace, ".coco", "calendar.json")}
}

func (c *Calendar) load() ([]Event, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Calendar) save(events []Event) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o644)
}

// Add appends an event, keeping the file sorted by start time.
func (c *Calendar) Add(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	events, err := c.load()
	if err != nil {
		return err
	}
	events = append(events, ev)
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return c.save(events)
}

// Upcoming returns events starting in [from, from+window), sorted.
func (c *Calendar) Upcoming(from time.Time, window time.Duration) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events, err := c.load()
	if err != nil {
		return nil, err
	}
	var out []Event
	until := from.Add(window)
	for _, ev := range events {
		if !ev.Start.Before(from) && ev.Start.Before(until) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// CalendarCreateEventTool adds an event to the local calendar.
func CalendarCreateEventTool(cal *Calendar) *tools.Tool {
	return &tools.Tool{
		Name:        "calendar_create_event",
		Description: "Add an event to the calendar",
		Category:    tools.CategoryComms,
		Schema: tools.Schema{
			Required: []string{"title", "start"},
			Properties: map[string]tools.Property{
				"title":    {Type: "string", Description: "Event title"},
				"start":    {Type: "string", Description: "Start time, RFC3339 (e.g. 2026-09-01T10:00:00Z)"},
				"location": {Type: "string", Description: "Where the event takes place"},
				"notes":    {Type: "string", Description: "Free-form notes"},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			title, _ := input["title"].(string)
			startRaw, _ := input["start"].(string)
			start, err := time.Parse(time.RFC3339, startRaw)
			if err != nil {
				return "", fmt.Errorf("%w: start must be RFC3339: %v", tools.ErrInvalidInput, err)
			}
			location, _ := input["location"].(string)
			notes, _ := input["notes"].(string)

			if err := cal.Add(Event{Title: title, Start: start, Location: location, Notes: notes}); err != nil {
				return "", fmt.Errorf("%w: calendar write: %v", tools.ErrInternal, err)
			}
			logging.Tools("calendar_create_event: %q at %s", title, start.Format(time.RFC3339))
			return fmt.Sprintf("Added %q on %s", title, start.Format("Mon Jan 2 15:04")), nil
		},
	}
}

// CalendarListEventsTool lists events within the next N days.
func CalendarListEventsTool(cal *Calendar, now func() time.Time) *tools.Tool {
	if now == nil {
		now = time.Now
	}
	return &tools.Tool{
		Name:        "calendar_list_events",
		Description: "List upcoming calendar events",
		Category:    tools.CategoryComms,
		Schema: tools.Schema{
			Properties: map[string]tools.Property{
				"days": {Type: "integer", Description: "Look-ahead window in days (default 7)", Default: 7},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			days := 7
			if f, ok := input["days"].(float64); ok && f > 0 {
				days = int(f)
			}
			events, err := cal.Upcoming(now(), time.Duration(days)*24*time.Hour)
			if err != nil {
				return "", fmt.Errorf("%w: calendar read: %v", tools.ErrInternal, err)
			}
			if len(events) == 0 {
				return fmt.Sprintf("No events in the next %d days", days), nil
			}
			var sb strings.Builder
			for _, ev := range events {
				fmt.Fprintf(&sb, "- %s: %s", ev.Start.Format("Mon Jan 2 15:04"), ev.Title)
				if ev.Location != "" {
					sb.WriteString(" @ " + ev.Location)
				}
				sb.WriteByte('\n')
			}
			return sb.String(), nil
		},
	}
}

// RegisterAll registers the comms tools.
func RegisterAll(registry *tools.Registry, workspace string) error {
	cal := NewCalendar(workspace)
	all := []*tools.Tool{
		SendEmailTool(),
		CalendarCreateEventTool(cal),
		CalendarListEventsTool(cal, nil),
	}
	for _, tool := range all {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
