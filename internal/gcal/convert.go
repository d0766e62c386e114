package gcal

import (
	"time"

	calendar "google.golang.org/api/calendar/v3"

	"github.com/fieldrelay/fieldrelay/internal/model"
)

const dateOnlyLayout = "2006-01-02"

// toEvent normalises a provider event into the engine's representation.
// Cancelled events arrive as tombstones with little more than id and status;
// their empty times are fine because the reconciler never schedules them.
func toEvent(item *calendar.Event) model.Event {
	ev := model.Event{
		ID:          item.Id,
		Status:      item.Status,
		Summary:     item.Summary,
		Description: item.Description,
	}
	if item.Organizer != nil {
		ev.OrganizerEmail = item.Organizer.Email
	}

	var startAllDay, endAllDay bool
	ev.Start, startAllDay = parseEventTime(item.Start)
	ev.End, endAllDay = parseEventTime(item.End)
	ev.AllDay = startAllDay || endAllDay

	// All-day events carry an exclusive end date: a one-day event on the
	// 10th is delivered with end.date = the 11th. Normalise to the last
	// day the event actually covers.
	if endAllDay && ev.End != nil {
		inclusive := ev.End.AddDate(0, 0, -1)
		ev.End = &inclusive
	}

	return ev
}

// parseEventTime reads an EventDateTime, which carries either a full
// timestamp or a date-only value. The second return reports the date-only
// case.
func parseEventTime(edt *calendar.EventDateTime) (*time.Time, bool) {
	if edt == nil {
		return nil, false
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return nil, false
		}
		return &t, false
	}
	if edt.Date != "" {
		t, err := time.Parse(dateOnlyLayout, edt.Date)
		if err != nil {
			return nil, false
		}
		return &t, true
	}
	return nil, false
}
