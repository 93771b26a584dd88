package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// DateLayout is the format of a schedule day key.
const DateLayout = "2006-01-02"

// Hours are the scheduler's time slots, one per hour from 8 AM to 7 PM.
var Hours = []string{
	"8:00 AM", "9:00 AM", "10:00 AM", "11:00 AM", "12:00 PM", "1:00 PM",
	"2:00 PM", "3:00 PM", "4:00 PM", "5:00 PM", "6:00 PM", "7:00 PM",
}

// Event is the text written in one scheduler slot.
type Event struct {
	Date string // YYYY-MM-DD
	Hour string // one of Hours
	Text string
}

// SlotKey returns the record key for an hour: "8:00 AM" -> "event_8:00_AM".
func SlotKey(hour string) string {
	return "event_" + strings.ReplaceAll(hour, " ", "_")
}

// HourFromSlot is the inverse of SlotKey. It reports false for keys that do
// not name a known hour.
func HourFromSlot(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, "event_")
	if !ok {
		return "", false
	}
	hour := strings.ReplaceAll(rest, "_", " ")
	if !ValidHour(hour) {
		return "", false
	}
	return hour, true
}

// ValidHour reports whether hour is one of the scheduler's slots.
func ValidHour(hour string) bool {
	for _, h := range Hours {
		if h == hour {
			return true
		}
	}
	return false
}

// ScheduleDayPath returns the path holding a user's events for date.
func ScheduleDayPath(uid, date string) string {
	return UserPath(uid, ScheduleCollection, date)
}

// DateKey formats t as a schedule day key.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ValidateDate checks a schedule day key.
func ValidateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD (got %q)", date)
	}
	return nil
}

// Validate checks if the Event has valid field values.
func (e *Event) Validate() error {
	if err := ValidateDate(e.Date); err != nil {
		return err
	}
	if !ValidHour(e.Hour) {
		return fmt.Errorf("hour must be one of %s - %s (got %q)", Hours[0], Hours[len(Hours)-1], e.Hour)
	}
	return nil
}

// Record returns the stored form of the event.
func (e *Event) Record() store.Record {
	return store.Record{"hour": e.Hour, "text": e.Text}
}

// EventFromRecord decodes a stored slot. The hour comes from the slot key
// when the record does not carry it.
func EventFromRecord(date, key string, rec store.Record) (*Event, error) {
	hour := rec.String("hour")
	if hour == "" {
		h, ok := HourFromSlot(key)
		if !ok {
			return nil, fmt.Errorf("unknown schedule slot %q", key)
		}
		hour = h
	}
	e := &Event{Date: date, Hour: hour, Text: rec.String("text")}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("slot %s: %w", key, err)
	}
	return e, nil
}
