package core

import (
	"context"
	"fmt"
	"time"
)

type DayType string

const (
	DayOfficeClosed      DayType = "officeclosed"
	DayGovernmentHoliday DayType = "governmentholiday"
	DaySpecialEvent      DayType = "specialevent"
)

// ValidDayType reports whether s names a known day type.
func ValidDayType(s string) bool {
	switch DayType(s) {
	case DayOfficeClosed, DayGovernmentHoliday, DaySpecialEvent:
		return true
	}
	return false
}

type (
	// SpecialDay marks a calendar date as closed, a holiday, or an event.
	// At most one special day exists per date.
	SpecialDay struct {
		ID        string    `json:"id"`
		Date      string    `json:"date"` // YYYY-MM-DD
		DayType   DayType   `json:"dayType"`
		Note      string    `json:"note,omitempty"`
		CreatedBy string    `json:"createdBy"`
		CreatedAt time.Time `json:"createdAt"`
	}

	SpecialDayStore interface {
		// CreateSpecialDay fails when the date already has a special day.
		CreateSpecialDay(ctx context.Context, sd *SpecialDay) error
		SpecialDayByDate(ctx context.Context, date string) (*SpecialDay, error)
		ListSpecialDays(ctx context.Context, start, end string) ([]*SpecialDay, error)

		// DeleteSpecialDay reports whether a record was removed.
		DeleteSpecialDay(ctx context.Context, id string) (bool, error)
	}
)

// ParticipationBlocked decides whether a special day forbids all meal
// participation writes for its date. Office-closed and government-holiday days
// block with a human-readable reason; special events and a nil day do not.
func ParticipationBlocked(sd *SpecialDay) (bool, string) {
	if sd == nil {
		return false, ""
	}
	var label string
	switch sd.DayType {
	case DayOfficeClosed:
		label = "Office Closed"
	case DayGovernmentHoliday:
		label = "Government Holiday"
	default:
		return false, ""
	}
	reason := fmt.Sprintf("Meal participation is not available: %s", label)
	if sd.Note != "" {
		reason += " — " + sd.Note
	}
	return true, reason
}
