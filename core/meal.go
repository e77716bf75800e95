package core

import (
	"context"
	"time"
)

type MealType string

const (
	MealLunch          MealType = "lunch"
	MealSnacks         MealType = "snacks"
	MealIftar          MealType = "iftar"
	MealEventDinner    MealType = "event_dinner"
	MealOptionalDinner MealType = "optional_dinner"
)

// AllMealTypes is the fixed set of meals the organization serves, in the
// order they are presented to clients.
var AllMealTypes = []MealType{
	MealLunch,
	MealSnacks,
	MealIftar,
	MealEventDinner,
	MealOptionalDinner,
}

// DefaultOptedInMeals are the meals a user participates in unless they opt out.
var DefaultOptedInMeals = map[MealType]bool{
	MealLunch:          true,
	MealSnacks:         true,
	MealOptionalDinner: true,
}

// AdminControlledMeals must be enabled by an admin before they appear to
// employees. All other meals are always enabled and cannot be toggled.
var AdminControlledMeals = map[MealType]bool{
	MealIftar:       true,
	MealEventDinner: true,
}

// ValidMealType reports whether s names a known meal type.
func ValidMealType(s string) bool {
	for _, mt := range AllMealTypes {
		if string(mt) == s {
			return true
		}
	}
	return false
}

type (
	// MealParticipation records one user's opt-in/opt-out for one meal on one
	// date. There is at most one record per (user, meal type, date).
	MealParticipation struct {
		ID              string    `json:"id"`
		UserID          string    `json:"userId"`
		MealType        MealType  `json:"mealType"`
		Date            string    `json:"date"` // YYYY-MM-DD
		IsParticipating bool      `json:"isParticipating"`
		UpdatedBy       string    `json:"updatedBy,omitempty"`
		UpdatedAt       time.Time `json:"updatedAt"`
		Reason          string    `json:"reason,omitempty"`
	}

	ParticipationStore interface {
		// ListParticipation returns every participation record across all dates.
		ListParticipation(ctx context.Context) ([]*MealParticipation, error)

		// UserParticipation returns the user's records for one date, seeding
		// the per-day defaults first if the user has none for that date.
		UserParticipation(ctx context.Context, userID, date string) ([]*MealParticipation, error)

		// UpdateParticipation upserts the record for (userID, date, mealType)
		// and returns the stored result.
		UpdateParticipation(ctx context.Context, userID, date string, mealType MealType, isParticipating bool, updatedBy, reason string) (*MealParticipation, error)
	}

	// MealConfigStore holds which meal types are currently enabled.
	MealConfigStore interface {
		EnabledMeals(ctx context.Context) (map[MealType]bool, error)
		SetMealEnabled(ctx context.Context, mealType MealType, enabled bool) (map[MealType]bool, error)
	}
)

// DefaultMealConfig enables every meal except the admin-controlled ones.
func DefaultMealConfig() map[MealType]bool {
	cfg := make(map[MealType]bool, len(AllMealTypes))
	for _, mt := range AllMealTypes {
		cfg[mt] = !AdminControlledMeals[mt]
	}
	return cfg
}

// DefaultParticipation builds the initial record set for a user on a date:
// one record per meal type, participating when the meal is in the default
// opt-in set. IDs are left empty for the store to assign.
func DefaultParticipation(userID, date string) []*MealParticipation {
	records := make([]*MealParticipation, 0, len(AllMealTypes))
	for _, mt := range AllMealTypes {
		records = append(records, &MealParticipation{
			UserID:          userID,
			MealType:        mt,
			Date:            date,
			IsParticipating: DefaultOptedInMeals[mt],
			UpdatedAt:       time.Now(),
		})
	}
	return records
}
