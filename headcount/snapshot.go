// Package headcount aggregates participation, user, and work-location state
// into the summary payload pushed to dashboard clients.
package headcount

import (
	"context"
	"time"

	"mealtrack/core"
)

type (
	// MealBreakdown summarizes one meal type for one date.
	MealBreakdown struct {
		OptedIn    int                       `json:"opted_in"`
		OptedOut   int                       `json:"opted_out"`
		ByTeam     map[string]int            `json:"by_team"`
		ByLocation map[core.LocationType]int `json:"by_location"`
	}

	// Snapshot is the full headcount state for a date. It is derived, never
	// stored, and rebuilt from scratch on every emit.
	Snapshot struct {
		Date               string                   `json:"date"`
		TotalUsers         int                      `json:"total_users"`
		TotalParticipating int                      `json:"total_participating"`
		Meals              map[string]MealBreakdown `json:"meals"`
		Timestamp          *time.Time               `json:"timestamp"`
	}

	// DataSource is the slice of the persistence layer the builder reads.
	DataSource interface {
		ListParticipation(ctx context.Context) ([]*core.MealParticipation, error)
		ListUsers(ctx context.Context) ([]*core.User, error)
		EnabledMeals(ctx context.Context) (map[core.MealType]bool, error)
		WorkLocationsByDate(ctx context.Context, date string) ([]*core.WorkLocation, error)
	}

	// ChangeClock reports when the headcount channel last saw a change.
	ChangeClock interface {
		LastChange() time.Time
	}
)

// BuildSnapshot aggregates the current state for date. Records for disabled
// meal types stay in storage but are excluded from the result; users without
// a team land in "Unknown" and users without a work-location record for the
// date count as Office.
func BuildSnapshot(ctx context.Context, src DataSource, clock ChangeClock, date string) (*Snapshot, error) {
	participation, err := src.ListParticipation(ctx)
	if err != nil {
		return nil, err
	}
	users, err := src.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	config, err := src.EnabledMeals(ctx)
	if err != nil {
		return nil, err
	}
	locations, err := src.WorkLocationsByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	userByID := make(map[string]*core.User, len(users))
	for _, u := range users {
		userByID[u.ID] = u
	}
	locationByUser := make(map[string]core.LocationType, len(locations))
	for _, wl := range locations {
		locationByUser[wl.UserID] = wl.Location
	}

	meals := make(map[string]MealBreakdown)
	for mt, enabled := range config {
		if enabled {
			meals[string(mt)] = MealBreakdown{
				ByTeam:     map[string]int{},
				ByLocation: map[core.LocationType]int{core.LocationOffice: 0, core.LocationWFH: 0},
			}
		}
	}

	participating := make(map[string]bool)
	for _, record := range participation {
		if record.Date != date {
			continue
		}
		if record.IsParticipating {
			participating[record.UserID] = true
		}
		bucket, enabled := meals[string(record.MealType)]
		if !enabled {
			continue
		}

		if record.IsParticipating {
			team := "Unknown"
			if u := userByID[record.UserID]; u != nil && u.Team != "" {
				team = u.Team
			}
			location := core.LocationOffice
			if loc, ok := locationByUser[record.UserID]; ok && loc == core.LocationWFH {
				location = core.LocationWFH
			}
			bucket.OptedIn++
			bucket.ByTeam[team]++
			bucket.ByLocation[location]++
		} else {
			bucket.OptedOut++
		}
		meals[string(record.MealType)] = bucket
	}

	snapshot := &Snapshot{
		Date:               date,
		TotalUsers:         len(users),
		TotalParticipating: len(participating),
		Meals:              meals,
	}
	if last := clock.LastChange(); !last.IsZero() {
		snapshot.Timestamp = &last
	}
	return snapshot, nil
}
