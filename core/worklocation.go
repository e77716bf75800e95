package core

import (
	"context"
	"time"
)

type LocationType string

const (
	LocationOffice LocationType = "Office"
	LocationWFH    LocationType = "WFH"
)

// ValidLocation reports whether s names a known work location.
func ValidLocation(s string) bool {
	return LocationType(s) == LocationOffice || LocationType(s) == LocationWFH
}

type (
	// WorkLocation tracks where a user is working on a specific date.
	WorkLocation struct {
		ID        string       `json:"id"`
		UserID    string       `json:"userId"`
		Date      string       `json:"date"` // YYYY-MM-DD
		Location  LocationType `json:"location"`
		UpdatedBy string       `json:"updatedBy,omitempty"`
		UpdatedAt time.Time    `json:"updatedAt"`
	}

	WorkLocationStore interface {
		WorkLocationsByDate(ctx context.Context, date string) ([]*WorkLocation, error)

		// SetWorkLocation upserts the record for (userID, date).
		SetWorkLocation(ctx context.Context, userID, date string, location LocationType, updatedBy string) (*WorkLocation, error)
	}
)
