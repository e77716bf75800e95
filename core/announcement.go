package core

import (
	"context"
	"time"
)

type AnnouncementStatus string

const (
	AnnouncementDraft     AnnouncementStatus = "draft"
	AnnouncementScheduled AnnouncementStatus = "scheduled"
	AnnouncementSent      AnnouncementStatus = "sent"
)

type (
	// Announcement is a message drafted by a team lead or admin and broadcast
	// to connected dashboard clients when published.
	Announcement struct {
		ID          string             `json:"id"`
		Title       string             `json:"title"`
		Body        string             `json:"body"`
		Audience    string             `json:"audience,omitempty"`
		Status      AnnouncementStatus `json:"status"`
		ScheduledAt *time.Time         `json:"scheduledAt,omitempty"`
		PublishedAt *time.Time         `json:"publishedAt,omitempty"`
		CreatedBy   string             `json:"createdBy"`
		CreatedAt   time.Time          `json:"createdAt"`
		UpdatedAt   time.Time          `json:"updatedAt"`
	}

	AnnouncementStore interface {
		CreateAnnouncement(ctx context.Context, ann *Announcement) error
		GetAnnouncement(ctx context.Context, id string) (*Announcement, error)

		// ListAnnouncements returns announcements created by a user, newest
		// first, optionally filtered by status (empty filter returns all).
		ListAnnouncements(ctx context.Context, createdBy, statusFilter string) ([]*Announcement, error)

		// PublishAnnouncement marks the announcement scheduled (future
		// scheduledAt) or sent (nil or past). Publishing an already-sent
		// announcement is a no-op returning the stored record.
		PublishAnnouncement(ctx context.Context, id string, scheduledAt *time.Time) (*Announcement, error)
	}
)
