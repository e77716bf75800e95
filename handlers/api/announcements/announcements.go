// Package announcements lets team leads and admins draft messages and
// broadcast them to connected dashboard clients.
package announcements

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"mealtrack/core"
	"mealtrack/middleware"
	"mealtrack/notify"
	"mealtrack/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

func HandleCreateDraft(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req struct {
			Title    string `json:"title"`
			Body     string `json:"body"`
			Audience string `json:"audience,omitempty"`
		}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		req.Body = strings.TrimSpace(req.Body)
		if req.Title == "" || req.Body == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Title and body are required"})
			return
		}

		now := time.Now().UTC()
		ann := &core.Announcement{
			ID:        ulid.Make().String(),
			Title:     req.Title,
			Body:      req.Body,
			Audience:  req.Audience,
			Status:    core.AnnouncementDraft,
			CreatedBy: claims.Subject,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := store.CreateAnnouncement(r.Context(), ann); err != nil {
			logrus.WithError(err).Error("Failed to create announcement")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create announcement"})
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, ann)
	}
}

func HandleListDrafts(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		status := r.URL.Query().Get("status")
		switch core.AnnouncementStatus(status) {
		case core.AnnouncementDraft, core.AnnouncementScheduled, core.AnnouncementSent:
		default:
			status = ""
		}

		anns, err := store.ListAnnouncements(r.Context(), claims.Subject, status)
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load announcements"})
			return
		}
		render.JSON(w, r, map[string]interface{}{"announcements": anns})
	}
}

// HandlePublish promotes a draft to sent (or scheduled, when scheduled_at is
// in the future). Only the sent transition broadcasts to the stream, and only
// once: a sent announcement cannot be published again.
func HandlePublish(store stores.Store, hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		id := chi.URLParam(r, "id")
		ann, err := store.GetAnnouncement(r.Context(), id)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "Announcement not found"})
				return
			}
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load announcement"})
			return
		}
		if ann.CreatedBy != claims.Subject && claims.Role != core.RoleAdmin {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "You can only publish your own announcements"})
			return
		}

		if ann.Status == core.AnnouncementSent {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, map[string]string{"error": "Announcement has already been sent"})
			return
		}

		var req struct {
			ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := render.DecodeJSON(r.Body, &req); err != nil {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "Invalid request body"})
				return
			}
		}

		published, err := store.PublishAnnouncement(r.Context(), id, req.ScheduledAt)
		if err != nil {
			logrus.WithError(err).WithField("id", id).Error("Failed to publish announcement")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to publish announcement"})
			return
		}

		if published.Status == core.AnnouncementSent {
			payload, err := json.Marshal(map[string]interface{}{
				"id":           published.ID,
				"title":        published.Title,
				"body":         published.Body,
				"audience":     published.Audience,
				"published_at": published.PublishedAt,
				"created_by":   published.CreatedBy,
			})
			if err == nil {
				hub.NotifyAnnouncement(payload)
			}
		}

		render.JSON(w, r, published)
	}
}
