// Package specialdays manages the calendar of office closures, government
// holidays, and special events that gate meal participation.
package specialdays

import (
	"errors"
	"net/http"
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

func HandleCreate(store stores.Store, hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req struct {
			Date    string `json:"date"`
			DayType string `json:"day_type"`
			Note    string `json:"note,omitempty"`
		}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		if !core.ValidDate(req.Date) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Date must be in YYYY-MM-DD format"})
			return
		}
		if !core.ValidDayType(req.DayType) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Day type must be one of officeclosed, governmentholiday, specialevent"})
			return
		}

		sd := &core.SpecialDay{
			ID:        ulid.Make().String(),
			Date:      req.Date,
			DayType:   core.DayType(req.DayType),
			Note:      req.Note,
			CreatedBy: claims.Subject,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.CreateSpecialDay(r.Context(), sd); err != nil {
			if errors.Is(err, core.ErrDuplicate) {
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, map[string]string{"error": "A special day already exists for this date"})
				return
			}
			logrus.WithError(err).WithField("date", req.Date).Error("Failed to create special day")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create special day"})
			return
		}

		// Blocking or unblocking a date changes what dashboards should show.
		hub.NotifyHeadcount()

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, sd)
	}
}

func HandleGetByDate(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = core.Today()
		}
		if !core.ValidDate(date) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Date must be in YYYY-MM-DD format"})
			return
		}

		sd, err := store.SpecialDayByDate(r.Context(), date)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.JSON(w, r, map[string]interface{}{"date": date, "special_day": nil})
				return
			}
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load special day"})
			return
		}
		render.JSON(w, r, map[string]interface{}{"date": date, "special_day": sd})
	}
}

func HandleListRange(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := r.URL.Query().Get("start")
		end := r.URL.Query().Get("end")
		if start != "" && !core.ValidDate(start) || end != "" && !core.ValidDate(end) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Dates must be in YYYY-MM-DD format"})
			return
		}

		days, err := store.ListSpecialDays(r.Context(), start, end)
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load special days"})
			return
		}
		render.JSON(w, r, map[string]interface{}{"special_days": days})
	}
}

func HandleDelete(store stores.Store, hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		deleted, err := store.DeleteSpecialDay(r.Context(), id)
		if err != nil {
			logrus.WithError(err).WithField("id", id).Error("Failed to delete special day")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to delete special day"})
			return
		}
		if !deleted {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Special day not found"})
			return
		}

		hub.NotifyHeadcount()
		render.JSON(w, r, map[string]string{"message": "Special day deleted"})
	}
}
