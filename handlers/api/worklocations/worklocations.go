// Package worklocations tracks whether users are in the office or working
// from home on a given date.
package worklocations

import (
	"net/http"

	"mealtrack/core"
	"mealtrack/middleware"
	"mealtrack/notify"
	"mealtrack/stores"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// HandleSetMyLocation records the caller's own location for today.
func HandleSetMyLocation(store stores.Store, hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req struct {
			Location string `json:"location"`
		}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		if !core.ValidLocation(req.Location) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Location must be Office or WFH"})
			return
		}

		loc, err := store.SetWorkLocation(r.Context(), claims.Subject, core.Today(), core.LocationType(req.Location), claims.Subject)
		if err != nil {
			logrus.WithError(err).WithField("user_id", claims.Subject).Error("Failed to set work location")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to set work location"})
			return
		}

		// The headcount snapshot buckets by location, so a move between
		// Office and WFH changes what dashboards show.
		hub.NotifyHeadcount()
		render.JSON(w, r, loc)
	}
}

// HandleAdminSetLocation records a location for any user and date. Team leads
// are limited to members of their own team.
func HandleAdminSetLocation(store stores.Store, hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req struct {
			UserID   string `json:"user_id"`
			Date     string `json:"date,omitempty"`
			Location string `json:"location"`
		}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		date := req.Date
		if date == "" {
			date = core.Today()
		}
		if !core.ValidDate(date) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Date must be in YYYY-MM-DD format"})
			return
		}
		if !core.ValidLocation(req.Location) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Location must be Office or WFH"})
			return
		}

		target, err := store.GetUser(r.Context(), req.UserID)
		if err != nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "User not found"})
			return
		}
		if claims.Role == core.RoleTeamLead && claims.Team != target.Team {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "Can only update users in your team"})
			return
		}

		loc, err := store.SetWorkLocation(r.Context(), req.UserID, date, core.LocationType(req.Location), claims.Subject)
		if err != nil {
			logrus.WithError(err).WithField("user_id", req.UserID).Error("Failed to set work location")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to set work location"})
			return
		}

		hub.NotifyHeadcount()
		render.JSON(w, r, loc)
	}
}

func HandleGetLocations(store stores.Store) http.HandlerFunc {
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

		locations, err := store.WorkLocationsByDate(r.Context(), date)
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load work locations"})
			return
		}
		render.JSON(w, r, map[string]interface{}{"date": date, "locations": locations})
	}
}
