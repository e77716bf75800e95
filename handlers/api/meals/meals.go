// Package meals exposes meal configuration, participation reads, and the
// guarded participation write paths. Every successful mutation ends with a
// single headcount notify so connected dashboards refresh.
package meals

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"mealtrack/core"
	"mealtrack/middleware"
	"mealtrack/notify"
	"mealtrack/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const cutoffMessage = "Meal participation changes are locked after 9:00 PM. You can update again tomorrow morning."

type participationResponse struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	MealType        string `json:"meal_type"`
	Date            string `json:"date"`
	IsParticipating bool   `json:"is_participating"`
	UpdatedBy       string `json:"updated_by,omitempty"`
	UpdatedAt       string `json:"updated_at"`
	Reason          string `json:"reason,omitempty"`
}

func toResponse(r *core.MealParticipation) participationResponse {
	return participationResponse{
		ID:              r.ID,
		UserID:          r.UserID,
		MealType:        string(r.MealType),
		Date:            r.Date,
		IsParticipating: r.IsParticipating,
		UpdatedBy:       r.UpdatedBy,
		UpdatedAt:       r.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Reason:          r.Reason,
	}
}

// blockedDate consults the special-day calendar for date. A missing special
// day means writes are allowed.
func blockedDate(ctx context.Context, store core.SpecialDayStore, date string) (bool, string, error) {
	sd, err := store.SpecialDayByDate(ctx, date)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	blocked, reason := core.ParticipationBlocked(sd)
	return blocked, reason, nil
}

func validEnabledMeal(ctx context.Context, store core.MealConfigStore, mealType string) (core.MealType, error) {
	if !core.ValidMealType(mealType) {
		return "", fmt.Errorf("Invalid meal type '%s'", mealType)
	}
	enabled, err := store.EnabledMeals(ctx)
	if err != nil {
		return "", err
	}
	mt := core.MealType(mealType)
	if !enabled[mt] {
		return "", fmt.Errorf("The meal type '%s' is not currently enabled", mealType)
	}
	return mt, nil
}

// Meal configuration

type configResponse struct {
	EnabledMeals map[core.MealType]bool `json:"enabled_meals"`
}

func HandleGetConfig(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		config, err := store.EnabledMeals(r.Context())
		if err != nil {
			logrus.WithError(err).Error("Failed to load meal config")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load meal config"})
			return
		}
		render.JSON(w, r, configResponse{EnabledMeals: config})
	}
}

func HandleUpdateConfig(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MealType string `json:"meal_type"`
			Enabled  bool   `json:"enabled"`
		}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		if !core.ValidMealType(req.MealType) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": fmt.Sprintf("Invalid meal type '%s'", req.MealType)})
			return
		}
		mt := core.MealType(req.MealType)
		if !core.AdminControlledMeals[mt] {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": fmt.Sprintf("%s is always enabled and cannot be toggled", req.MealType)})
			return
		}

		config, err := store.SetMealEnabled(r.Context(), mt, req.Enabled)
		if err != nil {
			logrus.WithError(err).Error("Failed to update meal config")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to update meal config"})
			return
		}
		render.JSON(w, r, configResponse{EnabledMeals: config})
	}
}

// Participation reads

type userMealsResponse struct {
	Date         string                  `json:"date"`
	Meals        []participationResponse `json:"meals"`
	CutoffPassed bool                    `json:"cutoff_passed"`
}

func writeUserMeals(w http.ResponseWriter, r *http.Request, store stores.Store, userID, date string) {
	records, err := store.UserParticipation(r.Context(), userID, date)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to load participation")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Failed to load participation"})
		return
	}
	enabled, err := store.EnabledMeals(r.Context())
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Failed to load meal config"})
		return
	}

	meals := make([]participationResponse, 0, len(records))
	for _, record := range records {
		if enabled[record.MealType] {
			meals = append(meals, toResponse(record))
		}
	}
	render.JSON(w, r, userMealsResponse{
		Date:         date,
		Meals:        meals,
		CutoffPassed: core.CutoffPassedNow(),
	})
}

func HandleGetTodayMeals(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}
		writeUserMeals(w, r, store, claims.Subject, core.Today())
	}
}

func HandleGetUserMeals(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}
		userID := chi.URLParam(r, "user_id")
		if claims.Subject != userID && claims.Role != core.RoleTeamLead && claims.Role != core.RoleAdmin {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "You don't have permission to view this user's meals"})
			return
		}
		if _, err := store.GetUser(r.Context(), userID); err != nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "User not found"})
			return
		}
		date := r.URL.Query().Get("date")
		if date == "" {
			date = core.Today()
		}
		if !core.ValidDate(date) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Date must be in YYYY-MM-DD format"})
			return
		}
		writeUserMeals(w, r, store, userID, date)
	}
}

// Single update

func HandleUpdateParticipation(store stores.Store, hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		userID := chi.URLParam(r, "user_id")
		date := chi.URLParam(r, "date")
		mealType := chi.URLParam(r, "meal_type")

		if claims.Subject != userID && claims.Role != core.RoleTeamLead && claims.Role != core.RoleAdmin {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "You don't have permission to update this user's meals"})
			return
		}
		if !core.ValidDate(date) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Date must be in YYYY-MM-DD format"})
			return
		}

		blocked, reason, err := blockedDate(r.Context(), store, date)
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to check special days"})
			return
		}
		if blocked {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": reason})
			return
		}

		// Employees cannot change today's meals once the cutoff has passed;
		// team leads, admins, and non-today dates are exempt.
		if claims.Role == core.RoleEmployee && date == core.Today() && core.CutoffPassedNow() {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": cutoffMessage})
			return
		}

		if _, err := store.GetUser(r.Context(), userID); err != nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "User not found"})
			return
		}

		mt, err := validEnabledMeal(r.Context(), store, mealType)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		var req struct {
			IsParticipating bool   `json:"is_participating"`
			Reason          string `json:"reason,omitempty"`
		}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		updated, err := store.UpdateParticipation(r.Context(), userID, date, mt, req.IsParticipating, claims.Subject, req.Reason)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"user_id": userID, "meal_type": mealType}).Error("Failed to update participation")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to update participation"})
			return
		}

		hub.NotifyHeadcount()
		render.JSON(w, r, toResponse(updated))
	}
}

// Admin/team-lead override

func HandleAdminOverride(store stores.Store, hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req struct {
			UserID          string `json:"user_id"`
			MealType        string `json:"meal_type"`
			IsParticipating bool   `json:"is_participating"`
			Reason          string `json:"reason,omitempty"`
		}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
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

		today := core.Today()
		blocked, reason, err := blockedDate(r.Context(), store, today)
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to check special days"})
			return
		}
		if blocked {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": reason})
			return
		}

		mt, err := validEnabledMeal(r.Context(), store, req.MealType)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		updated, err := store.UpdateParticipation(r.Context(), req.UserID, today, mt, req.IsParticipating, claims.Subject, req.Reason)
		if err != nil {
			logrus.WithError(err).WithField("user_id", req.UserID).Error("Failed to override participation")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to update participation"})
			return
		}

		hub.NotifyHeadcount()
		render.JSON(w, r, toResponse(updated))
	}
}

// Batch override

type batchItemResult struct {
	UserID   string `json:"user_id"`
	MealType string `json:"meal_type"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

type batchResponse struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Results   []batchItemResult `json:"results"`
}

// HandleBatchOverride processes every item independently: one item's failure
// does not abort the others. The headcount notify fires once, and only when
// at least one item succeeded.
func HandleBatchOverride(store stores.Store, hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req struct {
			Updates []struct {
				UserID          string `json:"user_id"`
				MealType        string `json:"meal_type"`
				IsParticipating bool   `json:"is_participating"`
			} `json:"updates"`
		}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		today := core.Today()
		blocked, reason, err := blockedDate(r.Context(), store, today)
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to check special days"})
			return
		}
		if blocked {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": reason})
			return
		}

		enabled, err := store.EnabledMeals(r.Context())
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load meal config"})
			return
		}

		resp := batchResponse{Total: len(req.Updates), Results: make([]batchItemResult, 0, len(req.Updates))}
		for _, item := range req.Updates {
			result := batchItemResult{UserID: item.UserID, MealType: item.MealType}

			if err := func() error {
				target, err := store.GetUser(r.Context(), item.UserID)
				if err != nil {
					return errors.New("User not found")
				}
				if claims.Role == core.RoleTeamLead && claims.Team != target.Team {
					return errors.New("Can only update users in your team")
				}
				if !core.ValidMealType(item.MealType) {
					return fmt.Errorf("Invalid meal type '%s'", item.MealType)
				}
				mt := core.MealType(item.MealType)
				if !enabled[mt] {
					return fmt.Errorf("The meal type '%s' is not currently enabled", item.MealType)
				}
				_, err = store.UpdateParticipation(r.Context(), item.UserID, today, mt, item.IsParticipating, claims.Subject, "")
				return err
			}(); err != nil {
				result.Success = false
				result.Message = err.Error()
				resp.Failed++
			} else {
				result.Success = true
				result.Message = "Updated"
				resp.Succeeded++
			}
			resp.Results = append(resp.Results, result)
		}

		if resp.Succeeded > 0 {
			hub.NotifyHeadcount()
		}
		render.JSON(w, r, resp)
	}
}

// Headcount reads

type headcountResponse struct {
	Date           string         `json:"date"`
	Headcount      map[string]int `json:"headcount"`
	TotalEmployees int            `json:"total_employees"`
}

// writeHeadcount reports per-meal participating counts for a date, limited
// to enabled meals, optionally filtered to one team.
func writeHeadcount(w http.ResponseWriter, r *http.Request, store stores.Store, date, teamFilter string) {
	participation, err := store.ListParticipation(r.Context())
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Failed to load participation"})
		return
	}
	users, err := store.ListUsers(r.Context())
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Failed to load users"})
		return
	}
	enabled, err := store.EnabledMeals(r.Context())
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Failed to load meal config"})
		return
	}

	userByID := make(map[string]*core.User, len(users))
	totalActive := 0
	for _, u := range users {
		userByID[u.ID] = u
		if u.IsActive && (teamFilter == "" || u.Team == teamFilter) {
			totalActive++
		}
	}

	counts := make(map[string]int)
	for mt, on := range enabled {
		if on {
			counts[string(mt)] = 0
		}
	}
	for _, record := range participation {
		if record.Date != date || !record.IsParticipating {
			continue
		}
		if _, on := counts[string(record.MealType)]; !on {
			continue
		}
		if teamFilter != "" {
			u := userByID[record.UserID]
			if u == nil || u.Team != teamFilter {
				continue
			}
		}
		counts[string(record.MealType)]++
	}

	render.JSON(w, r, headcountResponse{Date: date, Headcount: counts, TotalEmployees: totalActive})
}

func HandleHeadcountToday(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHeadcount(w, r, store, core.Today(), "")
	}
}

func HandleHeadcountByDate(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := chi.URLParam(r, "date")
		if !core.ValidDate(date) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Date must be in YYYY-MM-DD format"})
			return
		}
		writeHeadcount(w, r, store, date, "")
	}
}

func HandleTeamHeadcountToday(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}
		writeHeadcount(w, r, store, core.Today(), claims.Team)
	}
}

func HandleTeamHeadcountByDate(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}
		date := chi.URLParam(r, "date")
		if !core.ValidDate(date) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Date must be in YYYY-MM-DD format"})
			return
		}
		writeHeadcount(w, r, store, date, claims.Team)
	}
}
