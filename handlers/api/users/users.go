// Package users serves read-only user directory endpoints.
package users

import (
	"net/http"
	"sort"

	"mealtrack/core"
	"mealtrack/middleware"
	"mealtrack/stores"

	"github.com/go-chi/render"
)

// HandleList returns the active user directory. Team leads see only their
// own team; admins see everyone.
func HandleList(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		users, err := store.ListUsers(r.Context())
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load users"})
			return
		}

		visible := make([]*core.User, 0, len(users))
		for _, u := range users {
			if !u.IsActive {
				continue
			}
			if claims.Role == core.RoleTeamLead && u.Team != claims.Team {
				continue
			}
			visible = append(visible, u)
		}
		sort.Slice(visible, func(i, j int) bool { return visible[i].Name < visible[j].Name })

		render.JSON(w, r, map[string]interface{}{"users": visible})
	}
}

func HandleMe(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		user, err := store.GetUser(r.Context(), claims.Subject)
		if err != nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "User not found"})
			return
		}
		render.JSON(w, r, user)
	}
}

// HandleTeams returns the distinct team names of active users.
func HandleTeams(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := store.ListUsers(r.Context())
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load users"})
			return
		}

		seen := make(map[string]bool)
		teams := make([]string, 0)
		for _, u := range users {
			if u.IsActive && u.Team != "" && !seen[u.Team] {
				seen[u.Team] = true
				teams = append(teams, u.Team)
			}
		}
		sort.Strings(teams)

		render.JSON(w, r, map[string]interface{}{"teams": teams})
	}
}
