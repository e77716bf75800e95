package core

import (
	"context"
	"time"
)

type Role string

const (
	RoleEmployee Role = "employee"
	RoleTeamLead Role = "team_lead"
	RoleAdmin    Role = "admin"
)

type (
	User struct {
		ID           string    `json:"id"`
		Name         string    `json:"name"`
		Email        string    `json:"email"`
		PasswordHash string    `json:"-"`
		Role         Role      `json:"role"`
		Team         string    `json:"team,omitempty"`
		IsActive     bool      `json:"isActive"`
		CreatedAt    time.Time `json:"createdAt"`
	}

	// UserStore defines the persistence layer for user accounts.
	UserStore interface {
		ListUsers(ctx context.Context) ([]*User, error)
		GetUser(ctx context.Context, id string) (*User, error)
		GetUserByEmail(ctx context.Context, email string) (*User, error)

		// CreateUser fails if another user already holds the same email.
		CreateUser(ctx context.Context, user *User) error
	}
)

// CanActFor reports whether the user may read or mutate records belonging to
// userID. Users always act for themselves; team leads and admins act for
// anyone (team membership is enforced separately where it applies).
func (u *User) CanActFor(userID string) bool {
	if u.ID == userID {
		return true
	}
	return u.Role == RoleTeamLead || u.Role == RoleAdmin
}
