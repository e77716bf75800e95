package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"mealtrack/core"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL,
			team TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS participation (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			meal_type TEXT NOT NULL,
			date TEXT NOT NULL,
			is_participating INTEGER NOT NULL,
			updated_by TEXT,
			updated_at DATETIME,
			reason TEXT,
			UNIQUE (user_id, meal_type, date)
		);`,
		`CREATE TABLE IF NOT EXISTS meal_config (
			meal_type TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS special_days (
			id TEXT PRIMARY KEY,
			date TEXT NOT NULL UNIQUE,
			day_type TEXT NOT NULL,
			note TEXT,
			created_by TEXT,
			created_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS work_locations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			date TEXT NOT NULL,
			location TEXT NOT NULL,
			updated_by TEXT,
			updated_at DATETIME,
			UNIQUE (user_id, date)
		);`,
		`CREATE TABLE IF NOT EXISTS announcements (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			audience TEXT,
			status TEXT NOT NULL,
			scheduled_at DATETIME,
			published_at DATETIME,
			created_by TEXT NOT NULL,
			created_at DATETIME,
			updated_at DATETIME
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("failed to create schema: %v", err)
		}
	}

	return &sqliteStore{db}
}

// User operations

func scanUser(row interface{ Scan(...any) error }) (*core.User, error) {
	var u core.User
	var team sql.NullString
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &team, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Team = team.String
	return &u, nil
}

const userColumns = "id, name, email, password_hash, role, team, is_active, created_at"

func (s *sqliteStore) ListUsers(ctx context.Context) ([]*core.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (*core.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	return u, err
}

func (s *sqliteStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ? COLLATE NOCASE", email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user with email %s: %w", email, core.ErrNotFound)
	}
	return u, err
}

func (s *sqliteStore) CreateUser(ctx context.Context, user *core.User) error {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM users WHERE email = ? COLLATE NOCASE", user.Email).Scan(&exists)
	if err == nil {
		return fmt.Errorf("user with email %s: %w", user.Email, core.ErrDuplicate)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if user.ID == "" {
		user.ID = ulid.Make().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, name, email, password_hash, role, team, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.Team, user.IsActive, user.CreatedAt)
	return err
}

// Participation operations

const participationColumns = "id, user_id, meal_type, date, is_participating, updated_by, updated_at, reason"

func scanParticipation(row interface{ Scan(...any) error }) (*core.MealParticipation, error) {
	var p core.MealParticipation
	var updatedBy, reason sql.NullString
	if err := row.Scan(&p.ID, &p.UserID, &p.MealType, &p.Date, &p.IsParticipating, &updatedBy, &p.UpdatedAt, &reason); err != nil {
		return nil, err
	}
	p.UpdatedBy = updatedBy.String
	p.Reason = reason.String
	return &p, nil
}

func (s *sqliteStore) queryParticipation(ctx context.Context, query string, args ...any) ([]*core.MealParticipation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*core.MealParticipation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	return records, rows.Err()
}

func (s *sqliteStore) ListParticipation(ctx context.Context) ([]*core.MealParticipation, error) {
	return s.queryParticipation(ctx, "SELECT "+participationColumns+" FROM participation")
}

func (s *sqliteStore) UserParticipation(ctx context.Context, userID, date string) ([]*core.MealParticipation, error) {
	records, err := s.queryParticipation(ctx,
		"SELECT "+participationColumns+" FROM participation WHERE user_id = ? AND date = ? ORDER BY meal_type", userID, date)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		return records, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for _, r := range core.DefaultParticipation(userID, date) {
		r.ID = ulid.Make().String()
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO participation (id, user_id, meal_type, date, is_participating, updated_by, updated_at, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			r.ID, r.UserID, r.MealType, r.Date, r.IsParticipating, r.UpdatedBy, r.UpdatedAt, r.Reason); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.queryParticipation(ctx,
		"SELECT "+participationColumns+" FROM participation WHERE user_id = ? AND date = ? ORDER BY meal_type", userID, date)
}

func (s *sqliteStore) UpdateParticipation(ctx context.Context, userID, date string, mealType core.MealType, isParticipating bool, updatedBy, reason string) (*core.MealParticipation, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		"UPDATE participation SET is_participating = ?, updated_by = ?, updated_at = ?, reason = ? WHERE user_id = ? AND date = ? AND meal_type = ?",
		isParticipating, updatedBy, now, reason, userID, date, mealType)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO participation (id, user_id, meal_type, date, is_participating, updated_by, updated_at, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			ulid.Make().String(), userID, mealType, date, isParticipating, updatedBy, now, reason); err != nil {
			return nil, err
		}
	}
	return scanParticipation(s.db.QueryRowContext(ctx,
		"SELECT "+participationColumns+" FROM participation WHERE user_id = ? AND date = ? AND meal_type = ?", userID, date, mealType))
}

// Meal config operations

func (s *sqliteStore) EnabledMeals(ctx context.Context) (map[core.MealType]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT meal_type, enabled FROM meal_config")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cfg := core.DefaultMealConfig()
	for rows.Next() {
		var mt core.MealType
		var enabled bool
		if err := rows.Scan(&mt, &enabled); err != nil {
			return nil, err
		}
		cfg[mt] = enabled
	}
	return cfg, rows.Err()
}

func (s *sqliteStore) SetMealEnabled(ctx context.Context, mealType core.MealType, enabled bool) (map[core.MealType]bool, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meal_config (meal_type, enabled) VALUES (?, ?) ON CONFLICT(meal_type) DO UPDATE SET enabled = excluded.enabled",
		mealType, enabled)
	if err != nil {
		return nil, err
	}
	return s.EnabledMeals(ctx)
}

// Special day operations

const specialDayColumns = "id, date, day_type, note, created_by, created_at"

func scanSpecialDay(row interface{ Scan(...any) error }) (*core.SpecialDay, error) {
	var sd core.SpecialDay
	var note sql.NullString
	if err := row.Scan(&sd.ID, &sd.Date, &sd.DayType, &note, &sd.CreatedBy, &sd.CreatedAt); err != nil {
		return nil, err
	}
	sd.Note = note.String
	return &sd, nil
}

func (s *sqliteStore) CreateSpecialDay(ctx context.Context, sd *core.SpecialDay) error {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM special_days WHERE date = ?", sd.Date).Scan(&exists)
	if err == nil {
		return fmt.Errorf("special day for %s: %w", sd.Date, core.ErrDuplicate)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if sd.ID == "" {
		sd.ID = ulid.Make().String()
	}
	if sd.CreatedAt.IsZero() {
		sd.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO special_days (id, date, day_type, note, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		sd.ID, sd.Date, sd.DayType, sd.Note, sd.CreatedBy, sd.CreatedAt)
	return err
}

func (s *sqliteStore) SpecialDayByDate(ctx context.Context, date string) (*core.SpecialDay, error) {
	sd, err := scanSpecialDay(s.db.QueryRowContext(ctx,
		"SELECT "+specialDayColumns+" FROM special_days WHERE date = ?", date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("special day for %s: %w", date, core.ErrNotFound)
	}
	return sd, err
}

func (s *sqliteStore) ListSpecialDays(ctx context.Context, start, end string) ([]*core.SpecialDay, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+specialDayColumns+" FROM special_days WHERE date >= ? AND date <= ? ORDER BY date", start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []*core.SpecialDay
	for rows.Next() {
		sd, err := scanSpecialDay(rows)
		if err != nil {
			return nil, err
		}
		days = append(days, sd)
	}
	return days, rows.Err()
}

func (s *sqliteStore) DeleteSpecialDay(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM special_days WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Work location operations

func (s *sqliteStore) WorkLocationsByDate(ctx context.Context, date string) ([]*core.WorkLocation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, date, location, updated_by, updated_at FROM work_locations WHERE date = ?", date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []*core.WorkLocation
	for rows.Next() {
		var wl core.WorkLocation
		var updatedBy sql.NullString
		if err := rows.Scan(&wl.ID, &wl.UserID, &wl.Date, &wl.Location, &updatedBy, &wl.UpdatedAt); err != nil {
			return nil, err
		}
		wl.UpdatedBy = updatedBy.String
		locations = append(locations, &wl)
	}
	return locations, rows.Err()
}

func (s *sqliteStore) SetWorkLocation(ctx context.Context, userID, date string, location core.LocationType, updatedBy string) (*core.WorkLocation, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO work_locations (id, user_id, date, location, updated_by, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, date) DO UPDATE SET location = excluded.location, updated_by = excluded.updated_by, updated_at = excluded.updated_at`,
		ulid.Make().String(), userID, date, location, updatedBy, now)
	if err != nil {
		return nil, err
	}

	var wl core.WorkLocation
	var ub sql.NullString
	err = s.db.QueryRowContext(ctx,
		"SELECT id, user_id, date, location, updated_by, updated_at FROM work_locations WHERE user_id = ? AND date = ?",
		userID, date).Scan(&wl.ID, &wl.UserID, &wl.Date, &wl.Location, &ub, &wl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	wl.UpdatedBy = ub.String
	return &wl, nil
}

// Announcement operations

const announcementColumns = "id, title, body, audience, status, scheduled_at, published_at, created_by, created_at, updated_at"

func scanAnnouncement(row interface{ Scan(...any) error }) (*core.Announcement, error) {
	var ann core.Announcement
	var audience sql.NullString
	var scheduledAt, publishedAt sql.NullTime
	if err := row.Scan(&ann.ID, &ann.Title, &ann.Body, &audience, &ann.Status,
		&scheduledAt, &publishedAt, &ann.CreatedBy, &ann.CreatedAt, &ann.UpdatedAt); err != nil {
		return nil, err
	}
	ann.Audience = audience.String
	if scheduledAt.Valid {
		t := scheduledAt.Time
		ann.ScheduledAt = &t
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		ann.PublishedAt = &t
	}
	return &ann, nil
}

func (s *sqliteStore) CreateAnnouncement(ctx context.Context, ann *core.Announcement) error {
	if ann.ID == "" {
		ann.ID = ulid.Make().String()
	}
	now := time.Now()
	if ann.CreatedAt.IsZero() {
		ann.CreatedAt = now
	}
	ann.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO announcements ("+announcementColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		ann.ID, ann.Title, ann.Body, ann.Audience, ann.Status, ann.ScheduledAt, ann.PublishedAt,
		ann.CreatedBy, ann.CreatedAt, ann.UpdatedAt)
	return err
}

func (s *sqliteStore) GetAnnouncement(ctx context.Context, id string) (*core.Announcement, error) {
	ann, err := scanAnnouncement(s.db.QueryRowContext(ctx,
		"SELECT "+announcementColumns+" FROM announcements WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("announcement %s: %w", id, core.ErrNotFound)
	}
	return ann, err
}

func (s *sqliteStore) ListAnnouncements(ctx context.Context, createdBy, statusFilter string) ([]*core.Announcement, error) {
	query := "SELECT " + announcementColumns + " FROM announcements WHERE created_by = ?"
	args := []any{createdBy}
	if statusFilter != "" {
		query += " AND status = ?"
		args = append(args, statusFilter)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var anns []*core.Announcement
	for rows.Next() {
		ann, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		anns = append(anns, ann)
	}
	return anns, rows.Err()
}

func (s *sqliteStore) PublishAnnouncement(ctx context.Context, id string, scheduledAt *time.Time) (*core.Announcement, error) {
	ann, err := s.GetAnnouncement(ctx, id)
	if err != nil {
		return nil, err
	}
	if ann.Status == core.AnnouncementSent {
		return ann, nil
	}

	now := time.Now()
	if scheduledAt != nil && scheduledAt.After(now) {
		_, err = s.db.ExecContext(ctx,
			"UPDATE announcements SET status = ?, scheduled_at = ?, updated_at = ? WHERE id = ?",
			core.AnnouncementScheduled, scheduledAt, now, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			"UPDATE announcements SET status = ?, published_at = ?, scheduled_at = NULL, updated_at = ? WHERE id = ?",
			core.AnnouncementSent, now, now, id)
	}
	if err != nil {
		return nil, err
	}
	return s.GetAnnouncement(ctx, id)
}
