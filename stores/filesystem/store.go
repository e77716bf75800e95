package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mealtrack/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// fsStore persists each collection as one JSON file under basePath, the same
// shape the original deployment kept its data in. A single mutex serializes
// file access; the dataset is small enough that whole-file rewrites are fine.
type fsStore struct {
	mu       sync.Mutex
	basePath string
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &fsStore{basePath: basePath}
}

func (s *fsStore) path(collection string) string {
	return filepath.Join(s.basePath, collection+".json")
}

// load reads a collection file into out. A missing file leaves out untouched.
func (s *fsStore) load(collection string, out any) error {
	data, err := os.ReadFile(s.path(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		logrus.WithError(err).WithField("collection", collection).Error("Failed to read collection file")
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		logrus.WithError(err).WithField("collection", collection).Error("Failed to unmarshal collection file")
		return err
	}
	return nil
}

func (s *fsStore) save(collection string, in any) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path(collection), data, 0644); err != nil {
		logrus.WithError(err).WithField("collection", collection).Error("Failed to write collection file")
		return err
	}
	return nil
}

// User operations

type userRecord struct {
	core.User
	PasswordHash string `json:"passwordHash"`
}

func (s *fsStore) loadUsers() ([]*userRecord, error) {
	var users []*userRecord
	if err := s.load("users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

func toUser(r *userRecord) *core.User {
	u := r.User
	u.PasswordHash = r.PasswordHash
	return &u
}

func (s *fsStore) ListUsers(ctx context.Context) ([]*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadUsers()
	if err != nil {
		return nil, err
	}
	users := make([]*core.User, 0, len(records))
	for _, r := range records {
		users = append(users, toUser(r))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (s *fsStore) GetUser(ctx context.Context, id string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadUsers()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			return toUser(r), nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
}

func (s *fsStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadUsers()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if strings.EqualFold(r.Email, email) {
			return toUser(r), nil
		}
	}
	return nil, fmt.Errorf("user with email %s: %w", email, core.ErrNotFound)
}

func (s *fsStore) CreateUser(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadUsers()
	if err != nil {
		return err
	}
	for _, r := range records {
		if strings.EqualFold(r.Email, user.Email) {
			return fmt.Errorf("user with email %s: %w", user.Email, core.ErrDuplicate)
		}
	}
	if user.ID == "" {
		user.ID = ulid.Make().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	records = append(records, &userRecord{User: *user, PasswordHash: user.PasswordHash})
	return s.save("users", records)
}

// Participation operations

func (s *fsStore) loadParticipation() ([]*core.MealParticipation, error) {
	var records []*core.MealParticipation
	if err := s.load("participation", &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *fsStore) ListParticipation(ctx context.Context) ([]*core.MealParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadParticipation()
}

func (s *fsStore) UserParticipation(ctx context.Context, userID, date string) ([]*core.MealParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadParticipation()
	if err != nil {
		return nil, err
	}
	var mine []*core.MealParticipation
	for _, r := range records {
		if r.UserID == userID && r.Date == date {
			mine = append(mine, r)
		}
	}
	if len(mine) == 0 {
		for _, r := range core.DefaultParticipation(userID, date) {
			r.ID = ulid.Make().String()
			records = append(records, r)
			mine = append(mine, r)
		}
		if err := s.save("participation", records); err != nil {
			return nil, err
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].MealType < mine[j].MealType })
	return mine, nil
}

func (s *fsStore) UpdateParticipation(ctx context.Context, userID, date string, mealType core.MealType, isParticipating bool, updatedBy, reason string) (*core.MealParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadParticipation()
	if err != nil {
		return nil, err
	}
	var record *core.MealParticipation
	for _, r := range records {
		if r.UserID == userID && r.Date == date && r.MealType == mealType {
			record = r
			break
		}
	}
	if record == nil {
		record = &core.MealParticipation{
			ID:       ulid.Make().String(),
			UserID:   userID,
			MealType: mealType,
			Date:     date,
		}
		records = append(records, record)
	}
	record.IsParticipating = isParticipating
	record.UpdatedBy = updatedBy
	record.UpdatedAt = time.Now()
	record.Reason = reason

	if err := s.save("participation", records); err != nil {
		return nil, err
	}
	copied := *record
	return &copied, nil
}

// Meal config operations

func (s *fsStore) loadMealConfig() (map[core.MealType]bool, error) {
	cfg := map[core.MealType]bool{}
	if err := s.load("meal_config", &cfg); err != nil {
		return nil, err
	}
	if len(cfg) == 0 {
		cfg = core.DefaultMealConfig()
	}
	return cfg, nil
}

func (s *fsStore) EnabledMeals(ctx context.Context) (map[core.MealType]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMealConfig()
}

func (s *fsStore) SetMealEnabled(ctx context.Context, mealType core.MealType, enabled bool) (map[core.MealType]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadMealConfig()
	if err != nil {
		return nil, err
	}
	cfg[mealType] = enabled
	if err := s.save("meal_config", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Special day operations

func (s *fsStore) loadSpecialDays() ([]*core.SpecialDay, error) {
	var days []*core.SpecialDay
	if err := s.load("special_days", &days); err != nil {
		return nil, err
	}
	return days, nil
}

func (s *fsStore) CreateSpecialDay(ctx context.Context, sd *core.SpecialDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, err := s.loadSpecialDays()
	if err != nil {
		return err
	}
	for _, existing := range days {
		if existing.Date == sd.Date {
			return fmt.Errorf("special day for %s: %w", sd.Date, core.ErrDuplicate)
		}
	}
	if sd.ID == "" {
		sd.ID = ulid.Make().String()
	}
	if sd.CreatedAt.IsZero() {
		sd.CreatedAt = time.Now()
	}
	days = append(days, sd)
	return s.save("special_days", days)
}

func (s *fsStore) SpecialDayByDate(ctx context.Context, date string) (*core.SpecialDay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, err := s.loadSpecialDays()
	if err != nil {
		return nil, err
	}
	for _, sd := range days {
		if sd.Date == date {
			return sd, nil
		}
	}
	return nil, fmt.Errorf("special day for %s: %w", date, core.ErrNotFound)
}

func (s *fsStore) ListSpecialDays(ctx context.Context, start, end string) ([]*core.SpecialDay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, err := s.loadSpecialDays()
	if err != nil {
		return nil, err
	}
	var inRange []*core.SpecialDay
	for _, sd := range days {
		if sd.Date >= start && sd.Date <= end {
			inRange = append(inRange, sd)
		}
	}
	sort.Slice(inRange, func(i, j int) bool { return inRange[i].Date < inRange[j].Date })
	return inRange, nil
}

func (s *fsStore) DeleteSpecialDay(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, err := s.loadSpecialDays()
	if err != nil {
		return false, err
	}
	kept := days[:0]
	deleted := false
	for _, sd := range days {
		if sd.ID == id {
			deleted = true
			continue
		}
		kept = append(kept, sd)
	}
	if !deleted {
		return false, nil
	}
	return true, s.save("special_days", kept)
}

// Work location operations

func (s *fsStore) loadWorkLocations() ([]*core.WorkLocation, error) {
	var locations []*core.WorkLocation
	if err := s.load("work_locations", &locations); err != nil {
		return nil, err
	}
	return locations, nil
}

func (s *fsStore) WorkLocationsByDate(ctx context.Context, date string) ([]*core.WorkLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	locations, err := s.loadWorkLocations()
	if err != nil {
		return nil, err
	}
	var forDate []*core.WorkLocation
	for _, wl := range locations {
		if wl.Date == date {
			forDate = append(forDate, wl)
		}
	}
	return forDate, nil
}

func (s *fsStore) SetWorkLocation(ctx context.Context, userID, date string, location core.LocationType, updatedBy string) (*core.WorkLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	locations, err := s.loadWorkLocations()
	if err != nil {
		return nil, err
	}
	var record *core.WorkLocation
	for _, wl := range locations {
		if wl.UserID == userID && wl.Date == date {
			record = wl
			break
		}
	}
	if record == nil {
		record = &core.WorkLocation{
			ID:     ulid.Make().String(),
			UserID: userID,
			Date:   date,
		}
		locations = append(locations, record)
	}
	record.Location = location
	record.UpdatedBy = updatedBy
	record.UpdatedAt = time.Now()

	if err := s.save("work_locations", locations); err != nil {
		return nil, err
	}
	copied := *record
	return &copied, nil
}

// Announcement operations

func (s *fsStore) loadAnnouncements() ([]*core.Announcement, error) {
	var anns []*core.Announcement
	if err := s.load("announcements", &anns); err != nil {
		return nil, err
	}
	return anns, nil
}

func (s *fsStore) CreateAnnouncement(ctx context.Context, ann *core.Announcement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	anns, err := s.loadAnnouncements()
	if err != nil {
		return err
	}
	if ann.ID == "" {
		ann.ID = ulid.Make().String()
	}
	now := time.Now()
	if ann.CreatedAt.IsZero() {
		ann.CreatedAt = now
	}
	ann.UpdatedAt = now
	anns = append(anns, ann)
	return s.save("announcements", anns)
}

func (s *fsStore) GetAnnouncement(ctx context.Context, id string) (*core.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	anns, err := s.loadAnnouncements()
	if err != nil {
		return nil, err
	}
	for _, ann := range anns {
		if ann.ID == id {
			return ann, nil
		}
	}
	return nil, fmt.Errorf("announcement %s: %w", id, core.ErrNotFound)
}

func (s *fsStore) ListAnnouncements(ctx context.Context, createdBy, statusFilter string) ([]*core.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	anns, err := s.loadAnnouncements()
	if err != nil {
		return nil, err
	}
	var mine []*core.Announcement
	for _, ann := range anns {
		if ann.CreatedBy != createdBy {
			continue
		}
		if statusFilter != "" && string(ann.Status) != statusFilter {
			continue
		}
		mine = append(mine, ann)
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].CreatedAt.After(mine[j].CreatedAt) })
	return mine, nil
}

func (s *fsStore) PublishAnnouncement(ctx context.Context, id string, scheduledAt *time.Time) (*core.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	anns, err := s.loadAnnouncements()
	if err != nil {
		return nil, err
	}
	var record *core.Announcement
	for _, ann := range anns {
		if ann.ID == id {
			record = ann
			break
		}
	}
	if record == nil {
		return nil, fmt.Errorf("announcement %s: %w", id, core.ErrNotFound)
	}
	if record.Status != core.AnnouncementSent {
		now := time.Now()
		if scheduledAt != nil && scheduledAt.After(now) {
			record.Status = core.AnnouncementScheduled
			record.ScheduledAt = scheduledAt
		} else {
			record.Status = core.AnnouncementSent
			record.PublishedAt = &now
			record.ScheduledAt = nil
		}
		record.UpdatedAt = now
		if err := s.save("announcements", anns); err != nil {
			return nil, err
		}
	}
	copied := *record
	return &copied, nil
}
