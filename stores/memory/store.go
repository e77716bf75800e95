package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"mealtrack/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore keeps every collection in mutex-guarded maps. It is the default
// backend and the store used by handler tests.
type memStore struct {
	mu sync.RWMutex

	users         map[string]*core.User
	participation map[string]*core.MealParticipation // key: userID|date|mealType
	mealConfig    map[core.MealType]bool
	specialDays   map[string]*core.SpecialDay   // key: id
	workLocations map[string]*core.WorkLocation // key: userID|date
	announcements map[string]*core.Announcement
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		users:         make(map[string]*core.User),
		participation: make(map[string]*core.MealParticipation),
		mealConfig:    core.DefaultMealConfig(),
		specialDays:   make(map[string]*core.SpecialDay),
		workLocations: make(map[string]*core.WorkLocation),
		announcements: make(map[string]*core.Announcement),
	}
}

func participationKey(userID, date string, mealType core.MealType) string {
	return userID + "|" + date + "|" + string(mealType)
}

// User operations

func (s *memStore) ListUsers(ctx context.Context) ([]*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*core.User, 0, len(s.users))
	for _, u := range s.users {
		copied := *u
		users = append(users, &copied)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (s *memStore) GetUser(ctx context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	copied := *u
	return &copied, nil
}

func (s *memStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("user with email %s: %w", email, core.ErrNotFound)
}

func (s *memStore) CreateUser(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("user with email %s: %w", user.Email, core.ErrDuplicate)
		}
	}
	if user.ID == "" {
		user.ID = ulid.Make().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	copied := *user
	s.users[user.ID] = &copied
	logrus.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("User created")
	return nil
}

// Participation operations

func (s *memStore) ListParticipation(ctx context.Context) ([]*core.MealParticipation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*core.MealParticipation, 0, len(s.participation))
	for _, r := range s.participation {
		copied := *r
		records = append(records, &copied)
	}
	return records, nil
}

func (s *memStore) UserParticipation(ctx context.Context, userID, date string) ([]*core.MealParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*core.MealParticipation
	for _, r := range s.participation {
		if r.UserID == userID && r.Date == date {
			copied := *r
			records = append(records, &copied)
		}
	}
	if len(records) == 0 {
		for _, r := range core.DefaultParticipation(userID, date) {
			r.ID = ulid.Make().String()
			s.participation[participationKey(userID, date, r.MealType)] = r
			copied := *r
			records = append(records, &copied)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].MealType < records[j].MealType })
	return records, nil
}

func (s *memStore) UpdateParticipation(ctx context.Context, userID, date string, mealType core.MealType, isParticipating bool, updatedBy, reason string) (*core.MealParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := participationKey(userID, date, mealType)
	record, ok := s.participation[key]
	if !ok {
		record = &core.MealParticipation{
			ID:       ulid.Make().String(),
			UserID:   userID,
			MealType: mealType,
			Date:     date,
		}
		s.participation[key] = record
	}
	record.IsParticipating = isParticipating
	record.UpdatedBy = updatedBy
	record.UpdatedAt = time.Now()
	record.Reason = reason

	copied := *record
	return &copied, nil
}

// Meal config operations

func (s *memStore) EnabledMeals(ctx context.Context) (map[core.MealType]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := make(map[core.MealType]bool, len(s.mealConfig))
	for mt, enabled := range s.mealConfig {
		cfg[mt] = enabled
	}
	return cfg, nil
}

func (s *memStore) SetMealEnabled(ctx context.Context, mealType core.MealType, enabled bool) (map[core.MealType]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mealConfig[mealType] = enabled
	cfg := make(map[core.MealType]bool, len(s.mealConfig))
	for mt, e := range s.mealConfig {
		cfg[mt] = e
	}
	return cfg, nil
}

// Special day operations

func (s *memStore) CreateSpecialDay(ctx context.Context, sd *core.SpecialDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.specialDays {
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
	copied := *sd
	s.specialDays[sd.ID] = &copied
	return nil
}

func (s *memStore) SpecialDayByDate(ctx context.Context, date string) (*core.SpecialDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sd := range s.specialDays {
		if sd.Date == date {
			copied := *sd
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("special day for %s: %w", date, core.ErrNotFound)
}

func (s *memStore) ListSpecialDays(ctx context.Context, start, end string) ([]*core.SpecialDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var days []*core.SpecialDay
	for _, sd := range s.specialDays {
		if sd.Date >= start && sd.Date <= end {
			copied := *sd
			days = append(days, &copied)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days, nil
}

func (s *memStore) DeleteSpecialDay(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.specialDays[id]; !ok {
		return false, nil
	}
	delete(s.specialDays, id)
	return true, nil
}

// Work location operations

func (s *memStore) WorkLocationsByDate(ctx context.Context, date string) ([]*core.WorkLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var locations []*core.WorkLocation
	for _, wl := range s.workLocations {
		if wl.Date == date {
			copied := *wl
			locations = append(locations, &copied)
		}
	}
	return locations, nil
}

func (s *memStore) SetWorkLocation(ctx context.Context, userID, date string, location core.LocationType, updatedBy string) (*core.WorkLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "|" + date
	wl, ok := s.workLocations[key]
	if !ok {
		wl = &core.WorkLocation{
			ID:     ulid.Make().String(),
			UserID: userID,
			Date:   date,
		}
		s.workLocations[key] = wl
	}
	wl.Location = location
	wl.UpdatedBy = updatedBy
	wl.UpdatedAt = time.Now()

	copied := *wl
	return &copied, nil
}

// Announcement operations

func (s *memStore) CreateAnnouncement(ctx context.Context, ann *core.Announcement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ann.ID == "" {
		ann.ID = ulid.Make().String()
	}
	now := time.Now()
	if ann.CreatedAt.IsZero() {
		ann.CreatedAt = now
	}
	ann.UpdatedAt = now
	copied := *ann
	s.announcements[ann.ID] = &copied
	return nil
}

func (s *memStore) GetAnnouncement(ctx context.Context, id string) (*core.Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ann, ok := s.announcements[id]
	if !ok {
		return nil, fmt.Errorf("announcement %s: %w", id, core.ErrNotFound)
	}
	copied := *ann
	return &copied, nil
}

func (s *memStore) ListAnnouncements(ctx context.Context, createdBy, statusFilter string) ([]*core.Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var anns []*core.Announcement
	for _, ann := range s.announcements {
		if ann.CreatedBy != createdBy {
			continue
		}
		if statusFilter != "" && string(ann.Status) != statusFilter {
			continue
		}
		copied := *ann
		anns = append(anns, &copied)
	}
	sort.Slice(anns, func(i, j int) bool { return anns[i].CreatedAt.After(anns[j].CreatedAt) })
	return anns, nil
}

func (s *memStore) PublishAnnouncement(ctx context.Context, id string, scheduledAt *time.Time) (*core.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ann, ok := s.announcements[id]
	if !ok {
		return nil, fmt.Errorf("announcement %s: %w", id, core.ErrNotFound)
	}
	if ann.Status != core.AnnouncementSent {
		now := time.Now()
		if scheduledAt != nil && scheduledAt.After(now) {
			ann.Status = core.AnnouncementScheduled
			ann.ScheduledAt = scheduledAt
		} else {
			ann.Status = core.AnnouncementSent
			ann.PublishedAt = &now
			ann.ScheduledAt = nil
		}
		ann.UpdatedAt = now
	}
	copied := *ann
	return &copied, nil
}
