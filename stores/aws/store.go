package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"mealtrack/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
)

// s3Store keeps each entity as one JSON object in a bucket, keyed by a
// collection prefix. Cross-record scans list the prefix and read each object;
// acceptable at this dataset's scale, same trade-off as the JSON-file backend.
type s3Store struct {
	s3Client *s3.Client
	bucket   string

	// Serializes read-modify-write sequences within this process.
	mu sync.Mutex
}

const (
	usersPrefix         = "users/"
	participationPrefix = "participation/"
	specialDaysPrefix   = "special-days/"
	workLocationsPrefix = "work-locations/"
	announcementsPrefix = "announcements/"
	mealConfigKey       = "config/meals.json"
)

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	s3Client := s3.NewFromConfig(cfg)

	return &s3Store{
		s3Client: s3Client,
		bucket:   bucketName,
	}
}

func (s *s3Store) getObject(ctx context.Context, key string, out any) error {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return core.ErrNotFound
		}
		return fmt.Errorf("failed to get object %s: %v", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read object %s: %v", key, err)
	}
	return json.Unmarshal(data, out)
}

func (s *s3Store) putObject(ctx context.Context, key string, in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %v", key, err)
	}
	return nil
}

// listPrefix reads every object under prefix, unmarshalling each into a fresh
// T. Objects that fail to load are skipped with a warning.
func listPrefix[T any](ctx context.Context, s *s3Store, prefix string) ([]*T, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %v", prefix, err)
	}

	items := make([]*T, 0, len(output.Contents))
	for _, object := range output.Contents {
		var item T
		if err := s.getObject(ctx, *object.Key, &item); err != nil {
			log.Printf("warn: failed to load object %s: %v", *object.Key, err)
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

func safeKey(prefix, id string) (string, error) {
	if id == "" || id == "." || id == ".." || path.Base(id) != id {
		return "", fmt.Errorf("invalid object id %q", id)
	}
	return prefix + id, nil
}

// User operations

type userObject struct {
	core.User
	PasswordHash string `json:"passwordHash"`
}

func toUser(o *userObject) *core.User {
	u := o.User
	u.PasswordHash = o.PasswordHash
	return &u
}

func (s *s3Store) ListUsers(ctx context.Context) ([]*core.User, error) {
	objects, err := listPrefix[userObject](ctx, s, usersPrefix)
	if err != nil {
		return nil, err
	}
	users := make([]*core.User, 0, len(objects))
	for _, o := range objects {
		users = append(users, toUser(o))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (s *s3Store) GetUser(ctx context.Context, id string) (*core.User, error) {
	key, err := safeKey(usersPrefix, id)
	if err != nil {
		return nil, err
	}
	var o userObject
	if err := s.getObject(ctx, key, &o); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return toUser(&o), nil
}

func (s *s3Store) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	objects, err := listPrefix[userObject](ctx, s, usersPrefix)
	if err != nil {
		return nil, err
	}
	for _, o := range objects {
		if strings.EqualFold(o.Email, email) {
			return toUser(o), nil
		}
	}
	return nil, fmt.Errorf("user with email %s: %w", email, core.ErrNotFound)
}

func (s *s3Store) CreateUser(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.GetUserByEmail(ctx, user.Email); err == nil {
		return fmt.Errorf("user with email %s: %w", user.Email, core.ErrDuplicate)
	}
	if user.ID == "" {
		user.ID = ulid.Make().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	key, err := safeKey(usersPrefix, user.ID)
	if err != nil {
		return err
	}
	return s.putObject(ctx, key, &userObject{User: *user, PasswordHash: user.PasswordHash})
}

// Participation operations

func participationID(userID, date string, mealType core.MealType) string {
	return userID + "_" + date + "_" + string(mealType)
}

func (s *s3Store) ListParticipation(ctx context.Context) ([]*core.MealParticipation, error) {
	return listPrefix[core.MealParticipation](ctx, s, participationPrefix)
}

func (s *s3Store) UserParticipation(ctx context.Context, userID, date string) ([]*core.MealParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := listPrefix[core.MealParticipation](ctx, s, participationPrefix)
	if err != nil {
		return nil, err
	}
	var mine []*core.MealParticipation
	for _, r := range all {
		if r.UserID == userID && r.Date == date {
			mine = append(mine, r)
		}
	}
	if len(mine) == 0 {
		for _, r := range core.DefaultParticipation(userID, date) {
			r.ID = ulid.Make().String()
			key := participationPrefix + participationID(userID, date, r.MealType)
			if err := s.putObject(ctx, key, r); err != nil {
				return nil, err
			}
			mine = append(mine, r)
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].MealType < mine[j].MealType })
	return mine, nil
}

func (s *s3Store) UpdateParticipation(ctx context.Context, userID, date string, mealType core.MealType, isParticipating bool, updatedBy, reason string) (*core.MealParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := participationPrefix + participationID(userID, date, mealType)
	var record core.MealParticipation
	if err := s.getObject(ctx, key, &record); err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		record = core.MealParticipation{
			ID:       ulid.Make().String(),
			UserID:   userID,
			MealType: mealType,
			Date:     date,
		}
	}
	record.IsParticipating = isParticipating
	record.UpdatedBy = updatedBy
	record.UpdatedAt = time.Now()
	record.Reason = reason

	if err := s.putObject(ctx, key, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Meal config operations

func (s *s3Store) EnabledMeals(ctx context.Context) (map[core.MealType]bool, error) {
	cfg := map[core.MealType]bool{}
	if err := s.getObject(ctx, mealConfigKey, &cfg); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.DefaultMealConfig(), nil
		}
		return nil, err
	}
	if len(cfg) == 0 {
		return core.DefaultMealConfig(), nil
	}
	return cfg, nil
}

func (s *s3Store) SetMealEnabled(ctx context.Context, mealType core.MealType, enabled bool) (map[core.MealType]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.EnabledMeals(ctx)
	if err != nil {
		return nil, err
	}
	cfg[mealType] = enabled
	if err := s.putObject(ctx, mealConfigKey, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Special day operations

func (s *s3Store) CreateSpecialDay(ctx context.Context, sd *core.SpecialDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, err := listPrefix[core.SpecialDay](ctx, s, specialDaysPrefix)
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
	key, err := safeKey(specialDaysPrefix, sd.ID)
	if err != nil {
		return err
	}
	return s.putObject(ctx, key, sd)
}

func (s *s3Store) SpecialDayByDate(ctx context.Context, date string) (*core.SpecialDay, error) {
	days, err := listPrefix[core.SpecialDay](ctx, s, specialDaysPrefix)
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

func (s *s3Store) ListSpecialDays(ctx context.Context, start, end string) ([]*core.SpecialDay, error) {
	days, err := listPrefix[core.SpecialDay](ctx, s, specialDaysPrefix)
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

func (s *s3Store) DeleteSpecialDay(ctx context.Context, id string) (bool, error) {
	key, err := safeKey(specialDaysPrefix, id)
	if err != nil {
		return false, err
	}
	var sd core.SpecialDay
	if err := s.getObject(ctx, key, &sd); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return false, fmt.Errorf("failed to delete special day %s: %v", id, err)
	}
	return true, nil
}

// Work location operations

func (s *s3Store) WorkLocationsByDate(ctx context.Context, date string) ([]*core.WorkLocation, error) {
	all, err := listPrefix[core.WorkLocation](ctx, s, workLocationsPrefix)
	if err != nil {
		return nil, err
	}
	var forDate []*core.WorkLocation
	for _, wl := range all {
		if wl.Date == date {
			forDate = append(forDate, wl)
		}
	}
	return forDate, nil
}

func (s *s3Store) SetWorkLocation(ctx context.Context, userID, date string, location core.LocationType, updatedBy string) (*core.WorkLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := workLocationsPrefix + userID + "_" + date
	var record core.WorkLocation
	if err := s.getObject(ctx, key, &record); err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		record = core.WorkLocation{
			ID:     ulid.Make().String(),
			UserID: userID,
			Date:   date,
		}
	}
	record.Location = location
	record.UpdatedBy = updatedBy
	record.UpdatedAt = time.Now()

	if err := s.putObject(ctx, key, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Announcement operations

func (s *s3Store) CreateAnnouncement(ctx context.Context, ann *core.Announcement) error {
	if ann.ID == "" {
		ann.ID = ulid.Make().String()
	}
	now := time.Now()
	if ann.CreatedAt.IsZero() {
		ann.CreatedAt = now
	}
	ann.UpdatedAt = now
	key, err := safeKey(announcementsPrefix, ann.ID)
	if err != nil {
		return err
	}
	return s.putObject(ctx, key, ann)
}

func (s *s3Store) GetAnnouncement(ctx context.Context, id string) (*core.Announcement, error) {
	key, err := safeKey(announcementsPrefix, id)
	if err != nil {
		return nil, err
	}
	var ann core.Announcement
	if err := s.getObject(ctx, key, &ann); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("announcement %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return &ann, nil
}

func (s *s3Store) ListAnnouncements(ctx context.Context, createdBy, statusFilter string) ([]*core.Announcement, error) {
	all, err := listPrefix[core.Announcement](ctx, s, announcementsPrefix)
	if err != nil {
		return nil, err
	}
	var mine []*core.Announcement
	for _, ann := range all {
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

func (s *s3Store) PublishAnnouncement(ctx context.Context, id string, scheduledAt *time.Time) (*core.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ann, err := s.GetAnnouncement(ctx, id)
	if err != nil {
		return nil, err
	}
	if ann.Status == core.AnnouncementSent {
		return ann, nil
	}

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

	key, _ := safeKey(announcementsPrefix, id)
	if err := s.putObject(ctx, key, ann); err != nil {
		return nil, err
	}
	return ann, nil
}
