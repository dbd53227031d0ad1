package users

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/utils/textnorm"
)

var (
	ErrStorageDirRequired = errors.New("storage directory not provided")
	ErrNameRequired       = errors.New("name is required")
	ErrUserNotFound       = errors.New("user not found")
	ErrPinRequired        = errors.New("PIN is required")
	ErrPinInvalid         = errors.New("invalid PIN")
	ErrPinTooShort        = errors.New("PIN must be at least 4 characters")
	ErrInvalidDataUsage   = errors.New("invalid data usage preference")
)

// Service manages persistence of Cino viewer profiles.
type Service struct {
	mu    sync.RWMutex
	path  string
	users map[string]models.User
}

// storedUser is the on-disk shape of a profile. models.User hides the PIN
// hash from API JSON, so the file format carries it explicitly.
type storedUser struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name,omitempty"`
	Color       string                 `json:"color,omitempty"`
	PinHash     string                 `json:"pinHash,omitempty"`
	IsPremium   bool                   `json:"isPremium"`
	Preferences models.UserPreferences `json:"preferences"`
	Analytics   models.UserAnalytics   `json:"analytics"`
	Engagement  models.UserEngagement  `json:"engagement"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

func toStored(u models.User) storedUser {
	return storedUser{
		ID:          u.ID,
		Name:        u.Name,
		Color:       u.Color,
		PinHash:     u.PinHash,
		IsPremium:   u.IsPremium,
		Preferences: u.Preferences,
		Analytics:   u.Analytics,
		Engagement:  u.Engagement,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func (r storedUser) user() models.User {
	return models.User{
		ID:          r.ID,
		Name:        r.Name,
		Color:       r.Color,
		PinHash:     r.PinHash,
		IsPremium:   r.IsPremium,
		Preferences: r.Preferences,
		Analytics:   r.Analytics,
		Engagement:  r.Engagement,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// NewService creates a users service storing data inside the provided directory.
func NewService(storageDir string) (*Service, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}

	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create users dir: %w", err)
	}

	svc := &Service{
		path:  filepath.Join(storageDir, "users.json"),
		users: make(map[string]models.User),
	}

	if err := svc.load(); err != nil {
		return nil, err
	}

	return svc, nil
}

// List returns all users sorted by creation time, then name.
func (s *Service) List() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Name < users[j].Name
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})

	return users
}

// Get returns the user with the given ID if present.
func (s *Service) Get(id string) (models.User, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.User{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	return user, ok
}

// Ensure returns the profile for the given ID, provisioning it on first
// contact. An empty ID mints a fresh one, so anonymous devices always get a
// stable profile back.
func (s *Service) Ensure(id string) (models.User, error) {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if user, ok := s.users[id]; ok {
			return user, nil
		}
	} else {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	user := models.User{
		ID: id,
		Preferences: models.UserPreferences{
			AutoPlay:  true,
			DataUsage: models.DataUsageMedium,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.users[id] = user

	if err := s.saveLocked(); err != nil {
		return models.User{}, err
	}

	return user, nil
}

// Create registers a new named profile.
func (s *Service) Create(name string) (models.User, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return models.User{}, ErrNameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if _, exists := s.users[id]; exists {
		return models.User{}, fmt.Errorf("generated duplicate user id")
	}

	now := time.Now().UTC()
	user := models.User{
		ID:   id,
		Name: trimmed,
		Preferences: models.UserPreferences{
			AutoPlay:  true,
			DataUsage: models.DataUsageMedium,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.users[id] = user

	if err := s.saveLocked(); err != nil {
		return models.User{}, err
	}

	return user, nil
}

// Rename updates the user's name.
func (s *Service) Rename(id, name string) (models.User, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return models.User{}, ErrNameRequired
	}

	return s.update(id, func(user *models.User) error {
		user.Name = trimmed
		return nil
	})
}

// SetColor updates the user's avatar color.
func (s *Service) SetColor(id, color string) (models.User, error) {
	return s.update(id, func(user *models.User) error {
		user.Color = strings.TrimSpace(color)
		return nil
	})
}

// SetPremium flags or unflags the user as a paying subscriber.
func (s *Service) SetPremium(id string, premium bool) (models.User, error) {
	return s.update(id, func(user *models.User) error {
		user.IsPremium = premium
		return nil
	})
}

// UpdatePreferences replaces the user's feed preferences. Genres are
// lowercased and deduplicated, languages canonicalized to BCP-47 base tags,
// so they compare equal to catalog metadata.
func (s *Service) UpdatePreferences(id string, prefs models.UserPreferences) (models.User, error) {
	switch prefs.DataUsage {
	case "":
		prefs.DataUsage = models.DataUsageMedium
	case models.DataUsageLow, models.DataUsageMedium, models.DataUsageHigh:
	default:
		return models.User{}, ErrInvalidDataUsage
	}

	prefs.PreferredGenres = normalizeGenres(prefs.PreferredGenres)
	prefs.PreferredLanguages = textnorm.CanonicalLanguages(prefs.PreferredLanguages)

	return s.update(id, func(user *models.User) error {
		user.Preferences = prefs
		return nil
	})
}

// SetPin sets or updates the user's age-gate PIN.
func (s *Service) SetPin(id, pin string) (models.User, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return models.User{}, ErrPinRequired
	}
	if len(pin) < 4 {
		return models.User{}, ErrPinTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash PIN: %w", err)
	}

	return s.update(id, func(user *models.User) error {
		user.PinHash = string(hash)
		return nil
	})
}

// ClearPin removes the user's PIN.
func (s *Service) ClearPin(id string) (models.User, error) {
	return s.update(id, func(user *models.User) error {
		user.PinHash = ""
		return nil
	})
}

// VerifyPin checks if the provided PIN matches the user's stored PIN hash.
// Returns nil if PIN is correct, ErrPinInvalid if incorrect, or
// ErrUserNotFound if the user doesn't exist.
func (s *Service) VerifyPin(id, pin string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrUserNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}

	// If no PIN is set, any PIN (or empty) is valid
	if user.PinHash == "" {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PinHash), []byte(pin)); err != nil {
		return ErrPinInvalid
	}

	return nil
}

// HasPin returns true if the user has a PIN set.
func (s *Service) HasPin(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return false
	}

	return user.PinHash != ""
}

// Activity is one batch of aggregate deltas attributed to a profile. The
// progress service computes the deltas; averages replace the stored value
// outright when set because only the caller knows the sample counts.
type Activity struct {
	WatchSeconds      int64
	VideosCompleted   int64
	Genres            []string
	Likes             int64
	Shares            int64
	SwipeRight        int64
	SwipeLeft         int64
	AverageCompletion *float64
	AverageSession    *float64
}

// RecordActivity folds a batch of activity deltas into the user's aggregates.
// Counters never go below zero.
func (s *Service) RecordActivity(id string, act Activity) (models.User, error) {
	return s.update(id, func(user *models.User) error {
		user.Analytics.TotalWatchTime += act.WatchSeconds
		if user.Analytics.TotalWatchTime < 0 {
			user.Analytics.TotalWatchTime = 0
		}

		user.Analytics.VideosWatched += act.VideosCompleted
		if user.Analytics.VideosWatched < 0 {
			user.Analytics.VideosWatched = 0
		}

		if len(act.Genres) > 0 {
			user.Analytics.FavoriteGenres = bumpGenres(user.Analytics.FavoriteGenres, act.Genres)
		}

		user.Engagement.Likes = clampCounter(user.Engagement.Likes + act.Likes)
		user.Engagement.Shares = clampCounter(user.Engagement.Shares + act.Shares)
		user.Engagement.SwipeRight = clampCounter(user.Engagement.SwipeRight + act.SwipeRight)
		user.Engagement.SwipeLeft = clampCounter(user.Engagement.SwipeLeft + act.SwipeLeft)

		if act.AverageCompletion != nil {
			user.Engagement.AverageVideoCompletion = *act.AverageCompletion
		}
		if act.AverageSession != nil {
			user.Analytics.AverageSessionDuration = *act.AverageSession
		}

		return nil
	})
}

// Delete removes a user by ID.
func (s *Service) Delete(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrUserNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return ErrUserNotFound
	}

	delete(s.users, id)

	return s.saveLocked()
}

// update applies fn to the user under the write lock and persists the result.
func (s *Service) update(id string, fn func(*models.User) error) (models.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.User{}, ErrUserNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}

	if err := fn(&user); err != nil {
		return models.User{}, err
	}

	user.UpdatedAt = time.Now().UTC()
	s.users[id] = user

	if err := s.saveLocked(); err != nil {
		return models.User{}, err
	}

	return user, nil
}

func normalizeGenres(genres []string) []string {
	out := make([]string, 0, len(genres))
	seen := make(map[string]struct{}, len(genres))
	for _, g := range genres {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

func bumpGenres(counts []models.GenreCount, genres []string) []models.GenreCount {
	for _, g := range genres {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" {
			continue
		}
		found := false
		for i := range counts {
			if counts[i].Genre == g {
				counts[i].Count++
				found = true
				break
			}
		}
		if !found {
			counts = append(counts, models.GenreCount{Genre: g, Count: 1})
		}
	}

	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count == counts[j].Count {
			return counts[i].Genre < counts[j].Genre
		}
		return counts[i].Count > counts[j].Count
	})

	return counts
}

func clampCounter(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func (s *Service) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open users file: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	var stored []storedUser
	if err := dec.Decode(&stored); err != nil {
		return fmt.Errorf("decode users: %w", err)
	}

	s.users = make(map[string]models.User, len(stored))
	for _, rec := range stored {
		if strings.TrimSpace(rec.ID) == "" {
			continue
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
		s.users[rec.ID] = rec.user()
	}

	return nil
}

func (s *Service) saveLocked() error {
	stored := make([]storedUser, 0, len(s.users))
	for _, user := range s.users {
		stored = append(stored, toStored(user))
	}

	sort.Slice(stored, func(i, j int) bool {
		if stored[i].CreatedAt.Equal(stored[j].CreatedAt) {
			return stored[i].Name < stored[j].Name
		}
		return stored[i].CreatedAt.Before(stored[j].CreatedAt)
	})

	tmp := s.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create users temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stored); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode users: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync users: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close users temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace users file: %w", err)
	}

	return nil
}
