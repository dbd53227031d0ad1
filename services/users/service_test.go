package users_test

import (
	"errors"
	"testing"

	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/users"
)

func newTestService(t *testing.T) *users.Service {
	t.Helper()

	svc, err := users.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc
}

func TestEnsureProvisionsAnonymousProfile(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.Ensure("")
	if err != nil {
		t.Fatalf("ensure returned error: %v", err)
	}

	if user.ID == "" {
		t.Fatal("expected minted profile to have an ID")
	}
	if !user.Preferences.AutoPlay {
		t.Fatal("expected autoplay to default on")
	}
	if user.Preferences.DataUsage != models.DataUsageMedium {
		t.Fatalf("expected medium data usage default, got %q", user.Preferences.DataUsage)
	}
}

func TestEnsureIsIdempotentForKnownID(t *testing.T) {
	svc := newTestService(t)

	first, err := svc.Ensure("device-42")
	if err != nil {
		t.Fatalf("ensure returned error: %v", err)
	}
	if first.ID != "device-42" {
		t.Fatalf("expected profile keyed by supplied ID, got %q", first.ID)
	}

	again, err := svc.Ensure("device-42")
	if err != nil {
		t.Fatalf("second ensure returned error: %v", err)
	}
	if !again.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("expected second ensure to return the existing profile")
	}

	if len(svc.List()) != 1 {
		t.Fatalf("expected exactly one user, got %d", len(svc.List()))
	}
}

func TestCreateRenameAndDelete(t *testing.T) {
	svc := newTestService(t)

	created, err := svc.Create("Evening Watcher")
	if err != nil {
		t.Fatalf("create returned error: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected created user to have id")
	}

	renamed, err := svc.Rename(created.ID, "Night Owl")
	if err != nil {
		t.Fatalf("rename returned error: %v", err)
	}
	if renamed.Name != "Night Owl" {
		t.Fatalf("expected renamed user to have updated name, got %q", renamed.Name)
	}

	if err := svc.Delete(created.ID); err != nil {
		t.Fatalf("delete returned error: %v", err)
	}
	if _, ok := svc.Get(created.ID); ok {
		t.Fatal("expected user to be deleted")
	}
}

func TestCreateRequiresName(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.Create("  "); !errors.Is(err, users.ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
}

func TestUpdatePreferencesCanonicalizes(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.Ensure("u1")
	if err != nil {
		t.Fatalf("ensure returned error: %v", err)
	}

	updated, err := svc.UpdatePreferences(user.ID, models.UserPreferences{
		PreferredGenres:    []string{" Drama ", "DRAMA", "Action"},
		PreferredLanguages: []string{"hi-IN", "Hindi", "en"},
		AutoPlay:           false,
		DataUsage:          models.DataUsageLow,
	})
	if err != nil {
		t.Fatalf("update preferences returned error: %v", err)
	}

	wantGenres := []string{"drama", "action"}
	if len(updated.Preferences.PreferredGenres) != len(wantGenres) {
		t.Fatalf("expected genres %v, got %v", wantGenres, updated.Preferences.PreferredGenres)
	}
	for i, g := range wantGenres {
		if updated.Preferences.PreferredGenres[i] != g {
			t.Fatalf("expected genres %v, got %v", wantGenres, updated.Preferences.PreferredGenres)
		}
	}

	wantLangs := []string{"hi", "en"}
	if len(updated.Preferences.PreferredLanguages) != len(wantLangs) {
		t.Fatalf("expected languages %v, got %v", wantLangs, updated.Preferences.PreferredLanguages)
	}
	for i, l := range wantLangs {
		if updated.Preferences.PreferredLanguages[i] != l {
			t.Fatalf("expected languages %v, got %v", wantLangs, updated.Preferences.PreferredLanguages)
		}
	}

	if updated.Preferences.DataUsage != models.DataUsageLow {
		t.Fatalf("expected low data usage, got %q", updated.Preferences.DataUsage)
	}

	if _, err := svc.UpdatePreferences(user.ID, models.UserPreferences{DataUsage: "unlimited"}); !errors.Is(err, users.ErrInvalidDataUsage) {
		t.Fatalf("expected ErrInvalidDataUsage, got %v", err)
	}
}

func TestPinLifecycle(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.Ensure("u1")
	if err != nil {
		t.Fatalf("ensure returned error: %v", err)
	}

	if _, err := svc.SetPin(user.ID, "12"); !errors.Is(err, users.ErrPinTooShort) {
		t.Fatalf("expected ErrPinTooShort, got %v", err)
	}

	if _, err := svc.SetPin(user.ID, "4321"); err != nil {
		t.Fatalf("set pin returned error: %v", err)
	}
	if !svc.HasPin(user.ID) {
		t.Fatal("expected pin to be set")
	}

	if err := svc.VerifyPin(user.ID, "0000"); !errors.Is(err, users.ErrPinInvalid) {
		t.Fatalf("expected ErrPinInvalid, got %v", err)
	}
	if err := svc.VerifyPin(user.ID, "4321"); err != nil {
		t.Fatalf("expected correct pin to verify, got %v", err)
	}

	if _, err := svc.ClearPin(user.ID); err != nil {
		t.Fatalf("clear pin returned error: %v", err)
	}
	if svc.HasPin(user.ID) {
		t.Fatal("expected pin to be cleared")
	}
	if err := svc.VerifyPin(user.ID, "anything"); err != nil {
		t.Fatalf("expected verify to pass with no pin set, got %v", err)
	}
}

func TestPinSurvivesReload(t *testing.T) {
	dir := t.TempDir()

	svc, err := users.NewService(dir)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	user, err := svc.Ensure("u1")
	if err != nil {
		t.Fatalf("ensure returned error: %v", err)
	}
	if _, err := svc.SetPin(user.ID, "4321"); err != nil {
		t.Fatalf("set pin returned error: %v", err)
	}

	reloaded, err := users.NewService(dir)
	if err != nil {
		t.Fatalf("failed to reload service: %v", err)
	}

	if !reloaded.HasPin(user.ID) {
		t.Fatal("expected pin to survive reload")
	}
	if err := reloaded.VerifyPin(user.ID, "4321"); err != nil {
		t.Fatalf("expected pin to verify after reload, got %v", err)
	}
}

func TestRecordActivityAggregates(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.Ensure("u1")
	if err != nil {
		t.Fatalf("ensure returned error: %v", err)
	}

	avg := 62.5
	session := 480.0
	updated, err := svc.RecordActivity(user.ID, users.Activity{
		WatchSeconds:      120,
		VideosCompleted:   1,
		Genres:            []string{"Drama", "romance", "drama"},
		Likes:             1,
		SwipeRight:        3,
		AverageCompletion: &avg,
		AverageSession:    &session,
	})
	if err != nil {
		t.Fatalf("record activity returned error: %v", err)
	}

	if updated.Analytics.TotalWatchTime != 120 {
		t.Fatalf("expected 120s watch time, got %d", updated.Analytics.TotalWatchTime)
	}
	if updated.Analytics.VideosWatched != 1 {
		t.Fatalf("expected 1 video watched, got %d", updated.Analytics.VideosWatched)
	}
	if updated.Engagement.Likes != 1 || updated.Engagement.SwipeRight != 3 {
		t.Fatalf("unexpected engagement counters: %+v", updated.Engagement)
	}
	if updated.Engagement.AverageVideoCompletion != 62.5 {
		t.Fatalf("expected completion average 62.5, got %v", updated.Engagement.AverageVideoCompletion)
	}
	if updated.Analytics.AverageSessionDuration != 480 {
		t.Fatalf("expected session average 480, got %v", updated.Analytics.AverageSessionDuration)
	}

	// drama counted twice in one batch, romance once
	if len(updated.Analytics.FavoriteGenres) != 2 {
		t.Fatalf("expected 2 favorite genres, got %v", updated.Analytics.FavoriteGenres)
	}
	if updated.Analytics.FavoriteGenres[0].Genre != "drama" || updated.Analytics.FavoriteGenres[0].Count != 2 {
		t.Fatalf("expected drama x2 first, got %+v", updated.Analytics.FavoriteGenres[0])
	}

	// unlike below zero clamps
	updated, err = svc.RecordActivity(user.ID, users.Activity{Likes: -5})
	if err != nil {
		t.Fatalf("record activity returned error: %v", err)
	}
	if updated.Engagement.Likes != 0 {
		t.Fatalf("expected likes clamped at 0, got %d", updated.Engagement.Likes)
	}
}

func TestSetPremium(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.Ensure("u1")
	if err != nil {
		t.Fatalf("ensure returned error: %v", err)
	}

	updated, err := svc.SetPremium(user.ID, true)
	if err != nil {
		t.Fatalf("set premium returned error: %v", err)
	}
	if !updated.IsPremium {
		t.Fatal("expected premium flag to be set")
	}

	if _, err := svc.SetPremium("missing", true); !errors.Is(err, users.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
