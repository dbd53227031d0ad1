package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/RADreams/Cino-backend/handlers"
	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/users"
)

type fakeUserService struct {
	user  models.User
	found bool
	err   error

	renamed     string
	colored     string
	premiumSet  *bool
	prefsSet    *models.UserPreferences
	pinSet      string
	pinVerified string
	cleared     bool
	deleted     string
}

func (f *fakeUserService) List() []models.User { return []models.User{f.user} }

func (f *fakeUserService) Get(id string) (models.User, bool) { return f.user, f.found }

func (f *fakeUserService) Create(name string) (models.User, error) {
	if f.err != nil {
		return models.User{}, f.err
	}
	return f.user, nil
}

func (f *fakeUserService) Rename(id, name string) (models.User, error) {
	f.renamed = name
	return f.user, f.err
}

func (f *fakeUserService) SetColor(id, color string) (models.User, error) {
	f.colored = color
	return f.user, f.err
}

func (f *fakeUserService) SetPremium(id string, premium bool) (models.User, error) {
	f.premiumSet = &premium
	return f.user, f.err
}

func (f *fakeUserService) UpdatePreferences(id string, prefs models.UserPreferences) (models.User, error) {
	f.prefsSet = &prefs
	return f.user, f.err
}

func (f *fakeUserService) SetPin(id, pin string) (models.User, error) {
	f.pinSet = pin
	return f.user, f.err
}

func (f *fakeUserService) ClearPin(id string) (models.User, error) {
	f.cleared = true
	return f.user, f.err
}

func (f *fakeUserService) VerifyPin(id, pin string) error {
	f.pinVerified = pin
	return f.err
}

func (f *fakeUserService) Delete(id string) error {
	f.deleted = id
	return f.err
}

func TestUsersCreateMissingNameIs400(t *testing.T) {
	handler := handlers.NewUsersHandler(&fakeUserService{err: users.ErrNameRequired})

	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewBufferString(`{"name":""}`))
	rec := httptest.NewRecorder()

	handler.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUsersCreateReturns201(t *testing.T) {
	svc := &fakeUserService{user: models.User{ID: "u1", Name: "Asha"}}
	handler := handlers.NewUsersHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewBufferString(`{"name":"Asha"}`))
	rec := httptest.NewRecorder()

	handler.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	var user models.User
	if err := json.Unmarshal(env.Data, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.Name != "Asha" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestUsersGetMissingIs404(t *testing.T) {
	handler := handlers.NewUsersHandler(&fakeUserService{found: false})

	req := httptest.NewRequest(http.MethodGet, "/api/users/nope", nil)
	req = mux.SetURLVars(req, map[string]string{"userId": "nope"})
	rec := httptest.NewRecorder()

	handler.Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUsersUpdateTouchesOnlyPresentFields(t *testing.T) {
	svc := &fakeUserService{user: models.User{ID: "u1"}, found: true}
	handler := handlers.NewUsersHandler(svc)

	req := httptest.NewRequest(http.MethodPut, "/api/users/u1", bytes.NewBufferString(`{"color":"#ff8800"}`))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rec := httptest.NewRecorder()

	handler.Update(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if svc.colored != "#ff8800" {
		t.Fatalf("expected color set, got %q", svc.colored)
	}
	if svc.renamed != "" || svc.premiumSet != nil {
		t.Fatal("absent fields must not be touched")
	}
}

func TestUsersUpdatePremiumFlag(t *testing.T) {
	svc := &fakeUserService{user: models.User{ID: "u1"}, found: true}
	handler := handlers.NewUsersHandler(svc)

	req := httptest.NewRequest(http.MethodPut, "/api/users/u1", bytes.NewBufferString(`{"isPremium":true}`))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rec := httptest.NewRecorder()

	handler.Update(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if svc.premiumSet == nil || !*svc.premiumSet {
		t.Fatalf("expected premium enabled, got %v", svc.premiumSet)
	}
}

func TestUsersPreferencesReplaceBlock(t *testing.T) {
	svc := &fakeUserService{user: models.User{ID: "u1"}}
	handler := handlers.NewUsersHandler(svc)

	body := bytes.NewBufferString(`{"preferredGenres":["drama"],"preferredLanguages":["hi"],"autoPlay":true,"dataUsage":"low"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/users/u1/preferences", body)
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rec := httptest.NewRecorder()

	handler.UpdatePreferences(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if svc.prefsSet == nil {
		t.Fatal("preferences not forwarded")
	}
	if svc.prefsSet.DataUsage != models.DataUsageLow || !svc.prefsSet.AutoPlay {
		t.Fatalf("unexpected preferences %+v", svc.prefsSet)
	}
}

func TestUsersWrongPinIs403(t *testing.T) {
	handler := handlers.NewUsersHandler(&fakeUserService{err: users.ErrPinInvalid})

	req := httptest.NewRequest(http.MethodPost, "/api/users/u1/pin/verify", bytes.NewBufferString(`{"pin":"0000"}`))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rec := httptest.NewRecorder()

	handler.VerifyPin(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestUsersPinLifecycle(t *testing.T) {
	svc := &fakeUserService{user: models.User{ID: "u1"}}
	handler := handlers.NewUsersHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/users/u1/pin", bytes.NewBufferString(`{"pin":"4321"}`))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rec := httptest.NewRecorder()
	handler.SetPin(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("set pin: unexpected status %d", rec.Code)
	}
	if svc.pinSet != "4321" {
		t.Fatalf("expected pin forwarded, got %q", svc.pinSet)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/users/u1/pin/verify", bytes.NewBufferString(`{"pin":"4321"}`))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rec = httptest.NewRecorder()
	handler.VerifyPin(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify pin: unexpected status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/users/u1/pin", nil)
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rec = httptest.NewRecorder()
	handler.ClearPin(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear pin: unexpected status %d", rec.Code)
	}
	if !svc.cleared {
		t.Fatal("expected pin cleared")
	}
}
