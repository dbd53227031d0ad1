package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/users"
)

type userService interface {
	List() []models.User
	Get(id string) (models.User, bool)
	Create(name string) (models.User, error)
	Rename(id, name string) (models.User, error)
	SetColor(id, color string) (models.User, error)
	SetPremium(id string, premium bool) (models.User, error)
	UpdatePreferences(id string, prefs models.UserPreferences) (models.User, error)
	SetPin(id, pin string) (models.User, error)
	ClearPin(id string) (models.User, error)
	VerifyPin(id, pin string) error
	Delete(id string) error
}

var _ userService = (*users.Service)(nil)

// UsersHandler manages viewer profiles, their preferences, and the parental
// PIN.
type UsersHandler struct {
	users userService
}

func NewUsersHandler(service userService) *UsersHandler {
	return &UsersHandler{users: service}
}

// List handles GET /api/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.users.List())
}

type createUserRequest struct {
	Name string `json:"name"`
}

// Create handles POST /api/users.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createUserRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	user, err := h.users.Create(body.Name)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusCreated, user)
}

// Get handles GET /api/users/{userId}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userId"])

	user, ok := h.users.Get(userID)
	if !ok {
		respondError(w, users.ErrUserNotFound)
		return
	}
	writeData(w, http.StatusOK, user)
}

type updateUserRequest struct {
	Name      *string `json:"name"`
	Color     *string `json:"color"`
	IsPremium *bool   `json:"isPremium"`
}

// Update handles PUT /api/users/{userId}. Only fields present in the body
// change.
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userId"])

	var body updateUserRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	var (
		user models.User
		err  error
	)
	if body.Name != nil {
		if user, err = h.users.Rename(userID, *body.Name); err != nil {
			respondError(w, err)
			return
		}
	}
	if body.Color != nil {
		if user, err = h.users.SetColor(userID, *body.Color); err != nil {
			respondError(w, err)
			return
		}
	}
	if body.IsPremium != nil {
		if user, err = h.users.SetPremium(userID, *body.IsPremium); err != nil {
			respondError(w, err)
			return
		}
	}
	if body.Name == nil && body.Color == nil && body.IsPremium == nil {
		var ok bool
		if user, ok = h.users.Get(userID); !ok {
			respondError(w, users.ErrUserNotFound)
			return
		}
	}
	writeData(w, http.StatusOK, user)
}

// Delete handles DELETE /api/users/{userId}.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userId"])

	if err := h.users.Delete(userID); err != nil {
		respondError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, nil, "user deleted")
}

// UpdatePreferences handles PUT /api/users/{userId}/preferences. The body
// replaces the whole preference block.
func (h *UsersHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userId"])

	var prefs models.UserPreferences
	if !decodeJSON(w, r, &prefs) {
		return
	}

	user, err := h.users.UpdatePreferences(userID, prefs)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

type pinRequest struct {
	Pin string `json:"pin"`
}

// SetPin handles POST /api/users/{userId}/pin.
func (h *UsersHandler) SetPin(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userId"])

	var body pinRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	user, err := h.users.SetPin(userID, body.Pin)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

// VerifyPin handles POST /api/users/{userId}/pin/verify. A wrong PIN answers
// 403 so clients can distinguish it from validation mistakes.
func (h *UsersHandler) VerifyPin(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userId"])

	var body pinRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.users.VerifyPin(userID, body.Pin); err != nil {
		respondError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, map[string]interface{}{"valid": true}, "pin accepted")
}

// ClearPin handles DELETE /api/users/{userId}/pin.
func (h *UsersHandler) ClearPin(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userId"])

	user, err := h.users.ClearPin(userID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, user)
}
