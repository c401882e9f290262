package handler

import (
	"net/http"

	"github.com/sakif/repo-insights/internal/auth"
	"github.com/sakif/repo-insights/internal/service"
)

// UserHandler serves the signed-in user's own account. Every route sits
// behind auth.RequireAccess.
type UserHandler struct {
	accounts      *service.AccountService
	refreshCookie auth.CookiePolicy
}

func NewUserHandler(accounts *service.AccountService, refreshCookie auth.CookiePolicy) *UserHandler {
	return &UserHandler{accounts: accounts, refreshCookie: refreshCookie}
}

// HandleProfile returns the live GitHub profile plus onboarding state.
//
// HTTP: GET /user/me
func (h *UserHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	profile, err := h.accounts.Profile(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}

// HandleCompleteOnboarding marks onboarding as finished.
//
// HTTP: PATCH /user/steps
func (h *UserHandler) HandleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	identity, err := h.accounts.CompleteOnboarding(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, identity)
}

// HandleDeleteAccount removes the user's selections and identity, then
// clears the refresh cookie.
//
// HTTP: DELETE /user/me
func (h *UserHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), id); err != nil {
		WriteError(w, r, err)
		return
	}
	h.refreshCookie.Clear(w)
	WriteJSON(w, http.StatusOK, MessageResponse{Message: "account deleted"})
}
