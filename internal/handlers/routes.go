package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/streamhub/streamhub/internal/middleware"
)

// RegisterRoutes mounts the user auth endpoints on r, typically the
// /api/v1/users subrouter. Every route also matches OPTIONS so router-level
// CORS middleware can answer preflight requests before RequireAuth runs.
func (h *AuthHandlers) RegisterRoutes(r *mux.Router, authMiddleware *middleware.AuthMiddleware) {
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/refresh-token", h.RefreshToken).Methods(http.MethodPost, http.MethodOptions)

	protected := r.NewRoute().Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("/logout", h.Logout).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/change-password", h.ChangePassword).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/update-account", h.UpdateAccount).Methods(http.MethodPatch, http.MethodOptions)
	protected.HandleFunc("/current-user", h.CurrentUser).Methods(http.MethodGet, http.MethodOptions)
}
