package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/streamhub/streamhub/internal/middleware"
	"github.com/streamhub/streamhub/internal/models"
	"github.com/streamhub/streamhub/internal/service"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 16 << 10

type AuthHandlers struct {
	authService *service.AuthService
	cookies     *CookieManager
	logger      *logrus.Logger
}

func NewAuthHandlers(
	authService *service.AuthService,
	cookies *CookieManager,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		cookies:     cookies,
		logger:      logger,
	}
}

type RegisterRequest struct {
	FullName string `json:"fullName"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
}

// identifier picks the first login field the client supplied.
func (r LoginRequest) identifier() string {
	for _, v := range []string{r.UsernameOrEmail, r.Username, r.Email} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type LoginResponse struct {
	User         models.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type UpdateAccountRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	user, err := h.authService.Register(r.Context(), service.RegisterInput{
		FullName: req.FullName,
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, user)
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.authService.Login(r.Context(), req.identifier(), req.Password)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.cookies.SetTokens(w, &result.Tokens)
	h.respondWithJSON(w, http.StatusOK, LoginResponse{
		User:         result.User,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
	})
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	presented, err := refreshTokenFrom(w, r)
	if err != nil {
		h.respondWithBodyError(w, err)
		return
	}

	pair, err := h.authService.Refresh(r.Context(), presented)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.cookies.SetTokens(w, pair)
	h.respondWithJSON(w, http.StatusOK, RefreshTokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// refreshTokenFrom reads the refresh cookie, falling back to the JSON body.
// An empty body is not an error; the service reports the missing token.
func refreshTokenFrom(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(RefreshTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	var req RefreshTokenRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return req.RefreshToken, nil
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		h.respondWithServiceError(w, service.ErrUnauthenticated)
		return
	}

	err := h.authService.Logout(r.Context(), identity)
	h.cookies.Clear(w)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *AuthHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		h.respondWithServiceError(w, service.ErrUnauthenticated)
		return
	}

	var req ChangePasswordRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if err := h.authService.ChangePassword(r.Context(), identity, req.OldPassword, req.NewPassword); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Password changed successfully"})
}

func (h *AuthHandlers) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		h.respondWithServiceError(w, service.ErrUnauthenticated)
		return
	}

	var req UpdateAccountRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	user, err := h.authService.UpdateAccount(r.Context(), identity, req.FullName, req.Email)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, user)
}

func (h *AuthHandlers) CurrentUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		h.respondWithServiceError(w, service.ErrUnauthenticated)
		return
	}

	h.respondWithJSON(w, http.StatusOK, identity.User.Sanitized())
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	middleware.WriteJSON(w, status, payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, middleware.ErrorResponse{
		Error: middleware.ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// respondWithServiceError does not log; the service already logged internal
// failures.
func (h *AuthHandlers) respondWithServiceError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, err)
}

// decodeJSON decodes a request body of at most maxBodyBytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func (h *AuthHandlers) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		h.respondWithBodyError(w, err)
		return false
	}
	return true
}

func (h *AuthHandlers) respondWithBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.logger.WithField("limit", tooLarge.Limit).Debug("Request body too large")
		h.respondWithError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large")
		return
	}
	h.logger.WithError(err).Debug("Malformed request body")
	h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
}
