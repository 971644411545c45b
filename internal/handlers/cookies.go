package handlers

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/middleware"
	"github.com/streamhub/streamhub/internal/models"
)

const RefreshTokenCookie = "refreshToken"

// CookieManager maps a token pair to the session cookies and clears them.
// Both cookies are HttpOnly and, unless disabled for local development,
// Secure.
type CookieManager struct {
	cfg config.CookieConfig
	now func() time.Time
}

func NewCookieManager(cfg config.CookieConfig, logger *logrus.Logger) *CookieManager {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if !cfg.Secure {
		logger.Warn("Session cookies are not marked Secure and will be sent over plain HTTP; use COOKIE_SECURE=false only for local development")
	}
	return &CookieManager{cfg: cfg, now: time.Now}
}

func (m *CookieManager) SetTokens(w http.ResponseWriter, pair *models.TokenPair) {
	http.SetCookie(w, m.cookie(middleware.AccessTokenCookie, pair.AccessToken, pair.AccessExpiresAt))
	http.SetCookie(w, m.cookie(RefreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt))
}

func (m *CookieManager) Clear(w http.ResponseWriter) {
	for _, name := range []string{middleware.AccessTokenCookie, RefreshTokenCookie} {
		c := m.cookie(name, "", time.Unix(0, 0))
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (m *CookieManager) cookie(name, value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     m.cfg.Path,
		Domain:   m.cfg.Domain,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: m.cfg.SameSite,
		Expires:  expires,
	}
	if maxAge := int(expires.Sub(m.now()).Seconds()); maxAge > 0 {
		c.MaxAge = maxAge
	}
	return c
}
