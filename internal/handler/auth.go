package handler

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/userlink/internal/domain"
	"github.com/sumire/userlink/internal/provider"
	"github.com/sumire/userlink/internal/service"
)

const stateCookie = "oauth_state"

// AuthHandler runs the OAuth sign-in flow and resolves the returned
// provider account to a user.
type AuthHandler struct {
	providers  *provider.Registry
	identities *service.IdentityService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(providers *provider.Registry, identities *service.IdentityService) *AuthHandler {
	return &AuthHandler{providers: providers, identities: identities}
}

// Redirect sends the browser to the provider's consent page.
func (h *AuthHandler) Redirect(c echo.Context) error {
	p, err := h.providers.Get(c.Param("provider"))
	if err != nil {
		return err
	}

	state, err := generateState()
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
	return c.Redirect(http.StatusTemporaryRedirect, p.AuthCodeURL(state))
}

// Callback exchanges the authorization code and links or creates the user.
func (h *AuthHandler) Callback(c echo.Context) error {
	p, err := h.providers.Get(c.Param("provider"))
	if err != nil {
		return err
	}
	if err := validateOAuthState(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	code := c.QueryParam("code")
	if code == "" {
		return fmt.Errorf("%w: missing code parameter", domain.ErrInvalidInput)
	}

	ctx := c.Request().Context()
	profile, err := p.Exchange(ctx, code)
	if err != nil {
		return err
	}

	user, created, err := h.identities.ResolveIdentity(ctx, service.SignIn{
		Identifier:    profile.Identifier,
		Email:         profile.Email,
		EmailVerified: profile.EmailVerified,
		DisplayName:   profile.DisplayName,
	})
	if err != nil {
		return err
	}

	c.SetCookie(&http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return JSON(c, status, map[string]any{
		"user":    user,
		"created": created,
	})
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func validateOAuthState(c echo.Context) error {
	cookie, err := c.Cookie(stateCookie)
	if err != nil {
		return fmt.Errorf("missing %s cookie", stateCookie)
	}

	queryState := c.QueryParam("state")
	if queryState == "" || queryState != cookie.Value {
		return fmt.Errorf("state mismatch")
	}
	return nil
}
