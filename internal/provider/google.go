package provider

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"

	"github.com/sumire/userlink/internal/domain"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Google signs users in with Google accounts.
type Google struct {
	oauth       *oauth2.Config
	userInfoURL string
}

// NewGoogle creates a Google provider.
func NewGoogle(cfg Config) *Google {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = googleOAuth.Endpoint
	}
	userInfo := cfg.UserInfoURL
	if userInfo == "" {
		userInfo = googleUserInfoURL
	}
	return &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "profile", "email"},
			RedirectURL:  cfg.RedirectURL,
		},
		userInfoURL: userInfo,
	}
}

func (g *Google) Name() string { return "google" }

// AuthCodeURL returns the Google consent page URL.
func (g *Google) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange trades code for a token and loads the account's user info.
func (g *Google) Exchange(ctx context.Context, code string) (*Profile, error) {
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: google token exchange: %w", domain.ErrInvalidInput, err)
	}

	var info googleUserInfo
	raw, err := fetchJSON(ctx, g.oauth.Client(ctx, token), g.userInfoURL, http.Header{}, &info)
	if err != nil {
		return nil, fmt.Errorf("fetch google user info: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("google user info has no id")
	}

	return &Profile{
		Identifier:    domain.NewIdentifier(g.Name(), info.ID, raw),
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		DisplayName:   info.Name,
	}, nil
}
