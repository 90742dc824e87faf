package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sumire/userlink/internal/domain"
)

const (
	githubUserURL   = "https://api.github.com/user"
	githubEmailsURL = "https://api.github.com/user/emails"
)

// GitHub signs users in with GitHub accounts.
type GitHub struct {
	oauth     *oauth2.Config
	userURL   string
	emailsURL string
}

// NewGitHub creates a GitHub provider.
func NewGitHub(cfg Config) *GitHub {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = github.Endpoint
	}
	userURL := cfg.UserInfoURL
	if userURL == "" {
		userURL = githubUserURL
	}
	emailsURL := cfg.EmailsURL
	if emailsURL == "" {
		emailsURL = githubEmailsURL
	}
	return &GitHub{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{"user:email"},
			RedirectURL:  cfg.RedirectURL,
		},
		userURL:   userURL,
		emailsURL: emailsURL,
	}
}

func (g *GitHub) Name() string { return "github" }

// AuthCodeURL returns the GitHub consent page URL.
func (g *GitHub) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

type githubUserInfo struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

var githubHeader = http.Header{"Accept": []string{"application/vnd.github.v3+json"}}

// Exchange trades code for a token and loads the account. The emails
// endpoint decides whether the address is verified; when the profile hides
// its email, a verified address from that endpoint is used instead.
func (g *GitHub) Exchange(ctx context.Context, code string) (*Profile, error) {
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: github token exchange: %w", domain.ErrInvalidInput, err)
	}
	client := g.oauth.Client(ctx, token)

	var info githubUserInfo
	raw, err := fetchJSON(ctx, client, g.userURL, githubHeader, &info)
	if err != nil {
		return nil, fmt.Errorf("fetch github user info: %w", err)
	}
	if info.ID == 0 {
		return nil, fmt.Errorf("github user info has no id")
	}

	profile := &Profile{
		Identifier:  domain.NewIdentifier(g.Name(), strconv.FormatInt(info.ID, 10), raw),
		DisplayName: info.Name,
	}
	if profile.DisplayName == "" {
		profile.DisplayName = info.Login
	}

	emails, err := g.emails(ctx, client)
	if err != nil {
		return nil, err
	}
	if info.Email != "" {
		profile.Email = info.Email
		profile.EmailVerified = isVerified(emails, info.Email)
		return profile, nil
	}

	email, err := pickEmail(emails)
	if err != nil {
		return nil, err
	}
	profile.Email = email.Email
	profile.EmailVerified = email.Verified
	return profile, nil
}

func (g *GitHub) emails(ctx context.Context, client *http.Client) ([]githubEmail, error) {
	var emails []githubEmail
	if _, err := fetchJSON(ctx, client, g.emailsURL, githubHeader, &emails); err != nil {
		return nil, fmt.Errorf("fetch github emails: %w", err)
	}
	return emails, nil
}

// pickEmail prefers the primary address and otherwise the first address,
// but only among verified ones.
func pickEmail(emails []githubEmail) (githubEmail, error) {
	var fallback *githubEmail
	for i, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e, nil
		}
		if fallback == nil {
			fallback = &emails[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return githubEmail{}, fmt.Errorf("%w: github account has no verified email", domain.ErrInvalidInput)
}

func isVerified(emails []githubEmail, address string) bool {
	for _, e := range emails {
		if strings.EqualFold(e.Email, address) {
			return e.Verified
		}
	}
	return false
}
