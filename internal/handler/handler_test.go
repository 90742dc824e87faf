package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/sumire/userlink/internal/domain"
	"github.com/sumire/userlink/internal/handler"
	"github.com/sumire/userlink/internal/provider"
	"github.com/sumire/userlink/internal/repository"
	"github.com/sumire/userlink/internal/repository/migrations"
	"github.com/sumire/userlink/internal/service"
)

type fakeProvider struct{}

func (fakeProvider) Name() string { return "fake" }

func (fakeProvider) AuthCodeURL(state string) string {
	return "https://idp.test/authorize?state=" + url.QueryEscape(state)
}

func (fakeProvider) Exchange(_ context.Context, code string) (*provider.Profile, error) {
	switch code {
	case "good-code":
	case "unverified-code":
		return &provider.Profile{
			Identifier: domain.NewIdentifier("fake", "ext-2", nil),
			Email:      "alice@b.com",
		}, nil
	default:
		return nil, fmt.Errorf("%w: bad code", domain.ErrInvalidInput)
	}
	return &provider.Profile{
		Identifier:    domain.NewIdentifier("fake", "ext-1", map[string]any{"login": "alice"}),
		Email:         "alice@b.com",
		EmailVerified: true,
		DisplayName:   "Alice",
	}, nil
}

type response struct {
	Data  json.RawMessage   `json:"data"`
	Error *handler.APIError `json:"error"`
}

type userBody struct {
	ID          string                    `json:"id"`
	Email       string                    `json:"email"`
	DisplayName *string                   `json:"display_name"`
	VerifiedAt  *time.Time                `json:"verified_at"`
	Identifiers map[string]map[string]any `json:"identifiers"`
}

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "users.db") + "?_pragma=foreign_keys(1)"
	db, err := repository.Open(ctx, repository.DialectSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(ctx, db.DB, string(repository.DialectSQLite)))

	n := 0
	repo := repository.NewUserRepository(db, repository.WithIDGenerator(repository.IDGeneratorFunc(func() string {
		n++
		return fmt.Sprintf("user-%d", n)
	})))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewIdentityService(repo, logger,
		service.WithNow(func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }))

	e := handler.NewEcho(logger, nil)
	handler.RegisterRoutes(e,
		handler.NewUserHandler(svc),
		handler.NewAuthHandler(provider.NewRegistry(fakeProvider{}), svc))
	return e
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var resp response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func decodeUser(t *testing.T, raw json.RawMessage) userBody {
	t.Helper()
	var u userBody
	require.NoError(t, json.Unmarshal(raw, &u))
	return u
}

func TestHealth(t *testing.T) {
	e := newTestServer(t)

	rec, _ := do(t, e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterUser(t *testing.T) {
	e := newTestServer(t)

	rec, resp := do(t, e, http.MethodPost, "/api/v1/users",
		`{"email":"a@b.com","additional_data":{"plan":"free"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	user := decodeUser(t, resp.Data)
	require.Equal(t, "user-1", user.ID)
	require.Equal(t, "a@b.com", user.Email)

	rec, resp = do(t, e, http.MethodPost, "/api/v1/users", `{"email":"a@b.com"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict", resp.Error.Code)
}

func TestRegisterUserValidation(t *testing.T) {
	e := newTestServer(t)

	rec, resp := do(t, e, http.MethodPost, "/api/v1/users", `{"email":"not-an-email"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_error", resp.Error.Code)
	require.Len(t, resp.Error.Details, 1)
	require.Equal(t, "email", resp.Error.Details[0].Field)

	rec, resp = do(t, e, http.MethodPost, "/api/v1/users", `{"email":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_input", resp.Error.Code)
}

func TestGetUser(t *testing.T) {
	e := newTestServer(t)
	do(t, e, http.MethodPost, "/api/v1/users", `{"email":"a@b.com"}`)

	rec, resp := do(t, e, http.MethodGet, "/api/v1/users/user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "a@b.com", decodeUser(t, resp.Data).Email)

	rec, resp = do(t, e, http.MethodGet, "/api/v1/users?email=a@b.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-1", decodeUser(t, resp.Data).ID)

	rec, resp = do(t, e, http.MethodGet, "/api/v1/users/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", resp.Error.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/v1/users", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLinkAndUnlinkIdentifier(t *testing.T) {
	e := newTestServer(t)
	do(t, e, http.MethodPost, "/api/v1/users", `{"email":"a@b.com"}`)

	rec, resp := do(t, e, http.MethodPut, "/api/v1/users/user-1/identifiers/google",
		`{"external_id":"g-1","raw_data":{"sub":"g-1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	user := decodeUser(t, resp.Data)
	require.Contains(t, user.Identifiers, "google")
	require.Equal(t, "g-1", user.Identifiers["google"]["id"])

	rec, resp = do(t, e, http.MethodGet, "/api/v1/identities/google/g-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-1", decodeUser(t, resp.Data).ID)

	rec, _ = do(t, e, http.MethodDelete, "/api/v1/users/user-1/identifiers/google", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/v1/identities/google/g-1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = do(t, e, http.MethodGet, "/api/v1/users/user-1/identifiers?include_deleted=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var links []repository.LinkRecord
	require.NoError(t, json.Unmarshal(resp.Data, &links))
	require.Len(t, links, 1)
	require.NotNil(t, links[0].DeletedAt)

	rec, resp = do(t, e, http.MethodGet, "/api/v1/users/user-1/identifiers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, string(resp.Data))
}

func TestLinkIdentifierValidation(t *testing.T) {
	e := newTestServer(t)
	do(t, e, http.MethodPost, "/api/v1/users", `{"email":"a@b.com"}`)

	rec, resp := do(t, e, http.MethodPut, "/api/v1/users/user-1/identifiers/Google", `{"external_id":"g-1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "provider", resp.Error.Details[0].Field)

	rec, resp = do(t, e, http.MethodPut, "/api/v1/users/user-1/identifiers/google", `{"raw_data":{}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "external_id", resp.Error.Details[0].Field)

	rec, _ = do(t, e, http.MethodDelete, "/api/v1/users/user-1/identifiers/github", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = do(t, e, http.MethodGet, "/api/v1/users/user-1/identifiers?include_deleted=maybe", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_input", resp.Error.Code)
}

func TestLinkIdentifierConflict(t *testing.T) {
	e := newTestServer(t)
	do(t, e, http.MethodPost, "/api/v1/users", `{"email":"a@b.com"}`)
	do(t, e, http.MethodPost, "/api/v1/users", `{"email":"c@d.com"}`)

	rec, _ := do(t, e, http.MethodPut, "/api/v1/users/user-1/identifiers/google", `{"external_id":"g-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := do(t, e, http.MethodPut, "/api/v1/users/user-2/identifiers/google", `{"external_id":"g-1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict", resp.Error.Code)
}

func TestVerifyUser(t *testing.T) {
	e := newTestServer(t)
	do(t, e, http.MethodPost, "/api/v1/users", `{"email":"a@b.com"}`)

	rec, resp := do(t, e, http.MethodPost, "/api/v1/users/user-1/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	user := decodeUser(t, resp.Data)
	require.NotNil(t, user.VerifiedAt)
	require.True(t, user.VerifiedAt.Equal(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)))
}

func TestAuthRedirect(t *testing.T) {
	e := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/fake", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "oauth_state", cookies[0].Name)
	require.Equal(t, "https://idp.test/authorize?state="+url.QueryEscape(cookies[0].Value), rec.Header().Get("Location"))

	rec, _ = do(t, e, http.MethodGet, "/api/v1/auth/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func callback(t *testing.T, e *echo.Echo, cookieState, queryState, code string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	q := url.Values{"state": {queryState}, "code": {code}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/fake/callback?"+q.Encode(), nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: "oauth_state", Value: cookieState})
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestAuthCallback(t *testing.T) {
	e := newTestServer(t)

	rec, resp := callback(t, e, "s1", "s1", "good-code")
	require.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		User    userBody `json:"user"`
		Created bool     `json:"created"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &body))
	require.True(t, body.Created)
	require.Equal(t, "alice@b.com", body.User.Email)
	require.NotNil(t, body.User.VerifiedAt)
	require.Contains(t, body.User.Identifiers, "fake")

	rec, resp = callback(t, e, "s2", "s2", "good-code")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &body))
	require.False(t, body.Created)
	require.Equal(t, "user-1", body.User.ID)
}

func TestAuthCallbackRejects(t *testing.T) {
	e := newTestServer(t)

	rec, resp := callback(t, e, "", "s1", "good-code")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_input", resp.Error.Code)

	rec, _ = callback(t, e, "s1", "other", "good-code")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = callback(t, e, "s1", "s1", "bad-code")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthCallbackUnverifiedEmailOfExistingUser(t *testing.T) {
	e := newTestServer(t)

	rec, _ := callback(t, e, "s1", "s1", "good-code")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, resp := callback(t, e, "s2", "s2", "unverified-code")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict", resp.Error.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/v1/identities/fake/ext-2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, e, http.MethodGet, "/api/v1/identities/fake/ext-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
