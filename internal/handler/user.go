package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sumire/userlink/internal/domain"
	"github.com/sumire/userlink/internal/service"
)

// UserHandler handles user and identifier endpoints.
type UserHandler struct {
	identities *service.IdentityService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(identities *service.IdentityService) *UserHandler {
	return &UserHandler{identities: identities}
}

type registerRequest struct {
	Email          string         `json:"email" validate:"required,email,max=255"`
	AdditionalData map[string]any `json:"additional_data"`
}

type linkRequest struct {
	UserID     string         `json:"-" param:"id" validate:"required"`
	Provider   string         `json:"-" param:"provider" validate:"required,provider"`
	ExternalID string         `json:"external_id" validate:"required,max=128"`
	RawData    map[string]any `json:"raw_data"`
}

type identityRequest struct {
	Provider   string `json:"-" param:"provider" validate:"required,provider"`
	ExternalID string `json:"-" param:"external_id" validate:"required,max=128"`
}

// Register creates a user.
func (h *UserHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	data := map[string]any{domain.RegistrationEmail: req.Email}
	if req.AdditionalData != nil {
		data[domain.RegistrationAdditionalData] = req.AdditionalData
	}

	user, err := h.identities.Register(c.Request().Context(), domain.NewRegistrationContext(data))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, user)
}

// Get returns a user by id.
func (h *UserHandler) Get(c echo.Context) error {
	user, err := h.identities.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, user)
}

// FindByEmail returns the user owning the email query parameter.
func (h *UserHandler) FindByEmail(c echo.Context) error {
	email := c.QueryParam("email")
	if email == "" {
		return &domain.ValidationError{Field: "email", Message: "query parameter is required"}
	}
	user, err := h.identities.FindByEmail(c.Request().Context(), email)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, user)
}

// FindByIdentity returns the user actively linked to a provider account.
func (h *UserHandler) FindByIdentity(c echo.Context) error {
	var req identityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := h.identities.FindByIdentity(c.Request().Context(), req.Provider, req.ExternalID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, user)
}

// ListIdentifiers returns the link rows of a user. Pass include_deleted=true
// to see soft-deleted links.
func (h *UserHandler) ListIdentifiers(c echo.Context) error {
	includeDeleted := false
	if v := c.QueryParam("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: include_deleted must be a boolean", domain.ErrInvalidInput)
		}
		includeDeleted = b
	}

	links, err := h.identities.ListIdentifiers(c.Request().Context(), c.Param("id"), includeDeleted)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, links)
}

// LinkIdentifier links a provider account to a user.
func (h *UserHandler) LinkIdentifier(c echo.Context) error {
	var req linkRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	id := domain.NewIdentifier(req.Provider, req.ExternalID, req.RawData)
	user, err := h.identities.LinkIdentifier(c.Request().Context(), req.UserID, id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, user)
}

// UnlinkIdentifier soft-deletes a user's link for a provider.
func (h *UserHandler) UnlinkIdentifier(c echo.Context) error {
	user, err := h.identities.UnlinkIdentifier(c.Request().Context(), c.Param("id"), c.Param("provider"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, user)
}

// Verify marks a user as verified.
func (h *UserHandler) Verify(c echo.Context) error {
	user, err := h.identities.MarkVerified(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, user)
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return c.Validate(dst)
}
