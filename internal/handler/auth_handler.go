package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"bookshelf-service/internal/model"
	"bookshelf-service/internal/service"
	"bookshelf-service/pkg/logger"
)

const loginKey = "login"

// CurrentLogin returns the login the bearer middleware resolved, or nil
func CurrentLogin(c echo.Context) *model.Login {
	login, _ := c.Get(loginKey).(*model.Login)
	return login
}

// SetLogin stores the resolved login on the request
func SetLogin(c echo.Context, login *model.Login) {
	c.Set(loginKey, login)
}

// Auth is what the login routes need from the auth service
type Auth interface {
	Signup(ctx context.Context, identifier, password string) (*model.Login, error)
	IssueToken(ctx context.Context, identifier, password string) (*service.Token, error)
	Verify(ctx context.Context, login *model.Login, token string) (*model.Login, error)
}

type AuthHandler struct {
	auth Auth
}

func NewAuthHandler(auth Auth) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// signupResponse shows the verification token once, standing in for the
// verification mail
type signupResponse struct {
	*model.Login
	VerificationToken uuid.UUID `json:"verification_token"`
}

// Signup creates a login and provisions its tenant
func (h *AuthHandler) Signup(c echo.Context) error {
	log := logger.FromContext(c)

	var req model.LoginCreate
	if err := bindOne(c, &req); err != nil {
		return RespondError(c, err)
	}

	login, err := h.auth.Signup(c.Request().Context(), req.Identifier, req.Password)
	if err != nil {
		log.Warn("Signup failed", zap.String("identifier", req.Identifier), zap.Error(err))
		return RespondError(c, err)
	}

	log.Info("Signup completed", zap.String("identifier", login.Identifier))
	return c.JSON(http.StatusOK, signupResponse{Login: login, VerificationToken: login.VerificationToken})
}

// GetAccessToken exchanges form-encoded username and password for a token
func (h *AuthHandler) GetAccessToken(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")
	if username == "" || password == "" {
		return RespondError(c, invalid("username and password are required"))
	}

	token, err := h.auth.IssueToken(c.Request().Context(), username, password)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, token)
}

// VerifyLogin confirms the login with the token from the verification mail
func (h *AuthHandler) VerifyLogin(c echo.Context) error {
	login := CurrentLogin(c)
	if login == nil {
		return RespondError(c, service.ErrInvalidToken)
	}

	if _, err := h.auth.Verify(c.Request().Context(), login, c.QueryParam("verification_token")); err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Login details have been verified."})
}

// Me returns the caller's login
func (h *AuthHandler) Me(c echo.Context) error {
	login := CurrentLogin(c)
	if login == nil {
		return RespondError(c, service.ErrInvalidToken)
	}
	return c.JSON(http.StatusOK, login)
}
