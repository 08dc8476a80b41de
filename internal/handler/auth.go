package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/gophvault/internal/auth"
	"github.com/jun/gophvault/internal/logging"
	"github.com/jun/gophvault/internal/workspace"
	"github.com/sirupsen/logrus"
)

// AuthHandler handles registration, unlock, password change and Drive
// account linking.
type AuthHandler struct {
	registry  *workspace.Registry
	drive     *auth.AuthService
	jwtSecret string
	ttl       time.Duration
	log       *logrus.Entry
}

// NewAuthHandler creates an AuthHandler. drive may be nil when no Google
// client is configured.
func NewAuthHandler(registry *workspace.Registry, drive *auth.AuthService, jwtSecret string, ttl time.Duration, log *logrus.Entry) *AuthHandler {
	return &AuthHandler{
		registry:  registry,
		drive:     drive,
		jwtSecret: jwtSecret,
		ttl:       ttl,
		log:       logging.OrDiscard(log).WithField("component", "auth_handler"),
	}
}

type credentials struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

func (c credentials) validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrBadRequest)
	}
	return nil
}

// Register creates a vault and returns a session token.
func (h *AuthHandler) Register(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var in credentials
	if err := decodeBody(req, &in); err != nil {
		return errorResponse(h.log, err), nil
	}
	if err := in.validate(); err != nil {
		return errorResponse(h.log, err), nil
	}

	ws, err := h.registry.Register(ctx, in.UserID, in.Password)
	if err != nil {
		return errorResponse(h.log.WithField("user_id", in.UserID), err), nil
	}
	return h.session(http.StatusCreated, in.UserID, map[string]string{"bucketId": ws.BucketID()})
}

// Unlock opens an existing vault and returns a session token.
func (h *AuthHandler) Unlock(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var in credentials
	if err := decodeBody(req, &in); err != nil {
		return errorResponse(h.log, err), nil
	}
	if err := in.validate(); err != nil {
		return errorResponse(h.log, err), nil
	}

	if _, err := h.registry.Unlock(ctx, in.UserID, in.Password); err != nil {
		return errorResponse(h.log.WithField("user_id", in.UserID), err), nil
	}
	return h.session(http.StatusOK, in.UserID, nil)
}

// ChangePassword re-wraps the keys of the caller's vault.
func (h *AuthHandler) ChangePassword(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, err := currentWorkspace(req, h.registry, h.jwtSecret)
	if err != nil {
		return errorResponse(h.log, err), nil
	}

	var in struct {
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(req, &in); err != nil {
		return errorResponse(h.log, err), nil
	}
	if err := ws.Keys.ChangePassword(ctx, in.NewPassword); err != nil {
		return errorResponse(h.log.WithField("user_id", ws.UserID), err), nil
	}
	return noContent(), nil
}

// SignOut wipes the caller's keys and clears the session cookie.
func (h *AuthHandler) SignOut(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	h.registry.SignOut(userID)

	resp := noContent()
	resp.MultiValueHeaders = map[string][]string{
		"Set-Cookie": {sessionCookie + "=; HttpOnly; Path=/; Max-Age=0; SameSite=Strict"},
	}
	return resp, nil
}

// DriveLogin redirects to the Google consent page for the user named in the
// userId query parameter. Before the vault exists anyone may start the link;
// afterwards only a session of that user may relink.
func (h *AuthHandler) DriveLogin(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if h.drive == nil {
		return jsonResponse(http.StatusNotImplemented, map[string]string{"error": "google drive is not configured"}), nil
	}
	userID := req.QueryStringParameters["userId"]
	if userID == "" {
		return errorResponse(h.log, fmt.Errorf("%w: userId is required", ErrBadRequest)), nil
	}

	exists, err := h.registry.Exists(ctx, userID)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	if exists {
		caller, err := GetUserID(req, h.jwtSecret)
		if err != nil {
			return errorResponse(h.log, err), nil
		}
		if caller != userID {
			return errorResponse(h.log, fmt.Errorf("%w: cannot link drive for another user", ErrForbidden)), nil
		}
	}

	url, err := h.drive.GenerateAuthURL(userID, !exists)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": url,
		},
	}, nil
}

// DriveCallback stores the refresh token returned by Google.
func (h *AuthHandler) DriveCallback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if h.drive == nil {
		return jsonResponse(http.StatusNotImplemented, map[string]string{"error": "google drive is not configured"}), nil
	}
	code := req.QueryStringParameters["code"]
	if code == "" {
		return errorResponse(h.log, fmt.Errorf("%w: missing code", ErrBadRequest)), nil
	}
	link, err := h.drive.ParseState(req.QueryStringParameters["state"])
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	userID := link.UserID
	log := h.log.WithField("user_id", userID)

	if link.Bootstrap {
		exists, err := h.registry.Exists(ctx, userID)
		if err != nil {
			return errorResponse(log, err), nil
		}
		if exists {
			return errorResponse(log, fmt.Errorf("%w: vault registered since the link was requested", ErrForbidden)), nil
		}
	}

	token, err := h.drive.ExchangeCode(ctx, code)
	if err != nil {
		log.WithError(err).Error("ExchangeCode failed")
		return jsonResponse(http.StatusBadGateway, map[string]string{"error": "failed to exchange code"}), nil
	}
	if err := h.drive.SaveToken(ctx, userID, token); err != nil {
		if errors.Is(err, auth.ErrNoRefreshToken) {
			return errorResponse(log, fmt.Errorf("%w: %w", ErrBadRequest, err)), nil
		}
		return errorResponse(log, err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"userId": userID, "linked": true}), nil
}

func (h *AuthHandler) session(status int, userID string, extra map[string]string) (events.APIGatewayProxyResponse, error) {
	token, err := IssueToken(userID, h.jwtSecret, h.ttl)
	if err != nil {
		return errorResponse(h.log, fmt.Errorf("sign session token: %w", err)), nil
	}

	body := map[string]string{"token": token}
	for k, v := range extra {
		body[k] = v
	}
	resp := jsonResponse(status, body)
	resp.MultiValueHeaders = map[string][]string{
		"Set-Cookie": {fmt.Sprintf("%s=%s; HttpOnly; Path=/; Max-Age=%d; SameSite=Strict", sessionCookie, token, int(h.ttl.Seconds()))},
	}
	return resp, nil
}

// currentWorkspace resolves the caller's unlocked workspace.
func currentWorkspace(req events.APIGatewayProxyRequest, registry *workspace.Registry, jwtSecret string) (*workspace.Workspace, error) {
	userID, err := GetUserID(req, jwtSecret)
	if err != nil {
		return nil, err
	}
	return registry.Get(userID)
}
