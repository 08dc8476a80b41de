package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jun/gophvault/internal/auth"
	"github.com/jun/gophvault/internal/blob"
	"github.com/jun/gophvault/internal/crypto"
	"github.com/jun/gophvault/internal/docstore"
	"github.com/jun/gophvault/internal/files"
	"github.com/jun/gophvault/internal/keyring"
	"github.com/jun/gophvault/internal/metadata"
	"github.com/jun/gophvault/internal/session"
	"github.com/jun/gophvault/internal/transfer"
	"github.com/jun/gophvault/internal/tree"
	"github.com/jun/gophvault/internal/workspace"
	"github.com/sirupsen/logrus"
)

const (
	sessionCookie   = "session_token"
	sessionAudience = "session"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
	ErrForbidden    = errors.New("forbidden")
)

// GetUserID extracts the user ID from the Authorization header or the
// session cookie.
func GetUserID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	tokenString := ""
	if authHeader := header(req, "Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}

	if tokenString == "" {
		for _, part := range strings.Split(header(req, "Cookie"), ";") {
			if v, ok := strings.CutPrefix(strings.TrimSpace(part), sessionCookie+"="); ok {
				tokenString = v
				break
			}
		}
	}

	if tokenString == "" {
		return "", fmt.Errorf("%w: no authorization token found", ErrUnauthorized)
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(sessionAudience),
	)
	if err != nil {
		return "", fmt.Errorf("%w: invalid token: %w", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// IssueToken signs a session token for userID.
func IssueToken(userID, jwtSecret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Audience:  jwt.ClaimStrings{sessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func decodeBody(req events.APIGatewayProxyRequest, v any) error {
	if err := json.Unmarshal([]byte(req.Body), v); err != nil {
		return fmt.Errorf("%w: invalid request body", ErrBadRequest)
	}
	return nil
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(v)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func noContent() events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
}

// errorResponse maps err to a status code. Details of server and backend
// failures are logged, not returned.
func errorResponse(log *logrus.Entry, err error) events.APIGatewayProxyResponse {
	status := StatusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusBadGateway:
		log.WithError(err).Error("Backend failure")
		msg = "storage backend failure"
	case status >= http.StatusInternalServerError:
		log.WithError(err).Error("Request failed")
		msg = "internal server error"
	case status == http.StatusUnauthorized:
		log.WithError(err).Debug("Request not authorized")
	}
	return jsonResponse(status, map[string]string{"error": msg})
}

// StatusFor returns the HTTP status for an error from the vault packages.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, tree.ErrEmptyName),
		errors.Is(err, files.ErrEmptyName),
		errors.Is(err, keyring.ErrEmptyPassword):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, workspace.ErrNoSession),
		errors.Is(err, keyring.ErrIncorrectPassword),
		errors.Is(err, keyring.ErrUnknownUser),
		errors.Is(err, keyring.ErrLocked),
		errors.Is(err, crypto.ErrAuthentication),
		errors.Is(err, metadata.ErrDecryption),
		errors.Is(err, auth.ErrInvalidState):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, tree.ErrInvalidMove),
		errors.Is(err, keyring.ErrUserExists),
		errors.Is(err, session.ErrLeaseHeld),
		errors.Is(err, auth.ErrNotLinked):
		return http.StatusConflict
	case errors.Is(err, tree.ErrNotFound),
		errors.Is(err, files.ErrNotFound),
		errors.Is(err, files.ErrFolderNotFound),
		errors.Is(err, files.ErrNoThumbnail),
		errors.Is(err, transfer.ErrNotFound),
		errors.Is(err, blob.ErrNotFound),
		errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, docstore.ErrBackend),
		errors.Is(err, blob.ErrBackend):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
