// Package auth links a vault user to a Google account so the Drive blob
// backend can act on their behalf.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jun/gophvault/internal/crypto"
	"github.com/jun/gophvault/internal/docstore"
	"github.com/jun/gophvault/internal/logging"
	"github.com/jun/gophvault/internal/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// StateTTL bounds the time between GenerateAuthURL and the callback.
const StateTTL = 10 * time.Minute

const stateAudience = "drive-link"

var (
	ErrNotLinked      = errors.New("drive account not linked")
	ErrNoRefreshToken = errors.New("no refresh token in response")
	ErrInvalidState   = errors.New("invalid oauth state")
)

// LinkState is what a verified OAuth state says about a link request.
type LinkState struct {
	UserID string
	// Bootstrap marks a link requested before the user's vault existed.
	Bootstrap bool
}

type stateClaims struct {
	jwt.RegisteredClaims
	Bootstrap bool `json:"bootstrap,omitempty"`
}

// AuthService handles the Drive OAuth2 flow and the stored refresh tokens.
type AuthService struct {
	oauthConfig *oauth2.Config
	store       docstore.Store
	encryptor   crypto.TokenEncryptor
	stateSecret []byte
	now         func() time.Time
	log         *logrus.Entry
}

// NewAuthService creates an AuthService. stateSecret signs the OAuth state
// parameter.
func NewAuthService(oauthConfig *oauth2.Config, store docstore.Store, encryptor crypto.TokenEncryptor, stateSecret string, log *logrus.Entry) *AuthService {
	return &AuthService{
		oauthConfig: oauthConfig,
		store:       store,
		encryptor:   encryptor,
		stateSecret: []byte(stateSecret),
		now:         time.Now,
		log:         logging.OrDiscard(log).WithField("component", "auth"),
	}
}

func (s *AuthService) Config() *oauth2.Config {
	return s.oauthConfig
}

// GenerateAuthURL returns the Google consent URL. The state names userID and
// expires after StateTTL.
func (s *AuthService) GenerateAuthURL(userID string, bootstrap bool) (string, error) {
	now := s.now()
	claims := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
		},
		Bootstrap: bootstrap,
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.stateSecret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// ParseState verifies a state produced by GenerateAuthURL.
func (s *AuthService) ParseState(state string) (LinkState, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.stateSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return LinkState{}, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if claims.Subject == "" {
		return LinkState{}, ErrInvalidState
	}
	return LinkState{UserID: claims.Subject, Bootstrap: claims.Bootstrap}, nil
}

// ExchangeCode exchanges the authorization code for a token.
func (s *AuthService) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return s.oauthConfig.Exchange(ctx, code)
}

// SaveToken encrypts the refresh token and stores it for userID, replacing a
// previous one.
func (s *AuthService) SaveToken(ctx context.Context, userID string, token *oauth2.Token) error {
	if token.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	encrypted, err := s.encryptor.Encrypt(ctx, token.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	now := s.now().UTC()
	err = s.store.UpdateDocument(ctx, model.CollectionDriveTokens, userID, docstore.Update{
		"encryptedRefreshToken": encrypted,
		"updatedAt":             now,
	})
	if errors.Is(err, docstore.ErrNotFound) {
		err = s.store.CreateDocument(ctx, model.CollectionDriveTokens, userID, model.DriveToken{
			ID:                    userID,
			EncryptedRefreshToken: encrypted,
			UpdatedAt:             now,
		})
	}
	if err != nil {
		return fmt.Errorf("save drive token: %w", err)
	}
	s.log.WithField("user_id", userID).Info("Drive account linked")
	return nil
}

// GetToken returns the stored, still encrypted, token record.
func (s *AuthService) GetToken(ctx context.Context, userID string) (*model.DriveToken, error) {
	var token model.DriveToken
	if err := s.store.GetDocument(ctx, model.CollectionDriveTokens, userID, &token); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotLinked
		}
		return nil, fmt.Errorf("load drive token: %w", err)
	}
	return &token, nil
}

// GetClient returns an http.Client that authenticates as the user's linked
// Google account. Only values are taken from ctx, not its deadline.
func (s *AuthService) GetClient(ctx context.Context, userID string) (*http.Client, error) {
	stored, err := s.GetToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.encryptor.Decrypt(ctx, stored.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	// Expired on purpose so the first request refreshes.
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       s.now().Add(-time.Hour),
	}
	// The client outlives the request that built it; refreshes must not
	// inherit its cancellation.
	base := context.WithoutCancel(ctx)
	return oauth2.NewClient(base, s.oauthConfig.TokenSource(base, token)), nil
}
