package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gogithub "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"
)

// Installation tokens last an hour; refresh a few minutes early.
const tokenRefreshMargin = 5 * time.Minute

// appTransport authenticates requests with a GitHub App installation token,
// minting a new one through the Apps API when the current one is about to
// expire.
type appTransport struct {
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	baseURL        string
	base           http.RoundTripper
	now            func() time.Time
	logger         zerolog.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

// LoadPrivateKey reads a PEM-encoded App private key.
func LoadPrivateKey(path string) ([]byte, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return keyData, nil
}

func newAppTransport(appID, installationID int64, keyData []byte, baseURL string, logger zerolog.Logger) (*appTransport, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &appTransport{
		appID:          appID,
		installationID: installationID,
		privateKey:     key,
		baseURL:        baseURL,
		base:           http.DefaultTransport,
		now:            time.Now,
		logger:         logger.With().Str("component", "github.app").Logger(),
	}, nil
}

func (t *appTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.installationToken(req.Context())
	if err != nil {
		return nil, err
	}
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "token "+token)
	return t.base.RoundTrip(req2)
}

// generateJWT creates a JWT for GitHub App authentication.
func (t *appTransport) generateJWT() (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", t.appID),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(t.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signed, nil
}

// installationToken returns the current installation token, minting a new
// one when none is held or it is about to expire.
func (t *appTransport) installationToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && t.now().Add(tokenRefreshMargin).Before(t.expires) {
		return t.token, nil
	}

	t.logger.Info().Int64("installation_id", t.installationID).Msg("generating new installation token")
	signed, err := t.generateJWT()
	if err != nil {
		return "", fmt.Errorf("generating JWT: %w", err)
	}

	apps := gogithub.NewClient(&http.Client{
		Transport: &bearerTransport{token: signed, base: t.base},
		Timeout:   30 * time.Second,
	})
	if t.baseURL != "" {
		if apps, err = apps.WithEnterpriseURLs(t.baseURL, t.baseURL); err != nil {
			return "", fmt.Errorf("configuring base URL: %w", err)
		}
	}

	tok, resp, err := apps.Apps.CreateInstallationToken(ctx, t.installationID, nil)
	if err != nil {
		return "", fmt.Errorf("requesting installation token: %w", apiError("installation_token", resp, err))
	}

	t.token = tok.GetToken()
	t.expires = tok.GetExpiresAt().Time
	if t.expires.IsZero() {
		t.expires = t.now().Add(time.Hour)
	}
	return t.token, nil
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req2)
}
