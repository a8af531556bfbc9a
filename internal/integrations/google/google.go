package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Dan9191/user-service/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Identity is a verified external identity resolved from a Google ID token.
type Identity struct {
	Email     string
	Subject   string
	FullName  string
	AvatarURL string
}

// Client verifies Google ID tokens against the tokeninfo endpoint
type Client struct {
	url    string
	client *http.Client
	log    *logrus.Logger
}

// NewClient initializes a new Google token verifier
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url: cfg.GoogleTokenInfoURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// tokenInfo is the subset of the tokeninfo response we consume
type tokenInfo struct {
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Subject       string `json:"sub"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// precheck parses the token without signature verification to reject
// malformed or expired tokens before going to the network. Signature
// verification is delegated to the tokeninfo endpoint.
func (c *Client) precheck(token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("malformed token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp != nil && exp.Before(time.Now()) {
		return fmt.Errorf("token expired at %s", exp.Format(time.RFC3339))
	}
	return nil
}

// Verify resolves a Google ID token to a verified identity
func (c *Client) Verify(ctx context.Context, token string) (*Identity, error) {
	if err := c.precheck(token); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.url+"?id_token="+url.QueryEscape(token), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokeninfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tokeninfo rejected token: status %d", resp.StatusCode)
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode tokeninfo response: %w", err)
	}
	if info.Email == "" || info.Subject == "" {
		return nil, fmt.Errorf("tokeninfo response missing email or subject")
	}

	c.log.Debugf("Verified Google identity %s (sub %s)", info.Email, info.Subject)
	return &Identity{
		Email:     info.Email,
		Subject:   info.Subject,
		FullName:  info.Name,
		AvatarURL: info.Picture,
	}, nil
}
