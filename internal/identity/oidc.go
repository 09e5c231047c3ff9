package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/config"
)

// Userinfo is the identity asserted by the provider after login.
type Userinfo struct {
	Sub   string
	Email string
}

// Exchanger abstracts the identity provider: building the authorize
// redirect and exchanging an authorization code for a verified identity.
// Tests substitute a fake.
type Exchanger interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*Userinfo, error)
}

// oidcMetadata is the subset of the provider's discovery document used
// here.
type oidcMetadata struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
}

// OIDCExchanger talks to the university identity provider using its
// published discovery document.
type OIDCExchanger struct {
	cfg    config.AuthConfig
	client *http.Client

	mu   sync.Mutex
	meta *oidcMetadata
}

// NewOIDCExchanger creates an exchanger for the configured provider.
func NewOIDCExchanger(cfg config.AuthConfig) *OIDCExchanger {
	return &OIDCExchanger{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (e *OIDCExchanger) metadata(ctx context.Context) (*oidcMetadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.meta != nil {
		return e.meta, nil
	}

	wellKnown := strings.TrimRight(e.cfg.BaseURL, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("build discovery request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch provider metadata: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider metadata returned status %d", resp.StatusCode)
	}

	var meta oidcMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode provider metadata: %w", err)
	}
	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" || meta.UserinfoEndpoint == "" {
		return nil, fmt.Errorf("provider metadata incomplete")
	}

	e.meta = &meta
	return e.meta, nil
}

// AuthorizeURL builds the provider redirect for the login flow. Metadata
// is fetched lazily; a discovery failure here falls back to the standard
// authorize path under the base URL so login can still proceed.
func (e *OIDCExchanger) AuthorizeURL(state string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoint := strings.TrimRight(e.cfg.BaseURL, "/") + "/authorize"
	if meta, err := e.metadata(ctx); err == nil {
		endpoint = meta.AuthorizationEndpoint
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", e.cfg.ClientID)
	q.Set("redirect_uri", e.cfg.RedirectURI)
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	return endpoint + "?" + q.Encode()
}

// Exchange trades an authorization code for the provider's asserted
// identity.
func (e *OIDCExchanger) Exchange(ctx context.Context, code string) (*Userinfo, error) {
	meta, err := e.metadata(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", e.cfg.RedirectURI)
	form.Set("client_id", e.cfg.ClientID)
	form.Set("client_secret", e.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	return e.userinfo(ctx, meta.UserinfoEndpoint, token.AccessToken)
}

func (e *OIDCExchanger) userinfo(ctx context.Context, endpoint, accessToken string) (*Userinfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	var info struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Mail  string `json:"mail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("userinfo missing subject")
	}

	// University providers vary between "mail" and "email" claims.
	email := info.Email
	if email == "" {
		email = info.Mail
	}

	return &Userinfo{Sub: info.Sub, Email: strings.ToLower(email)}, nil
}
