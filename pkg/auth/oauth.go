// Package auth implements OAuth PKCE login and refresh for LLM providers
// that authenticate subscription access (Claude Pro/Max, ChatGPT) rather
// than a bare API key, plus the on-disk credential store both flows and the
// plain-API-key path share.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// OAuthProviderConfig describes one provider's PKCE authorization-code flow.
type OAuthProviderConfig struct {
	Issuer           string // base URL for authorize + (default) token endpoints
	AuthorizeBaseURL string // overrides Issuer for the authorize step only
	TokenEndpoint    string // path, defaults to /oauth/token
	ClientID         string
	Scopes           string
	Originator       string // OpenAI-specific client identifier
	Port             int    // local redirect listener port
	Provider         string // "anthropic" | "openai"
}

func (c OAuthProviderConfig) tokenEndpointURL() string {
	ep := c.TokenEndpoint
	if ep == "" {
		ep = "/oauth/token"
	}
	return c.Issuer + ep
}

func (c OAuthProviderConfig) authorizeBaseURL() string {
	if c.AuthorizeBaseURL != "" {
		return c.AuthorizeBaseURL
	}
	return c.Issuer
}

// OpenAIOAuthConfig returns the PKCE config for ChatGPT-subscription login.
func OpenAIOAuthConfig() OAuthProviderConfig {
	return OAuthProviderConfig{
		Issuer:     "https://auth.openai.com",
		ClientID:   "app_EMoamEEZ73f0CkXaXp7hrann",
		Scopes:     "openid profile email offline_access",
		Originator: "codex_cli_rs",
		Port:       1455,
		Provider:   "openai",
	}
}

// AnthropicOAuthConfig returns the PKCE config for Claude Pro/Max login.
func AnthropicOAuthConfig() OAuthProviderConfig {
	return OAuthProviderConfig{
		Issuer:           "https://console.anthropic.com",
		AuthorizeBaseURL: "https://claude.ai",
		TokenEndpoint:    "/v1/oauth/token",
		ClientID:         "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
		Scopes:           "org:create_api_key user:profile user:inference",
		Port:             8080,
		Provider:         "anthropic",
	}
}

// PKCECodes holds a generated PKCE verifier/challenge pair.
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCE creates a random verifier and its S256 challenge.
func GeneratePKCE() (PKCECodes, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return PKCECodes{}, errors.Wrap(err, "generating PKCE verifier")
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return PKCECodes{CodeVerifier: verifier, CodeChallenge: challenge}, nil
}

// BuildAuthorizeURL constructs the browser-facing authorization URL for cfg.
func BuildAuthorizeURL(cfg OAuthProviderConfig, pkce PKCECodes, state, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", cfg.Scopes)
	q.Set("code_challenge", pkce.CodeChallenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", state)

	if cfg.Provider == "openai" {
		q.Set("id_token_add_organizations", "true")
		q.Set("codex_cli_simplified_flow", "true")
		if cfg.Originator != "" {
			q.Set("originator", cfg.Originator)
		}
	}

	return cfg.authorizeBaseURL() + "/oauth/authorize?" + q.Encode()
}

// AuthCredential is the persisted token state for one provider.
type AuthCredential struct {
	Provider     string    `json:"provider"`
	AuthMethod   string    `json:"auth_method"` // "oauth" | "api_key"
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	AccountID    string    `json:"account_id,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NeedsRefresh reports whether the access token is expired or close enough
// to expiring (60s skew) that a request made now risks a 401.
func (c *AuthCredential) NeedsRefresh() bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(60 * time.Second).After(c.ExpiresAt)
}

func parseTokenResponse(body []byte, provider string) (*AuthCredential, error) {
	var raw struct {
		AccessToken  string      `json:"access_token"`
		RefreshToken string      `json:"refresh_token"`
		IDToken      string      `json:"id_token"`
		ExpiresIn    json.Number `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing token response")
	}
	if raw.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}

	cred := &AuthCredential{
		Provider:     provider,
		AuthMethod:   "oauth",
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
	}

	if raw.ExpiresIn != "" {
		secs, err := raw.ExpiresIn.Int64()
		if err == nil {
			cred.ExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = time.Now().Add(time.Hour)
	}

	if raw.IDToken != "" {
		if accountID := accountIDFromJWT(raw.IDToken); accountID != "" {
			cred.AccountID = accountID
		}
	}
	if cred.AccountID == "" && raw.AccessToken != "" {
		if accountID := accountIDFromJWT(raw.AccessToken); accountID != "" {
			cred.AccountID = accountID
		}
	}

	return cred, nil
}

// accountIDFromJWT extracts the OpenAI chatgpt_account_id claim from an
// unverified JWT payload. Returns "" if the token isn't a JWT or the claim
// is absent — auth doesn't depend on this value being present.
func accountIDFromJWT(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Auth struct {
			ChatGPTAccountID string `json:"chatgpt_account_id"`
		} `json:"https://api.openai.com/auth"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Auth.ChatGPTAccountID
}

func exchangeCodeForTokens(cfg OAuthProviderConfig, code, codeVerifier, redirectURI string) (*AuthCredential, error) {
	if cfg.Provider == "anthropic" {
		return postJSONToken(cfg, map[string]string{
			"grant_type":    "authorization_code",
			"code":          code,
			"client_id":     cfg.ClientID,
			"redirect_uri":  redirectURI,
			"code_verifier": codeVerifier,
		})
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", cfg.ClientID)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", codeVerifier)
	return postFormToken(cfg, form)
}

// RefreshAccessToken exchanges cred's refresh token for a new access token.
func RefreshAccessToken(cred *AuthCredential, cfg OAuthProviderConfig) (*AuthCredential, error) {
	if cred.RefreshToken == "" {
		return nil, errors.New("credential has no refresh token")
	}

	var refreshed *AuthCredential
	var err error
	if cfg.Provider == "anthropic" {
		refreshed, err = postJSONToken(cfg, map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": cred.RefreshToken,
			"client_id":     cfg.ClientID,
		})
	} else {
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", cred.RefreshToken)
		form.Set("client_id", cfg.ClientID)
		refreshed, err = postFormToken(cfg, form)
	}
	if err != nil {
		return nil, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	refreshed.Provider = cred.Provider
	refreshed.AccountID = cred.AccountID
	return refreshed, nil
}

func postFormToken(cfg OAuthProviderConfig, form url.Values) (*AuthCredential, error) {
	resp, err := http.PostForm(cfg.tokenEndpointURL(), form)
	if err != nil {
		return nil, errors.Wrap(err, "posting token request")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading token response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return parseTokenResponse(body, cfg.Provider)
}

func postJSONToken(cfg OAuthProviderConfig, payload map[string]string) (*AuthCredential, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encoding token request")
	}
	req, err := http.NewRequest(http.MethodPost, cfg.tokenEndpointURL(), strings.NewReader(string(body)))
	if err != nil {
		return nil, errors.Wrap(err, "building token request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "posting token request")
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading token response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return parseTokenResponse(respBody, cfg.Provider)
}

// DeviceCodeResponse is the device-authorization-grant response some
// providers offer as a browserless fallback to the PKCE flow.
type DeviceCodeResponse struct {
	DeviceAuthID string
	UserCode     string
	Interval     int
}

func parseDeviceCodeResponse(body []byte) (*DeviceCodeResponse, error) {
	var raw struct {
		DeviceAuthID string      `json:"device_auth_id"`
		UserCode     string      `json:"user_code"`
		Interval     json.Number `json:"interval"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing device code response")
	}
	resp := &DeviceCodeResponse{DeviceAuthID: raw.DeviceAuthID, UserCode: raw.UserCode}
	if raw.Interval != "" {
		n, err := raw.Interval.Int64()
		if err != nil {
			return nil, errors.Wrap(err, "parsing device code interval")
		}
		resp.Interval = int(n)
	}
	return resp, nil
}

// ExchangeCodeForTokens performs the authorization-code exchange step of a
// PKCE login for the given provider config.
func ExchangeCodeForTokens(cfg OAuthProviderConfig, code, codeVerifier, redirectURI string) (*AuthCredential, error) {
	return exchangeCodeForTokens(cfg, code, codeVerifier, redirectURI)
}
