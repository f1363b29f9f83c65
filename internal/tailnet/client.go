// Package tailnet creates short-lived tailnet auth keys for approved
// accounts, exchanging a long-lived OAuth client secret for an access token
// and using that token against the tailnet control-plane API.
package tailnet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/lowaccess/tailgate/internal/logx"
)

// DefaultAPIBaseURL is the public tailnet control-plane API.
const DefaultAPIBaseURL = "https://api.tailscale.com/api/v2"

// authKeyExpirySeconds is the lifetime of every auth key we mint.
const authKeyExpirySeconds = 7200

// Failure classes for auth key creation.
var (
	// ErrAuthFailed means the OAuth secret was rejected during token exchange.
	ErrAuthFailed = errors.New("tailnet oauth token exchange failed")
	// ErrRequestFailed means the key-creation call itself was rejected.
	ErrRequestFailed = errors.New("tailnet key creation failed")
	// ErrInvalidResponse means the API answered success with an unusable body.
	ErrInvalidResponse = errors.New("tailnet api response invalid")
)

// SecretSource supplies the OAuth client secret on demand. The server wires
// this to a file read so the secret never sits in the config struct.
type SecretSource func() (string, error)

// Client talks to the tailnet API. One access token is cached process-wide
// and renewed on expiry; see tokenCache.
type Client struct {
	baseURL string
	httpc   *http.Client
	secret  SecretSource
	tags    []string
	tokens  tokenCache
}

// NewClient builds a client for the given API base URL (empty selects the
// default), reading the OAuth client secret from secret and tagging every
// created key with tags.
func NewClient(baseURL string, secret SecretSource, tags []string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 20 * time.Second},
		secret:  secret,
		tags:    tags,
	}
}

type oauthTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// exchangeToken trades the client secret for an access token. The control
// plane accepts client_secret alone, without an accompanying client_id.
func (c *Client) exchangeToken(ctx context.Context) (accessToken, error) {
	secret, err := c.secret()
	if err != nil {
		return accessToken{}, fmt.Errorf("read oauth client secret: %w", err)
	}

	form := url.Values{"client_secret": {secret}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return accessToken{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return accessToken{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return accessToken{}, fmt.Errorf("%w: status %d: %s", ErrAuthFailed, resp.StatusCode, body)
	}

	var tr oauthTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return accessToken{}, fmt.Errorf("%w: decode token response: %v", ErrInvalidResponse, err)
	}

	logx.Debugf("obtained tailnet access token (expires in %ds)", tr.ExpiresIn)
	return accessToken{
		token:     tr.AccessToken,
		expiresAt: time.Now().Unix() + tr.ExpiresIn,
	}, nil
}

type createKeyRequest struct {
	Capabilities  capabilities `json:"capabilities"`
	ExpirySeconds int64        `json:"expirySeconds"`
	Description   string       `json:"description,omitempty"`
}

type capabilities struct {
	Devices deviceCapabilities `json:"devices"`
}

type deviceCapabilities struct {
	Create deviceCreate `json:"create"`
}

type deviceCreate struct {
	Reusable      bool     `json:"reusable"`
	Ephemeral     bool     `json:"ephemeral"`
	Preauthorized bool     `json:"preauthorized"`
	Tags          []string `json:"tags"`
}

type createKeyResponse struct {
	Key string `json:"key"`
}

// CreateAuthKey mints a reusable, non-ephemeral, preauthorized auth key for
// the given account email. The key expires after two hours and is returned
// verbatim; it is never stored.
func (c *Client) CreateAuthKey(ctx context.Context, email string) (string, error) {
	token, err := c.tokens.get(ctx, c.exchangeToken)
	if err != nil {
		return "", err
	}

	body := createKeyRequest{
		Capabilities: capabilities{
			Devices: deviceCapabilities{
				Create: deviceCreate{
					Reusable:      true,
					Ephemeral:     false,
					Preauthorized: true,
					Tags:          c.tags,
				},
			},
		},
		ExpirySeconds: authKeyExpirySeconds,
		Description:   "Auth key for user " + sanitizeDescription(email),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode key request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/tailnet/-/keys", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build key request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	logx.Debugf("creating auth key with tags %v", c.tags)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, errBody)
	}

	var kr createKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return "", fmt.Errorf("%w: decode key response: %v", ErrInvalidResponse, err)
	}

	logx.Infof("generated tailnet auth key for %s", email)
	return kr.Key, nil
}

// sanitizeDescription replaces every non-alphanumeric character with a
// hyphen; the control plane restricts description character sets.
func sanitizeDescription(s string) string {
	out := []rune(s)
	for i, r := range out {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			out[i] = '-'
		}
	}
	return string(out)
}
