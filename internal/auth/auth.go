// Package auth keeps the Twitch chat credential fresh. Tokens live in a JSON
// document on disk; refresh tokens rotate on every use, so persistence is
// atomic (temp file plus rename) and unknown document keys survive rewrites.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultTokenURL    = "https://id.twitch.tv/oauth2/token"
	defaultValidateURL = "https://id.twitch.tv/oauth2/validate"

	validateTimeout = 10 * time.Second
	refreshTimeout  = 15 * time.Second
)

// Error taxonomy. Wrapped errors keep the detail; callers branch with
// errors.Is.
var (
	ErrCredentialMissing = errors.New("credential missing")
	ErrWrongAccount      = errors.New("credential belongs to another account")
	ErrRefreshFailed     = errors.New("credential refresh failed")
	ErrPersistFailed     = errors.New("credential persist failed")
)

// Source yields an IRC PASS credential. The gateway takes this interface so
// a static token and the managed bundle are interchangeable.
type Source interface {
	IRCPass(ctx context.Context, forceRefresh bool) (string, error)
}

// StaticToken is a fixed credential, used when TWITCH_OAUTH is set.
type StaticToken string

func (s StaticToken) IRCPass(context.Context, bool) (string, error) {
	return ircPass(string(s)), nil
}

// Bundle is the on-disk token document.
type Bundle struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Scope        []string `json:"scope,omitempty"`
	TokenType    string   `json:"token_type,omitempty"`
	ExpiresIn    int64    `json:"expires_in,omitempty"`
	ObtainedAt   int64    `json:"obtained_at,omitempty"`
}

// Config holds the dependencies for a Manager.
type Config struct {
	TokenFile     string
	ClientID      string
	ClientSecret  string
	ExpectedLogin string // bot login the token must belong to; empty skips the check
	MinTTLSec     int64  // refresh threshold; defaults to 120
	Logger        *slog.Logger
}

// Manager validates and refreshes the managed credential.
type Manager struct {
	tokenFile     string
	clientID      string
	clientSecret  string
	expectedLogin string
	minTTL        int64

	tokenURL    string
	validateURL string
	client      *http.Client
	log         *slog.Logger
}

// NewManager builds a Manager with the platform endpoints.
func NewManager(cfg Config) *Manager {
	minTTL := cfg.MinTTLSec
	if minTTL <= 0 {
		minTTL = 120
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tokenFile:     cfg.TokenFile,
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		expectedLogin: strings.ToLower(cfg.ExpectedLogin),
		minTTL:        minTTL,
		tokenURL:      defaultTokenURL,
		validateURL:   defaultValidateURL,
		client:        &http.Client{},
		log:           logger,
	}
}

// validateInfo is the platform's validate response.
type validateInfo struct {
	Login     string `json:"login"`
	ExpiresIn int64  `json:"expires_in"`
	UserID    string `json:"user_id"`
	ClientID  string `json:"client_id"`
}

// Token returns a currently valid access token, refreshing when the stored
// one fails validation or expires within the TTL threshold.
func (m *Manager) Token(ctx context.Context, forceRefresh bool) (string, error) {
	bundle, err := m.readBundle()
	if err != nil {
		return "", err
	}

	if forceRefresh {
		refreshed, err := m.refresh(ctx, bundle)
		if err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	}

	info, ok := m.validate(ctx, bundle.AccessToken)
	if !ok {
		m.log.Warn("access token failed validation, refreshing")
		refreshed, err := m.refresh(ctx, bundle)
		if err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	}

	login := strings.ToLower(info.Login)
	if m.expectedLogin != "" && login != "" && login != m.expectedLogin {
		return "", fmt.Errorf("%w: token is for %q, expected %q; re-run consent under the bot account",
			ErrWrongAccount, login, m.expectedLogin)
	}

	if info.ExpiresIn <= m.minTTL {
		m.log.Info("access token expiring, refreshing", "expires_in_sec", info.ExpiresIn, "min_ttl_sec", m.minTTL)
		refreshed, err := m.refresh(ctx, bundle)
		if err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	}

	return bundle.AccessToken, nil
}

// IRCPass returns the PASS credential, prefixing "oauth:" when missing.
func (m *Manager) IRCPass(ctx context.Context, forceRefresh bool) (string, error) {
	token, err := m.Token(ctx, forceRefresh)
	if err != nil {
		return "", err
	}
	return ircPass(token), nil
}

func ircPass(token string) string {
	if strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

func (m *Manager) readBundle() (Bundle, error) {
	raw, err := os.ReadFile(m.tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return Bundle{}, fmt.Errorf("%w: token file %s not found", ErrCredentialMissing, m.tokenFile)
		}
		return Bundle{}, fmt.Errorf("%w: read %s: %v", ErrCredentialMissing, m.tokenFile, err)
	}
	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return Bundle{}, fmt.Errorf("%w: parse %s: %v", ErrCredentialMissing, m.tokenFile, err)
	}
	if bundle.AccessToken == "" {
		return Bundle{}, fmt.Errorf("%w: %s has no access_token", ErrCredentialMissing, m.tokenFile)
	}
	return bundle, nil
}

// validate calls the platform validate endpoint. Any failure (network,
// non-200) reports not-ok so the caller falls through to refresh.
func (m *Manager) validate(ctx context.Context, accessToken string) (validateInfo, bool) {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.validateURL, nil)
	if err != nil {
		return validateInfo{}, false
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return validateInfo{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return validateInfo{}, false
	}
	var info validateInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return validateInfo{}, false
	}
	return info, true
}

// refresh exchanges the rotating refresh token and persists the new bundle.
func (m *Manager) refresh(ctx context.Context, old Bundle) (Bundle, error) {
	if old.RefreshToken == "" {
		return Bundle{}, fmt.Errorf("%w: no refresh_token in %s", ErrRefreshFailed, m.tokenFile)
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {old.RefreshToken},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Bundle{}, fmt.Errorf("%w: http %d: %s", ErrRefreshFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var refreshed Bundle
	if err := json.NewDecoder(resp.Body).Decode(&refreshed); err != nil {
		return Bundle{}, fmt.Errorf("%w: decode response: %v", ErrRefreshFailed, err)
	}
	if refreshed.AccessToken == "" {
		return Bundle{}, fmt.Errorf("%w: response missing access_token", ErrRefreshFailed)
	}
	// The platform rotates refresh tokens; keep the old one only when the
	// response omits it.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = old.RefreshToken
	}
	refreshed.ObtainedAt = time.Now().Unix()

	if err := m.writeBundleAtomic(refreshed); err != nil {
		return Bundle{}, err
	}
	m.log.Info("credential refreshed", "expires_in_sec", refreshed.ExpiresIn)
	return refreshed, nil
}

// writeBundleAtomic merges the bundle into the existing document (unknown
// keys survive) and replaces the file via rename. Concurrent readers observe
// either the old or the new document, never a torn one.
func (m *Manager) writeBundleAtomic(bundle Bundle) error {
	dir := filepath.Dir(m.tokenFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	doc := map[string]any{}
	if raw, err := os.ReadFile(m.tokenFile); err == nil {
		// Best effort: a corrupt previous document is replaced wholesale.
		_ = json.Unmarshal(raw, &doc)
	}

	patch, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	var patchMap map[string]any
	if err := json.Unmarshal(patch, &patchMap); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	for k, v := range patchMap {
		doc[k] = v
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	tmp, err := os.CreateTemp(dir, "tokens_*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if err := os.Rename(tmpName, m.tokenFile); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return nil
}
