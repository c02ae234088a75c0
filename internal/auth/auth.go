// Package auth builds an authenticated Gmail client from an account's
// credentials.json and token.json.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Scopes requested for ingestion. Reports only ever read mail.
var Scopes = []string{gmail.GmailReadonlyScope}

// TokenFile is the token.json name, kept next to credentials.json.
const TokenFile = "token.json"

// LoadGmailService returns an authenticated Gmail API service for the
// account whose credentials live at credentialsPath. Refreshed tokens are
// written back to token.json as they are issued.
func LoadGmailService(ctx context.Context, credentialsPath string, log *slog.Logger) (*gmail.Service, error) {
	if log == nil {
		log = slog.Default()
	}
	config, err := loadOAuthConfig(credentialsPath)
	if err != nil {
		return nil, err
	}

	tokenPath := filepath.Join(filepath.Dir(credentialsPath), TokenFile)
	token, err := LoadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("load token from %s: %w", tokenPath, err)
	}

	ts := &persistingSource{
		base:   config.TokenSource(ctx, token),
		path:   tokenPath,
		access: token.AccessToken,
		log:    log,
	}
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return gmail.NewService(ctx, option.WithTokenSource(oauth2.ReuseTokenSource(nil, ts)))
}

func loadOAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials from %s: %w", credentialsPath, err)
	}
	config, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return config, nil
}

// tokenFile accepts both oauth2.Token JSON and the layout written by
// Google's Python client ("token" and a microsecond "expiry").
type tokenFile struct {
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	Expiry       string `json:"expiry"`
}

// LoadToken reads a token.json file.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  tf.AccessToken,
		TokenType:    tf.TokenType,
		RefreshToken: tf.RefreshToken,
	}
	if tok.AccessToken == "" {
		tok.AccessToken = tf.Token
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if tf.Expiry != "" {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
			if t, err := time.Parse(layout, tf.Expiry); err == nil {
				tok.Expiry = t
				break
			}
		}
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s has neither access nor refresh token", path)
	}
	return tok, nil
}

// SaveToken writes tok as oauth2.Token JSON with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// persistingSource saves every newly issued access token to disk.
type persistingSource struct {
	base oauth2.TokenSource
	path string
	log  *slog.Logger

	mu     sync.Mutex
	access string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.access {
		s.access = tok.AccessToken
		if err := SaveToken(s.path, tok); err != nil {
			// The refreshed token still works for this process.
			s.log.Warn("could not save refreshed token", "path", s.path, "error", err)
		}
	}
	return tok, nil
}
