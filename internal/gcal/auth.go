package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"icssync/internal/fileutil"
	appLog "icssync/internal/log"
	"icssync/internal/model"
)

// Authenticate builds an HTTP client for the Calendar API from an OAuth
// client secrets file and a previously granted token. Refreshed tokens are
// written back to tokenFile.
//
// There is no interactive consent flow: a missing or unusable token is an
// ErrAuth failure.
func Authenticate(ctx context.Context, credentialsFile, tokenFile string, scopes ...string) (*http.Client, error) {
	secrets, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read credentials %s: %w", model.ErrAuth, credentialsFile, err)
	}
	conf, err := google.ConfigFromJSON(secrets, scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credentials %s: %w", model.ErrAuth, credentialsFile, err)
	}

	tok, err := loadToken(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrAuth, err)
	}
	if !tok.Valid() && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token in %s is expired and has no refresh token", model.ErrAuth, tokenFile)
	}

	ts := &persistingSource{
		base: conf.TokenSource(ctx, tok),
		path: tokenFile,
		last: tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, ts)), nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token %s: %w", path, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("token file holds no access or refresh token")
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, data)
}

// persistingSource saves every newly minted access token.
type persistingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %w", model.ErrAuth, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := saveToken(s.path, tok); err != nil {
			appLog.Error("failed to persist refreshed token", err, "path", s.path)
		} else {
			appLog.Info("oauth token refreshed", "expiry", tok.Expiry)
		}
	}
	return tok, nil
}
