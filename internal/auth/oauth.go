// Package auth handles the Google OAuth2 installed-app flow: client
// secrets, token persistence under the user config directory, and the
// localhost redirect capture used during first-time authorization.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const (
	appDirName      = "taskmirror"
	credentialsFile = "credentials.json"
	tokenFile       = "token.json"

	// redirectPort is the localhost port the flow listens on to
	// capture the authorization redirect. Must match a redirect URI
	// registered for the OAuth client.
	redirectPort = "8423"

	authorizeTimeout = 5 * time.Minute
)

// Scopes requested for the sync engine: event mutation plus read-only
// calendar listing.
var Scopes = []string{
	calendar.CalendarEventsScope,
	calendar.CalendarReadonlyScope,
}

// ConfigDir returns the directory holding credentials and token files.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// Client returns an authenticated HTTP client, refreshing a stored
// token or running the browser flow when no token exists.
func Client(ctx context.Context) (*http.Client, error) {
	cfg, err := oauthConfig()
	if err != nil {
		return nil, err
	}

	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	tokenPath := filepath.Join(dir, tokenFile)

	tok, err := tokenFromFile(tokenPath)
	if err != nil {
		slog.Info("no stored token, starting authorization flow", "path", tokenPath)
		tok, err = tokenFromWeb(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("authorization flow: %w", err)
		}
		if err := saveToken(tokenPath, tok); err != nil {
			return nil, err
		}
	}

	// Re-save after use if the source refreshed the token, so the next
	// run skips a refresh round trip.
	src := cfg.TokenSource(ctx, tok)
	if current, err := src.Token(); err == nil &&
		(current.AccessToken != tok.AccessToken || current.RefreshToken != tok.RefreshToken) {
		if err := saveToken(tokenPath, current); err != nil {
			slog.Warn("could not persist refreshed token", "error", err)
		}
	}

	return oauth2.NewClient(ctx, src), nil
}

// ResetToken deletes the stored token, forcing a fresh flow next time.
func ResetToken() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, tokenFile)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token %s: %w", path, err)
	}
	return nil
}

func oauthConfig() (*oauth2.Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, credentialsFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client secrets %s: %w", path, err)
	}
	cfg, err := google.ConfigFromJSON(raw, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%s/oauth2callback", redirectPort)
	return cfg, nil
}

// tokenFromWeb runs the authorization-code flow with a local HTTP
// server capturing the redirect.
func tokenFromWeb(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", ":"+redirectPort)
	if err != nil {
		return nil, fmt.Errorf("listen on port %s: %w", redirectPort, err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "authorization code missing", http.StatusBadRequest)
				errCh <- fmt.Errorf("redirect did not carry an authorization code")
				return
			}
			fmt.Fprint(w, "Authorization complete. You can close this window.")
			codeCh <- code
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	defer server.Shutdown(context.Background())

	// AccessTypeOffline so a refresh token is returned.
	url := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("Open this URL in your browser to authorize taskmirror:\n\n  %s\n\n", url)

	select {
	case code := <-codeCh:
		exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := cfg.Exchange(exchangeCtx, code)
		if err != nil {
			return nil, fmt.Errorf("exchange authorization code: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-time.After(authorizeTimeout):
		return nil, fmt.Errorf("authorization timed out after %s", authorizeTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", path, err)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return nil
}
