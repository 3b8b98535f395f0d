// Package auth supplies Authenticator implementations for the push
// pipeline's outbound HTTP requests, plus GitHub token resolution.
package auth

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Authenticator attaches credentials to an outbound request in place.
type Authenticator interface {
	Authenticate(*http.Request) error
}

// NoneAuth attaches no credentials.
type NoneAuth struct{}

func (a *NoneAuth) Authenticate(r *http.Request) error { return nil }

// BasicAuth attaches HTTP Basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

func (a *BasicAuth) Authenticate(r *http.Request) error {
	r.SetBasicAuth(a.Username, a.Password)
	return nil
}

// TokenAuth attaches a GitHub personal-access-token header plus the
// v3 Accept header every GitHub-compatible REST call requires.
type TokenAuth struct {
	Token string
}

func (a *TokenAuth) Authenticate(r *http.Request) error {
	if a.Token == "" {
		return fmt.Errorf("auth: empty token")
	}
	r.Header.Set("Authorization", "token "+a.Token)
	r.Header.Set("Accept", "application/vnd.github.v3+json")
	return nil
}

const (
	tokenEnvVar    = "GITHUB_TOKEN"
	tokenFileName  = "github_token"
	tokenFilePerm  = 0600
)

// ResolveToken looks up the GitHub token first from GITHUB_TOKEN, then
// from "<gyattDir>/github_token". It returns "" with no error if
// neither source has a token configured.
func ResolveToken(gyattDir string) (string, error) {
	if tok := os.Getenv(tokenEnvVar); tok != "" {
		return tok, nil
	}

	path := filepath.Join(gyattDir, tokenFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// StoreToken persists a GitHub token to "<gyattDir>/github_token" with
// owner-only permissions. The mode is applied again after the write
// because os.WriteFile keeps the mode of a file that already exists.
func StoreToken(gyattDir, token string) error {
	path := filepath.Join(gyattDir, tokenFileName)
	if err := os.WriteFile(path, []byte(token+"\n"), tokenFilePerm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, tokenFilePerm)
}
