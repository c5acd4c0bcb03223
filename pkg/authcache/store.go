package authcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/levenlabs/go-lflag"
)

// Token is the cached OAuth token set for one account. The layout matches
// the "sso" object other tooling writes into cache.json, so a cache
// bootstrapped by the interactive authorization flow can be reused as-is.
type Token struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	IDToken      string  `json:"id_token,omitempty"`
	TokenType    string  `json:"token_type,omitempty"`
	ExpiresIn    int64   `json:"expires_in,omitempty"`
	ExpiresAt    float64 `json:"expires_at,omitempty"`
}

// ExpiresTime returns when the access token expires. If the cache did not
// record expires_at, the exp claim of the access token itself is read
// without signature verification. A zero time means the expiry is unknown.
func (t Token) ExpiresTime() time.Time {
	if t.ExpiresAt > 0 {
		return time.Unix(int64(t.ExpiresAt), 0)
	}
	if t.AccessToken == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.AccessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Usable reports whether the access token can still be presented at the
// given time. Tokens with unknown expiry are considered unusable so a
// refresh happens before the first request rather than after a 401.
func (t Token) Usable(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	exp := t.ExpiresTime()
	if exp.IsZero() {
		return false
	}
	// leave a minute of slack so a token doesn't expire mid-request
	return now.Add(time.Minute).Before(exp)
}

type entry struct {
	URL string `json:"url,omitempty"`
	SSO Token  `json:"sso"`
}

// Store owns the token cache file. It is read lazily on first access and
// rewritten atomically (write temp, rename) whenever a token is updated, so
// a crash mid-refresh can never leave a half-written cache behind.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]*entry
	loaded  bool
}

// Configured sets up the token cache store based on flags.
func Configured() *Store {
	path := lflag.String("token-cache", "cache.json", "Path to the cached auth token file")

	s := &Store{}
	lflag.Do(func() {
		s.path = *path
	})
	return s
}

// Open returns a store over the given cache file path.
func Open(path string) *Store {
	return &Store{path: path}
}

// Path returns the cache file path.
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Store) load() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.entries = make(map[string]*entry)
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read token cache %s: %w", s.path, err)
	}
	entries := make(map[string]*entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse token cache %s: %w", s.path, err)
	}
	s.entries = entries
	s.loaded = true
	return nil
}

// Token returns the cached token for the given account email. A cache that
// does not exist yet, or has no entry for the account, yields a zero Token
// and no error; the caller decides whether that is fatal.
func (s *Store) Token(email string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return Token{}, err
	}
	e, ok := s.entries[email]
	if !ok {
		return Token{}, nil
	}
	return e.SSO, nil
}

// Update stores the token for the account and persists the cache. If the
// token carries expires_in but no expires_at, the absolute expiry is stamped
// now so later runs don't depend on wall-clock math at read time.
func (s *Store) Update(email string, tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}

	if tok.ExpiresAt == 0 && tok.ExpiresIn > 0 {
		tok.ExpiresAt = float64(time.Now().Unix() + tok.ExpiresIn)
	}

	e, ok := s.entries[email]
	if !ok {
		e = &entry{}
		s.entries[email] = e
	}
	e.SSO = tok

	return s.persist()
}

// persist atomically replaces the cache file. Must be called with s.mu held.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return fmt.Errorf("write token cache %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write token cache %s: %w", s.path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write token cache %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write token cache %s: %w", s.path, err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace token cache %s: %w", s.path, err)
	}
	return nil
}
