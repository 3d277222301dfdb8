package cookie

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one stored cookie. Entries are keyed by (domain, name); a later
// add for the same key overwrites.
type Entry struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  *int64 `json:"expires,omitempty"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"http_only"`
	SameSite string `json:"same_site,omitempty"`
}

func (e Entry) key() string { return e.Domain + ":" + e.Name }

// expired reports whether the entry's expiry is strictly in the past.
func (e Entry) expired(now time.Time) bool {
	return e.Expires != nil && now.Unix() > *e.Expires
}

// Store is a concurrent cookie jar with JSON file persistence. The file path
// is fixed at construction so multiple stores can coexist.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
	path    string
}

// NewStore creates an empty store persisting to path.
func NewStore(path string) *Store {
	return &Store{
		entries: make(map[string]Entry),
		path:    path,
	}
}

// Add inserts or overwrites an entry. Domain and header-like fields are
// normalized to lower case here so matching never needs to.
func (s *Store) Add(e Entry) {
	e.Domain = strings.ToLower(e.Domain)
	if e.Path == "" {
		e.Path = "/"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := e.key()
	if _, exists := s.entries[key]; !exists {
		s.order = append(s.order, key)
	}
	s.entries[key] = e
}

// AddFromSetCookie parses one Set-Cookie header value in the context of the
// originating URL and stores it. Malformed values are ignored without error.
func (s *Store) AddFromSetCookie(u *url.URL, raw string) {
	c, err := http.ParseSetCookie(raw)
	if err != nil {
		slog.Debug("ignoring malformed Set-Cookie", "value", raw, "error", err)
		return
	}

	domain := c.Domain
	if domain == "" {
		domain = u.Hostname()
	}

	var expires *int64
	switch {
	case c.MaxAge > 0:
		ts := time.Now().Add(time.Duration(c.MaxAge) * time.Second).Unix()
		expires = &ts
	case c.MaxAge < 0:
		ts := time.Now().Add(-time.Second).Unix()
		expires = &ts
	case !c.Expires.IsZero():
		ts := c.Expires.Unix()
		expires = &ts
	}

	s.Add(Entry{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   domain,
		Path:     c.Path,
		Expires:  expires,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
		SameSite: sameSiteString(c.SameSite),
	})
}

// CookiesFor selects "name=value" pairs applicable to the URL: the entry's
// domain matches exactly or is a leading-dot suffix of the host, the URL path
// starts with the entry's path, the entry is unexpired, and secure-only
// entries are withheld from non-HTTPS URLs. Order is insertion order.
func (s *Store) CookiesFor(u *url.URL) []string {
	host := strings.ToLower(u.Hostname())
	path := u.Path
	if path == "" {
		path = "/"
	}
	isSecure := u.Scheme == "https"
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var pairs []string
	for _, key := range s.order {
		e := s.entries[key]
		if !domainMatches(e.Domain, host) {
			continue
		}
		if !strings.HasPrefix(path, e.Path) {
			continue
		}
		if e.expired(now) {
			continue
		}
		if e.Secure && !isSecure {
			continue
		}
		pairs = append(pairs, e.Name+"="+e.Value)
	}
	return pairs
}

// PruneExpired removes every entry whose expiry is strictly in the past.
// Calling it twice in a row is a no-op the second time.
func (s *Store) PruneExpired() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	for _, key := range s.order {
		if s.entries[key].expired(now) {
			delete(s.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	s.order = kept
}

// ClearAll removes every entry.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	s.order = nil
}

// List returns entries whose domain contains the filter substring; an empty
// filter returns everything. The result is a read-only snapshot.
func (s *Store) List(domainFilter string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, key := range s.order {
		e := s.entries[key]
		if domainFilter != "" && !strings.Contains(e.Domain, domainFilter) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Load best-effort-merges entries from the store's file. A missing or corrupt
// file yields an empty start and is never an error.
func (s *Store) Load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		slog.Debug("cookie file not loaded", "path", s.path, "error", err)
		return
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("cookie file corrupt, starting empty", "path", s.path, "error", err)
		return
	}
	for _, e := range entries {
		s.Add(e)
	}
	slog.Debug("cookies loaded", "path", s.path, "count", len(entries))
}

// Save atomically rewrites the full entry list as pretty JSON.
func (s *Store) Save() error {
	entries := s.List("")
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func domainMatches(cookieDomain, host string) bool {
	if cookieDomain == host {
		return true
	}
	return strings.HasPrefix(cookieDomain, ".") && strings.HasSuffix(host, cookieDomain[1:])
}

func sameSiteString(ss http.SameSite) string {
	switch ss {
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteNoneMode:
		return "None"
	default:
		return ""
	}
}
