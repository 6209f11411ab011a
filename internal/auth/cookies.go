package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ibeckermayer/postpilot/internal/types"
)

// ErrNoCookies means no cookie file exists for the platform
var ErrNoCookies = errors.New("no saved cookies")

// CookieStore keeps one JSON cookie file per platform
type CookieStore struct {
	dir string
	now func() time.Time
}

// cookieFile is the on-disk shape; timestamp is unix milliseconds
type cookieFile struct {
	Cookies   []types.Cookie `json:"cookies"`
	Timestamp int64          `json:"timestamp"`
	Platform  types.Platform `json:"platform"`
}

// NewCookieStore creates a cookie store rooted at dir
func NewCookieStore(dir string) *CookieStore {
	return &CookieStore{dir: dir, now: time.Now}
}

// Path returns the cookie file for p
func (cs *CookieStore) Path(p types.Platform) string {
	return filepath.Join(cs.dir, fmt.Sprintf("%s_cookies.json", p))
}

// Save persists a cookie record, stamping SavedAt if unset
// TODO: Encrypt cookies at rest
func (cs *CookieStore) Save(rec types.CookieRecord) error {
	if err := os.MkdirAll(cs.dir, 0700); err != nil {
		return err
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = cs.now()
	}

	data, err := json.MarshalIndent(cookieFile{
		Cookies:   rec.Cookies,
		Timestamp: rec.SavedAt.UnixMilli(),
		Platform:  rec.Platform,
	}, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(cs.Path(rec.Platform), data, 0600)
}

// Load retrieves the cookie record for p
func (cs *CookieStore) Load(p types.Platform) (*types.CookieRecord, error) {
	data, err := os.ReadFile(cs.Path(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", p, ErrNoCookies)
	}
	if err != nil {
		return nil, err
	}

	var f cookieFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("corrupt cookie file %s: %w", cs.Path(p), err)
	}
	if f.Platform == "" {
		f.Platform = p
	}

	return &types.CookieRecord{
		Platform: f.Platform,
		Cookies:  f.Cookies,
		SavedAt:  time.UnixMilli(f.Timestamp),
	}, nil
}

// Clear removes stored cookies for p. Clearing nothing is not an error.
func (cs *CookieStore) Clear(p types.Platform) error {
	err := os.Remove(cs.Path(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Validate reports why rec cannot be used for the fast path, or nil. Every
// critical cookie must be present, non-empty and unexpired; nothing else
// is checked.
func Validate(rec *types.CookieRecord, critical []string, now time.Time) error {
	if rec == nil {
		return ErrNoCookies
	}
	byName := make(map[string]types.Cookie, len(rec.Cookies))
	for _, c := range rec.Cookies {
		byName[c.Name] = c
	}
	for _, name := range critical {
		c, ok := byName[name]
		switch {
		case !ok:
			return fmt.Errorf("critical cookie %s missing", name)
		case c.Value == "":
			return fmt.Errorf("critical cookie %s empty", name)
		case c.Expired(now):
			return fmt.Errorf("critical cookie %s expired", name)
		}
	}
	return nil
}

// IsValid is Validate as a predicate
func IsValid(rec *types.CookieRecord, critical []string, now time.Time) bool {
	return Validate(rec, critical, now) == nil
}

// DomainCookies returns only the cookies belonging to domain or its subdomains
func DomainCookies(cookies []types.Cookie, domain string) []types.Cookie {
	base := strings.TrimPrefix(domain, ".")
	var out []types.Cookie
	for _, c := range cookies {
		d := strings.TrimPrefix(c.Domain, ".")
		if d == base || strings.HasSuffix(d, "."+base) {
			out = append(out, c)
		}
	}
	return out
}
