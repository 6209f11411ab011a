package auth

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/postpilot/internal/types"
)

var twitterCritical = []string{"auth_token", "ct0"}

func twitterCookies(exp time.Time) []types.Cookie {
	return []types.Cookie{
		{Name: "auth_token", Value: "tok", Domain: ".x.com", Path: "/", Expires: float64(exp.Unix()), HTTPOnly: true, Secure: true},
		{Name: "ct0", Value: "csrf", Domain: ".x.com", Path: "/", Expires: float64(exp.Unix()), Secure: true, SameSite: "Lax"},
		{Name: "guest_id", Value: "g", Domain: ".twitter.com", Path: "/"},
	}
}

func TestCookieStore_RoundTrip(t *testing.T) {
	cs := NewCookieStore(t.TempDir())
	saved := time.UnixMilli(1_700_000_000_123)
	rec := types.CookieRecord{
		Platform: types.Twitter,
		Cookies:  twitterCookies(time.Now().Add(24 * time.Hour)),
		SavedAt:  saved,
	}
	require.NoError(t, cs.Save(rec))

	got, err := cs.Load(types.Twitter)
	require.NoError(t, err)
	assert.Equal(t, types.Twitter, got.Platform)
	assert.Equal(t, rec.Cookies, got.Cookies)
	assert.True(t, saved.Equal(got.SavedAt))

	for _, name := range twitterCritical {
		var want, have string
		for _, c := range rec.Cookies {
			if c.Name == name {
				want = c.Value
			}
		}
		for _, c := range got.Cookies {
			if c.Name == name {
				have = c.Value
			}
		}
		assert.Equal(t, want, have, name)
	}
}

func TestCookieStore_FileShape(t *testing.T) {
	cs := NewCookieStore(t.TempDir())
	require.NoError(t, cs.Save(types.CookieRecord{Platform: types.Facebook, Cookies: []types.Cookie{{Name: "c_user", Value: "1"}}}))

	data, err := os.ReadFile(cs.Path(types.Facebook))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "cookies")
	assert.Contains(t, raw, "timestamp")
	assert.Equal(t, "facebook", raw["platform"])
	assert.Contains(t, cs.Path(types.Facebook), "facebook_cookies.json")

	info, err := os.Stat(cs.Path(types.Facebook))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestCookieStore_LoadMissing(t *testing.T) {
	cs := NewCookieStore(t.TempDir())
	_, err := cs.Load(types.Instagram)
	assert.ErrorIs(t, err, ErrNoCookies)
	assert.NoError(t, cs.Clear(types.Instagram))
}

func TestValidate(t *testing.T) {
	now := time.Now()
	fresh := now.Add(time.Hour)

	tests := []struct {
		name    string
		cookies []types.Cookie
		valid   bool
	}{
		{"all present", twitterCookies(fresh), true},
		{"session cookies never expire", []types.Cookie{
			{Name: "auth_token", Value: "a"}, {Name: "ct0", Value: "b"},
		}, true},
		{"one missing", []types.Cookie{
			{Name: "auth_token", Value: "a", Expires: float64(fresh.Unix())},
			{Name: "guest_id", Value: "g", Expires: float64(fresh.Unix())},
		}, false},
		{"one expired", []types.Cookie{
			{Name: "auth_token", Value: "a", Expires: float64(fresh.Unix())},
			{Name: "ct0", Value: "b", Expires: float64(now.Add(-time.Minute).Unix())},
		}, false},
		{"one empty", []types.Cookie{
			{Name: "auth_token", Value: ""}, {Name: "ct0", Value: "b"},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &types.CookieRecord{Platform: types.Twitter, Cookies: tt.cookies}
			assert.Equal(t, tt.valid, IsValid(rec, twitterCritical, now))
		})
	}

	assert.ErrorIs(t, Validate(nil, twitterCritical, now), ErrNoCookies)
}

func TestDomainCookies(t *testing.T) {
	cookies := twitterCookies(time.Now())
	got := DomainCookies(cookies, ".x.com")
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, ".x.com", c.Domain)
	}
	assert.Len(t, DomainCookies([]types.Cookie{{Name: "a", Domain: "www.x.com"}}, "x.com"), 1)
	assert.Empty(t, DomainCookies([]types.Cookie{{Name: "a", Domain: "notx.com"}}, "x.com"))
}
