package digest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/postpilot/internal/store"
	"github.com/ibeckermayer/postpilot/internal/types"
)

func TestBuild(t *testing.T) {
	b, err := New(2)
	require.NoError(t, err)
	b.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	runs := []store.Run{
		{ID: "old", Platform: types.Facebook, Kind: "post", Success: true, StartedAt: base, FinishedAt: base.Add(time.Second)},
		{ID: "new", Platform: types.Twitter, Kind: "post", Message: "<script>x</script>", FailureKind: "VerificationInconclusive",
			ScreenshotPath: "/tmp/shots/failure_screenshot.png", AttemptsUsed: 3, StartedAt: base.Add(2 * time.Hour), FinishedAt: base.Add(2*time.Hour + 5*time.Second),
			Steps: []types.Step{{Name: "verify", Success: false, Error: "no toast"}}},
		{ID: "mid", Platform: types.Instagram, Kind: "login", Success: true, StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour)},
	}

	d, err := b.Build(runs)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid"}, d.RunIDs, "newest first, capped")
	assert.Contains(t, d.HTMLBody, "2 runs · 1 succeeded · 1 failed")
	assert.Contains(t, d.HTMLBody, "failure_screenshot.png")
	assert.Contains(t, d.HTMLBody, "verify: no toast")
	assert.NotContains(t, d.HTMLBody, "<script>x</script>", "messages are escaped")
	assert.Contains(t, d.PlainBody, "1. [FAILED]")
	assert.Contains(t, d.PlainBody, "2. [OK]")
}

func TestBuild_Empty(t *testing.T) {
	b, err := New(0)
	require.NoError(t, err)
	_, err = b.Build(nil)
	assert.Error(t, err)
}
