package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/postpilot/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "db", "postpilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveRun_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	run := &Run{
		ID:           "run-1",
		Platform:     types.Twitter,
		Kind:         "post",
		Success:      false,
		Message:      "post could not be verified",
		FailureKind:  string(types.VerificationInconclusive),
		AttemptsUsed: 3,
		StartedAt:    start,
		FinishedAt:   start.Add(time.Minute),
		Steps: []types.Step{
			{Name: "login", Success: true, Timestamp: start.Add(time.Second)},
			{Name: "verify", Success: false, Error: "no signal", Timestamp: start.Add(50 * time.Second), ScreenshotPath: "/tmp/x.png"},
		},
	}
	require.NoError(t, s.SaveRun(run))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, types.Twitter, got.Platform)
	assert.Equal(t, 3, got.AttemptsUsed)
	assert.Equal(t, run.FailureKind, got.FailureKind)
	assert.True(t, start.Equal(got.StartedAt))
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "verify", got.Steps[1].Name)
	assert.Equal(t, "no signal", got.Steps[1].Error)
	assert.Equal(t, "/tmp/x.png", got.Steps[1].ScreenshotPath)

	run.Success = true
	run.Steps = run.Steps[:1]
	require.NoError(t, s.SaveRun(run))
	got, err = s.GetRun("run-1")
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Len(t, got.Steps, 1)
}

func TestRecentRuns(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, p := range []types.Platform{types.Twitter, types.Facebook, types.Twitter} {
		require.NoError(t, s.SaveRun(&Run{
			ID:         string(p) + "-" + string(rune('a'+i)),
			Platform:   p,
			Kind:       "post",
			Success:    true,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
		}))
	}

	all, err := s.RecentRuns("", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "twitter-c", all[0].ID)

	tw, err := s.RecentRuns(types.Twitter, 10)
	require.NoError(t, err)
	assert.Len(t, tw, 2)

	one, err := s.RecentRuns("", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestGetRun_Missing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun("nope")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestReports(t *testing.T) {
	dir := t.TempDir()

	_, err := LatestReport(dir, types.Instagram)
	assert.Error(t, err)

	first, err := SaveReport(dir, types.Instagram, "r1", Report{Kind: "post", Result: types.PostResult{RunID: "r1"}})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := SaveReport(dir, types.Instagram, "r2", Report{Kind: "post", Result: types.PostResult{RunID: "r2", Success: true}})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	latest, err := LatestReport(dir, types.Instagram)
	require.NoError(t, err)
	assert.Equal(t, second, latest)

	rep, err := LoadReport[Report](latest)
	require.NoError(t, err)
	assert.Equal(t, "r2", rep.Result.RunID)
	assert.True(t, rep.Result.Success)
}
