package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pcwarden/pcwarden/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
	})

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetUserByTelegramID(ctx, 42)
	require.ErrorIs(t, err, ErrNotFound)

	user := &User{
		TelegramID:           42,
		Username:             "alice",
		NotificationsEnabled: true,
	}
	require.NoError(t, s.CreateUser(ctx, user))
	require.NotZero(t, user.ID)

	got, err := s.GetUserByTelegramID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.False(t, got.IsAuthorized)
	assert.True(t, got.NotificationsEnabled)

	got.IsAuthorized = true
	got.NotificationsEnabled = false
	require.NoError(t, s.UpdateUser(ctx, got))

	got, err = s.GetUserByTelegramID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, got.IsAuthorized)
	assert.False(t, got.NotificationsEnabled, "false boolean must persist")
}

func TestListAuthorizedUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, authorized := range []bool{true, false, true} {
		require.NoError(t, s.CreateUser(ctx, &User{
			TelegramID:   int64(100 + i),
			IsAuthorized: authorized,
		}))
	}

	users, err := s.ListAuthorizedUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(100), users[0].TelegramID)
	assert.Equal(t, int64(102), users[1].TelegramID)
}

func TestAuthRequestLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &User{TelegramID: 7}
	require.NoError(t, s.CreateUser(ctx, user))

	_, err := s.PendingAuthRequestForUser(ctx, user.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateAuthRequest(ctx, &AuthRequest{UserID: user.ID}))

	pending, err := s.PendingAuthRequests(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, AuthStatusPending, pending[0].Status)
	assert.Equal(t, int64(7), pending[0].User.TelegramID)

	req, err := s.PendingAuthRequestForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, req.ProcessedAt)

	require.NoError(t, s.ResolveAuthRequests(
		ctx, user.ID, AuthStatusApproved, 999,
	))

	pending, err = s.PendingAuthRequests(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.PendingAuthRequestForUser(ctx, user.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPCStatusSingleton(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PCStatus(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpdatePCStatus(ctx, true, "192.168.1.50", "desk"))

	status, err := s.PCStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Online)
	assert.Equal(t, "desk", status.Hostname)

	// Second update mutates the same row; empty fields keep old values.
	require.NoError(t, s.UpdatePCStatus(ctx, false, "", ""))

	status, err = s.PCStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.Online)
	assert.Equal(t, "192.168.1.50", status.IPAddress)
	assert.Equal(t, "desk", status.Hostname)

	require.NoError(t, s.RecordWakeAttempt(ctx))

	got, err := s.PCStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.LastWakeAttempt)
	assert.False(t, got.Online)
}

func TestMatchCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestMatch(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		started := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.AddMatch(ctx, &Match{
			MatchID:   int64(8000 + i),
			Kills:     i,
			StartedAt: &started,
		}))
	}

	latest, err := s.LatestMatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8002), latest.MatchID)

	matches, err := s.RecentMatches(ctx, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, int64(8002), matches[0].MatchID)
	assert.Equal(t, int64(8001), matches[1].MatchID)

	// Duplicate match ids are rejected by the unique index.
	err = s.AddMatch(ctx, &Match{MatchID: 8000})
	assert.Error(t, err)
}

func TestRecentAuditLimitAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 35 {
		require.NoError(t, s.AddAudit(ctx, &AuditEntry{
			Action:    fmt.Sprintf("action_%02d", i),
			CreatedAt: time.Date(2025, 1, 1, 0, i, 0, 0, time.UTC),
		}))
	}

	entries, err := s.RecentAudit(ctx, 20)
	require.NoError(t, err)
	require.Len(t, entries, 20)

	// Most recent first.
	assert.Equal(t, "action_34", entries[0].Action)
	assert.Equal(t, "action_15", entries[19].Action)

	for i := 1; i < len(entries); i++ {
		assert.False(
			t,
			entries[i].CreatedAt.After(entries[i-1].CreatedAt),
			"entries must be in descending time order",
		)
	}
}

func TestSystemAuditEntryHasNoActor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddAudit(ctx, &AuditEntry{
		Action:  "monitor_pass",
		Details: "pc came online",
	}))

	entries, err := s.RecentAudit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].UserID)
}

func TestUnsupportedDriver(t *testing.T) {
	log := logrus.New()
	s := NewStore(log, &config.DatabaseConfig{Driver: "oracle"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
