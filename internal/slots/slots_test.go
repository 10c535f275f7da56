package slots_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"boardline/internal/db"
	"boardline/internal/domain"
	"boardline/internal/migrate"
	"boardline/internal/slots"
)

func sqliteStore(t *testing.T) *slots.SQLite {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, migrate.Client))
	return slots.NewSQLite(conn)
}

func TestStores(t *testing.T) {
	stores := map[string]slots.Store{
		"memory": slots.NewMemory(),
		"sqlite": sqliteStore(t),
	}
	ctx := context.Background()
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, slots.KeyAuthToken)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.Set(ctx, slots.KeyAuthToken, "a"))
			require.NoError(t, s.Set(ctx, slots.KeyAuthToken, "b"))
			v, ok, err := s.Get(ctx, slots.KeyAuthToken)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "b", v)

			require.NoError(t, s.Delete(ctx, slots.KeyAuthToken))
			require.NoError(t, s.Delete(ctx, slots.KeyAuthToken))
			_, ok, _ = s.Get(ctx, slots.KeyAuthToken)
			require.False(t, ok)
		})
	}
}

func TestImpersonationRecord(t *testing.T) {
	ctx := context.Background()
	s := sqliteStore(t)

	rec, err := slots.LoadImpersonation(ctx, s)
	require.NoError(t, err)
	require.Nil(t, rec)

	in := slots.ImpersonationRecord{
		OriginalUser:     domain.User{ID: 1, Email: "admin@example.com", Role: domain.RoleAdmin},
		ImpersonatedUser: domain.User{ID: 2, Email: "alice@example.com", Role: domain.RoleUser, Name: domain.StringPtr("Alice")},
	}
	require.NoError(t, slots.SaveImpersonation(ctx, s, in))
	raw, _, _ := s.Get(ctx, slots.KeyImpersonation)
	require.Contains(t, raw, `"originalUser"`)

	rec, err = slots.LoadImpersonation(ctx, s)
	require.NoError(t, err)
	require.Equal(t, in, *rec)

	require.NoError(t, slots.ClearImpersonation(ctx, s))
	rec, err = slots.LoadImpersonation(ctx, s)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestCorruptImpersonationRecordIsDropped(t *testing.T) {
	ctx := context.Background()
	s := slots.NewMemory()
	require.NoError(t, s.Set(ctx, slots.KeyImpersonation, "{not json"))
	rec, err := slots.LoadImpersonation(ctx, s)
	require.NoError(t, err)
	require.Nil(t, rec)
	_, ok, _ := s.Get(ctx, slots.KeyImpersonation)
	require.False(t, ok)
}
