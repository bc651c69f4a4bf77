package cleanup_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclabs/arcgate/pkg/cleanup"
	"github.com/arclabs/arcgate/pkg/config"
	"github.com/arclabs/arcgate/pkg/store"
)

func TestSweep(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	ctx := context.Background()
	require.NoError(t, st.Start(ctx))
	t.Cleanup(func() { _ = st.Stop() })

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	user := &store.User{
		Email: "keep@example.com", SrpSalt: "s", SrpVerifier: "v",
		IsActive: true,
	}
	require.NoError(t, st.CreateUser(ctx, user))

	require.NoError(t, st.CreateVerificationCode(ctx, &store.VerificationCode{
		Email: "keep@example.com", Code: "000000",
		Kind: store.CodeKindRegister, ExpiresAt: past,
	}))
	require.NoError(t, st.CreateRefreshToken(ctx, &store.RefreshToken{
		UserID: user.ID, TokenHash: "expired-token", ExpiresAt: past,
	}))
	require.NoError(t, st.CreateRefreshToken(ctx, &store.RefreshToken{
		UserID: user.ID, TokenHash: "live-token", ExpiresAt: future,
	}))
	require.NoError(t, st.CreateSrpSession(ctx, &store.SrpSession{
		Email: "keep@example.com", Salt: "s", ServerSecret: "b",
		ClientPublic: "A", Verifier: "v", ExpiresAt: past,
	}))
	require.NoError(t, st.CreateCaptcha(ctx, &store.Captcha{
		Text: "AAAAA", ExpiresAt: past,
	}))

	sched := cleanup.NewScheduler(log, st, time.Hour)
	sched.Sweep(ctx)

	// Expired rows are gone, live rows and users survive.
	_, err := st.GetRefreshTokenByHash(ctx, "expired-token")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetRefreshTokenByHash(ctx, "live-token")
	require.NoError(t, err)

	kept, err := st.GetUserByEmail(ctx, "keep@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, kept.ID)

	// A second sweep is a no-op.
	sched.Sweep(ctx)
}

func TestStartStop(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	sched := cleanup.NewScheduler(log, st, 10*time.Millisecond)
	sched.Start(context.Background())

	time.Sleep(30 * time.Millisecond)
	sched.Stop()
}
