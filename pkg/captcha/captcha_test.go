package captcha_test

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclabs/arcgate/pkg/captcha"
	"github.com/arclabs/arcgate/pkg/config"
	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/store"
)

type fixedGenerator struct{ text string }

func (g fixedGenerator) Generate() (string, []byte, error) {
	return g.text, []byte("png-bytes"), nil
}

func setupService(t *testing.T) *captcha.Service {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	return captcha.NewService(log, st).
		WithGenerator(fixedGenerator{text: "Ab3dE"})
}

func TestGenerateAndValidate(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	id, img, err := svc.Generate(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	decoded, err := base64.StdEncoding.DecodeString(img)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), decoded)

	// Case-insensitive compare.
	require.NoError(t, svc.Validate(ctx, id, "aB3De"))
}

func TestValidate_BurnsOnWrongAnswer(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	id, _, err := svc.Generate(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Validate(ctx, id, "wrong"), httperr.ErrInvalidCaptcha)

	// The first attempt burned the challenge; the right answer now fails.
	assert.ErrorIs(t, svc.Validate(ctx, id, "Ab3dE"), httperr.ErrInvalidCaptcha)
}

func TestValidate_SingleUse(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	id, _, err := svc.Generate(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Validate(ctx, id, "Ab3dE"))
	assert.ErrorIs(t, svc.Validate(ctx, id, "Ab3dE"), httperr.ErrInvalidCaptcha)
}

func TestValidate_UnknownAndEmpty(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Validate(ctx, "no-such-id", "x"), httperr.ErrInvalidCaptcha)
	assert.ErrorIs(t, svc.Validate(ctx, "", ""), httperr.ErrInvalidCaptcha)
}
