package sl_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
)

func TestErr_ReturnsCorrectAttr(t *testing.T) {
	err := errors.New("something went wrong")
	attr := sl.Err(err)

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, slog.StringValue("something went wrong"), attr.Value)
}

func TestErr_NilError(t *testing.T) {
	attr := sl.Err(nil)

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "<nil>", attr.Value.String())
}

func TestDiscard(t *testing.T) {
	log := sl.Discard()
	assert.NotPanics(t, func() {
		log.Info("dropped", slog.String("k", "v"))
	})
}

func TestNew_LevelsPerEnv(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		env       string
		wantDebug bool
	}{
		{env: sl.EnvLocal, wantDebug: true},
		{env: sl.EnvDev, wantDebug: true},
		{env: sl.EnvProd, wantDebug: false},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			log := sl.New(tt.env)
			assert.Equal(t, tt.wantDebug, log.Enabled(ctx, slog.LevelDebug))
			assert.True(t, log.Enabled(ctx, slog.LevelInfo))
		})
	}
}
