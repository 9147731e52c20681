package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLimitsReload_AppliesNewValues(t *testing.T) {
	v := viper.New()
	v.Set("limits", map[string]any{"maxItemsPerReceipt": 7})

	holder := StaticLimits(DefaultLimitsConfig())
	holder.reload(v, zap.NewNop(), "limits.yml")

	assert.Equal(t, 7, holder.Current().MaxItemsPerReceipt)
	assert.Equal(t, DefaultLimitsConfig().WriteBurst, holder.Current().WriteBurst)
}

func TestLimitsReload_BadConfigKeepsCurrentSnapshot(t *testing.T) {
	v := viper.New()
	v.Set("limits", "not a map")

	pinned := LimitsConfig{
		MaxItemsPerReceipt:        9,
		MaxParticipantsPerReceipt: 9,
		WriteRatePerSecond:        1,
		WriteBurst:                1,
	}
	core, logs := observer.New(zapcore.WarnLevel)
	holder := StaticLimits(pinned)

	holder.reload(v, zap.New(core), "limits.yml")

	assert.Equal(t, pinned, holder.Current())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "limits reload failed", logs.All()[0].Message)
}
