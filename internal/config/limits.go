package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// LimitsConfig holds operational tunables for the receipt engine. The file is
// optional; defaults apply when no limits.yml is present.
type LimitsConfig struct {
	MaxItemsPerReceipt        int     `mapstructure:"maxItemsPerReceipt"`
	MaxParticipantsPerReceipt int     `mapstructure:"maxParticipantsPerReceipt"`
	WriteRatePerSecond        float64 `mapstructure:"writeRatePerSecond"`
	WriteBurst                int     `mapstructure:"writeBurst"`
}

func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		MaxItemsPerReceipt:        200,
		MaxParticipantsPerReceipt: 50,
		WriteRatePerSecond:        5,
		WriteBurst:                10,
	}
}

// LimitsHolder exposes the current limits config and hot-reloads it when the
// backing file changes.
type LimitsHolder struct {
	current atomic.Value // holds LimitsConfig
}

func NewLimitsHolder(log *zap.Logger) (*LimitsHolder, error) {
	v := viper.New()

	v.SetConfigName("limits")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tably/config")
	v.AddConfigPath("/etc/tably")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TABLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &LimitsHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultLimitsConfig())
		return holder, nil
	}

	cfg, err := decodeLimits(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	reloadLog := log.Named("config.limits")
	v.OnConfigChange(func(e fsnotify.Event) {
		holder.reload(v, reloadLog, e.Name)
	})
	v.WatchConfig()

	return holder, nil
}

// reload swaps in the re-decoded limits; a file that no longer decodes keeps
// the previous snapshot active.
func (h *LimitsHolder) reload(v *viper.Viper, log *zap.Logger, source string) {
	next, err := decodeLimits(v)
	if err != nil {
		log.Warn("limits reload failed",
			zap.String("file", source),
			zap.Error(err),
		)
		return
	}
	h.current.Store(next)
}

// StaticLimits returns a holder pinned to cfg, with no file watching.
func StaticLimits(cfg LimitsConfig) *LimitsHolder {
	holder := &LimitsHolder{}
	holder.current.Store(cfg)
	return holder
}

// Current returns the active limits config.
func (h *LimitsHolder) Current() LimitsConfig {
	if h == nil {
		return DefaultLimitsConfig()
	}
	if cfg, ok := h.current.Load().(LimitsConfig); ok {
		return cfg
	}
	return DefaultLimitsConfig()
}

func decodeLimits(v *viper.Viper) (LimitsConfig, error) {
	cfg := DefaultLimitsConfig()
	if err := v.UnmarshalKey("limits", &cfg); err != nil {
		return LimitsConfig{}, err
	}
	if cfg.MaxItemsPerReceipt <= 0 {
		cfg.MaxItemsPerReceipt = DefaultLimitsConfig().MaxItemsPerReceipt
	}
	if cfg.MaxParticipantsPerReceipt <= 0 {
		cfg.MaxParticipantsPerReceipt = DefaultLimitsConfig().MaxParticipantsPerReceipt
	}
	return cfg, nil
}
