package craftcord

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"log/slog"
	"reflect"
)

var (
	columnRuntimeConfigAdminUsername = "admin_username"
	columnRuntimeConfigAdminPassword = "admin_password"
)

// RuntimeConfig is the single-row table of settings that can be changed
// while the bot is running, and are kept across restarts (e.g. being
// paused, or spawns being switched off).
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused stops the bot from answering commands or spawning creatures
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// Opens a discord gateway websocket connection.
	DiscordGatewayEnabled bool `json:"discord_gateway_enabled" gorm:"not null;default:true"`

	// DiscordCustomStatus is the custom status message displayed for the bot on Discord.
	DiscordCustomStatus string `json:"discord_custom_status" gorm:"type:string"`

	// DiscordErrorMessage is sent when a command fails unexpectedly
	DiscordErrorMessage string `json:"discord_error_message" gorm:"type:string"`

	// DiscordNotificationChannelID receives the startup message
	DiscordNotificationChannelID string `json:"discord_notification_channel_id" gorm:"type:string"`

	// SpawnsEnabled gates every guild's spawn loop
	SpawnsEnabled bool `json:"spawns_enabled" gorm:"not null;default:true"`

	// ChatXPEnabled gates the passive experience grant for chatting
	ChatXPEnabled bool `json:"chat_xp_enabled" gorm:"not null;default:true"`

	// AdminUsername for the web API
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword stores the hashed password for the admin user
	AdminPassword string `json:"admin_password" gorm:"type:string" log:"[redacted]"`

	LogLevel          DBLogLevel `gorm:"default:INFO;type:string;check:log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   DBLogLevel `gorm:"default:INFO;type:string;check:discord_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel DBLogLevel `gorm:"default:INFO;column:discordgo_log_level;type:string;check:discordgo_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discordgo_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  DBLogLevel `gorm:"default:INFO;type:string;check:database_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"database_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       DBLogLevel `gorm:"default:INFO;type:string;check:api_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"api_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

func (r RuntimeConfig) LogValue() slog.Value {
	return structToSlogValue(r)
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		DiscordGatewayEnabled: true,
		DiscordCustomStatus:   DefaultDiscordCustomStatus,
		DiscordErrorMessage:   DefaultDiscordErrorMessage,
		SpawnsEnabled:         true,
		ChatXPEnabled:         true,
		LogLevel:              DBLogLevel(slog.LevelInfo.String()),
		DiscordLogLevel:       DBLogLevel(slog.LevelInfo.String()),
		DiscordGoLogLevel:     DBLogLevel(slog.LevelWarn.String()),
		DatabaseLogLevel:      DBLogLevel(slog.LevelInfo.String()),
		APILogLevel:           DBLogLevel(slog.LevelInfo.String()),
	}
}

// loadRuntimeConfig reads the config row, creating it with defaults on
// first start
func loadRuntimeConfig(ctx context.Context, db DBI) (*RuntimeConfig, error) {
	var cfg RuntimeConfig
	err := db.DB().WithContext(ctx).Order("id").Take(&cfg).Error
	if err == nil {
		return &cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("error loading runtime config: %w", err)
	}
	cfg = DefaultRuntimeConfig()
	if _, err = db.Create(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("error creating runtime config: %w", err)
	}
	return &cfg, nil
}

//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused *bool `json:"paused,omitempty"`

	DiscordGatewayEnabled        *bool   `json:"discord_gateway_enabled,omitempty"`
	DiscordCustomStatus          *string `json:"discord_custom_status,omitempty" binding:"omitnil,max=128"`
	DiscordErrorMessage          *string `json:"discord_error_message,omitempty" binding:"omitnil,min=1,max=2000"`
	DiscordNotificationChannelID *string `json:"discord_notification_channel_id,omitempty"`

	SpawnsEnabled *bool `json:"spawns_enabled,omitempty"`
	ChatXPEnabled *bool `json:"chat_xp_enabled,omitempty"`

	LogLevel          *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (b RuntimeConfigUpdate) validate() error {
	return structValidator.Struct(b)
}

// changes returns the column values in b that differ from current,
// keyed by column name
func (b RuntimeConfigUpdate) changes(current RuntimeConfig) map[string]any {
	updates := map[string]any{}
	set := func(column string, currentVal, updateVal any) {
		if runtimeConfigValueChanged(currentVal, updateVal) {
			updates[column] = reflect.ValueOf(updateVal).Elem().Interface()
		}
	}
	set("paused", current.Paused, b.Paused)
	set("discord_gateway_enabled", current.DiscordGatewayEnabled, b.DiscordGatewayEnabled)
	set("discord_custom_status", current.DiscordCustomStatus, b.DiscordCustomStatus)
	set("discord_error_message", current.DiscordErrorMessage, b.DiscordErrorMessage)
	set(
		"discord_notification_channel_id",
		current.DiscordNotificationChannelID,
		b.DiscordNotificationChannelID,
	)
	set("spawns_enabled", current.SpawnsEnabled, b.SpawnsEnabled)
	set("chat_xp_enabled", current.ChatXPEnabled, b.ChatXPEnabled)
	set("log_level", current.LogLevel, b.LogLevel)
	set("discord_log_level", current.DiscordLogLevel, b.DiscordLogLevel)
	set("discordgo_log_level", current.DiscordGoLogLevel, b.DiscordGoLogLevel)
	set("database_log_level", current.DatabaseLogLevel, b.DatabaseLogLevel)
	set("api_log_level", current.APILogLevel, b.APILogLevel)
	return updates
}

// runtimeConfigValueChanged reports whether updateVal is a non-nil
// pointer whose value differs from currentVal
func runtimeConfigValueChanged(currentVal, updateVal any) bool {
	newValRef := reflect.ValueOf(updateVal)
	if newValRef.Kind() != reflect.Ptr || newValRef.IsNil() {
		return false
	}
	return !reflect.DeepEqual(currentVal, newValRef.Elem().Interface())
}

// applyLogLevels copies the log levels from cfg to the running loggers
func (c *CraftCord) applyLogLevels(cfg RuntimeConfig) {
	levels := []struct {
		name  string
		level DBLogLevel
		v     interface{ Set(slog.Level) }
	}{
		{"log_level", cfg.LogLevel, c.config.LogLevel},
		{"discord_log_level", cfg.DiscordLogLevel, c.config.Discord.LogLevel},
		{"discordgo_log_level", cfg.DiscordGoLogLevel, c.config.Discord.DiscordGoLogLevel},
		{"database_log_level", cfg.DatabaseLogLevel, c.config.DatabaseLogLevel},
		{"api_log_level", cfg.APILogLevel, c.config.API.LogLevel},
	}
	for _, l := range levels {
		if l.level == "" || l.v == nil || reflect.ValueOf(l.v).IsNil() {
			continue
		}
		c.logger.Debug("setting log level", "logger", l.name, "level", l.level)
		l.v.Set(l.level.Level())
	}
}

// updateRuntimeConfig validates and persists update, applies it locally
// and notifies other instances
func (c *CraftCord) updateRuntimeConfig(
	ctx context.Context,
	update RuntimeConfigUpdate,
) (*RuntimeConfig, error) {
	if err := update.validate(); err != nil {
		return nil, err
	}
	current := c.RuntimeConfig()
	changes := update.changes(current)
	if len(changes) == 0 {
		return &current, nil
	}
	c.logger.InfoContext(ctx, "updating runtime config", "changes", changes)

	if _, err := c.writeDB.UpdatesWhere(
		ctx,
		&RuntimeConfig{},
		changes,
		"id = ?",
		current.ID,
	); err != nil {
		return nil, err
	}
	cfg, err := c.reloadRuntimeConfig(ctx)
	if err != nil {
		return nil, err
	}
	if c.dbNotifier != nil {
		go c.dbNotifier.ReloadRuntimeConfig(context.Background())
	}
	return cfg, nil
}

// reloadRuntimeConfig reads the config row and applies it: log levels,
// the gateway presence, and the spawn loops
func (c *CraftCord) reloadRuntimeConfig(ctx context.Context) (*RuntimeConfig, error) {
	cfg, err := loadRuntimeConfig(ctx, c.writeDB)
	if err != nil {
		return nil, err
	}
	c.runtimeConfigMu.Lock()
	previous := c.runtimeConfig
	c.runtimeConfig = cfg
	c.runtimeConfigMu.Unlock()

	c.applyLogLevels(*cfg)

	if previous == nil {
		return cfg, nil
	}
	if previous.DiscordGatewayEnabled != cfg.DiscordGatewayEnabled {
		c.setGatewayEnabled(ctx, *cfg)
	}
	if c.discord != nil && c.discord.session != nil && c.discord.connected.Load() &&
		(previous.Paused != cfg.Paused || previous.DiscordCustomStatus != cfg.DiscordCustomStatus) {
		if err = c.discord.session.UpdateCustomStatus(discordStatus(*cfg)); err != nil {
			c.logger.Warn("error updating custom status", tint.Err(err))
		}
	}
	if previous.SpawnsEnabled != cfg.SpawnsEnabled || previous.Paused != cfg.Paused {
		c.logger.InfoContext(
			ctx,
			"spawn state changed",
			"spawns_enabled", cfg.SpawnsEnabled,
			"paused", cfg.Paused,
		)
		c.syncSpawnTasks(ctx)
	}
	return cfg, nil
}

// RuntimeConfig returns a copy of the current runtime config
func (c *CraftCord) RuntimeConfig() RuntimeConfig {
	c.runtimeConfigMu.RLock()
	defer c.runtimeConfigMu.RUnlock()
	if c.runtimeConfig == nil {
		return DefaultRuntimeConfig()
	}
	return *c.runtimeConfig
}

func discordStatus(config RuntimeConfig) string {
	if config.Paused {
		return "⏸️ paused"
	}
	return config.DiscordCustomStatus
}
