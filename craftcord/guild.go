package craftcord

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Channel roles configurable per guild
const (
	channelKindAnnounce = "announce"
	channelKindLog      = "log"
	channelKindSpawn    = "spawn"
	channelKindLink     = "link"
	channelKindReact    = "react"
	channelKindGame     = "game"
)

var channelKinds = []string{
	channelKindAnnounce,
	channelKindLog,
	channelKindSpawn,
	channelKindLink,
	channelKindReact,
	channelKindGame,
}

// ChannelSet is a list of channel IDs, stored as a JSON array
type ChannelSet []string

func (s *ChannelSet) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("invalid channel set value: %#v", value)
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(data, s)
}

func (s ChannelSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	return string(b), err
}

func (ChannelSet) GormDataType() string {
	return "text"
}

func (s ChannelSet) Contains(channelID string) bool {
	return slices.Contains(s, channelID)
}

// Toggle adds channelID if absent, or removes it. Returns whether it
// was added.
func (s *ChannelSet) Toggle(channelID string) bool {
	if i := slices.Index(*s, channelID); i >= 0 {
		*s = slices.Delete(*s, i, i+1)
		return false
	}
	*s = append(*s, channelID)
	return true
}

// First returns the first channel, or ""
func (s ChannelSet) First() string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// GuildSettings is the per-guild configuration, managed with the admin
// commands or the API
type GuildSettings struct {
	GuildID          string     `gorm:"primaryKey" json:"guild_id"`
	Prefix           string     `gorm:"not null;default:!" json:"prefix" binding:"required,max=5"`
	AnnounceChannels ChannelSet `json:"announce_channels"`
	LogChannels      ChannelSet `json:"log_channels"`
	SpawnChannels    ChannelSet `json:"spawn_channels"`
	LinkChannels     ChannelSet `json:"link_channels"`
	ReactChannels    ChannelSet `json:"react_channels"`
	GameChannels     ChannelSet `json:"game_channels"`
	Welcome          bool       `gorm:"not null;default:false" json:"welcome"`
	ModelTimestamps
}

func (GuildSettings) TableName() string {
	return "guild_settings"
}

func defaultGuildSettings(guildID string) GuildSettings {
	return GuildSettings{GuildID: guildID, Prefix: DefaultCommandPrefix}
}

// Channels returns the channel set for kind, for modification
func (g *GuildSettings) Channels(kind string) (*ChannelSet, bool) {
	switch kind {
	case channelKindAnnounce:
		return &g.AnnounceChannels, true
	case channelKindLog:
		return &g.LogChannels, true
	case channelKindSpawn:
		return &g.SpawnChannels, true
	case channelKindLink:
		return &g.LinkChannels, true
	case channelKindReact:
		return &g.ReactChannels, true
	case channelKindGame:
		return &g.GameChannels, true
	default:
		return nil, false
	}
}

// AllowsGameplay reports whether gameplay commands may be used in
// channelID. With no game channels configured, every channel is allowed.
func (g GuildSettings) AllowsGameplay(channelID string) bool {
	return len(g.GameChannels) == 0 || g.GameChannels.Contains(channelID)
}

//nolint:lll // can't break tags
type GuildSettingsUpdate struct {
	Prefix           *string     `json:"prefix,omitempty" binding:"omitnil,min=1,max=5"`
	AnnounceChannels *ChannelSet `json:"announce_channels,omitempty"`
	LogChannels      *ChannelSet `json:"log_channels,omitempty"`
	SpawnChannels    *ChannelSet `json:"spawn_channels,omitempty"`
	LinkChannels     *ChannelSet `json:"link_channels,omitempty"`
	ReactChannels    *ChannelSet `json:"react_channels,omitempty"`
	GameChannels     *ChannelSet `json:"game_channels,omitempty"`
	Welcome          *bool       `json:"welcome,omitempty"`
}

func (u GuildSettingsUpdate) apply(g *GuildSettings) {
	if u.Prefix != nil {
		g.Prefix = *u.Prefix
	}
	if u.AnnounceChannels != nil {
		g.AnnounceChannels = *u.AnnounceChannels
	}
	if u.LogChannels != nil {
		g.LogChannels = *u.LogChannels
	}
	if u.SpawnChannels != nil {
		g.SpawnChannels = *u.SpawnChannels
	}
	if u.LinkChannels != nil {
		g.LinkChannels = *u.LinkChannels
	}
	if u.ReactChannels != nil {
		g.ReactChannels = *u.ReactChannels
	}
	if u.GameChannels != nil {
		g.GameChannels = *u.GameChannels
	}
	if u.Welcome != nil {
		g.Welcome = *u.Welcome
	}
}

type guildCacheEntry struct {
	settings GuildSettings
	loadedAt time.Time
}

// guildCache is a read-through cache of GuildSettings. Entries older
// than ttl are re-read; a ttl of 0 disables caching.
type guildCache struct {
	mu      sync.RWMutex
	entries map[string]guildCacheEntry
	ttl     time.Duration
}

func newGuildCache(ttl time.Duration) *guildCache {
	return &guildCache{entries: map[string]guildCacheEntry{}, ttl: ttl}
}

func (g *guildCache) get(guildID string) (GuildSettings, bool) {
	if g.ttl <= 0 {
		return GuildSettings{}, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[guildID]
	if !ok || time.Since(e.loadedAt) > g.ttl {
		return GuildSettings{}, false
	}
	return e.settings, true
}

func (g *guildCache) put(s GuildSettings) {
	if g.ttl <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[s.GuildID] = guildCacheEntry{settings: s, loadedAt: time.Now()}
}

func (g *guildCache) invalidate(guildID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, guildID)
}

func loadGuildSettings(db *gorm.DB, guildID string) (GuildSettings, error) {
	var s GuildSettings
	err := db.Where("guild_id = ?", guildID).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultGuildSettings(guildID), nil
	}
	return s, err
}

// guildSettings returns the guild's settings, or defaults if it has
// never been configured
func (c *CraftCord) guildSettings(ctx context.Context, guildID string) (GuildSettings, error) {
	if s, ok := c.guilds.get(guildID); ok {
		return s, nil
	}
	s, err := loadGuildSettings(c.db.WithContext(ctx), guildID)
	if err != nil {
		return s, fmt.Errorf("error loading guild settings: %w", err)
	}
	c.guilds.put(s)
	return s, nil
}

// updateGuildSettings applies fn to the stored settings and saves them.
// Other instances are notified, and the guild's spawn loop is restarted.
func (c *CraftCord) updateGuildSettings(
	ctx context.Context,
	guildID string,
	fn func(s *GuildSettings) error,
) (GuildSettings, error) {
	var updated GuildSettings
	err := c.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			s, err := loadGuildSettings(lockForUpdate(tx), guildID)
			if err != nil {
				return err
			}
			if err = fn(&s); err != nil {
				return err
			}
			if err = structValidator.Struct(s); err != nil {
				return userError("❌ Invalid settings: %s", err.Error())
			}
			updated = s
			return tx.Save(&s).Error
		},
	)
	if err != nil {
		return updated, err
	}
	c.guilds.invalidate(guildID)

	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = c.logger
	}
	logger.InfoContext(ctx, "guild settings updated", slog.Any("guild_settings", updated))

	if c.dbNotifier != nil {
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), dbNotifierSendTimeout)
			defer cancel()
			c.dbNotifier.GuildUpdated(nctx, guildID)
		}()
	}
	return updated, nil
}

// onGuildUpdated handles a local or remote settings change
func (c *CraftCord) onGuildUpdated(ctx context.Context, guildID string) {
	c.guilds.invalidate(guildID)
	settings, err := c.guildSettings(ctx, guildID)
	if err != nil {
		c.logger.ErrorContext(ctx, "error reloading guild settings", "guild_id", guildID, tint.Err(err))
		return
	}
	c.syncGuildSpawnTask(ctx, settings)
}

// configuredGuilds returns every stored guild's settings
func configuredGuilds(db *gorm.DB) ([]GuildSettings, error) {
	var guilds []GuildSettings
	err := db.Order("guild_id").Find(&guilds).Error
	return guilds, err
}

// warmGuildCache loads every configured guild into the cache
func (c *CraftCord) warmGuildCache(ctx context.Context) error {
	guilds, err := configuredGuilds(c.db.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error loading guilds: %w", err)
	}
	for _, g := range guilds {
		c.guilds.put(g)
	}
	return nil
}
