package craftcord

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"time"
)

var errNoSpawnChannels = errors.New("no spawn channels configured")

// Spawn is an uncaught creature waiting in a channel. The row is deleted
// when the creature is caught or escapes; whichever deletes it first
// decides the outcome.
type Spawn struct {
	ID        string `gorm:"primaryKey" json:"id"`
	GuildID   string `gorm:"index" json:"guild_id"`
	ChannelID string `gorm:"index;not null" json:"channel_id"`
	Creature  string `gorm:"not null" json:"creature"`
	Golden    bool   `gorm:"not null;default:false" json:"golden"`
	MessageID string `json:"message_id"`
	SpawnedAt int64  `gorm:"not null;index" json:"spawned_at"`

	// Catches before this (the final reveal frame) earn a bonus
	EarlyUntil int64 `gorm:"not null" json:"early_until"`
	ExpiresAt  int64 `gorm:"not null;index" json:"expires_at"`
}

func (Spawn) TableName() string {
	return "spawns"
}

func (s Spawn) Expired(now time.Time) bool {
	return now.UnixMilli() >= s.ExpiresAt
}

// chooseCreature picks a creature, each rarity step being half as
// likely as the one below it
func chooseCreature(rng *lockedRand, pool []Creature) Creature {
	weights := make([]int, len(pool))
	for i, c := range pool {
		weights[i] = 1 << (maxRarity + 1 - c.Rarity)
	}
	return pool[rng.Weighted(weights)]
}

// activeSpawn returns the channel's current spawn (the oldest unexpired
// one), or nil
func activeSpawn(db *gorm.DB, channelID string, now time.Time) (*Spawn, error) {
	var s Spawn
	err := db.Where("channel_id = ? AND expires_at > ?", channelID, now.UnixMilli()).
		Order("spawned_at, id").
		Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// claimSpawn deletes the spawn row, reporting whether this call was the
// one that deleted it
func claimSpawn(tx *gorm.DB, spawnID string) (bool, error) {
	rv := tx.Where("id = ?", spawnID).Delete(&Spawn{})
	if rv.Error != nil {
		return false, rv.Error
	}
	return rv.RowsAffected == 1, nil
}

func spawnEmbed(s *Spawn, c Creature, frame, frames int, imageURL string) *discordgo.MessageEmbed {
	title := "A wild creature appeared!"
	color := c.RarityInfo().Color
	if s.Golden {
		title = "✨ A golden creature appeared! ✨"
		color = goldenColor
	}
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("Say its name to catch it!\n`%s`", nameHint(c.Name, frame, frames)),
		Color:       color,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%s • leaves in %s", c.RarityInfo().Name, formatDuration(c.RarityInfo().Stay)),
		},
	}
	if imageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: imageURL}
	}
	return embed
}

// revealFrameURL renders, stores and returns the URL of a reveal frame.
// Failures are logged, and the embed goes without an image.
func (c *CraftCord) revealFrameURL(ctx context.Context, s *Spawn, cr Creature, frame int) string {
	data, err := renderRevealFrame(cr, s.Golden, frame, c.config.Game.RevealFrames)
	if err == nil {
		var id string
		if id, err = c.storeMedia(ctx, data, mimeTypePNG); err == nil {
			return c.mediaURL(id)
		}
	}
	c.logger.WarnContext(ctx, "error rendering reveal frame", "spawn_id", s.ID, tint.Err(err))
	return ""
}

// spawnCreature creates a spawn in channelID, posts it, and starts its
// reveal animation and expiry watcher
func (c *CraftCord) spawnCreature(
	ctx context.Context,
	guildID string,
	channelID string,
) (*Spawn, error) {
	cr := chooseCreature(c.rng, creatures)
	now := time.Now()
	frames := c.config.Game.RevealFrames
	s := &Spawn{
		ID:         newID(),
		GuildID:    guildID,
		ChannelID:  channelID,
		Creature:   cr.Name,
		Golden:     c.rng.OneIn(c.config.Game.GoldenOdds),
		SpawnedAt:  now.UnixMilli(),
		EarlyUntil: now.Add(c.config.Game.RevealInterval * time.Duration(frames-1)).UnixMilli(),
		ExpiresAt:  now.Add(cr.RarityInfo().Stay).UnixMilli(),
	}
	logger := c.logger.With(
		loggerNameKey, "spawner",
		"guild_id", guildID,
		"channel_id", channelID,
		"spawn_id", s.ID,
	)
	if _, err := c.writeDB.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("error creating spawn: %w", err)
	}
	c.metrics.Spawns.Inc()
	c.metrics.ActiveSpawns.Inc()
	logger.InfoContext(ctx, "creature spawned", "creature", s.Creature, "golden", s.Golden)

	msg, err := c.discord.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{spawnEmbed(s, cr, 0, frames, c.revealFrameURL(ctx, s, cr, 0))},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		// nobody can see it, so nobody can catch it
		if _, delErr := c.writeDB.Delete(ctx, &Spawn{}, "id = ?", s.ID); delErr == nil {
			c.metrics.ActiveSpawns.Dec()
		}
		return nil, fmt.Errorf("error posting spawn: %w", err)
	}
	s.MessageID = msg.ID
	if _, err = c.writeDB.Update(ctx, &Spawn{ID: s.ID}, "message_id", msg.ID); err != nil {
		logger.WarnContext(ctx, "error saving spawn message id", tint.Err(err))
	}

	c.watchSpawn(*s)
	if frames > 1 {
		c.runtimeWG.Add(1)
		go func() {
			defer c.runtimeWG.Done()
			c.animateReveal(c.runContext(), *s, cr)
		}()
	}
	return s, nil
}

// animateReveal edits the spawn message through the remaining reveal
// frames, stopping early once the spawn is resolved
func (c *CraftCord) animateReveal(ctx context.Context, s Spawn, cr Creature) {
	frames := c.config.Game.RevealFrames
	ticker := time.NewTicker(c.config.Game.RevealInterval)
	defer ticker.Stop()
	for frame := 1; frame < frames; frame++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var n int64
		if err := c.db.WithContext(ctx).Model(&Spawn{}).Where("id = ?", s.ID).Count(&n).Error; err != nil || n == 0 {
			return
		}
		embed := spawnEmbed(&s, cr, frame, frames, c.revealFrameURL(ctx, &s, cr, frame))
		embeds := []*discordgo.MessageEmbed{embed}
		if _, err := c.discord.session.ChannelMessageEditComplex(
			&discordgo.MessageEdit{
				ID:      s.MessageID,
				Channel: s.ChannelID,
				Embeds:  &embeds,
			},
			discordgo.WithContext(ctx),
		); err != nil {
			return
		}
	}
}

// watchSpawn starts the expiry watcher for s
func (c *CraftCord) watchSpawn(s Spawn) {
	c.runtimeWG.Add(1)
	go func() {
		defer c.runtimeWG.Done()
		c.watchSpawnExpiry(c.runContext(), s)
	}()
}

// watchSpawnExpiry waits until the spawn expires, then resolves it as
// an escape. If the bot shuts down first, the spawn is left for
// resumeSpawnWatchers.
func (c *CraftCord) watchSpawnExpiry(ctx context.Context, s Spawn) {
	wait := time.Until(time.UnixMilli(s.ExpiresAt))
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
	if _, err := c.expireSpawn(ctx, s); err != nil {
		c.logger.ErrorContext(ctx, "error expiring spawn", "spawn_id", s.ID, tint.Err(err))
	}
}

// expireSpawn resolves s as an escape, unless it was already caught.
// Returns whether the escape happened.
func (c *CraftCord) expireSpawn(ctx context.Context, s Spawn) (bool, error) {
	var escaped bool
	err := c.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			var err error
			escaped, err = claimSpawn(tx, s.ID)
			return err
		},
	)
	if err != nil || !escaped {
		return false, err
	}
	c.metrics.Escapes.Inc()
	c.metrics.ActiveSpawns.Dec()
	c.logger.InfoContext(ctx, "creature escaped", "spawn_id", s.ID, "creature", s.Creature)

	if s.MessageID != "" {
		_ = c.discord.session.ChannelMessageDelete(s.ChannelID, s.MessageID, discordgo.WithContext(ctx))
	}
	_, err = c.discord.session.ChannelMessageSend(
		s.ChannelID,
		fmt.Sprintf("💨 The **%s** got away!", creatureLabel(s.Creature, s.Golden)),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		c.logger.WarnContext(ctx, "error announcing escape", "spawn_id", s.ID, tint.Err(err))
	}
	return true, nil
}

// CatchResult is the outcome of a winning catch
type CatchResult struct {
	Spawn  Spawn
	Early  bool
	Credit *CreditResult
}

func (r CatchResult) String() string {
	msg := fmt.Sprintf("🎉 You caught the **%s**! %s", creatureLabel(r.Spawn.Creature, r.Spawn.Golden), r.Credit)
	if r.Early && r.Credit.Penned {
		msg += fmt.Sprintf(" Early catch bonus: **%d** emerald.", earlyCatchBonus)
	}
	return msg
}

// catchSpawn tries to claim s for the user. Only one caller can win a
// spawn; the others (and a later expiry) get won == false.
func (c *CraftCord) catchSpawn(
	ctx context.Context,
	s Spawn,
	user *discordgo.User,
	guildID string,
	channelID string,
) (result *CatchResult, won bool, err error) {
	cr, ok := lookupCreature(s.Creature)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownCreature, s.Creature)
	}
	early := time.Now().UnixMilli() < s.EarlyUntil
	err = c.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			claimed, claimErr := claimSpawn(tx, s.ID)
			if claimErr != nil || !claimed {
				return claimErr
			}
			if e := touchPlayer(tx, user.ID, user.Username, guildID, channelID); e != nil {
				return e
			}
			credit, e := creditCreature(tx, user.ID, cr, s.Golden, early)
			if e != nil {
				return e
			}
			result = &CatchResult{Spawn: s, Early: early, Credit: credit}
			won = true
			return nil
		},
	)
	if err != nil || !won {
		return nil, false, err
	}
	c.metrics.ActiveSpawns.Dec()
	c.metrics.Catches.WithLabelValues(cr.RarityInfo().Name).Inc()
	if result.Credit.Sacrifice != nil {
		c.metrics.Sacrifices.WithLabelValues(result.Credit.Sacrifice.Reason).Inc()
	}
	c.logger.InfoContext(
		ctx,
		"creature caught",
		"spawn_id", s.ID,
		"creature", s.Creature,
		"player_id", user.ID,
		"early", early,
		"penned", result.Credit.Penned,
	)
	return result, true, nil
}

// handleSpawnGuess checks a chat message against the channel's active
// spawn. Returns true if the message caught it.
func (c *CraftCord) handleSpawnGuess(ctx context.Context, m *discordgo.Message) (bool, error) {
	s, err := activeSpawn(c.db.WithContext(ctx), m.ChannelID, time.Now())
	if err != nil || s == nil {
		return false, err
	}
	if normalizeName(m.Content) != normalizeName(s.Creature) {
		return false, nil
	}
	result, won, err := c.catchSpawn(ctx, *s, m.Author, m.GuildID, m.ChannelID)
	if err != nil || !won {
		return false, err
	}
	if s.MessageID != "" {
		_ = c.discord.session.ChannelMessageDelete(s.ChannelID, s.MessageID, discordgo.WithContext(ctx))
	}
	_, err = c.discord.session.ChannelMessageSendComplex(
		m.ChannelID,
		&discordgo.MessageSend{
			Content:   result.String(),
			Reference: replyReference(m),
		},
		discordgo.WithContext(ctx),
	)
	return true, err
}

// spawnInGuild spawns a creature in a random one of the guild's spawn
// channels, or in channelID if given
func (c *CraftCord) spawnInGuild(ctx context.Context, guildID, channelID string) (*Spawn, error) {
	if channelID == "" {
		settings, err := c.guildSettings(ctx, guildID)
		if err != nil {
			return nil, err
		}
		if len(settings.SpawnChannels) == 0 {
			return nil, errNoSpawnChannels
		}
		channelID = settings.SpawnChannels[c.rng.Intn(len(settings.SpawnChannels))]
	}
	return c.spawnCreature(ctx, guildID, channelID)
}

// spawnLoop is the body of a guild's spawn duty: sleep a random
// interval, then spawn in a random spawn channel that has nothing
// waiting in it
func (c *CraftCord) spawnLoop(guildID string) TaskFunc {
	return func(ctx context.Context) error {
		logger := c.logger.With(loggerNameKey, "spawner", "guild_id", guildID)
		for {
			wait := c.rng.Duration(c.config.Game.SpawnIntervalMin, c.config.Game.SpawnIntervalMax)
			logger.DebugContext(ctx, "next spawn", "in", wait)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}

			cfg := c.RuntimeConfig()
			if cfg.Paused || !cfg.SpawnsEnabled {
				continue
			}
			settings, err := c.guildSettings(ctx, guildID)
			if err != nil {
				return err
			}
			if len(settings.SpawnChannels) == 0 {
				logger.InfoContext(ctx, "no spawn channels left, stopping")
				return nil
			}
			channelID := settings.SpawnChannels[c.rng.Intn(len(settings.SpawnChannels))]
			existing, err := activeSpawn(c.db.WithContext(ctx), channelID, time.Now())
			if err != nil {
				return err
			}
			if existing != nil {
				logger.DebugContext(ctx, "channel already has a spawn", "channel_id", channelID)
				continue
			}
			if _, err = c.spawnCreature(ctx, guildID, channelID); err != nil {
				logger.ErrorContext(ctx, "error spawning", "channel_id", channelID, tint.Err(err))
			}
		}
	}
}

func spawnTaskKey(guildID string) TaskKey {
	return TaskKey{GuildID: guildID, Duty: DutySpawn}
}

// syncSpawnTasks starts a spawn duty for every guild with spawn
// channels, or stops them all while paused or with spawns disabled
func (c *CraftCord) syncSpawnTasks(ctx context.Context) {
	if c.runCtx == nil {
		return
	}
	cfg := c.RuntimeConfig()
	if cfg.Paused || !cfg.SpawnsEnabled {
		for _, key := range c.tasks.Keys() {
			if key.Duty == DutySpawn {
				c.tasks.Stop(key)
			}
		}
		return
	}
	guilds, err := configuredGuilds(c.db.WithContext(ctx))
	if err != nil {
		c.logger.ErrorContext(ctx, "error loading guilds", tint.Err(err))
		return
	}
	for _, g := range guilds {
		if len(g.SpawnChannels) == 0 {
			c.tasks.Stop(spawnTaskKey(g.GuildID))
			continue
		}
		c.tasks.Start(c.runCtx, spawnTaskKey(g.GuildID), c.spawnLoop(g.GuildID))
	}
}

// syncGuildSpawnTask restarts the guild's spawn duty after its settings
// change, or stops it if it no longer has spawn channels
func (c *CraftCord) syncGuildSpawnTask(_ context.Context, settings GuildSettings) {
	if c.runCtx == nil {
		return
	}
	key := spawnTaskKey(settings.GuildID)
	cfg := c.RuntimeConfig()
	if len(settings.SpawnChannels) == 0 || cfg.Paused || !cfg.SpawnsEnabled {
		c.tasks.Stop(key)
		return
	}
	c.tasks.Restart(c.runCtx, key, c.spawnLoop(settings.GuildID))
}

// resumeSpawnWatchers re-arms expiry watchers for spawns that survived
// a restart. Spawns that expired while the bot was down escape now.
func (c *CraftCord) resumeSpawnWatchers(ctx context.Context) error {
	var spawns []Spawn
	if err := c.db.WithContext(ctx).Order("spawned_at").Find(&spawns).Error; err != nil {
		return fmt.Errorf("error loading spawns: %w", err)
	}
	c.metrics.ActiveSpawns.Set(float64(len(spawns)))
	for _, s := range spawns {
		c.logger.InfoContext(ctx, "resuming spawn", "spawn_id", s.ID, "creature", s.Creature)
		c.watchSpawn(s)
	}
	return nil
}

// runContext is the context background work should use: canceled on
// shutdown, but not when the task that started the work is restarted
func (c *CraftCord) runContext() context.Context {
	if c.runCtx == nil {
		return context.Background()
	}
	return c.runCtx
}
