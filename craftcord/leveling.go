package craftcord

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"sort"
)

// LevelForExperience maps cumulative experience to a level: the number
// of thresholds the experience has reached
func LevelForExperience(xp int64) int {
	return sort.Search(
		len(levelThresholds), func(i int) bool {
			return levelThresholds[i] > xp
		},
	)
}

// ExperienceForLevel is the experience needed to reach level
func ExperienceForLevel(level int) int64 {
	switch {
	case level <= 0:
		return 0
	case level > len(levelThresholds):
		return levelThresholds[len(levelThresholds)-1]
	default:
		return levelThresholds[level-1]
	}
}

// milestoneRole is the role name held at level, or "" if none. A
// milestone without a role of its own keeps the previous one.
func milestoneRole(level int) string {
	role := ""
	for _, m := range milestoneLevels {
		if m > level {
			break
		}
		if name, ok := milestoneRoles[m]; ok {
			role = name
		}
	}
	return role
}

// LevelChange describes a change in a player's experience
type LevelChange struct {
	PlayerID   string
	Old        int
	New        int
	Experience int64
}

func (l LevelChange) LeveledUp() bool {
	return l.New > l.Old
}

func (l LevelChange) Changed() bool {
	return l.New != l.Old
}

// addExperience adds delta to the player's experience, returning the
// old and new levels. Positive deltas also count toward overall
// experience, which never decays.
func addExperience(tx *gorm.DB, playerID string, delta int64) (LevelChange, error) {
	change := LevelChange{PlayerID: playerID}
	if err := ensurePlayer(tx, playerID, ""); err != nil {
		return change, err
	}
	var current Player
	if err := lockForUpdate(tx).Select("id", "experience").
		Where("id = ?", playerID).
		Take(&current).Error; err != nil {
		return change, err
	}
	next := current.Experience + delta
	if next < 0 {
		next = 0
	}
	updates := map[string]any{"experience": next}
	if delta > 0 {
		updates["overall_experience"] = gorm.Expr("overall_experience + ?", delta)
	}
	if err := tx.Model(&Player{}).Where("id = ?", playerID).Updates(updates).Error; err != nil {
		return change, err
	}
	change.Old = LevelForExperience(current.Experience)
	change.New = LevelForExperience(next)
	change.Experience = next
	return change, nil
}

// grantExperience adds experience and applies any resulting level-up
// (roles, announcement) in guildID
func (c *CraftCord) grantExperience(
	ctx context.Context,
	guildID string,
	channelID string,
	user *discordgo.User,
	amount int64,
) (LevelChange, error) {
	var change LevelChange
	if amount <= 0 {
		return change, fmt.Errorf("experience: %w", errNonPositiveAmount)
	}
	err := c.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			if err := touchPlayer(tx, user.ID, user.Username, guildID, channelID); err != nil {
				return err
			}
			var err error
			change, err = addExperience(tx, user.ID, amount)
			return err
		},
	)
	if err != nil {
		return change, err
	}
	c.metrics.ExperienceTotal.Add(float64(amount))
	if change.LeveledUp() {
		c.applyLevelChange(ctx, guildID, channelID, change)
	}
	return change, nil
}

// applyLevelChange swaps milestone roles and announces level-ups. Both
// are best-effort.
func (c *CraftCord) applyLevelChange(
	ctx context.Context,
	guildID string,
	channelID string,
	change LevelChange,
) {
	logger := c.logger.With("player_id", change.PlayerID, "guild_id", guildID)
	if guildID != "" {
		if err := c.syncMilestoneRole(ctx, guildID, change.PlayerID, change.Old, change.New); err != nil {
			logger.WarnContext(ctx, "error updating milestone roles", tint.Err(err))
		}
	}
	if !change.LeveledUp() {
		return
	}
	c.metrics.LevelUps.Add(float64(change.New - change.Old))
	logger.InfoContext(ctx, "player leveled up", "old_level", change.Old, "new_level", change.New)

	announce := channelID
	if guildID != "" {
		if settings, err := c.guildSettings(ctx, guildID); err == nil && settings.AnnounceChannels.First() != "" {
			announce = settings.AnnounceChannels.First()
		}
	}
	if announce == "" || c.discord.session == nil {
		return
	}
	_, _ = c.discord.session.ChannelMessageSend(
		announce,
		fmt.Sprintf("🎉 <@%s> leveled up to **Level %d**!", change.PlayerID, change.New),
	)
}

// syncMilestoneRole removes the milestone role held at oldLevel and
// grants the one for newLevel, if they differ. Roles are matched by name.
func (c *CraftCord) syncMilestoneRole(
	ctx context.Context,
	guildID string,
	userID string,
	oldLevel int,
	newLevel int,
) error {
	oldRole, newRole := milestoneRole(oldLevel), milestoneRole(newLevel)
	if oldRole == newRole || c.discord.session == nil {
		return nil
	}
	roles, err := c.discord.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error listing roles: %w", err)
	}
	roleID := func(name string) string {
		for _, r := range roles {
			if r.Name == name {
				return r.ID
			}
		}
		return ""
	}

	var errs []error
	if oldRole != "" {
		if id := roleID(oldRole); id != "" {
			errs = append(
				errs,
				c.discord.session.GuildMemberRoleRemove(guildID, userID, id, discordgo.WithContext(ctx)),
			)
		}
	}
	if newRole != "" {
		id := roleID(newRole)
		if id == "" {
			errs = append(errs, fmt.Errorf("role %q not found", newRole))
		} else {
			errs = append(
				errs,
				c.discord.session.GuildMemberRoleAdd(guildID, userID, id, discordgo.WithContext(ctx)),
			)
		}
	}
	return errors.Join(errs...)
}

// handleChatExperience grants passive experience for chatting, at most
// ChatXPPerWindow times per ChatXPWindow per user
func (c *CraftCord) handleChatExperience(ctx context.Context, m *discordgo.Message) {
	if !c.RuntimeConfig().ChatXPEnabled || m.Author == nil {
		return
	}
	if !c.chatXPLimiter.Allow(m.Author.ID) {
		return
	}
	if _, err := c.grantExperience(
		ctx,
		m.GuildID,
		m.ChannelID,
		m.Author,
		int64(c.config.Game.ChatXPAmount),
	); err != nil {
		c.logger.ErrorContext(ctx, "error granting chat experience", tint.Err(err))
	}
}

// decayExperience drops every levelled player exactly one level, by
// setting their experience just below their current level's threshold.
// Milestone roles are re-synced in each player's last active guild.
func (c *CraftCord) decayExperience(ctx context.Context) (int, error) {
	var changes []LevelChange
	guildOf := map[string]string{}
	err := c.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			var players []Player
			if err := tx.Select("id", "experience", "last_guild_id").
				Where("experience >= ?", levelThresholds[0]).
				Find(&players).Error; err != nil {
				return err
			}
			for _, p := range players {
				level := p.Level()
				next := ExperienceForLevel(level) - 1
				if next < 0 {
					next = 0
				}
				if err := tx.Model(&Player{}).
					Where("id = ?", p.ID).
					Update("experience", next).Error; err != nil {
					return err
				}
				changes = append(
					changes,
					LevelChange{
						PlayerID:   p.ID,
						Old:        level,
						New:        LevelForExperience(next),
						Experience: next,
					},
				)
				guildOf[p.ID] = p.LastGuildID
			}
			return nil
		},
	)
	if err != nil {
		return 0, err
	}
	for _, change := range changes {
		guildID := guildOf[change.PlayerID]
		if guildID == "" {
			continue
		}
		if roleErr := c.syncMilestoneRole(
			ctx,
			guildID,
			change.PlayerID,
			change.Old,
			change.New,
		); roleErr != nil {
			c.logger.WarnContext(
				ctx,
				"error updating milestone roles after decay",
				tint.Err(roleErr),
				"player_id", change.PlayerID,
			)
		}
	}
	c.logger.InfoContext(ctx, "experience decayed", "players", len(changes))
	return len(changes), nil
}
