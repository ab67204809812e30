package craftcord

import (
	"context"
	"errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Player is a Discord user who has interacted with the game. Level is
// never stored; it is derived from Experience.
type Player struct {
	ID                string `gorm:"primaryKey" json:"id"`
	Username          string `json:"username"`
	PenSize           int    `gorm:"not null" json:"pen_size"`
	PenUpgrades       int    `gorm:"not null;default:0" json:"pen_upgrades"`
	Experience        int64  `gorm:"not null;default:0;check:experience >= 0" json:"experience"`
	OverallExperience int64  `gorm:"not null;default:0;index" json:"overall_experience"`
	LastGuildID       string `json:"last_guild_id,omitempty"`
	LastChannelID     string `json:"last_channel_id,omitempty"`

	// Set when a link code from linkyt is confirmed
	YouTubeChannelName string `gorm:"column:youtube_channel_name" json:"youtube_channel_name,omitempty"`
	YouTubeChannelID   string `gorm:"column:youtube_channel_id" json:"youtube_channel_id,omitempty"`
	ModelTimestamps
}

func (p Player) Level() int {
	return LevelForExperience(p.Experience)
}

// ensurePlayer creates the player row if missing, and refreshes the
// username when one is given
func ensurePlayer(tx *gorm.DB, playerID, username string) error {
	p := Player{ID: playerID, Username: username, PenSize: penBaseSize}
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}
	if username != "" {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username"}),
		}
	}
	return tx.Clauses(onConflict).Create(&p).Error
}

// getPlayer loads a player, returning [ErrPlayerNotFound] if absent
func getPlayer(db *gorm.DB, playerID string) (*Player, error) {
	var p Player
	if err := db.Where("id = ?", playerID).Take(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	return &p, nil
}

// lookupPlayer returns the player, or a zero-valued Player with the
// default pen size if they've never played
func (c *CraftCord) lookupPlayer(ctx context.Context, playerID string) (*Player, error) {
	p, err := getPlayer(c.db.WithContext(ctx), playerID)
	if errors.Is(err, ErrPlayerNotFound) {
		return &Player{ID: playerID, PenSize: penBaseSize}, nil
	}
	return p, err
}

// touchPlayer records where the player was last active, so background
// jobs know which guild to apply role changes in
func touchPlayer(tx *gorm.DB, playerID, username, guildID, channelID string) error {
	if err := ensurePlayer(tx, playerID, username); err != nil {
		return err
	}
	if guildID == "" {
		return nil
	}
	return tx.Model(&Player{}).
		Where("id = ?", playerID).
		Updates(map[string]any{"last_guild_id": guildID, "last_channel_id": channelID}).Error
}
