package craftcord

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"strings"
	"time"
)

const (
	linkCodeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	linkCodeLength        = 8
	linkCodeTTL           = 3 * time.Hour
	youTubeChannelNameMax = 100
	youTubeColor          = 0xFF0000
)

var ErrLinkCodeNotFound = errors.New("link code not found or expired")

// PendingLink is a YouTube channel link waiting to be confirmed with
// its code. ID is the player's user ID, so a new request replaces the
// old one.
type PendingLink struct {
	ModelStringID
	ChannelName string `gorm:"not null" json:"channel_name"`
	Code        string `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt   int64  `gorm:"not null;index" json:"expires_at"`
	ModelTimestamps
}

func (PendingLink) TableName() string {
	return "pending_links"
}

// newLinkCode returns a random code of uppercase letters and digits.
// Bytes that would bias the alphabet are skipped.
func newLinkCode() (string, error) {
	limit := 256 - 256%len(linkCodeAlphabet)
	code := make([]byte, 0, linkCodeLength)
	buf := make([]byte, linkCodeLength*2)
	for len(code) < linkCodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("error generating link code: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			code = append(code, linkCodeAlphabet[int(b)%len(linkCodeAlphabet)])
			if len(code) == linkCodeLength {
				break
			}
		}
	}
	return string(code), nil
}

// normalizeYouTubeChannelName strips a leading @ and lowercases name
func normalizeYouTubeChannelName(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

// upsertPendingLink stores the player's pending link, replacing any
// earlier one
func upsertPendingLink(tx *gorm.DB, link *PendingLink) error {
	return tx.Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"channel_name", "code", "expires_at", "updated_at"}),
		},
	).Create(link).Error
}

// confirmLink completes the pending link holding code, recording
// channelID on the player. Unknown and expired codes return
// [ErrLinkCodeNotFound].
func confirmLink(tx *gorm.DB, code, channelID string, now time.Time) (*Player, error) {
	var pending PendingLink
	err := tx.Where(
		"code = ? AND expires_at > ?",
		strings.ToUpper(strings.TrimSpace(code)),
		now.UnixMilli(),
	).Take(&pending).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkCodeNotFound
		}
		return nil, err
	}
	if err = ensurePlayer(tx, pending.ID, ""); err != nil {
		return nil, err
	}
	if err = tx.Model(&Player{}).
		Where("id = ?", pending.ID).
		Updates(
			map[string]any{
				"youtube_channel_name": pending.ChannelName,
				"youtube_channel_id":   channelID,
			},
		).Error; err != nil {
		return nil, err
	}
	if err = tx.Delete(&pending).Error; err != nil {
		return nil, err
	}
	return getPlayer(tx, pending.ID)
}

// purgeExpiredLinks deletes pending links that expired before now
func (c *CraftCord) purgeExpiredLinks(ctx context.Context, now time.Time) (int64, error) {
	return c.writeDB.Delete(ctx, &PendingLink{}, "expires_at <= ?", now.UnixMilli())
}

// youTubeURL is the player's channel URL, by ID when confirmed
func youTubeURL(p *Player) string {
	if p.YouTubeChannelID != "" {
		return "https://www.youtube.com/channel/" + p.YouTubeChannelID
	}
	return "https://www.youtube.com/@" + strings.ReplaceAll(p.YouTubeChannelName, " ", "")
}

// sendDM messages userID directly
func (c *CraftCord) sendDM(ctx context.Context, userID, content string) error {
	ch, err := c.discord.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error opening DM channel: %w", err)
	}
	_, err = c.discord.session.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx))
	return err
}

func (c *CraftCord) cmdLinkYouTube(cc *commandContext) error {
	name := normalizeYouTubeChannelName(cc.rest(0))
	if name == "" {
		return userError("❌ Usage: `%slinkyt <your YouTube channel name>`", cc.guild.Prefix)
	}
	if len(name) > youTubeChannelNameMax {
		return userError("❌ That channel name is too long.")
	}
	code, err := newLinkCode()
	if err != nil {
		return err
	}
	author := cc.author()
	link := &PendingLink{
		ModelStringID: ModelStringID{ID: author.ID},
		ChannelName:   name,
		Code:          code,
		ExpiresAt:     time.Now().Add(linkCodeTTL).UnixMilli(),
	}
	err = c.writeDB.Transaction(
		cc.ctx, func(tx *gorm.DB) error {
			if err := touchPlayer(tx, author.ID, author.Username, cc.message.GuildID, cc.message.ChannelID); err != nil {
				return err
			}
			return upsertPendingLink(tx, link)
		},
	)
	if err != nil {
		return err
	}

	dm := fmt.Sprintf(
		"🔗 **YouTube Link Code** 🔗\nChannel: **%s**\nYour code is: `%s`\n\n"+
			"Type `!link %s` in one of the livestream chats within %s to finish linking.",
		name,
		code,
		code,
		formatDuration(linkCodeTTL),
	)
	if err = c.sendDM(cc.ctx, author.ID, dm); err != nil {
		cc.logger.WarnContext(cc.ctx, "error sending link code", tint.Err(err))
		return cc.reply(
			fmt.Sprintf(
				"<@%s> I couldn't DM you. Allow direct messages from server members and try again.",
				author.ID,
			),
		)
	}
	return cc.reply(fmt.Sprintf("<@%s>, check your DMs for the code!", author.ID))
}

func (c *CraftCord) cmdYouTube(cc *commandContext) error {
	if !cc.guild.LinkChannels.Contains(cc.message.ChannelID) {
		return userError("❌ You can't do that here.")
	}
	user, err := cc.targetUser(cc.rest(0))
	if err != nil {
		return err
	}
	p, err := c.lookupPlayer(cc.ctx, user.ID)
	if err != nil {
		return err
	}
	if p.YouTubeChannelName == "" && p.YouTubeChannelID == "" {
		if user.ID == cc.author().ID {
			return cc.reply(
				fmt.Sprintf("You haven't linked a YouTube channel! Use `%slinkyt <channel name>`.", cc.guild.Prefix),
			)
		}
		return cc.reply(fmt.Sprintf("%s hasn't linked YouTube yet.", user.Username))
	}
	url := youTubeURL(p)
	name := p.YouTubeChannelName
	if name == "" {
		name = "–"
	}
	return cc.replyEmbed(
		&discordgo.MessageEmbed{
			Title: fmt.Sprintf("%s's YouTube", user.Username),
			URL:   url,
			Color: youTubeColor,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Channel Name", Value: name, Inline: true},
				{Name: "Link", Value: fmt.Sprintf("[Watch on YouTube](%s)", url), Inline: true},
			},
		},
	)
}
