package craftcord

import (
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var channelMentionPattern = regexp.MustCompile(`^<#(\d+)>$`)

// toggledChannelKinds hold any number of channels, and setchannel adds
// or removes one. Other kinds hold a single channel.
var toggledChannelKinds = []string{
	channelKindSpawn,
	channelKindLink,
	channelKindReact,
	channelKindGame,
}

func channelList(s ChannelSet) string {
	if len(s) == 0 {
		return "none"
	}
	mentions := make([]string, len(s))
	for i, id := range s {
		mentions[i] = "<#" + id + ">"
	}
	return strings.Join(mentions, ", ")
}

func guildSettingsEmbed(s GuildSettings) *discordgo.MessageEmbed {
	welcome := "off"
	if s.Welcome {
		welcome = "on"
	}
	embed := &discordgo.MessageEmbed{
		Title: "⚙️ Server settings",
		Color: rarities[1].Color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "prefix", Value: "`" + s.Prefix + "`", Inline: true},
			{Name: "welcome", Value: welcome, Inline: true},
		},
	}
	for _, kind := range channelKinds {
		set, _ := s.Channels(kind)
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: kind + " channels", Value: channelList(*set)},
		)
	}
	return embed
}

// setChannel assigns or toggles channelID for kind, reporting whether
// the channel is now in the set
func setChannel(s *GuildSettings, kind, channelID string) (bool, error) {
	set, ok := s.Channels(kind)
	if !ok {
		return false, userError("❌ Channel type must be one of: %s", strings.Join(channelKinds, ", "))
	}
	if slices.Contains(toggledChannelKinds, kind) {
		return set.Toggle(channelID), nil
	}
	*set = ChannelSet{channelID}
	return true, nil
}

func (c *CraftCord) cmdConfig(cc *commandContext) error {
	settings, err := c.guildSettings(cc.ctx, cc.message.GuildID)
	if err != nil {
		return err
	}
	return cc.replyEmbed(guildSettingsEmbed(settings))
}

func (c *CraftCord) cmdPrefix(cc *commandContext) error {
	prefix := cc.arg(0)
	if prefix == "" {
		return userError("❌ Usage: `%sprefix <prefix>`", cc.guild.Prefix)
	}
	updated, err := c.updateGuildSettings(
		cc.ctx, cc.message.GuildID, func(s *GuildSettings) error {
			s.Prefix = prefix
			return nil
		},
	)
	if err != nil {
		return err
	}
	return cc.reply(fmt.Sprintf("✅ Prefix set to `%s`.", updated.Prefix))
}

func (c *CraftCord) cmdSetChannel(cc *commandContext) error {
	kind := strings.ToLower(cc.arg(0))
	if kind == "" {
		return userError("❌ Usage: `%ssetchannel <%s> [#channel]`", cc.guild.Prefix, strings.Join(channelKinds, "|"))
	}
	channelID := cc.message.ChannelID
	if arg := cc.arg(1); arg != "" {
		match := channelMentionPattern.FindStringSubmatch(arg)
		switch {
		case match != nil:
			channelID = match[1]
		case snowflakePattern.MatchString(arg):
			channelID = arg
		default:
			return userError("❌ `%s` isn't a channel.", arg)
		}
	}
	var enabled bool
	_, err := c.updateGuildSettings(
		cc.ctx, cc.message.GuildID, func(s *GuildSettings) error {
			var err error
			enabled, err = setChannel(s, kind, channelID)
			return err
		},
	)
	if err != nil {
		return err
	}
	if enabled {
		return cc.reply(fmt.Sprintf("✅ <#%s> is now a %s channel.", channelID, kind))
	}
	return cc.reply(fmt.Sprintf("✅ <#%s> is no longer a %s channel.", channelID, kind))
}

func (c *CraftCord) cmdWelcome(cc *commandContext) error {
	var on bool
	switch strings.ToLower(cc.arg(0)) {
	case "on", "true", "yes", "enable":
		on = true
	case "off", "false", "no", "disable":
	default:
		return userError("❌ Usage: `%swelcome on|off`", cc.guild.Prefix)
	}
	_, err := c.updateGuildSettings(
		cc.ctx, cc.message.GuildID, func(s *GuildSettings) error {
			s.Welcome = on
			return nil
		},
	)
	if err != nil {
		return err
	}
	if on {
		return cc.reply("✅ Welcome messages are on.")
	}
	return cc.reply("✅ Welcome messages are off.")
}

func (c *CraftCord) cmdSpawn(cc *commandContext) error {
	channelID := ""
	if len(cc.guild.SpawnChannels) == 0 {
		channelID = cc.message.ChannelID
	}
	s, err := c.spawnInGuild(cc.ctx, cc.message.GuildID, channelID)
	if err != nil {
		return err
	}
	cc.logger.InfoContext(cc.ctx, "forced spawn", "spawn_id", s.ID, "creature", s.Creature)
	if s.ChannelID == cc.message.ChannelID {
		return nil
	}
	return cc.reply(fmt.Sprintf("✅ Spawned a creature in <#%s>.", s.ChannelID))
}

// parseGiveMobArgs splits "<player> <creature words> [count]"
func parseGiveMobArgs(args []string) (string, string, int64, error) {
	if len(args) < 2 {
		return "", "", 0, errors.New("missing arguments")
	}
	who, rest := args[0], args[1:]
	count := int64(1)
	if n, err := strconv.ParseInt(rest[len(rest)-1], 10, 64); err == nil && len(rest) > 1 {
		count = n
		rest = rest[:len(rest)-1]
	}
	return who, strings.Join(rest, " "), count, nil
}

func (c *CraftCord) cmdGiveMob(cc *commandContext) error {
	who, name, count, err := parseGiveMobArgs(cc.args)
	if err != nil {
		return userError("❌ Usage: `%sgivemob <@player> <creature> [count]`", cc.guild.Prefix)
	}
	if count <= 0 || count > defaultGiveMobLimit {
		return userError("❌ Count must be between 1 and %d.", defaultGiveMobLimit)
	}
	user, err := c.resolveMember(cc.ctx, cc.message, who)
	if err != nil {
		return err
	}
	cr, err := resolveCreature(name)
	if err != nil {
		return err
	}
	if cr.Hostile {
		return userError("❌ %s is hostile and can't be kept in a pen.", cr.Name)
	}
	err = c.writeDB.Transaction(
		cc.ctx, func(tx *gorm.DB) error {
			if err := ensurePlayer(tx, user.ID, user.Username); err != nil {
				return err
			}
			return addToPen(tx, user.ID, cr.Name, false, count)
		},
	)
	if err != nil {
		return err
	}
	cc.logger.InfoContext(
		cc.ctx,
		"admin gave creatures",
		"target_id", user.ID,
		"creature", cr.Name,
		"count", count,
	)
	return cc.reply(fmt.Sprintf("✅ Gave %d× %s to <@%s>.", count, cr.Name, user.ID))
}
