package craftcord

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"regexp"
	"strings"
)

var (
	userMentionPattern = regexp.MustCompile(`^<@!?(\d+)>$`)
	snowflakePattern   = regexp.MustCompile(`^\d{15,21}$`)
)

// resolveMember finds the user an argument refers to: a mention, a
// user ID, or a name search within the guild
func (c *CraftCord) resolveMember(
	ctx context.Context,
	m *discordgo.Message,
	arg string,
) (*discordgo.User, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, userError("❌ Tell me who you mean.")
	}
	if match := userMentionPattern.FindStringSubmatch(arg); match != nil {
		for _, u := range m.Mentions {
			if u != nil && u.ID == match[1] {
				return u, nil
			}
		}
		return c.memberByID(ctx, m.GuildID, match[1], arg)
	}
	if snowflakePattern.MatchString(arg) {
		return c.memberByID(ctx, m.GuildID, arg, arg)
	}

	members, err := c.discord.session.GuildMembersSearch(
		m.GuildID,
		arg,
		discordMemberSearchLimit,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("error searching members: %w", err)
	}
	for _, member := range members {
		if member.User == nil {
			continue
		}
		if strings.EqualFold(member.User.Username, arg) ||
			strings.EqualFold(member.Nick, arg) ||
			strings.EqualFold(member.User.GlobalName, arg) {
			return member.User, nil
		}
	}
	if len(members) == 1 && members[0].User != nil {
		return members[0].User, nil
	}
	return nil, userError("❌ I couldn't find `%s` in this server.", arg)
}

func (c *CraftCord) memberByID(
	ctx context.Context,
	guildID, userID, arg string,
) (*discordgo.User, error) {
	member, err := c.discord.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil || member == nil || member.User == nil {
		return nil, userError("❌ I couldn't find `%s` in this server.", arg)
	}
	return member.User, nil
}

// targetUser is the user named by arg, or the author when arg is empty
func (cc *commandContext) targetUser(arg string) (*discordgo.User, error) {
	if arg == "" {
		return cc.author(), nil
	}
	return cc.c.resolveMember(cc.ctx, cc.message, arg)
}
