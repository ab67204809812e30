package craftcord

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
	"time"
)

func (c *CraftCord) cmdInventory(cc *commandContext) error {
	user, err := cc.targetUser(cc.rest(0))
	if err != nil {
		return err
	}
	db := c.db.WithContext(cc.ctx)
	entries, err := inventory(db, user.ID)
	if err != nil {
		return err
	}
	tools, err := ownedTools(db, user.ID)
	if err != nil {
		return err
	}

	byCategory := map[string][]string{}
	for _, e := range entries {
		byCategory[e.Category] = append(byCategory[e.Category], fmt.Sprintf("%s: **%d**", e.ItemName, e.Quantity))
	}
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("🎒 %s's inventory", user.Username),
		Color: rarities[3].Color,
	}
	for _, category := range []string{itemCategoryCoin, itemCategoryRes, itemCategoryItems} {
		lines := byCategory[category]
		if len(lines) == 0 {
			continue
		}
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: category, Value: strings.Join(lines, "\n"), Inline: true},
		)
	}
	if len(tools) > 0 {
		lines := make([]string, len(tools))
		for i, t := range tools {
			lines[i] = fmt.Sprintf("%s %s: %d uses", t.Tier, t.Kind.Display(), t.UsesLeft)
		}
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "tools", Value: strings.Join(lines, "\n"), Inline: true},
		)
	}
	if len(embed.Fields) == 0 {
		embed.Description = "Nothing yet. Try `" + cc.guild.Prefix + "chop`."
	}
	return cc.replyEmbed(embed)
}

// levelProgress describes how far xp is into its level
func levelProgress(xp int64) string {
	level := LevelForExperience(xp)
	if level >= len(levelThresholds) {
		return "🏆 Max level reached!"
	}
	floor, next := ExperienceForLevel(level), ExperienceForLevel(level+1)
	pct := (xp - floor) * 100 / (next - floor)
	return fmt.Sprintf("%d experience to level %d (%d%% there)", next-xp, level+1, pct)
}

func (c *CraftCord) cmdExperience(cc *commandContext) error {
	user, err := cc.targetUser(cc.rest(0))
	if err != nil {
		return err
	}
	p, err := c.lookupPlayer(cc.ctx, user.ID)
	if err != nil {
		return err
	}
	level := p.Level()
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s's progress", user.Username),
		Color: goldenColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "🎖️ Level", Value: fmt.Sprint(level), Inline: true},
			{Name: "💯 Experience", Value: fmt.Sprint(p.Experience), Inline: true},
			{Name: "🌟 Overall", Value: fmt.Sprint(p.OverallExperience), Inline: true},
			{Name: "➡️ Next", Value: levelProgress(p.Experience)},
		},
	}
	if role := milestoneRole(level); role != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "🏅 Rank", Value: role, Inline: true})
	}
	return cc.replyEmbed(embed)
}

func (c *CraftCord) cmdCooldowns(cc *commandContext) error {
	userID := cc.author().ID
	var b strings.Builder
	for _, action := range c.cooldowns.Actions() {
		if left := c.cooldowns.Check(userID, action); left > 0 {
			fmt.Fprintf(&b, "⏳ `%s%s` in %s\n", cc.guild.Prefix, action, formatDuration(left))
		} else {
			fmt.Fprintf(&b, "✅ `%s%s` ready\n", cc.guild.Prefix, action)
		}
	}
	return cc.replyEmbed(
		&discordgo.MessageEmbed{
			Title:       fmt.Sprintf("%s's cooldowns", cc.author().Username),
			Description: b.String(),
		},
	)
}

func (c *CraftCord) cmdLeaderboard(cc *commandContext) error {
	db := c.db.WithContext(cc.ctx)
	rows, err := topPlayers(cc.ctx, db, leaderboardSize)
	if err != nil {
		return err
	}
	me, err := c.lookupPlayer(cc.ctx, cc.author().ID)
	if err != nil {
		return err
	}
	rank, err := playerRank(cc.ctx, db, me.OverallExperience)
	if err != nil {
		return err
	}

	var b strings.Builder
	for i, row := range rows {
		name := row.Username
		if name == "" {
			name = fmt.Sprintf("<@%s>", row.PlayerID)
		}
		fmt.Fprintf(&b, "**#%d** %s: %d exp\n", i+1, name, row.OverallExperience)
	}
	if len(rows) == 0 {
		b.WriteString("Nobody has any experience yet.")
	}
	return cc.replyEmbed(
		&discordgo.MessageEmbed{
			Title:       "🌟 Overall experience leaderboard",
			Description: b.String(),
			Color:       goldenColor,
			Fields: []*discordgo.MessageEmbedField{
				{
					Name:  "Your position",
					Value: fmt.Sprintf("#%d with %d exp", rank, me.OverallExperience),
				},
			},
		},
	)
}

func (c *CraftCord) cmdBestiary(cc *commandContext) error {
	user, err := cc.targetUser(cc.rest(0))
	if err != nil {
		return err
	}
	rows, err := bestiary(cc.ctx, c.db.WithContext(cc.ctx), user.ID)
	if err != nil {
		return err
	}
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("📖 %s's bestiary", user.Username),
		Color: rarities[4].Color,
	}
	sections := map[string][]string{}
	var order []string
	for _, row := range rows {
		section := rarities[row.Rarity].Name
		if row.Golden {
			section = "golden"
		}
		if _, ok := sections[section]; !ok {
			order = append(order, section)
		}
		sections[section] = append(sections[section], fmt.Sprintf("%s × %d", row.Creature, row.Count))
	}
	for _, section := range order {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:   section,
				Value:  truncate(strings.Join(sections[section], "\n"), 1024),
				Inline: true,
			},
		)
	}
	if len(rows) == 0 {
		embed.Description = "No sacrifices yet."
	}
	return cc.replyEmbed(embed)
}

func (c *CraftCord) cmdAquarium(cc *commandContext) error {
	user, err := cc.targetUser(cc.rest(0))
	if err != nil {
		return err
	}
	fish, err := recentFish(c.db.WithContext(cc.ctx), user.ID, time.Now().Add(-aquariumMaxAge))
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, f := range fish {
		b.WriteString("🐠 " + f.String() + "\n")
	}
	if len(fish) == 0 {
		b.WriteString("Empty. Go `fish`!")
	}
	return cc.replyEmbed(
		&discordgo.MessageEmbed{
			Title:       fmt.Sprintf("🐟 %s's aquarium", user.Username),
			Description: truncate(b.String(), discordMaxEmbedDescription),
			Color:       rarities[3].Color,
			Footer: &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf("Makes %d fish food every %s", fishFoodRate(fish), formatDuration(c.config.Game.FishFoodInterval)),
			},
		},
	)
}
