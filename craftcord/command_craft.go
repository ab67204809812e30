package craftcord

import (
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
	"strings"
)

// parseCraftArgs accepts "<tool> <tier>" or "<tier> <tool>". Tool names
// may be more than one word ("fishing rod").
func parseCraftArgs(args []string) (ToolKind, Tier, bool) {
	if len(args) < 2 {
		return "", TierNone, false
	}
	last := len(args) - 1
	if tier, ok := parseTier(args[last]); ok {
		if kind, ok := parseToolKind(strings.Join(args[:last], "")); ok {
			return kind, tier, true
		}
	}
	if tier, ok := parseTier(args[0]); ok {
		if kind, ok := parseToolKind(strings.Join(args[1:], "")); ok {
			return kind, tier, true
		}
	}
	return "", TierNone, false
}

// craftTool takes the recipe's cost and grants the tool. When the
// player is short, every missing item is reported together.
func craftTool(tx *gorm.DB, playerID string, kind ToolKind, tier Tier) (Recipe, error) {
	recipe, ok := lookupRecipe(kind, tier)
	if !ok {
		return recipe, userError("❌ There's no %s %s.", tier, kind.Display())
	}
	if err := payCost(tx, playerID, recipe.Cost(), fmt.Sprintf("a %s %s", tier, kind.Display())); err != nil {
		return recipe, err
	}
	if err := grantTool(tx, playerID, kind, tier, recipe.Uses); err != nil {
		return recipe, err
	}
	return recipe, nil
}

// craftTotem turns diamonds into a totem
func craftTotem(tx *gorm.DB, playerID string) error {
	cost := map[string]int64{ItemDiamond: totemDiamondCost}
	if err := payCost(tx, playerID, cost, "a totem"); err != nil {
		return err
	}
	return GiveQuantity(tx, playerID, ItemTotem, 1)
}

// payCost takes cost from the player, or returns a user error listing
// everything they're missing for what
func payCost(tx *gorm.DB, playerID string, cost map[string]int64, what string) error {
	missing, err := shortfalls(tx, playerID, cost)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		parts := make([]string, len(missing))
		for i, m := range missing {
			parts[i] = fmt.Sprintf("%d %s (you have %d)", m.Need, m.Item, m.Have)
		}
		return &CommandError{
			Kind:    KindUserInput,
			Message: fmt.Sprintf("❌ You need %s for %s.", strings.Join(parts, ", "), what),
			Err:     missing[0],
		}
	}
	return takeAll(tx, playerID, cost)
}

func (c *CraftCord) cmdCraft(cc *commandContext) error {
	author := cc.author()
	if len(cc.args) == 1 {
		if name, _, ok := lookupItem(cc.arg(0)); ok {
			if name != ItemTotem {
				return userError("❌ You can't craft %s.", name)
			}
			err := c.writeDB.Transaction(
				cc.ctx, func(tx *gorm.DB) error {
					if err := touchPlayer(tx, author.ID, author.Username, cc.message.GuildID, cc.message.ChannelID); err != nil {
						return err
					}
					return craftTotem(tx, author.ID)
				},
			)
			if err != nil {
				return err
			}
			return cc.reply("🗿 You crafted a **totem**. It will save you once in a stronghold.")
		}
	}

	kind, tier, ok := parseCraftArgs(cc.args)
	if !ok {
		return userError("❌ Usage: `%scraft <tool> <tier>` or `%scraft totem`", cc.guild.Prefix, cc.guild.Prefix)
	}
	var recipe Recipe
	err := c.writeDB.Transaction(
		cc.ctx, func(tx *gorm.DB) error {
			if err := touchPlayer(tx, author.ID, author.Username, cc.message.GuildID, cc.message.ChannelID); err != nil {
				return err
			}
			var err error
			recipe, err = craftTool(tx, author.ID, kind, tier)
			return err
		},
	)
	if err != nil {
		return err
	}
	return cc.reply(
		fmt.Sprintf(
			"🔨 You crafted a **%s %s** (%d uses) for %s.",
			tier,
			kind.Display(),
			recipe.Uses,
			recipe,
		),
	)
}

func (c *CraftCord) cmdRecipe(cc *commandContext) error {
	kinds := toolKinds
	if arg := cc.rest(0); arg != "" {
		kind, ok := parseToolKind(arg)
		if !ok {
			if normalizeName(arg) == ItemTotem {
				return cc.reply(fmt.Sprintf("🗿 A totem costs %d diamonds.", totemDiamondCost))
			}
			return &CommandError{
				Kind:    KindUserInput,
				Message: "❌ I don't know that tool." + didYouMean(arg, toolNames()),
				Err:     errors.New("unknown tool"),
			}
		}
		kinds = []ToolKind{kind}
	}

	embed := &discordgo.MessageEmbed{Title: "📜 Recipes"}
	for _, kind := range kinds {
		var lines []string
		for _, tier := range tierOrder {
			r, ok := lookupRecipe(kind, tier)
			if !ok {
				continue
			}
			lines = append(lines, fmt.Sprintf("**%s**: %s (%d uses)", tier, r, r.Uses))
		}
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: kind.Display(), Value: strings.Join(lines, "\n"), Inline: true},
		)
	}
	if len(kinds) > 1 {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:   "totem",
				Value:  fmt.Sprintf("%d diamonds", totemDiamondCost),
				Inline: true,
			},
		)
	}
	return cc.replyEmbed(embed)
}

func toolNames() []string {
	names := make([]string, len(toolKinds))
	for i, k := range toolKinds {
		names[i] = k.Display()
	}
	return names
}
