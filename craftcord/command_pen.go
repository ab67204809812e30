package craftcord

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
	"strings"
)

// resolveCreature looks up a creature name, suggesting the nearest
// match when there isn't one
func resolveCreature(name string) (Creature, error) {
	if strings.TrimSpace(name) == "" {
		return Creature{}, userError("❌ Which creature?")
	}
	cr, ok := lookupCreature(name)
	if !ok {
		return cr, &CommandError{
			Kind:    KindUserInput,
			Message: fmt.Sprintf("❌ I don't know a creature called `%s`.%s", name, didYouMean(name, creatureNames())),
			Err:     ErrUnknownCreature,
		}
	}
	return cr, nil
}

// lockedPlayer reads the player row for update, creating it first
func lockedPlayer(tx *gorm.DB, playerID, username string) (*Player, error) {
	if err := ensurePlayer(tx, playerID, username); err != nil {
		return nil, err
	}
	var p Player
	if err := lockForUpdate(tx).Where("id = ?", playerID).Take(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// breed turns two of a creature and the rarity's wheat into three
func breed(tx *gorm.DB, playerID string, cr Creature) error {
	if cr.Hostile {
		return userError("❌ You can't breed a %s.", cr.Name)
	}
	have, err := penCount(tx, playerID, cr.Name, false)
	if err != nil {
		return err
	}
	if have < 2 {
		return userError("❌ You need at least 2 %s in your pen to breed them (you have %d).", cr.Name, have)
	}
	p, err := lockedPlayer(tx, playerID, "")
	if err != nil {
		return err
	}
	occupied, err := penOccupancy(tx, playerID)
	if err != nil {
		return err
	}
	if occupied >= int64(p.PenSize) {
		return &CommandError{
			Kind:    KindUserInput,
			Message: "❌ Your pen is full. Try `upgradepen`.",
			Err:     ErrPenFull,
		}
	}
	cost := map[string]int64{ItemWheat: cr.RarityInfo().Wheat}
	if err = payCost(tx, playerID, cost, "breeding "+cr.Name); err != nil {
		return err
	}
	return addToPen(tx, playerID, cr.Name, false, 1)
}

// sacrificeFromPen sacrifices one penned creature, golden first
func sacrificeFromPen(tx *gorm.DB, playerID string, cr Creature) (*SacrificeResult, error) {
	golden, err := pickPenned(tx, playerID, cr, true)
	if err != nil {
		return nil, err
	}
	if err = takeFromPen(tx, playerID, cr.Name, golden, 1); err != nil {
		return nil, err
	}
	return sacrifice(tx, playerID, cr, golden, false, sacrificeReasonChosen)
}

// pickPenned chooses which variant of a penned creature to act on,
// preferring golden when preferGolden is set and regular otherwise
func pickPenned(tx *gorm.DB, playerID string, cr Creature, preferGolden bool) (bool, error) {
	for _, golden := range []bool{preferGolden, !preferGolden} {
		n, err := penCount(tx, playerID, cr.Name, golden)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return golden, nil
		}
	}
	return false, userError("❌ You don't have a %s in your pen.", cr.Name)
}

// GiveResult is the outcome of giving a creature to another player
type GiveResult struct {
	Creature  Creature
	Golden    bool
	Recipient string
	// set when the recipient's pen was full
	Sacrifice *SacrificeResult
}

func (g GiveResult) String() string {
	if g.Sacrifice != nil {
		return fmt.Sprintf(
			"📦 <@%s>'s pen is full, so you sacrificed the %s instead and got **%d** emeralds.",
			g.Recipient,
			creatureLabel(g.Creature.Name, g.Golden),
			g.Sacrifice.Reward,
		)
	}
	return fmt.Sprintf("🎁 You gave a %s to <@%s>.", creatureLabel(g.Creature.Name, g.Golden), g.Recipient)
}

// giveCreature moves one creature, regular first, from the giver's pen
// to the recipient's. A full recipient pen sacrifices it for the giver.
func giveCreature(tx *gorm.DB, giverID, recipientID string, cr Creature) (*GiveResult, error) {
	if giverID == recipientID {
		return nil, userError("❌ You can't give a creature to yourself.")
	}
	golden, err := pickPenned(tx, giverID, cr, false)
	if err != nil {
		return nil, err
	}
	if err = takeFromPen(tx, giverID, cr.Name, golden, 1); err != nil {
		return nil, err
	}
	recipient, err := lockedPlayer(tx, recipientID, "")
	if err != nil {
		return nil, err
	}
	occupied, err := penOccupancy(tx, recipientID)
	if err != nil {
		return nil, err
	}
	result := &GiveResult{Creature: cr, Golden: golden, Recipient: recipientID}
	if occupied >= int64(recipient.PenSize) {
		result.Sacrifice, err = sacrifice(tx, giverID, cr, golden, false, sacrificeReasonPenFull)
		return result, err
	}
	return result, addToPen(tx, recipientID, cr.Name, golden, 1)
}

// penUpgradeCost is the wood for the next upgrade after upgrades
func penUpgradeCost(upgrades int) int64 {
	return int64(upgrades+1) * penUpgradeWoodStep
}

// upgradePen spends wood for one more pen slot, returning the new size
func upgradePen(tx *gorm.DB, playerID, username string) (*Player, int64, error) {
	p, err := lockedPlayer(tx, playerID, username)
	if err != nil {
		return nil, 0, err
	}
	cost := penUpgradeCost(p.PenUpgrades)
	if err = payCost(tx, playerID, map[string]int64{ItemWood: cost}, "a pen upgrade"); err != nil {
		return nil, cost, err
	}
	err = tx.Model(&Player{}).Where("id = ?", playerID).Updates(
		map[string]any{
			"pen_size":     gorm.Expr("pen_size + 1"),
			"pen_upgrades": gorm.Expr("pen_upgrades + 1"),
		},
	).Error
	if err != nil {
		return nil, cost, err
	}
	p.PenSize++
	p.PenUpgrades++
	return p, cost, nil
}

func (c *CraftCord) cmdPen(cc *commandContext) error {
	user, err := cc.targetUser(cc.rest(0))
	if err != nil {
		return err
	}
	p, err := c.lookupPlayer(cc.ctx, user.ID)
	if err != nil {
		return err
	}
	entries, err := penContents(c.db.WithContext(cc.ctx), user.ID)
	if err != nil {
		return err
	}
	var total int64
	var b strings.Builder
	for _, e := range entries {
		total += e.Count
		label := creatureLabel(e.Creature, e.Golden)
		if e.Golden {
			label = "✨ " + label
		}
		fmt.Fprintf(&b, "%s × %d\n", label, e.Count)
	}
	if len(entries) == 0 {
		b.WriteString("Empty. Catch creatures when they spawn!")
	}
	return cc.replyEmbed(
		&discordgo.MessageEmbed{
			Title:       fmt.Sprintf("🐄 %s's pen", user.Username),
			Description: truncate(b.String(), discordMaxEmbedDescription),
			Footer: &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf("%d/%d spaces used", total, p.PenSize),
			},
		},
	)
}

func (c *CraftCord) cmdBreed(cc *commandContext) error {
	cr, err := resolveCreature(cc.rest(0))
	if err != nil {
		return err
	}
	author := cc.author()
	err = c.writeDB.Transaction(
		cc.ctx, func(tx *gorm.DB) error {
			if err := touchPlayer(tx, author.ID, author.Username, cc.message.GuildID, cc.message.ChannelID); err != nil {
				return err
			}
			return breed(tx, author.ID, cr)
		},
	)
	if err != nil {
		return err
	}
	return cc.reply(
		fmt.Sprintf("💕 Your %s bred! You used %d wheat.", cr.Name, cr.RarityInfo().Wheat),
	)
}

func (c *CraftCord) cmdSacrifice(cc *commandContext) error {
	cr, err := resolveCreature(cc.rest(0))
	if err != nil {
		return err
	}
	author := cc.author()
	var result *SacrificeResult
	err = c.writeDB.Transaction(
		cc.ctx, func(tx *gorm.DB) error {
			if err := touchPlayer(tx, author.ID, author.Username, cc.message.GuildID, cc.message.ChannelID); err != nil {
				return err
			}
			var err error
			result, err = sacrificeFromPen(tx, author.ID, cr)
			return err
		},
	)
	if err != nil {
		return err
	}
	c.metrics.Sacrifices.WithLabelValues(result.Reason).Inc()
	return cc.reply(result.String())
}

func (c *CraftCord) cmdGive(cc *commandContext) error {
	if len(cc.args) < 2 {
		return userError("❌ Usage: `%sgive <@player> <creature>`", cc.guild.Prefix)
	}
	recipient, err := c.resolveMember(cc.ctx, cc.message, cc.arg(0))
	if err != nil {
		return err
	}
	if recipient.Bot {
		return userError("❌ Bots don't have pens.")
	}
	cr, err := resolveCreature(cc.rest(1))
	if err != nil {
		return err
	}
	author := cc.author()
	var result *GiveResult
	err = c.writeDB.Transaction(
		cc.ctx, func(tx *gorm.DB) error {
			if err := touchPlayer(tx, author.ID, author.Username, cc.message.GuildID, cc.message.ChannelID); err != nil {
				return err
			}
			if err := ensurePlayer(tx, recipient.ID, recipient.Username); err != nil {
				return err
			}
			var err error
			result, err = giveCreature(tx, author.ID, recipient.ID, cr)
			return err
		},
	)
	if err != nil {
		return err
	}
	if result.Sacrifice != nil {
		c.metrics.Sacrifices.WithLabelValues(result.Sacrifice.Reason).Inc()
	}
	return cc.reply(result.String())
}

func (c *CraftCord) cmdUpgradePen(cc *commandContext) error {
	author := cc.author()
	var p *Player
	var cost int64
	err := c.writeDB.Transaction(
		cc.ctx, func(tx *gorm.DB) error {
			var err error
			p, cost, err = upgradePen(tx, author.ID, author.Username)
			return err
		},
	)
	if err != nil {
		return err
	}
	return cc.reply(
		fmt.Sprintf(
			"🏗️ Your pen now holds **%d** creatures. That cost %d wood; the next upgrade costs %d.",
			p.PenSize,
			cost,
			penUpgradeCost(p.PenUpgrades),
		),
	)
}
