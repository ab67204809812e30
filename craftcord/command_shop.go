package craftcord

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"strconv"
	"strings"
	"time"
)

const (
	richRoleName = "Rich"
	maxBuyQty    = 1000
)

// ShopItem is an item for sale, priced in emeralds. DailyLimit caps
// purchases per player over a rolling 24 hours.
type ShopItem struct {
	Name        string `gorm:"primaryKey" json:"name"`
	Price       int64  `gorm:"not null;check:price > 0" json:"price"`
	DailyLimit  int64  `gorm:"not null" json:"daily_limit"`
	Description string `json:"description"`
	ModelTimestamps
}

func (ShopItem) TableName() string {
	return "shop_items"
}

// PurchaseLog is one purchase, used to enforce daily limits
type PurchaseLog struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	PlayerID  string `gorm:"index:idx_purchase_window;not null" json:"player_id"`
	ItemName  string `gorm:"index:idx_purchase_window;not null" json:"item_name"`
	Quantity  int64  `gorm:"not null" json:"quantity"`
	Cost      int64  `gorm:"not null" json:"cost"`
	CreatedAt int64  `gorm:"autoCreateTime:milli;index:idx_purchase_window" json:"created_at"`
}

func (PurchaseLog) TableName() string {
	return "purchase_history"
}

// seedShop inserts the default shop items, leaving any existing rows
// (and their edited prices) alone
func seedShop(ctx context.Context, db *gorm.DB) error {
	items := make([]ShopItem, len(defaultShopItems))
	copy(items, defaultShopItems)
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&items).Error
}

func shopItems(db *gorm.DB) ([]ShopItem, error) {
	var items []ShopItem
	err := db.Order("price, name").Find(&items).Error
	return items, err
}

// friendlyCreatures are the creatures a mystery animal can contain
var friendlyCreatures = func() []Creature {
	var pool []Creature
	for _, c := range creatures {
		if !c.Hostile {
			pool = append(pool, c)
		}
	}
	return pool
}()

// parseItemQuantity splits "<item words> [qty]". qty defaults to 1.
func parseItemQuantity(args []string) (string, int64, error) {
	if len(args) == 0 {
		return "", 0, userError("❌ Which item?")
	}
	qty := int64(1)
	last := args[len(args)-1]
	if n, err := strconv.ParseInt(last, 10, 64); err == nil {
		if len(args) == 1 {
			return "", 0, userError("❌ Which item?")
		}
		if n <= 0 {
			return "", 0, userError("❌ Quantity must be greater than 0.")
		}
		qty = n
		args = args[:len(args)-1]
	}
	return strings.Join(args, " "), qty, nil
}

func unknownItemError(name string) error {
	return &CommandError{
		Kind:    KindUserInput,
		Message: fmt.Sprintf("❌ I don't know an item called `%s`.%s", name, didYouMean(name, itemNames())),
		Err:     ErrUnknownItem,
	}
}

// PurchaseResult describes a completed purchase
type PurchaseResult struct {
	Item     ShopItem
	Quantity int64
	Cost     int64
}

// buy charges the player for qty of an item, within the item's
// rolling daily limit, and adds it to their inventory
func buy(
	ctx context.Context,
	tx *gorm.DB,
	playerID string,
	name string,
	qty int64,
	now time.Time,
) (*PurchaseResult, error) {
	itemName, _, ok := lookupItem(name)
	if !ok {
		return nil, unknownItemError(name)
	}
	var item ShopItem
	if err := tx.Where("name = ?", itemName).Take(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, userError("❌ The shop doesn't sell %s.", itemName)
		}
		return nil, err
	}
	if qty > maxBuyQty {
		return nil, userError("❌ You can buy at most %d at once.", maxBuyQty)
	}
	if item.DailyLimit > 0 {
		bought, err := purchasedSince(ctx, tx, playerID, item.Name, now.Add(-shopPurchaseWindow))
		if err != nil {
			return nil, err
		}
		if bought+qty > item.DailyLimit {
			return nil, userError(
				"❌ You can only buy %d **%s** per 24h (you've bought %d).",
				item.DailyLimit,
				item.Name,
				bought,
			)
		}
	}
	cost := item.Price * qty
	if err := payCost(tx, playerID, map[string]int64{ItemEmerald: cost}, fmt.Sprintf("%d %s", qty, item.Name)); err != nil {
		return nil, err
	}
	entry := PurchaseLog{
		PlayerID:  playerID,
		ItemName:  item.Name,
		Quantity:  qty,
		Cost:      cost,
		CreatedAt: now.UnixMilli(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	if err := GiveQuantity(tx, playerID, item.Name, qty); err != nil {
		return nil, err
	}
	return &PurchaseResult{Item: item, Quantity: qty, Cost: cost}, nil
}

// UseResult describes the effect of using an item
type UseResult struct {
	Item     string
	Quantity int64
	Level    LevelChange
	Credits  []*CreditResult
	Emeralds int64
}

func (u UseResult) String() string {
	var b strings.Builder
	switch u.Item {
	case ItemExpBottle:
		fmt.Fprintf(&b, "🧪 You drank %d exp bottles. You now have **%d** experience.", u.Quantity, u.Level.Experience)
	case ItemMysteryAnimal:
		b.WriteString("🎁 Mystery animals opened:")
		for _, cr := range u.Credits {
			b.WriteString("\n" + cr.String())
		}
	case ItemFishFood:
		fmt.Fprintf(&b, "🐟 You traded %d fish food for **%d** emeralds.", u.Quantity, u.Emeralds)
	case ItemBossMobTicket:
		fmt.Fprintf(&b, "🎫 You used %d boss mob ticket(s)! The server has been told.", u.Quantity)
	default:
		fmt.Fprintf(&b, "✅ You used %d %s.", u.Quantity, u.Item)
	}
	return b.String()
}

// useItem consumes qty of a useable item and applies its effect
func useItem(
	tx *gorm.DB,
	rng *lockedRand,
	goldenOdds int,
	playerID string,
	name string,
	qty int64,
) (*UseResult, error) {
	itemName, info, ok := lookupItem(name)
	if !ok {
		return nil, unknownItemError(name)
	}
	if !info.Useable {
		return nil, userError("❌ **%s** can't be used.", itemName)
	}
	if itemName == ItemFishFood && qty%fishFoodPerEmerald != 0 {
		return nil, userError("❌ Fish food is traded in multiples of %d.", fishFoodPerEmerald)
	}
	if err := TakeQuantity(tx, playerID, itemName, qty); err != nil {
		return nil, err
	}

	result := &UseResult{Item: itemName, Quantity: qty}
	var err error
	switch itemName {
	case ItemExpBottle:
		result.Level, err = addExperience(tx, playerID, qty)
	case ItemMysteryAnimal:
		for i := int64(0); i < qty; i++ {
			cr := chooseCreature(rng, friendlyCreatures)
			credit, creditErr := creditCreature(tx, playerID, cr, rng.OneIn(goldenOdds), false)
			if creditErr != nil {
				return nil, creditErr
			}
			result.Credits = append(result.Credits, credit)
		}
	case ItemFishFood:
		result.Emeralds = qty / fishFoodPerEmerald
		err = GiveQuantity(tx, playerID, ItemEmerald, result.Emeralds)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *CraftCord) cmdShop(cc *commandContext) error {
	items, err := shopItems(c.db.WithContext(cc.ctx))
	if err != nil {
		return err
	}
	embed := &discordgo.MessageEmbed{
		Title:       "🛒 Shop",
		Description: fmt.Sprintf("Buy with `%sbuy <item> [qty]`", cc.guild.Prefix),
		Color:       rarities[2].Color,
	}
	for _, item := range items {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name: fmt.Sprintf("%s: %d 💠", item.Name, item.Price),
				Value: fmt.Sprintf(
					"%s\nLimit %d per 24h",
					item.Description,
					item.DailyLimit,
				),
			},
		)
	}
	return cc.replyEmbed(embed)
}

func (c *CraftCord) cmdBuy(cc *commandContext) error {
	name, qty, err := parseItemQuantity(cc.args)
	if err != nil {
		return err
	}
	author := cc.author()
	var result *PurchaseResult
	err = c.writeDB.Transaction(
		cc.ctx, func(tx *gorm.DB) error {
			if err := touchPlayer(tx, author.ID, author.Username, cc.message.GuildID, cc.message.ChannelID); err != nil {
				return err
			}
			var err error
			result, err = buy(cc.ctx, tx, author.ID, name, qty, time.Now())
			return err
		},
	)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf(
		"✅ You bought **%d %s** for %d 💠.",
		result.Quantity,
		result.Item.Name,
		result.Cost,
	)
	switch result.Item.Name {
	case ItemRichRole:
		if roleErr := c.grantRoleByName(cc.ctx, cc.message.GuildID, author.ID, richRoleName); roleErr != nil {
			cc.logger.WarnContext(cc.ctx, "error granting rich role", tint.Err(roleErr))
		}
		msg += " You must be super rich."
	case ItemExpBottle, ItemMysteryAnimal, ItemBossMobTicket:
		msg += fmt.Sprintf(" Use it with `%suse %s`.", cc.guild.Prefix, result.Item.Name)
	}
	return cc.reply(msg)
}

func (c *CraftCord) cmdUse(cc *commandContext) error {
	name, qty, err := parseItemQuantity(cc.args)
	if err != nil {
		return err
	}
	author := cc.author()
	var result *UseResult
	err = c.writeDB.Transaction(
		cc.ctx, func(tx *gorm.DB) error {
			if err := touchPlayer(tx, author.ID, author.Username, cc.message.GuildID, cc.message.ChannelID); err != nil {
				return err
			}
			var err error
			result, err = useItem(tx, c.rng, c.config.Game.GoldenOdds, author.ID, name, qty)
			return err
		},
	)
	if err != nil {
		return err
	}

	switch result.Item {
	case ItemExpBottle:
		c.metrics.ExperienceTotal.Add(float64(qty))
		if result.Level.Changed() {
			c.applyLevelChange(cc.ctx, cc.message.GuildID, cc.message.ChannelID, result.Level)
		}
	case ItemMysteryAnimal:
		for _, credit := range result.Credits {
			if credit.Sacrifice != nil {
				c.metrics.Sacrifices.WithLabelValues(credit.Sacrifice.Reason).Inc()
			}
		}
	case ItemBossMobTicket:
		if logChannel := cc.guild.LogChannels.First(); logChannel != "" {
			_, _ = c.discord.session.ChannelMessageSend(
				logChannel,
				fmt.Sprintf("🎫 <@%s> used %d boss mob ticket(s) in <#%s>!", author.ID, qty, cc.message.ChannelID),
				discordgo.WithContext(cc.ctx),
			)
		}
	}
	return cc.reply(result.String())
}

// grantRoleByName gives the user the guild role called name
func (c *CraftCord) grantRoleByName(ctx context.Context, guildID, userID, name string) error {
	roles, err := c.discord.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error listing roles: %w", err)
	}
	for _, r := range roles {
		if strings.EqualFold(r.Name, name) {
			return c.discord.session.GuildMemberRoleAdd(guildID, userID, r.ID, discordgo.WithContext(ctx))
		}
	}
	return fmt.Errorf("role %q not found", name)
}
