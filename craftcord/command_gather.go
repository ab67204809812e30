package craftcord

import (
	"fmt"
	"gorm.io/gorm"
)

// GatherResult is what a gathering action produced
type GatherResult struct {
	Action string
	Tool   ToolKind
	Tier   Tier
	Item   string
	Amount int64
	Fish   *Fish
}

func (g GatherResult) String() string {
	with := "your bare hands"
	if g.Tier != TierNone {
		with = fmt.Sprintf("your %s %s", g.Tier, g.Tool.Display())
	}
	switch {
	case g.Action == "fish" && g.Fish != nil:
		return fmt.Sprintf("🎣 You caught a **%s** with %s! It's in your aquarium.", g.Fish, with)
	case g.Action == "fish":
		return fmt.Sprintf("🎣 You reeled in a sea pickle with %s and threw it back.", with)
	}
	return fmt.Sprintf("%s You got **%d %s** using %s.", gatherEmoji[g.Action], g.Amount, g.Item, with)
}

var gatherEmoji = map[string]string{
	"chop": "🪓",
	"mine": "⛏️",
	"farm": "🌾",
}

// chop yields wood by axe tier, or one with bare hands
func chop(tx *gorm.DB, rng *lockedRand, playerID string) (*GatherResult, error) {
	tier, err := useBestTool(tx, playerID, ToolAxe)
	if err != nil {
		return nil, err
	}
	amount := woodPerChop[tier]
	if err = GiveQuantity(tx, playerID, ItemWood, amount); err != nil {
		return nil, err
	}
	return &GatherResult{Action: "chop", Tool: ToolAxe, Tier: tier, Item: ItemWood, Amount: amount}, nil
}

// mine draws from the best pickaxe's drop table. A pickaxe is required.
func mine(tx *gorm.DB, rng *lockedRand, playerID string) (*GatherResult, error) {
	tier, err := useBestTool(tx, playerID, ToolPickaxe)
	if err != nil {
		return nil, err
	}
	if tier == TierNone {
		return nil, userError("⛏️ You need a pickaxe to mine. Try `craft pickaxe wood`.")
	}
	table := dropTables[tier]
	weights := make([]int, len(table))
	for i, d := range table {
		weights[i] = d.Weight
	}
	item := table[rng.Weighted(weights)].Item
	amounts := mineAmounts[item]
	amount := rng.Between(amounts.Min, amounts.Max)
	if err = GiveQuantity(tx, playerID, item, amount); err != nil {
		return nil, err
	}
	return &GatherResult{Action: "mine", Tool: ToolPickaxe, Tier: tier, Item: item, Amount: amount}, nil
}

// farm yields the hoe tier's average wheat, give or take one
func farm(tx *gorm.DB, rng *lockedRand, playerID string) (*GatherResult, error) {
	tier, err := useBestTool(tx, playerID, ToolHoe)
	if err != nil {
		return nil, err
	}
	avg := wheatAverage[tier]
	amount := rng.Between(avg-1, avg+1)
	if err = GiveQuantity(tx, playerID, ItemWheat, amount); err != nil {
		return nil, err
	}
	return &GatherResult{Action: "farm", Tool: ToolHoe, Tier: tier, Item: ItemWheat, Amount: amount}, nil
}

// fish needs a rod. Better rods lower the roll a bite needs.
func fish(tx *gorm.DB, rng *lockedRand, playerID string) (*GatherResult, error) {
	tier, err := useBestTool(tx, playerID, ToolFishingRod)
	if err != nil {
		return nil, err
	}
	if tier == TierNone {
		return nil, userError("🎣 You need a fishing rod. Try `craft rod wood`.")
	}
	result := &GatherResult{Action: "fish", Tool: ToolFishingRod, Tier: tier}
	if rng.Intn(101) <= fishingThreshold[tier] {
		return result, nil
	}
	caught := randomFish(rng, playerID)
	if err = tx.Create(&caught).Error; err != nil {
		return nil, err
	}
	result.Fish = &caught
	return result, nil
}

type gatherFunc func(tx *gorm.DB, rng *lockedRand, playerID string) (*GatherResult, error)

// runGather applies a gathering action in one transaction, then plays
// the progress animation before showing the result
func (c *CraftCord) runGather(cc *commandContext, verb string, fn gatherFunc) error {
	author := cc.author()
	var result *GatherResult
	err := c.writeDB.Transaction(
		cc.ctx, func(tx *gorm.DB) error {
			err := touchPlayer(tx, author.ID, author.Username, cc.message.GuildID, cc.message.ChannelID)
			if err != nil {
				return err
			}
			result, err = fn(tx, c.rng, author.ID)
			return err
		},
	)
	if err != nil {
		return err
	}
	c.metrics.Gathers.WithLabelValues(result.Action, result.Tier.String()).Inc()
	return cc.replyWithProgress(verb, result.String())
}

func (c *CraftCord) cmdChop(cc *commandContext) error {
	return c.runGather(cc, "🪓 Chopping", chop)
}

func (c *CraftCord) cmdMine(cc *commandContext) error {
	return c.runGather(cc, "⛏️ Mining", mine)
}

func (c *CraftCord) cmdFarm(cc *commandContext) error {
	return c.runGather(cc, "🌾 Farming", farm)
}

func (c *CraftCord) cmdFish(cc *commandContext) error {
	return c.runGather(cc, "🎣 Fishing", fish)
}
