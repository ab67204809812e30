package craftcord

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"testing"
)

func TestTools_BestTierAndDurability(t *testing.T) {
	c, _ := newTestCraftCord(t)

	inTx(
		t, c, func(tx *gorm.DB) error {
			tier, err := BestTier(tx, testUserID, ToolPickaxe)
			require.NoError(t, err)
			assert.Equal(t, TierNone, tier)

			require.NoError(t, grantTool(tx, testUserID, ToolPickaxe, TierWood, 10))
			require.NoError(t, grantTool(tx, testUserID, ToolPickaxe, TierIron, 1))

			tier, err = useBestTool(tx, testUserID, ToolPickaxe)
			require.NoError(t, err)
			assert.Equal(t, TierIron, tier)

			// the iron pickaxe is used up, so wood is now the best
			tier, err = BestTier(tx, testUserID, ToolPickaxe)
			require.NoError(t, err)
			assert.Equal(t, TierWood, tier)
			return nil
		},
	)

	tools, err := ownedTools(c.db, testUserID)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, TierWood, tools[0].Tier)
	assert.Equal(t, 10, tools[0].UsesLeft)
}

func TestTools_GrantStacksUses(t *testing.T) {
	c, _ := newTestCraftCord(t)

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, grantTool(tx, testUserID, ToolAxe, TierStone, 10))
			return grantTool(tx, testUserID, ToolAxe, TierStone, 10)
		},
	)
	tools, err := ownedTools(c.db, testUserID)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, 20, tools[0].UsesLeft)
}

func TestParseCraftArgs(t *testing.T) {
	tests := []struct {
		args []string
		kind ToolKind
		tier Tier
		ok   bool
	}{
		{[]string{"pickaxe", "wood"}, ToolPickaxe, TierWood, true},
		{[]string{"iron", "axe"}, ToolAxe, TierIron, true},
		{[]string{"fishing", "rod", "diamond"}, ToolFishingRod, TierDiamond, true},
		{[]string{"gold", "fishing", "rod"}, ToolFishingRod, TierGold, true},
		{[]string{"Sword", "STONE"}, ToolSword, TierStone, true},
		{[]string{"pickaxe"}, "", TierNone, false},
		{[]string{"shovel", "iron"}, "", TierNone, false},
		{[]string{"pickaxe", "obsidian"}, "", TierNone, false},
	}
	for _, tc := range tests {
		kind, tier, ok := parseCraftArgs(tc.args)
		assert.Equal(t, tc.ok, ok, "args: %v", tc.args)
		assert.Equal(t, tc.kind, kind, "args: %v", tc.args)
		assert.Equal(t, tc.tier, tier, "args: %v", tc.args)
	}
}

func TestCraftTool(t *testing.T) {
	c, _ := newTestCraftCord(t)

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, GiveQuantity(tx, testUserID, ItemWood, 2))
			require.NoError(t, GiveQuantity(tx, testUserID, ItemIron, 3))

			recipe, err := craftTool(tx, testUserID, ToolPickaxe, TierIron)
			require.NoError(t, err)
			assert.Equal(t, 10, recipe.Uses)

			wood, err := GetQuantity(tx, testUserID, ItemWood)
			require.NoError(t, err)
			assert.Equal(t, int64(1), wood)
			iron, err := GetQuantity(tx, testUserID, ItemIron)
			require.NoError(t, err)
			assert.Zero(t, iron)

			tier, err := BestTier(tx, testUserID, ToolPickaxe)
			require.NoError(t, err)
			assert.Equal(t, TierIron, tier)
			return nil
		},
	)
}

func TestCraftTool_ReportsEveryShortfall(t *testing.T) {
	c, _ := newTestCraftCord(t)

	err := c.writeDB.Transaction(
		context.Background(), func(tx *gorm.DB) error {
			_, err := craftTool(tx, testUserID, ToolSword, TierDiamond)
			return err
		},
	)
	require.Error(t, err)
	assert.Equal(t, KindUserInput, errorKind(err))
	msg := userFacingMessage(err, "")
	assert.Contains(t, msg, "1 wood (you have 0)")
	assert.Contains(t, msg, "2 diamond (you have 0)")
}

func TestCraftTool_WoodSwordDoesNotExist(t *testing.T) {
	c, _ := newTestCraftCord(t)

	err := c.writeDB.Transaction(
		context.Background(), func(tx *gorm.DB) error {
			_, err := craftTool(tx, testUserID, ToolSword, TierWood)
			return err
		},
	)
	require.Error(t, err)
	assert.Equal(t, KindUserInput, errorKind(err))
}

func TestCraftTotem(t *testing.T) {
	c, _ := newTestCraftCord(t)

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, GiveQuantity(tx, testUserID, ItemDiamond, totemDiamondCost))
			require.NoError(t, craftTotem(tx, testUserID))

			totems, err := GetQuantity(tx, testUserID, ItemTotem)
			require.NoError(t, err)
			assert.Equal(t, int64(1), totems)

			assert.Error(t, craftTotem(tx, testUserID))
			return nil
		},
	)
}

func TestGather(t *testing.T) {
	c, _ := newTestCraftCord(t)

	t.Run("chop bare handed", func(t *testing.T) {
		inTx(
			t, c, func(tx *gorm.DB) error {
				result, err := chop(tx, c.rng, testUserID)
				require.NoError(t, err)
				assert.Equal(t, TierNone, result.Tier)
				assert.Equal(t, woodPerChop[TierNone], result.Amount)
				assert.Contains(t, result.String(), "bare hands")
				return nil
			},
		)
	})

	t.Run("chop with axe", func(t *testing.T) {
		inTx(
			t, c, func(tx *gorm.DB) error {
				require.NoError(t, grantTool(tx, testUserID, ToolAxe, TierGold, 1))
				result, err := chop(tx, c.rng, testUserID)
				require.NoError(t, err)
				assert.Equal(t, TierGold, result.Tier)
				assert.Equal(t, woodPerChop[TierGold], result.Amount)
				return nil
			},
		)
	})

	t.Run("mine needs a pickaxe", func(t *testing.T) {
		err := c.writeDB.Transaction(
			context.Background(), func(tx *gorm.DB) error {
				_, err := mine(tx, c.rng, testOtherID)
				return err
			},
		)
		require.Error(t, err)
		assert.Equal(t, KindUserInput, errorKind(err))
	})

	t.Run("mine", func(t *testing.T) {
		inTx(
			t, c, func(tx *gorm.DB) error {
				require.NoError(t, grantTool(tx, testUserID, ToolPickaxe, TierWood, 1))
				result, err := mine(tx, c.rng, testUserID)
				require.NoError(t, err)
				amounts := mineAmounts[result.Item]
				assert.GreaterOrEqual(t, result.Amount, amounts.Min)
				assert.LessOrEqual(t, result.Amount, amounts.Max)

				qty, err := GetQuantity(tx, testUserID, result.Item)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, qty, result.Amount)
				return nil
			},
		)
	})

	t.Run("farm", func(t *testing.T) {
		inTx(
			t, c, func(tx *gorm.DB) error {
				result, err := farm(tx, c.rng, testUserID)
				require.NoError(t, err)
				avg := wheatAverage[TierNone]
				assert.GreaterOrEqual(t, result.Amount, avg-1)
				assert.LessOrEqual(t, result.Amount, avg+1)
				return nil
			},
		)
	})

	t.Run("fish needs a rod", func(t *testing.T) {
		err := c.writeDB.Transaction(
			context.Background(), func(tx *gorm.DB) error {
				_, err := fish(tx, c.rng, testOtherID)
				return err
			},
		)
		require.Error(t, err)
	})

	t.Run("fish consumes rod uses", func(t *testing.T) {
		inTx(
			t, c, func(tx *gorm.DB) error {
				require.NoError(t, grantTool(tx, testUserID, ToolFishingRod, TierDiamond, 3))
				for i := 0; i < 3; i++ {
					result, err := fish(tx, c.rng, testUserID)
					require.NoError(t, err)
					assert.Equal(t, TierDiamond, result.Tier)
				}
				tier, err := BestTier(tx, testUserID, ToolFishingRod)
				require.NoError(t, err)
				assert.Equal(t, TierNone, tier)
				return nil
			},
		)
	})
}
