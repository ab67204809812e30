package craftcord

import (
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"testing"
	"time"
)

func TestParseItemQuantity(t *testing.T) {
	tests := []struct {
		args    []string
		name    string
		qty     int64
		wantErr bool
	}{
		{[]string{"exp", "bottle"}, "exp bottle", 1, false},
		{[]string{"exp", "bottle", "12"}, "exp bottle", 12, false},
		{[]string{"pack", "3"}, "pack", 3, false},
		{[]string{"pack", "0"}, "", 0, true},
		{[]string{"pack", "-2"}, "", 0, true},
		{[]string{"5"}, "", 0, true},
		{nil, "", 0, true},
	}
	for _, tc := range tests {
		name, qty, err := parseItemQuantity(tc.args)
		if tc.wantErr {
			assert.Errorf(t, err, "args: %v", tc.args)
			continue
		}
		require.NoErrorf(t, err, "args: %v", tc.args)
		assert.Equal(t, tc.name, name)
		assert.Equal(t, tc.qty, qty)
	}
}

func TestLookupItem(t *testing.T) {
	name, info, ok := lookupItem("XP")
	require.True(t, ok)
	assert.Equal(t, ItemExpBottle, name)
	assert.True(t, info.Useable)

	name, _, ok = lookupItem("Boss Mob  Ticket")
	require.True(t, ok)
	assert.Equal(t, ItemBossMobTicket, name)

	_, _, ok = lookupItem("netherite")
	assert.False(t, ok)
}

func TestSeedShop_KeepsEditedPrices(t *testing.T) {
	c, _ := newTestCraftCord(t)
	ctx := context.Background()

	_, err := c.writeDB.Update(ctx, &ShopItem{Name: ItemExpBottle}, "price", 3)
	require.NoError(t, err)
	require.NoError(t, seedShop(ctx, c.db))

	items, err := shopItems(c.db)
	require.NoError(t, err)
	require.Len(t, items, len(defaultShopItems))
	for _, item := range items {
		if item.Name == ItemExpBottle {
			assert.Equal(t, int64(3), item.Price)
		}
	}
}

func TestBuy(t *testing.T) {
	c, _ := newTestCraftCord(t)
	ctx := context.Background()
	now := time.Now()

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, GiveQuantity(tx, testUserID, ItemEmerald, 20))

			result, err := buy(ctx, tx, testUserID, "xp", 8, now)
			require.NoError(t, err)
			assert.Equal(t, ItemExpBottle, result.Item.Name)
			assert.Equal(t, int64(8), result.Cost)

			bottles, err := GetQuantity(tx, testUserID, ItemExpBottle)
			require.NoError(t, err)
			assert.Equal(t, int64(8), bottles)
			emeralds, err := GetQuantity(tx, testUserID, ItemEmerald)
			require.NoError(t, err)
			assert.Equal(t, int64(12), emeralds)

			_, err = buy(ctx, tx, testUserID, "pack", 3, now)
			assert.True(t, errors.Is(err, ErrInsufficientResource))

			_, err = buy(ctx, tx, testUserID, "netherite", 1, now)
			assert.ErrorIs(t, err, ErrUnknownItem)

			_, err = buy(ctx, tx, testUserID, "wood", 1, now)
			var cmdErr *CommandError
			require.ErrorAs(t, err, &cmdErr)
			assert.Contains(t, cmdErr.Message, "doesn't sell wood")
			return nil
		},
	)
}

func TestBuy_DailyLimit(t *testing.T) {
	c, _ := newTestCraftCord(t)
	ctx := context.Background()
	now := time.Now()

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, GiveQuantity(tx, testUserID, ItemEmerald, 200))

			_, err := buy(ctx, tx, testUserID, "ticket", 1, now)
			require.NoError(t, err)

			_, err = buy(ctx, tx, testUserID, "ticket", 1, now.Add(time.Hour))
			var cmdErr *CommandError
			require.ErrorAs(t, err, &cmdErr)
			assert.Contains(t, cmdErr.Message, "per 24h")

			// the window is rolling
			_, err = buy(ctx, tx, testUserID, "ticket", 1, now.Add(shopPurchaseWindow+time.Minute))
			require.NoError(t, err)

			tickets, err := GetQuantity(tx, testUserID, ItemBossMobTicket)
			require.NoError(t, err)
			assert.Equal(t, int64(2), tickets)
			return nil
		},
	)
}

func TestUseItem(t *testing.T) {
	c, _ := newTestCraftCord(t)

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, GiveQuantity(tx, testUserID, ItemExpBottle, 10))
			require.NoError(t, GiveQuantity(tx, testUserID, ItemMysteryAnimal, 2))
			require.NoError(t, GiveQuantity(tx, testUserID, ItemFishFood, 250))
			require.NoError(t, GiveQuantity(tx, testUserID, ItemWood, 5))

			result, err := useItem(tx, c.rng, DefaultGoldenOdds, testUserID, "xp", 10)
			require.NoError(t, err)
			assert.Equal(t, int64(10), result.Level.Experience)
			assert.Contains(t, result.String(), "You now have **10** experience")

			result, err = useItem(tx, c.rng, DefaultGoldenOdds, testUserID, "mystery animal", 2)
			require.NoError(t, err)
			require.Len(t, result.Credits, 2)
			for _, credit := range result.Credits {
				assert.True(t, credit.Penned)
			}
			occupied, err := penOccupancy(tx, testUserID)
			require.NoError(t, err)
			assert.Equal(t, int64(2), occupied)

			_, err = useItem(tx, c.rng, DefaultGoldenOdds, testUserID, "fish food", 150)
			var cmdErr *CommandError
			require.ErrorAs(t, err, &cmdErr)
			assert.Contains(t, cmdErr.Message, "multiples of 100")

			result, err = useItem(tx, c.rng, DefaultGoldenOdds, testUserID, "fish food", 200)
			require.NoError(t, err)
			assert.Equal(t, int64(2), result.Emeralds)
			food, err := GetQuantity(tx, testUserID, ItemFishFood)
			require.NoError(t, err)
			assert.Equal(t, int64(50), food)

			_, err = useItem(tx, c.rng, DefaultGoldenOdds, testUserID, "wood", 1)
			require.ErrorAs(t, err, &cmdErr)
			assert.Contains(t, cmdErr.Message, "can't be used")

			_, err = useItem(tx, c.rng, DefaultGoldenOdds, testUserID, "xp", 1)
			assert.ErrorIs(t, err, ErrInsufficientResource)
			return nil
		},
	)
}

func TestCmdBuy_RichRole(t *testing.T) {
	c, session := newTestCraftCord(t)
	session.roles = []*discordgo.Role{{ID: "role-rich", Name: "rich"}}
	inTx(
		t, c, func(tx *gorm.DB) error {
			return GiveQuantity(tx, testUserID, ItemEmerald, 1000)
		},
	)

	sendMessage(c, "!buy rich role")
	assert.Contains(t, session.lastSent(t), "You must be super rich")
	assert.Equal(t, []string{"role-rich"}, session.rolesAdd)

	sendMessage(c, "!buy rich role")
	assert.Contains(t, session.lastSent(t), "per 24h")
}

func TestCmdUse_BossMobTicket(t *testing.T) {
	c, session := newTestCraftCord(t)
	adminSession(session)
	sendMessage(c, "!setchannel log <#200000000000000077>")
	inTx(
		t, c, func(tx *gorm.DB) error {
			return GiveQuantity(tx, testUserID, ItemBossMobTicket, 1)
		},
	)

	sendMessage(c, "!use ticket")
	sent := session.sentMessages()
	require.GreaterOrEqual(t, len(sent), 2)
	announcement := sent[len(sent)-2]
	assert.Equal(t, "200000000000000077", announcement.ChannelID)
	assert.Contains(t, announcement.Content, "used 1 boss mob ticket(s)")
	assert.Contains(t, session.lastSent(t), "The server has been told")
}

func TestCmdShop(t *testing.T) {
	c, session := newTestCraftCord(t)

	sendMessage(c, "!shop")
	text := session.lastSent(t)
	assert.Contains(t, text, "Shop")
	for _, item := range defaultShopItems {
		assert.Contains(t, text, item.Name)
	}
}
