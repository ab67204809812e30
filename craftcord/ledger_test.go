package craftcord

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"testing"
)

func TestLedger_GiveAndTake(t *testing.T) {
	c, _ := newTestCraftCord(t)

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, GiveQuantity(tx, testUserID, ItemWood, 3))
			require.NoError(t, GiveQuantity(tx, testUserID, ItemWood, 4))

			qty, err := GetQuantity(tx, testUserID, ItemWood)
			require.NoError(t, err)
			assert.Equal(t, int64(7), qty)

			require.NoError(t, TakeQuantity(tx, testUserID, ItemWood, 2))
			qty, err = GetQuantity(tx, testUserID, ItemWood)
			require.NoError(t, err)
			assert.Equal(t, int64(5), qty)
			return nil
		},
	)

	entries, err := inventory(c.db, testUserID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, itemCategoryRes, entries[0].Category)
	assert.False(t, entries[0].Useable)
}

func TestLedger_TakeInsufficient(t *testing.T) {
	c, _ := newTestCraftCord(t)

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, GiveQuantity(tx, testUserID, ItemIron, 2))

			err := TakeQuantity(tx, testUserID, ItemIron, 3)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInsufficientResource)

			var insufficient *InsufficientResourceError
			require.True(t, errors.As(err, &insufficient))
			assert.Equal(t, int64(3), insufficient.Need)
			assert.Equal(t, int64(2), insufficient.Have)

			qty, err := GetQuantity(tx, testUserID, ItemIron)
			require.NoError(t, err)
			assert.Equal(t, int64(2), qty, "failed take must not change the balance")
			return nil
		},
	)
}

func TestLedger_ZeroBalanceDeletesRow(t *testing.T) {
	c, _ := newTestCraftCord(t)

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, GiveQuantity(tx, testUserID, ItemGold, 2))
			return TakeQuantity(tx, testUserID, ItemGold, 2)
		},
	)

	var count int64
	require.NoError(
		t,
		c.db.Model(&LedgerEntry{}).
			Where("player_id = ? AND item_name = ?", testUserID, ItemGold).
			Count(&count).Error,
	)
	assert.Zero(t, count)
}

func TestLedger_NonPositiveAmounts(t *testing.T) {
	c, _ := newTestCraftCord(t)

	inTx(
		t, c, func(tx *gorm.DB) error {
			assert.ErrorIs(t, GiveQuantity(tx, testUserID, ItemWood, 0), errNonPositiveAmount)
			assert.ErrorIs(t, TakeQuantity(tx, testUserID, ItemWood, -1), errNonPositiveAmount)
			return nil
		},
	)
}

func TestLedger_TakeAllIsAtomic(t *testing.T) {
	c, _ := newTestCraftCord(t)

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, GiveQuantity(tx, testUserID, ItemWood, 5))
			return GiveQuantity(tx, testUserID, ItemIron, 1)
		},
	)

	cost := map[string]int64{ItemWood: 1, ItemIron: 3}
	err := c.writeDB.Transaction(
		context.Background(), func(tx *gorm.DB) error {
			return takeAll(tx, testUserID, cost)
		},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientResource)

	wood, err := GetQuantity(c.db, testUserID, ItemWood)
	require.NoError(t, err)
	assert.Equal(t, int64(5), wood)

	missing, err := shortfalls(c.db, testUserID, cost)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, ItemIron, missing[0].Item)
}
