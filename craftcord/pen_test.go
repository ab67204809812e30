package craftcord

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"testing"
)

func mustCreature(t testing.TB, name string) Creature {
	t.Helper()
	cr, ok := lookupCreature(name)
	require.Truef(t, ok, "unknown creature %q", name)
	return cr
}

func TestSacrificeReward(t *testing.T) {
	cow := mustCreature(t, "Cow")
	sniffer := mustCreature(t, "Sniffer")

	assert.Equal(t, int64(1), sacrificeReward(cow, false, TierNone, false))
	assert.Equal(t, int64(2), sacrificeReward(cow, true, TierNone, false))
	assert.Equal(t, int64(3), sacrificeReward(cow, false, TierIron, false))
	assert.Equal(t, int64(2), sacrificeReward(cow, false, TierNone, true))
	assert.Equal(t, int64(10+10+5+1), sacrificeReward(sniffer, true, TierDiamond, true))
}

func TestCreditCreature(t *testing.T) {
	c, _ := newTestCraftCord(t)
	cow := mustCreature(t, "Cow")
	zombie := mustCreature(t, "Zombie")

	inTx(
		t, c, func(tx *gorm.DB) error {
			result, err := creditCreature(tx, testUserID, cow, false, true)
			require.NoError(t, err)
			assert.True(t, result.Penned)

			emeralds, err := GetQuantity(tx, testUserID, ItemEmerald)
			require.NoError(t, err)
			assert.Equal(t, int64(earlyCatchBonus), emeralds)

			result, err = creditCreature(tx, testUserID, zombie, false, false)
			require.NoError(t, err)
			assert.False(t, result.Penned)
			require.NotNil(t, result.Sacrifice)
			assert.Equal(t, sacrificeReasonHostile, result.Sacrifice.Reason)
			assert.Contains(t, result.String(), "can't be penned")
			return nil
		},
	)

	var logs []SacrificeLog
	require.NoError(t, c.db.Where("player_id = ?", testUserID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "Zombie", logs[0].Creature)
}

func TestCreditCreature_FullPenSacrifices(t *testing.T) {
	c, _ := newTestCraftCord(t)
	cow := mustCreature(t, "Cow")

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, ensurePlayer(tx, testUserID, "steve"))
			require.NoError(t, addToPen(tx, testUserID, "Pig", false, penBaseSize))

			result, err := creditCreature(tx, testUserID, cow, true, false)
			require.NoError(t, err)
			assert.False(t, result.Penned)
			require.NotNil(t, result.Sacrifice)
			assert.Equal(t, sacrificeReasonPenFull, result.Sacrifice.Reason)
			assert.Equal(t, int64(2), result.Sacrifice.Reward)

			occupied, err := penOccupancy(tx, testUserID)
			require.NoError(t, err)
			assert.Equal(t, int64(penBaseSize), occupied)
			return nil
		},
	)
}

func TestPenHasRoom(t *testing.T) {
	c, _ := newTestCraftCord(t)

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, ensurePlayer(tx, testUserID, "steve"))
			room, err := penHasRoom(tx, testUserID)
			require.NoError(t, err)
			assert.True(t, room)

			require.NoError(t, addToPen(tx, testUserID, "Pig", false, penBaseSize-1))
			room, err = penHasRoom(tx, testUserID)
			require.NoError(t, err)
			assert.True(t, room)

			require.NoError(t, addToPen(tx, testUserID, "Cow", true, 1))
			room, err = penHasRoom(tx, testUserID)
			require.NoError(t, err)
			assert.False(t, room)
			return nil
		},
	)
}

func TestPenHasRoom_LocksPlayerOnPostgres(t *testing.T) {
	db, err := gorm.Open(
		postgres.Open("host=localhost user=craftcord dbname=craftcord sslmode=disable"),
		&gorm.Config{DryRun: true, DisableAutomaticPing: true},
	)
	require.NoError(t, err)

	var statements []string
	require.NoError(
		t, db.Callback().Query().After("gorm:query").Register(
			"test:capture", func(tx *gorm.DB) {
				statements = append(statements, tx.Statement.SQL.String())
			},
		),
	)

	// dry runs can't scan the occupancy sum, so only the player read
	// gets through
	_, err = penHasRoom(db, testUserID)
	assert.ErrorIs(t, err, gorm.ErrDryRunModeUnsupported)
	require.Len(t, statements, 1)
	assert.Contains(t, statements[0], `FROM "players"`)
	assert.Contains(t, statements[0], "FOR UPDATE")
}

func TestBreed(t *testing.T) {
	c, _ := newTestCraftCord(t)
	cow := mustCreature(t, "Cow")

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, ensurePlayer(tx, testUserID, "steve"))
			require.NoError(t, addToPen(tx, testUserID, cow.Name, false, 1))

			err := breed(tx, testUserID, cow)
			require.Error(t, err)
			assert.Equal(t, KindUserInput, errorKind(err), "needs two to breed")

			require.NoError(t, addToPen(tx, testUserID, cow.Name, false, 1))
			err = breed(tx, testUserID, cow)
			require.Error(t, err, "needs wheat")
			assert.ErrorIs(t, err, ErrInsufficientResource)

			require.NoError(t, GiveQuantity(tx, testUserID, ItemWheat, cow.RarityInfo().Wheat))
			require.NoError(t, breed(tx, testUserID, cow))

			n, err := penCount(tx, testUserID, cow.Name, false)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			wheat, err := GetQuantity(tx, testUserID, ItemWheat)
			require.NoError(t, err)
			assert.Zero(t, wheat)
			return nil
		},
	)
}

func TestBreed_Rejections(t *testing.T) {
	c, _ := newTestCraftCord(t)

	err := c.writeDB.Transaction(
		context.Background(), func(tx *gorm.DB) error {
			return breed(tx, testUserID, mustCreature(t, "Creeper"))
		},
	)
	assert.Equal(t, KindUserInput, errorKind(err))

	err = c.writeDB.Transaction(
		context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, ensurePlayer(tx, testUserID, "steve"))
			require.NoError(t, addToPen(tx, testUserID, "Cow", false, penBaseSize))
			require.NoError(t, GiveQuantity(tx, testUserID, ItemWheat, 100))
			return breed(tx, testUserID, mustCreature(t, "Cow"))
		},
	)
	assert.ErrorIs(t, err, ErrPenFull)
}

func TestSacrificeFromPen_GoldenFirst(t *testing.T) {
	c, _ := newTestCraftCord(t)
	pig := mustCreature(t, "Pig")

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, addToPen(tx, testUserID, pig.Name, false, 1))
			require.NoError(t, addToPen(tx, testUserID, pig.Name, true, 1))
			require.NoError(t, grantTool(tx, testUserID, ToolSword, TierStone, 1))

			result, err := sacrificeFromPen(tx, testUserID, pig)
			require.NoError(t, err)
			assert.True(t, result.Golden)
			assert.Equal(t, TierStone, result.Sword)
			assert.Equal(t, int64(2+1), result.Reward)

			result, err = sacrificeFromPen(tx, testUserID, pig)
			require.NoError(t, err)
			assert.False(t, result.Golden)
			assert.Equal(t, TierNone, result.Sword, "the sword had one use")

			_, err = sacrificeFromPen(tx, testUserID, pig)
			assert.Error(t, err)
			return nil
		},
	)

	emeralds, err := GetQuantity(c.db, testUserID, ItemEmerald)
	require.NoError(t, err)
	assert.Equal(t, int64(4), emeralds)

	entries, err := penContents(c.db, testUserID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGiveCreature(t *testing.T) {
	c, _ := newTestCraftCord(t)
	cat := mustCreature(t, "Cat")

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, addToPen(tx, testUserID, cat.Name, false, 1))
			require.NoError(t, addToPen(tx, testUserID, cat.Name, true, 1))

			_, err := giveCreature(tx, testUserID, testUserID, cat)
			assert.Equal(t, KindUserInput, errorKind(err))

			result, err := giveCreature(tx, testUserID, testOtherID, cat)
			require.NoError(t, err)
			assert.False(t, result.Golden, "regular creatures are given first")
			assert.Nil(t, result.Sacrifice)

			n, err := penCount(tx, testOtherID, cat.Name, false)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
			return nil
		},
	)
}

func TestGiveCreature_RecipientPenFull(t *testing.T) {
	c, _ := newTestCraftCord(t)
	cat := mustCreature(t, "Cat")

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, addToPen(tx, testUserID, cat.Name, false, 1))
			require.NoError(t, ensurePlayer(tx, testOtherID, "alex"))
			require.NoError(t, addToPen(tx, testOtherID, "Cow", false, penBaseSize))

			result, err := giveCreature(tx, testUserID, testOtherID, cat)
			require.NoError(t, err)
			require.NotNil(t, result.Sacrifice)
			assert.Contains(t, result.String(), "pen is full")

			emeralds, err := GetQuantity(tx, testUserID, ItemEmerald)
			require.NoError(t, err)
			assert.Equal(t, result.Sacrifice.Reward, emeralds, "the giver gets the reward")

			n, err := penCount(tx, testUserID, cat.Name, false)
			require.NoError(t, err)
			assert.Zero(t, n)
			return nil
		},
	)
}

func TestUpgradePen(t *testing.T) {
	c, _ := newTestCraftCord(t)

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, GiveQuantity(tx, testUserID, ItemWood, penUpgradeCost(0)+penUpgradeCost(1)))

			p, cost, err := upgradePen(tx, testUserID, "steve")
			require.NoError(t, err)
			assert.Equal(t, penUpgradeCost(0), cost)
			assert.Equal(t, penBaseSize+1, p.PenSize)

			p, cost, err = upgradePen(tx, testUserID, "steve")
			require.NoError(t, err)
			assert.Equal(t, penUpgradeCost(1), cost)
			assert.Equal(t, penBaseSize+2, p.PenSize)

			_, _, err = upgradePen(tx, testUserID, "steve")
			assert.ErrorIs(t, err, ErrInsufficientResource)
			return nil
		},
	)

	p, err := getPlayer(c.db, testUserID)
	require.NoError(t, err)
	assert.Equal(t, penBaseSize+2, p.PenSize)
	assert.Equal(t, 2, p.PenUpgrades)
}

func TestResolveCreature(t *testing.T) {
	cr, err := resolveCreature("snow fox")
	require.NoError(t, err)
	assert.Equal(t, "Snow Fox", cr.Name)

	_, err = resolveCreature("axolotol")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownCreature)
	assert.Contains(t, userFacingMessage(err, ""), "Did you mean **Axolotl**?")

	_, err = resolveCreature(" ")
	assert.Equal(t, KindUserInput, errorKind(err))
}
