package craftcord

import (
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestCooldowns(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cd := newCooldowns(map[string]time.Duration{"chop": time.Minute, "farm": 0})
	cd.now = func() time.Time { return now }

	assert.True(t, cd.Gated("chop"))
	assert.False(t, cd.Gated("farm"))
	assert.False(t, cd.Gated("help"))
	assert.Equal(t, []string{"chop"}, cd.Actions())

	left, ok := cd.Use(testUserID, "chop")
	assert.True(t, ok)
	assert.Zero(t, left)

	now = now.Add(20 * time.Second)
	left, ok = cd.Use(testUserID, "chop")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, left)
	assert.Equal(t, 40*time.Second, cd.Check(testUserID, "chop"))

	// cooldowns are per user
	_, ok = cd.Use(testOtherID, "chop")
	assert.True(t, ok)

	cd.Reset(testUserID, "chop")
	assert.Zero(t, cd.Check(testUserID, "chop"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, cd.Prune())
}

func TestCommandCooldowns(t *testing.T) {
	game := DefaultGameConfig()
	periods := commandCooldowns(game)
	for _, action := range []string{"chop", "mine", "farm", "fish"} {
		assert.Equal(t, game.GatherCooldown, periods[action], action)
	}
	assert.Equal(t, game.BreedCooldown, periods["breed"])
	assert.Equal(t, game.StrongholdCooldown, periods["stronghold"])
}
