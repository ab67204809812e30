package craftcord

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// insertSpawn stores a spawn of creature in testChannelID directly,
// without posting it or starting any watchers
func insertSpawn(t testing.TB, c *CraftCord, creature string, early bool) Spawn {
	t.Helper()
	now := time.Now()
	s := Spawn{
		ID:         newID(),
		GuildID:    testGuildID,
		ChannelID:  testChannelID,
		Creature:   creature,
		MessageID:  newID(),
		SpawnedAt:  now.UnixMilli(),
		EarlyUntil: now.Add(-time.Second).UnixMilli(),
		ExpiresAt:  now.Add(time.Minute).UnixMilli(),
	}
	if early {
		s.EarlyUntil = now.Add(time.Minute).UnixMilli()
	}
	_, err := c.writeDB.Create(context.Background(), &s)
	require.NoError(t, err)
	return s
}

// withRunContext gives c a cancelable run context, waiting for spawn
// watchers and reveal animations to finish when the test ends
func withRunContext(t testing.TB, c *CraftCord) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c.runCtx = ctx
	t.Cleanup(
		func() {
			cancel()
			c.runtimeWG.Wait()
		},
	)
}

func TestSpawn_Expired(t *testing.T) {
	now := time.Now()
	s := Spawn{ExpiresAt: now.UnixMilli()}
	assert.True(t, s.Expired(now))
	assert.False(t, s.Expired(now.Add(-time.Millisecond)))
}

func TestChooseCreature(t *testing.T) {
	rng := newLockedRand(42)
	pool := []Creature{{Name: "Cow", Rarity: 1}, {Name: "Sniffer", Rarity: 5}}

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		counts[chooseCreature(rng, pool).Name]++
	}
	assert.Greater(t, counts["Cow"], counts["Sniffer"]*4)
	assert.Positive(t, counts["Sniffer"])
}

func TestActiveSpawn(t *testing.T) {
	c, _ := newTestCraftCord(t)

	s, err := activeSpawn(c.db, testChannelID, time.Now())
	require.NoError(t, err)
	assert.Nil(t, s)

	first := insertSpawn(t, c, "Cow", false)
	second := insertSpawn(t, c, "Pig", false)
	_, err = c.writeDB.Update(context.Background(), &Spawn{ID: second.ID}, "spawned_at", first.SpawnedAt+1)
	require.NoError(t, err)

	s, err = activeSpawn(c.db, testChannelID, time.Now())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, first.ID, s.ID)

	s, err = activeSpawn(c.db, testChannelID, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, s, "expired spawns aren't active")

	s, err = activeSpawn(c.db, testOtherID, time.Now())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestCatchSpawn(t *testing.T) {
	c, _ := newTestCraftCord(t)
	ctx := context.Background()
	s := insertSpawn(t, c, "Cow", false)
	user := &discordgo.User{ID: testUserID, Username: "steve"}

	result, won, err := c.catchSpawn(ctx, s, user, testGuildID, testChannelID)
	require.NoError(t, err)
	require.True(t, won)
	assert.False(t, result.Early)
	assert.True(t, result.Credit.Penned)
	assert.Contains(t, result.String(), "You caught the **Cow**")
	assert.NotContains(t, result.String(), "Early catch bonus")

	n, err := penCount(c.db, testUserID, "Cow", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, won, err = c.catchSpawn(ctx, s, user, testGuildID, testChannelID)
	require.NoError(t, err)
	assert.False(t, won, "a spawn can only be caught once")

	escaped, err := c.expireSpawn(ctx, s)
	require.NoError(t, err)
	assert.False(t, escaped, "a caught spawn can't escape")
}

func TestCatchSpawn_Early(t *testing.T) {
	c, _ := newTestCraftCord(t)
	s := insertSpawn(t, c, "Cow", true)

	result, won, err := c.catchSpawn(
		context.Background(),
		s,
		&discordgo.User{ID: testUserID, Username: "steve"},
		testGuildID,
		testChannelID,
	)
	require.NoError(t, err)
	require.True(t, won)
	assert.True(t, result.Early)
	assert.Contains(t, result.String(), "Early catch bonus")

	emeralds, err := GetQuantity(c.db, testUserID, ItemEmerald)
	require.NoError(t, err)
	assert.Equal(t, int64(earlyCatchBonus), emeralds)
}

func TestCatchSpawn_UnknownCreature(t *testing.T) {
	c, _ := newTestCraftCord(t)
	s := insertSpawn(t, c, "Herobrine", false)

	_, won, err := c.catchSpawn(
		context.Background(),
		s,
		&discordgo.User{ID: testUserID, Username: "steve"},
		testGuildID,
		testChannelID,
	)
	require.ErrorIs(t, err, ErrUnknownCreature)
	assert.False(t, won)
}

func TestCatchSpawn_Race(t *testing.T) {
	c, _ := newTestCraftCord(t)
	ctx := context.Background()
	s := insertSpawn(t, c, "Pig", false)

	var wins atomic.Int32
	var wg sync.WaitGroup
	players := []string{testUserID, testOtherID, "300000000000000003", "300000000000000004"}
	for _, id := range players {
		wg.Add(1)
		go func(playerID string) {
			defer wg.Done()
			_, won, err := c.catchSpawn(ctx, s, &discordgo.User{ID: playerID, Username: playerID}, testGuildID, testChannelID)
			assert.NoError(t, err)
			if won {
				wins.Add(1)
			}
		}(id)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	var total int64
	require.NoError(t, c.db.Model(&PenEntry{}).Where("creature = ?", "Pig").Select("coalesce(sum(head_count), 0)").Scan(&total).Error)
	assert.Equal(t, int64(1), total)

	escaped, err := c.expireSpawn(ctx, s)
	require.NoError(t, err)
	assert.False(t, escaped)
}

func TestExpireSpawn(t *testing.T) {
	c, session := newTestCraftCord(t)
	ctx := context.Background()
	s := insertSpawn(t, c, "Sniffer", false)

	escaped, err := c.expireSpawn(ctx, s)
	require.NoError(t, err)
	assert.True(t, escaped)
	assert.Contains(t, session.lastSent(t), "The **Sniffer** got away!")
	assert.Contains(t, session.deleted, s.MessageID)

	escaped, err = c.expireSpawn(ctx, s)
	require.NoError(t, err)
	assert.False(t, escaped)

	_, won, err := c.catchSpawn(ctx, s, &discordgo.User{ID: testUserID}, testGuildID, testChannelID)
	require.NoError(t, err)
	assert.False(t, won, "an escaped spawn can't be caught")
}

func TestHandleSpawnGuess(t *testing.T) {
	c, session := newTestCraftCord(t)
	ctx := context.Background()

	caught, err := c.handleSpawnGuess(ctx, testMessage("snow fox"))
	require.NoError(t, err)
	assert.False(t, caught, "nothing to catch")

	insertSpawn(t, c, "Snow Fox", false)

	caught, err = c.handleSpawnGuess(ctx, testMessage("fox"))
	require.NoError(t, err)
	assert.False(t, caught)
	assert.Empty(t, session.sentMessages())

	caught, err = c.handleSpawnGuess(ctx, testMessage("  SNOWFOX "))
	require.NoError(t, err)
	assert.True(t, caught)

	reply := session.sentMessages()
	require.Len(t, reply, 1)
	assert.Contains(t, reply[0].Content, "You caught the **Snow Fox**")
	require.NotNil(t, reply[0].Reference)

	n, err := penCount(c.db, testUserID, "Snow Fox", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	caught, err = c.handleSpawnGuess(ctx, testMessage("snow fox"))
	require.NoError(t, err)
	assert.False(t, caught, "already caught")
}

func TestSpawnInGuild_NoSpawnChannels(t *testing.T) {
	c, _ := newTestCraftCord(t)
	_, err := c.spawnInGuild(context.Background(), testGuildID, "")
	require.ErrorIs(t, err, errNoSpawnChannels)
}

func TestSpawnInGuild(t *testing.T) {
	c, session := newTestCraftCord(t)
	withRunContext(t, c)
	ctx := context.Background()

	_, err := c.updateGuildSettings(
		ctx, testGuildID, func(s *GuildSettings) error {
			s.SpawnChannels = ChannelSet{testChannelID}
			return nil
		},
	)
	require.NoError(t, err)

	s, err := c.spawnInGuild(ctx, testGuildID, "")
	require.NoError(t, err)
	assert.Equal(t, testChannelID, s.ChannelID)
	assert.NotEmpty(t, s.MessageID)
	assert.Greater(t, s.ExpiresAt, s.EarlyUntil)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, testChannelID, sent[0].ChannelID)
	require.Len(t, sent[0].Embeds, 1)
	assert.Contains(t, sent[0].Embeds[0].Description, "Say its name")

	active, err := activeSpawn(c.db, testChannelID, time.Now())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, s.ID, active.ID)
	assert.Equal(t, s.MessageID, active.MessageID)

	require.Eventually(
		t, func() bool {
			session.mu.Lock()
			defer session.mu.Unlock()
			return len(session.edits) == c.config.Game.RevealFrames-1
		},
		5*time.Second,
		10*time.Millisecond,
		"reveal should step through every frame",
	)
}

func TestSpawnEmbed(t *testing.T) {
	cow := mustCreature(t, "Cow")

	embed := spawnEmbed(&Spawn{}, cow, 0, 4, "")
	assert.Equal(t, "A wild creature appeared!", embed.Title)
	assert.Nil(t, embed.Image)
	assert.Contains(t, embed.Description, "`_ _ _`")

	embed = spawnEmbed(&Spawn{Golden: true}, cow, 3, 4, "https://example.com/f.png")
	assert.Contains(t, embed.Title, "golden")
	assert.Equal(t, goldenColor, embed.Color)
	require.NotNil(t, embed.Image)
	assert.Equal(t, "https://example.com/f.png", embed.Image.URL)
}

func TestResumeSpawnWatchers(t *testing.T) {
	c, session := newTestCraftCord(t)
	withRunContext(t, c)

	s := insertSpawn(t, c, "Cow", false)
	_, err := c.writeDB.Update(context.Background(), &Spawn{ID: s.ID}, "expires_at", time.Now().Add(-time.Second).UnixMilli())
	require.NoError(t, err)

	require.NoError(t, c.resumeSpawnWatchers(context.Background()))
	require.Eventually(
		t, func() bool {
			for _, m := range session.sentMessages() {
				if m.Content != "" && m.ChannelID == testChannelID {
					return true
				}
			}
			return false
		},
		5*time.Second,
		10*time.Millisecond,
	)
	assert.Contains(t, session.lastSent(t), "got away")
}
