package craftcord

import (
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		content string
		name    string
		args    []string
		ok      bool
	}{
		{"!chop", "chop", []string{}, true},
		{"  !CRAFT pickaxe  wood ", "craft", []string{"pickaxe", "wood"}, true},
		{"<@" + testAppID + "> pen", "pen", []string{}, true},
		{"<@!" + testAppID + "> !breed cow", "breed", []string{"cow"}, true},
		{"!", "", nil, false},
		{"chop", "", nil, false},
		{"hello <@" + testAppID + ">", "", nil, false},
	}
	for _, tc := range tests {
		t.Run(
			tc.content, func(t *testing.T) {
				name, args, ok := parseCommand(tc.content, "!", testAppID)
				assert.Equal(t, tc.ok, ok)
				assert.Equal(t, tc.name, name)
				if tc.ok {
					assert.Equal(t, tc.args, args)
				}
			},
		)
	}
}

func TestParseGiveMobArgs(t *testing.T) {
	who, name, count, err := parseGiveMobArgs([]string{"<@1>", "snow", "fox", "5"})
	require.NoError(t, err)
	assert.Equal(t, "<@1>", who)
	assert.Equal(t, "snow fox", name)
	assert.Equal(t, int64(5), count)

	_, name, count, err = parseGiveMobArgs([]string{"steve", "cow"})
	require.NoError(t, err)
	assert.Equal(t, "cow", name)
	assert.Equal(t, int64(1), count)

	// a lone number is the creature name, not a count
	_, name, count, err = parseGiveMobArgs([]string{"steve", "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", name)
	assert.Equal(t, int64(1), count)

	_, _, _, err = parseGiveMobArgs([]string{"steve"})
	assert.Error(t, err)
}

func TestSetChannel(t *testing.T) {
	s := defaultGuildSettings(testGuildID)

	on, err := setChannel(&s, channelKindSpawn, "1")
	require.NoError(t, err)
	assert.True(t, on)
	on, err = setChannel(&s, channelKindSpawn, "2")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, ChannelSet{"1", "2"}, s.SpawnChannels)

	on, err = setChannel(&s, channelKindSpawn, "1")
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, ChannelSet{"2"}, s.SpawnChannels)

	// single-channel kinds are replaced, never toggled off
	for i := 0; i < 2; i++ {
		on, err = setChannel(&s, channelKindAnnounce, "3")
		require.NoError(t, err)
		assert.True(t, on)
	}
	on, err = setChannel(&s, channelKindAnnounce, "4")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, ChannelSet{"4"}, s.AnnounceChannels)

	_, err = setChannel(&s, "lobby", "5")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, KindUserInput, cmdErr.Kind)
}

// sendMessage runs content through handleMessage as testUserID
func sendMessage(c *CraftCord, content string) {
	c.handleMessage(context.Background(), &discordgo.MessageCreate{Message: testMessage(content)})
}

// adminSession gives the guild's @everyone role Manage Server
func adminSession(session *mockDiscordSession) {
	session.mu.Lock()
	defer session.mu.Unlock()
	session.roles = []*discordgo.Role{{ID: testGuildID, Permissions: discordgo.PermissionManageServer}}
}

func TestHandleMessage_Command(t *testing.T) {
	c, session := newTestCraftCord(t)

	sendMessage(c, "!chop")
	assert.Contains(t, session.lastSent(t), "You got **1 wood** using your bare hands")

	wood, err := GetQuantity(c.db, testUserID, ItemWood)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wood)

	sendMessage(c, "!chop")
	assert.Contains(t, session.lastSent(t), "You can chop again in")

	wood, err = GetQuantity(c.db, testUserID, ItemWood)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wood, "cooldown should stop the second chop")
}

func TestHandleMessage_FailedCommandRefundsCooldown(t *testing.T) {
	c, session := newTestCraftCord(t)

	sendMessage(c, "!mine")
	assert.Contains(t, session.lastSent(t), "You need a pickaxe")

	sendMessage(c, "!mine")
	assert.Contains(t, session.lastSent(t), "You need a pickaxe")
	assert.NotContains(t, session.lastSent(t), "again in")
}

func TestHandleMessage_FailedReplyKeepsCooldown(t *testing.T) {
	c, session := newTestCraftCord(t)
	session.mu.Lock()
	session.sendErr = errors.New("unknown message")
	session.mu.Unlock()

	for i := 0; i < 5; i++ {
		sendMessage(c, "!chop")
	}
	wood, err := GetQuantity(c.db, testUserID, ItemWood)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wood, "a reply failing after the chop committed must not refund the cooldown")

	left, ok := c.cooldowns.Use(testUserID, "chop")
	assert.False(t, ok)
	assert.Positive(t, left)
}

func TestCmdCooldowns(t *testing.T) {
	c, session := newTestCraftCord(t)

	sendMessage(c, "!cooldowns")
	text := session.lastSent(t)
	assert.Contains(t, text, "steve's cooldowns")
	assert.Contains(t, text, "✅ `!chop` ready")

	sendMessage(c, "!chop")
	sendMessage(c, "!cd")
	text = session.lastSent(t)
	assert.Contains(t, text, "⏳ `!chop` in")
	assert.Contains(t, text, "✅ `!breed` ready")
}

func TestRefundsCooldown(t *testing.T) {
	assert.True(t, refundsCooldown(userError("no")))
	assert.True(t, refundsCooldown(permissionError("no")))
	assert.True(t, refundsCooldown(&InsufficientResourceError{Item: ItemWood, Need: 2}))
	assert.False(t, refundsCooldown(errors.New("HTTP 400 Bad Request")))
	assert.False(t, refundsCooldown(cooldownError("chop", time.Second)))
}

func TestReplyReference(t *testing.T) {
	c, session := newTestCraftCord(t)

	sendMessage(c, "!chop")
	ref := session.sentMessages()[0].Reference
	require.NotNil(t, ref)
	assert.Equal(t, testChannelID, ref.ChannelID)
	require.NotNil(t, ref.FailIfNotExists)
	assert.False(t, *ref.FailIfNotExists, "replies to deleted messages are sent anyway")
}

func TestHandleMessage_UnknownCommand(t *testing.T) {
	c, session := newTestCraftCord(t)

	sendMessage(c, "!chopp")
	assert.Contains(t, session.lastSent(t), "Did you mean `!chop`?")

	n := len(session.sentMessages())
	sendMessage(c, "!xyzzyplugh")
	assert.Len(t, session.sentMessages(), n, "nothing close, so no reply")
}

func TestHandleMessage_IgnoresBots(t *testing.T) {
	c, session := newTestCraftCord(t)

	m := testMessage("!chop")
	m.Author.Bot = true
	c.handleMessage(context.Background(), &discordgo.MessageCreate{Message: m})

	m = testMessage("!chop")
	m.GuildID = ""
	c.handleMessage(context.Background(), &discordgo.MessageCreate{Message: m})

	assert.Empty(t, session.sentMessages())
}

func TestHandleMessage_AdminRequired(t *testing.T) {
	c, session := newTestCraftCord(t)

	sendMessage(c, "!prefix ?")
	assert.Contains(t, session.lastSent(t), "You need the Administrator or Manage Server permission")

	adminSession(session)
	sendMessage(c, "!prefix ?")
	assert.Contains(t, session.lastSent(t), "Prefix set to `?`")

	settings, err := c.guildSettings(context.Background(), testGuildID)
	require.NoError(t, err)
	assert.Equal(t, "?", settings.Prefix)

	sendMessage(c, "?config")
	assert.Contains(t, session.lastSent(t), "Server settings")
}

func TestHandleMessage_GameChannels(t *testing.T) {
	c, session := newTestCraftCord(t)
	adminSession(session)

	sendMessage(c, "!setchannel game <#200000000000000099>")
	assert.Contains(t, session.lastSent(t), "is now a game channel")

	sendMessage(c, "!chop")
	assert.Contains(t, session.lastSent(t), "Gameplay commands can only be used in <#200000000000000099>")

	// non-gameplay commands work anywhere
	sendMessage(c, "!recipe")
	assert.NotContains(t, session.lastSent(t), "Gameplay commands")

	sendMessage(c, "!setchannel game 200000000000000099")
	assert.Contains(t, session.lastSent(t), "is no longer a game channel")

	sendMessage(c, "!setchannel game nowhere")
	assert.Contains(t, session.lastSent(t), "isn't a channel")
}

func TestHandleMessage_GiveMob(t *testing.T) {
	c, session := newTestCraftCord(t)
	adminSession(session)

	sendMessage(c, "!givemob <@"+testOtherID+"> snow fox 3")
	assert.Contains(t, session.lastSent(t), "Gave 3× Snow Fox")

	n, err := penCount(c.db, testOtherID, "Snow Fox", false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	sendMessage(c, "!givemob <@"+testOtherID+"> cow 101")
	assert.Contains(t, session.lastSent(t), "Count must be between 1 and 100")

	sendMessage(c, "!givemob <@"+testOtherID+"> herobrine")
	assert.Contains(t, session.lastSent(t), "herobrine")

	sendMessage(c, "!givemob <@"+testOtherID+"> zombie 2")
	assert.Contains(t, session.lastSent(t), "Zombie is hostile")
	n, err = penCount(c.db, testOtherID, "Zombie", false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleMessage_Welcome(t *testing.T) {
	c, session := newTestCraftCord(t)
	adminSession(session)
	ctx := context.Background()

	sendMessage(c, "!setchannel announce")
	sendMessage(c, "!welcome on")
	assert.Contains(t, session.lastSent(t), "Welcome messages are on")

	c.handleMemberJoin(
		ctx,
		&discordgo.GuildMemberAdd{
			Member: &discordgo.Member{
				GuildID: testGuildID,
				User:    &discordgo.User{ID: testOtherID, Username: "alex"},
			},
		},
	)
	last := session.sentMessages()[len(session.sentMessages())-1]
	assert.Equal(t, testChannelID, last.ChannelID)
	assert.Contains(t, last.Content, "Welcome <@"+testOtherID+">")
}

func TestHandleReactions(t *testing.T) {
	c, session := newTestCraftCord(t)

	c.handleReactions(context.Background(), testMessage("hi there"))
	assert.Contains(t, session.lastSent(t), "Hi, <@"+testUserID+">!")

	c.handleReactions(context.Background(), testMessage("I saw an axolotl today"))
	assert.Equal(t, []string{"👀"}, session.reactions)
}

func TestCmdHelp(t *testing.T) {
	c, session := newTestCraftCord(t)

	sendMessage(c, "!help")
	text := session.lastSent(t)
	assert.Contains(t, text, "`!chop`")
	assert.Contains(t, text, "**Admin**")
	assert.Contains(t, text, "`!givemob <@player> <creature> [count]`")
}
