package craftcord

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestNewLinkCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		code, err := newLinkCode()
		require.NoError(t, err)
		require.Len(t, code, linkCodeLength)
		for _, r := range code {
			assert.Truef(t, strings.ContainsRune(linkCodeAlphabet, r), "unexpected %q in %s", r, code)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestNormalizeYouTubeChannelName(t *testing.T) {
	assert.Equal(t, "minedrop", normalizeYouTubeChannelName(" @MineDrop "))
	assert.Equal(t, "mine drop", normalizeYouTubeChannelName("Mine Drop"))
	assert.Equal(t, "", normalizeYouTubeChannelName("@"))
}

func TestYouTubeURL(t *testing.T) {
	assert.Equal(
		t,
		"https://www.youtube.com/channel/UC123",
		youTubeURL(&Player{YouTubeChannelName: "mine drop", YouTubeChannelID: "UC123"}),
	)
	assert.Equal(t, "https://www.youtube.com/@minedrop", youTubeURL(&Player{YouTubeChannelName: "mine drop"}))
}

// pendingLinkFor returns the player's pending link
func pendingLinkFor(t testing.TB, c *CraftCord, playerID string) PendingLink {
	t.Helper()
	var link PendingLink
	require.NoError(t, c.db.Where("id = ?", playerID).Take(&link).Error)
	return link
}

func TestConfirmLink(t *testing.T) {
	c, _ := newTestCraftCord(t)
	now := time.Now()
	expires := now.Add(linkCodeTTL).UnixMilli()

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, ensurePlayer(tx, testUserID, "steve"))
			require.NoError(
				t, upsertPendingLink(
					tx,
					&PendingLink{ModelStringID: ModelStringID{ID: testUserID}, ChannelName: "old", Code: "AAAA1111", ExpiresAt: expires},
				),
			)
			// a second request replaces the first
			return upsertPendingLink(
				tx,
				&PendingLink{ModelStringID: ModelStringID{ID: testUserID}, ChannelName: "minedrop", Code: "BBBB2222", ExpiresAt: expires},
			)
		},
	)
	link := pendingLinkFor(t, c, testUserID)
	assert.Equal(t, "minedrop", link.ChannelName)

	inTx(
		t, c, func(tx *gorm.DB) error {
			_, err := confirmLink(tx, "AAAA1111", "UC1", now)
			assert.ErrorIs(t, err, ErrLinkCodeNotFound)

			_, err = confirmLink(tx, "bbbb2222", "UC1", now.Add(linkCodeTTL+time.Second))
			assert.ErrorIs(t, err, ErrLinkCodeNotFound, "expired")

			p, err := confirmLink(tx, "bbbb2222", "UC1", now)
			require.NoError(t, err)
			assert.Equal(t, "minedrop", p.YouTubeChannelName)
			assert.Equal(t, "UC1", p.YouTubeChannelID)
			assert.Equal(t, "steve", p.Username)

			_, err = confirmLink(tx, "BBBB2222", "UC1", now)
			assert.ErrorIs(t, err, ErrLinkCodeNotFound, "codes are single use")
			return nil
		},
	)
}

func TestPurgeExpiredLinks(t *testing.T) {
	c, _ := newTestCraftCord(t)
	now := time.Now()
	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(
				t, upsertPendingLink(
					tx,
					&PendingLink{ModelStringID: ModelStringID{ID: testUserID}, ChannelName: "a", Code: "CCCC3333", ExpiresAt: now.Add(-time.Minute).UnixMilli()},
				),
			)
			return upsertPendingLink(
				tx,
				&PendingLink{ModelStringID: ModelStringID{ID: testOtherID}, ChannelName: "b", Code: "DDDD4444", ExpiresAt: now.Add(time.Hour).UnixMilli()},
			)
		},
	)
	purged, err := c.purgeExpiredLinks(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	pendingLinkFor(t, c, testOtherID)
}

func TestCmdLinkYouTube(t *testing.T) {
	c, session := newTestCraftCord(t)

	sendMessage(c, "!linkyt")
	assert.Contains(t, session.lastSent(t), "Usage: `!linkyt")

	sendMessage(c, "!linkyt @MineDrop")
	assert.Contains(t, session.lastSent(t), "check your DMs")

	link := pendingLinkFor(t, c, testUserID)
	assert.Equal(t, "minedrop", link.ChannelName)
	assert.Greater(t, link.ExpiresAt, time.Now().Add(linkCodeTTL-time.Minute).UnixMilli())

	var dm *sentMessage
	for _, m := range session.sentMessages() {
		m := m
		if m.ChannelID == "dm-"+testUserID {
			dm = &m
		}
	}
	require.NotNil(t, dm, "the code is sent by DM")
	assert.Contains(t, dm.Content, "`"+link.Code+"`")
	assert.NotContains(t, session.lastSent(t), link.Code, "the code is never posted in the channel")

	session.mu.Lock()
	session.dmErr = errors.New("cannot send messages to this user")
	session.mu.Unlock()
	sendMessage(c, "!linkyt minedrop")
	assert.Contains(t, session.lastSent(t), "I couldn't DM you")
}

func TestCmdYouTube(t *testing.T) {
	c, session := newTestCraftCord(t)
	ctx := context.Background()

	sendMessage(c, "!yt")
	assert.Contains(t, session.lastSent(t), "You can't do that here")

	_, err := c.updateGuildSettings(
		ctx, testGuildID, func(s *GuildSettings) error {
			s.LinkChannels.Toggle(testChannelID)
			return nil
		},
	)
	require.NoError(t, err)

	sendMessage(c, "!yt")
	assert.Contains(t, session.lastSent(t), "You haven't linked a YouTube channel")

	sendMessage(c, "!linkyt minedrop")
	code := pendingLinkFor(t, c, testUserID).Code
	inTx(
		t, c, func(tx *gorm.DB) error {
			_, err := confirmLink(tx, code, "UC42", time.Now())
			return err
		},
	)

	sendMessage(c, "!yt")
	text := session.lastSent(t)
	assert.Contains(t, text, "steve's YouTube")
	assert.Contains(t, text, "Channel Name: minedrop")
	assert.Contains(t, text, "https://www.youtube.com/channel/UC42")

	sendMessage(c, "!yt <@"+testOtherID+">")
	assert.Contains(t, session.lastSent(t), "hasn't linked YouTube yet")
}

func TestAPI_ConfirmLink(t *testing.T) {
	c, _ := newTestCraftCord(t)
	cookie := loginAsAdmin(t, c)
	path := apiPrefix + apiPathLinkConfirm

	resp := apiRequest(t, c, http.MethodPost, path, linkConfirmation{Code: "ABC", ChannelID: "UC1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = apiRequest(t, c, http.MethodPost, path, linkConfirmation{Code: "short", ChannelID: "UC1"}, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = apiRequest(t, c, http.MethodPost, path, linkConfirmation{Code: "ZZZZ9999", ChannelID: "UC1"}, cookie)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	inTx(
		t, c, func(tx *gorm.DB) error {
			require.NoError(t, ensurePlayer(tx, testUserID, "steve"))
			return upsertPendingLink(
				tx,
				&PendingLink{ModelStringID: ModelStringID{ID: testUserID}, ChannelName: "minedrop", Code: "EEEE5555", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()},
			)
		},
	)
	resp = apiRequest(t, c, http.MethodPost, path, linkConfirmation{Code: "EEEE5555", ChannelID: "UC1"}, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decodeBody[Player](t, resp)
	assert.Equal(t, testUserID, p.ID)
	assert.Equal(t, "UC1", p.YouTubeChannelID)
}
