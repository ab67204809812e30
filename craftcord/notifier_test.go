package craftcord

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"net/http"
	"testing"
	"time"
)

type mockDBNotifier struct {
	mock.Mock
}

func (m *mockDBNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *mockDBNotifier) GuildUpdated(ctx context.Context, guildID string) bool {
	args := m.Called(ctx, guildID)
	return args.Bool(0)
}

func (m *mockDBNotifier) Stop(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *mockDBNotifier) ID() string {
	return "mock"
}

func (m *mockDBNotifier) Channels() []string {
	return nil
}

func (m *mockDBNotifier) Listen(context.Context, string) error {
	return nil
}

func waitFor(t testing.TB, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestUpdateGuildSettings_Notifies(t *testing.T) {
	c, _ := newTestCraftCord(t)
	m := &mockDBNotifier{}
	c.dbNotifier = m

	called := make(chan struct{}, 1)
	m.On("GuildUpdated", mock.Anything, testGuildID).
		Return(true).
		Run(func(mock.Arguments) { called <- struct{}{} })

	_, err := c.updateGuildSettings(
		context.Background(), testGuildID, func(s *GuildSettings) error {
			s.Welcome = true
			return nil
		},
	)
	require.NoError(t, err)
	waitFor(t, called)
	m.AssertExpectations(t)
}

func TestUpdateRuntimeConfig_Notifies(t *testing.T) {
	c, _ := newTestCraftCord(t)
	m := &mockDBNotifier{}
	c.dbNotifier = m

	called := make(chan struct{}, 1)
	m.On("ReloadRuntimeConfig", mock.Anything).
		Return(true).
		Run(func(mock.Arguments) { called <- struct{}{} })

	enabled := false
	cfg, err := c.updateRuntimeConfig(context.Background(), RuntimeConfigUpdate{ChatXPEnabled: &enabled})
	require.NoError(t, err)
	assert.False(t, cfg.ChatXPEnabled)
	waitFor(t, called)

	// nothing changed, nothing sent
	_, err = c.updateRuntimeConfig(context.Background(), RuntimeConfigUpdate{ChatXPEnabled: &enabled})
	require.NoError(t, err)
	m.AssertNumberOfCalls(t, "ReloadRuntimeConfig", 1)
}

func TestAPI_Quit(t *testing.T) {
	c, _ := newTestCraftCord(t)
	cookie := loginAsAdmin(t, c)

	m := &mockDBNotifier{}
	c.dbNotifier = m
	m.On("Stop", mock.Anything).Return(true).Once()
	m.On("Stop", mock.Anything).Return(false).Once()

	resp := apiRequest(t, c, http.MethodPost, apiPrefix+apiPathQuit, nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "quitting", decodeBody[httpReply](t, resp).Message)

	resp = apiRequest(t, c, http.MethodPost, apiPrefix+apiPathQuit, nil, cookie)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	m.AssertExpectations(t)
}

func TestLocalNotifier(t *testing.T) {
	c, _ := newTestCraftCord(t)
	n, err := newDBNotifier(c)
	require.NoError(t, err)
	require.IsType(t, &localNotifier{}, n)
	assert.Len(t, n.ID(), 32)
	assert.Empty(t, n.Channels())

	ctx := context.Background()
	assert.True(t, n.GuildUpdated(ctx, testGuildID))
	assert.Equal(t, testGuildID, <-c.triggerGuildUpdatedCh)

	assert.True(t, n.ReloadRuntimeConfig(ctx))
	assert.True(t, <-c.triggerRuntimeConfigRefreshCh)

	assert.True(t, n.Stop(ctx))
	<-c.signalStop

	// the channels hold one signal; a second one waits for ctx
	assert.True(t, n.Stop(ctx))
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.False(t, n.Stop(short))
}

func TestGuildUpdatedNotificationMessage(t *testing.T) {
	msg := newGuildUpdatedNotificationMessage("abc", testGuildID)
	notifierID, guildID := parseGuildUpdatedNotification(msg)
	assert.Equal(t, "abc", notifierID)
	assert.Equal(t, testGuildID, guildID)
}
