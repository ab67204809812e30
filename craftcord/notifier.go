package craftcord

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"log/slog"
	"strings"
	"time"
)

const (
	notifyChannelRuntimeConfigUpdated = "craftcord_reload_runtime_config"
	notifyChannelGuildUpdated         = "craftcord_guild_updated"
	notifyChannelStop                 = "craftcord_stop"
	recordSeparator                   = string(rune(30))
)

var dbNotifierSendTimeout = 15 * time.Second

// DBNotifier announces changes to every bot instance sharing the
// database, including this one.
type DBNotifier interface {
	// ReloadRuntimeConfig tells bot instances to reload their
	// runtime configuration from the DB
	ReloadRuntimeConfig(ctx context.Context) bool

	// GuildUpdated tells bot instances that a guild's settings changed,
	// so caches are dropped and the guild's spawner restarted
	GuildUpdated(ctx context.Context, guildID string) bool

	// Stop sends a shutdown signal to all bots
	Stop(ctx context.Context) bool

	// ID identifies this notifier. Listeners ignore their own notifications.
	ID() string

	// Channels returns the channel names Listen should be called with
	Channels() []string

	// Listen blocks, forwarding notifications received on channel
	// until ctx is done
	Listen(ctx context.Context, channel string) error
}

func generateRandomHexString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func newDBNotifier(c *CraftCord) (DBNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	log := c.logger.With(loggerNameKey, "db_notifier")
	switch c.config.DatabaseType {
	case dbTypeSQLite:
		return &localNotifier{logger: log, c: c, id: notifyID}, nil
	case dbTypePostgres:
		return &postgresNotifier{c: c, logger: log, id: notifyID}, nil
	default:
		return nil, errors.New("invalid database type")
	}
}

// forward pushes a signal onto ch, giving up when ctx is done
func forward[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// localNotifier signals the local instance directly. Used with SQLite,
// where only a single instance can own the database.
type localNotifier struct {
	logger *slog.Logger
	c      *CraftCord
	id     string
}

func (s *localNotifier) ID() string {
	return s.id
}

func (*localNotifier) Channels() []string {
	return nil
}

func (s *localNotifier) Listen(_ context.Context, channel string) error {
	s.logger.Debug("listener called", "channel", channel)
	return nil
}

func (s *localNotifier) Stop(ctx context.Context) bool {
	s.logger.Info("notifying stop signal")
	if !forward(ctx, s.c.signalStop, struct{}{}) {
		s.logger.Warn("timeout sending stop signal")
		return false
	}
	return true
}

func (s *localNotifier) GuildUpdated(ctx context.Context, guildID string) bool {
	s.logger.Info("guild updated", "guild_id", guildID)
	if !forward(ctx, s.c.triggerGuildUpdatedCh, guildID) {
		s.logger.Warn("timeout sending guild update", "guild_id", guildID)
		return false
	}
	return true
}

func (s *localNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	s.logger.Info("runtime config reload requested")
	if !forward(ctx, s.c.triggerRuntimeConfigRefreshCh, true) {
		s.logger.Warn("timeout sending runtime config refresh signal")
		return false
	}
	return true
}

type postgresNotifier struct {
	c      *CraftCord
	logger *slog.Logger
	id     string
}

func (p *postgresNotifier) ID() string {
	return p.id
}

func (*postgresNotifier) Channels() []string {
	return []string{
		notifyChannelRuntimeConfigUpdated,
		notifyChannelGuildUpdated,
		notifyChannelStop,
	}
}

func (p *postgresNotifier) notify(ctx context.Context, channel, payload string) bool {
	err := p.c.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		channel,
		payload,
	).Error
	if err != nil {
		p.logger.ErrorContext(ctx, "error sending NOTIFY", "channel", channel, tint.Err(err))
		return false
	}
	p.logger.InfoContext(ctx, "sent notification", "channel", channel, "pg_notify_id", p.id)
	return true
}

func (p *postgresNotifier) Stop(ctx context.Context) bool {
	return p.notify(ctx, notifyChannelStop, p.id)
}

// ReloadRuntimeConfig notifies other instances, and reloads locally
func (p *postgresNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	sent := p.notify(ctx, notifyChannelRuntimeConfigUpdated, p.id)
	forward(ctx, p.c.triggerRuntimeConfigRefreshCh, true)
	return sent
}

// GuildUpdated notifies other instances, and applies the update locally
func (p *postgresNotifier) GuildUpdated(ctx context.Context, guildID string) bool {
	sent := p.notify(
		ctx,
		notifyChannelGuildUpdated,
		newGuildUpdatedNotificationMessage(p.id, guildID),
	)
	forward(ctx, p.c.triggerGuildUpdatedCh, guildID)
	return sent
}

func parseGuildUpdatedNotification(s string) (notifierID, guildID string) {
	before, after, _ := strings.Cut(s, recordSeparator)
	return before, after
}

func newGuildUpdatedNotificationMessage(notifierID string, guildID string) string {
	return strings.Join([]string{notifierID, guildID}, recordSeparator)
}

func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	p.logger.Info("starting db listener", "channel", channel)

	config, err := pgxpool.ParseConfig(p.c.config.Database)
	if err != nil {
		return fmt.Errorf("error parsing database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("error creating connection pool: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("error acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return fmt.Errorf("error setting up listener: %w", err)
	}
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			if ctx.Err() != nil {
				break
			}
			logger.ErrorContext(ctx, "error waiting for notification", tint.Err(e))
			time.Sleep(5 * time.Second)
			continue
		}

		fwdCtx, cancel := context.WithTimeout(ctx, dbNotifierSendTimeout)
		switch notification.Channel {
		case notifyChannelRuntimeConfigUpdated:
			if notification.Payload == p.id {
				cancel()
				continue
			}
			if !forward(fwdCtx, p.c.triggerRuntimeConfigRefreshCh, true) {
				logger.Warn("timed out sending config refresh signal")
			}
		case notifyChannelGuildUpdated:
			notifierID, guildID := parseGuildUpdatedNotification(notification.Payload)
			if notifierID == p.id {
				cancel()
				continue
			}
			if !forward(fwdCtx, p.c.triggerGuildUpdatedCh, guildID) {
				logger.Warn("timed out sending guild update", "guild_id", guildID)
			}
		case notifyChannelStop:
			logger.InfoContext(ctx, "received stop signal via NOTIFY")
			if !forward(fwdCtx, p.c.signalStop, struct{}{}) {
				logger.Warn("timed out forwarding stop signal")
			}
		default:
			logger.Warn("received unknown notification", "channel", notification.Channel)
		}
		cancel()
	}
	return nil
}
