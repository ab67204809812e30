package craftcord

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/arcward/craftcord/craftcord.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var defaultLogWriter io.Writer = os.Stdout

const (
	shutdownAnnouncementInterval = 10 * time.Second
	runtimeConfigRefreshTimeout  = 30 * time.Second
)

// CraftCord is the bot: the Discord gateway session, the game state in
// the database, the supervised background tasks and the HTTP API.
type CraftCord struct {
	config     *Config
	dbNotifier DBNotifier

	// Read connection. With SQLite this is the same connection as
	// writeDB, limited to one open connection.
	db *gorm.DB

	// writeDB serializes writes when using SQLite
	writeDB DBI

	logger     *slog.Logger
	logHandler slog.Handler

	discord  *Discord
	api      *API
	metrics  *gameMetrics
	commands *commandSet
	tasks    *TaskRegistry

	// pool runs gateway event handlers, capping how many run at once
	pool *ants.Pool

	rng           *lockedRand
	guilds        *guildCache
	chatXPLimiter *keyedLimiter
	cooldowns     *cooldowns

	// runtimeWG tracks event handlers, spawn watchers and reveal
	// animations, so shutdown can wait on them
	runtimeWG sync.WaitGroup

	// runCtx is canceled when Run begins shutting down
	runCtx context.Context

	runtimeConfig   *RuntimeConfig
	runtimeConfigMu sync.RWMutex

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// signalStop stops Run, such as from the /api/quit endpoint
	signalStop chan struct{}

	// signalReady receives a value once Run has finished starting up
	signalReady chan struct{}

	triggerRuntimeConfigRefreshCh chan bool
	triggerGuildUpdatedCh         chan string

	startedAt time.Time
}

// New builds a CraftCord from config. Nothing is connected until Run.
func New(config *Config) (*CraftCord, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Game == nil {
		config.Game = DefaultGameConfig()
	}
	if config.HandlerPoolSize <= 0 {
		config.HandlerPoolSize = DefaultHandlerPoolSize
	}

	c := &CraftCord{
		config:                        config,
		signalStop:                    make(chan struct{}, 1),
		signalReady:                   make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
		triggerGuildUpdatedCh:         make(chan string, 1),
		rng:                           newLockedRand(time.Now().UnixNano()),
		guilds:                        newGuildCache(config.GuildSettingsTTL),
		chatXPLimiter:                 newKeyedLimiter(config.Game.ChatXPWindow, config.Game.ChatXPPerWindow),
		cooldowns:                     newCooldowns(commandCooldowns(config.Game)),
		metrics:                       newGameMetrics(),
	}

	c.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     c.config.LogLevel,
			AddSource: true,
		},
	)
	c.logger = slog.New(c.logHandler)
	slog.SetDefault(c.logger)

	c.tasks = NewTaskRegistry(c.logger, c.metrics)
	c.commands = c.newCommandSet()

	pool, err := ants.NewPool(
		config.HandlerPoolSize,
		ants.WithLogger(antsSlogLogger{logger: c.logger.With(loggerNameKey, "handler_pool")}),
		ants.WithPanicHandler(
			func(rc any) {
				c.handleRecover(context.Background(), rc)
			},
		),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("error creating handler pool: %w", err))
	}
	c.pool = pool

	c.config.Discord.httpClient = c.config.HTTPClient
	disc := newDiscord(c.config.Discord)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     c.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)
	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     c.config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	disc.c = c
	c.discord = disc

	api, err := newAPI(c, config.API)
	errs = append(errs, err)
	c.api = api

	return c, errors.Join(errs...)
}

func (c *CraftCord) ValidateConfig() error {
	return structValidator.Struct(c.config)
}

// Ready receives a value once Run has started everything
func (c *CraftCord) Ready() <-chan struct{} {
	return c.signalReady
}

// Run connects to the database and Discord, serves the API, and starts
// the spawn loops and scheduler. It blocks until ctx is canceled or a
// stop signal is received, then shuts down gracefully.
func (c *CraftCord) Run(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.startedAt = time.Now()
	logger := c.logger

	if err := c.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	notifier, err := newDBNotifier(c)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	c.dbNotifier = notifier

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", c.config))

	// the 'runtime' context, which triggers a graceful shutdown when
	// canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.signalStop:
			c.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, c.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		initErr <- c.initRun(startCtx)
	}()
	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out: %w", startCtx.Err())
	case err = <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
	}
	c.runCtx = ctx

	go func() {
		httpErr := c.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			c.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			cancel()
		}
	}()

	g, gctx := errgroup.WithContext(startCtx)
	g.Go(func() error { return c.resumeSpawnWatchers(gctx) })
	g.Go(func() error { return c.warmGuildCache(gctx) })
	if err = g.Wait(); err != nil {
		return err
	}
	c.tasks.Start(ctx, TaskKey{Duty: DutyScheduler}, c.runScheduler)

	if err = c.initDiscordSession(ctx); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return c.shutdown(ctx, err)
	}
	if err = c.discordInit(ctx, c.RuntimeConfig()); err != nil {
		return c.shutdown(ctx, err)
	}
	c.syncSpawnTasks(ctx)

	c.startRuntimeConfigRefresher(ctx)
	c.startGuildUpdatedListener(ctx)
	for _, channel := range c.dbNotifier.Channels() {
		channel := channel
		c.runtimeWG.Add(1)
		go func() {
			defer c.runtimeWG.Done()
			if e := c.dbNotifier.Listen(ctx, channel); e != nil {
				c.logger.ErrorContext(ctx, "error listening for notifications", "channel", channel, tint.Err(e))
			}
		}()
	}

	select {
	case c.signalReady <- struct{}{}:
	default:
	}
	logger.InfoContext(ctx, "ready", "startup_duration", time.Since(c.startedAt))

	// block until something cancels the runtime context, generally an
	// interrupt or the /api/quit endpoint
	<-ctx.Done()
	return c.shutdown(ctx, nil)
}

// initRun opens the database and loads the runtime config
func (c *CraftCord) initRun(ctx context.Context) error {
	c.logger.Debug("initializing DB...")
	if err := c.initDB(ctx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	cfg, err := c.reloadRuntimeConfig(ctx)
	if err != nil {
		return err
	}
	if validationErr := structValidator.Struct(cfg); validationErr != nil {
		return fmt.Errorf("invalid runtime config: %w", validationErr)
	}
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		c.logger.WarnContext(ctx, "admin credentials not set, run `craftcord init` to use the admin API")
	}
	return nil
}

// initDB connects to the database and migrates it, seeding the shop
func (c *CraftCord) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = c.logger
	}

	handler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     c.config.DatabaseLogLevel,
			AddSource: true,
		},
	)
	gormLogger := newGORMLogger(handler, c.config.DatabaseSlowThreshold)
	db, err := getDB(c.config.DatabaseType, c.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	c.db = db
	c.writeDB = NewDatabase(db, c.logger, c.config.DatabaseType == dbTypePostgres)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error getting database connection: %w", err)
	}
	if c.config.DatabaseType == dbTypeSQLite {
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return pragmaErr
		}
	}

	logger.Debug("migrating database...")
	err = db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			return tx.Migrator().AutoMigrate(dbModels...)
		},
	)
	if err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}
	if err = seedShop(ctx, db); err != nil {
		return fmt.Errorf("error seeding shop: %w", err)
	}
	logger.Debug("finished migrating database")
	return nil
}

// initDiscordSession creates the session (unless one was already set)
// and registers the event handlers. Message, join and interaction
// events run on the handler pool.
func (c *CraftCord) initDiscordSession(ctx context.Context) error {
	logger := c.logger.With(loggerNameKey, "discord_session")

	if c.discord.session == nil {
		disc, discErr := c.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		c.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range c.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	c.discord.discordgoRemoveHandlerFuncs = []func(){
		c.discord.session.AddHandler(c.discord.handlerConnect()),
		c.discord.session.AddHandler(c.discord.handlerDisconnect()),
		c.discord.session.AddHandler(c.discord.handlerReady()),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				c.submit(
					ctx, func(ctx context.Context) {
						c.handleMessage(ctx, m)
					},
				)
			},
		),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
				c.submit(
					ctx, func(ctx context.Context) {
						c.handleMemberJoin(ctx, m)
					},
				)
			},
		),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				c.submit(
					ctx, func(ctx context.Context) {
						c.handleInteraction(ctx, i)
					},
				)
			},
		),
	}
	return nil
}

// submit runs fn on the handler pool, tracked by runtimeWG. Events are
// dropped once the pool is closed.
func (c *CraftCord) submit(ctx context.Context, fn func(ctx context.Context)) {
	if ctx.Err() != nil {
		return
	}
	c.runtimeWG.Add(1)
	err := c.pool.Submit(
		func() {
			defer c.runtimeWG.Done()
			fn(ctx)
		},
	)
	if err != nil {
		c.runtimeWG.Done()
		c.logger.WarnContext(ctx, "dropped gateway event", tint.Err(err))
	}
}

// discordInit opens the gateway connection, if enabled
func (c *CraftCord) discordInit(ctx context.Context, runtimeCfg RuntimeConfig) error {
	if !runtimeCfg.DiscordGatewayEnabled {
		c.logger.WarnContext(ctx, "discord gateway disabled")
		return nil
	}
	c.logger.InfoContext(ctx, "connecting to discord")
	if err := c.discord.session.Open(); err != nil {
		c.logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	if status := discordStatus(runtimeCfg); status != "" {
		go func() {
			if statusErr := c.discord.session.UpdateCustomStatus(status); statusErr != nil {
				c.logger.Error("error updating discord status", tint.Err(statusErr))
			}
		}()
	}
	return nil
}

// setGatewayEnabled opens or closes the gateway connection after the
// runtime config changes
func (c *CraftCord) setGatewayEnabled(ctx context.Context, cfg RuntimeConfig) {
	if c.discord == nil || c.discord.session == nil {
		return
	}
	if !cfg.DiscordGatewayEnabled {
		c.logger.WarnContext(ctx, "closing discord gateway connection")
		if err := c.discord.session.Close(); err != nil {
			c.logger.ErrorContext(ctx, "error closing discord connection", tint.Err(err))
		}
		return
	}
	if err := c.discordInit(ctx, cfg); err != nil {
		c.logger.ErrorContext(ctx, "error opening discord connection", tint.Err(err))
	}
}

// startRuntimeConfigRefresher reloads the runtime config when signaled
// by the notifier, and at least every RuntimeConfigTTL
func (c *CraftCord) startRuntimeConfigRefresher(ctx context.Context) {
	if ttl := c.config.RuntimeConfigTTL; ttl > 0 {
		c.runtimeWG.Add(1)
		go func() {
			defer c.runtimeWG.Done()
			ticker := time.NewTicker(ttl)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case c.triggerRuntimeConfigRefreshCh <- false:
					case <-time.After(5 * time.Second):
						c.logger.Warn("timed out sending config refresh signal")
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	c.runtimeWG.Add(1)
	go func() {
		defer c.runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.triggerRuntimeConfigRefreshCh:
				refreshCtx, refreshCancel := context.WithTimeout(ctx, runtimeConfigRefreshTimeout)
				if _, err := c.reloadRuntimeConfig(refreshCtx); err != nil {
					c.logger.ErrorContext(ctx, "error refreshing runtime config", tint.Err(err))
				}
				refreshCancel()
			}
		}
	}()
}

// startGuildUpdatedListener applies guild settings changes announced
// by the notifier
func (c *CraftCord) startGuildUpdatedListener(ctx context.Context) {
	c.runtimeWG.Add(1)
	go func() {
		defer c.runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case guildID := <-c.triggerGuildUpdatedCh:
				c.onGuildUpdated(ctx, guildID)
			}
		}
	}()
}

// shutdown stops the tasks, waits on in-flight handlers, then closes
// the HTTP server and the gateway. Anything still running at the
// shutdown deadline is abandoned.
func (c *CraftCord) shutdown(ctx context.Context, cause error) error {
	c.logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(c.config.ShutdownTimeout)

	closeCtx, closeCancel := context.WithDeadline(context.Background(), shutdownDeadline)
	defer closeCancel()

	announcementTicker := time.NewTicker(shutdownAnnouncementInterval)
	defer announcementTicker.Stop()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		if err := c.tasks.StopAll(closeCtx); err != nil {
			c.logger.WarnContext(ctx, "error stopping tasks", tint.Err(err))
		}
		if c.discord.session != nil {
			c.logger.InfoContext(ctx, "closing discord session")
			_ = c.discord.session.Close()
			for _, h := range c.discord.discordgoRemoveHandlerFuncs {
				h()
			}
			c.discord.discordgoRemoveHandlerFuncs = nil
		}
		c.runtimeWG.Wait()
		if c.pool != nil {
			if err := c.pool.ReleaseTimeout(time.Until(shutdownDeadline)); err != nil {
				c.logger.WarnContext(ctx, "error releasing handler pool", tint.Err(err))
			}
		}
		if c.api != nil && c.api.httpServer != nil {
			c.logger.InfoContext(ctx, "stopping http server")
			_ = c.api.httpServer.Shutdown(closeCtx)
		}
		gracefulShutdownCh <- struct{}{}
	}()

	for {
		select {
		case <-gracefulShutdownCh:
			shutdownEnded := time.Now()
			c.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_duration", shutdownEnded.Sub(shutdownStart),
			)
			return cause
		case <-announcementTicker.C:
			c.logger.Warn(fmt.Sprintf("time until hard shutdown: %s", time.Until(shutdownDeadline)))
		case <-closeCtx.Done():
			c.logger.Warn("handlers did not stop in time, forcing close")
			if c.api != nil && c.api.httpServer != nil {
				_ = c.api.httpServer.Close()
			}
			return errors.Join(cause, errors.New("shutdown timed out"))
		}
	}
}

// handleRecover logs a recovered panic with its stack trace
func (c *CraftCord) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = c.logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(errors.New(v)), "stack_trace", stackTrace)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}
