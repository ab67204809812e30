//nolint:lll // struct tags can't be split
package craftcord

import (
	"crypto/tls"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix     = "CRAFTCORD_ENV_PREFIX"
	DefaultEnvPrefix       = "CC"
	DefaultDatabaseType    = "sqlite"
	DefaultDatabase        = "craftcord.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentMessageContent |
		discordgo.IntentGuildMembers
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordErrorMessage   = "sorry, something went wrong!"
	DefaultDiscordCustomStatus   = "!help to start crafting"
	DefaultDiscordStartupMessage = "I'm here!"
	discordMaxMessageLength      = 2000
	discordMaxEmbedDescription   = 4096

	DefaultAPIListen        = "127.0.0.1:8080"
	DefaultUITLSMinVersion  = tls.VersionTLS12
	DefaultAPISessionMaxAge = 6 * time.Hour

	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelInfo
	DefaultDiscordgoLogLevel       = slog.LevelWarn
	DefaultAPILogLevel             = slog.LevelInfo
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = true

	DefaultRuntimeConfigTTL = 5 * time.Minute
	DefaultGuildSettingsTTL = 10 * time.Minute
	DefaultHandlerPoolSize  = 256
	DefaultCommandPrefix    = "!"

	DefaultSpawnIntervalMin      = 10 * time.Minute
	DefaultSpawnIntervalMax      = 30 * time.Minute
	DefaultRevealFrames          = 4
	DefaultRevealInterval        = 5 * time.Second
	DefaultGoldenOdds            = 21
	DefaultChatXPAmount          = 1
	DefaultChatXPWindow          = 60 * time.Second
	DefaultChatXPPerWindow       = 1
	DefaultGatherCooldown        = 60 * time.Second
	DefaultBreedCooldown         = 30 * time.Second
	DefaultStrongholdCooldown    = 5 * time.Minute
	DefaultProgressFrameInterval = 500 * time.Millisecond
	DefaultDecaySchedule         = "0 0 * * 0"
	DefaultFishFoodInterval      = 30 * time.Minute
	DefaultMediaMaxAge           = 24 * time.Hour
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPatch,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		"X-CSRF-Token",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		xRequestIDHeader,
		"Location",
		"ETag",
		"Last-Modified",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Game holds the gameplay tuning knobs (spawn cadence, cooldowns, XP)
	Game *GameConfig `yaml:"game" mapstructure:"game" json:"game"`

	// API configures the keep-alive/admin HTTP server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// connect and load its state. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// RuntimeConfigTTL sets the time-to-live for the RuntimeConfig cache.
	// When running multiple instances, the config may become stale if updated
	// from another instance. If this TTL is above 0, the config will be
	// refreshed from the database at least every TTL duration. With
	// PostgreSQL, LISTEN/NOTIFY is used to announce updates in addition to this.
	RuntimeConfigTTL time.Duration `yaml:"runtime_config_ttl" mapstructure:"runtime_config_ttl" json:"runtime_config_ttl"`

	// GuildSettingsTTL is how long a cached [GuildSettings] row is trusted
	// before being re-read. 0 disables caching.
	GuildSettingsTTL time.Duration `yaml:"guild_settings_ttl" mapstructure:"guild_settings_ttl" json:"guild_settings_ttl"`

	// HandlerPoolSize caps the number of gateway events handled concurrently
	HandlerPoolSize int `yaml:"handler_pool_size" mapstructure:"handler_pool_size" json:"handler_pool_size" binding:"min=1"`

	HTTPClient *http.Client `yaml:"-" json:"-" log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// GameConfig tunes gameplay pacing.
type GameConfig struct {
	// Bounds of the randomized sleep between spawns in a guild
	SpawnIntervalMin time.Duration `yaml:"spawn_interval_min" mapstructure:"spawn_interval_min" json:"spawn_interval_min"`
	SpawnIntervalMax time.Duration `yaml:"spawn_interval_max" mapstructure:"spawn_interval_max" json:"spawn_interval_max"`

	// Number of progressively less obscured images posted per spawn
	RevealFrames int `yaml:"reveal_frames" mapstructure:"reveal_frames" json:"reveal_frames"`

	// Delay between reveal frames
	RevealInterval time.Duration `yaml:"reveal_interval" mapstructure:"reveal_interval" json:"reveal_interval"`

	// A spawned or bred creature is golden with probability 1/GoldenOdds
	GoldenOdds int `yaml:"golden_odds" mapstructure:"golden_odds" json:"golden_odds"`

	ChatXPAmount    int           `yaml:"chat_xp_amount" mapstructure:"chat_xp_amount" json:"chat_xp_amount"`
	ChatXPWindow    time.Duration `yaml:"chat_xp_window" mapstructure:"chat_xp_window" json:"chat_xp_window"`
	ChatXPPerWindow int           `yaml:"chat_xp_per_window" mapstructure:"chat_xp_per_window" json:"chat_xp_per_window"`

	GatherCooldown     time.Duration `yaml:"gather_cooldown" mapstructure:"gather_cooldown" json:"gather_cooldown"`
	BreedCooldown      time.Duration `yaml:"breed_cooldown" mapstructure:"breed_cooldown" json:"breed_cooldown"`
	StrongholdCooldown time.Duration `yaml:"stronghold_cooldown" mapstructure:"stronghold_cooldown" json:"stronghold_cooldown"`

	// Delay between progress-bar edits on gathering commands. 0 skips the animation.
	ProgressFrameInterval time.Duration `yaml:"progress_frame_interval" mapstructure:"progress_frame_interval" json:"progress_frame_interval"`

	// Cron expression for the weekly level decay
	DecaySchedule string `yaml:"decay_schedule" mapstructure:"decay_schedule" json:"decay_schedule"`

	FishFoodInterval time.Duration `yaml:"fish_food_interval" mapstructure:"fish_food_interval" json:"fish_food_interval"`

	// Generated media older than this is purged by housekeeping
	MediaMaxAge time.Duration `yaml:"media_max_age" mapstructure:"media_max_age" json:"media_max_age"`
}

// gameConfigProblem describes the first inconsistency in g, if any
func gameConfigProblem(g GameConfig) string {
	switch {
	case g.SpawnIntervalMin <= 0:
		return "spawn_interval_min must be > 0"
	case g.SpawnIntervalMax < g.SpawnIntervalMin:
		return "spawn_interval_max must be >= spawn_interval_min"
	case g.RevealFrames < 1:
		return "reveal_frames must be >= 1"
	case g.GoldenOdds < 1:
		return "golden_odds must be >= 1"
	case g.ChatXPPerWindow < 1 || g.ChatXPWindow <= 0:
		return "chat_xp_per_window and chat_xp_window must be > 0"
	case g.GatherCooldown < 0 || g.BreedCooldown < 0 || g.StrongholdCooldown < 0:
		return "cooldowns must be >= 0"
	case g.FishFoodInterval <= 0:
		return "fish_food_interval must be > 0"
	}
	if _, err := cron.ParseStandard(g.DecaySchedule); err != nil {
		return "decay_schedule: " + err.Error()
	}
	return ""
}

func validateGameConfig(sl validator.StructLevel) {
	g, ok := sl.Current().Interface().(GameConfig)
	if !ok {
		return
	}
	if problem := gameConfigProblem(g); problem != "" {
		sl.ReportError(g, "Game", "Game", "game_config", problem)
	}
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If specified, _and_ [RuntimeConfig.DiscordGatewayEnabled] is true,
	// _and_ [RuntimeConfig.DiscordNotificationChannelID] is set, the bot will
	// send the specified message to that channel ID whenever it connects to the
	// discord gateway.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Discord gateway intents. Message content and guild members are
	// privileged, and must be enabled in the dev portal.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// APIConfig configures the HTTP server
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:8080").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required,oneof=tcp tcp4 tcp6 unix"`

	// ExternalURL is the base URL Discord clients use to fetch generated
	// media, e.g. "https://bot.example.com". Defaults to http://<listen>.
	ExternalURL string `yaml:"external_url" mapstructure:"external_url" json:"external_url" binding:"omitempty,url"`

	// Secret used for signing cookies
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`

	// Max age for session cookies
	SessionMaxAge time.Duration `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age" binding:"min=10m,max=24h"`

	// If true, the SameSite attribute of the session cookie will be set to
	// 'None', and pprof endpoints are mounted under /debug
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key" binding:"required_with=Cert"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string(nil), DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string(nil), DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string(nil), DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultGameConfig returns the gameplay defaults
func DefaultGameConfig() *GameConfig {
	return &GameConfig{
		SpawnIntervalMin:      DefaultSpawnIntervalMin,
		SpawnIntervalMax:      DefaultSpawnIntervalMax,
		RevealFrames:          DefaultRevealFrames,
		RevealInterval:        DefaultRevealInterval,
		GoldenOdds:            DefaultGoldenOdds,
		ChatXPAmount:          DefaultChatXPAmount,
		ChatXPWindow:          DefaultChatXPWindow,
		ChatXPPerWindow:       DefaultChatXPPerWindow,
		GatherCooldown:        DefaultGatherCooldown,
		BreedCooldown:         DefaultBreedCooldown,
		StrongholdCooldown:    DefaultStrongholdCooldown,
		ProgressFrameInterval: DefaultProgressFrameInterval,
		DecaySchedule:         DefaultDecaySchedule,
		FishFoodInterval:      DefaultFishFoodInterval,
		MediaMaxAge:           DefaultMediaMaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		RuntimeConfigTTL:      DefaultRuntimeConfigTTL,
		GuildSettingsTTL:      DefaultGuildSettingsTTL,
		HandlerPoolSize:       DefaultHandlerPoolSize,
		Game:                  DefaultGameConfig(),
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultUITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			SessionMaxAge:     DefaultAPISessionMaxAge,
			CORS:              DefaultCORSConfig(),
		},
	}
}

// mediaBaseURL is the URL prefix under which /media/:id is reachable
func (c *APIConfig) mediaBaseURL() string {
	if c.ExternalURL != "" {
		return trimTrailingSlash(c.ExternalURL)
	}
	scheme := "http"
	if c.SSL.Cert != "" {
		scheme = "https"
	}
	return scheme + "://" + c.Listen
}
