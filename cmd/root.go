package cmd

import (
	"context"
	"fmt"
	"github.com/arcward/craftcord/craftcord"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = craftcord.DefaultConfig()
	configFile string
)

// logLevelKeys are the settings decoded into *slog.LevelVar
var logLevelKeys = []string{
	"log_level",
	"database_log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"api.log_level",
}

// stringSliceKeys are space-separated when read from the environment
var stringSliceKeys = []string{
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.allow_headers",
	"api.cors.expose_headers",
}

var rootCmd = &cobra.Command{
	Use:   "craftcord [flags]",
	Short: "A Discord bot for gathering, crafting and catching creatures",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes level names ("INFO", "warn") into
// *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setGameDefaults(g *craftcord.GameConfig) {
	viper.SetDefault("game.spawn_interval_min", g.SpawnIntervalMin)
	viper.SetDefault("game.spawn_interval_max", g.SpawnIntervalMax)
	viper.SetDefault("game.reveal_frames", g.RevealFrames)
	viper.SetDefault("game.reveal_interval", g.RevealInterval)
	viper.SetDefault("game.golden_odds", g.GoldenOdds)
	viper.SetDefault("game.chat_xp_amount", g.ChatXPAmount)
	viper.SetDefault("game.chat_xp_window", g.ChatXPWindow)
	viper.SetDefault("game.chat_xp_per_window", g.ChatXPPerWindow)
	viper.SetDefault("game.gather_cooldown", g.GatherCooldown)
	viper.SetDefault("game.breed_cooldown", g.BreedCooldown)
	viper.SetDefault("game.stronghold_cooldown", g.StrongholdCooldown)
	viper.SetDefault("game.progress_frame_interval", g.ProgressFrameInterval)
	viper.SetDefault("game.decay_schedule", g.DecaySchedule)
	viper.SetDefault("game.fish_food_interval", g.FishFoodInterval)
	viper.SetDefault("game.media_max_age", g.MediaMaxAge)
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		log.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("unable to load %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", craftcord.DefaultDatabase)
	viper.SetDefault("database_type", craftcord.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		craftcord.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		craftcord.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("runtime_config_ttl", craftcord.DefaultRuntimeConfigTTL)
	viper.SetDefault("guild_settings_ttl", craftcord.DefaultGuildSettingsTTL)
	viper.SetDefault("handler_pool_size", craftcord.DefaultHandlerPoolSize)

	viper.SetDefault("log_level", craftcord.DefaultLogLevel.String())

	viper.SetDefault("startup_timeout", craftcord.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", craftcord.DefaultShutdownTimeout)

	setGameDefaults(craftcord.DefaultGameConfig())

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault(
		"discord.log_level",
		craftcord.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		craftcord.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		int(craftcord.DefaultDiscordGatewayIntent),
	)
	viper.SetDefault("discord.startup_message", craftcord.DefaultDiscordStartupMessage)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// API config
	viper.SetDefault("api.listen", craftcord.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.log_level", craftcord.DefaultAPILogLevel.String())
	viper.SetDefault(
		"api.session_max_age",
		craftcord.DefaultAPISessionMaxAge,
	)
	viper.SetDefault("api.read_timeout", craftcord.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		craftcord.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", craftcord.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", craftcord.DefaultIdleTimeout)
	viper.SetDefault("api.ssl.tls_min_version", craftcord.DefaultUITLSMinVersion)

	// API: SSL config
	fatalErr(viper.BindEnv("api.external_url"))
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		craftcord.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		craftcord.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		craftcord.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", craftcord.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		craftcord.DefaultAPICORSAllowCredentials,
	)

	viper.SetEnvPrefix(envPrefix())

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	for _, key := range stringSliceKeys {
		viper.Set(key, viper.GetStringSlice(key))
	}

	for _, key := range logLevelKeys {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

// envPrefix is the prefix for environment variables, CC unless
// overridden by CRAFTCORD_ENV_PREFIX
func envPrefix() string {
	if prefix := os.Getenv(craftcord.EnvvarSetEnvPrefix); prefix != "" {
		return prefix
	}
	return craftcord.DefaultEnvPrefix
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
