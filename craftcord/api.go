package craftcord

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	pprofPrefix          = "/debug"
	apiPrefix            = "/api"
	apiPathRoot          = "/"
	apiHealthCheck       = "/healthz"
	apiPathMetrics       = "/metrics"
	apiPathMedia         = "/media/:id"
	apiPathLogin         = "/login"
	apiPathLogout        = "/logout"
	apiPathLoggedIn      = "/logged_in"
	apiPathConfig        = "/config"
	apiPathGuild         = "/guilds/:id"
	apiPathGuildSpawn    = "/guilds/:id/spawn"
	apiPathPlayer        = "/players/:id"
	apiPathTasks         = "/tasks"
	apiPathLinkConfirm   = "/links/confirm"
	apiPathQuit          = "/quit"
	mediaCacheControl    = "public, max-age=86400, immutable"
	loginRateLimitPerSec = 1
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
	ginAPILoggerKey  = "api_logger"
)

var (
	structValidator = validator.New()
)

type httpError struct {
	Error string `json:"error"`
}

type httpReply struct {
	Message string `json:"message"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loggedInResponse struct {
	Username string `json:"username"`
}

type healthCheckResponse struct {
	Paused                  bool   `json:"paused"`
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	Tasks                   int    `json:"tasks"`
	ActiveSpawns            int64  `json:"active_spawns"`
	Uptime                  string `json:"uptime"`
}

type taskResponse struct {
	Key     string `json:"key"`
	GuildID string `json:"guild_id,omitempty"`
	Duty    Duty   `json:"duty"`
}

type playerResponse struct {
	Player    *Player       `json:"player"`
	Level     int           `json:"level"`
	Inventory []LedgerEntry `json:"inventory"`
	Tools     []ToolRecord  `json:"tools"`
	Pen       []PenEntry    `json:"pen"`
}

// API serves the keep-alive endpoint, generated media, metrics and
// the authenticated admin routes.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	logger              *slog.Logger

	handlers *APIHandlers
}

// newAPI builds the gin engine and HTTP server. TLS is only configured
// when a certificate is set.
func newAPI(c *CraftCord, config *APIConfig) (*API, error) {
	if config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		loginRequestLimiter: rate.NewLimiter(rate.Limit(loginRateLimitPerSec), 1),
		logger:              c.logger.With(loggerNameKey, "api"),
	}
	apiHandlers := NewAPIHandlers(c)
	api.handlers = apiHandlers
	api.store = apiHandlers.store
	_ = r.Use(sessions.Sessions(sessionVarName, apiHandlers.store))

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	if config.SSL.Cert != "" {
		tlsCfg, e := tlsConfig(
			config.SSL.Cert,
			config.SSL.Key,
			config.SSL.TLSMinVersion,
		)
		if e != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", e)
		}
		httpServer.TLSConfig = tlsCfg
	}
	api.httpServer = httpServer

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = config.Development
		corsConfig.AllowCredentials = corsConfig.AllowCredentials && !config.Development
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		metricMiddleware(c.metrics),
	)
	if len(corsConfig.AllowOrigins) > 0 || corsConfig.AllowAllOrigins {
		r.Use(cors.New(corsConfig))
	}

	r.GET(apiPathRoot, apiHandlers.ping)
	r.HEAD(apiPathRoot, apiHandlers.ping)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.GET(apiPathMedia, apiHandlers.getMedia)
	r.GET(
		apiPathMetrics,
		gin.WrapH(
			promhttp.HandlerFor(
				c.metrics.registry,
				promhttp.HandlerOpts{EnableOpenMetrics: true},
			),
		),
	)
	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
		runtime.SetMutexProfileFraction(1)
		runtime.SetBlockProfileRate(1)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(api))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathConfig, apiHandlers.getConfig)
	protected.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	protected.GET(apiPathGuild, apiHandlers.getGuild)
	protected.PATCH(apiPathGuild, apiHandlers.updateGuild)
	protected.POST(apiPathGuildSpawn, apiHandlers.forceSpawn)
	protected.GET(apiPathPlayer, apiHandlers.getPlayer)
	protected.GET(apiPathTasks, apiHandlers.getTasks)
	protected.POST(apiPathLinkConfirm, apiHandlers.confirmLink)
	protected.POST(apiPathQuit, apiHandlers.botQuit)

	return api, nil
}

// Serve listens on the configured address (unless a listener was
// already set) and serves until the server is shut down
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "addr", a.listener.Addr().String())
	if a.httpServer.TLSConfig != nil {
		return a.httpServer.ServeTLS(a.listener, "", "")
	}
	return a.httpServer.Serve(a.listener)
}

func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	session, err := a.store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	username, ok := session.Values[sessionVarField]
	if !ok {
		return "", errors.New("username not found in session")
	}
	s, ok := username.(string)
	if !ok || s == "" {
		return "", errors.New("username not set")
	}
	return s, nil
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers contains the handlers for the API endpoints
type APIHandlers struct {
	c      *CraftCord
	logger *slog.Logger
	store  CookieStore
}

// NewAPIHandlers sets up the session store. Without a configured
// secret, a random one is generated and sessions won't survive a
// restart.
func NewAPIHandlers(c *CraftCord) *APIHandlers {
	logger := c.logger.With(loggerNameKey, "api")

	var secretKey []byte
	switch sk := c.config.API.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	store.Options(sessionOptions(c.config.API))
	return &APIHandlers{c: c, logger: logger, store: store}
}

func sessionOptions(config *APIConfig) sessions.Options {
	sameSite := http.SameSiteStrictMode
	if config.Development {
		sameSite = http.SameSiteNoneMode
	}
	return sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   config.SSL.Cert != "" || config.Development,
		MaxAge:   int(config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
	}
}

// ping answers uptime monitors
func (h *APIHandlers) ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	connected := false
	if h.c.discord != nil {
		connected = h.c.discord.connected.Load()
	}
	var spawns int64
	if err := h.c.db.WithContext(c.Request.Context()).Model(&Spawn{}).Count(&spawns).Error; err != nil {
		ginContextLogger(c).Error("error counting spawns", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.c.RuntimeConfig().Paused,
			DiscordGatewayConnected: connected,
			Tasks:                   len(h.c.tasks.Keys()),
			ActiveSpawns:            spawns,
			Uptime:                  time.Since(h.c.startedAt).Round(time.Second).String(),
		},
	)
}

// getMedia serves a stored reveal image. The ".png" suffix is optional.
func (h *APIHandlers) getMedia(c *gin.Context) {
	id := strings.TrimSuffix(c.Param("id"), ".png")
	blob, err := h.c.loadMedia(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, httpError{Error: "not found"})
			return
		}
		ginContextLogger(c).Error("error loading media", "media_id", id, tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	c.Header("Cache-Control", mediaCacheControl)
	c.Data(http.StatusOK, blob.MimeType, blob.Data)
}

func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	if !h.c.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, httpError{Error: "too many requests"})
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	runtimeConfig := h.c.RuntimeConfig()
	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	if login.Username != runtimeConfig.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	valid, err := VerifyPassword(runtimeConfig.AdminPassword, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	session, err := h.store.New(c.Request, sessionVarName)
	if err != nil || session == nil {
		logger.Error("error creating session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	opts := sessionOptions(h.c.config.API).ToGorillaOptions()
	session.Options = opts
	session.Values[sessionVarField] = login.Username
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error getting session", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	session.Values[sessionVarField] = ""
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.c.api.getSessionUsername(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.c.RuntimeConfig())
}

func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	logger := ginContextLogger(c)
	var update RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		logger.Warn("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	ctx := WithLogger(c.Request.Context(), logger)
	cfg, err := h.c.updateRuntimeConfig(ctx, update)
	if err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, httpError{Error: verr.Error()})
			return
		}
		logger.Error("error updating config", tint.Err(err))
		ginReplyError(c, "error updating config")
		return
	}
	c.JSON(http.StatusAccepted, cfg)
}

func (h *APIHandlers) getGuild(c *gin.Context) {
	settings, err := h.c.guildSettings(c.Request.Context(), c.Param("id"))
	if err != nil {
		ginContextLogger(c).Error("error loading guild", tint.Err(err))
		ginReplyError(c, "error loading guild")
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *APIHandlers) updateGuild(c *gin.Context) {
	logger := ginContextLogger(c)
	var update GuildSettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		logger.Warn("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	ctx := WithLogger(c.Request.Context(), logger)
	settings, err := h.c.updateGuildSettings(
		ctx, c.Param("id"), func(s *GuildSettings) error {
			update.apply(s)
			return nil
		},
	)
	if err != nil {
		if errorKind(err) == KindUserInput {
			c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
			return
		}
		logger.Error("error updating guild", tint.Err(err))
		ginReplyError(c, "error updating guild")
		return
	}
	c.JSON(http.StatusAccepted, settings)
}

// forceSpawn spawns a creature in one of the guild's spawn channels, or
// in ?channel_id= if given
func (h *APIHandlers) forceSpawn(c *gin.Context) {
	logger := ginContextLogger(c)
	ctx := WithLogger(c.Request.Context(), logger)
	s, err := h.c.spawnInGuild(ctx, c.Param("id"), c.Query("channel_id"))
	if err != nil {
		if errors.Is(err, errNoSpawnChannels) {
			c.JSON(http.StatusConflict, httpError{Error: err.Error()})
			return
		}
		logger.Error("error spawning", tint.Err(err))
		ginReplyError(c, "error spawning")
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *APIHandlers) getPlayer(c *gin.Context) {
	logger := ginContextLogger(c)
	playerID := c.Param("id")
	db := h.c.db.WithContext(c.Request.Context())
	p, err := getPlayer(db, playerID)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			c.JSON(http.StatusNotFound, httpError{Error: "player not found"})
			return
		}
		logger.Error("error loading player", tint.Err(err))
		ginReplyError(c, "error loading player")
		return
	}
	resp := playerResponse{Player: p, Level: p.Level()}
	if resp.Inventory, err = inventory(db, playerID); err == nil {
		if resp.Tools, err = ownedTools(db, playerID); err == nil {
			resp.Pen, err = penContents(db, playerID)
		}
	}
	if err != nil {
		logger.Error("error loading player details", tint.Err(err))
		ginReplyError(c, "error loading player")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// linkConfirmation completes a YouTube link, for the livestream chat
// relay that sees the code
type linkConfirmation struct {
	Code      string `json:"code" binding:"required,len=8,alphanum"`
	ChannelID string `json:"channel_id" binding:"required,max=64"`
}

func (h *APIHandlers) confirmLink(c *gin.Context) {
	logger := ginContextLogger(c)
	var req linkConfirmation
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	var p *Player
	err := h.c.writeDB.Transaction(
		c.Request.Context(), func(tx *gorm.DB) error {
			var err error
			p, err = confirmLink(tx, req.Code, req.ChannelID, time.Now())
			return err
		},
	)
	if err != nil {
		if errors.Is(err, ErrLinkCodeNotFound) {
			c.JSON(http.StatusNotFound, httpError{Error: err.Error()})
			return
		}
		logger.Error("error confirming link", tint.Err(err))
		ginReplyError(c, "error confirming link")
		return
	}
	logger.Info("confirmed youtube link", "player_id", p.ID, "youtube_channel_id", p.YouTubeChannelID)
	c.JSON(http.StatusOK, p)
}

func (h *APIHandlers) getTasks(c *gin.Context) {
	keys := h.c.tasks.Keys()
	tasks := make([]taskResponse, len(keys))
	for i, k := range keys {
		tasks[i] = taskResponse{Key: k.String(), GuildID: k.GuildID, Duty: k.Duty}
	}
	c.JSON(http.StatusOK, tasks)
}

// botQuit sends the stop signal to every instance
func (h *APIHandlers) botQuit(c *gin.Context) {
	log := ginContextLogger(c)
	log.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doneCh := make(chan bool, 1)
	go func() {
		doneCh <- h.c.dbNotifier.Stop(ctx)
	}()
	select {
	case sent := <-doneCh:
		if !sent {
			ginReplyError(c, "error sending stop signal")
			return
		}
		ginReplyMessage(c, "quitting")
	case <-ctx.Done():
		log.Warn("timeout sending stop signal")
		c.JSON(http.StatusGatewayTimeout, httpError{Error: "timeout sending stop signal"})
	}
}

// authMiddleware rejects requests without a logged-in session
func authMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		username, err := a.getSessionUsername(c)
		if err != nil {
			logger.Warn("unauthenticated request", tint.Err(err))
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}
		c.Set(sessionVarField, username)
		c.Next()
	}
}

// requestIDMiddleware assigns each request an ID, echoed back in the
// X-Request-ID header. A UUID sent by the client is kept.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(xRequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request-scoped logger from the gin
// context, creating it with request details on first use
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := v.(*slog.Logger); ok {
			return requestLogger
		}
	}
	base := slog.Default()
	if v, ok := c.Get(ginAPILoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			base = l
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it finishes
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(ginAPILoggerKey, logger)
		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL.Path),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL.Path),
			"duration", latency,
			response,
		)
	}
}

// metricMiddleware counts requests by method, matched route and status.
// Unmatched paths are counted under a single label.
func metricMiddleware(m *gameMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}

// ginReplyMessage sends {"message": message} with HTTP 200
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError aborts with {"error": err} and HTTP 500
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
	structValidator.RegisterStructValidation(validateGameConfig, GameConfig{})
}
