// Package app wires the HTTP surface of the gateway
package app

import (
	"bitwise74/captcha-gateway/app/access"
	"bitwise74/captcha-gateway/app/apikey"
	"bitwise74/captcha-gateway/app/root"
	"bitwise74/captcha-gateway/app/setup"
	"bitwise74/captcha-gateway/app/task"
	"bitwise74/captcha-gateway/aws"
	"bitwise74/captcha-gateway/db"
	"bitwise74/captcha-gateway/internal"
	"bitwise74/captcha-gateway/internal/model"
	"bitwise74/captcha-gateway/internal/service"
	"bitwise74/captcha-gateway/internal/solver"
	"bitwise74/captcha-gateway/pkg/middleware"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	gray  = "\x1b[90m"
	reset = "\x1b[0m"
)

const (
	maxBindBodySize = 16 << 10
	maxTaskBodySize = 1 << 20
)

// Options are the router settings that don't live in Deps
type Options struct {
	Origins   []string
	RateLimit int
	JWTSecret string
	Turnstile middleware.TurnstileConfig
	Cache     persist.CacheStore // Defaults to an in-memory store
}

// NewRouter builds everything from the loaded configuration
func NewRouter() (*gin.Engine, error) {
	if err := makeLogger(viper.GetString("app.log_level")); err != nil {
		return nil, err
	}

	conn, err := db.New(viper.GetString("db.dsn"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database, %w", err)
	}

	var archiver service.Archiver
	if viper.GetBool("archive.enabled") {
		s3, err := aws.NewS3(context.Background(), aws.Config{
			Bucket:          viper.GetString("archive.bucket"),
			Region:          viper.GetString("archive.region"),
			Endpoint:        viper.GetString("archive.endpoint"),
			R2AccountID:     viper.GetString("archive.r2_account_id"),
			AccessKeyID:     viper.GetString("archive.access_key_id"),
			SecretAccessKey: viper.GetString("archive.secret_access_key"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 client, %w", err)
		}

		archiver = service.NewTaskArchiver(s3)
	}

	defaults := model.Settings{
		AppVersion:       viper.GetString("settings.app_version"),
		FreeTrialAllowed: viper.GetBool("settings.free_trial"),
		UpstreamKey:      viper.GetString("upstream.api_key"),
	}

	client := solver.NewClient(viper.GetString("upstream.base_url"), viper.GetDuration("upstream.timeout"))

	d := internal.NewDeps(conn, defaults, client, archiver)
	d.Admin = internal.AdminSeed{
		Name:  viper.GetString("setup.admin_name"),
		Email: viper.GetString("setup.admin_email"),
	}

	if spec := viper.GetString("jobs.key_expiry_schedule"); spec != "" {
		if _, err := service.StartKeyExpiry(spec, d.Keys); err != nil {
			return nil, err
		}
	}

	var store persist.CacheStore = persist.NewMemoryStore(time.Minute)
	if u := viper.GetString("cache.redis_url"); u != "" {
		opts, err := redis.ParseURL(u)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url, %w", err)
		}

		rdb := redis.NewClient(opts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis, %w", err)
		}

		store = persist.NewRedisStore(rdb)
	}

	return Routes(d, Options{
		Origins:   strings.Split(viper.GetString("host.cors"), ","),
		RateLimit: viper.GetInt("security.rate_limit"),
		JWTSecret: viper.GetString("security.jwt_secret"),
		Turnstile: middleware.TurnstileConfig{
			Enabled: viper.GetBool("cloudflare.turnstile.enabled"),
			Secret:  viper.GetString("cloudflare.turnstile.secret_token"),
		},
		Cache: store,
	}), nil
}

// Routes registers every endpoint on a new engine
func Routes(d *internal.Deps, o Options) *gin.Engine {
	if o.Cache == nil {
		o.Cache = persist.NewMemoryStore(time.Minute)
	}

	router := gin.New()

	router.Use(
		cors.New(corsConfig(o.Origins)),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		middleware.NewMetricsMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				if v := c.GetString("visitorID"); v != "" {
					fields = append(fields, zap.String("visitor_id", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true

	jwt := middleware.NewJWTMiddleware(o.JWTSecret)
	turnstile := middleware.NewTurnstileMiddleware(o.Turnstile)
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: o.RateLimit,
		Burst:             o.RateLimit * 2,
	}).Middleware()

	cacheFor := func(sec int) gin.HandlerFunc {
		return cache.CacheByRequestURI(o.Cache, time.Second*time.Duration(sec))
	}

	// GET /metrics		-> Prometheus metrics
	router.GET("/metrics", jwt, gin.WrapH(promhttp.Handler()))

	m := router.Group("/api", rateLimiter)
	{
		// HEAD /api/heartbeat 		-> Used to check if the server is alive
		m.HEAD("/heartbeat", root.Heartbeat)

		// GET /api/access		-> Runs the access checks and returns the solver balance
		m.GET("/access", func(c *gin.Context) { access.AccessCheck(c, d) })

		// GET /api/init/setup		-> Creates the settings row and bootstrap admin
		m.GET("/init/setup", jwt, func(c *gin.Context) { setup.Setup(c, d) })
	}

	k := m.Group("/api_key")
	{
		// POST /api/api_key		-> Binds a key to a visitor
		k.POST("", turnstile, middleware.BodySizeLimiter(maxBindBodySize), func(c *gin.Context) { apikey.APIKeyBind(c, d) })

		// GET /api/api_key		-> Returns the first key in the pool
		k.GET("", jwt, cacheFor(15), func(c *gin.Context) { apikey.APIKeyFetch(c, d) })
	}

	t := m.Group("/createTask")
	{
		// POST /api/createTask		-> Forwards a task to the solver
		t.POST("", middleware.BodySizeLimiter(maxTaskBodySize), func(c *gin.Context) { task.TaskCreate(c, d) })

		// GET /api/createTask/tasks	-> Lists stored tasks
		t.GET("/tasks", jwt, cacheFor(5), func(c *gin.Context) { task.TaskList(c, d) })
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "TurnstileToken"},
		ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}

	cleaned := []string{}
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			cleaned = append(cleaned, o)
		}
	}

	if len(cleaned) == 0 || slices.Contains(cleaned, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}

	cfg.AllowOrigins = cleaned
	cfg.AllowCredentials = true
	return cfg
}

func makeLogger(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level, %w", err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + t.Format("15:04:05.000") + reset)
	}
	cfg.EncoderConfig.EncodeCaller = func(ec zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + ec.TrimmedPath() + reset)
	}

	cfg.DisableStacktrace = true

	log, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger, %w", err)
	}

	zap.ReplaceGlobals(log)
	return nil
}
