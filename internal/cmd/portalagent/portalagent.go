// Package portalagent parses portal agent flags and wires the session
// runtime: storage layers, backend client, revalidation engine, and the
// invite redemption flow.
package portalagent

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/platform/config"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/platform/id"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/platform/otel"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/api"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/invite"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/revalidate"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/sessioncache"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/sessiontoken"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/storage"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/storage/redisstore"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/storage/sqlite"
)

// Config holds portal agent configuration.
type Config struct {
	BackendURL    string        `env:"REGISTRY_TAYLOR_BACKEND_URL" envDefault:"http://localhost:8080"`
	RedisAddr     string        `env:"REGISTRY_TAYLOR_REDIS_ADDR"`
	RedisPassword string        `env:"REGISTRY_TAYLOR_REDIS_PASSWORD"`
	RedisTTL      time.Duration `env:"REGISTRY_TAYLOR_REDIS_TTL" envDefault:"24h"`
	DBPath        string        `env:"REGISTRY_TAYLOR_DB_PATH" envDefault:"data/portal.db"`
	CacheMaxAge   time.Duration `env:"REGISTRY_TAYLOR_CACHE_MAX_AGE" envDefault:"30m"`
	Locale        string        `env:"REGISTRY_TAYLOR_LOCALE" envDefault:"en-US"`
	VerifyTokens  bool          `env:"REGISTRY_TAYLOR_VERIFY_SESSION_TOKENS" envDefault:"false"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.BackendURL, "backend-url", cfg.BackendURL, "The portal backend base URL")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the shared session store (optional)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The durable session store SQLite path")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", cfg.RedisTTL, "TTL for Redis session entries")
	fs.DurationVar(&cfg.CacheMaxAge, "cache-max-age", cfg.CacheMaxAge, "Maximum age before a cached session is stale")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Locale for user-facing messages")
	fs.BoolVar(&cfg.VerifyTokens, "verify-session-tokens", cfg.VerifyTokens, "Verify session tokens returned by redemption")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Runtime is the wired session layer handed to the host surface.
type Runtime struct {
	// InstanceID distinguishes this agent in logs when several instances
	// share the Redis store.
	InstanceID string
	Cache      *sessioncache.Cache
	Client     *api.Client
	Engine     *revalidate.Engine
	Drafts     *invite.DraftStore

	closers []func() error
}

// NewInviteFlow builds a redemption flow bound to the runtime's session
// layer. nav may be nil for headless hosts.
func (rt *Runtime) NewInviteFlow(locale string, nav invite.Navigator) *invite.Flow {
	return invite.NewFlow(invite.FlowConfig{
		Backend:   rt.Client,
		Cache:     rt.Cache,
		Drafts:    rt.Drafts,
		Nav:       nav,
		OnSession: rt.Engine.Kick,
		Locale:    locale,
	})
}

// Close releases the runtime's storage handles.
func (rt *Runtime) Close() error {
	var first error
	for _, close := range rt.closers {
		if err := close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewRuntime wires storage, the backend client, and the revalidation engine
// from configuration. Redis is optional; without it the agent runs on the
// in-memory layer plus the SQLite fallback and skips cross-instance
// notifications.
func NewRuntime(cfg Config, nav revalidate.Navigator, logger *log.Logger) (*Runtime, error) {
	if logger == nil {
		logger = log.Default()
	}

	instanceID, err := id.NewID()
	if err != nil {
		return nil, err
	}
	rt := &Runtime{InstanceID: instanceID}

	var fast storage.KV
	var notifier storage.Notifier
	if cfg.RedisAddr != "" {
		redisStore, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisTTL)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, redisStore.Close)
		fast = redisStore
		notifier = redisStore
	}

	var fallback storage.KV
	if cfg.DBPath != "" {
		sqliteStore, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, sqliteStore.Close)
		fallback = sqliteStore
	}

	var verifier sessiontoken.Config
	if cfg.VerifyTokens {
		loaded, err := sessiontoken.LoadConfigFromEnv(nil)
		if err != nil {
			rt.Close()
			return nil, err
		}
		verifier = loaded
	}

	client, err := api.New(api.Config{
		BaseURL:       cfg.BackendURL,
		TokenVerifier: verifier,
		Logger:        logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	cache := sessioncache.New(sessioncache.Config{
		Fast:     fast,
		Fallback: fallback,
		Logger:   logger,
	})

	rt.Cache = cache
	rt.Client = client
	rt.Drafts = invite.NewDraftStore(fallback, logger)
	rt.Engine = revalidate.New(cache, client, nav, notifier, revalidate.Config{
		CacheMaxAge: cfg.CacheMaxAge,
		Logger:      logger,
	})
	return rt, nil
}

// Run wires the runtime and drives the revalidation engine until ctx is
// cancelled.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, "portal-agent")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown tracing: %v", err)
		}
	}()

	rt, err := NewRuntime(cfg, nil, log.Default())
	if err != nil {
		return err
	}
	log.Printf("portal agent %s revalidating against %s", rt.InstanceID, cfg.BackendURL)
	defer func() {
		if err := rt.Close(); err != nil {
			log.Printf("close runtime: %v", err)
		}
	}()

	err = rt.Engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
