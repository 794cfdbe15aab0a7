package app

import (
	"context"
	"watchpost/config"
	"watchpost/internals/modules/callback"
	"watchpost/internals/modules/dispatch"
	"watchpost/internals/modules/gateway"
	"watchpost/internals/modules/identity"
	middle "watchpost/internals/middleware"
	"watchpost/internals/modules/notify"
	"watchpost/internals/modules/persist"
	"watchpost/internals/modules/registry"
	"watchpost/internals/modules/target"
	agents "watchpost/internals/modules/validator"
	"watchpost/internals/security"
	"watchpost/pkg/mailer"
	"watchpost/pkg/rabbitmq"
	"watchpost/pkg/redisstore"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type Container struct {
	DB          *pgxpool.Pool
	RedisClient *redisstore.Client
	Logger      *zerolog.Logger

	Registry  *registry.Registry
	Dispatch  *dispatch.Loop
	PersistGW *persist.Gateway

	wsHandler     *gateway.Handler
	targetHandler *target.Handler
	adminMW       *middle.AdminMiddleware

	amqpConn  *amqp091.Connection
	publisher *rabbitmq.Publisher
}

func NewContainer(ctx context.Context, db *pgxpool.Pool, cfg *config.Config, logger *zerolog.Logger) (*Container, error) {

	c := &Container{
		DB:     db,
		Logger: logger,
	}

	// optional infrastructure first
	if cfg.Redis != nil && cfg.Redis.URL != "" {
		redisClient, err := redisstore.New(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		c.RedisClient = redisClient
	}

	if cfg.Broker != nil && cfg.Broker.URL != "" {
		conn, err := rabbitmq.NewConnection(cfg.Broker, logger)
		if err != nil {
			return nil, err
		}
		if err := rabbitmq.SetupTopology(conn, cfg.Broker); err != nil {
			return nil, err
		}
		pub, err := rabbitmq.NewPublisher(conn, cfg.Broker.Exchange, cfg.Broker.RoutingKey)
		if err != nil {
			return nil, err
		}
		c.amqpConn = conn
		c.publisher = pub
	}

	validate := validator.New()

	// coordinator state, owned here and passed down
	c.Registry = registry.New()
	pendings := callback.NewTable(cfg.Dispatch.CallbackTTL)

	targetRepo := target.NewRepository(db, logger)
	validatorRepo := agents.NewRepository(db, logger)
	store := persist.NewPgStore(db, logger)

	var events persist.EventPublisher
	if c.publisher != nil {
		events = c.publisher
	}
	var failures persist.FailureCounter
	var failureReader notify.FailureReader
	if c.RedisClient != nil {
		failures = c.RedisClient
		failureReader = c.RedisClient
	}

	c.PersistGW = persist.NewGateway(store, c.Registry, events, failures, cfg.Dispatch.Reward, logger)

	var mail notify.Mailer
	if cfg.Mail != nil && cfg.Mail.Host != "" {
		mail = mailer.New(cfg.Mail)
	} else {
		logger.Warn().Msg("no mail relay configured, alerts will be logged only")
		mail = noopMailer{logger: logger}
	}

	throttle := notify.NewThrottle(
		targetRepo,
		mail,
		failureReader,
		cfg.Alert.Requirement,
		cfg.Alert.Lookback,
		cfg.Alert.Cooldown,
		logger,
	)

	c.Dispatch = dispatch.NewLoop(
		ctx,
		c.Registry,
		pendings,
		targetRepo,
		c.PersistGW,
		cfg.Dispatch.Interval,
		cfg.Dispatch.RecordExpired,
		logger,
	)

	// the loop runs only while agents are connected
	c.Registry.OnLifecycle(c.Dispatch.Start, c.Dispatch.Stop)

	tokenSvc := security.NewTokenService(cfg.Auth)

	trustFirstUse := true
	if cfg.Identity != nil {
		trustFirstUse = cfg.Identity.TrustFirstUse
	}
	verifier := identity.NewVerifier(trustFirstUse, logger)

	c.wsHandler = gateway.NewHandler(
		c.Registry,
		validatorRepo,
		tokenSvc,
		verifier,
		pendings,
		c.PersistGW,
		throttle,
		validate,
		logger,
	)

	c.targetHandler = target.NewHandler(targetRepo, throttle, validate)
	c.adminMW = middle.NewAdminMiddleware(cfg.Admin.Key)

	return c, nil
}

func (c *Container) Shutdown() error {
	c.Dispatch.Stop()

	if c.publisher != nil {
		_ = c.publisher.Close()
	}
	if c.amqpConn != nil {
		_ = c.amqpConn.Close()
	}
	if c.RedisClient != nil {
		_ = c.RedisClient.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
	return nil
}

type noopMailer struct {
	logger *zerolog.Logger
}

func (m noopMailer) SendDownAlert(to, url string, latencyMS int64) error {
	m.logger.Info().
		Str("to", to).
		Str("url", url).
		Int64("latency_ms", latencyMS).
		Msg("down alert (mail relay disabled)")
	return nil
}
