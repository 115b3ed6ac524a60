package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"golang.org/x/sync/errgroup"

	"agri-auth/internal/audit"
	"agri-auth/internal/bucketing"
	"agri-auth/internal/client"
	"agri-auth/internal/config"
	"agri-auth/internal/encryption"
	"agri-auth/internal/hashing"
	"agri-auth/internal/provider"
	redisrepo "agri-auth/internal/repository/redis"
	"agri-auth/internal/repository/scylla"
	"agri-auth/internal/service"
	"agri-auth/internal/tls"
	"agri-auth/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Stores and repositories
	otpStore     *redisrepo.OTPStore
	flowStore    *redisrepo.FlowStore
	sessionCache *redisrepo.SessionCache
	rateLimits   *redisrepo.RateLimitStore
	farmerRepo   *scylla.FarmerRepository
	sessionRepo  *scylla.SessionRepository

	otpProvider    provider.OTPProvider
	auditPublisher *audit.Publisher
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	factory.initializeRepositories()

	otpProvider, err := provider.NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OTP provider: %w", err)
	}
	factory.otpProvider = otpProvider

	factory.auditPublisher = audit.NewPublisher(
		cfg,
		factory.kafkaProducer,
		factory.clickhouseClient,
		factory.bucketingManager,
		util.Get(),
	)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("otp_provider", otpProvider.Name()),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients brings up the external service clients in parallel.
// Redis and ScyllaDB are mandatory; Kafka and ClickHouse degrade to
// warnings when unavailable since audit delivery is best-effort.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		redisClient, err := client.NewRedisClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if err := redisClient.HealthCheck(gctx); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
		f.redisClient = redisClient
		util.Info("Redis client initialized and healthy")
		return nil
	})

	g.Go(func() error {
		scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		if err := scyllaClient.HealthCheck(); err != nil {
			return fmt.Errorf("scylla health check: %w", err)
		}
		f.scyllaClient = scyllaClient
		util.Info("ScyllaDB client initialized and healthy")
		return nil
	})

	g.Go(func() error {
		if !f.config.Kafka.Enabled {
			return nil
		}
		producer, err := client.NewKafkaProducer(f.config, util.Get())
		if err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
			return nil
		}
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
		return nil
	})

	g.Go(func() error {
		if !f.config.Clickhouse.Enabled {
			return nil
		}
		chClient, err := client.NewClickHouseClient(f.config, util.Get())
		if err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without ClickHouse", util.ErrorField(err))
			return nil
		}
		if err := chClient.HealthCheck(gctx); err != nil {
			util.Warn("ClickHouse health check failed - proceeding without ClickHouse", util.ErrorField(err))
			return nil
		}
		f.clickhouseClient = chClient
		util.Info("ClickHouse client initialized and healthy")
		return nil
	})

	if err := g.Wait(); err != nil {
		if f.config.IsProduction() {
			return err
		}
		util.Warn("Service initialization warning", util.ErrorField(err))
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}

	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	if f.config.IsProduction() {
		f.hasher.StartPepperRotation()
	}

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)
	return nil
}

func (f *Factory) initializeRepositories() {
	f.otpStore = redisrepo.NewOTPStore(f.redisClient)
	f.flowStore = redisrepo.NewFlowStore(f.redisClient)
	f.sessionCache = redisrepo.NewSessionCache(f.redisClient)
	f.rateLimits = redisrepo.NewRateLimitStore(f.redisClient)
	f.farmerRepo = scylla.NewFarmerRepository(f.scyllaClient, f.bucketingManager, util.Get())
	f.sessionRepo = scylla.NewSessionRepository(f.scyllaClient, util.Get())
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.otpStore,
			f.flowStore,
			f.farmerRepo,
			f.sessionCache,
			f.sessionRepo,
			f.rateLimits,
			f.otpProvider,
			f.hasher,
			f.encryptionManager,
			f.auditPublisher,
			f.config,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.hasher == nil {
		healthErrors["hasher"] = fmt.Errorf("hasher not initialized")
	}
	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}
	if f.bucketingManager == nil {
		healthErrors["bucketing"] = fmt.Errorf("bucketing manager not initialized")
	}

	return healthErrors
}

// IsHealthy reports whether the core dependencies are reachable. Kafka
// and ClickHouse carry audit traffic only and never fail readiness.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) EncryptionManager() *encryption.EncryptionManager {
	return f.encryptionManager
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
