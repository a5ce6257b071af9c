// Package factory wires configuration, clients, managers and services, and
// owns their lifecycle.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"verification-service/internal/abuse"
	"verification-service/internal/audit"
	"verification-service/internal/blocklist"
	"verification-service/internal/bucketing"
	"verification-service/internal/captcha"
	"verification-service/internal/client"
	"verification-service/internal/config"
	"verification-service/internal/encryption"
	"verification-service/internal/hashing"
	"verification-service/internal/ratelimit"
	"verification-service/internal/repository/scylla"
	"verification-service/internal/sms"
	"verification-service/internal/store"
	"verification-service/internal/util"
	"verification-service/internal/verification"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	kmsClient        *kms.Client

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Domain components
	store          store.Store
	auditLog       *audit.Log
	blocklist      *blocklist.Manager
	bank           *ratelimit.Bank
	recentAttempts *abuse.RecentAttempts
	detector       *abuse.Detector
	captcha        *captcha.Verifier
	codeRepo       *scylla.CodeRepository
	consentRepo    *scylla.ConsentRepository
	smsRouter      *sms.Router
	gate           *verification.Gate

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies.
func NewFactory() (*Factory, error) {
	cfg := config.Load()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()
	factory.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("sms_test_mode", cfg.SMS.TestMode),
	)

	return factory, nil
}

// initializeClients brings up the external clients. Kafka and Elasticsearch
// are non-critical; the service runs without them.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if rc, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if sc, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = sc
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch
	if es, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - proceeding without delivery mirror", util.ErrorField(err))
	} else {
		f.esClient = es
		util.Info("Elasticsearch client initialized and healthy")
	}

	// ClickHouse
	if ch, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = ch
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	// KMS
	if f.config.KMS.Enabled {
		awsConfig, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(f.config.KMS.Region))
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("kms: %w", err))
		} else {
			f.kmsClient = kms.NewFromConfig(awsConfig)
			util.Info("KMS client initialized")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)
	f.encryptionManager = encryption.NewEncryptionManager(f.config, f.kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	if f.config.IsProduction() {
		f.hasher.StartPepperRotation()
	}
}

// initializeServices builds the domain components on top of the clients.
func (f *Factory) initializeServices() {
	if f.redisClient != nil {
		f.store = store.NewRedisStore(f.redisClient)
	} else {
		util.Warn("Redis unavailable, falling back to in-process store")
		f.store = store.NewMemoryStore()
	}

	if f.clickhouseClient != nil {
		f.auditLog = audit.NewLog(f.clickhouseClient, f.esClient)
	}

	f.blocklist = blocklist.NewManager(f.store)
	f.bank = ratelimit.NewBank(f.store, nil)

	f.recentAttempts = abuse.NewRecentAttempts()
	f.recentAttempts.StartPruning(10*time.Minute, f.closed)

	var activity abuse.ActivityLog
	if f.auditLog != nil {
		activity = f.auditLog
	}
	var events abuse.EventPublisher
	if f.kafkaProducer != nil {
		events = f.kafkaProducer
	}
	f.detector = abuse.NewDetector(f.store, abuse.PrivateRangeReputation{},
		f.blocklist, activity, events, f.recentAttempts,
		f.config.Kafka.SecurityEventsTopic)

	f.captcha = captcha.NewVerifier(f.config)

	if f.scyllaClient != nil {
		f.codeRepo = scylla.NewCodeRepository(f.scyllaClient)
		f.consentRepo = scylla.NewConsentRepository(f.scyllaClient)
	}

	var alerts sms.AlertPublisher
	if f.kafkaProducer != nil {
		alerts = f.kafkaProducer
	}
	var auditSink sms.AuditSink
	if f.auditLog != nil {
		auditSink = f.auditLog
	}
	f.smsRouter = sms.NewRouter(f.config, f.buildProviders(), auditSink, alerts)

	var codes verification.CodeStore
	if f.codeRepo != nil {
		codes = f.codeRepo
	}
	var consents verification.ConsentStore
	if f.consentRepo != nil {
		consents = f.consentRepo
	}
	f.gate = verification.NewGate(f.config, f.store, f.bank, f.blocklist,
		f.detector, f.captcha, f.hasher, f.bucketingManager, codes, consents,
		f.encryptionManager, f.smsRouter)
}

// buildProviders returns the ordered provider strategy list. "auto" tries
// twilio first and fails over to infobip; a named provider pins the order to
// that provider alone.
func (f *Factory) buildProviders() []sms.Provider {
	twilio := sms.NewTwilioProvider(f.config)
	infobip := sms.NewInfobipProvider(f.config)

	var providers []sms.Provider
	switch f.config.SMS.Provider {
	case "twilio":
		if twilio.Configured() {
			providers = append(providers, twilio)
		}
	case "infobip":
		if infobip.Configured() {
			providers = append(providers, infobip)
		}
	default: // auto
		if twilio.Configured() {
			providers = append(providers, twilio)
		}
		if infobip.Configured() {
			providers = append(providers, infobip)
		}
	}

	if len(providers) == 0 && !f.config.SMS.TestMode {
		util.Warn("No SMS provider configured; sends will fail outside test mode")
	}
	return providers
}

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

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

// HealthStatus renders the health map for the HTTP endpoint.
func (f *Factory) HealthStatus() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := make(map[string]string)
	for component, err := range f.HealthCheck(ctx) {
		status[component] = "unhealthy: " + err.Error()
	}
	for _, component := range []string{"redis", "scylla", "clickhouse"} {
		if _, bad := status[component]; !bad {
			status[component] = "healthy"
		}
	}
	return status
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "elasticsearch")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Gate() *verification.Gate {
	return f.gate
}

func (f *Factory) SMSRouter() *sms.Router {
	return f.smsRouter
}

func (f *Factory) AuditLog() *audit.Log {
	return f.auditLog
}

func (f *Factory) Blocklist() *blocklist.Manager {
	return f.blocklist
}

func (f *Factory) Store() store.Store {
	return f.store
}
