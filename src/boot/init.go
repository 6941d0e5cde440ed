package boot

import (
	"context"
	"log"
	"lovia/src/common"
	"lovia/src/config"
	"lovia/src/db"
	"lovia/src/lib"
	awslib "lovia/src/lib/aws"
	"lovia/src/lib/mailer"
	"lovia/src/models"
	"lovia/src/types"
	"os"
	"time"

	"gorm.io/gorm"
)

const (
	sweepJobName  = "cancel-expired-orders"
	qrCodeLinkTTL = 15 * time.Minute
)

var closers []func()

func InitDb() *gorm.DB {
	conn := db.GetDb()
	closers = append(closers, db.Close)

	err := conn.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.Plan{},
		&models.Order{},
		&models.Shipping{},
		&models.Invoice{},
		&models.PaymentAlert{},
		&models.Setting{},
	)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	return conn
}

// LoadPaymentConfig merges env, the settings table and, when PAYMENT_SECRET_ID
// is set, AWS Secrets Manager. A missing credential stops the process.
func LoadPaymentConfig(ctx context.Context) *config.PaymentConfig {
	sources := []config.CredentialSource{
		config.EnvSource{},
		common.NewSettingsSource(db.GetDb(), common.PaymentSettingsGroup),
	}
	if secretID := os.Getenv("PAYMENT_SECRET_ID"); secretID != "" {
		client, err := lib.AWSGetSecretsManagerClient(ctx)
		if err != nil {
			log.Fatalf("[Boot] Secrets Manager unavailable: %s", err.Error())
		}
		sources = append(sources, awslib.NewSecretsManagerSource(client, secretID))
	}
	cfg, err := config.LoadPaymentConfig(ctx, sources...)
	if err != nil {
		log.Fatalf("[Boot] Invalid payment configuration: %s", err.Error())
	}
	log.Printf("[Boot] Payment configuration loaded: %s\n", cfg)
	return cfg
}

// InitPublisher prefers Kafka when a broker is configured, then SNS when a
// topic ARN prefix is set, and falls back to SQS.
func InitPublisher(ctx context.Context) lib.EventPublisher {
	if os.Getenv("KAFKA_BROKER") != "" {
		go func() {
			if _, err := lib.KafkaCreateTopics(lib.TopicPaymentPaid, lib.TopicPaymentAlert); err != nil {
				log.Printf("[Boot] Error creating topics: %s\n", err.Error())
			}
		}()
		k := lib.NewKafkaPublisher("lovia-api")
		closers = append(closers, k.Close)
		return k
	}
	if arnPrefix := os.Getenv("SNS_TOPIC_ARN_PREFIX"); arnPrefix != "" {
		client, err := lib.AWSGetSNSClient(ctx)
		if err != nil {
			log.Printf("[Boot] Events disabled: %s\n", err.Error())
			return nil
		}
		return awslib.NewSNSPublisher(client, arnPrefix, config.API_ENV)
	}
	if types.Environment(config.API_ENV) == types.Local {
		log.Println("[Boot] No event bus configured")
		return nil
	}
	client, err := lib.AWSGetSQSClient(ctx)
	if err != nil {
		log.Printf("[Boot] Events disabled: %s\n", err.Error())
		return nil
	}
	return awslib.NewSQSPublisher(client, config.API_ENV)
}

func InitPayments(ctx context.Context, cfg *config.PaymentConfig) *common.Payments {
	database := db.GetDb()
	directory := common.NewGormDirectory(database)

	var notifier common.Notifier
	if sender, err := mailer.New(ctx); err != nil {
		log.Printf("[Boot] Mail disabled: %s\n", err.Error())
	} else {
		notifier = sender
	}
	publisher := InitPublisher(ctx)
	if push := lib.NewPusherPublisher(); push != nil {
		if publisher == nil {
			publisher = push
		} else {
			publisher = lib.FanoutPublisher{publisher, push}
		}
	}

	var cache common.StatusCache
	if c := lib.NewOrderCache(lib.GetRedisClient()); c != nil {
		cache = c
	}

	return common.NewPayments(common.PaymentsOptions{
		Ledger:    common.NewGormLedger(database),
		Directory: directory,
		Gateways: lib.NewGateways(
			lib.NewECPay(cfg.ECPay),
			lib.NewLinePay(cfg.LinePay, cfg.GatewayTimeout),
		),
		Dispatcher:     common.NewDispatcher(directory, directory, notifier, publisher, cfg.DispatchWait),
		Publisher:      publisher,
		Cache:          cache,
		PendingTimeout: cfg.PendingTimeout,
		ClientBackURL:  cfg.ECPay.ClientBackURL,
	})
}

// InitQRCodeBucket returns nil unless S3_ASSETS_BUCKET is set, in which case
// QR codes are served from S3 instead of the local disk.
func InitQRCodeBucket(ctx context.Context) *awslib.QRCodeBucket {
	bucket := os.Getenv("S3_ASSETS_BUCKET")
	if bucket == "" {
		return nil
	}
	client, err := lib.AWSGetS3Client(ctx)
	if err != nil {
		log.Printf("[Boot] QR code bucket disabled: %s\n", err.Error())
		return nil
	}
	return awslib.NewQRCodeBucket(client, bucket, qrCodeLinkTTL)
}

func InitScheduler(p *common.Payments, cfg *config.PaymentConfig) {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return
	}
	_, err = lib.CreateCronJob(sweepJobName, cfg.SweepInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SweepInterval)
		defer cancel()
		p.SweepExpired(ctx)
	})
	if err != nil {
		log.Printf("Error scheduling %s: %s\n", sweepJobName, err.Error())
		return
	}
	sched.Start()
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	err = sched.Shutdown()
	if err != nil {
		log.Println("An error has occurred while shutting stopping Scheduler. Check logs for info")
		return
	}
}

// Shutdown stops the sweep and flushes publishers.
func Shutdown() {
	StopScheduler()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
