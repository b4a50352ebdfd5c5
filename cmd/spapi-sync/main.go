package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sellersync/internal/alerts"
	"sellersync/internal/archive"
	"sellersync/internal/config"
	"sellersync/internal/credentials"
	"sellersync/internal/db"
	"sellersync/internal/etl"
	"sellersync/internal/handlers"
	"sellersync/internal/logging"
	"sellersync/internal/security"
	"sellersync/internal/spapi"
	"sellersync/internal/syncer"
	"sellersync/internal/tenancy"
	"sellersync/internal/warehouse"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	awsCfg, err := db.LoadAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		logger.Fatal("load aws config", zap.Error(err))
	}
	if err := cfg.ResolveSecrets(ctx, ssm.NewFromConfig(awsCfg)); err != nil {
		logger.Fatal("resolve secrets", zap.Error(err))
	}
	cipher, err := security.NewCipherFromBase64(cfg.TokenEncKeyB64)
	if err != nil {
		logger.Fatal("token cipher", zap.Error(err))
	}

	ddb := db.NewDynamoClient(awsCfg)
	s3c := s3.NewFromConfig(awsCfg)
	creds := credentials.NewDynamoStore(ddb, cfg.IntegrationsTable, cipher)

	var tokenStore spapi.TokenStore = spapi.NewMemoryTokenStore()
	if cfg.RedisAddr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		tokenStore = spapi.NewRedisTokenStore(rdb, cfg.RedisKeyPrefix)
		logger.Info("token cache: redis", zap.String("addr", cfg.RedisAddr))
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	clock := spapi.SystemClock{}
	tokens := spapi.NewTokenCache(tokenStore, httpClient, cfg.LWATokenURL, clock, logger)
	client := spapi.NewClient(cfg.SPAPIEndpoint, tokens,
		spapi.WithHTTPClient(httpClient),
		spapi.WithLogger(logger),
		spapi.WithRequestsPerSecond(cfg.RequestsPerSecond),
	)

	rowWriter, closeWriter, err := openWarehouse(ctx, cfg, ddb)
	if err != nil {
		logger.Fatal("open warehouse", zap.Error(err))
	}
	defer closeWriter()

	deps := syncer.Deps{
		Credentials: creds,
		Reports:     spapi.NewReports(client, clock, logger),
		Documents:   spapi.NewDecoder(nil),
		Finances:    spapi.NewFinances(client),
		Rows: warehouse.NewUpserter(rowWriter, warehouse.Tables{
			SalesTraffic: cfg.SalesTrafficTable,
			Financial:    cfg.FinancialTable,
			Inventory:    cfg.InventoryTable,
		}),
		Status: creds,
		Clock:  clock,
		Logger: logger,
	}
	if cfg.RawArchiveBucket != "" {
		deps.Archive = archive.NewS3Archive(s3c, cfg.RawArchiveBucket, cfg.RawArchivePrefix)
	}
	if cfg.AnalyticsBucket != "" {
		deps.Exporter = etl.NewExporter(s3c, cfg.AnalyticsBucket, cfg.SalesTrafficPrefix)
	}

	h := &handlers.SyncHandler{
		Engine: syncer.New(deps),
		ListTenants: func(ctx context.Context) ([]string, error) {
			return tenancy.ListTenants(ctx, ddb, cfg.IntegrationsTable, credentials.SortKey)
		},
		Claims:          db.NewRunClaims(ddb, cfg.RunClaimsTable, cfg.RunClaimTTL),
		Location:        cfg.Location(),
		FinanceDaysBack: cfg.FinanceDaysBack,
		Logger:          logger,
	}
	if cfg.AlertsTopicArn != "" {
		h.Alerts = alerts.NewNotifier(sns.NewFromConfig(awsCfg), cfg.AlertsTopicArn, cfg.AlertsStage)
	}

	logger.Info("spapi-sync ready",
		zap.String("warehouse", cfg.WarehouseBackend),
		zap.String("endpoint", cfg.SPAPIEndpoint),
	)
	lambda.Start(h.Handle)
}

func openWarehouse(ctx context.Context, cfg config.Config, ddb warehouse.PutItemAPI) (warehouse.Writer, func(), error) {
	switch cfg.WarehouseBackend {
	case warehouse.BackendPostgres:
		pool, err := warehouse.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return warehouse.NewPostgresWriter(pool), pool.Close, nil
	case warehouse.BackendMemory:
		return warehouse.NewMemoryWriter(), func() {}, nil
	default:
		return warehouse.NewDynamoWriter(ddb, cfg.WarehouseTable), func() {}, nil
	}
}
