package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"go.uber.org/zap"

	"sellersync/internal/config"
	"sellersync/internal/db"
	"sellersync/internal/etl"
	"sellersync/internal/logging"
)

func main() {
	ctx := context.Background()

	ath := config.LoadAthena()
	logger, err := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	awsCfg, err := db.LoadAWSConfig(ctx, os.Getenv("AWS_REGION"))
	if err != nil {
		logger.Fatal("load aws config", zap.Error(err))
	}

	r := etl.NewRepairer(athena.NewFromConfig(awsCfg), logger)
	lambda.Start(func(ctx context.Context, _ events.CloudWatchEvent) (etl.RepairResult, error) {
		return r.Repair(ctx, etl.RepairConfig{
			Database:  ath.Database,
			Table:     ath.Table,
			Workgroup: ath.Workgroup,
			Output:    ath.Output,
			Timeout:   ath.Timeout,
		})
	})
}
