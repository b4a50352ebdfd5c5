package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"sellersync/internal/config"
	"sellersync/internal/model"
)

type HealthResponse struct {
	OK            bool     `json:"ok"`
	Service       string   `json:"service"`
	Domains       []string `json:"domains"`
	Warehouse     string   `json:"warehouse"`
	TokenCache    string   `json:"token_cache"`
	RawArchive    bool     `json:"raw_archive"`
	ParquetExport bool     `json:"parquet_export"`
	Alerts        bool     `json:"alerts"`
	Timezone      string   `json:"timezone"`
}

func healthResponse(h config.Health) HealthResponse {
	domains := make([]string, 0, 3)
	for _, d := range model.AllDomains() {
		domains = append(domains, string(d))
	}
	return HealthResponse{
		OK:            true,
		Service:       "sellersync",
		Domains:       domains,
		Warehouse:     h.WarehouseBackend,
		TokenCache:    h.TokenCache,
		RawArchive:    h.RawArchive,
		ParquetExport: h.ParquetExport,
		Alerts:        h.Alerts,
		Timezone:      h.SyncTimezone,
	}
}

func newHandler(h config.Health) func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body, _ := json.Marshal(healthResponse(h))
	return func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return events.APIGatewayV2HTTPResponse{
			StatusCode: 200,
			Headers:    map[string]string{"content-type": "application/json"},
			Body:       string(body),
		}, nil
	}
}

func main() {
	lambda.Start(newHandler(config.LoadHealth()))
}
