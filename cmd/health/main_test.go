package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"sellersync/internal/config"
)

func TestHealthReportsWiring(t *testing.T) {
	handler := newHandler(config.Health{
		WarehouseBackend: "postgres",
		TokenCache:       "redis",
		ParquetExport:    true,
		SyncTimezone:     "America/Los_Angeles",
	})

	res, err := handler(context.Background(), events.APIGatewayV2HTTPRequest{})
	require.NoError(t, err)
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, "application/json", res.Headers["content-type"])

	var body HealthResponse
	require.NoError(t, json.Unmarshal([]byte(res.Body), &body))
	require.True(t, body.OK)
	require.Equal(t, "sellersync", body.Service)
	require.Equal(t, []string{"sales_traffic", "financial_events", "inventory"}, body.Domains)
	require.Equal(t, "postgres", body.Warehouse)
	require.Equal(t, "redis", body.TokenCache)
	require.True(t, body.ParquetExport)
	require.False(t, body.RawArchive)
	require.Equal(t, "America/Los_Angeles", body.Timezone)
}
