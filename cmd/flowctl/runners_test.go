package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kisanbazaar/internal/flow"
	"kisanbazaar/internal/llm"
)

func TestEveryCatalogFlowHasARunner(t *testing.T) {
	for _, info := range flow.Catalog {
		_, ok := runners[info.ID]
		assert.True(t, ok, info.ID)
	}
	assert.Len(t, flowIDs(), len(flow.Catalog))
}

func TestRun(t *testing.T) {
	g, err := newGateway(llm.NewFakeClient(), zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	out, err := run(ctx, g, flow.IconForCrop, []byte(`{"cropName":"Wheat"}`))
	require.NoError(t, err)
	assert.Equal(t, flow.IconOutput{Icon: "🌱"}, out)

	out, err = run(ctx, g, flow.MarketRates, nil)
	require.NoError(t, err)
	assert.Len(t, out.(flow.MarketRatesOutput).Crops, flow.MarketCropCount)

	_, err = run(ctx, g, flow.CropAdvisory, []byte(`{not json`))
	assert.Error(t, err)

	_, err = run(ctx, g, "weather-oracle", nil)
	assert.Error(t, err)
}

func TestSafe(t *testing.T) {
	assert.Equal(t, "a_b", safe("a/b"))
	assert.Equal(t, "crop-advisory", safe("crop-advisory"))
}
