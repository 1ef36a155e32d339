package priceprovider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallnet/trading-simulator/internal/config"
)

func TestDexScreenerProvider_GetPrice_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs":[{"priceUsd":"1.23"}]}`))
	}))
	defer srv.Close()

	p := NewDexScreenerProvider(srv.URL, time.Minute)
	price, err := p.GetPrice(context.Background(), "So11111111111111111111111111111111111111112", config.ChainSVM, config.SpecificSVM)
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.Equal(t, 1.23, price.PriceUSD)
}

func TestDexScreenerProvider_CacheHit_NoSecondCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"pairs":[{"priceUsd":"2.00"}]}`))
	}))
	defer srv.Close()

	p := NewDexScreenerProvider(srv.URL, time.Minute)
	ctx := context.Background()
	_, err := p.GetPrice(ctx, "tokenA", config.ChainSVM, config.SpecificSVM)
	require.NoError(t, err)
	price2, err := p.GetPrice(ctx, "tokenA", config.ChainSVM, config.SpecificSVM)
	require.NoError(t, err)
	assert.Equal(t, 2.00, price2.PriceUSD)
	assert.Equal(t, 1, calls, "second call within TTL must not hit the network")
}

func TestDexScreenerProvider_NoPositivePrice_ReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs":[{"priceUsd":"0"}]}`))
	}))
	defer srv.Close()

	p := NewDexScreenerProvider(srv.URL, time.Minute)
	price, err := p.GetPrice(context.Background(), "tokenB", config.ChainEVM, config.SpecificBase)
	require.NoError(t, err)
	assert.Nil(t, price)
}

func TestDexScreenerProvider_UnknownSpecificChain_ReturnsNil(t *testing.T) {
	p := NewDexScreenerProvider("http://unused.invalid", time.Minute)
	price, err := p.GetPrice(context.Background(), "tokenC", config.ChainEVM, config.SpecificChain("mystery"))
	require.NoError(t, err)
	assert.Nil(t, price)
}

func Test4xxIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewDexScreenerProvider(srv.URL, time.Minute)
	price, err := p.GetPrice(context.Background(), "tokenD", config.ChainEVM, config.SpecificBase)
	require.NoError(t, err) // provider never surfaces upstream errors to callers
	assert.Nil(t, price)
	assert.Equal(t, 1, calls, "a 4xx is not transient and must not be retried")
}
