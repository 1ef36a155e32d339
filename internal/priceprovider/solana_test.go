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

func TestSolanaProvider_RejectsMalformedAddress(t *testing.T) {
	p := NewSolanaProvider("http://unused.invalid", "", time.Minute)
	price, err := p.GetPrice(context.Background(), "not-base58-!!!", config.ChainSVM, config.SpecificSVM)
	require.NoError(t, err)
	assert.Nil(t, price)
}

func TestSolanaProvider_RejectsEVMChainHint(t *testing.T) {
	p := NewSolanaProvider("http://unused.invalid", "", time.Minute)
	price, err := p.GetPrice(context.Background(), "So11111111111111111111111111111111111111112", config.ChainEVM, "")
	require.NoError(t, err)
	assert.Nil(t, price)
}

func TestSolanaProvider_GetPrice_Success(t *testing.T) {
	token := "So11111111111111111111111111111111111111112"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"` + token + `":{"price":171.5}}}`))
	}))
	defer srv.Close()

	p := NewSolanaProvider(srv.URL, "test-key", time.Minute)
	price, err := p.GetPrice(context.Background(), token, config.ChainSVM, config.SpecificSVM)
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.Equal(t, 171.5, price.PriceUSD)
}

func TestSolanaProvider_SupportsFalseOnMalformed(t *testing.T) {
	p := NewSolanaProvider("http://unused.invalid", "", time.Minute)
	assert.False(t, p.Supports(context.Background(), "garbage", config.SpecificSVM))
}
