package aggregator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallnet/trading-simulator/internal/config"
	"github.com/recallnet/trading-simulator/internal/priceprovider"
	"github.com/recallnet/trading-simulator/internal/store"
)

type fakeProvider struct {
	name       string
	calls      int32
	price      float64
	chain      config.Chain
	sc         config.SpecificChain
	onlyChain  config.SpecificChain
	delay      time.Duration
	alwaysNull bool
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) GetPrice(ctx context.Context, tokenAddress string, chain config.Chain, specificChain config.SpecificChain) (*priceprovider.Price, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.alwaysNull {
		return nil, nil
	}
	if f.onlyChain != "" && specificChain != f.onlyChain {
		return nil, nil
	}
	return &priceprovider.Price{PriceUSD: f.price, Timestamp: time.Now(), Chain: f.chain, SpecificChain: f.sc}, nil
}

func (f *fakeProvider) Supports(ctx context.Context, tokenAddress string, specificChain config.SpecificChain) bool {
	return true
}

type fakeStore struct {
	mu      sync.Mutex
	records []store.PriceRecord
	latest  map[string]*store.PriceRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{latest: map[string]*store.PriceRecord{}}
}

func (f *fakeStore) GetLatestPrice(token string, specificChain config.SpecificChain) (*store.PriceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest[token], nil
}

func (f *fakeStore) InsertPriceRecord(r store.PriceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	rec := r
	f.latest[r.Token] = &rec
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		EVMChains:     config.DefaultEVMChains(),
		PriceCacheTTL: 30 * time.Second,
		ChainMemoTTL:  time.Hour,
	}
}

func TestAggregator_SVMHappyPath(t *testing.T) {
	fp := &fakeProvider{name: "solana", price: 150.0, chain: config.ChainSVM, sc: config.SpecificSVM}
	agg := New(testConfig(), newFakeStore(), []priceprovider.Provider{fp}, nil)

	res, err := agg.GetPrice(context.Background(), "So11111111111111111111111111111111111111112", "", "")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 150.0, res.PriceUSD)
	assert.Equal(t, config.ChainSVM, res.Chain)
}

func TestAggregator_NullWhenAllProvidersFail(t *testing.T) {
	fp := &fakeProvider{name: "dead", alwaysNull: true}
	agg := New(testConfig(), newFakeStore(), []priceprovider.Provider{fp}, nil)

	res, err := agg.GetPrice(context.Background(), "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "", "")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestAggregator_CacheHitAvoidsSecondProviderCall(t *testing.T) {
	fp := &fakeProvider{name: "solana", price: 42.0, chain: config.ChainSVM, sc: config.SpecificSVM}
	agg := New(testConfig(), newFakeStore(), []priceprovider.Provider{fp}, nil)

	ctx := context.Background()
	_, err := agg.GetPrice(ctx, "SoTokenA", "", "")
	require.NoError(t, err)
	_, err = agg.GetPrice(ctx, "SoTokenA", "", "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fp.calls))
}

func TestAggregator_EVMChainMemoization(t *testing.T) {
	baseOnly := &fakeProvider{name: "evm", price: 1.0, chain: config.ChainEVM, onlyChain: config.SpecificBase}
	agg := New(testConfig(), newFakeStore(), nil, []priceprovider.Provider{baseOnly})

	token := "0x3992B27dA26848C2b19CeA6Fd25ad5568B68AB98"
	res, err := agg.GetPrice(context.Background(), token, "", "")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, config.SpecificBase, res.SpecificChain)

	sc, ok := agg.memoGet(normalizeKey(token, config.ChainEVM))
	require.True(t, ok)
	assert.Equal(t, config.SpecificBase, sc)
}

func TestAggregator_ConcurrentCallsCoalesce(t *testing.T) {
	fp := &fakeProvider{name: "slow", price: 7.0, chain: config.ChainSVM, sc: config.SpecificSVM, delay: 50 * time.Millisecond}
	agg := New(testConfig(), newFakeStore(), []priceprovider.Provider{fp}, nil)

	var wg sync.WaitGroup
	results := make([]*Result, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, _ := agg.GetPrice(context.Background(), "SoConcurrentToken", "", "")
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, 7.0, r.PriceUSD)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&fp.calls), int32(1), "concurrent callers for the same key should coalesce into one upstream call")
}

func TestAggregator_PersistsPriceRecord(t *testing.T) {
	fp := &fakeProvider{name: "solana", price: 9.5, chain: config.ChainSVM, sc: config.SpecificSVM}
	fs := newFakeStore()
	agg := New(testConfig(), fs, []priceprovider.Provider{fp}, nil)

	_, err := agg.GetPrice(context.Background(), "SoRecordToken", "", "")
	require.NoError(t, err)
	require.Len(t, fs.records, 1)
	assert.Equal(t, 9.5, fs.records[0].PriceUSD)
}
