package chainaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallnet/trading-simulator/internal/config"
)

func TestClassifyEVM(t *testing.T) {
	require.Equal(t, config.ChainEVM, Classify("0xd9aAEc86B65D86f6A7B5B1b0c42FFA531710b6CA"))
}

func TestClassifySVMDefault(t *testing.T) {
	assert.Equal(t, config.ChainSVM, Classify("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"))
}

func TestClassifyMalformedIsSVM(t *testing.T) {
	// Malformed input still classifies as SVM rather than erroring;
	// downstream rejects it via a null price.
	assert.Equal(t, config.ChainSVM, Classify("not-an-address"))
	assert.Equal(t, config.ChainSVM, Classify("0xtooshort"))
}

func TestClassifyIdempotentAndCaseInsensitive(t *testing.T) {
	upper := "0xD9AAEC86B65D86F6A7B5B1B0C42FFA531710B6CA"
	lower := "0xd9aaec86b65d86f6a7b5b1b0c42ffa531710b6ca"
	require.Equal(t, Classify(upper), Classify(lower))
	assert.Equal(t, Normalize(upper), Normalize(lower))
	assert.Equal(t, Normalize(lower), Normalize(Normalize(lower)))
}

func TestIsValidEVM(t *testing.T) {
	assert.True(t, IsValidEVM("0xd9aAEc86B65D86f6A7B5B1b0c42FFA531710b6CA"))
	assert.False(t, IsValidEVM("not-an-address"))
}
