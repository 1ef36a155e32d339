// Package chainaddr classifies token addresses by surface format and
// normalizes them for use as cache/database/comparison keys.
package chainaddr

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/recallnet/trading-simulator/internal/config"
)

var evmPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Classify maps a token address to SVM or EVM by surface format alone.
// It never fails: anything not matching the EVM shape is SVM, including
// malformed input. Downstream providers are responsible for rejecting
// addresses that are not actually valid on the chain they claim.
func Classify(address string) config.Chain {
	if evmPattern.MatchString(address) {
		return config.ChainEVM
	}
	return config.ChainSVM
}

// Normalize returns the address in its canonical comparison form: EVM
// addresses are parsed with go-ethereum's common.HexToAddress and its
// checksummed Hex() form is lowercased; SVM addresses are returned verbatim since
// base58 is case-sensitive.
func Normalize(address string) string {
	if Classify(address) == config.ChainEVM {
		return strings.ToLower(common.HexToAddress(address).Hex())
	}
	return address
}

// IsValidEVM reports whether address round-trips through go-ethereum's
// address parser, i.e. is a syntactically valid 20-byte hex address.
func IsValidEVM(address string) bool {
	return common.IsHexAddress(address)
}
