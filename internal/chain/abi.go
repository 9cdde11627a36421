// Package chain talks to the FlightMarket contract over JSON-RPC using
// go-ethereum. It packs calls with the embedded contract ABI, signs
// transactions locally and waits for their receipts.
package chain

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed flight_market.abi.json
var flightMarketABI string

// Contract method and event names.
const (
	methodCreateFlightMarket  = "createFlightMarket"
	methodResolveMarket       = "resolveMarket"
	methodGetMarket           = "getMarket"
	methodGetOutcomePool      = "getOutcomePool"
	methodGetUserPosition     = "getUserPosition"
	methodCalculateBuyCost    = "calculateBuyCost"
	methodCalculateSellPayout = "calculateSellPayout"

	eventMarketCreated = "MarketCreated"
)

// parsedABI is decoded once; the JSON is compiled into the binary so a parse
// failure is a programming error.
var parsedABI = mustParseABI(flightMarketABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse FlightMarket ABI: %v", err))
	}
	return parsed
}

// ParseFlightID decodes a 0x-prefixed bytes32 market identifier.
func ParseFlightID(id string) ([32]byte, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("chain: flight id %q: want 32 hex bytes", id)
	}
	b := common.FromHex(s)
	if len(b) != 32 {
		return [32]byte{}, fmt.Errorf("chain: flight id %q: invalid hex", id)
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

// FormatFlightID renders a bytes32 identifier as 0x-prefixed lower-case hex.
func FormatFlightID(id [32]byte) string {
	return common.Hash(id).Hex()
}
