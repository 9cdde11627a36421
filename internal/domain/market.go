package domain

import "math/big"

// Position is the YES/NO side of an outcome share pool.
type Position uint8

const (
	PositionYes Position = 0
	PositionNo  Position = 1
)

// OutcomePool holds the share pools and prices for one outcome of a flight
// market. Amounts are 18-decimal fixed point as stored by the contract.
type OutcomePool struct {
	Outcome   Outcome  `json:"outcome"`
	YesShares *big.Int `json:"yesShares"`
	NoShares  *big.Int `json:"noShares"`
	YesPrice  *big.Int `json:"yesPrice"`
	NoPrice   *big.Int `json:"noPrice"`
}

// Market is the read model of an on-chain flight market. The contract owns
// every field; this repository never mutates it except through resolveMarket.
type Market struct {
	ID              string        `json:"id"`
	Chain           string        `json:"chain"`
	FlightNumber    string        `json:"flightNumber"`
	DepartureCode   string        `json:"departureCode"`
	DestinationCode string        `json:"destinationCode"`
	AirlineCode     string        `json:"airlineCode"`
	ScheduledTime   string        `json:"scheduledTime"`
	Outcome         Outcome       `json:"outcome"`
	Resolved        bool          `json:"resolved"`
	Pools           []OutcomePool `json:"pools"`
}

// NewMarket is the operator input for createFlightMarket.
type NewMarket struct {
	FlightNumber    string `json:"flightNumber"`
	DepartureCode   string `json:"departureCode"`
	DestinationCode string `json:"destinationCode"`
	AirlineCode     string `json:"airlineCode"`
	ScheduledTime   string `json:"scheduledTime"`
}

// UserPosition is a wallet's holdings in one outcome pool.
type UserPosition struct {
	MarketID string   `json:"marketId"`
	Address  string   `json:"address"`
	Outcome  Outcome  `json:"outcome"`
	Yes      *big.Int `json:"yes"`
	No       *big.Int `json:"no"`
}

// QuoteSide selects which contract pricing function a quote uses.
type QuoteSide string

const (
	QuoteBuy  QuoteSide = "buy"
	QuoteSell QuoteSide = "sell"
)

// Quote is a buy cost or sell payout computed by the contract.
type Quote struct {
	Chain  string
	Side   QuoteSide
	Shares *big.Int
	Price  *big.Int
	Amount *big.Int
}

// CreatedMarket is the result of a createFlightMarket transaction.
type CreatedMarket struct {
	ID          string `json:"id"`
	Chain       string `json:"chain"`
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
}
