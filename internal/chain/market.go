package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jetlagged/skyshield/internal/domain"
)

// TxResult identifies a mined transaction.
type TxResult struct {
	Hash        string
	BlockNumber uint64
}

// ResolveMarket settles the market with the given outcome. NOT_FOUND is
// rejected before anything is sent. When the transaction was broadcast but
// failed, the returned TxResult still carries its hash.
func (c *Client) ResolveMarket(ctx context.Context, flightID string, outcome domain.Outcome) (TxResult, error) {
	if !outcome.Resolved() {
		return TxResult{}, fmt.Errorf("chain: resolve %s: %w: %s", flightID, domain.ErrNotSubmittable, outcome)
	}
	id, err := ParseFlightID(flightID)
	if err != nil {
		return TxResult{}, err
	}
	hash, receipt, err := c.transact(ctx, methodResolveMarket, id, uint8(outcome))
	res := txResult(hash, receipt)
	if err != nil {
		return res, fmt.Errorf("chain: resolve %s on %s: %w", flightID, c.network.Key, err)
	}
	return res, nil
}

// CreateMarket opens a new flight market. The scheduled time is the
// minute-precision form "YYYY-MM-DDTHH:MM" and is sent to the contract as a
// full UTC ISO timestamp. The new market id is read from the MarketCreated
// log.
func (c *Client) CreateMarket(ctx context.Context, m domain.NewMarket) (string, TxResult, error) {
	iso := ContractTime(m.ScheduledTime)
	hash, receipt, err := c.transact(ctx, methodCreateFlightMarket,
		m.FlightNumber, m.DepartureCode, m.DestinationCode, m.AirlineCode, iso)
	res := txResult(hash, receipt)
	if err != nil {
		return "", res, fmt.Errorf("chain: create market %s%s: %w", m.AirlineCode, m.FlightNumber, err)
	}

	created := parsedABI.Events[eventMarketCreated].ID
	for _, lg := range receipt.Logs {
		if lg.Address != c.network.Contract || len(lg.Topics) < 2 || lg.Topics[0] != created {
			continue
		}
		return lg.Topics[1].Hex(), res, nil
	}
	return "", res, fmt.Errorf("chain: create market: no %s event in tx %s", eventMarketCreated, res.Hash)
}

// ContractTime expands a minute-precision timestamp into the ISO form the
// contract stores. Values that already carry seconds are returned unchanged.
func ContractTime(scheduled string) string {
	s := strings.Replace(strings.TrimSpace(scheduled), " ", "T", 1)
	if len(s) == len("2006-01-02T15:04") {
		return s + ":00.000Z"
	}
	return s
}

type marketView struct {
	FlightNumber    string
	DepartureCode   string
	DestinationCode string
	AirlineCode     string
	ScheduledTime   string
	Outcome         uint8
	Resolved        bool
}

// GetMarket reads a market together with its per-outcome share pools.
func (c *Client) GetMarket(ctx context.Context, flightID string) (domain.Market, error) {
	id, err := ParseFlightID(flightID)
	if err != nil {
		return domain.Market{}, err
	}

	values, err := c.call(ctx, methodGetMarket, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("chain: get market %s: %w", flightID, err)
	}
	var view marketView
	if err := parsedABI.Methods[methodGetMarket].Outputs.Copy(&view, values); err != nil {
		return domain.Market{}, fmt.Errorf("chain: get market %s: %w", flightID, err)
	}
	if view.FlightNumber == "" {
		return domain.Market{}, fmt.Errorf("chain: market %s: %w", flightID, domain.ErrNotFound)
	}

	m := domain.Market{
		ID:              FormatFlightID(id),
		Chain:           c.network.Key,
		FlightNumber:    view.FlightNumber,
		DepartureCode:   view.DepartureCode,
		DestinationCode: view.DestinationCode,
		AirlineCode:     view.AirlineCode,
		ScheduledTime:   view.ScheduledTime,
		Outcome:         domain.Outcome(view.Outcome),
		Resolved:        view.Resolved,
	}

	for o := domain.OutcomeOnTime; o <= domain.OutcomeCancelled; o++ {
		pool, err := c.outcomePool(ctx, id, o)
		if err != nil {
			return domain.Market{}, fmt.Errorf("chain: get market %s: %w", flightID, err)
		}
		m.Pools = append(m.Pools, pool)
	}
	return m, nil
}

func (c *Client) outcomePool(ctx context.Context, id [32]byte, o domain.Outcome) (domain.OutcomePool, error) {
	values, err := c.call(ctx, methodGetOutcomePool, id, uint8(o))
	if err != nil {
		return domain.OutcomePool{}, err
	}
	if len(values) != 4 {
		return domain.OutcomePool{}, fmt.Errorf("%s: got %d outputs", methodGetOutcomePool, len(values))
	}
	pool := domain.OutcomePool{Outcome: o}
	for i, dst := range []**big.Int{&pool.YesShares, &pool.NoShares, &pool.YesPrice, &pool.NoPrice} {
		v, ok := values[i].(*big.Int)
		if !ok {
			return domain.OutcomePool{}, fmt.Errorf("%s: output %d is %T", methodGetOutcomePool, i, values[i])
		}
		*dst = v
	}
	return pool, nil
}

// GetUserPosition reads a wallet's YES and NO shares for one outcome.
func (c *Client) GetUserPosition(ctx context.Context, flightID, address string, outcome domain.Outcome) (domain.UserPosition, error) {
	id, err := ParseFlightID(flightID)
	if err != nil {
		return domain.UserPosition{}, err
	}
	if !common.IsHexAddress(address) {
		return domain.UserPosition{}, fmt.Errorf("chain: invalid address %q", address)
	}
	if !outcome.Resolved() {
		return domain.UserPosition{}, fmt.Errorf("chain: position outcome %s: %w", outcome, domain.ErrNotSubmittable)
	}
	user := common.HexToAddress(address)

	pos := domain.UserPosition{MarketID: FormatFlightID(id), Address: user.Hex(), Outcome: outcome}
	for side, dst := range map[domain.Position]**big.Int{domain.PositionYes: &pos.Yes, domain.PositionNo: &pos.No} {
		v, err := c.uint256(ctx, methodGetUserPosition, id, user, uint8(outcome), uint8(side))
		if err != nil {
			return domain.UserPosition{}, fmt.Errorf("chain: position %s %s: %w", flightID, user.Hex(), err)
		}
		*dst = v
	}
	return pos, nil
}

// CalculateBuyCost quotes the cost of buying shares at pricePerShare. Both
// amounts are 18-decimal fixed point.
func (c *Client) CalculateBuyCost(ctx context.Context, shares, pricePerShare *big.Int) (*big.Int, error) {
	v, err := c.uint256(ctx, methodCalculateBuyCost, shares, pricePerShare)
	if err != nil {
		return nil, fmt.Errorf("chain: buy cost: %w", err)
	}
	return v, nil
}

// CalculateSellPayout quotes the payout for selling shares at pricePerShare.
func (c *Client) CalculateSellPayout(ctx context.Context, shares, pricePerShare *big.Int) (*big.Int, error) {
	v, err := c.uint256(ctx, methodCalculateSellPayout, shares, pricePerShare)
	if err != nil {
		return nil, fmt.Errorf("chain: sell payout: %w", err)
	}
	return v, nil
}

func (c *Client) uint256(ctx context.Context, method string, args ...any) (*big.Int, error) {
	values, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s: got %d outputs", method, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: output is %T", method, values[0])
	}
	return v, nil
}
