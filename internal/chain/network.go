package chain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jetlagged/skyshield/internal/domain"
)

// Network describes one deployment of the FlightMarket contract.
type Network struct {
	Key         string // canonical name, e.g. "celo"
	Code        string // single-letter selector used by the web client, e.g. "c"
	ChainID     int64
	RPCURL      string
	Contract    common.Address
	ExplorerURL string
}

// TxURL links a transaction hash to the network's block explorer, or returns
// "" when no explorer is configured.
func (n Network) TxURL(hash string) string {
	if n.ExplorerURL == "" || hash == "" {
		return ""
	}
	return strings.TrimRight(n.ExplorerURL, "/") + "/tx/" + hash
}

// Known deployments. RPC endpoints are deployment specific and come from
// configuration.
var (
	Celo = Network{
		Key:         "celo",
		Code:        "c",
		ChainID:     42220,
		Contract:    common.HexToAddress("0x243E571194C89E8B848137EdB46e5A1156272860"),
		ExplorerURL: "https://celoscan.io",
	}
	Sepolia = Network{
		Key:         "sepolia",
		Code:        "s",
		ChainID:     11155111,
		Contract:    common.HexToAddress("0x49F1b8A77712Edf77Fa5d04D07d77a846B23A91B"),
		ExplorerURL: "https://sepolia.etherscan.io",
	}
)

// KnownNetworks lists the built-in deployments.
func KnownNetworks() []Network {
	return []Network{Celo, Sepolia}
}

// Networks is an ordered set of configured networks with a default.
type Networks struct {
	byKey      map[string]Network
	defaultKey string
}

// NewNetworks builds a registry. defaultKey may be a key or a code; an empty
// value selects celo when present, otherwise the first network.
func NewNetworks(nets []Network, defaultKey string) (*Networks, error) {
	if len(nets) == 0 {
		return nil, fmt.Errorf("chain: no networks configured")
	}
	r := &Networks{byKey: make(map[string]Network, len(nets))}
	for _, n := range nets {
		key := strings.ToLower(strings.TrimSpace(n.Key))
		if key == "" {
			return nil, fmt.Errorf("chain: network with empty key")
		}
		if _, dup := r.byKey[key]; dup {
			return nil, fmt.Errorf("chain: duplicate network %q", key)
		}
		n.Key = key
		n.Code = strings.ToLower(n.Code)
		r.byKey[key] = n
	}

	switch {
	case defaultKey != "":
		n, err := r.lookup(defaultKey)
		if err != nil {
			return nil, fmt.Errorf("chain: default network: %w", err)
		}
		r.defaultKey = n.Key
	case r.has(Celo.Key):
		r.defaultKey = Celo.Key
	default:
		r.defaultKey = strings.ToLower(nets[0].Key)
	}
	return r, nil
}

func (r *Networks) has(key string) bool {
	_, ok := r.byKey[key]
	return ok
}

// Resolve maps a selector to a network. The empty selector returns the
// default; otherwise both keys ("celo") and codes ("c") are accepted.
func (r *Networks) Resolve(selector string) (Network, error) {
	if strings.TrimSpace(selector) == "" {
		return r.byKey[r.defaultKey], nil
	}
	return r.lookup(selector)
}

func (r *Networks) lookup(selector string) (Network, error) {
	s := strings.ToLower(strings.TrimSpace(selector))
	if n, ok := r.byKey[s]; ok {
		return n, nil
	}
	for _, n := range r.byKey {
		if n.Code != "" && n.Code == s {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("%w: %q", domain.ErrUnknownChain, selector)
}

// Default returns the default network.
func (r *Networks) Default() Network {
	return r.byKey[r.defaultKey]
}

// All returns the networks sorted by key.
func (r *Networks) All() []Network {
	out := make([]Network, 0, len(r.byKey))
	for _, n := range r.byKey {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
