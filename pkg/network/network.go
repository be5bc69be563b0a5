// Package network holds the static registry of supported testnets.
package network

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownNetwork is returned when an id or chain id is not registered.
var ErrUnknownNetwork = errors.New("unknown network")

// Network ids
const (
	EthereumSepolia = "ethereum-sepolia"
	BaseSepolia     = "base-sepolia"
	ArcTestnet      = "arc-testnet"
)

// Defaults used when no network preferences have been saved.
const (
	DefaultFromNetworkID = EthereumSepolia
	DefaultToNetworkID   = ArcTestnet
)

// Network describes one chain the hopper can bridge between
type Network struct {
	ID                string         `json:"id"`
	Label             string         `json:"label"`
	ShortName         string         `json:"shortName"`
	ChainID           uint64         `json:"chainId"`
	EngineChain       string         `json:"engineChain"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURL  string         `json:"blockExplorerUrl"`
	ExplorerTxPattern string         `json:"explorerTxPattern"`
	USDCAddress       common.Address `json:"usdcAddress"`
	CCTPDomain        uint32         `json:"cctpDomain"`
}

// TxURL renders the explorer link for hash, or "" when no pattern is known.
func (n *Network) TxURL(hash string) string {
	if n == nil || hash == "" || n.ExplorerTxPattern == "" {
		return ""
	}
	return strings.ReplaceAll(n.ExplorerTxPattern, "{hash}", hash)
}

// Registry resolves networks by id or chain id
type Registry interface {
	LookupByID(id string) (*Network, error)
	LookupByChainID(chainID uint64) (*Network, bool)
	All() []*Network
}

// Override replaces the preferred endpoint and appends fallbacks for one network.
type Override struct {
	RPCURL    string
	Fallbacks []string
}

var testnets = []Network{
	{
		ID:                EthereumSepolia,
		Label:             "Ethereum Sepolia",
		ShortName:         "Sepolia",
		ChainID:           11155111,
		EngineChain:       "Ethereum_Sepolia",
		RPCURLs:           []string{"https://sepolia.drpc.org", "https://ethereum-sepolia-rpc.publicnode.com"},
		BlockExplorerURL:  "https://sepolia.etherscan.io",
		ExplorerTxPattern: "https://sepolia.etherscan.io/tx/{hash}",
		USDCAddress:       common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
		CCTPDomain:        0,
	},
	{
		ID:                BaseSepolia,
		Label:             "Base Sepolia",
		ShortName:         "Base",
		ChainID:           84532,
		EngineChain:       "Base_Sepolia",
		RPCURLs:           []string{"https://sepolia.base.org", "https://base-sepolia-rpc.publicnode.com"},
		BlockExplorerURL:  "https://sepolia.basescan.org",
		ExplorerTxPattern: "https://sepolia.basescan.org/tx/{hash}",
		USDCAddress:       common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		CCTPDomain:        6,
	},
	{
		ID:                ArcTestnet,
		Label:             "Arc Testnet",
		ShortName:         "Arc",
		ChainID:           5042002,
		EngineChain:       "Arc_Testnet",
		RPCURLs:           []string{"https://rpc.testnet.arc.network"},
		BlockExplorerURL:  "https://testnet.arcscan.app",
		ExplorerTxPattern: "https://testnet.arcscan.app/tx/{hash}",
		USDCAddress:       common.HexToAddress("0x3600000000000000000000000000000000000000"),
		CCTPDomain:        26,
	},
}

// StaticRegistry is an immutable in-memory Registry
type StaticRegistry struct {
	ordered []*Network
	byID    map[string]*Network
	byChain map[uint64]*Network
}

// NewStaticRegistry builds the registry of supported testnets, applying the
// per-network overrides keyed by network id.
func NewStaticRegistry(overrides map[string]Override) (*StaticRegistry, error) {
	for id := range overrides {
		if !isKnown(id) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, id)
		}
	}

	r := &StaticRegistry{
		byID:    make(map[string]*Network, len(testnets)),
		byChain: make(map[uint64]*Network, len(testnets)),
	}
	for _, base := range testnets {
		n := base
		n.RPCURLs = endpoints(base.RPCURLs, overrides[base.ID])
		r.ordered = append(r.ordered, &n)
		r.byID[n.ID] = &n
		r.byChain[n.ChainID] = &n
	}
	return r, nil
}

// LookupByID returns the network with the given id.
func (r *StaticRegistry) LookupByID(id string) (*Network, error) {
	n, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, id)
	}
	return n, nil
}

// LookupByChainID returns the network with the given EVM chain id.
func (r *StaticRegistry) LookupByChainID(chainID uint64) (*Network, bool) {
	n, ok := r.byChain[chainID]
	return n, ok
}

// All returns every network in display order.
func (r *StaticRegistry) All() []*Network {
	return append([]*Network(nil), r.ordered...)
}

func isKnown(id string) bool {
	for _, n := range testnets {
		if n.ID == id {
			return true
		}
	}
	return false
}

// endpoints puts the configured endpoint first, then the defaults, then the
// extra fallbacks, dropping duplicates.
func endpoints(defaults []string, o Override) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	add(o.RPCURL)
	for _, u := range defaults {
		add(u)
	}
	for _, u := range o.Fallbacks {
		add(u)
	}
	return out
}
