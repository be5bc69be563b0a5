package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRegistry_Lookups(t *testing.T) {
	r, err := NewStaticRegistry(nil)
	require.NoError(t, err)

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, EthereumSepolia, all[0].ID)

	arc, err := r.LookupByID(ArcTestnet)
	require.NoError(t, err)
	assert.Equal(t, uint64(5042002), arc.ChainID)

	base, ok := r.LookupByChainID(84532)
	require.True(t, ok)
	assert.Equal(t, BaseSepolia, base.ID)

	_, err = r.LookupByID("solana-devnet")
	assert.ErrorIs(t, err, ErrUnknownNetwork)

	_, ok = r.LookupByChainID(1)
	assert.False(t, ok)
}

func TestStaticRegistry_Overrides(t *testing.T) {
	r, err := NewStaticRegistry(map[string]Override{
		BaseSepolia: {
			RPCURL:    "https://base.example.org",
			Fallbacks: []string{"https://sepolia.base.org", "https://base-2.example.org"},
		},
	})
	require.NoError(t, err)

	base, err := r.LookupByID(BaseSepolia)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://base.example.org",
		"https://sepolia.base.org",
		"https://base-sepolia-rpc.publicnode.com",
		"https://base-2.example.org",
	}, base.RPCURLs)

	sep, err := r.LookupByID(EthereumSepolia)
	require.NoError(t, err)
	assert.Equal(t, "https://sepolia.drpc.org", sep.RPCURLs[0])

	_, err = NewStaticRegistry(map[string]Override{"mainnet": {RPCURL: "https://x"}})
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestNetwork_TxURL(t *testing.T) {
	r, err := NewStaticRegistry(nil)
	require.NoError(t, err)
	arc, _ := r.LookupByID(ArcTestnet)

	assert.Equal(t, "https://testnet.arcscan.app/tx/0xabc", arc.TxURL("0xabc"))
	assert.Empty(t, arc.TxURL(""))

	var missing *Network
	assert.Empty(t, missing.TxURL("0xabc"))
}
