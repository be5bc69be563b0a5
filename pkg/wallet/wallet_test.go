package wallet

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeySigner_SignAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))

	signer, err := NewKeySigner(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer.Address())

	p, err := signer.Provider(context.Background())
	require.NoError(t, err)

	msg := []byte("bridge 10 USDC from ethereum-sepolia to arc-testnet")
	sig, err := p.SignMessage(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.True(t, sig[64] == 27 || sig[64] == 28)

	addr, err := VerifyMessage(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)

	other, err := VerifyMessage([]byte("something else"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, signer.Address(), other)
}

func TestVerifyMessage_RejectsBadLength(t *testing.T) {
	_, err := VerifyMessage([]byte("m"), []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFromPrivateKey(t *testing.T) {
	s, err := FromPrivateKey("")
	require.NoError(t, err)
	_, err = s.Provider(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = FromPrivateKey("not-hex")
	assert.Error(t, err)
}
