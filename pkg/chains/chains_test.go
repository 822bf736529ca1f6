package chains

import (
	"crypto/rand"
	"regexp"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stars-network/frost-wallet-go/pkg/config"
	"github.com/stars-network/frost-wallet-go/pkg/curve"
)

var ethAddressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

func randomGroupKey(t *testing.T, tag config.CurveType) []byte {
	t.Helper()
	suite, err := curve.ForCurve(tag)
	require.NoError(t, err)
	g := suite.Group
	s, err := g.RandomScalar(rand.Reader)
	require.NoError(t, err)
	return g.NewPoint().ScalarMult(s, g.Generator()).Bytes()
}

func TestEthereumAddressShape(t *testing.T) {
	pub := randomGroupKey(t, config.CurveTypeSecp256k1)
	require.Len(t, pub, 33)

	addr, err := EthereumAddress(pub)
	require.NoError(t, err)
	assert.Regexp(t, ethAddressPattern, addr)
}

func TestEthereumAddressDeterministic(t *testing.T) {
	pub := randomGroupKey(t, config.CurveTypeSecp256k1)

	addrA, err := EthereumAddress(pub)
	require.NoError(t, err)
	addrB, err := EthereumAddress(pub)
	require.NoError(t, err)
	assert.Equal(t, addrA, addrB)
}

func TestEthereumAddressRejectsGarbage(t *testing.T) {
	_, err := EthereumAddress([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestSolanaAddressRoundTrip(t *testing.T) {
	pub := randomGroupKey(t, config.CurveTypeEd25519)
	require.Len(t, pub, 32)

	addr, err := SolanaAddress(pub)
	require.NoError(t, err)

	decoded, err := base58.Decode(addr)
	require.NoError(t, err)
	assert.Equal(t, pub, decoded)
}

func TestSolanaAddressRejectsWrongLength(t *testing.T) {
	_, err := SolanaAddress(make([]byte, 31))
	assert.Error(t, err)
}

func TestDeriveAddresses(t *testing.T) {
	secpKey := randomGroupKey(t, config.CurveTypeSecp256k1)
	addrs, err := DeriveAddresses(config.CurveTypeSecp256k1, secpKey)
	require.NoError(t, err)
	require.Contains(t, addrs, BlockchainEthereum)
	assert.Regexp(t, ethAddressPattern, addrs[BlockchainEthereum])

	edKey := randomGroupKey(t, config.CurveTypeEd25519)
	addrs, err = DeriveAddresses(config.CurveTypeEd25519, edKey)
	require.NoError(t, err)
	require.Contains(t, addrs, BlockchainSolana)

	_, err = DeriveAddresses(config.CurveTypeUnknown, secpKey)
	assert.Error(t, err)
}
