package chain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

func TestFromCoinType(t *testing.T) {
	cases := map[uint32]ID{
		0:   Bitcoin,
		1:   BitcoinTestnet,
		2:   Litecoin,
		60:  Ethereum,
		118: Cosmos,
		144: XRP,
		501: Solana,
	}
	for coinType, expected := range cases {
		id, err := FromCoinType(coinType)
		require.NoError(t, err)
		assert.Equal(t, expected, id)
	}

	_, err := FromCoinType(9999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, signerr.ErrUnsupportedChain))
}

func TestLookup(t *testing.T) {
	info, err := Lookup(Polygon)
	require.NoError(t, err)
	assert.Equal(t, FamilyEVM, info.Family)
	assert.Equal(t, uint64(137), info.NumericID)
	assert.Equal(t, "Ethereum", info.AppName)

	_, err = Lookup("dogecoin")
	assert.True(t, errors.Is(err, signerr.ErrUnsupportedChain))
}

func TestFromNumericID(t *testing.T) {
	id, ok := FromNumericID(8453)
	require.True(t, ok)
	assert.Equal(t, Base, id)

	_, ok = FromNumericID(424242)
	assert.False(t, ok)
}

func TestAllIsSortedAndComplete(t *testing.T) {
	all := All()
	require.Len(t, all, len(registry))
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}
