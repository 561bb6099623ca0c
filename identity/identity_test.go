package identity

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePairsAreDistinct(t *testing.T) {
	first, err := GenerateKeyPair()
	require.NoError(t, err)
	second, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, first.Public, second.Public)
	assert.NotEqual(t, first.Private, second.Private)
}

func TestFromSecretKeyDerivesMatchingPublic(t *testing.T) {
	original, err := GenerateKeyPair()
	require.NoError(t, err)

	derived, err := FromSecretKey(original.Private)
	require.NoError(t, err)
	assert.Equal(t, original.Public, derived.Public)
}

func TestFromSecretKeyRejectsZeroKey(t *testing.T) {
	_, err := FromSecretKey([32]byte{})
	assert.Error(t, err)
}

func TestNodeIDRoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	nodeID := id.NodeID()
	assert.Len(t, nodeID, nodeIDLen*2)

	publicKey, err := ParseNodeID(nodeID)
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), publicKey)
}

func TestNodeIDIsStable(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)

	first, err := FromKeyPair(keyPair)
	require.NoError(t, err)
	second, err := FromKeyPair(keyPair)
	require.NoError(t, err)

	assert.Equal(t, first.NodeID(), second.NodeID())
}

func TestFromKeyPairRejectsNil(t *testing.T) {
	_, err := FromKeyPair(nil)
	assert.Error(t, err)
}

func TestParseNodeIDRejectsBadInput(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	valid := id.NodeID()

	t.Run("wrong length", func(t *testing.T) {
		_, err := ParseNodeID(valid[:10])
		assert.Error(t, err)
	})

	t.Run("not hex", func(t *testing.T) {
		bad := "zz" + valid[2:]
		_, err := ParseNodeID(bad)
		assert.Error(t, err)
	})

	t.Run("corrupted checksum", func(t *testing.T) {
		raw, err := hex.DecodeString(valid)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xFF
		_, err = ParseNodeID(hex.EncodeToString(raw))
		assert.Error(t, err)
	})

	t.Run("corrupted key byte", func(t *testing.T) {
		raw, err := hex.DecodeString(valid)
		require.NoError(t, err)
		raw[0] ^= 0x01
		_, err = ParseNodeID(hex.EncodeToString(raw))
		assert.Error(t, err, "flipping a key bit must break the checksum")
	})
}
