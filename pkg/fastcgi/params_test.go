package fastcgi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePairsRoundTrip(t *testing.T) {
	pairs := []Pair{
		{Name: []byte("SHORT"), Value: []byte("v")},
		{Name: []byte("REQUEST_METHOD"), Value: []byte("GET")},
		{Name: []byte("EMPTY"), Value: nil},
	}
	decoded, err := DecodePairs(EncodePairs(pairs))
	require.NoError(t, err)
	require.Len(t, decoded, len(pairs))
	for i, p := range pairs {
		assert.Equal(t, p.Name, decoded[i].Name, "pair %d name", i)
		assert.True(t, bytes.Equal(p.Value, decoded[i].Value), "pair %d value", i)
	}
}

func TestEncodeLongNameUses4ByteLength(t *testing.T) {
	longName := bytes.Repeat([]byte("a"), 200)
	encoded := EncodePairs([]Pair{{Name: longName, Value: []byte("x")}})
	require.NotZero(t, encoded[0]&0x80, "200-byte name needs a 4-byte length prefix")

	decoded, err := DecodePairs(encoded)
	require.NoError(t, err)
	assert.Equal(t, longName, decoded[0].Name)
}

func TestDecodePairsLaterDuplicateWins(t *testing.T) {
	encoded := EncodePairs([]Pair{
		{Name: []byte("NAME"), Value: []byte("first")},
		{Name: []byte("OTHER"), Value: []byte("kept")},
		{Name: []byte("NAME"), Value: []byte("second")},
	})
	decoded, err := DecodePairs(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, []byte("NAME"), decoded[0].Name)
	assert.Equal(t, []byte("second"), decoded[0].Value)
	assert.Equal(t, []byte("OTHER"), decoded[1].Name)
}

func TestDecodePairsTruncated(t *testing.T) {
	// Name length present but the value length prefix is missing.
	_, err := DecodePairs([]byte{5})
	assert.ErrorIs(t, err, ErrTruncated)

	// Lengths announce more body bytes than the stream holds.
	_, err = DecodePairs([]byte{5, 1, 'a'})
	assert.ErrorIs(t, err, ErrTruncated)

	// A 4-byte length prefix cut off after its first byte.
	_, err = DecodePairs([]byte{0x80, 0x00})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodePairsEmptyStream(t *testing.T) {
	pairs, err := DecodePairs(nil)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}
