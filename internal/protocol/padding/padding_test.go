package padding_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainmail/internal/domain"
	"chainmail/internal/protocol/padding"
)

func TestPadUnpad_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  []byte
	}{
		{"empty", nil},
		{"short", []byte("hi")},
		{"filler bytes inside", bytes.Repeat([]byte{padding.Filler}, 10)},
		{"largest", bytes.Repeat([]byte{'a'}, padding.BlockSize-1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			block, n, err := padding.Pad(tc.msg)
			require.NoError(t, err)
			assert.Len(t, block, padding.BlockSize)
			assert.Equal(t, uint16(len(tc.msg)), n)

			got, err := padding.Unpad(block, n)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tc.msg, got))
		})
	}
}

func TestPad_FillsWithSentinel(t *testing.T) {
	block, _, err := padding.Pad([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), block[:3])
	for _, b := range block[3:] {
		require.Equal(t, padding.Filler, b)
	}
}

func TestPad_TooLarge(t *testing.T) {
	for _, size := range []int{padding.BlockSize, padding.BlockSize + 1, 4096} {
		_, _, err := padding.Pad(make([]byte, size))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrMessageTooLarge))
		assert.Equal(t, domain.KindCodec, domain.KindOf(err))
	}
}

func TestUnpad_LengthBeyondBlock(t *testing.T) {
	_, err := padding.Unpad(make([]byte, 4), 5)
	require.Error(t, err)
	assert.Equal(t, domain.KindCodec, domain.KindOf(err))
}
