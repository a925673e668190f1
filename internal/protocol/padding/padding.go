package padding

import (
	"fmt"

	"chainmail/internal/domain"
)

const (
	// BlockSize is the size of every padded block.
	BlockSize = 512
	// Filler is the byte used for the unused tail of a block.
	Filler byte = 0xFF
)

// Pad returns a full block holding plaintext and the plaintext length.
func Pad(plaintext []byte) ([]byte, uint16, error) {
	if len(plaintext) >= BlockSize {
		return nil, 0, domain.E(domain.KindCodec, "pad",
			fmt.Errorf("%w: %d bytes, limit %d", domain.ErrMessageTooLarge, len(plaintext), BlockSize-1))
	}
	block := make([]byte, BlockSize)
	for i := range block {
		block[i] = Filler
	}
	copy(block, plaintext)
	return block, uint16(len(plaintext)), nil
}

// Unpad returns the first length bytes of block.
func Unpad(block []byte, length uint16) ([]byte, error) {
	if int(length) > len(block) {
		return nil, domain.E(domain.KindCodec, "unpad",
			fmt.Errorf("length %d exceeds block of %d bytes", length, len(block)))
	}
	return block[:length], nil
}
