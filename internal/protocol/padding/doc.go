// Package padding pads plaintext into fixed 512-byte blocks.
//
// Every message is encrypted as one full block so ciphertext sizes do not
// depend on message length. The block is filled with Filler and the
// plaintext is laid over it from offset 0; the real length travels next to
// the ciphertext in the envelope header.
package padding
