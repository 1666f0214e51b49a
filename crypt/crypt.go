package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

const (
	// SchemeAESCTR is the only scheme a start encryption event may name.
	SchemeAESCTR uint8 = 1
	NonceLen           = 12
	KeyLen             = 32

	lengthOffset = 9
	lengthLen    = 4
)

var (
	ErrAlreadyEnabled    = errors.New("crypt: decryption already enabled")
	ErrNotEnabled        = errors.New("crypt: decryption not enabled")
	ErrUnsupportedScheme = errors.New("crypt: unsupported scheme")
	ErrBadNonce          = errors.New("crypt: nonce must be 12 bytes")
	ErrBadKey            = errors.New("crypt: key must be 32 bytes")
	ErrShortBuffer       = errors.New("crypt: destination shorter than source")
)

// Data is the decryption state of one binlog stream. The whole file is one
// CTR keystream, so any event can be decrypted given its file offset. The
// event length field stays in clear so readers can frame events before
// decrypting them.
type Data struct {
	keyring    Keyring
	enabled    bool
	keyVersion uint32
	key        []byte
	nonce      [NonceLen]byte
	block      cipher.Block
}

// NewData returns a disabled state that fetches keys from keyring.
func NewData(keyring Keyring) *Data {
	return &Data{keyring: keyring}
}

func (d *Data) Enabled() bool { return d.enabled }

// KeyVersion is the version passed to the last successful Init.
func (d *Data) KeyVersion() uint32 { return d.keyVersion }

// Init enables decryption with the key of keyVersion.
func (d *Data) Init(scheme uint8, keyVersion uint32, nonce []byte) error {
	if d.enabled {
		return ErrAlreadyEnabled
	}
	if scheme != SchemeAESCTR {
		return fmt.Errorf("%w: %d", ErrUnsupportedScheme, scheme)
	}
	if len(nonce) != NonceLen {
		return ErrBadNonce
	}
	if d.keyring == nil {
		return fmt.Errorf("%w: no keyring configured", ErrKeyNotFound)
	}
	key, err := d.keyring.Key(keyVersion)
	if err != nil {
		return err
	}
	if len(key) != KeyLen {
		return ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("crypt: %w", err)
	}

	d.key = append([]byte(nil), key...)
	d.block = block
	d.keyVersion = keyVersion
	copy(d.nonce[:], nonce)
	d.enabled = true
	log.Debug().Uint32("key_version", keyVersion).Msg("Binlog crypto state initialized")
	return nil
}

// Decrypt writes the plaintext of the event src, which starts at file offset
// offset, into dst.
func (d *Data) Decrypt(offset uint32, src, dst []byte) error {
	return d.xorEvent(offset, src, dst)
}

// Encrypt is the inverse of Decrypt. It is used to build encrypted streams.
func (d *Data) Encrypt(offset uint32, src, dst []byte) error {
	return d.xorEvent(offset, src, dst)
}

func (d *Data) xorEvent(offset uint32, src, dst []byte) error {
	if !d.enabled {
		return ErrNotEnabled
	}
	if len(dst) < len(src) {
		return ErrShortBuffer
	}
	d.keystream(offset).XORKeyStream(dst[:len(src)], src)
	if len(src) >= lengthOffset+lengthLen {
		copy(dst[lengthOffset:lengthOffset+lengthLen], src[lengthOffset:lengthOffset+lengthLen])
	}
	return nil
}

// keystream positions a CTR stream at byte offset of the file.
func (d *Data) keystream(offset uint32) cipher.Stream {
	var iv [aes.BlockSize]byte
	copy(iv[:], d.nonce[:])
	binary.BigEndian.PutUint32(iv[NonceLen:], offset/aes.BlockSize)
	stream := cipher.NewCTR(d.block, iv[:])
	if skip := offset % aes.BlockSize; skip > 0 {
		var discard [aes.BlockSize]byte
		stream.XORKeyStream(discard[:skip], discard[:skip])
	}
	return stream
}

// Reset zeroes the key and disables the state so it can be initialized again.
func (d *Data) Reset() {
	for i := range d.key {
		d.key[i] = 0
	}
	d.key = nil
	d.block = nil
	d.nonce = [NonceLen]byte{}
	d.keyVersion = 0
	d.enabled = false
}
