package crypt

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxpert/binlogstream/binlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeyLen)
}

func enabledData(t *testing.T) *Data {
	t.Helper()
	d := NewData(StaticKeyring{1: testKey(0x42)})
	require.NoError(t, d.Init(SchemeAESCTR, 1, bytes.Repeat([]byte{9}, NonceLen)))
	return d
}

func TestInitValidation(t *testing.T) {
	nonce := make([]byte, NonceLen)
	keys := StaticKeyring{1: testKey(1), 2: []byte("short")}

	tests := []struct {
		name    string
		scheme  uint8
		version uint32
		nonce   []byte
		want    error
	}{
		{"unknown scheme", 2, 1, nonce, ErrUnsupportedScheme},
		{"short nonce", SchemeAESCTR, 1, nonce[:8], ErrBadNonce},
		{"missing key", SchemeAESCTR, 7, nonce, ErrKeyNotFound},
		{"short key", SchemeAESCTR, 2, nonce, ErrBadKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewData(keys)
			assert.ErrorIs(t, d.Init(tt.scheme, tt.version, tt.nonce), tt.want)
			assert.False(t, d.Enabled())
		})
	}

	d := NewData(keys)
	require.NoError(t, d.Init(SchemeAESCTR, 1, nonce))
	assert.True(t, d.Enabled())
	assert.Equal(t, uint32(1), d.KeyVersion())
	assert.ErrorIs(t, d.Init(SchemeAESCTR, 1, nonce), ErrAlreadyEnabled)

	assert.ErrorIs(t, NewData(nil).Init(SchemeAESCTR, 1, nonce), ErrKeyNotFound)
}

func TestRoundTripKeepsLengthInClear(t *testing.T) {
	d := enabledData(t)
	plain := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	cipherText := make([]byte, len(plain))
	require.NoError(t, d.Encrypt(1000, plain, cipherText))

	assert.NotEqual(t, plain, cipherText)
	assert.Equal(t, plain[9:13], cipherText[9:13])

	out := make([]byte, len(plain))
	require.NoError(t, d.Decrypt(1000, cipherText, out))
	assert.Equal(t, plain, out)

	wrong := make([]byte, len(plain))
	require.NoError(t, d.Decrypt(1001, cipherText, wrong))
	assert.NotEqual(t, plain, wrong)
}

func TestKeystreamIsContinuousAcrossOffsets(t *testing.T) {
	d := enabledData(t)
	zeros := make([]byte, 64)
	whole := make([]byte, 64)
	require.NoError(t, d.Encrypt(37, zeros, whole))

	// Re-encrypting a suffix at its own offset yields the same keystream,
	// apart from the clear length bytes.
	part := make([]byte, 40)
	require.NoError(t, d.Encrypt(37+24, zeros[:40], part))
	assert.Equal(t, whole[24:24+9], part[:9])
	assert.Equal(t, whole[24+13:64], part[13:])
}

func TestDecryptErrors(t *testing.T) {
	d := NewData(StaticKeyring{})
	assert.ErrorIs(t, d.Decrypt(4, []byte{1}, make([]byte, 1)), ErrNotEnabled)

	d = enabledData(t)
	assert.ErrorIs(t, d.Decrypt(4, make([]byte, 8), make([]byte, 4)), ErrShortBuffer)
}

func TestReset(t *testing.T) {
	d := enabledData(t)
	d.Reset()
	assert.False(t, d.Enabled())
	assert.Nil(t, d.key)
	require.NoError(t, d.Init(SchemeAESCTR, 1, make([]byte, NonceLen)))
	assert.True(t, d.Enabled())
}

func writeKeyring(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyring.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFileKeyring(t *testing.T) {
	path := writeKeyring(t, `
keys:
  - version: 1
    secret: "first secret"
  - version: 2
    secret: "second secret"
`)
	kr, err := LoadFileKeyring(path, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{1, 2}, kr.Versions())

	k1, err := kr.Key(1)
	require.NoError(t, err)
	assert.Len(t, k1, KeyLen)
	again, err := kr.Key(1)
	require.NoError(t, err)
	assert.Equal(t, k1, again)

	k2, err := kr.Key(2)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, 1, kr.Cached())

	// Evicted keys are derived again, identically.
	k1b, err := kr.Key(1)
	require.NoError(t, err)
	assert.Equal(t, k1, k1b)

	_, err = kr.Key(3)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFileKeyringRejectsBadFiles(t *testing.T) {
	_, err := LoadFileKeyring(filepath.Join(t.TempDir(), "missing.yaml"), 0)
	assert.Error(t, err)

	_, err = LoadFileKeyring(writeKeyring(t, "keys: [{version: 1, secret: \"\"}]"), 0)
	assert.Error(t, err)

	_, err = LoadFileKeyring(writeKeyring(t, "keys: [{version: 1, secret: a}, {version: 1, secret: b}]"), 0)
	assert.Error(t, err)

	_, err = LoadFileKeyring(writeKeyring(t, "keys: {"), 0)
	assert.Error(t, err)
}

type byteSource struct {
	r *bytes.Reader
}

func (b byteSource) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b byteSource) Position() uint64 {
	return 4 + uint64(b.r.Size()-int64(b.r.Len()))
}

func TestReaderDecryptsEncryptedStream(t *testing.T) {
	keys := StaticKeyring{5: testKey(0x17)}
	nonce := bytes.Repeat([]byte{0x33}, NonceLen)

	b := binlog.NewEventBuilder(binlog.ChecksumUndef)
	fde := b.FormatDescription(binlog.NewFormatDescription(4, "8.0.36", binlog.ChecksumCRC32))
	see := b.Event(binlog.StartEncryptionEvent, binlog.StartEncryptionBody(SchemeAESCTR, 5, nonce))
	q := b.Event(binlog.QueryEvent, binlog.QueryBody(1, "db", "INSERT INTO t VALUES (42)"))
	xid := b.Event(binlog.XidEvent, binlog.XidBody(9))

	writer := NewData(keys)
	require.NoError(t, writer.Init(SchemeAESCTR, 5, nonce))
	offset := uint32(4 + len(fde) + len(see))
	encQ := make([]byte, len(q))
	require.NoError(t, writer.Encrypt(offset, q, encQ))
	encXid := make([]byte, len(xid))
	require.NoError(t, writer.Encrypt(offset+uint32(len(q)), xid, encXid))

	src := byteSource{r: bytes.NewReader(binlog.Concat(fde, see, encQ, encXid))}
	state := NewData(keys)
	r := binlog.NewReader(src, binlog.ReaderOptions{Crypto: state})

	var events []binlog.Event
	for {
		ev, err := r.ReadEvent()
		if binlog.IsEOF(err) {
			break
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.Len(t, events, 4)
	assert.True(t, state.Enabled())
	assert.Equal(t, "INSERT INTO t VALUES (42)", events[2].(*binlog.Query).Statement)
	assert.Equal(t, uint64(9), events[3].(*binlog.Xid).XID)
}

func TestReaderWrongKeyReportsDecrypt(t *testing.T) {
	nonce := bytes.Repeat([]byte{0x01}, NonceLen)
	b := binlog.NewEventBuilder(binlog.ChecksumUndef)
	fde := b.FormatDescription(binlog.NewFormatDescription(4, "8.0.36", binlog.ChecksumCRC32))
	see := b.Event(binlog.StartEncryptionEvent, binlog.StartEncryptionBody(SchemeAESCTR, 1, nonce))
	xid := b.Event(binlog.XidEvent, binlog.XidBody(9))

	writer := NewData(StaticKeyring{1: testKey(1)})
	require.NoError(t, writer.Init(SchemeAESCTR, 1, nonce))
	enc := make([]byte, len(xid))
	require.NoError(t, writer.Encrypt(uint32(4+len(fde)+len(see)), xid, enc))

	src := byteSource{r: bytes.NewReader(binlog.Concat(fde, see, enc))}
	r := binlog.NewReader(src, binlog.ReaderOptions{Crypto: NewData(StaticKeyring{1: testKey(2)})})
	for i := 0; i < 2; i++ {
		_, err := r.ReadEvent()
		require.NoError(t, err)
	}
	_, err := r.ReadEvent()
	assert.ErrorIs(t, err, binlog.ErrDecrypt)
}
