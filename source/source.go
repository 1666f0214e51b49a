package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// Magic opens every binlog file.
var Magic = []byte{0xfe, 'b', 'i', 'n'}

// MagicLen is also the position of the first event.
const MagicLen = 4

const readBufferSize = 64 * 1024

var (
	ErrBadMagic    = errors.New("source: missing binlog magic")
	ErrNotSeekable = errors.New("source: not seekable")
)

// Source is a positioned event byte stream that owns an underlying resource.
type Source interface {
	io.Reader
	io.Closer
	Position() uint64
}

// Seeker is implemented by sources that can rewind, which follow mode needs
// to retry an event that was only partly written.
type Seeker interface {
	SeekTo(pos uint64) error
}

func checkMagic(r io.Reader, name string) error {
	var magic [MagicLen]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %s is shorter than the magic", ErrBadMagic, name)
		}
		return err
	}
	if !bytes.Equal(magic[:], Magic) {
		return fmt.Errorf("%w: %s starts with %x", ErrBadMagic, name, magic)
	}
	return nil
}

// File reads an uncompressed binlog file.
type File struct {
	path string
	f    *os.File
	r    *bufio.Reader
	pos  uint64
}

// Open opens path and checks its magic. The position starts at the first event.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReaderSize(f, readBufferSize)
	if err := checkMagic(r, path); err != nil {
		f.Close()
		return nil, err
	}
	return &File{path: path, f: f, r: r, pos: MagicLen}, nil
}

func (s *File) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.pos += uint64(n)
	return n, err
}

func (s *File) Position() uint64 { return s.pos }

func (s *File) Path() string { return s.path }

// SeekTo moves to an absolute file offset. Offsets inside the magic are refused.
func (s *File) SeekTo(pos uint64) error {
	if pos < MagicLen {
		return fmt.Errorf("source: seek to %d inside the magic", pos)
	}
	if _, err := s.f.Seek(int64(pos), io.SeekStart); err != nil {
		return err
	}
	s.r.Reset(s.f)
	s.pos = pos
	return nil
}

func (s *File) Close() error {
	return s.f.Close()
}

// Compressed reads a zstd-compressed binlog archive. Positions are offsets in
// the decompressed stream.
type Compressed struct {
	path string
	f    *os.File
	dec  *zstd.Decoder
	pos  uint64
}

// OpenCompressed opens a .zst archive and checks the magic of its content.
func OpenCompressed(path string) (*Compressed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(bufio.NewReaderSize(f, readBufferSize))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	if err := checkMagic(dec, path); err != nil {
		dec.Close()
		f.Close()
		return nil, err
	}
	return &Compressed{path: path, f: f, dec: dec, pos: MagicLen}, nil
}

func (s *Compressed) Read(p []byte) (int, error) {
	n, err := s.dec.Read(p)
	s.pos += uint64(n)
	return n, err
}

func (s *Compressed) Position() uint64 { return s.pos }

func (s *Compressed) Path() string { return s.path }

func (s *Compressed) Close() error {
	s.dec.Close()
	return s.f.Close()
}

// OpenAuto picks the reader by extension.
func OpenAuto(path string) (Source, error) {
	if strings.HasSuffix(path, ".zst") {
		log.Debug().Str("path", path).Msg("Opening compressed binlog")
		return OpenCompressed(path)
	}
	return Open(path)
}

// Bytes serves events from memory. base is the position of the first byte.
type Bytes struct {
	r    *bytes.Reader
	base uint64
}

// NewBytes wraps data, which holds events without the file magic.
func NewBytes(data []byte, base uint64) *Bytes {
	return &Bytes{r: bytes.NewReader(data), base: base}
}

func (b *Bytes) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *Bytes) Position() uint64 {
	return b.base + uint64(b.r.Size()-int64(b.r.Len()))
}

func (b *Bytes) SeekTo(pos uint64) error {
	if pos < b.base {
		return fmt.Errorf("source: seek to %d before base %d", pos, b.base)
	}
	_, err := b.r.Seek(int64(pos-b.base), io.SeekStart)
	return err
}

func (b *Bytes) Close() error { return nil }

// Compress writes data as a zstd stream. Tests and archiving tools use it to
// produce inputs for OpenCompressed.
func Compress(w io.Writer, data []byte) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}
