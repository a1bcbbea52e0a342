package ply

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"strconv"

	"github.com/banshee-data/plydsm/internal/fsutil"
)

// readBufferSize is the bufio size used for tile bodies.
const readBufferSize = 256 << 10

// Reader decodes consecutive vertex records from a PLY body.
type Reader struct {
	br     *bufio.Reader
	header *Header
	order  binary.ByteOrder
	rec    []byte
	tok    []byte
	count  int64
}

// NewReader returns a Reader positioned after the header. Binary layouts with
// an unknown property type are rejected: their record width is undefined.
func NewReader(br *bufio.Reader, h *Header) (*Reader, error) {
	r := &Reader{br: br, header: h}
	switch h.Encoding {
	case BinaryLittleEndian:
		r.order = binary.LittleEndian
	case BinaryBigEndian:
		r.order = binary.BigEndian
	}
	if h.Encoding.IsBinary() {
		if unknown := h.UnknownProperties(); len(unknown) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedProperty, unknown)
		}
		r.rec = make([]byte, h.RecordWidth())
	}
	return r, nil
}

// Header returns the header the reader decodes against.
func (r *Reader) Header() *Header { return r.header }

// Records returns how many complete records have been decoded so far.
func (r *Reader) Records() int64 { return r.count }

// Next decodes one record into rec, which must have one slot per property.
//
// It returns io.EOF at the end of usable data. Binary bodies that stop part
// way through a record return ErrTruncated. For ASCII bodies running out of
// tokens is always io.EOF, and a token that is not a number returns
// ErrMalformedRecord.
func (r *Reader) Next(rec []float64) error {
	if len(rec) != len(r.header.Properties) {
		return fmt.Errorf("ply: record slice has %d slots, header has %d properties", len(rec), len(r.header.Properties))
	}
	var err error
	if r.header.Encoding.IsBinary() {
		err = r.nextBinary(rec)
	} else {
		err = r.nextASCII(rec)
	}
	if err == nil {
		r.count++
	}
	return err
}

func (r *Reader) nextBinary(rec []float64) error {
	if len(r.rec) == 0 {
		// A header with no properties has no records.
		return io.EOF
	}
	n, err := io.ReadFull(r.br, r.rec)
	switch {
	case err == io.EOF:
		return io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: record %d has %d of %d bytes", ErrTruncated, r.count, n, len(r.rec))
	case err != nil:
		return err
	}

	off := 0
	for i, p := range r.header.Properties {
		b := r.rec[off : off+p.Width()]
		switch p.Kind {
		case KindUInt8:
			rec[i] = float64(b[0])
		case KindFloat32:
			rec[i] = float64(math.Float32frombits(r.order.Uint32(b)))
		case KindFloat64:
			rec[i] = math.Float64frombits(r.order.Uint64(b))
		}
		off += p.Width()
	}
	return nil
}

func (r *Reader) nextASCII(rec []float64) error {
	for i := range rec {
		tok, err := r.token()
		if err == io.EOF {
			return io.EOF
		}
		if err != nil {
			return err
		}
		v, err := strconv.ParseFloat(string(tok), 64)
		if err != nil {
			return fmt.Errorf("%w: record %d field %q: %q", ErrMalformedRecord, r.count, r.header.Properties[i].Name, tok)
		}
		rec[i] = v
	}
	return nil
}

// token returns the next whitespace separated token. The slice is only valid
// until the next call.
func (r *Reader) token() ([]byte, error) {
	r.tok = r.tok[:0]
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			if err == io.EOF && len(r.tok) > 0 {
				return r.tok, nil
			}
			return nil, err
		}
		if isSpace(c) {
			if len(r.tok) > 0 {
				return r.tok, nil
			}
			continue
		}
		r.tok = append(r.tok, c)
	}
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// File is an open PLY tile with its header already parsed.
type File struct {
	Path   string
	Header *Header
	f      fs.File
	br     *bufio.Reader
}

// Open opens path through fsys and parses its header. A missing file yields
// an error matching fs.ErrNotExist; a bad header yields ErrMalformedHeader.
func Open(fsys fsutil.FileSystem, path string) (*File, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	br := bufio.NewReaderSize(f, readBufferSize)
	h, err := ParseHeader(br)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{Path: path, Header: h, f: f, br: br}, nil
}

// Records returns a Reader over the file body.
func (f *File) Records() (*Reader, error) {
	return NewReader(f.br, f.Header)
}

// Close releases the underlying file.
func (f *File) Close() error { return f.f.Close() }

// ReadHeader opens path, parses only its header and closes it again.
func ReadHeader(fsys fsutil.FileSystem, path string) (*Header, error) {
	f, err := Open(fsys, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Header, nil
}
