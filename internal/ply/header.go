// Package ply decodes PLY point-cloud tiles one record at a time.
//
// Only what the DSM pipeline needs is supported: a single flat vertex record
// of uchar/float/double scalars, stored either as binary (little or big
// endian) or whitespace separated ASCII, plus the "comment projection: UTM"
// convention used by the tile producer to carry the UTM zone.
package ply

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxHeaderBytes bounds how far we read looking for end_header so that a
// headerless binary blob is rejected instead of being scanned to EOF.
const maxHeaderBytes = 64 << 10

var (
	// ErrMalformedHeader is returned when the header cannot be parsed.
	ErrMalformedHeader = errors.New("ply: malformed header")
	// ErrTruncated is returned when a binary record ends mid-way.
	ErrTruncated = errors.New("ply: truncated record")
	// ErrMalformedRecord is returned when an ASCII token is not a number.
	ErrMalformedRecord = errors.New("ply: malformed record")
	// ErrUnsupportedProperty is returned when a binary layout contains a
	// property whose width is unknown.
	ErrUnsupportedProperty = errors.New("ply: unsupported property type")
)

// ScalarKind is the storage type of one property.
type ScalarKind int

const (
	KindUnknown ScalarKind = iota
	KindUInt8
	KindFloat32
	KindFloat64
)

// Width returns the encoded size in bytes, 0 for KindUnknown.
func (k ScalarKind) Width() int {
	switch k {
	case KindUInt8:
		return 1
	case KindFloat32:
		return 4
	case KindFloat64:
		return 8
	}
	return 0
}

func (k ScalarKind) String() string {
	switch k {
	case KindUInt8:
		return "uchar"
	case KindFloat32:
		return "float"
	case KindFloat64:
		return "double"
	}
	return "unknown"
}

// ParseKind maps a PLY type token to a ScalarKind. Unrecognised tokens map to
// KindUnknown rather than failing.
func ParseKind(token string) ScalarKind {
	switch token {
	case "uchar", "uint8":
		return KindUInt8
	case "float", "float32":
		return KindFloat32
	case "double", "float64":
		return KindFloat64
	}
	return KindUnknown
}

// Encoding is the body encoding declared by the format line.
type Encoding int

const (
	BinaryLittleEndian Encoding = iota
	ASCII
	BinaryBigEndian
)

func (e Encoding) String() string {
	switch e {
	case ASCII:
		return "ascii"
	case BinaryBigEndian:
		return "binary_big_endian"
	}
	return "binary_little_endian"
}

// IsBinary reports whether records are fixed-width binary.
func (e Encoding) IsBinary() bool { return e != ASCII }

// Property is one column of the vertex record.
type Property struct {
	Name string
	Kind ScalarKind
}

// Width returns the encoded width derived from Kind.
func (p Property) Width() int { return p.Kind.Width() }

// Header describes the record layout of one PLY file.
type Header struct {
	Encoding   Encoding
	Properties []Property
	// Zone is the UTM zone token (e.g. "31N") or "" when undeclared.
	Zone string
	// VertexCount is informational; decoding never relies on it.
	VertexCount int
}

// RecordWidth returns the byte width of one binary record, or 0 if any
// property has an unknown width.
func (h *Header) RecordWidth() int {
	total := 0
	for _, p := range h.Properties {
		w := p.Width()
		if w == 0 {
			return 0
		}
		total += w
	}
	return total
}

// UnknownProperties returns the names of properties with KindUnknown.
func (h *Header) UnknownProperties() []string {
	var names []string
	for _, p := range h.Properties {
		if p.Kind == KindUnknown {
			names = append(names, p.Name)
		}
	}
	return names
}

// ParseHeader consumes header lines from br up to and including end_header.
// On return br is positioned at the first byte of the body.
func ParseHeader(br *bufio.Reader) (*Header, error) {
	h := &Header{Encoding: BinaryLittleEndian}
	read := 0
	zoneSeen := false

	for lineNo := 1; ; lineNo++ {
		raw, err := br.ReadString('\n')
		read += len(raw)
		if read > maxHeaderBytes {
			return nil, fmt.Errorf("%w: no end_header within %d bytes", ErrMalformedHeader, maxHeaderBytes)
		}
		line := strings.TrimRight(raw, "\r\n")
		if err != nil && (err != io.EOF || line != "end_header") {
			if err == io.EOF {
				return nil, fmt.Errorf("%w: missing end_header", ErrMalformedHeader)
			}
			return nil, err
		}

		switch {
		case line == "end_header":
			return h, nil
		case line == "format binary_little_endian 1.0":
			h.Encoding = BinaryLittleEndian
		case line == "format binary_big_endian 1.0":
			h.Encoding = BinaryBigEndian
		case line == "format ascii 1.0":
			h.Encoding = ASCII
		case strings.HasPrefix(line, "property "):
			fields := strings.Fields(line)
			if len(fields) < 3 {
				return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedHeader, lineNo, line)
			}
			h.Properties = append(h.Properties, Property{Name: fields[2], Kind: ParseKind(fields[1])})
		case strings.HasPrefix(line, "element vertex "):
			n, convErr := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "element vertex ")))
			if convErr == nil {
				h.VertexCount = n
			}
		case strings.HasPrefix(line, "comment projection:"):
			fields := strings.Fields(strings.TrimPrefix(line, "comment projection:"))
			if !zoneSeen && len(fields) >= 2 && fields[0] == "UTM" {
				h.Zone = fields[1]
				zoneSeen = true
			}
		}
	}
}
