package ply

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Writer encodes a header and vertex records. It is the inverse of Reader and
// is used to produce synthetic tiles.
type Writer struct {
	bw      *bufio.Writer
	header  *Header
	order   binary.ByteOrder
	scratch []byte
}

// NewWriter returns a Writer for h. Every property must have a known kind.
func NewWriter(w io.Writer, h *Header) (*Writer, error) {
	if unknown := h.UnknownProperties(); len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedProperty, unknown)
	}
	wr := &Writer{bw: bufio.NewWriter(w), header: h, scratch: make([]byte, 8)}
	if h.Encoding == BinaryBigEndian {
		wr.order = binary.BigEndian
	} else {
		wr.order = binary.LittleEndian
	}
	return wr, nil
}

// WriteHeader emits the header through end_header.
func (w *Writer) WriteHeader() error {
	h := w.header
	fmt.Fprintf(w.bw, "ply\nformat %s 1.0\n", h.Encoding)
	if h.Zone != "" {
		fmt.Fprintf(w.bw, "comment projection: UTM %s\n", h.Zone)
	}
	fmt.Fprintf(w.bw, "element vertex %d\n", h.VertexCount)
	for _, p := range h.Properties {
		fmt.Fprintf(w.bw, "property %s %s\n", p.Kind, p.Name)
	}
	_, err := w.bw.WriteString("end_header\n")
	return err
}

// WriteRecord encodes one record. Values are first quantised to each
// property's kind so that binary and ASCII output decode to identical values.
func (w *Writer) WriteRecord(values []float64) error {
	props := w.header.Properties
	if len(values) != len(props) {
		return fmt.Errorf("ply: record has %d values, header has %d properties", len(values), len(props))
	}
	for i, p := range props {
		v := Quantize(p.Kind, values[i])
		if !w.header.Encoding.IsBinary() {
			if i > 0 {
				w.bw.WriteByte(' ')
			}
			w.bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			continue
		}
		b := w.scratch[:p.Width()]
		switch p.Kind {
		case KindUInt8:
			b[0] = uint8(v)
		case KindFloat32:
			w.order.PutUint32(b, math.Float32bits(float32(v)))
		case KindFloat64:
			w.order.PutUint64(b, math.Float64bits(v))
		}
		if _, err := w.bw.Write(b); err != nil {
			return err
		}
	}
	if !w.header.Encoding.IsBinary() {
		return w.bw.WriteByte('\n')
	}
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error { return w.bw.Flush() }

// Quantize rounds v to the precision representable by kind.
func Quantize(kind ScalarKind, v float64) float64 {
	switch kind {
	case KindUInt8:
		switch {
		case math.IsNaN(v) || v <= 0:
			return 0
		case v >= 255:
			return 255
		}
		return math.Trunc(v)
	case KindFloat32:
		return float64(float32(v))
	}
	return v
}
