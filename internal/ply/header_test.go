package ply

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, text string) (*Header, error) {
	t.Helper()
	return ParseHeader(bufio.NewReader(strings.NewReader(text)))
}

func TestParseHeader_Binary(t *testing.T) {
	h, err := parse(t, strings.Join([]string{
		"ply",
		"format binary_little_endian 1.0",
		"comment projection: UTM 31N",
		"element vertex 3",
		"property double x",
		"property double y",
		"property float z",
		"property uchar red",
		"end_header",
		"",
	}, "\n"))
	require.NoError(t, err)

	assert.Equal(t, BinaryLittleEndian, h.Encoding)
	assert.Equal(t, "31N", h.Zone)
	assert.Equal(t, 3, h.VertexCount)
	assert.Equal(t, []Property{
		{Name: "x", Kind: KindFloat64},
		{Name: "y", Kind: KindFloat64},
		{Name: "z", Kind: KindFloat32},
		{Name: "red", Kind: KindUInt8},
	}, h.Properties)
	assert.Equal(t, 8+8+4+1, h.RecordWidth())
}

func TestParseHeader_ASCIIAndCRLF(t *testing.T) {
	h, err := parse(t, "ply\r\nformat ascii 1.0\r\nproperty float x\r\nend_header\r\n1 2 3\n")
	require.NoError(t, err)
	assert.Equal(t, ASCII, h.Encoding)
	assert.Empty(t, h.Zone)
	require.Len(t, h.Properties, 1)
}

func TestParseHeader_DefaultsToBinary(t *testing.T) {
	h, err := parse(t, "ply\nproperty float x\nend_header\n")
	require.NoError(t, err)
	assert.Equal(t, BinaryLittleEndian, h.Encoding)
}

func TestParseHeader_BigEndian(t *testing.T) {
	h, err := parse(t, "ply\nformat binary_big_endian 1.0\nproperty float x\nend_header\n")
	require.NoError(t, err)
	assert.Equal(t, BinaryBigEndian, h.Encoding)
	assert.True(t, h.Encoding.IsBinary())
}

func TestParseHeader_UnknownTypeDoesNotFail(t *testing.T) {
	h, err := parse(t, "ply\nformat ascii 1.0\nproperty int flags\nproperty float x\nend_header\n")
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, h.Properties[0].Kind)
	assert.Equal(t, 0, h.Properties[0].Width())
	assert.Equal(t, 0, h.RecordWidth())
	assert.Equal(t, []string{"flags"}, h.UnknownProperties())
}

func TestParseHeader_FirstZoneWins(t *testing.T) {
	h, err := parse(t, "ply\ncomment projection: UTM 28N\ncomment projection: UTM 29N\nend_header\n")
	require.NoError(t, err)
	assert.Equal(t, "28N", h.Zone)
}

func TestParseHeader_IgnoresOtherProjections(t *testing.T) {
	h, err := parse(t, "ply\ncomment projection: LAMBERT93\ncomment made by hand\nend_header\n")
	require.NoError(t, err)
	assert.Empty(t, h.Zone)
}

func TestParseHeader_Malformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing end_header", "ply\nformat ascii 1.0\nproperty float x\n"},
		{"empty input", ""},
		{"property without name", "ply\nproperty float\nend_header\n"},
		{"oversized header", "ply\n" + strings.Repeat("comment padding padding padding\n", 4096)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.text)
			assert.ErrorIs(t, err, ErrMalformedHeader)
		})
	}
}

func TestParseHeader_EndHeaderAtEOF(t *testing.T) {
	h, err := parse(t, "ply\nformat ascii 1.0\nproperty float x\nend_header")
	require.NoError(t, err)
	assert.Len(t, h.Properties, 1)
}

func TestParseKind(t *testing.T) {
	tests := map[string]ScalarKind{
		"uchar":   KindUInt8,
		"uint8":   KindUInt8,
		"float":   KindFloat32,
		"float32": KindFloat32,
		"double":  KindFloat64,
		"float64": KindFloat64,
		"int":     KindUnknown,
		"list":    KindUnknown,
	}
	for token, want := range tests {
		assert.Equal(t, want, ParseKind(token), token)
	}
	assert.Equal(t, 1, KindUInt8.Width())
	assert.Equal(t, 4, KindFloat32.Width())
	assert.Equal(t, 8, KindFloat64.Width())
}
