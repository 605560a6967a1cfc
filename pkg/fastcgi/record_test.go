package fastcgi

import (
	"bytes"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	require.NoError(t, err, "bad hex literal")
	return b
}

func TestParseBeginRequest(t *testing.T) {
	data := mustHex(t, "01 01 31DA 0008 00 00 0002 01 0000000000")
	rec, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)

	want, err := NewBeginRequestRecord(0x31DA, 0, RoleAuthorizer, true)
	require.NoError(t, err)
	assert.True(t, Equal(rec, want), "got %+v, want %+v", rec, want)
}

func TestParseEndRequest(t *testing.T) {
	data := mustHex(t, "01 03 4438 0008 00 00 1E30DB12 01 000000")
	rec, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)

	want, err := NewEndRequestRecord(0x4438, 0, 0x1E30DB12, StatusCantMultiplexConn)
	require.NoError(t, err)
	assert.True(t, Equal(rec, want), "got %+v, want %+v", rec, want)
}

func TestParseGetValues(t *testing.T) {
	data := mustHex(t, "01 09 0000 0013 00 00 05 80000000 44454C5441 80000004 00 414C4641")
	rec, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)

	gv, ok := rec.(*GetValuesRecord)
	require.True(t, ok, "got %T, want *GetValuesRecord", rec)
	assert.Equal(t, []string{"DELTA", "ALFA"}, gv.Names)
}

func TestParseCustomType(t *testing.T) {
	data := mustHex(t, "01 FE CA04 0005 03 00 F0E31CF2C6 000000")
	rec, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)

	custom, ok := rec.(*CustomRecord)
	require.True(t, ok, "got %T, want *CustomRecord", rec)
	assert.Equal(t, RecordType(254), custom.Tag)
	assert.Equal(t, uint16(0xCA04), custom.RequestID())
	assert.Equal(t, uint8(3), custom.PaddingLength())
	assert.Equal(t, mustHex(t, "F0E31CF2C6"), custom.Data)
}

func TestParseGetValuesCollapsesDuplicateNames(t *testing.T) {
	content := EncodePairs([]Pair{
		{Name: []byte("ALFA")},
		{Name: []byte("ALFA")},
		{Name: []byte("BETA")},
	})
	frame := append([]byte{Version1, byte(TypeGetValues), 0, 0, 0, byte(len(content)), 0, 0}, content...)

	rec, err := Parse(bytes.NewReader(frame))
	require.NoError(t, err)
	gv, ok := rec.(*GetValuesRecord)
	require.True(t, ok, "got %T, want *GetValuesRecord", rec)
	assert.Equal(t, []string{"ALFA", "BETA"}, gv.Names)
}

func TestSerializeUnknownType(t *testing.T) {
	rec, err := NewUnknownTypeRecord(0, 0xFF)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, rec))
	assert.Equal(t, mustHex(t, "01 0B 0000 0008 00 00 FF 00000000000000"), buf.Bytes())
}

func TestRoundTrip(t *testing.T) {
	records := []Record{
		mustBeginRequest(t, 1, RoleResponder, false),
		mustBeginRequest(t, 7, RoleFilter, true),
		mustParams(t, 3, []byte("NAME\x00value")),
		mustStdin(t, 9, []byte("hello")),
		mustEndRequest(t, 2, 42, StatusOverloaded),
	}
	for _, rec := range records {
		var buf bytes.Buffer
		require.NoError(t, Serialize(&buf, rec))
		got, err := Parse(&buf)
		require.NoError(t, err)
		assert.True(t, Equal(got, rec), "round-trip mismatch: got %+v, want %+v", got, rec)
	}
}

func TestFramingSize(t *testing.T) {
	rec, err := NewStdoutRecord(1, 5, []byte("abc"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, rec))
	assert.Equal(t, headerLen+3+5, buf.Len())
}

func TestConstructionBounds(t *testing.T) {
	_, err := NewStdoutRecord(1<<16, 0, nil)
	assert.ErrorIs(t, err, ErrValueOutOfRange, "request_id >= 2^16")

	_, err = NewStdoutRecord(1, 1<<8, nil)
	assert.ErrorIs(t, err, ErrValueOutOfRange, "padding_length >= 2^8")

	_, err = NewStdoutRecord(0, 0, nil)
	assert.ErrorIs(t, err, ErrValueOutOfRange, "request-scoped record with request_id == 0")

	_, err = NewGetValuesRecord(0, nil)
	assert.NoError(t, err, "management record with request_id == 0")

	_, err = NewBeginRequestRecord(1, 0, Role(99), false)
	assert.ErrorIs(t, err, ErrUnknownRole)

	// Content must fit the header's 16-bit length field.
	_, err = NewStdoutRecord(1, 0, make([]byte, 1<<16))
	assert.ErrorIs(t, err, ErrValueOutOfRange, "content >= 2^16")

	_, err = NewCustomRecord(254, 1, 0, make([]byte, 1<<16))
	assert.ErrorIs(t, err, ErrValueOutOfRange, "custom content >= 2^16")

	_, err = NewStdinRecord(1, 0, make([]byte, 1<<16-1))
	assert.NoError(t, err, "content of exactly 65535 bytes")
}

func TestSerializeRejectsOversizedPairStream(t *testing.T) {
	// GetValuesResult content is built from the pairs at serialize time,
	// so the length bound is enforced there rather than at construction.
	rec, err := NewGetValuesResultRecord(0, []Pair{
		{Name: []byte("BIG"), Value: bytes.Repeat([]byte("v"), 1<<16)},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.ErrorIs(t, Serialize(&buf, rec), ErrValueOutOfRange)
}

func TestVersionRejection(t *testing.T) {
	data := mustHex(t, "02 01 0001 0000 00 00")
	_, err := Parse(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestParseReservedFlagBit(t *testing.T) {
	// BeginRequest with flags = 0x03: bit 1 is undefined and must be zero.
	data := mustHex(t, "01 01 0001 0008 00 00 0001 03 0000000000")
	_, err := Parse(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrReservedBitSet)
}

func TestParseTruncatedHeader(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte{0x01, 0x01, 0x00}))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestParseCleanEOF(t *testing.T) {
	// A stream with zero bytes left is a clean close, reported as a bare
	// io.EOF rather than a truncation.
	_, err := Parse(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func mustBeginRequest(t *testing.T, id uint32, role Role, keepConn bool) *BeginRequestRecord {
	t.Helper()
	r, err := NewBeginRequestRecord(id, 0, role, keepConn)
	require.NoError(t, err)
	return r
}

func mustParams(t *testing.T, id uint32, data []byte) *ParamsRecord {
	t.Helper()
	r, err := NewParamsRecord(id, 0, data)
	require.NoError(t, err)
	return r
}

func mustStdin(t *testing.T, id uint32, data []byte) *StdinRecord {
	t.Helper()
	r, err := NewStdinRecord(id, 0, data)
	require.NoError(t, err)
	return r
}

func mustEndRequest(t *testing.T, id uint32, appStatus uint32, status ProtocolStatus) *EndRequestRecord {
	t.Helper()
	r, err := NewEndRequestRecord(id, 0, appStatus, status)
	require.NoError(t, err)
	return r
}
