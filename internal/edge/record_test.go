package edge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		Version:      Version,
		Flags:        0,
		SymbolID:     3,
		Seq:          42,
		ExchangeTsNs: 1700000000000000000,
		EdgeTsNs:     1700000000000500000,
		Bid:          5000000000000,
		Ask:          5000100000000,
		BidQty:       100000000,
		AskQty:       200000000,
		UpdateID:     999,
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	r := sampleRecord()
	buf := Encode(r)
	assert.Len(t, buf, RecordSize)

	got, err := Decode(buf[:])
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestCRC_Idempotent(t *testing.T) {
	r := sampleRecord()
	buf1 := Encode(r)
	buf2 := Encode(r)
	assert.Equal(t, buf1, buf2)
}

func TestDecode_WrongLength(t *testing.T) {
	_, err := Decode(make([]byte, 75))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrongLength))
}

func TestDecode_BadMagic(t *testing.T) {
	buf := Encode(sampleRecord())
	buf[0] ^= 0xFF
	_, err := Decode(buf[:])
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestDecode_BadVersion(t *testing.T) {
	r := sampleRecord()
	buf := Encode(r)
	buf[2] = 9
	// version lives before the CRC-covered region boundary, so flipping
	// it also invalidates the CRC; version is checked first regardless.
	_, err := Decode(buf[:])
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestDecode_BadCRC(t *testing.T) {
	buf := Encode(sampleRecord())
	buf[75] ^= 0xFF
	_, err := Decode(buf[:])
	assert.ErrorIs(t, err, ErrBadCRC)
}

func TestIsHeartbeat(t *testing.T) {
	r := sampleRecord()
	r.SymbolID = HeartbeatSymbolID
	r.Flags = FlagHeartbeat
	assert.True(t, r.IsHeartbeat())

	r2 := sampleRecord()
	assert.False(t, r2.IsHeartbeat())
}
