// Package edge implements the binary Edge Record wire format and the
// two processes built on it: the Edge Receiver (emits over UDP) and the
// Edge Consumer (receives, validates, reorders, and fails over).
//
// The 76-byte packed layout is hand-encoded with encoding/binary rather
// than binary.Write over a Go struct, grounded on the same byte-level
// cursor technique the corpus uses for its NTP packet codec
// (other_examples' facebook-time ntp/protocol/packet.go ReadNTPPacket /
// BytesToPacket), because the wire layout's 3-byte reserved field has no
// natural Go struct representation that binary.Write could pack without
// also emitting compiler alignment padding.
package edge

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// RecordSize is the fixed wire size of one Edge Record, in bytes.
	RecordSize = 76
	// Magic identifies a well-formed Edge Record.
	Magic uint16 = 0xED6E
	// Version is the only wire format version this package emits/accepts.
	Version uint8 = 1

	// HeartbeatSymbolID marks a heartbeat/all-symbols record.
	HeartbeatSymbolID uint8 = 0xFF

	FlagGapDetected uint8 = 1 << 0
	FlagHeartbeat   uint8 = 1 << 1
	FlagStale       uint8 = 1 << 2
	FlagReconnecting uint8 = 1 << 3
)

// Record is the in-memory form of one Edge Record.
type Record struct {
	Version      uint8
	Flags        uint8
	SymbolID     uint8
	Seq          uint64
	ExchangeTsNs int64
	EdgeTsNs     int64
	Bid          int64
	Ask          int64
	BidQty       int64
	AskQty       int64
	UpdateID     uint64
}

// Encode writes r into a fresh 76-byte little-endian buffer, computing
// and trailing the CRC32 over bytes [0, 72).
func Encode(r Record) [RecordSize]byte {
	var buf [RecordSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	buf[2] = r.Version
	buf[3] = r.Flags
	buf[4] = r.SymbolID
	// bytes [5,8) reserved, left zero
	binary.LittleEndian.PutUint64(buf[8:16], r.Seq)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.ExchangeTsNs))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(r.EdgeTsNs))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(r.Bid))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(r.Ask))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(r.BidQty))
	binary.LittleEndian.PutUint64(buf[56:64], uint64(r.AskQty))
	binary.LittleEndian.PutUint64(buf[64:72], r.UpdateID)

	crc := crc32.ChecksumIEEE(buf[0:72])
	binary.LittleEndian.PutUint32(buf[72:76], crc)
	return buf
}

// DecodeError tags why a datagram was rejected.
type DecodeError string

func (e DecodeError) Error() string { return string(e) }

const (
	ErrWrongLength DecodeError = "edge: wrong datagram length"
	ErrBadMagic    DecodeError = "edge: bad magic"
	ErrBadVersion  DecodeError = "edge: unsupported version"
	ErrBadCRC      DecodeError = "edge: crc mismatch"
)

// Decode validates and parses a received datagram. It never panics;
// every rejection path returns one of the DecodeError constants (the
// wrong-length error wraps ErrWrongLength; match it with errors.Is).
func Decode(buf []byte) (Record, error) {
	if len(buf) != RecordSize {
		return Record{}, fmt.Errorf("%w: got %d", ErrWrongLength, len(buf))
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != Magic {
		return Record{}, ErrBadMagic
	}
	version := buf[2]
	if version != Version {
		return Record{}, ErrBadVersion
	}
	wantCRC := binary.LittleEndian.Uint32(buf[72:76])
	gotCRC := crc32.ChecksumIEEE(buf[0:72])
	if wantCRC != gotCRC {
		return Record{}, ErrBadCRC
	}

	r := Record{
		Version:      version,
		Flags:        buf[3],
		SymbolID:     buf[4],
		Seq:          binary.LittleEndian.Uint64(buf[8:16]),
		ExchangeTsNs: int64(binary.LittleEndian.Uint64(buf[16:24])),
		EdgeTsNs:     int64(binary.LittleEndian.Uint64(buf[24:32])),
		Bid:          int64(binary.LittleEndian.Uint64(buf[32:40])),
		Ask:          int64(binary.LittleEndian.Uint64(buf[40:48])),
		BidQty:       int64(binary.LittleEndian.Uint64(buf[48:56])),
		AskQty:       int64(binary.LittleEndian.Uint64(buf[56:64])),
		UpdateID:     binary.LittleEndian.Uint64(buf[64:72]),
	}
	return r, nil
}

// IsHeartbeat reports whether r is a heartbeat/all-symbols record.
func (r Record) IsHeartbeat() bool {
	return r.Flags&FlagHeartbeat != 0 || r.SymbolID == HeartbeatSymbolID
}
