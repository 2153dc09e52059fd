// Package wire implements the BCP frame formats: node addresses, the data
// item header, the fusion header extension, and the little-endian
// encode/decode of every packet type carried on the broadcast and unicast
// channels.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// NodeAddr is a two-byte node identifier. The all-zero address is reserved
// for broadcast.
type NodeAddr [2]byte

// Broadcast is the reserved all-zero destination address.
var Broadcast = NodeAddr{0, 0}

// FusionOrigin is the reserved origin stamped on synthetic items produced by
// perform_fusion, distinguishing them from items still attributable to a
// single producing node.
var FusionOrigin = NodeAddr{250, 250}

func (a NodeAddr) IsBroadcast() bool { return a == Broadcast }

func (a NodeAddr) String() string {
	return fmt.Sprintf("%d.%d", a[0], a[1])
}

// PacketType tags every frame exchanged on the broadcast/unicast channels.
type PacketType uint8

const (
	PacketTypeData PacketType = iota
	PacketTypeBeacon
	PacketTypeBeaconRequest
	PacketTypeAck
	PacketTypeHopCounter
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeData:
		return "data"
	case PacketTypeBeacon:
		return "beacon"
	case PacketTypeBeaconRequest:
		return "beacon_request"
	case PacketTypeAck:
		return "ack"
	case PacketTypeHopCounter:
		return "hop_counter"
	default:
		return "unknown"
	}
}

var (
	ErrShortBuffer    = errors.New("wire: buffer too short")
	ErrOversizedField = errors.New("wire: payload exceeds configured maximum")
)

// Header is the common BCP data-item header (spec.md §3, §6). Data frames
// are transmitted on the shared broadcast channel but addressed to a
// specific NextHop chosen by the sender's routing table lookup; every
// neighbor overhears the frame and updates its table from it, but only the
// addressed NextHop processes, acks, and forwards it.
type Header struct {
	Origin           NodeAddr
	NextHop          NodeAddr
	PacketLength     uint16
	BackpressureDiff uint16 // bcp_backpressure: sender's queue length at send time
	Delay            uint32 // accumulated in-network delay, clock ticks
	LastProcessTime  uint32 // timestamp of last touch, used to compute Delay increments
}

// HeaderSize is the wire size of Header with no fusion extension.
const HeaderSize = 2 + 2 + 2 + 2 + 4 + 4

// FusionHeader extends Header with correlation-ID aggregation metadata.
type FusionHeader struct {
	Header
	Fused bool
	CID   uint16
}

// FusionHeaderSize is the wire size of FusionHeader (HeaderSize + 1 + 2).
const FusionHeaderSize = HeaderSize + 1 + 2

// DataItem is a full data item: header plus an opaque, bounded payload.
type DataItem struct {
	Header
	Payload []byte
}

// FusionDataItem is a data item carrying the fusion header extension.
type FusionDataItem struct {
	FusionHeader
	Payload []byte
}

// BeaconMsg is the beacon/beacon-request payload: the sender's queue length.
type BeaconMsg struct {
	QueueLog uint16
}

// HopCounterMsg is the hop-count flood payload.
type HopCounterMsg struct {
	HopCount uint16
}

// AckMsg identifies the data item being acknowledged. Since a connection
// has only one outstanding unacknowledged send at a time (NUM_PARENTS=1 in
// the original), Origin+LastProcessTime is enough to tie the ack back to
// the queue item it was sent for.
type AckMsg struct {
	Origin          NodeAddr
	LastProcessTime uint32
}

// AckMsgSize is the wire size of AckMsg.
const AckMsgSize = 2 + 4

// MarshalAck writes an AckMsg into buf.
func MarshalAck(m AckMsg, buf []byte) (int, error) {
	if len(buf) < AckMsgSize {
		return 0, ErrShortBuffer
	}
	buf[0], buf[1] = m.Origin[0], m.Origin[1]
	binary.LittleEndian.PutUint32(buf[2:6], m.LastProcessTime)
	return AckMsgSize, nil
}

// UnmarshalAck reads an AckMsg from buf.
func UnmarshalAck(buf []byte) (AckMsg, error) {
	if len(buf) < AckMsgSize {
		return AckMsg{}, ErrShortBuffer
	}
	return AckMsg{
		Origin:          NodeAddr{buf[0], buf[1]},
		LastProcessTime: binary.LittleEndian.Uint32(buf[2:6]),
	}, nil
}

// MarshalHeader writes h into buf using little-endian encoding per spec.md §6.
func MarshalHeader(h Header, buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, ErrShortBuffer
	}
	buf[0], buf[1] = h.Origin[0], h.Origin[1]
	buf[2], buf[3] = h.NextHop[0], h.NextHop[1]
	binary.LittleEndian.PutUint16(buf[4:6], h.PacketLength)
	binary.LittleEndian.PutUint16(buf[6:8], h.BackpressureDiff)
	binary.LittleEndian.PutUint32(buf[8:12], h.Delay)
	binary.LittleEndian.PutUint32(buf[12:16], h.LastProcessTime)
	return HeaderSize, nil
}

// UnmarshalHeader reads a Header from buf.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortBuffer
	}
	return Header{
		Origin:           NodeAddr{buf[0], buf[1]},
		NextHop:          NodeAddr{buf[2], buf[3]},
		PacketLength:     binary.LittleEndian.Uint16(buf[4:6]),
		BackpressureDiff: binary.LittleEndian.Uint16(buf[6:8]),
		Delay:            binary.LittleEndian.Uint32(buf[8:12]),
		LastProcessTime:  binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// MarshalFusionHeader writes a FusionHeader (base header + fused + cid).
func MarshalFusionHeader(h FusionHeader, buf []byte) (int, error) {
	if len(buf) < FusionHeaderSize {
		return 0, ErrShortBuffer
	}
	n, err := MarshalHeader(h.Header, buf)
	if err != nil {
		return 0, err
	}
	if h.Fused {
		buf[n] = 1
	} else {
		buf[n] = 0
	}
	binary.LittleEndian.PutUint16(buf[n+1:n+3], h.CID)
	return n + 3, nil
}

// UnmarshalFusionHeader reads a FusionHeader from buf.
func UnmarshalFusionHeader(buf []byte) (FusionHeader, error) {
	if len(buf) < FusionHeaderSize {
		return FusionHeader{}, ErrShortBuffer
	}
	base, err := UnmarshalHeader(buf)
	if err != nil {
		return FusionHeader{}, err
	}
	return FusionHeader{
		Header: base,
		Fused:  buf[HeaderSize] != 0,
		CID:    binary.LittleEndian.Uint16(buf[HeaderSize+1 : HeaderSize+3]),
	}, nil
}

// MarshalDataItem writes a plain DataItem (header + payload) into buf.
func MarshalDataItem(d DataItem, buf []byte) (int, error) {
	n, err := MarshalHeader(d.Header, buf)
	if err != nil {
		return 0, err
	}
	if len(buf) < n+len(d.Payload) {
		return 0, ErrShortBuffer
	}
	copy(buf[n:], d.Payload)
	return n + len(d.Payload), nil
}

// UnmarshalDataItem reads a plain DataItem; payloadLen is the configured
// MAX_USER_PACKET_SIZE (the payload is always fixed-length on the wire).
func UnmarshalDataItem(buf []byte, payloadLen int) (DataItem, error) {
	h, err := UnmarshalHeader(buf)
	if err != nil {
		return DataItem{}, err
	}
	if len(buf) < HeaderSize+payloadLen {
		return DataItem{}, ErrShortBuffer
	}
	payload := make([]byte, payloadLen)
	copy(payload, buf[HeaderSize:HeaderSize+payloadLen])
	return DataItem{Header: h, Payload: payload}, nil
}

// MarshalFusionDataItem writes a FusionDataItem into buf.
func MarshalFusionDataItem(d FusionDataItem, buf []byte) (int, error) {
	n, err := MarshalFusionHeader(d.FusionHeader, buf)
	if err != nil {
		return 0, err
	}
	if len(buf) < n+len(d.Payload) {
		return 0, ErrShortBuffer
	}
	copy(buf[n:], d.Payload)
	return n + len(d.Payload), nil
}

// UnmarshalFusionDataItem reads a FusionDataItem. payloadLen is the
// configured MAX_USER_PACKET_SIZE: the payload is always fixed-length on
// the wire, zero-padded by the sender, so callers that want the real
// (unpadded) length must trim the result using Header.PacketLength.
func UnmarshalFusionDataItem(buf []byte, payloadLen int) (FusionDataItem, error) {
	h, err := UnmarshalFusionHeader(buf)
	if err != nil {
		return FusionDataItem{}, err
	}
	if len(buf) < FusionHeaderSize+payloadLen {
		return FusionDataItem{}, ErrShortBuffer
	}
	payload := make([]byte, payloadLen)
	copy(payload, buf[FusionHeaderSize:FusionHeaderSize+payloadLen])
	return FusionDataItem{FusionHeader: h, Payload: payload}, nil
}

// MarshalBeacon writes a beacon/beacon-request payload.
func MarshalBeacon(m BeaconMsg, buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, ErrShortBuffer
	}
	binary.LittleEndian.PutUint16(buf[:2], m.QueueLog)
	return 2, nil
}

// UnmarshalBeacon reads a beacon/beacon-request payload.
func UnmarshalBeacon(buf []byte) (BeaconMsg, error) {
	if len(buf) < 2 {
		return BeaconMsg{}, ErrShortBuffer
	}
	return BeaconMsg{QueueLog: binary.LittleEndian.Uint16(buf[:2])}, nil
}

// MarshalHopCounter writes a hop-count flood payload.
func MarshalHopCounter(m HopCounterMsg, buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, ErrShortBuffer
	}
	binary.LittleEndian.PutUint16(buf[:2], m.HopCount)
	return 2, nil
}

// UnmarshalHopCounter reads a hop-count flood payload.
func UnmarshalHopCounter(buf []byte) (HopCounterMsg, error) {
	if len(buf) < 2 {
		return HopCounterMsg{}, ErrShortBuffer
	}
	return HopCounterMsg{HopCount: binary.LittleEndian.Uint16(buf[:2])}, nil
}
