package packet

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sigurn/crc16"

	"github.com/ipv7net/mesh/pkg/address"
	"github.com/ipv7net/mesh/pkg/errors"
)

// Fixed header offsets.
const (
	offVersion     = 0
	offType        = 1
	offFlags       = 2
	offTTL         = 4
	offFlowLabel   = 5
	offPayloadLen  = 8
	offSource      = 12
	offDestination = 32
	offSequence    = 52
	offTimestamp   = 56
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Serialize encodes the packet into its wire form: the 64-byte header,
// extensions, then the payload.
func (p *Packet) Serialize() ([]byte, error) {
	extLen := 0
	for _, ext := range p.Extensions {
		if len(ext.Value) > maxExtensionValue {
			return nil, errors.NewMalformedPacketError(
				fmt.Sprintf("extension 0x%02x value %d bytes, max %d", ext.Type, len(ext.Value), maxExtensionValue))
		}
		extLen += extensionHeaderSize + len(ext.Value)
	}

	total := HeaderSize + extLen + len(p.Payload)
	if total > MaxPacketSize {
		return nil, errors.NewPayloadTooLargeError(total, MaxPacketSize)
	}

	buf := make([]byte, total)
	buf[offVersion] = p.Version
	buf[offType] = byte(p.Type)
	binary.BigEndian.PutUint16(buf[offFlags:], p.Flags)
	buf[offTTL] = p.TTL
	buf[offFlowLabel] = byte(p.FlowLabel >> 16)
	buf[offFlowLabel+1] = byte(p.FlowLabel >> 8)
	buf[offFlowLabel+2] = byte(p.FlowLabel)
	binary.BigEndian.PutUint32(buf[offPayloadLen:], uint32(len(p.Payload)))

	src := p.Source.Serialize()
	copy(buf[offSource:], src[:])
	dst := p.Destination.Serialize()
	copy(buf[offDestination:], dst[:])

	binary.BigEndian.PutUint32(buf[offSequence:], p.Sequence)
	binary.BigEndian.PutUint64(buf[offTimestamp:], uint64(p.Timestamp.UnixMilli()))

	off := HeaderSize
	for _, ext := range p.Extensions {
		buf[off] = ext.Type
		buf[off+1] = 0
		binary.BigEndian.PutUint16(buf[off+2:], uint16(len(ext.Value)))
		copy(buf[off+extensionHeaderSize:], ext.Value)
		off += extensionHeaderSize + len(ext.Value)
	}

	copy(buf[off:], p.Payload)
	return buf, nil
}

// Deserialize decodes a wire frame into a packet, validating header
// fields, both addresses and extension framing.
func Deserialize(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, errors.NewPacketTooSmallError(len(data), HeaderSize)
	}
	if len(data) > MaxPacketSize {
		return nil, errors.NewMalformedPacketError(
			fmt.Sprintf("frame %d bytes, max %d", len(data), MaxPacketSize))
	}

	version := data[offVersion]
	if version != ProtocolVersion {
		return nil, errors.NewMalformedPacketError(
			fmt.Sprintf("unsupported version %d", version))
	}

	typ := Type(data[offType])
	if typ < TypeData || typ > TypeAck {
		return nil, errors.NewMalformedPacketError(
			fmt.Sprintf("unknown type 0x%02x", data[offType]))
	}

	payloadLen := binary.BigEndian.Uint32(data[offPayloadLen:])
	if payloadLen > uint32(len(data)-HeaderSize) {
		return nil, errors.NewMalformedPacketError(
			fmt.Sprintf("payload length %d exceeds frame", payloadLen))
	}

	src, err := address.Deserialize(data[offSource:offDestination])
	if err != nil {
		return nil, errors.NewMalformedPacketError(fmt.Sprintf("source address: %v", err))
	}
	dst, err := address.Deserialize(data[offDestination:offSequence])
	if err != nil {
		return nil, errors.NewMalformedPacketError(fmt.Sprintf("destination address: %v", err))
	}

	p := &Packet{
		Version:     version,
		Type:        typ,
		Flags:       binary.BigEndian.Uint16(data[offFlags:]),
		TTL:         data[offTTL],
		FlowLabel:   uint32(data[offFlowLabel])<<16 | uint32(data[offFlowLabel+1])<<8 | uint32(data[offFlowLabel+2]),
		Source:      src,
		Destination: dst,
		Sequence:    binary.BigEndian.Uint32(data[offSequence:]),
		Timestamp:   time.UnixMilli(int64(binary.BigEndian.Uint64(data[offTimestamp:]))),
	}

	extEnd := len(data) - int(payloadLen)
	off := HeaderSize
	for off < extEnd {
		if extEnd-off < extensionHeaderSize {
			return nil, errors.NewMalformedPacketError("truncated extension header")
		}
		vlen := int(binary.BigEndian.Uint16(data[off+2:]))
		if off+extensionHeaderSize+vlen > extEnd {
			return nil, errors.NewMalformedPacketError("truncated extension value")
		}
		value := make([]byte, vlen)
		copy(value, data[off+extensionHeaderSize:])
		p.Extensions = append(p.Extensions, Extension{Type: data[off], Value: value})
		off += extensionHeaderSize + vlen
	}

	if payloadLen > 0 {
		p.Payload = make([]byte, payloadLen)
		copy(p.Payload, data[extEnd:])
	}
	return p, nil
}

// Checksum returns the CRC-16/CCITT-FALSE of a serialized frame. It guards
// against transport corruption only and carries no security weight.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Checksum serializes the packet and returns its frame checksum.
func (p *Packet) Checksum() (uint16, error) {
	data, err := p.Serialize()
	if err != nil {
		return 0, err
	}
	return Checksum(data), nil
}

// ParseRouteReplyHops splits a ROUTE_REPLY payload into its hop addresses,
// ordered destination-first.
func ParseRouteReplyHops(payload []byte) ([]address.Address, error) {
	if len(payload) == 0 || len(payload)%address.Size != 0 {
		return nil, errors.NewMalformedPacketError(
			fmt.Sprintf("route reply payload %d bytes, want multiple of %d", len(payload), address.Size))
	}

	hops := make([]address.Address, 0, len(payload)/address.Size)
	for off := 0; off < len(payload); off += address.Size {
		hop, err := address.Deserialize(payload[off : off+address.Size])
		if err != nil {
			return nil, errors.NewMalformedPacketError(fmt.Sprintf("hop %d: %v", off/address.Size, err))
		}
		hops = append(hops, hop)
	}
	return hops, nil
}

// ParseAck extracts the acknowledged sequence number from an ACK payload.
func ParseAck(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, errors.NewMalformedPacketError(
			fmt.Sprintf("ack payload %d bytes, want 4", len(payload)))
	}
	return binary.BigEndian.Uint32(payload), nil
}

// ParseError extracts the error code and detail bytes from an ERROR payload.
func ParseError(payload []byte) (uint16, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, errors.NewMalformedPacketError(
			fmt.Sprintf("error payload %d bytes, want at least 2", len(payload)))
	}
	return binary.BigEndian.Uint16(payload), payload[2:], nil
}
