// Package address implements the self-certifying 20-byte mesh address:
// a node identifier derived from the node's public key plus a coarse
// geographic proximity field, carried in every packet header.
package address

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/mr-tron/base58"
	"github.com/sigurn/crc16"
	"golang.org/x/crypto/blake2b"

	"github.com/ipv7net/mesh/pkg/errors"
	"github.com/ipv7net/mesh/pkg/geo"
)

const (
	// Size is the serialized address length in bytes.
	Size = 20

	// NodeIDSize is the node identifier length in bytes.
	NodeIDSize = 16

	// Version is the current address format version (2-bit field).
	Version = 1

	// ProximityPrecision is the geohash precision embedded in addresses.
	// Four characters give ~20 km cells: close enough to prefer nearby
	// relays, coarse enough not to pinpoint a node.
	ProximityPrecision = 4
)

// 2-bit flag field inside byte 0.
const (
	flagLocation  = 0x1
	flagBroadcast = 0x2
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

var broadcastID = NodeID{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
}

// NodeID is the public-key digest part of an address.
type NodeID [NodeIDSize]byte

// String returns the node identifier as lowercase hex.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Address identifies a node and its coarse location on the mesh.
// The zero value is not a valid address.
type Address struct {
	version   uint8
	flags     uint8
	proximity uint32
	id        NodeID
}

// FromPublicKey derives an address from a public key. A nil coordinate
// produces the unknown-location form (proximity zero, location flag clear).
func FromPublicKey(pub crypto.PubKey, coord *Coordinate) (Address, error) {
	raw, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return Address{}, errors.NewIdentityError("", "marshal public key", err)
	}

	sum := blake2b.Sum256(raw)
	var id NodeID
	copy(id[:], sum[:NodeIDSize])

	addr := Address{version: Version, id: id}
	if coord != nil {
		hash, err := geo.Encode(coord.Latitude, coord.Longitude, ProximityPrecision)
		if err != nil {
			return Address{}, err
		}
		addr.proximity = packProximity(hash)
		addr.flags |= flagLocation
	}
	return addr, nil
}

// Broadcast returns the all-nodes sentinel address.
func Broadcast() Address {
	return Address{version: Version, flags: flagBroadcast, id: broadcastID}
}

// Serialize encodes the address into its 20-byte wire form.
func (a Address) Serialize() [Size]byte {
	var buf [Size]byte
	buf[0] = a.version<<6 | (a.flags&0x3)<<4 | uint8(a.proximity>>16)
	buf[1] = byte(a.proximity >> 8)
	buf[2] = byte(a.proximity)
	copy(buf[3:19], a.id[:])
	buf[19] = checksumByte(buf[:19])
	return buf
}

// Deserialize decodes a 20-byte wire form, verifying length, checksum and
// version.
func Deserialize(data []byte) (Address, error) {
	if len(data) != Size {
		return Address{}, errors.NewMalformedAddressError(
			fmt.Sprintf("%d bytes, want %d", len(data), Size))
	}
	if checksumByte(data[:19]) != data[19] {
		return Address{}, errors.NewMalformedAddressError("checksum mismatch")
	}

	version := data[0] >> 6
	if version != Version {
		return Address{}, errors.NewMalformedAddressError(
			fmt.Sprintf("unsupported version %d", version))
	}

	addr := Address{
		version:   version,
		flags:     (data[0] >> 4) & 0x3,
		proximity: uint32(data[0]&0x0F)<<16 | uint32(data[1])<<8 | uint32(data[2]),
	}
	copy(addr.id[:], data[3:19])
	return addr, nil
}

// Parse decodes the base58 string form produced by String.
func Parse(s string) (Address, error) {
	data, err := base58.Decode(s)
	if err != nil {
		return Address{}, errors.NewMalformedAddressError("not base58: " + err.Error())
	}
	return Deserialize(data)
}

// String returns the base58 form of the serialized address.
func (a Address) String() string {
	buf := a.Serialize()
	return base58.Encode(buf[:])
}

// ShortString returns a log-friendly prefix of the string form.
func (a Address) ShortString() string {
	s := a.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// MarshalText encodes the address as its base58 string form, so addresses
// embedded in structs render readably through encoding/json and yaml.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the base58 string form, validating the checksum.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// NodeID returns the node identifier.
func (a Address) NodeID() NodeID {
	return a.id
}

// Version returns the address format version.
func (a Address) Version() uint8 {
	return a.version
}

// Equal reports whether two addresses identify the same node. Location
// bits are ignored: a node that moves keeps its identity.
func (a Address) Equal(b Address) bool {
	return a.id == b.id
}

// IsBroadcast reports whether the address is the all-nodes sentinel.
func (a Address) IsBroadcast() bool {
	return a.id == broadcastID
}

// HasLocation reports whether the proximity field is meaningful.
func (a Address) HasLocation() bool {
	return a.flags&flagLocation != 0
}

// Proximity returns the embedded 4-character geohash, or "" when the
// location is unknown.
func (a Address) Proximity() string {
	if !a.HasLocation() {
		return ""
	}
	return unpackProximity(a.proximity)
}

// CommonPrefixLen returns how many geohash characters (0-4) two addresses
// share. Either side lacking a location means no shared proximity.
func CommonPrefixLen(a, b Address) int {
	if !a.HasLocation() || !b.HasLocation() {
		return 0
	}
	for i := 0; i < ProximityPrecision; i++ {
		shift := uint(5 * (ProximityPrecision - 1 - i))
		if (a.proximity>>shift)&0x1F != (b.proximity>>shift)&0x1F {
			return i
		}
	}
	return ProximityPrecision
}

// IDDistance returns the absolute numeric difference between two node
// identifiers interpreted as 128-bit big-endian integers. Used as the
// deterministic tie-break when ordering peers by proximity.
func IDDistance(a, b Address) [NodeIDSize]byte {
	hi, lo := a.id, b.id
	if bytes.Compare(hi[:], lo[:]) < 0 {
		hi, lo = lo, hi
	}

	var diff [NodeIDSize]byte
	var borrow uint16
	for i := NodeIDSize - 1; i >= 0; i-- {
		d := uint16(hi[i]) - uint16(lo[i]) - borrow
		diff[i] = byte(d)
		borrow = (d >> 8) & 1
	}
	return diff
}

// packProximity packs a precision-4 geohash into a 20-bit field, 5 bits
// per character, MSB-first.
func packProximity(hash string) uint32 {
	var v uint32
	for i := 0; i < ProximityPrecision; i++ {
		v = v<<5 | uint32(strings.IndexByte(geo.Base32, hash[i]))
	}
	return v
}

// unpackProximity reverses packProximity.
func unpackProximity(v uint32) string {
	var b [ProximityPrecision]byte
	for i := 0; i < ProximityPrecision; i++ {
		shift := uint(5 * (ProximityPrecision - 1 - i))
		b[i] = geo.Base32[(v>>shift)&0x1F]
	}
	return string(b[:])
}

// checksumByte folds the CRC-16/CCITT-FALSE of data into one byte.
func checksumByte(data []byte) byte {
	sum := crc16.Checksum(data, crcTable)
	return byte(sum>>8) ^ byte(sum)
}
