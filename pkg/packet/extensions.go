package packet

import (
	"fmt"

	"github.com/ipv7net/mesh/pkg/errors"
)

// Extension types.
const (
	// ExtEndpoints carries length-prefixed endpoint strings.
	ExtEndpoints uint8 = 0x01
	// ExtGeohash carries a full-precision geohash string.
	ExtGeohash uint8 = 0x02
)

const (
	extensionHeaderSize = 4
	maxExtensionValue   = 65535
	maxEndpointLen      = 255
	maxEndpointCount    = 255
)

// AppendExtension adds an extension, rejecting oversize values early so
// Serialize cannot fail later on this account.
func (p *Packet) AppendExtension(ext Extension) error {
	if len(ext.Value) > maxExtensionValue {
		return errors.NewMalformedPacketError(
			fmt.Sprintf("extension 0x%02x value %d bytes, max %d", ext.Type, len(ext.Value), maxExtensionValue))
	}
	p.Extensions = append(p.Extensions, ext)
	return nil
}

// Extension returns the value of the first extension of the given type.
func (p *Packet) Extension(t uint8) ([]byte, bool) {
	for _, ext := range p.Extensions {
		if ext.Type == t {
			return ext.Value, true
		}
	}
	return nil, false
}

// SetEndpoints encodes reachable endpoint strings into an ENDPOINTS
// extension: a count byte, then per endpoint a length byte and the bytes.
func (p *Packet) SetEndpoints(endpoints []string) error {
	value, err := EncodeEndpoints(endpoints)
	if err != nil {
		return err
	}
	return p.AppendExtension(Extension{Type: ExtEndpoints, Value: value})
}

// Endpoints decodes the ENDPOINTS extension. Absent extension yields nil.
func (p *Packet) Endpoints() ([]string, error) {
	value, ok := p.Extension(ExtEndpoints)
	if !ok {
		return nil, nil
	}
	return DecodeEndpoints(value)
}

// SetGeohash attaches the full-precision location as a GEOHASH extension.
func (p *Packet) SetGeohash(hash string) {
	p.Extensions = append(p.Extensions, Extension{Type: ExtGeohash, Value: []byte(hash)})
}

// Geohash returns the GEOHASH extension value, if present.
func (p *Packet) Geohash() (string, bool) {
	value, ok := p.Extension(ExtGeohash)
	if !ok {
		return "", false
	}
	return string(value), true
}

// EncodeEndpoints packs endpoint strings into the ENDPOINTS wire form.
func EncodeEndpoints(endpoints []string) ([]byte, error) {
	if len(endpoints) > maxEndpointCount {
		return nil, errors.NewMalformedPacketError(
			fmt.Sprintf("%d endpoints, max %d", len(endpoints), maxEndpointCount))
	}

	size := 1
	for _, ep := range endpoints {
		if len(ep) == 0 || len(ep) > maxEndpointLen {
			return nil, errors.NewMalformedPacketError(
				fmt.Sprintf("endpoint %q length %d, want 1-%d", ep, len(ep), maxEndpointLen))
		}
		size += 1 + len(ep)
	}

	value := make([]byte, 0, size)
	value = append(value, byte(len(endpoints)))
	for _, ep := range endpoints {
		value = append(value, byte(len(ep)))
		value = append(value, ep...)
	}
	return value, nil
}

// DecodeEndpoints unpacks the ENDPOINTS wire form.
func DecodeEndpoints(value []byte) ([]string, error) {
	if len(value) == 0 {
		return nil, errors.NewMalformedPacketError("empty endpoints extension")
	}

	count := int(value[0])
	endpoints := make([]string, 0, count)
	off := 1
	for i := 0; i < count; i++ {
		if off >= len(value) {
			return nil, errors.NewMalformedPacketError("truncated endpoint length")
		}
		n := int(value[off])
		off++
		if off+n > len(value) {
			return nil, errors.NewMalformedPacketError("truncated endpoint")
		}
		endpoints = append(endpoints, string(value[off:off+n]))
		off += n
	}
	if off != len(value) {
		return nil, errors.NewMalformedPacketError("trailing bytes after endpoints")
	}
	return endpoints, nil
}
