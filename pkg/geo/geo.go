// Package geo wraps geohash encoding with the range validation and
// proximity helpers the address space and peer selection rely on.
package geo

import (
	"math"
	"strings"

	"github.com/mmcloughlin/geohash"

	"github.com/ipv7net/mesh/pkg/errors"
)

// Base32 is the standard geohash alphabet. Address proximity packing
// indexes into it, so the order here is load-bearing.
const Base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

const (
	// MinPrecision is the shortest legal geohash.
	MinPrecision = 1
	// MaxPrecision is the longest legal geohash (~3.7 cm cells).
	MaxPrecision = 12

	earthRadiusKm = 6371.0
)

// Encode returns the geohash of a coordinate at the given precision.
func Encode(lat, lon float64, precision uint) (string, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return "", err
	}
	if precision < MinPrecision || precision > MaxPrecision {
		return "", errors.NewOutOfRangeError("precision", precision)
	}
	return geohash.EncodeWithPrecision(lat, lon, precision), nil
}

// Decode returns the center of the cell a geohash names.
func Decode(hash string) (lat, lon float64, err error) {
	if err := Validate(hash); err != nil {
		return 0, 0, err
	}
	lat, lon = geohash.BoundingBox(hash).Center()
	return lat, lon, nil
}

// Bounds returns the bounding box of a geohash cell.
func Bounds(hash string) (geohash.Box, error) {
	if err := Validate(hash); err != nil {
		return geohash.Box{}, err
	}
	return geohash.BoundingBox(hash), nil
}

// Neighbors returns the eight cells surrounding a geohash at the same
// precision.
func Neighbors(hash string) ([]string, error) {
	if err := Validate(hash); err != nil {
		return nil, err
	}
	return geohash.Neighbors(hash), nil
}

// Validate checks length and alphabet of a geohash string.
func Validate(hash string) error {
	if len(hash) < MinPrecision || len(hash) > MaxPrecision {
		return errors.NewOutOfRangeError("geohash", hash)
	}
	for i := 0; i < len(hash); i++ {
		if strings.IndexByte(Base32, hash[i]) < 0 {
			return errors.NewOutOfRangeError("geohash", hash)
		}
	}
	return nil
}

// ValidateCoordinates checks a latitude/longitude pair.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return errors.NewOutOfRangeError("latitude", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return errors.NewOutOfRangeError("longitude", lon)
	}
	return nil
}

// CommonPrefixLength returns how many leading characters two geohashes
// share. Longer shared prefixes mean closer cells.
func CommonPrefixLength(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// Distance returns the great-circle distance between two coordinates in
// kilometers.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
