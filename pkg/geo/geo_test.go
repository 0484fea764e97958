package geo

import (
	"testing"

	"github.com/ipv7net/mesh/pkg/errors"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name      string
		lat       float64
		lon       float64
		precision uint
		expected  string
	}{
		{"london", 51.5074, -0.1278, 8, "gcpvj0du"},
		{"new york", 40.7128, -74.0060, 8, "dr5regw2"},
		{"tokyo", 35.6762, 139.6503, 8, "xn774c06"},
		{"sydney", -33.8688, 151.2093, 8, "r3gx2f9t"},
		{"london city scale", 51.5074, -0.1278, 4, "gcpv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.lat, tt.lon, tt.precision)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestEncodeOutOfRange(t *testing.T) {
	tests := []struct {
		name      string
		lat       float64
		lon       float64
		precision uint
	}{
		{"latitude too high", 90.01, 0, 8},
		{"latitude too low", -91, 0, 8},
		{"longitude too high", 0, 180.5, 8},
		{"longitude too low", 0, -200, 8},
		{"precision zero", 0, 0, 0},
		{"precision too high", 0, 0, 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.lat, tt.lon, tt.precision)
			if err == nil {
				t.Fatalf("Expected error for %s", tt.name)
			}
			if !errors.IsOutOfRange(err) {
				t.Errorf("Expected OutOfRange error, got %v", err)
			}
		})
	}
}

func TestEncodeBoundaryCoordinates(t *testing.T) {
	// Poles and the antimeridian are legal
	for _, c := range []struct{ lat, lon float64 }{
		{90, 0}, {-90, 0}, {0, 180}, {0, -180},
	} {
		if _, err := Encode(c.lat, c.lon, 6); err != nil {
			t.Errorf("Expected boundary coordinate (%v, %v) to encode, got %v", c.lat, c.lon, err)
		}
	}
}

func TestDecode(t *testing.T) {
	lat, lon, err := Decode("dr5regw2")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	// Precision 8 cells are ~38m x 19m, so the center must be very close
	if d := Distance(lat, lon, 40.7128, -74.0060); d > 0.1 {
		t.Errorf("Expected decoded center within 100m of original, got %.4f km", d)
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"too long", "dr5regw2dr5regw2"},
		{"illegal character a", "dr5rega"},
		{"illegal character i", "dri5reg"},
		{"uppercase", "DR5REGW2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.hash)
			if err == nil {
				t.Fatalf("Expected error for %q", tt.hash)
			}
			if !errors.IsOutOfRange(err) {
				t.Errorf("Expected OutOfRange error, got %v", err)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	hash, err := Encode(48.8566, 2.3522, 7)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	lat, lon, err := Decode(hash)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	rehash, err := Encode(lat, lon, 7)
	if err != nil {
		t.Fatalf("Re-encode failed: %v", err)
	}
	if rehash != hash {
		t.Errorf("Expected cell center to re-encode to %q, got %q", hash, rehash)
	}
}

func TestBounds(t *testing.T) {
	box, err := Bounds("gcpv")
	if err != nil {
		t.Fatalf("Bounds failed: %v", err)
	}

	if box.MinLat >= box.MaxLat {
		t.Errorf("Expected MinLat < MaxLat, got %v >= %v", box.MinLat, box.MaxLat)
	}
	if box.MinLng >= box.MaxLng {
		t.Errorf("Expected MinLng < MaxLng, got %v >= %v", box.MinLng, box.MaxLng)
	}

	// London sits inside its own cell
	if !box.Contains(51.5074, -0.1278) {
		t.Errorf("Expected cell to contain the encoded coordinate")
	}
}

func TestNeighbors(t *testing.T) {
	neighbors, err := Neighbors("dr5regw2")
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}

	if len(neighbors) != 8 {
		t.Fatalf("Expected 8 neighbors, got %d", len(neighbors))
	}

	seen := map[string]bool{"dr5regw2": true}
	for _, n := range neighbors {
		if len(n) != 8 {
			t.Errorf("Expected neighbor at same precision, got %q", n)
		}
		if err := Validate(n); err != nil {
			t.Errorf("Expected valid neighbor, got %q: %v", n, err)
		}
		if seen[n] {
			t.Errorf("Expected distinct neighbors, got duplicate %q", n)
		}
		seen[n] = true
	}
}

func TestCommonPrefixLength(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected int
	}{
		{"identical", "dr5regw2", "dr5regw2", 8},
		{"same city", "dr5regw2", "dr5ru7nn", 4},
		{"same continent", "dr5regw2", "dqcjqcp0", 1},
		{"nothing shared", "dr5regw2", "gcpvj0du", 0},
		{"different lengths", "dr5r", "dr5regw2", 4},
		{"one empty", "", "dr5regw2", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CommonPrefixLength(tt.a, tt.b); got != tt.expected {
				t.Errorf("Expected prefix length %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestDistance(t *testing.T) {
	t.Run("zero distance", func(t *testing.T) {
		if d := Distance(51.5074, -0.1278, 51.5074, -0.1278); d != 0 {
			t.Errorf("Expected zero distance, got %v", d)
		}
	})

	t.Run("london to new york", func(t *testing.T) {
		d := Distance(51.5074, -0.1278, 40.7128, -74.0060)
		if d < 5500 || d > 5650 {
			t.Errorf("Expected ~5570 km, got %.1f km", d)
		}
	})

	t.Run("symmetric", func(t *testing.T) {
		d1 := Distance(35.6762, 139.6503, -33.8688, 151.2093)
		d2 := Distance(-33.8688, 151.2093, 35.6762, 139.6503)
		if d1 != d2 {
			t.Errorf("Expected symmetric distance, got %v and %v", d1, d2)
		}
	})
}

func TestValidateCoordinates(t *testing.T) {
	if err := ValidateCoordinates(0, 0); err != nil {
		t.Errorf("Expected origin to validate, got %v", err)
	}
	if err := ValidateCoordinates(100, 0); !errors.IsOutOfRange(err) {
		t.Errorf("Expected OutOfRange for bad latitude, got %v", err)
	}
	if err := ValidateCoordinates(0, 300); !errors.IsOutOfRange(err) {
		t.Errorf("Expected OutOfRange for bad longitude, got %v", err)
	}
}

func BenchmarkEncode(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = Encode(51.5074, -0.1278, 8)
	}
}

func BenchmarkCommonPrefixLength(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = CommonPrefixLength("dr5regw2", "dr5ru7nn")
	}
}
