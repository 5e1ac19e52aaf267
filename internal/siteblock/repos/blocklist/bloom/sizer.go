package bloom

import (
	"math"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist"
)

// DefaultFPRate is used when the configured rate is outside (0, 1).
const DefaultFPRate = 0.01

// minBits keeps tiny lists from collapsing into a filter that is almost
// always full.
const minBits = 64

// sizer implements blocklist.BloomSizer on top of bitsbloom.EstimateParameters.
// n is a key count, usually the sum of blocklist.HostnameKeyCount over the
// hostname entries.
type sizer struct{}

// NewSizer returns a BloomSizer implementation.
func NewSizer() blocklist.BloomSizer { return sizer{} }

func (sizer) Size(n uint64, p float64) (uint64, uint8) {
	if n == 0 {
		n = 1
	}
	if !(p > 0 && p < 1) {
		p = DefaultFPRate
	}
	m, k := bitsbloom.EstimateParameters(uint(n), p)
	if m < minBits {
		m = minBits
	}
	if k < 1 {
		k = 1
	}
	if k > math.MaxUint8 {
		k = math.MaxUint8
	}
	return uint64(m), uint8(k)
}
