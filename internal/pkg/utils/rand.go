package utils

import (
	"time"

	"github.com/bytedance/gopkg/lang/fastrand"
)

// Jitter spreads d by up to frac of itself in either direction. A frac of
// zero returns d unchanged.
func Jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	if frac > 1 {
		frac = 1
	}
	span := int64(float64(d) * frac)
	if span <= 0 {
		return d
	}
	return d - time.Duration(span) + time.Duration(fastrand.Int63n(2*span+1))
}
