package metrics

import (
	"math"
	"time"
)

const (
	bytesPerKB = 1024.0
	bytesPerMB = 1024.0 * 1024.0
	bytesPerGB = 1024.0 * 1024.0 * 1024.0
)

// Counters is a pair of monotonically increasing byte counters.
type Counters struct {
	Out uint64
	In  uint64
}

// counterDelta remembers the previous sample of a counter pair.
type counterDelta struct {
	prev   Counters
	prevAt time.Time
	primed bool
}

// update returns the KB/s rates of both counters since the previous sample
// and always replaces the previous sample.
func (d *counterDelta) update(cur Counters, now time.Time) (outKBps, inKBps float64) {
	if d.primed {
		dt := now.Sub(d.prevAt)
		outKBps = RateKBps(d.prev.Out, cur.Out, dt)
		inKBps = RateKBps(d.prev.In, cur.In, dt)
	}

	d.prev = cur
	d.prevAt = now
	d.primed = true

	return outKBps, inKBps
}

// RateKBps returns (curr - prev) / dt in KB/s rounded to 2 decimals. It is
// 0 when dt is not positive or the counter went backwards.
func RateKBps(prev, curr uint64, dt time.Duration) float64 {
	if dt <= 0 || curr < prev {
		return 0
	}
	return Round(float64(curr-prev)/dt.Seconds()/bytesPerKB, 2)
}

// Round rounds half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// EstimatePower maps CPU utilization linearly between idle and max watts.
// The utilization is rounded to one decimal first.
func EstimatePower(utilization, idleWatts, maxWatts float64) float64 {
	u := Round(utilization, 1)
	return Round(idleWatts+u/100*(maxWatts-idleWatts), 2)
}

func toGB(b uint64) float64 {
	return Round(float64(b)/bytesPerGB, 2)
}

func toMB(b uint64) float64 {
	return Round(float64(b)/bytesPerMB, 2)
}
