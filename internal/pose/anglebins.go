package pose

// AngleBins yields angles from [s, e] by repeated binary subdivision. Each
// call to Next takes the oldest interval, returns its midpoint and queues the
// two halves, so coverage gets finer in breadth-first order.
//
// The interval queue grows by one entry per call and is never trimmed.
type AngleBins struct {
	intervals [][2]float64
}

// NewAngleBins creates a generator over [s, e].
func NewAngleBins(s, e float64) *AngleBins {
	m := (s + e) / 2
	return &AngleBins{intervals: [][2]float64{{s, m}, {m, e}}}
}

// Next returns the next angle.
func (b *AngleBins) Next() float64 {
	iv := b.intervals[0]
	b.intervals = b.intervals[1:]
	t := (iv[0] + iv[1]) / 2
	b.intervals = append(b.intervals, [2]float64{iv[0], t}, [2]float64{t, iv[1]})
	return t
}

// Pending returns the number of queued intervals.
func (b *AngleBins) Pending() int {
	return len(b.intervals)
}
