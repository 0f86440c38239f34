package joinabletask

// psquareEstimator implements the P² algorithm (Jain & Chlamtac, 1985) for
// streaming quantile estimation in O(1) memory, grounded on the teacher's
// psquare.go: used here to track pump dispatch-latency percentiles without
// retaining the full sample set.
type psquareEstimator struct {
	p    float64
	n    [5]int
	np   [5]float64
	dn   [5]float64
	q    [5]float64
	obs  int
}

func newPSquareEstimator(p float64) *psquareEstimator {
	return &psquareEstimator{
		p:  p,
		dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

// observe feeds one sample into the estimator.
func (e *psquareEstimator) observe(x float64) {
	e.obs++
	if e.obs <= 5 {
		e.q[e.obs-1] = x
		if e.obs == 5 {
			// sort the first five markers' initial heights
			for i := 1; i < 5; i++ {
				for j := i; j > 0 && e.q[j-1] > e.q[j]; j-- {
					e.q[j-1], e.q[j] = e.q[j], e.q[j-1]
				}
			}
			for i := range e.n {
				e.n[i] = i + 1
			}
			e.np = [5]float64{1, 1 + 2*e.p, 1 + 4*e.p, 3 + 2*e.p, 5}
		}
		return
	}

	k := 0
	switch {
	case x < e.q[0]:
		e.q[0] = x
		k = 0
	case x >= e.q[4]:
		e.q[4] = x
		k = 3
	default:
		for i := 0; i < 4; i++ {
			if e.q[i] <= x && x < e.q[i+1] {
				k = i
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.n[i]++
	}
	for i := range e.np {
		e.np[i] += e.dn[i]
	}

	for i := 1; i < 4; i++ {
		d := e.np[i] - float64(e.n[i])
		if (d >= 1 && e.n[i+1]-e.n[i] > 1) || (d <= -1 && e.n[i-1]-e.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			qNew := e.parabolic(i, sign)
			if e.q[i-1] < qNew && qNew < e.q[i+1] {
				e.q[i] = qNew
			} else {
				e.q[i] = e.linear(i, sign)
			}
			e.n[i] += sign
		}
	}
}

func (e *psquareEstimator) parabolic(i, d int) float64 {
	df := float64(d)
	return e.q[i] + df/float64(e.n[i+1]-e.n[i-1])*
		((float64(e.n[i]-e.n[i-1])+df)*(e.q[i+1]-e.q[i])/float64(e.n[i+1]-e.n[i])+
			(float64(e.n[i+1]-e.n[i])-df)*(e.q[i]-e.q[i-1])/float64(e.n[i]-e.n[i-1]))
}

func (e *psquareEstimator) linear(i, d int) float64 {
	df := float64(d)
	return e.q[i] + df*(e.q[i+d]-e.q[i])/float64(e.n[i+d]-e.n[i])
}

// value returns the current quantile estimate, falling back to the median
// of observed samples while fewer than 5 have been seen.
func (e *psquareEstimator) value() float64 {
	if e.obs == 0 {
		return 0
	}
	if e.obs < 5 {
		s := e.q
		for i := 1; i < e.obs; i++ {
			for j := i; j > 0 && s[j-1] > s[j]; j-- {
				s[j-1], s[j] = s[j], s[j-1]
			}
		}
		return s[(e.obs-1)/2]
	}
	return e.q[2]
}
