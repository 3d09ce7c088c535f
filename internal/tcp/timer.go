package tcp

// retxTimer is the sender's single retransmission timer: it accumulates
// elapsed milliseconds via Add and reports Expired once that total reaches
// the current RTO. DoubleRTO implements the Karn/Jacobson-style exponential
// backoff used on repeated timeouts.
type retxTimer struct {
	rtoMs   uint64
	elapsed uint64
	running bool
}

func newRetxTimer(initialRTOMs uint64) retxTimer {
	return retxTimer{rtoMs: initialRTOMs}
}

func (t *retxTimer) Start() {
	t.elapsed = 0
	t.running = true
}

func (t *retxTimer) Reset() {
	t.running = false
}

func (t *retxTimer) Running() bool { return t.running }

func (t *retxTimer) Expired() bool { return t.elapsed >= t.rtoMs }

func (t *retxTimer) Add(ms uint64) { t.elapsed += ms }

func (t *retxTimer) SetRTO(ms uint64) { t.rtoMs = ms }

func (t *retxTimer) DoubleRTO() { t.rtoMs *= 2 }
