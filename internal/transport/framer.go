package transport

// LineFramer assembles newline terminated units from a byte stream. Carriage
// returns are dropped; a line feed ends the unit.
type LineFramer struct {
	buf      []byte
	max      int
	overflow bool
}

// NewLineFramer returns a framer accepting units of at most max bytes.
func NewLineFramer(max int) *LineFramer {
	if max <= 0 {
		max = MaxUnitLen
	}
	return &LineFramer{buf: make([]byte, 0, max), max: max}
}

// Feed consumes one byte. On a line feed it returns the buffered unit and
// resets. A unit longer than max is discarded up to its line feed, which then
// yields ErrUnitTooLong.
func (f *LineFramer) Feed(b byte) (unit []byte, done bool, err error) {
	switch b {
	case '\r':
		return nil, false, nil
	case '\n':
		if f.overflow {
			f.Reset()
			return nil, false, ErrUnitTooLong
		}
		unit = make([]byte, len(f.buf))
		copy(unit, f.buf)
		f.Reset()
		return unit, true, nil
	}
	if f.overflow {
		return nil, false, nil
	}
	if len(f.buf) >= f.max {
		f.overflow = true
		f.buf = f.buf[:0]
		return nil, false, nil
	}
	f.buf = append(f.buf, b)
	return nil, false, nil
}

// Reset drops any partial unit.
func (f *LineFramer) Reset() {
	f.buf = f.buf[:0]
	f.overflow = false
}

// Buffered returns the number of bytes of the pending unit.
func (f *LineFramer) Buffered() int {
	return len(f.buf)
}

// FlattenDatagram removes CR and LF bytes so a multi-line datagram becomes
// one unit, and truncates it to max bytes.
func FlattenDatagram(p []byte, max int) []byte {
	if max <= 0 {
		max = MaxUnitLen
	}
	if len(p) > max {
		p = p[:max]
	}
	out := make([]byte, 0, len(p))
	for _, b := range p {
		if b == '\r' || b == '\n' {
			continue
		}
		out = append(out, b)
	}
	return out
}
