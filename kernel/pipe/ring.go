package pipe

// ring is a fixed-capacity byte FIFO. It never holds more than len(buf)
// bytes.
type ring struct {
	buf          []byte
	rIndex, size int
}

func (r *ring) capacity() int { return len(r.buf) }
func (r *ring) len() int      { return r.size }
func (r *ring) free() int     { return len(r.buf) - r.size }

// write appends as much of p as fits and returns the number of bytes
// stored.
func (r *ring) write(p []byte) int {
	if free := r.free(); len(p) > free {
		p = p[:free]
	}

	wIndex := (r.rIndex + r.size) % len(r.buf)
	n := copy(r.buf[wIndex:], p)
	copy(r.buf, p[n:])
	r.size += len(p)
	return len(p)
}

// overwrite appends p, discarding the oldest bytes to make room. Only the
// last capacity bytes of p are kept.
func (r *ring) overwrite(p []byte) int {
	if len(p) >= len(r.buf) {
		p = p[len(p)-len(r.buf):]
		r.rIndex, r.size = 0, 0
	} else if drop := len(p) - r.free(); drop > 0 {
		r.rIndex = (r.rIndex + drop) % len(r.buf)
		r.size -= drop
	}
	return r.write(p)
}

// read moves up to len(p) bytes into p and returns the number of bytes
// read.
func (r *ring) read(p []byte) int {
	if len(p) > r.size {
		p = p[:r.size]
	}

	n := copy(p, r.buf[r.rIndex:])
	copy(p[n:], r.buf)
	r.rIndex = (r.rIndex + len(p)) % len(r.buf)
	r.size -= len(p)
	return len(p)
}
