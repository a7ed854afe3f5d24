package kfmt

import "io"

// ringBufferSize defines size of the ring buffer that buffers console output
// before an output sink is attached. It is large enough to hold the boot log
// of a few CPUs. The ring buffer size must always be a power of 2.
const ringBufferSize = 2048

// ringBuffer captures console output while no sink is attached. When full,
// new writes overwrite the oldest unread bytes so the most recent output is
// always preserved.
type ringBuffer struct {
	buffer        [ringBufferSize]byte
	rIndex, count int
}

// Write writes len(p) bytes from p to the ringBuffer, dropping the oldest
// buffered bytes if there is not enough room.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		wIndex := (rb.rIndex + rb.count) & (ringBufferSize - 1)
		rb.buffer[wIndex] = b
		if rb.count == ringBufferSize {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
			continue
		}
		rb.count++
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p. It returns io.EOF once the buffer
// has been drained.
func (rb *ringBuffer) Read(p []byte) (n int, err error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	for n < len(p) && rb.count > 0 {
		// copy the contiguous run up to the end of the backing array
		run := ringBufferSize - rb.rIndex
		if run > rb.count {
			run = rb.count
		}
		if rem := len(p) - n; run > rem {
			run = rem
		}

		copy(p[n:], rb.buffer[rb.rIndex:rb.rIndex+run])
		n += run
		rb.count -= run
		rb.rIndex = (rb.rIndex + run) & (ringBufferSize - 1)
	}

	return n, nil
}

// Len returns the number of unread bytes.
func (rb *ringBuffer) Len() int {
	return rb.count
}
