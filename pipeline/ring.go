package pipeline

import "github.com/YetAnotherUser24/awive/frame"

// frameRing is a bounded buffer holding the last capacity frames. Frames
// falling out of every active window are evicted immediately, keeping memory
// flat over arbitrarily long videos.
type frameRing struct {
	buf   []*frame.Frame
	head  int // index of the oldest frame
	count int // occupied slots
}

func newFrameRing(capacity int) *frameRing {
	return &frameRing{buf: make([]*frame.Frame, capacity)}
}

// push appends a frame, evicting the oldest when full.
func (r *frameRing) push(f *frame.Frame) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = f
		r.count++
		return
	}
	r.buf[r.head] = f
	r.head = (r.head + 1) % len(r.buf)
}

// full reports whether the ring holds capacity frames.
func (r *frameRing) full() bool {
	return r.count == len(r.buf)
}

// window returns the buffered frames oldest-first. The returned slice is a
// fresh snapshot safe to hand to concurrent workers.
func (r *frameRing) window() []*frame.Frame {
	out := make([]*frame.Frame, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
