package sequence

// Buffer is a fixed-capacity FIFO window of frames backed by a ring.
// Appending to a full buffer evicts the oldest frame. Buffer is not safe for
// concurrent use; the pipeline owns it and serializes access.
type Buffer struct {
	frames  []Frame
	head    int // index of the oldest frame
	size    int
	version uint64
}

// NewBuffer creates a Buffer holding at most capacity frames.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{frames: make([]Frame, capacity)}
}

// Append pushes a frame to the end, evicting the oldest when full.
func (b *Buffer) Append(f Frame) {
	capacity := len(b.frames)
	if b.size < capacity {
		b.frames[(b.head+b.size)%capacity] = f
		b.size++
	} else {
		b.frames[b.head] = f
		b.head = (b.head + 1) % capacity
	}
	b.version++
}

// Full reports whether the buffer holds exactly Cap frames.
func (b *Buffer) Full() bool {
	return b.size == len(b.frames)
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	return b.size
}

// Cap returns the window length W.
func (b *Buffer) Cap() int {
	return len(b.frames)
}

// Version increases on every Append and Reset.
func (b *Buffer) Version() uint64 {
	return b.version
}

// Snapshot returns the buffered frames oldest first. The buffer is not
// modified. Frames are shared, not copied, since they are immutable.
func (b *Buffer) Snapshot() []Frame {
	out := make([]Frame, b.size)
	capacity := len(b.frames)
	for i := 0; i < b.size; i++ {
		out[i] = b.frames[(b.head+i)%capacity]
	}
	return out
}

// Reset clears the buffer. It is called on session boundaries only.
func (b *Buffer) Reset() {
	for i := range b.frames {
		b.frames[i] = nil
	}
	b.head = 0
	b.size = 0
	b.version++
}
