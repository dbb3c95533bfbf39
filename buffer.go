package fbchan

// Buffer is an owned byte buffer queued on a channel. The zero value (or any
// buffer with Len() == 0) is the end-of-stream sentinel.
//
// A buffer handed to a channel via Feed is owned by the channel until it has
// been delivered and fully acknowledged by the consumer; the producer must
// not mutate the underlying bytes in that window. Buffers delivered to a data
// callback are valid until the corresponding Consumed acknowledgement:
// pool-backed buffers are recycled at that point.
type Buffer struct {
	b    []byte
	slab []byte
	pool *Pool
}

// BytesBuffer wraps p without copying.
func BytesBuffer(p []byte) Buffer {
	return Buffer{b: p}
}

// StringBuffer copies s into a new buffer.
func StringBuffer(s string) Buffer {
	return Buffer{b: []byte(s)}
}

// EOSBuffer returns the end-of-stream sentinel.
func EOSBuffer() Buffer {
	return Buffer{}
}

// Len returns the number of bytes in the buffer.
func (b Buffer) Len() int {
	return len(b.b)
}

// IsEmpty reports whether the buffer is the end-of-stream sentinel.
func (b Buffer) IsEmpty() bool {
	return len(b.b) == 0
}

// Bytes returns the buffer contents. See the ownership rules on [Buffer].
func (b Buffer) Bytes() []byte {
	return b.b
}

// prefix returns a buffer for the first n bytes, sharing the backing slab so
// that Release recycles the whole slot.
func (b Buffer) prefix(n int) Buffer {
	b.b = b.b[:n]
	return b
}

// Release returns a pool-backed buffer to its pool. It is a no-op for
// buffers that do not originate from a [Pool]. Must be called on the event
// loop goroutine.
func (b Buffer) Release() {
	if b.pool != nil {
		b.pool.put(b.slab)
	}
}
