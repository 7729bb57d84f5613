package ws

import "github.com/valyala/bytebufferpool"

// bufferPool backs the continuation-reassembly buffer (spec.md section 9:
// "a single buffer with incremental append over a list-of-buffers").
// Outbound fragmentation slices the payload directly and does not use
// it. It replaces the teacher's hand-rolled
// fixed-size sync.Pool ladder with the pack's real pooled-buffer library.
var bufferPool bytebufferpool.Pool

func getBuffer() *bytebufferpool.ByteBuffer {
	return bufferPool.Get()
}

func putBuffer(b *bytebufferpool.ByteBuffer) {
	bufferPool.Put(b)
}
