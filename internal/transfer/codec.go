package transfer

import (
	"encoding/base64"
	"fmt"
)

// ChunkCount returns the number of chunk frames needed for size bytes.
func ChunkCount(size int64) int {
	return int((size + ChunkSize - 1) / ChunkSize)
}

// EncodeChunks splits data at ChunkSize boundaries and base64-encodes each piece.
// Empty data yields no chunks.
func EncodeChunks(data []byte) []string {
	chunks := make([]string, 0, ChunkCount(int64(len(data))))

	for off := 0; off < len(data); off += ChunkSize {
		end := min(off+ChunkSize, len(data))
		chunks = append(chunks, base64.StdEncoding.EncodeToString(data[off:end]))
	}

	return chunks
}

// Assembler rebuilds a blob from a meta frame and its chunk frames, which
// must arrive in strictly increasing index order.
type Assembler struct {
	buf      []byte
	mimeType string
	chunks   int
	next     int
	written  int64
}

// NewAssembler validates meta and allocates a buffer of the declared size.
func NewAssembler(meta Message) (*Assembler, error) {
	if meta.Type != TypeMeta {
		return nil, &ProtocolError{Frame: string(meta.Type), Reason: "expected meta"}
	}

	if meta.TotalSize < 0 {
		return nil, &ProtocolError{Frame: "meta", Reason: fmt.Sprintf("negative size %d", meta.TotalSize)}
	}

	if want := ChunkCount(meta.TotalSize); meta.TotalChunks != want {
		return nil, &ProtocolError{
			Frame:  "meta",
			Reason: fmt.Sprintf("%d bytes need %d chunks, got %d", meta.TotalSize, want, meta.TotalChunks),
		}
	}

	return &Assembler{
		buf:      make([]byte, meta.TotalSize),
		mimeType: meta.MimeType,
		chunks:   meta.TotalChunks,
	}, nil
}

// Add decodes a chunk frame into its slot.
func (a *Assembler) Add(msg Message) error {
	if msg.Index != a.next {
		return &ProtocolError{Frame: "chunk", Reason: fmt.Sprintf("expected index %d, got %d", a.next, msg.Index)}
	}

	if msg.Index >= a.chunks {
		return &ProtocolError{Frame: "chunk", Reason: fmt.Sprintf("index %d beyond %d chunks", msg.Index, a.chunks)}
	}

	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return &ProtocolError{Frame: "chunk", Reason: "invalid base64", Err: err}
	}

	off := int64(msg.Index) * ChunkSize
	want := min(int64(ChunkSize), int64(len(a.buf))-off)

	if int64(len(data)) != want {
		return &ProtocolError{Frame: "chunk", Reason: fmt.Sprintf("chunk %d has %d bytes, want %d", msg.Index, len(data), want)}
	}

	copy(a.buf[off:], data)
	a.written += int64(len(data))
	a.next++

	return nil
}

// Complete reports whether every declared chunk has been added.
func (a *Assembler) Complete() bool {
	return a.next == a.chunks
}

// Blob returns the assembled asset once complete.
func (a *Assembler) Blob() (*Blob, error) {
	if !a.Complete() || a.written != int64(len(a.buf)) {
		return nil, &ProtocolError{
			Frame:  "done",
			Reason: fmt.Sprintf("received %d of %d chunks", a.next, a.chunks),
		}
	}

	return &Blob{Data: a.buf, MimeType: a.mimeType}, nil
}
