package blob

import (
	"bytes"
	"io"
	"sync"
)

// ProgressReader reports bytes consumed from an in-memory payload. It is
// seekable so that SDKs can rewind for signing and retries; reported values
// never go backwards.
type ProgressReader struct {
	r        *bytes.Reader
	size     int64
	fn       ProgressFunc
	mu       sync.Mutex
	reported int64
}

func NewProgressReader(data []byte, fn ProgressFunc) *ProgressReader {
	return &ProgressReader{r: bytes.NewReader(data), size: int64(len(data)), fn: fn}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.advance(p.size - int64(p.r.Len()))
	}
	return n, err
}

func (p *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	return p.r.Seek(offset, whence)
}

func (p *ProgressReader) Len() int64 { return p.size }

func (p *ProgressReader) advance(pos int64) {
	p.mu.Lock()
	if pos <= p.reported {
		p.mu.Unlock()
		return
	}
	p.reported = pos
	p.mu.Unlock()
	p.fn.Report(pos)
}

// ReadAllWithProgress drains r, reporting cumulative bytes read.
func ReadAllWithProgress(r io.Reader, fn ProgressFunc) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 256*1024)
	var total int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			total += int64(n)
			fn.Report(total)
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}
