package writer

import (
	"bytes"
	"io"

	"github.com/xitongsys/parquet-go/source"
)

// memFile is an in-memory source.ParquetFile. A writable file accumulates
// into buf; Open hands out independent readers over the current bytes.
type memFile struct {
	buf  *bytes.Buffer
	data []byte
	off  int64
}

func newMemFile() *memFile {
	return &memFile{buf: &bytes.Buffer{}}
}

func openMemFile(data []byte) *memFile {
	return &memFile{data: data}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return newMemFile(), nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return openMemFile(m.Bytes()), nil }
func (m *memFile) Write(b []byte) (int, error)               { return m.buf.Write(b) }
func (m *memFile) Close() error                              { return nil }

func (m *memFile) Bytes() []byte {
	if m.buf != nil {
		return m.buf.Bytes()
	}
	return m.data
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	size := int64(len(m.Bytes()))
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.off + offset
	case io.SeekEnd:
		abs = size + offset
	default:
		return 0, io.ErrUnexpectedEOF
	}
	if abs < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	m.off = abs
	return abs, nil
}

func (m *memFile) Read(b []byte) (int, error) {
	data := m.Bytes()
	if m.off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(b, data[m.off:])
	m.off += int64(n)
	return n, nil
}
