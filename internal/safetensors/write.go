package safetensors

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// Entry is one tensor to be written.
type Entry struct {
	Name  string
	DType string
	Shape []int
	Data  []byte
}

// Write stores entries in order, followed by optional string metadata.
func Write(path string, entries []Entry, metadata map[string]string) (err error) {
	header := make(map[string]any, len(entries)+1)
	var off int64
	for _, e := range entries {
		if e.Name == "__metadata__" {
			return fmt.Errorf("tensor name %q is reserved", e.Name)
		}
		n, nerr := numElements(e.Shape)
		if nerr != nil {
			return fmt.Errorf("tensor %s: %w", e.Name, nerr)
		}
		size, ok := dtypeSize(e.DType)
		if !ok {
			return fmt.Errorf("tensor %s: unsupported dtype %s", e.Name, e.DType)
		}
		if n*size != len(e.Data) {
			return fmt.Errorf("tensor %s: %d bytes for shape %v", e.Name, len(e.Data), e.Shape)
		}
		shape := e.Shape
		if shape == nil {
			shape = []int{}
		}
		header[e.Name] = tensorHeader{
			DType:       e.DType,
			Shape:       shape,
			DataOffsets: []int64{off, off + int64(len(e.Data))},
		}
		off += int64(len(e.Data))
	}
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// Pad the header with spaces so the payload starts 8-byte aligned.
	for (8+len(hdr))%8 != 0 {
		hdr = append(hdr, ' ')
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hdr)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := w.Write(e.Data); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Int64Bytes encodes vals as little-endian I64.
func Int64Bytes(vals []int64) []byte {
	out := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

// Int32Bytes encodes vals as little-endian I32.
func Int32Bytes(vals []int32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}
