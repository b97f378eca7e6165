package protocol

import "bytes"

// Terminator separates records on the wire. It cannot occur inside a
// well-formed JSON payload.
const Terminator byte = 0x00

// Framer reassembles zero-byte-delimited records from an arbitrary sequence
// of partial reads. The unterminated tail is kept between calls, so a record
// may arrive split across any number of reads.
type Framer struct {
	buf []byte
}

// Push appends freshly received bytes and returns every complete record now
// available, terminators stripped. Zero-length records are skipped.
func (f *Framer) Push(data []byte) [][]byte {
	f.buf = append(f.buf, data...)
	var records [][]byte
	for {
		i := bytes.IndexByte(f.buf, Terminator)
		if i < 0 {
			return records
		}
		if i > 0 {
			record := make([]byte, i)
			copy(record, f.buf[:i])
			records = append(records, record)
		}
		f.buf = f.buf[i+1:]
	}
}

// Flush hands back the unterminated tail as one last record. Called on
// connection close so that EOF acts as an implicit terminator.
func (f *Framer) Flush() ([]byte, bool) {
	if len(f.buf) == 0 {
		return nil, false
	}
	record := f.buf
	f.buf = nil
	return record, true
}
