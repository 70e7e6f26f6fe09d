package lineset

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is an order-independent digest of a multiset of records.
//
// Two files hold the same records (with the same multiplicities) in any
// order only if their fingerprints are equal. Sum is the wrapping sum of the
// xxhash64 of every record with its terminator stripped.
type Fingerprint struct {
	Records int64  `json:"records"`
	Sum     uint64 `json:"sum"`
}

// Add folds one record into the fingerprint.
func (f *Fingerprint) Add(record string) {
	f.Records++
	f.Sum += xxhash.Sum64String(record)
}

// Merge returns the fingerprint of the union of both multisets.
func (f Fingerprint) Merge(other Fingerprint) Fingerprint {
	return Fingerprint{
		Records: f.Records + other.Records,
		Sum:     f.Sum + other.Sum,
	}
}

// FingerprintStream rewinds s, digests every record, and rewinds it again.
func FingerprintStream(s *Stream) (Fingerprint, error) {
	var fp Fingerprint
	if err := s.Reset(); err != nil {
		return fp, err
	}
	for {
		record, ok, err := s.Next()
		if err != nil {
			return Fingerprint{}, err
		}
		if !ok {
			break
		}
		fp.Add(record)
	}
	return fp, s.Reset()
}

// FingerprintFile digests every record of the file at path.
func FingerprintFile(path string) (Fingerprint, error) {
	file, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, ioErr("open", path, err)
	}
	defer closer(file)()

	var fp Fingerprint
	reader := bufio.NewReaderSize(file, readBufferSize)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			fp.Add(trimTerminator(line))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fp, nil
			}
			return Fingerprint{}, ioErr("read", path, err)
		}
	}
}
