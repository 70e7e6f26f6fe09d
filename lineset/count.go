package lineset

import (
	"bufio"
	"errors"
	"io"
)

// progressInterval is the number of records between progress ticks.
const progressInterval = 10_000

// CountLines counts the records between the stream's current position and
// the end of its backing file, then rewinds the stream to the first byte.
//
// A final line without a terminator counts as one record. Line contents are
// never retained, so memory use does not depend on line length.
func CountLines(s *Stream) (int64, error) {
	if s.file == nil {
		return 0, ErrClosed
	}

	label := "counting lines in " + s.path
	var n int64
	pending := false
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if len(chunk) > 0 {
			pending = true
		}
		if err == nil {
			n++
			pending = false
			if n%progressInterval == 0 {
				s.observer.Progress(Progress{Label: label, Current: n})
			}
			continue
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		return 0, ioErr("read", s.path, err)
	}
	if pending {
		n++
	}
	s.observer.Progress(Progress{Label: label, Current: n, Total: n})

	if err := s.Reset(); err != nil {
		return 0, err
	}
	return n, nil
}
