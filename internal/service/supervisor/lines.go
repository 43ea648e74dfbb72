package supervisor

import (
	"errors"
	"io"
	"strings"
)

const (
	// MaxLineBytes is the partial line size that forces a flush.
	MaxLineBytes = 32 << 10
	// readChunkSize is the pipe read size.
	readChunkSize = 4 << 10
)

// splitLines reads r until EOF and calls emit for every line ended by '\n'
// or '\r', for every partial line growing past maxLine bytes and for the
// remainder at EOF. Empty lines are skipped and invalid UTF-8 is replaced.
func splitLines(r io.Reader, maxLine int, emit func(string)) error {
	var (
		buf  = make([]byte, readChunkSize)
		line = make([]byte, 0, readChunkSize)
	)

	flush := func() {
		if len(line) == 0 {
			return
		}

		emit(strings.ToValidUTF8(string(line), "�"))
		line = line[:0]
	}

	for {
		n, err := r.Read(buf)

		for _, b := range buf[:n] {
			if b == '\n' || b == '\r' {
				flush()

				continue
			}

			line = append(line, b)
			if len(line) >= maxLine {
				flush()
			}
		}

		if errors.Is(err, io.EOF) {
			flush()

			return nil
		}

		if err != nil {
			flush()

			return err
		}
	}
}
