package protocol

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrRangeIgnored means the Range header is malformed, uses another
	// unit, or asks for several ranges; the full entity should be served.
	ErrRangeIgnored = stderrors.New("range ignored")

	// ErrRangeNotSatisfiable means the range lies outside the entity.
	ErrRangeNotSatisfiable = stderrors.New("range not satisfiable")
)

// ByteRange is a satisfiable, clamped byte range of an entity
type ByteRange struct {
	Start  int64
	Length int64
}

// ContentRange renders the Content-Range value for this range.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.Start+r.Length-1, size)
}

// UnsatisfiedContentRange renders the Content-Range value sent with 416.
func UnsatisfiedContentRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}

// ParseRange parses a single "bytes=" range against an entity of the given
// size. Supported forms are a-b, a- and -n.
func ParseRange(value string, size int64) (ByteRange, error) {
	const prefix = "bytes="
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, prefix) {
		return ByteRange{}, ErrRangeIgnored
	}
	value = strings.TrimSpace(value[len(prefix):])
	if value == "" || strings.Contains(value, ",") {
		return ByteRange{}, ErrRangeIgnored
	}

	dash := strings.IndexByte(value, '-')
	if dash < 0 {
		return ByteRange{}, ErrRangeIgnored
	}
	first := strings.TrimSpace(value[:dash])
	last := strings.TrimSpace(value[dash+1:])

	if first == "" {
		// suffix range: the final n bytes
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return ByteRange{}, ErrRangeIgnored
		}
		if n == 0 || size == 0 {
			return ByteRange{}, ErrRangeNotSatisfiable
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, Length: n}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, ErrRangeIgnored
	}

	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return ByteRange{}, ErrRangeIgnored
		}
		if end > size-1 {
			end = size - 1
		}
	}

	if start >= size {
		return ByteRange{}, ErrRangeNotSatisfiable
	}

	return ByteRange{Start: start, Length: end - start + 1}, nil
}
