// Package httprange parses HTTP Range headers for partial-content responses.
package httprange

import (
	"strconv"
	"strings"
)

const prefix = "bytes="

// ByteRange is an inclusive byte span within an object of known size.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the range covers.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// Parse interprets a Range header of the form "bytes=<start>-<end>" against
// an object of totalSize bytes. Either bound may be omitted: a missing start
// means 0, a missing end means totalSize-1. ok is false for a malformed
// header, start > end, or end >= totalSize; such requests must be answered
// with 416 and no partial read attempted.
func Parse(header string, totalSize int64) (ByteRange, bool) {
	if !strings.HasPrefix(header, prefix) {
		return ByteRange{}, false
	}

	value := strings.TrimPrefix(header, prefix)
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 {
		return ByteRange{}, false
	}

	start := int64(0)
	end := totalSize - 1

	if parts[0] != "" {
		v, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || v < 0 {
			return ByteRange{}, false
		}
		start = v
	}

	if parts[1] != "" {
		v, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || v < 0 {
			return ByteRange{}, false
		}
		end = v
	}

	if start > end || end >= totalSize {
		return ByteRange{}, false
	}

	return ByteRange{Start: start, End: end}, true
}
