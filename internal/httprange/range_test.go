package httprange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	const size = int64(1000)

	tests := []struct {
		name      string
		header    string
		wantStart int64
		wantEnd   int64
		wantOK    bool
	}{
		{
			name:      "explicit bounds",
			header:    "bytes=0-499",
			wantStart: 0,
			wantEnd:   499,
			wantOK:    true,
		},
		{
			name:      "open end runs to EOF",
			header:    "bytes=500-",
			wantStart: 500,
			wantEnd:   999,
			wantOK:    true,
		},
		{
			name:      "tail range",
			header:    "bytes=900-999",
			wantStart: 900,
			wantEnd:   999,
			wantOK:    true,
		},
		{
			name:      "open start defaults to zero",
			header:    "bytes=-499",
			wantStart: 0,
			wantEnd:   499,
			wantOK:    true,
		},
		{
			name:      "single byte",
			header:    "bytes=0-0",
			wantStart: 0,
			wantEnd:   0,
			wantOK:    true,
		},
		{
			name:   "start after end",
			header: "bytes=500-200",
			wantOK: false,
		},
		{
			name:   "end beyond object",
			header: "bytes=0-1000",
			wantOK: false,
		},
		{
			name:   "start beyond object",
			header: "bytes=1000-",
			wantOK: false,
		},
		{
			name:   "garbage header",
			header: "garbage",
			wantOK: false,
		},
		{
			name:   "missing unit prefix",
			header: "0-499",
			wantOK: false,
		},
		{
			name:   "non-numeric bound",
			header: "bytes=a-b",
			wantOK: false,
		},
		{
			name:   "no separator",
			header: "bytes=500",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := Parse(tt.header, size)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantStart, r.Start)
				assert.Equal(t, tt.wantEnd, r.End)
			}
		})
	}
}

func TestByteRange_Length(t *testing.T) {
	r, ok := Parse("bytes=200-299", 1000)
	assert.True(t, ok)
	assert.Equal(t, int64(100), r.Length())
}
