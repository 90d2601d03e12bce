package relay

import (
	"errors"
	"io"
)

// errSizeLimitExceeded is returned by limitedWriter.Write once total
// bytes written (existing content plus this push) would reach or exceed
// the configured filesize_limit. upload/push deletes the whole object on
// this error rather than leaving a truncated partial.
var errSizeLimitExceeded = errors.New("relay: filesize limit exceeded")

// limitedWriter wraps a content append writer and aborts the write as
// soon as the running total (pre-existing size plus bytes written this
// call) would reach or exceed limit, without writing that chunk.
type limitedWriter struct {
	dst   io.Writer
	limit int64
	total int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.total+int64(len(p)) >= l.limit {
		return 0, errSizeLimitExceeded
	}
	n, err := l.dst.Write(p)
	l.total += int64(n)
	return n, err
}
