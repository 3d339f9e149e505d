package orchestrator

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// Input is a source of user lines.
type Input interface {
	// ReadLine blocks until a line is available, the source is exhausted
	// (io.EOF) or ctx is done (ctx.Err()).
	ReadLine(ctx context.Context) (string, error)
}

// LineReader reads lines from an [io.Reader] on a background goroutine so
// that waiting for input can be interrupted by context cancellation.
//
// The goroutine starts on the first ReadLine call. When ReadLine returns
// because ctx is done, the goroutine stays blocked in the underlying Read
// until the reader yields; the pending line is delivered to the next
// ReadLine call.
type LineReader struct {
	r     io.Reader
	once  sync.Once
	lines chan string
	err   error // written before lines is closed
}

var _ Input = (*LineReader)(nil)

// NewLineReader returns a LineReader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r, lines: make(chan string)}
}

func (l *LineReader) run() {
	sc := bufio.NewScanner(l.r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		l.lines <- sc.Text()
	}
	l.err = sc.Err()
	if l.err == nil {
		l.err = io.EOF
	}
	close(l.lines)
}

// ReadLine implements [Input].
func (l *LineReader) ReadLine(ctx context.Context) (string, error) {
	l.once.Do(func() { go l.run() })
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-l.lines:
		if !ok {
			return "", l.err
		}
		return line, nil
	}
}
