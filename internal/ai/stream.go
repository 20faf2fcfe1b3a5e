package ai

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// Stream is a single-pass, forward-only sequence of reply chunks.
type Stream struct {
	chunks <-chan string
	errs   <-chan error
	cancel context.CancelFunc
	err    error
}

// NewStream runs produce in its own goroutine. produce calls emit for every
// chunk in arrival order; emit returns false once the stream was closed.
func NewStream(ctx context.Context, produce func(ctx context.Context, emit func(string) bool) error) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	chunks := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(chunks)

		emit := func(c string) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := produce(ctx, emit); err != nil {
			errs <- err
		}
	}()

	return &Stream{chunks: chunks, errs: errs, cancel: cancel}
}

// Recv returns the next chunk. It returns io.EOF after the last chunk, or the
// producer's error if the stream failed.
func (s *Stream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if c, ok := <-s.chunks; ok {
		return c, nil
	}
	if err := <-s.errs; err != nil {
		s.err = err
	} else {
		s.err = io.EOF
	}
	s.cancel()
	return "", s.err
}

// Close stops the producer and releases its resources.
func (s *Stream) Close() {
	s.cancel()
	for range s.chunks {
	}
}

// Collect drains the stream into one string.
func Collect(s *Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		c, err := s.Recv()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(c)
	}
}

// StaticStream replays fixed chunks and then fails with err (nil means a clean end).
func StaticStream(ctx context.Context, chunks []string, err error) *Stream {
	return NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		for _, c := range chunks {
			if !emit(c) {
				return ctx.Err()
			}
		}
		return err
	})
}

// lineScanner reads newline-delimited provider bodies. Single events can be
// large when a model emits long chunks.
func lineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	return sc
}
