package download

import (
	"context"
	"errors"
	"io"
	"iter"
)

// DefaultChunkSize is the read buffer size used by FromReader when none
// is given.
const DefaultChunkSize = 32 << 10 // 32KB

// Source yields the bytes of a transfer one chunk at a time. Next returns
// io.EOF once the source is exhausted; any other error aborts the
// transfer. An empty chunk with a nil error is allowed and skipped. The
// returned slice only needs to stay valid until the next call.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(ctx context.Context) ([]byte, error)

func (fn SourceFunc) Next(ctx context.Context) ([]byte, error) {
	return fn(ctx)
}

// FromReader reads r in chunks of up to size bytes, reusing one buffer.
// A size <= 0 uses DefaultChunkSize.
func FromReader(r io.Reader, size int) Source {
	if size <= 0 {
		size = DefaultChunkSize
	}

	return &readerSource{r: r, buf: make([]byte, size)}
}

type readerSource struct {
	r       io.Reader
	buf     []byte
	pending error
}

func (s *readerSource) Next(ctx context.Context) ([]byte, error) {
	if s.pending != nil {
		return nil, s.pending
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := s.r.Read(s.buf)
	if n > 0 {
		// Deliver the bytes first, surface the error on the next call.
		s.pending = err
		return s.buf[:n], nil
	}
	if err != nil {
		s.pending = err
		return nil, err
	}

	return s.buf[:0], nil
}

// FromChunks yields each chunk in order, then io.EOF.
func FromChunks(chunks ...[]byte) Source {
	i := 0
	return SourceFunc(func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i >= len(chunks) {
			return nil, io.EOF
		}
		chunk := chunks[i]
		i++
		return chunk, nil
	})
}

// SeqSource pulls chunks from an iterator. A transfer stops it when it
// ends; call Stop directly only if the source is never handed to one.
type SeqSource struct {
	next func() ([]byte, error, bool)
	stop func()
}

// FromSeq adapts a push iterator of chunks and errors to Source.
func FromSeq(seq iter.Seq2[[]byte, error]) *SeqSource {
	next, stop := iter.Pull2(seq)
	return &SeqSource{next: next, stop: stop}
}

func (s *SeqSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunk, err, ok := s.next()
	if !ok {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// Stop releases the iterator. It may be called more than once.
func (s *SeqSource) Stop() {
	s.stop()
}

// Stopper is implemented by sources holding resources that must be
// released when a transfer ends early. Transfers call Stop on return.
type Stopper interface {
	Stop()
}

// MapErr passes every error except io.EOF through fn before it reaches
// the transfer, so foreign error types can be translated. The result
// forwards Stop to src.
func MapErr(src Source, fn func(error) error) Source {
	return mappedSource{src: src, fn: fn}
}

type mappedSource struct {
	src Source
	fn  func(error) error
}

func (m mappedSource) Next(ctx context.Context) ([]byte, error) {
	chunk, err := m.src.Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, m.fn(err)
	}
	return chunk, err
}

func (m mappedSource) Stop() {
	if s, ok := m.src.(Stopper); ok {
		s.Stop()
	}
}
