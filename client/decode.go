package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "zstd, gzip"

// decoder is an http.RoundTripper that asks for compressed bodies and
// decodes them before they reach the caller. A decoded response has an
// unknown length.
type decoder struct {
	base http.RoundTripper
}

func (d decoder) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("Accept-Encoding") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("Accept-Encoding", acceptEncoding)
	}

	resp, err := d.base.RoundTrip(r)
	if err != nil {
		return nil, err
	}

	if !hasBody(r, resp) {
		return resp, nil
	}

	var open func(io.Reader) (io.Reader, func(), error)

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		open = openGzip
	case "zstd":
		open = openZstd
	default:
		return resp, nil
	}

	resp.Body = &decodedBody{open: open, raw: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true

	return resp, nil
}

// hasBody reports whether resp is a successful response that may carry
// content. Error bodies are left encoded for the status error.
func hasBody(r *http.Request, resp *http.Response) bool {
	switch {
	case r.Method == http.MethodHead:
		return false
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false
	case resp.StatusCode == http.StatusNoContent:
		return false
	default:
		return true
	}
}

func openGzip(raw io.Reader) (io.Reader, func(), error) {
	gz, err := gzip.NewReader(raw)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening gzip body: %w", err)
	}
	return gz, func() { _ = gz.Close() }, nil
}

func openZstd(raw io.Reader) (io.Reader, func(), error) {
	zr, err := zstd.NewReader(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("opening zstd body: %w", err)
	}
	return zr, zr.Close, nil
}

// decodedBody opens its decompressor on the first Read, so a malformed
// body fails as a body read rather than as a transport error.
type decodedBody struct {
	open     func(io.Reader) (io.Reader, func(), error)
	raw      io.ReadCloser
	dec      io.Reader
	closeDec func()
	err      error
}

func (b *decodedBody) Read(p []byte) (int, error) {
	if b.dec == nil && b.err == nil {
		b.dec, b.closeDec, b.err = b.open(b.raw)
	}
	if b.err != nil {
		return 0, b.err
	}

	return b.dec.Read(p)
}

func (b *decodedBody) Close() error {
	if b.closeDec != nil {
		b.closeDec()
	}
	return b.raw.Close()
}
