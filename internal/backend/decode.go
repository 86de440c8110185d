package backend

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

type compositeReadCloser struct {
	io.Reader
	closers []func() error
}

func (c *compositeReadCloser) Close() error {
	var firstErr error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// decodeBody wraps a response body with the decoder matching its
// Content-Encoding. Transport-level auto-decompression is disabled because
// requests advertise Accept-Encoding explicitly.
func decodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	if body == nil {
		return nil, fmt.Errorf("response body is nil")
	}
	if contentEncoding == "" {
		return body, nil
	}
	for _, raw := range strings.Split(contentEncoding, ",") {
		switch strings.TrimSpace(strings.ToLower(raw)) {
		case "", "identity":
			continue
		case "gzip":
			gzipReader, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return nil, fmt.Errorf("create gzip reader: %w", err)
			}
			return &compositeReadCloser{
				Reader:  gzipReader,
				closers: []func() error{gzipReader.Close, body.Close},
			}, nil
		case "deflate":
			deflateReader := flate.NewReader(body)
			return &compositeReadCloser{
				Reader:  deflateReader,
				closers: []func() error{deflateReader.Close, body.Close},
			}, nil
		case "br":
			return &compositeReadCloser{
				Reader:  brotli.NewReader(body),
				closers: []func() error{body.Close},
			}, nil
		case "zstd":
			decoder, err := zstd.NewReader(body)
			if err != nil {
				_ = body.Close()
				return nil, fmt.Errorf("create zstd reader: %w", err)
			}
			return &compositeReadCloser{
				Reader: decoder,
				closers: []func() error{
					func() error { decoder.Close(); return nil },
					body.Close,
				},
			}, nil
		default:
			return body, nil
		}
	}
	return body, nil
}
