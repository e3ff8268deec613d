package inference

import (
	"context"
	"io"
)

// ByteSource supplies the raw bytes of one uploaded image.
type ByteSource interface {
	ReadAll(ctx context.Context) ([]byte, error)
}

// Bytes is a ByteSource over an in-memory buffer.
type Bytes []byte

// ReadAll implements ByteSource.
func (b Bytes) ReadAll(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

// ReaderSource adapts an io.Reader, stopping early when ctx is done.
type ReaderSource struct {
	R io.Reader
}

// ReadAll implements ByteSource.
func (s ReaderSource) ReadAll(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(contextReader{ctx: ctx, r: s.R})
	if err != nil {
		return nil, err
	}
	return data, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
