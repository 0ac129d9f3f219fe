// Package storage abstracts where uploaded product images live.
package storage

import (
	"context"
	"io"
)

type ObjectStorage interface {
	Upload(ctx context.Context, path string, r io.Reader) error
	Delete(ctx context.Context, path string) error
	PublicURL(path string) string
}
