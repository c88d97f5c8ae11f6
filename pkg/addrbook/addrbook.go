// Package addrbook is the public entry point for embedding the address
// book in another program.
package addrbook

import (
	"context"

	"github.com/mesh-intelligence/addrbook/internal/book"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// Version is the release version reported by the CLI.
const Version = "0.1.0"

// ModulePath is the Go module path.
const ModulePath = "github.com/mesh-intelligence/addrbook"

// Open attaches a book for cfg. The caller must Detach it.
func Open(ctx context.Context, cfg types.Config, force bool, opts ...book.Option) (*book.Book, book.StartupReport, error) {
	b := book.New(opts...)
	report, err := b.Attach(ctx, cfg, book.AttachOptions{ForceReindex: force})
	if err != nil {
		return nil, report, err
	}
	return b, report, nil
}
