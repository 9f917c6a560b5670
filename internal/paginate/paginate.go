// Package paginate drains cursor-paginated contract queries.
package paginate

import (
	"context"
	"fmt"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
)

// DefaultPageSize matches the limit most DAO contracts accept per page.
const DefaultPageSize = 30

// Fetch returns up to limit items that sort after startAfter. A nil
// startAfter asks for the first page.
type Fetch[T any, C comparable] func(ctx context.Context, startAfter *C, limit int) ([]T, error)

// Accumulate calls fetch page by page, using the key of the last item as the
// next cursor, until a page comes back shorter than pageSize or empty. When
// the total is an exact multiple of pageSize this costs one extra empty
// request. There is no page cap; a cursor seen twice is an error.
func Accumulate[T any, C comparable](ctx context.Context, pageSize int, cursorOf func(T) C, fetch Fetch[T, C]) ([]T, error) {
	if pageSize <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "page size must be positive")
	}
	var (
		out    []T
		cursor *C
		seen   = make(map[C]struct{})
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "pagination cancelled", err)
		}
		page, err := fetch(ctx, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		next := cursorOf(page[len(page)-1])
		if _, dup := seen[next]; dup {
			return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("pagination cursor %v repeated", next))
		}
		seen[next] = struct{}{}
		cursor = &next
	}
}
