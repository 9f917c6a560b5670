package resolve

import (
	"context"
	"encoding/json"

	"github.com/quasar-finance/daoresolve/internal/chain"
	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/paginate"
)

// List describes a cursor-paginated contract query. Its Query drains every
// page on chain and answers with one JSON array of T, the same shape the
// matching indexer formula returns.
type List[T any, C comparable] struct {
	Address  string
	Method   string
	PageSize int
	// Args builds the message body for one page.
	Args func(startAfter *C, limit int) map[string]any
	// Decode extracts the items from one page answer.
	Decode func(raw json.RawMessage) ([]T, error)
	Cursor func(T) C
	OnPage func()
}

func (l List[T, C]) Query() ChainQuery {
	return func(ctx context.Context, c chain.Client) (json.RawMessage, error) {
		pageSize := l.PageSize
		if pageSize <= 0 {
			pageSize = paginate.DefaultPageSize
		}
		items, err := paginate.Accumulate(ctx, pageSize, l.Cursor, func(ctx context.Context, startAfter *C, limit int) ([]T, error) {
			if l.OnPage != nil {
				l.OnPage()
			}
			raw, err := c.QuerySmart(ctx, l.Address, map[string]any{l.Method: l.Args(startAfter, limit)})
			if err != nil {
				return nil, err
			}
			return l.Decode(raw)
		})
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []T{}
		}
		buf, err := json.Marshal(items)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "encode accumulated pages", err)
		}
		return buf, nil
	}
}

// DecodeArray is a List.Decode for answers that are a bare JSON array.
func DecodeArray[T any](raw json.RawMessage) ([]T, error) {
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode page", err)
	}
	return items, nil
}

// DecodeField is a List.Decode for answers that wrap the array in an object
// field, e.g. {"proposals": [...]}.
func DecodeField[T any](field string) func(json.RawMessage) ([]T, error) {
	return func(raw json.RawMessage) ([]T, error) {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "decode page", err)
		}
		inner, ok := wrapper[field]
		if !ok {
			return nil, clierr.New(clierr.CodeUnavailable, "page answer missing "+field)
		}
		return DecodeArray[T](inner)
	}
}

// PageHook counts page requests in the resolver's metrics.
func (r *Resolver) PageHook() func() {
	return r.metrics.Page
}
