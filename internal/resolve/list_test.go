package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/quasar-finance/daoresolve/internal/id"
)

func TestListQueryDrainsPages(t *testing.T) {
	var tokens []string
	for i := 0; i < 45; i++ {
		tokens = append(tokens, fmt.Sprintf("%03d", i))
	}
	f := newFixture(t, nil, func(_ string, msg map[string]json.RawMessage) (json.RawMessage, error) {
		var args struct {
			StartAfter *string `json:"start_after"`
			Limit      int     `json:"limit"`
		}
		_ = json.Unmarshal(msg["staked_nfts"], &args)
		start := 0
		if args.StartAfter != nil {
			for start < len(tokens) && tokens[start] <= *args.StartAfter {
				start++
			}
		}
		end := start + args.Limit
		if end > len(tokens) {
			end = len(tokens)
		}
		return json.Marshal(tokens[start:end])
	})

	list := List[string, string]{
		Address:  "juno1voting",
		Method:   "staked_nfts",
		PageSize: 30,
		Args: func(startAfter *string, limit int) map[string]any {
			args := map[string]any{"address": "juno1staker", "limit": limit}
			if startAfter != nil {
				args["start_after"] = *startAfter
			}
			return args
		},
		Decode: DecodeArray[string],
		Cursor: func(s string) string { return s },
		OnPage: f.resolver.PageHook(),
	}
	d := Descriptor{
		Ref:    id.ContractRef{ChainID: "juno-1", Address: "juno1voting"},
		Method: "staked_nfts",
		Args:   map[string]any{"address": "juno1staker"},
		Query:  list.Query(),
	}
	got, source, err := Value[[]string](context.Background(), f.resolver, d, Options{})
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if len(got) != 45 || source != SourceChain {
		t.Fatalf("expected 45 tokens from chain, got %d from %s", len(got), source)
	}
	if f.chain.calls != 2 {
		t.Fatalf("expected 2 page queries, got %d", f.chain.calls)
	}
	if pages := testutil.ToFloat64(f.metrics.PageRequests); pages != 2 {
		t.Fatalf("expected 2 page metrics, got %v", pages)
	}
}

func TestDecodeField(t *testing.T) {
	items, err := DecodeField[int]("proposals")(json.RawMessage(`{"proposals":[1,2]}`))
	if err != nil || len(items) != 2 {
		t.Fatalf("unexpected items %v err=%v", items, err)
	}
	if _, err := DecodeField[int]("proposals")(json.RawMessage(`{"votes":[]}`)); err == nil {
		t.Fatal("expected missing field error")
	}
}
