package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/quasar-finance/daoresolve/internal/chain/chaintest"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/model"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.ErrorBody
	Meta    model.EnvelopeMeta `json:"meta"`
}

func testAddress(t *testing.T, seed byte) string {
	t.Helper()
	addr, err := id.Bech32("juno", bytes.Repeat([]byte{seed}, 20))
	if err != nil {
		t.Fatalf("bech32: %v", err)
	}
	return addr
}

type fixture struct {
	runner *Runner
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	chain  *chaintest.Client
	core   string
	v1     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))

	f := &fixture{
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		core:   testAddress(t, 1),
		v1:     testAddress(t, 2),
	}
	f.chain = chaintest.New("juno-1").
		Handle(f.core, func(method string, _ json.RawMessage) (any, error) {
			switch method {
			case "info":
				return chaintest.Info("crates.io:dao-dao-core", "2.4.0"), nil
			case "config":
				return map[string]any{"name": "Chain DAO", "description": "from chain"}, nil
			}
			return nil, nil
		}).
		Handle(f.v1, func(method string, _ json.RawMessage) (any, error) {
			return chaintest.Info("crates.io:cw-proposal-single", "0.1.0"), nil
		})
	f.runner = NewRunnerWithWriters(f.stdout, f.stderr)
	f.runner.chains = chaintest.Provider{"juno-1": f.chain}
	return f
}

func (f *fixture) run(args ...string) int {
	return f.runner.Run(args)
}

func decode(t *testing.T, buf *bytes.Buffer) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse envelope: %v output=%s", err, buf.String())
	}
	return env
}

// indexerServer answers formulas from the map and 500s on anything else.
func indexerServer(t *testing.T, formulas map[string]string, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 4)
		if len(parts) != 4 || parts[1] != "contract" {
			http.Error(w, "unknown path", http.StatusBadRequest)
			return
		}
		body, ok := formulas[parts[3]]
		if !ok {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if body == "" {
			http.Error(w, "contract not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("daoq dao config"); got != "dao config" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestSplitCSV(t *testing.T) {
	items := splitCSV("juno-1, osmosis-1 ,")
	if len(items) != 2 || items[0] != "juno-1" || items[1] != "osmosis-1" {
		t.Fatalf("unexpected split: %#v", items)
	}
}

func TestRunnerChainsList(t *testing.T) {
	f := newFixture(t)
	code := f.run("chains", "list", "--chains", "juno-1,osmosis-1", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, f.stderr.String())
	}
	var out []model.ChainInfo
	if err := json.Unmarshal(f.stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, f.stdout.String())
	}
	if len(out) != 2 || out[0].ChainID != "juno-1" || out[1].ChainID != "osmosis-1" {
		t.Fatalf("unexpected chains: %+v", out)
	}
}

func TestRunnerDAOConfigFallsBackToChain(t *testing.T) {
	f := newFixture(t)
	var hits atomic.Int64
	srv := indexerServer(t, nil, &hits)

	code := f.run("dao", "config", "--chain", "juno-1", "--address", f.core, "--indexer-url", srv.URL, "--no-cache")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, f.stderr.String())
	}
	env := decode(t, f.stdout)
	var cfg model.DAOConfig
	if err := json.Unmarshal(env.Data, &cfg); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if cfg.Name != "Chain DAO" {
		t.Fatalf("expected chain value, got %+v", cfg)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected indexer tried for info and config, got %d", hits.Load())
	}
	if f.chain.Calls("config") != 1 {
		t.Fatalf("expected one chain config query, got %d", f.chain.Calls("config"))
	}
	found := false
	for _, s := range env.Meta.Sources {
		if s.Query == "config" {
			found = true
			if s.Source != "chain" || s.ChainID != "juno-1" || s.Contract != f.core {
				t.Fatalf("unexpected source entry: %+v", s)
			}
		}
	}
	if !found {
		t.Fatalf("expected config in meta.sources, got %+v", env.Meta.Sources)
	}
	if !strings.Contains(f.stderr.String(), "indexer") {
		t.Fatalf("expected the swallowed indexer error to be logged, got %q", f.stderr.String())
	}
}

func TestRunnerIndexerAnswersWithoutChainQueries(t *testing.T) {
	f := newFixture(t)
	var hits atomic.Int64
	srv := indexerServer(t, map[string]string{
		"info":           `{"contract":"crates.io:dao-dao-core","version":"2.4.0"}`,
		"daoCore/config": `{"name":"Indexed DAO","description":"from indexer"}`,
	}, &hits)

	code := f.run("dao", "config", "--chain", "juno-1", "--address", f.core, "--indexer-url", srv.URL, "--no-cache")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, f.stderr.String())
	}
	env := decode(t, f.stdout)
	var cfg model.DAOConfig
	if err := json.Unmarshal(env.Data, &cfg); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if cfg.Name != "Indexed DAO" {
		t.Fatalf("expected indexer value, got %+v", cfg)
	}
	if n := f.chain.Calls(""); n != 0 {
		t.Fatalf("expected no chain queries, got %d", n)
	}
	for _, s := range env.Meta.Sources {
		if s.Source != "indexer" {
			t.Fatalf("expected indexer sources only, got %+v", env.Meta.Sources)
		}
	}
}

func TestRunnerNoFallbackSkipsIndexer(t *testing.T) {
	f := newFixture(t)
	var hits atomic.Int64
	srv := indexerServer(t, map[string]string{
		"info":           `{"contract":"crates.io:dao-dao-core","version":"2.4.0"}`,
		"daoCore/config": `{"name":"Indexed DAO"}`,
	}, &hits)

	code := f.run("dao", "config", "--chain", "juno-1", "--address", f.core, "--indexer-url", srv.URL, "--no-fallback", "--results-only", "--no-cache")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, f.stderr.String())
	}
	var cfg model.DAOConfig
	if err := json.Unmarshal(f.stdout.Bytes(), &cfg); err != nil {
		t.Fatalf("decode data: %v output=%s", err, f.stdout.String())
	}
	if cfg.Name != "Chain DAO" {
		t.Fatalf("expected chain value, got %+v", cfg)
	}
	if f.chain.Calls("config") != 1 {
		t.Fatalf("expected one chain config query, got %d", f.chain.Calls("config"))
	}
}

func TestRunnerContractNotFoundIsAuthoritative(t *testing.T) {
	f := newFixture(t)
	var hits atomic.Int64
	srv := indexerServer(t, map[string]string{"info": ""}, &hits)

	code := f.run("contract", "info", "--chain", "juno-1", "--address", f.core, "--indexer-url", srv.URL, "--log-level", "error", "--no-cache")
	if code != 14 {
		t.Fatalf("expected exit 14, got %d stderr=%s", code, f.stderr.String())
	}
	env := decode(t, f.stderr)
	if env.Success || env.Error == nil || env.Error.Type != "not_found" {
		t.Fatalf("unexpected error envelope: %s", f.stderr.String())
	}
	if n := f.chain.Calls(""); n != 0 {
		t.Fatalf("expected no chain fallback, got %d chain queries", n)
	}
}

func TestRunnerContractInfoPersistsVersion(t *testing.T) {
	f := newFixture(t)
	code := f.run("contract", "info", "--chain", "juno-1", "--address", f.core, "--no-indexer")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, f.stderr.String())
	}
	env := decode(t, f.stdout)
	var info model.ContractInfo
	if err := json.Unmarshal(env.Data, &info); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if info.Family != "v2" || info.Version != "2.4.0" {
		t.Fatalf("unexpected contract info: %+v", info)
	}

	f.stdout.Reset()
	second := NewRunnerWithWriters(f.stdout, f.stderr)
	second.chains = f.runner.chains
	if code := second.Run([]string{"contract", "info", "--chain", "juno-1", "--address", f.core, "--no-indexer"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, f.stderr.String())
	}
	if n := f.chain.Calls("info"); n != 1 {
		t.Fatalf("expected persisted version to skip the info query, got %d queries", n)
	}
}

func TestRunnerUnsupportedOperationForVersion(t *testing.T) {
	f := newFixture(t)
	code := f.run("module", "next-id", "--chain", "juno-1", "--address", f.v1, "--no-indexer", "--log-level", "error", "--no-cache")
	if code != 13 {
		t.Fatalf("expected exit 13, got %d stderr=%s", code, f.stderr.String())
	}
	env := decode(t, f.stderr)
	if env.Error == nil || env.Error.Type != "unsupported" {
		t.Fatalf("unexpected error envelope: %s", f.stderr.String())
	}
	if !strings.Contains(env.Error.Message, "proposal.next_id") {
		t.Fatalf("expected operation name in message, got %q", env.Error.Message)
	}
}

func TestRunnerUnsupportedChain(t *testing.T) {
	f := newFixture(t)
	code := f.run("dao", "config", "--chain", "unknown-9", "--address", f.core, "--log-level", "error")
	if code != 15 {
		t.Fatalf("expected exit 15, got %d stderr=%s", code, f.stderr.String())
	}
	env := decode(t, f.stderr)
	if env.Error == nil || env.Error.Type != "unsupported_chain" || env.Meta.Command != "dao config" {
		t.Fatalf("unexpected error envelope: %s", f.stderr.String())
	}
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	f := newFixture(t)
	code := f.run("dao", "config", "--chain", "juno-1", "--results-only")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, f.stderr.String())
	}
	env := decode(t, f.stderr)
	if env.Success {
		t.Fatalf("expected success=false, got %s", f.stderr.String())
	}
}

func TestRunnerSchema(t *testing.T) {
	f := newFixture(t)
	code := f.run("schema", "dao", "staked-nfts", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, f.stderr.String())
	}
	var out struct {
		Path  string `json:"path"`
		Flags []struct {
			Name string `json:"name"`
		} `json:"flags"`
	}
	if err := json.Unmarshal(f.stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode schema: %v output=%s", err, f.stdout.String())
	}
	if out.Path != "daoq dao staked-nfts" {
		t.Fatalf("unexpected path: %s", out.Path)
	}
	names := map[string]bool{}
	for _, fl := range out.Flags {
		names[fl.Name] = true
	}
	if !names["staker"] || !names["voting-module"] || !names["chain"] {
		t.Fatalf("unexpected flags: %+v", out.Flags)
	}
}
