package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/quasar-finance/daoresolve/internal/config"
	"github.com/quasar-finance/daoresolve/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data: []model.ProposalModule{
			{Address: "juno1module", Prefix: "A", Status: "enabled"},
		},
		Meta: model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"address"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["address"] != "juno1module" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["status"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderJSONEnvelopeCarriesSources(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    model.DAOConfig{Name: "Test DAO"},
		Meta: model.EnvelopeMeta{
			Timestamp: time.Now(),
			Command:   "dao config",
			Sources:   []model.SourceStatus{{ChainID: "juno-1", Contract: "juno1core", Query: "config", Source: "chain"}},
		},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "json"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var decoded struct {
		Data model.DAOConfig `json:"data"`
		Meta struct {
			Sources []model.SourceStatus `json:"sources"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if decoded.Data.Name != "Test DAO" || len(decoded.Meta.Sources) != 1 || decoded.Meta.Sources[0].Source != "chain" {
		t.Fatalf("unexpected envelope: %s", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []model.Vote{{Voter: "juno1voter", Vote: "yes", Power: "42"}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "plain", ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "voter=juno1voter") || !strings.Contains(buf.String(), "vote=yes") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestRenderPlainEnvelopeListsSources(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data: []model.Proposal{{
			ID:          12,
			Title:       "Fund the grants program",
			Status:      "open",
			StartHeight: 12345678,
			Votes:       model.VoteTally{Yes: "10", No: "0", Abstain: "1"},
		}},
		Warnings: []string{"proposal module juno1old is disabled"},
		Meta: model.EnvelopeMeta{
			Timestamp: time.Now(),
			Sources: []model.SourceStatus{
				{ChainID: "juno-1", Contract: "juno1module", Query: "list_proposals", Source: "indexer", Cached: true, LatencyMS: 3},
			},
		},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected row, source and warning lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "id=12 status=open title=\"Fund the grants program\" ") {
		t.Fatalf("unexpected row order: %s", lines[0])
	}
	if !strings.Contains(lines[0], "start_height=12345678") || !strings.Contains(lines[0], `votes={"abstain":"1","no":"0","yes":"10"}`) {
		t.Fatalf("unexpected row values: %s", lines[0])
	}
	if lines[1] != "# source query=list_proposals contract=juno1module chain=juno-1 from=indexer cached=true latency_ms=3" {
		t.Fatalf("unexpected source line: %s", lines[1])
	}
	if lines[2] != "# warning: proposal module juno1old is disabled" {
		t.Fatalf("unexpected warning line: %s", lines[2])
	}
}

func TestRenderPlainError(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Error:   &model.ErrorBody{Code: 14, Type: "not_found", Message: "indexer: contract not found"},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "error code=14 type=not_found message=\"indexer: contract not found\"\n"
	if buf.String() != want {
		t.Fatalf("unexpected error output %q", buf.String())
	}
}

func TestRenderPlainAccountsLeadWithChain(t *testing.T) {
	env := model.Envelope{
		Data: []model.Account{
			{ChainID: "juno-1", Address: "juno1core", Type: model.AccountNative},
			{ChainID: "osmosis-1", Address: "osmo1proxy", Type: model.AccountPolytone, CW20s: []string{"osmo1token"}},
		},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain", ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "chain_id=juno-1 address=juno1core type=native\n" +
		"chain_id=osmosis-1 address=osmo1proxy type=polytone cw20s=[\"osmo1token\"]\n"
	if buf.String() != want {
		t.Fatalf("unexpected accounts output %q", buf.String())
	}
}
