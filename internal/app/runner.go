package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quasar-finance/daoresolve/internal/cache"
	"github.com/quasar-finance/daoresolve/internal/chain"
	"github.com/quasar-finance/daoresolve/internal/config"
	"github.com/quasar-finance/daoresolve/internal/contracts"
	"github.com/quasar-finance/daoresolve/internal/crosschain"
	"github.com/quasar-finance/daoresolve/internal/dao"
	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/httpx"
	"github.com/quasar-finance/daoresolve/internal/indexer"
	"github.com/quasar-finance/daoresolve/internal/logging"
	"github.com/quasar-finance/daoresolve/internal/metrics"
	"github.com/quasar-finance/daoresolve/internal/model"
	"github.com/quasar-finance/daoresolve/internal/out"
	"github.com/quasar-finance/daoresolve/internal/refresh"
	"github.com/quasar-finance/daoresolve/internal/registry"
	"github.com/quasar-finance/daoresolve/internal/resolve"
	"github.com/quasar-finance/daoresolve/internal/schema"
	"github.com/quasar-finance/daoresolve/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
	// chains replaces endpoint discovery when set.
	chains resolve.ClientProvider
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	query       resolve.Options
	settings    config.Settings
	root        *cobra.Command
	lastCommand string
	lastSources []model.SourceStatus

	logger   *zap.Logger
	registry *registry.Registry
	cache    *cache.Store
	resolver *resolve.Resolver
	service  *dao.Service
	metrics  *metrics.Collectors
	promReg  *prometheus.Registry
	server   *http.Server
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if err != nil {
		state.renderError("", err, state.lastSources)
	}
	state.close()
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Inspect DAO DAO state across the indexer and the chain",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())

			logger, err := logging.New(logging.Options{
				Level:  settings.LogLevel,
				Format: settings.LogFormat,
				File:   settings.LogFile,
			}, s.runner.stderr)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.logger = logger
			s.registry = settings.Registry()

			if s.query.BlockHeight < 0 {
				return clierr.New(clierr.CodeUsage, "--block-height must not be negative")
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	pf := cmd.PersistentFlags()
	pf.BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	pf.BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	pf.StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	pf.BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	pf.StringVar(&s.flags.Timeout, "timeout", "", "Per-request timeout for indexer and chain calls")
	pf.IntVar(&s.flags.Retries, "retries", -1, "HTTP retries per request (default 0)")
	pf.StringVar(&s.flags.IndexerURL, "indexer-url", "", "Indexer base URL")
	pf.BoolVar(&s.flags.NoIndexer, "no-indexer", false, "Never query the indexer")
	pf.IntVar(&s.flags.PageSize, "page-size", 0, "Page size for paginated contract queries")
	pf.BoolVar(&s.flags.NoCache, "no-cache", false, "Do not read or persist contract versions on disk")
	pf.StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&s.flags.LogFormat, "log-format", "", "Log format (console, json)")
	pf.StringVar(&s.flags.LogFile, "log-file", "", "Write logs to a rotated file instead of stderr")
	pf.StringVar(&s.flags.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while the command runs")
	pf.StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	pf.BoolVar(&s.query.NoFallback, "no-fallback", false, "Skip the indexer and query the chain directly")
	pf.Int64Var(&s.query.BlockHeight, "block-height", 0, "Pin indexer reads to a block height")
	pf.BoolVar(&s.query.Bypass, "bypass", false, "Ignore cached resolutions")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newContractCommand())
	cmd.AddCommand(s.newDAOCommand())
	cmd.AddCommand(s.newModuleCommand())
	cmd.AddCommand(s.newCacheCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
}

// backend builds the resolution stack on first use. Commands that only
// print static data never touch the network or the fact store.
func (s *runtimeState) backend() (*dao.Service, error) {
	if s.service != nil {
		return s.service, nil
	}
	settings := s.settings
	httpClient := httpx.New(settings.Timeout, settings.Retries)
	bus := refresh.New()

	s.promReg = prometheus.NewRegistry()
	s.metrics = metrics.New(s.promReg)
	if err := bus.Subscribe(refresh.AllScope, func(refresh.Scope, uint64) { s.metrics.Bump() }); err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "subscribe refresh bus", err)
	}
	if settings.MetricsAddr != "" {
		if err := s.serveMetrics(settings.MetricsAddr); err != nil {
			return nil, err
		}
	}

	var provider *chain.Provider
	chains := s.runner.chains
	if chains == nil {
		provider = chain.NewProvider(s.registry, httpClient, bus, s.logger)
		chains = provider
	}
	var idx resolve.IndexerClient
	if !settings.IndexerDisabled {
		idx = indexer.New(settings.IndexerURL, httpClient)
	}
	resolver, err := resolve.New(s.registry, chains, idx, bus,
		resolve.WithMetrics(s.metrics),
		resolve.WithLogger(s.logger),
	)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build resolver", err)
	}
	s.resolver = resolver

	regOpts := []contracts.Option{
		contracts.WithPageSize(settings.PageSize),
		contracts.WithLogger(s.logger),
	}
	if settings.CacheEnabled {
		store, err := cache.Open(settings.CachePath, settings.CacheLockPath)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
		}
		s.cache = store
		regOpts = append(regOpts, contracts.WithStore(store))
	}
	reg := contracts.NewRegistry(resolver, regOpts...)
	accounts := crosschain.New(s.registry, reg, resolver, s.logger)

	svcOpts := []dao.Option{dao.WithLogger(s.logger)}
	if provider != nil {
		svcOpts = append(svcOpts, dao.WithSigner(provider))
	}
	s.service = dao.NewService(reg, resolver, accounts, svcOpts...)
	return s.service, nil
}

func (s *runtimeState) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "listen on --metrics-addr", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// runQuery runs fn with a trace attached and renders its result with the
// resolution sources in meta.
func (s *runtimeState) runQuery(cmd *cobra.Command, fn func(ctx context.Context, svc *dao.Service) (any, error)) error {
	svc, err := s.backend()
	if err != nil {
		return err
	}
	ctx, trace := resolve.WithTrace(cmd.Context())
	data, err := fn(ctx, svc)
	s.lastSources = sourcesFromTrace(trace)
	if err != nil {
		return err
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, s.lastSources)
}

func (s *runtimeState) close() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.server.Shutdown(ctx)
		cancel()
	}
	if s.resolver != nil {
		_ = s.resolver.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}

func (s *runtimeState) emitSuccess(commandPath string, data any, sources []model.SourceStatus) error {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Error:   nil,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Sources:   sources,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, sources []model.SourceStatus) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = errorType(cErr.Code)
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Sources:   sources,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func errorType(code clierr.Code) string {
	switch code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeAuth:
		return "auth_error"
	case clierr.CodeRateLimited:
		return "rate_limited"
	case clierr.CodeUnavailable:
		return "source_unavailable"
	case clierr.CodeUnsupported:
		return "unsupported"
	case clierr.CodeNotFound:
		return "not_found"
	case clierr.CodeUnsupportedChain:
		return "unsupported_chain"
	case clierr.CodeWalletNotConnected:
		return "wallet_not_connected"
	default:
		return "internal_error"
	}
}

func sourcesFromTrace(t *resolve.Trace) []model.SourceStatus {
	entries := t.Entries()
	if len(entries) == 0 {
		return nil
	}
	out := make([]model.SourceStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.SourceStatus{
			ChainID:   e.ChainID,
			Contract:  e.Contract,
			Query:     e.Method,
			Source:    string(e.Source),
			Cached:    e.Cached,
			LatencyMS: e.Latency.Milliseconds(),
		})
	}
	return out
}

func newRequestID() string {
	return uuid.NewString()
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.TrimSpace(part)
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
