package config

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arkade-os/solverd/internal/core/application"
	"github.com/arkade-os/solverd/internal/core/ports"
	alertsmanager "github.com/arkade-os/solverd/internal/infrastructure/alertsmanager"
	evmchain "github.com/arkade-os/solverd/internal/infrastructure/chain/evm"
	"github.com/arkade-os/solverd/internal/infrastructure/db"
	inmemorylivestore "github.com/arkade-os/solverd/internal/infrastructure/live-store/inmemory"
	redislivestore "github.com/arkade-os/solverd/internal/infrastructure/live-store/redis"
	"github.com/arkade-os/solverd/internal/infrastructure/metrics"
	"github.com/arkade-os/solverd/internal/infrastructure/oracle"
	"github.com/arkade-os/solverd/internal/infrastructure/reputation"
	timescheduler "github.com/arkade-os/solverd/internal/infrastructure/scheduler/gocron"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	supportedEventDbs = supportedType{
		"inmemory": {},
		"postgres": {},
	}
	supportedDbs = supportedType{
		"badger":   {},
		"sqlite":   {},
		"postgres": {},
	}
	supportedLiveStores = supportedType{
		"inmemory": {},
		"redis":    {},
	}
)

type Config struct {
	Datadir         string
	Port            uint32
	NoTLS           bool
	LogLevel        int
	LogFile         string
	TLSExtraIPs     []string
	TLSExtraDomains []string
	EnablePprof     bool

	DbType            string
	EventDbType       string
	DbDir             string
	DbUrl             string
	EventDbUrl        string
	LiveStoreType     string
	RedisUrl          string
	RedisNumOfRetries int
	IntentRetention   time.Duration

	ChainsConfig     string
	SolverPrivateKey string
	RpcRateLimit     float64

	MinProfitBps       int64
	MaxGasPriceGwei    int64
	MaxIntentSizeUsd   string
	MinDeadlineMargin  time.Duration
	RevealDelay        time.Duration
	RevealWindow       time.Duration
	ConfirmationDepth  uint64
	FillMaxAttempts    int
	SettleMaxAttempts  int
	RetryBackoff       time.Duration
	SettleTimeout      time.Duration
	ConfirmTimeout     time.Duration
	MaxConcurrentFills int64
	EpochWidth         time.Duration
	MaxReceiptAge      uint64

	PollInterval        time.Duration
	MaxBlockRange       uint64
	EvaluationInterval  time.Duration
	SweepInterval       time.Duration
	RebalanceInterval   time.Duration
	AggregationInterval time.Duration

	ReputationUrl         string
	AlertManagerURL       string
	OtelCollectorEndpoint string
	OtelPushInterval      int64

	topology   *Topology
	solverKey  *ecdsa.PrivateKey
	repo       ports.RepoManager
	liveStore  ports.LiveStore
	scheduler  ports.SchedulerService
	alerts     ports.Alerts
	oracle     ports.PriceOracle
	reputation ports.ReputationLedger
	registry   *prometheus.Registry
	metrics    ports.Metrics
	clients    map[uint64]ports.ChainClient
	svc        application.Service
}

func (c *Config) String() string {
	clone := *c
	if clone.SolverPrivateKey != "" {
		clone.SolverPrivateKey = "••••••"
	}
	if clone.DbUrl != "" {
		clone.DbUrl = "••••••"
	}
	if clone.EventDbUrl != "" {
		clone.EventDbUrl = "••••••"
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultDatadir             = appDataDir()
	DefaultPort                = 7080
	defaultDbType              = "badger"
	defaultEventDbType         = "inmemory"
	defaultLiveStoreType       = "inmemory"
	defaultRedisNumOfRetries   = 10
	defaultIntentRetention     = 24 * time.Hour
	defaultLogLevel            = 4
	defaultNoTLS               = true
	defaultEnablePprof         = false
	defaultChainsConfig        = "chains.yaml"
	defaultRpcRateLimit        = 10.0
	defaultMinProfitBps        = 10
	defaultMaxGasPriceGwei     = 0 // no cap
	defaultMinDeadlineMargin   = 2 * time.Minute
	defaultRevealDelay         = 2 * time.Second
	defaultRevealWindow        = 30 * time.Second
	defaultConfirmationDepth   = 2
	defaultFillMaxAttempts     = 3
	defaultSettleMaxAttempts   = 3
	defaultRetryBackoff        = 2 * time.Second
	defaultSettleTimeout       = 10 * time.Minute
	defaultConfirmTimeout      = 5 * time.Minute
	defaultMaxConcurrentFills  = 4
	defaultEpochWidth          = time.Hour
	defaultMaxReceiptAge       = 24
	defaultPollInterval        = 4 * time.Second
	defaultMaxBlockRange       = 2000
	defaultEvaluationInterval  = 2 * time.Second
	defaultSweepInterval       = 5 * time.Second
	defaultRebalanceInterval   = 5 * time.Minute
	defaultAggregationInterval = time.Hour
	defaultOtelPushInterval    = 10 // seconds
)

// env returns a list of strings prefixed with `SOLVERD_`.
// This is used as a syntax sugar for defining env vars.
func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("SOLVERD_%s", value)
	}

	return envs
}

var (
	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}

	Port = &cli.UintFlag{
		Usage: "Port to listen on for gRPC and the admin API",
		Name:  "port", EnvVars: env("PORT"),
		Value: uint(DefaultPort),
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	LogFile = &cli.StringFlag{
		Usage: "Path of a rotated log file, logs go to stdout only if unset",
		Name:  "log-file", EnvVars: env("LOG_FILE"),
	}

	DbType = &cli.StringFlag{
		Usage: "Database type (postgres, sqlite, badger)",
		Name:  "db-type", EnvVars: env("DB_TYPE"),
		Value: defaultDbType,
	}

	DbUrl = &cli.StringFlag{
		Usage: "Postgres connection url if SOLVERD_DB_TYPE is set to postgres",
		Name:  "pg-db-url", EnvVars: env("PG_DB_URL"),
	}

	EventDbType = &cli.StringFlag{
		Usage: "Event bus type (inmemory, postgres)",
		Name:  "event-db-type", EnvVars: env("EVENT_DB_TYPE"),
		Value: defaultEventDbType,
	}

	EventDbUrl = &cli.StringFlag{
		Usage: "Postgres connection url if SOLVERD_EVENT_DB_TYPE is set to postgres",
		Name:  "pg-event-db-url", EnvVars: env("PG_EVENT_DB_URL"),
	}

	LiveStoreType = &cli.StringFlag{
		Usage: "Live store type (redis, inmemory), use redis to share commitments among solvers",
		Name:  "live-store-type", EnvVars: env("LIVE_STORE_TYPE"),
		Value: defaultLiveStoreType,
	}

	RedisUrl = &cli.StringFlag{
		Usage: "Redis db connection url if SOLVERD_LIVE_STORE_TYPE is set to redis",
		Name:  "redis-url", EnvVars: env("REDIS_URL"),
	}

	RedisNumOfRetries = &cli.IntFlag{
		Usage: "Maximum number of retries for Redis write operations in case of conflicts",
		Name:  "redis-num-of-retries", EnvVars: env("REDIS_NUM_OF_RETRIES"),
		Value: defaultRedisNumOfRetries,
	}

	IntentRetention = &cli.DurationFlag{
		Usage: "How long settled, failed and expired intents stay in the live store",
		Name:  "intent-retention", EnvVars: env("INTENT_RETENTION"),
		Value: defaultIntentRetention,
	}

	ChainsConfig = &cli.StringFlag{
		Usage: "Path of the YAML (or .toml) file with chains, tokens and initial prices, relative to datadir if not absolute",
		Name:  "chains-config", EnvVars: env("CHAINS_CONFIG"),
		Value: defaultChainsConfig,
	}

	SolverPrivateKey = &cli.StringFlag{
		Usage: "Hex encoded secp256k1 private key of the solver",
		Name:  "solver-private-key", EnvVars: env("SOLVER_PRIVATE_KEY"),
	}

	RpcRateLimit = &cli.Float64Flag{
		Usage: "Max RPC requests per second per chain, 0 means unlimited",
		Name:  "rpc-rate-limit", EnvVars: env("RPC_RATE_LIMIT"),
		Value: defaultRpcRateLimit,
	}

	MinProfitBps = &cli.Int64Flag{
		Usage: "Minimum expected profit in basis points of the input value to accept an intent",
		Name:  "min-profit-bps", EnvVars: env("MIN_PROFIT_BPS"),
		Value: int64(defaultMinProfitBps),
	}

	MaxGasPriceGwei = &cli.Int64Flag{
		Usage: "Reject intents when the destination gas price is above this value, 0 means no cap",
		Name:  "max-gas-price-gwei", EnvVars: env("MAX_GAS_PRICE_GWEI"),
		Value: int64(defaultMaxGasPriceGwei),
	}

	MaxIntentSizeUsd = &cli.StringFlag{
		Usage: "Reject intents whose input is worth more than this USD amount, empty means no cap",
		Name:  "max-intent-size-usd", EnvVars: env("MAX_INTENT_SIZE_USD"),
	}

	MinDeadlineMargin = &cli.DurationFlag{
		Usage: "Minimum time left before the fill deadline to accept an intent",
		Name:  "min-deadline-margin", EnvVars: env("MIN_DEADLINE_MARGIN"),
		Value: defaultMinDeadlineMargin,
	}

	RevealDelay = &cli.DurationFlag{
		Usage: "Delay between commit and reveal",
		Name:  "reveal-delay", EnvVars: env("REVEAL_DELAY"),
		Value: defaultRevealDelay,
	}

	RevealWindow = &cli.DurationFlag{
		Usage: "Time after the commit within which the reveal must happen",
		Name:  "reveal-window", EnvVars: env("REVEAL_WINDOW"),
		Value: defaultRevealWindow,
	}

	ConfirmationDepth = &cli.Uint64Flag{
		Usage: "Blocks to wait on top of a fill before settling",
		Name:  "confirmation-depth", EnvVars: env("CONFIRMATION_DEPTH"),
		Value: uint64(defaultConfirmationDepth),
	}

	FillMaxAttempts = &cli.IntFlag{
		Usage: "Max attempts to submit a fill",
		Name:  "fill-max-attempts", EnvVars: env("FILL_MAX_ATTEMPTS"),
		Value: defaultFillMaxAttempts,
	}

	SettleMaxAttempts = &cli.IntFlag{
		Usage: "Max attempts to submit a settlement before requiring reconciliation",
		Name:  "settle-max-attempts", EnvVars: env("SETTLE_MAX_ATTEMPTS"),
		Value: defaultSettleMaxAttempts,
	}

	RetryBackoff = &cli.DurationFlag{
		Usage: "Base backoff between fill and settle attempts",
		Name:  "retry-backoff", EnvVars: env("RETRY_BACKOFF"),
		Value: defaultRetryBackoff,
	}

	SettleTimeout = &cli.DurationFlag{
		Usage: "Max time to wait for an order to become settleable",
		Name:  "settle-timeout", EnvVars: env("SETTLE_TIMEOUT"),
		Value: defaultSettleTimeout,
	}

	ConfirmTimeout = &cli.DurationFlag{
		Usage: "Max time to wait for a fill or settle tx to confirm before retrying",
		Name:  "confirm-timeout", EnvVars: env("CONFIRM_TIMEOUT"),
		Value: defaultConfirmTimeout,
	}

	MaxConcurrentFills = &cli.Int64Flag{
		Usage: "Max concurrent executions per destination chain",
		Name:  "max-concurrent-fills", EnvVars: env("MAX_CONCURRENT_FILLS"),
		Value: int64(defaultMaxConcurrentFills),
	}

	EpochWidth = &cli.DurationFlag{
		Usage: "Width of an attestation epoch",
		Name:  "epoch-width", EnvVars: env("EPOCH_WIDTH"),
		Value: defaultEpochWidth,
	}

	MaxReceiptAge = &cli.Uint64Flag{
		Usage: "Max age of a receipt in epochs",
		Name:  "max-receipt-age", EnvVars: env("MAX_RECEIPT_AGE"),
		Value: uint64(defaultMaxReceiptAge),
	}

	PollInterval = &cli.DurationFlag{
		Usage: "Interval between chain head polls",
		Name:  "poll-interval", EnvVars: env("POLL_INTERVAL"),
		Value: defaultPollInterval,
	}

	MaxBlockRange = &cli.Uint64Flag{
		Usage: "Max number of blocks per log query",
		Name:  "max-block-range", EnvVars: env("MAX_BLOCK_RANGE"),
		Value: uint64(defaultMaxBlockRange),
	}

	EvaluationInterval = &cli.DurationFlag{
		Usage: "Interval between intent evaluation rounds",
		Name:  "evaluation-interval", EnvVars: env("EVALUATION_INTERVAL"),
		Value: defaultEvaluationInterval,
	}

	SweepInterval = &cli.DurationFlag{
		Usage: "Interval between commitment and intent expiry sweeps",
		Name:  "sweep-interval", EnvVars: env("SWEEP_INTERVAL"),
		Value: defaultSweepInterval,
	}

	RebalanceInterval = &cli.DurationFlag{
		Usage: "Interval between balance refreshes and rebalance checks",
		Name:  "rebalance-interval", EnvVars: env("REBALANCE_INTERVAL"),
		Value: defaultRebalanceInterval,
	}

	AggregationInterval = &cli.DurationFlag{
		Usage: "Interval between receipt aggregations",
		Name:  "aggregation-interval", EnvVars: env("AGGREGATION_INTERVAL"),
		Value: defaultAggregationInterval,
	}

	ReputationUrl = &cli.StringFlag{
		Usage: "Endpoint of the reputation ledger receiving aggregated receipts",
		Name:  "reputation-url", EnvVars: env("REPUTATION_URL"),
	}

	AlertManagerURL = &cli.StringFlag{
		Usage: "Alertmanager endpoint",
		Name:  "alert-manager-url", EnvVars: env("ALERT_MANAGER_URL"),
	}

	NoTLS = &cli.BoolFlag{
		Usage: "Disable TLS",
		Name:  "no-tls", EnvVars: env("NO_TLS"),
		Value: defaultNoTLS,
	}

	TLSExtraIP = &cli.StringSliceFlag{
		Usage: "Extra IP addresses to add to the autogenerated TLS certificate",
		Name:  "tls-extra-ip", EnvVars: env("TLS_EXTRA_IP"),
	}

	TLSExtraDomain = &cli.StringSliceFlag{
		Usage: "Extra domains to add to the autogenerated TLS certificate",
		Name:  "tls-extra-domain", EnvVars: env("TLS_EXTRA_DOMAIN"),
	}

	OtelCollectorEndpoint = &cli.StringFlag{
		Usage: "OpenTelemetry collector endpoint",
		Name:  "otel-collector-endpoint", EnvVars: env("OTEL_COLLECTOR_ENDPOINT"),
	}

	OtelPushInterval = &cli.Int64Flag{
		Usage: "OpenTelemetry push interval in seconds",
		Name:  "otel-push-interval", EnvVars: env("OTEL_PUSH_INTERVAL"),
		Value: int64(defaultOtelPushInterval),
	}

	EnablePprof = &cli.BoolFlag{
		Usage: "Serve pprof endpoints under /debug/pprof/",
		Name:  "enable-pprof", EnvVars: env("ENABLE_PPROF"),
		Value: defaultEnablePprof,
	}
)

var Flags = []cli.Flag{
	Datadir,
	Port,
	LogLevel,
	LogFile,
	DbType,
	DbUrl,
	EventDbType,
	EventDbUrl,
	LiveStoreType,
	RedisUrl,
	RedisNumOfRetries,
	IntentRetention,
	ChainsConfig,
	SolverPrivateKey,
	RpcRateLimit,
	MinProfitBps,
	MaxGasPriceGwei,
	MaxIntentSizeUsd,
	MinDeadlineMargin,
	RevealDelay,
	RevealWindow,
	ConfirmationDepth,
	FillMaxAttempts,
	SettleMaxAttempts,
	RetryBackoff,
	SettleTimeout,
	ConfirmTimeout,
	MaxConcurrentFills,
	EpochWidth,
	MaxReceiptAge,
	PollInterval,
	MaxBlockRange,
	EvaluationInterval,
	SweepInterval,
	RebalanceInterval,
	AggregationInterval,
	ReputationUrl,
	AlertManagerURL,
	NoTLS,
	TLSExtraIP,
	TLSExtraDomain,
	OtelCollectorEndpoint,
	OtelPushInterval,
	EnablePprof,
}

func LoadConfig(c *cli.Context) (*Config, error) {
	if err := initDatadir(c); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	datadir := c.String(Datadir.Name)
	dbPath := filepath.Join(datadir, "db")

	var eventDbUrl string
	if c.String(EventDbType.Name) == "postgres" {
		eventDbUrl = c.String(EventDbUrl.Name)
		if eventDbUrl == "" {
			return nil, fmt.Errorf("event db type set to 'postgres' but event db url is missing")
		}
	}

	var dbUrl string
	if c.String(DbType.Name) == "postgres" {
		dbUrl = c.String(DbUrl.Name)
		if dbUrl == "" {
			return nil, fmt.Errorf("db type set to 'postgres' but db url is missing")
		}
	}

	var redisUrl string
	if c.String(LiveStoreType.Name) == "redis" {
		redisUrl = c.String(RedisUrl.Name)
		if redisUrl == "" {
			return nil, fmt.Errorf("live store type set to 'redis' but redis url is missing")
		}
	}

	chainsConfig := c.String(ChainsConfig.Name)
	if !filepath.IsAbs(chainsConfig) {
		chainsConfig = filepath.Join(datadir, chainsConfig)
	}

	return &Config{
		Datadir:               datadir,
		Port:                  uint32(c.Uint(Port.Name)),
		NoTLS:                 c.Bool(NoTLS.Name),
		LogLevel:              c.Int(LogLevel.Name),
		LogFile:               c.String(LogFile.Name),
		TLSExtraIPs:           c.StringSlice(TLSExtraIP.Name),
		TLSExtraDomains:       c.StringSlice(TLSExtraDomain.Name),
		EnablePprof:           c.Bool(EnablePprof.Name),
		DbType:                c.String(DbType.Name),
		EventDbType:           c.String(EventDbType.Name),
		DbDir:                 dbPath,
		DbUrl:                 dbUrl,
		EventDbUrl:            eventDbUrl,
		LiveStoreType:         c.String(LiveStoreType.Name),
		RedisUrl:              redisUrl,
		RedisNumOfRetries:     c.Int(RedisNumOfRetries.Name),
		IntentRetention:       c.Duration(IntentRetention.Name),
		ChainsConfig:          chainsConfig,
		SolverPrivateKey:      c.String(SolverPrivateKey.Name),
		RpcRateLimit:          c.Float64(RpcRateLimit.Name),
		MinProfitBps:          c.Int64(MinProfitBps.Name),
		MaxGasPriceGwei:       c.Int64(MaxGasPriceGwei.Name),
		MaxIntentSizeUsd:      c.String(MaxIntentSizeUsd.Name),
		MinDeadlineMargin:     c.Duration(MinDeadlineMargin.Name),
		RevealDelay:           c.Duration(RevealDelay.Name),
		RevealWindow:          c.Duration(RevealWindow.Name),
		ConfirmationDepth:     c.Uint64(ConfirmationDepth.Name),
		FillMaxAttempts:       c.Int(FillMaxAttempts.Name),
		SettleMaxAttempts:     c.Int(SettleMaxAttempts.Name),
		RetryBackoff:          c.Duration(RetryBackoff.Name),
		SettleTimeout:         c.Duration(SettleTimeout.Name),
		ConfirmTimeout:        c.Duration(ConfirmTimeout.Name),
		MaxConcurrentFills:    c.Int64(MaxConcurrentFills.Name),
		EpochWidth:            c.Duration(EpochWidth.Name),
		MaxReceiptAge:         c.Uint64(MaxReceiptAge.Name),
		PollInterval:          c.Duration(PollInterval.Name),
		MaxBlockRange:         c.Uint64(MaxBlockRange.Name),
		EvaluationInterval:    c.Duration(EvaluationInterval.Name),
		SweepInterval:         c.Duration(SweepInterval.Name),
		RebalanceInterval:     c.Duration(RebalanceInterval.Name),
		AggregationInterval:   c.Duration(AggregationInterval.Name),
		ReputationUrl:         c.String(ReputationUrl.Name),
		AlertManagerURL:       c.String(AlertManagerURL.Name),
		OtelCollectorEndpoint: c.String(OtelCollectorEndpoint.Name),
		OtelPushInterval:      c.Int64(OtelPushInterval.Name),
	}, nil
}

func initDatadir(c *cli.Context) error {
	datadir := c.String(Datadir.Name)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0o755)
	}
	return nil
}

func appDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".solverd"
	}
	return filepath.Join(home, ".solverd")
}

// Validate checks the config and builds every service but the app one.
func (c *Config) Validate() error {
	if err := c.validateParams(); err != nil {
		return err
	}

	if err := c.topologyService(); err != nil {
		return err
	}
	if err := c.solverKeyService(); err != nil {
		return err
	}
	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.liveStoreService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	if err := c.metricsService(); err != nil {
		return err
	}
	if err := c.oracleService(); err != nil {
		return err
	}
	if err := c.reputationService(); err != nil {
		return err
	}
	if err := c.alertsService(); err != nil {
		return err
	}
	if err := c.chainClients(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateParams() error {
	if !supportedEventDbs.supports(c.EventDbType) {
		return fmt.Errorf(
			"event db type not supported, please select one of: %s",
			supportedEventDbs,
		)
	}
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if len(c.LiveStoreType) > 0 && !supportedLiveStores.supports(c.LiveStoreType) {
		return fmt.Errorf(
			"live store type not supported, please select one of: %s",
			supportedLiveStores,
		)
	}
	if c.MinProfitBps < 0 {
		return fmt.Errorf("min profit bps must not be negative")
	}
	if c.MaxGasPriceGwei < 0 {
		return fmt.Errorf("max gas price must not be negative")
	}
	if c.MaxIntentSizeUsd != "" {
		size, err := decimal.NewFromString(c.MaxIntentSizeUsd)
		if err != nil || size.IsNegative() {
			return fmt.Errorf("invalid max intent size %q", c.MaxIntentSizeUsd)
		}
	}
	if c.RevealWindow <= c.RevealDelay {
		return fmt.Errorf("reveal window must be longer than the reveal delay")
	}
	if c.FillMaxAttempts < 1 {
		return fmt.Errorf("fill max attempts must be at least 1")
	}
	if c.SettleMaxAttempts < 1 {
		return fmt.Errorf("settle max attempts must be at least 1")
	}
	if c.MaxConcurrentFills < 1 {
		return fmt.Errorf("max concurrent fills must be at least 1")
	}
	if c.EpochWidth < time.Second {
		return fmt.Errorf("epoch width must be at least 1 second")
	}
	if c.MaxBlockRange < 1 {
		return fmt.Errorf("max block range must be at least 1")
	}
	for name, interval := range map[string]time.Duration{
		"poll":        c.PollInterval,
		"evaluation":  c.EvaluationInterval,
		"sweep":       c.SweepInterval,
		"rebalance":   c.RebalanceInterval,
		"aggregation": c.AggregationInterval,
	} {
		if interval <= 0 {
			return fmt.Errorf("%s interval must be positive", name)
		}
	}
	if c.RpcRateLimit < 0 {
		return fmt.Errorf("rpc rate limit must not be negative")
	}
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) RepoManager() ports.RepoManager {
	return c.repo
}

// MetricsRegistry is the registry to serve on /metrics.
func (c *Config) MetricsRegistry() *prometheus.Registry {
	return c.registry
}

func (c *Config) topologyService() error {
	topology, err := LoadTopology(c.ChainsConfig)
	if err != nil {
		return err
	}
	c.topology = topology
	return nil
}

func (c *Config) solverKeyService() error {
	if c.SolverPrivateKey == "" {
		return fmt.Errorf("missing solver private key")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.SolverPrivateKey, "0x"))
	if err != nil {
		return fmt.Errorf("invalid solver private key: %s", err)
	}
	c.solverKey = key
	return nil
}

func (c *Config) repoManager() error {
	var svc ports.RepoManager
	var err error
	var eventStoreConfig []interface{}
	var dataStoreConfig []interface{}
	logger := log.New()

	switch c.EventDbType {
	case "inmemory":
		eventStoreConfig = nil
	case "postgres":
		eventStoreConfig = []interface{}{c.EventDbUrl, true}
	default:
		return fmt.Errorf("unknown event db type")
	}

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, logger}
	case "sqlite":
		dataStoreConfig = []interface{}{c.DbDir}
	case "postgres":
		dataStoreConfig = []interface{}{c.DbUrl, true}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err = db.NewService(db.ServiceConfig{
		EventStoreType:   c.EventDbType,
		DataStoreType:    c.DbType,
		EventStoreConfig: eventStoreConfig,
		DataStoreConfig:  dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) liveStoreService() error {
	var liveStoreSvc ports.LiveStore
	var err error
	switch c.LiveStoreType {
	case "inmemory", "":
		liveStoreSvc = inmemorylivestore.NewLiveStore(c.IntentRetention)
	case "redis":
		redisOpts, err := redis.ParseURL(c.RedisUrl)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		liveStoreSvc = redislivestore.NewLiveStore(rdb, c.RedisNumOfRetries, c.IntentRetention)
	default:
		err = fmt.Errorf("unknown liveStore type")
	}

	if err != nil {
		return err
	}

	c.liveStore = liveStoreSvc
	return nil
}

func (c *Config) schedulerService() error {
	c.scheduler = timescheduler.NewScheduler()
	return nil
}

func (c *Config) metricsService() error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}
	c.registry = registry
	c.metrics = m
	return nil
}

func (c *Config) oracleService() error {
	svc, err := oracle.NewStaticOracle(c.topology.InitialPrices())
	if err != nil {
		return err
	}
	c.oracle = svc
	return nil
}

func (c *Config) reputationService() error {
	if c.ReputationUrl == "" {
		log.Debug("reputation ledger disabled, aggregated receipts are only logged")
		return nil
	}
	c.reputation = reputation.NewClient(c.ReputationUrl)
	return nil
}

func (c *Config) alertsService() error {
	if c.AlertManagerURL == "" {
		return nil
	}

	c.alerts = alertsmanager.NewService(c.AlertManagerURL, c.topology.ExplorerUrls())
	return nil
}

func (c *Config) chainClients() error {
	clients := make(map[uint64]ports.ChainClient)
	for _, cfg := range c.topology.ClientConfigs(c.RpcRateLimit) {
		client, err := evmchain.NewChainClient(cfg, c.solverKey)
		if err != nil {
			for _, cl := range clients {
				cl.Close()
			}
			return err
		}
		clients[cfg.ChainId] = client
	}
	c.clients = clients
	return nil
}

func (c *Config) appService() error {
	if c.topology == nil || c.repo == nil {
		return fmt.Errorf("config not validated")
	}

	var maxGasPrice *big.Int
	if c.MaxGasPriceGwei > 0 {
		maxGasPrice = new(big.Int).Mul(big.NewInt(c.MaxGasPriceGwei), big.NewInt(1e9))
	}
	maxIntentSize := decimal.Zero
	if c.MaxIntentSizeUsd != "" {
		maxIntentSize, _ = decimal.NewFromString(c.MaxIntentSizeUsd)
	}

	cfg := application.AgentConfig{
		Strategy: application.StrategyConfig{
			MinProfitBps:      c.MinProfitBps,
			MinDeadlineMargin: c.MinDeadlineMargin,
			MaxGasPrice:       maxGasPrice,
			MaxIntentSize:     maxIntentSize,
		},
		Settlement: application.SettlementConfig{
			ConfirmationDepth:  c.ConfirmationDepth,
			FillMaxAttempts:    c.FillMaxAttempts,
			SettleMaxAttempts:  c.SettleMaxAttempts,
			RetryBackoff:       c.RetryBackoff,
			SettleTimeout:      c.SettleTimeout,
			ConfirmTimeout:     c.ConfirmTimeout,
			PollInterval:       c.PollInterval,
			MaxConcurrentFills: c.MaxConcurrentFills,
		},
		Attestation: application.AttestationConfig{
			EpochWidth:    c.EpochWidth,
			MaxReceiptAge: c.MaxReceiptAge,
		},
		Watcher: application.WatcherConfig{
			PollInterval:  c.PollInterval,
			MaxBlockRange: c.MaxBlockRange,
			MaxBackoff:    16 * c.PollInterval,
		},
		RevealDelay:         c.RevealDelay,
		RevealWindow:        c.RevealWindow,
		EvaluationInterval:  c.EvaluationInterval,
		SweepInterval:       c.SweepInterval,
		RebalanceInterval:   c.RebalanceInterval,
		AggregationInterval: c.AggregationInterval,
	}

	svc, err := application.NewService(
		cfg, c.topology.ChainConfigs(), c.clients, c.solverKey,
		c.repo, c.liveStore, c.scheduler, c.alerts, c.oracle, c.reputation, c.metrics,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
