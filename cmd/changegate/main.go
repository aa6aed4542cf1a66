package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/datapipelabs/changegate/gateway"
	"github.com/datapipelabs/changegate/pkg/version"
	"github.com/datapipelabs/changegate/pkg/webapi"
	"github.com/datapipelabs/changegate/replicaset"
	"github.com/datapipelabs/changegate/utils/secretsmanager"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var buildVersion string = version.Get()

var rootCmd = &cobra.Command{
	Version: buildVersion,

	Use:   "changegate",
	Short: "Forms a document store replica set and relays its change feed to subscribers",

	Run: func(cmd *cobra.Command, args []string) {
		if autoRestart && !autoRestartProc {
			startGatewayWatchdog()
			return
		}

		startGateway()
	},
}

var cfgFile string
var watchCfgFile bool
var daemon bool
var autoRestart bool
var autoRestartProc bool

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "specifies a config file to load")
	rootCmd.Flags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes")
	rootCmd.Flags().BoolVar(&daemon, "daemon", false, "in daemon mode, changegate will not exit on initial failure")
	rootCmd.Flags().BoolVar(&autoRestart, "auto-restart", false, "in auto-restart mode, we run in a child process to auto-restart on failure")
	rootCmd.Flags().BoolVar(&autoRestartProc, "auto-restart-proc", false, "in auto-restart mode, indicates we are the child process")
	_ = rootCmd.Flags().MarkHidden("auto-restart-proc")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("node-id", "", "the unique id of this instance, generated when not specified")
	configFlags.String("server-group", "", "the server group this instance belongs to")
	configFlags.String("store-user", "admin", "the document store username")
	configFlags.String("store-pass", "password", "the document store password")
	configFlags.String("set-id", "rs0", "the replica set id to form")
	configFlags.StringSlice("members", []string{"localhost:27017"}, "the replica set members as host:port[:priority]")
	configFlags.String("database", "app", "the database holding the watched collection")
	configFlags.String("collection", "messages", "the collection to relay inserts from")
	configFlags.String("resume-store", "file", "where to persist resume positions (file, sqlite or etcd)")
	configFlags.String("resume-path", "changegate-resume.json", "the resume state path for the file and sqlite stores")
	configFlags.String("stream-key", "", "overrides the stream key used for election and resume state")
	configFlags.String("etcd-host", "", "the etcd endpoint for the instance registry and election")
	configFlags.String("etcd-prefix", "/changegate", "the etcd key prefix")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind to")
	configFlags.Int("events-port", 18200, "the subscriber events port")
	configFlags.Int("web-port", 9091, "the web metrics/health port")
	configFlags.String("advertise-address", "", "the address to advertise to other instances")
	configFlags.Int("advertise-events-port", 0, "the events port to advertise, defaults to the bound port")
	configFlags.Duration("send-timeout", 5*time.Second, "the per-subscriber delivery timeout")
	configFlags.Int("failure-threshold", 0, "consecutive delivery failures before a subscriber is evicted, 0 disables")
	configFlags.Duration("formation-timeout", 60*time.Second, "how long to wait for the replica set to become healthy")
	configFlags.String("otlp-endpoint", "", "opentelemetry endpoint to send telemetry to")
	configFlags.Bool("disable-otlp-traces", false, "disable sending traces to otlp")
	configFlags.Bool("disable-otlp-metrics", false, "disable sending metrics to otlp")
	configFlags.Bool("trace-everything", false, "enables tracing of all components")
	configFlags.String("cpuprofile", "", "write cpu profile to a file")
	configFlags.String("store-creds-aws-id", "", "id of secret in aws sm storing document store credentials")
	configFlags.String("store-creds-aws-region", "", "region of store-creds-aws-id secret")
	configFlags.String("store-creds-azure-id", "", "id of secret in azure kv storing document store credentials")
	configFlags.String("store-creds-azure-vault-name", "", "name of key vault storing store-creds-azure-id")
	configFlags.String("store-creds-gcp-id", "", "id of secret in gcp sm storing document store credentials")
	configFlags.String("store-creds-gcp-project-id", "", "id of project containing store-creds-gcp-id")
	rootCmd.Flags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("cgw")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)
}

func initTelemetry(
	ctx context.Context,
	logger *zap.Logger,
	otlpEndpoint string,
	enableTraces bool,
	enableMetrics bool,
	traceEverything bool,
) (
	*sdktrace.TracerProvider,
	*sdkmetric.MeterProvider,
	error,
) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			// the service name used to display traces in backends
			semconv.ServiceNameKey.String("changegate"),
		),
	)
	if err != nil {
		if res == nil {
			return nil, nil, err
		}

		logger.Warn("failed to setup some part of opentelemetry resource", zap.Error(err))
	}

	promExp, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	var meterProvider *sdkmetric.MeterProvider
	if !enableMetrics || otlpEndpoint == "" {
		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExp),
		)
	} else {
		metricExp, err := otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithEndpoint(otlpEndpoint))
		if err != nil {
			return nil, nil, err
		}

		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExp),
			sdkmetric.WithReader(
				sdkmetric.NewPeriodicReader(
					metricExp,
				),
			),
		)
	}

	var tracerProvider *sdktrace.TracerProvider
	if !enableTraces || otlpEndpoint == "" {
		// we can just return nil here...
	} else {
		traceClient := otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(otlpEndpoint))
		traceExp, err := otlptrace.New(ctx, traceClient)
		if err != nil {
			return nil, nil, err
		}

		baseTracing := sdktrace.NeverSample()
		if traceEverything {
			baseTracing = sdktrace.AlwaysSample()
		}

		bsp := sdktrace.NewBatchSpanProcessor(traceExp)
		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(baseTracing)),
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(bsp),
		)
	}

	return tracerProvider, meterProvider, nil
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

type config struct {
	logLevelStr              string
	nodeID                   string
	serverGroup              string
	storeUser                string
	storePass                string
	setID                    string
	members                  []string
	database                 string
	collection               string
	resumeStore              string
	resumePath               string
	streamKey                string
	etcdHost                 string
	etcdPrefix               string
	bindAddress              string
	eventsPort               int
	webPort                  int
	advertiseAddress         string
	advertiseEventsPort      int
	sendTimeout              time.Duration
	failureThreshold         int
	formationTimeout         time.Duration
	otlpEndpoint             string
	disableOtlpTraces        bool
	disableOtlpMetrics       bool
	traceEverything          bool
	cpuprofile               string
	storeCredsAwsId          string
	storeCredsAwsRegion      string
	storeCredsAzureId        string
	storeCredsAzureVaultName string
	storeCredsGcpId          string
	storeCredsGcpProjectId   string
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:              viper.GetString("log-level"),
		nodeID:                   viper.GetString("node-id"),
		serverGroup:              viper.GetString("server-group"),
		storeUser:                viper.GetString("store-user"),
		storePass:                viper.GetString("store-pass"),
		setID:                    viper.GetString("set-id"),
		members:                  viper.GetStringSlice("members"),
		database:                 viper.GetString("database"),
		collection:               viper.GetString("collection"),
		resumeStore:              viper.GetString("resume-store"),
		resumePath:               viper.GetString("resume-path"),
		streamKey:                viper.GetString("stream-key"),
		etcdHost:                 viper.GetString("etcd-host"),
		etcdPrefix:               viper.GetString("etcd-prefix"),
		bindAddress:              viper.GetString("bind-address"),
		eventsPort:               viper.GetInt("events-port"),
		webPort:                  viper.GetInt("web-port"),
		advertiseAddress:         viper.GetString("advertise-address"),
		advertiseEventsPort:      viper.GetInt("advertise-events-port"),
		sendTimeout:              viper.GetDuration("send-timeout"),
		failureThreshold:         viper.GetInt("failure-threshold"),
		formationTimeout:         viper.GetDuration("formation-timeout"),
		otlpEndpoint:             viper.GetString("otlp-endpoint"),
		disableOtlpTraces:        viper.GetBool("disable-otlp-traces"),
		disableOtlpMetrics:       viper.GetBool("disable-otlp-metrics"),
		traceEverything:          viper.GetBool("trace-everything"),
		cpuprofile:               viper.GetString("cpuprofile"),
		storeCredsAwsId:          viper.GetString("store-creds-aws-id"),
		storeCredsAwsRegion:      viper.GetString("store-creds-aws-region"),
		storeCredsAzureId:        viper.GetString("store-creds-azure-id"),
		storeCredsAzureVaultName: viper.GetString("store-creds-azure-vault-name"),
		storeCredsGcpId:          viper.GetString("store-creds-gcp-id"),
		storeCredsGcpProjectId:   viper.GetString("store-creds-gcp-project-id"),
	}

	logger.Info("parsed gateway configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.String("nodeId", config.nodeID),
		zap.String("serverGroup", config.serverGroup),
		zap.String("storeUser", config.storeUser),
		// zap.String("storePass", config.storePass),
		zap.String("setId", config.setID),
		zap.Strings("members", config.members),
		zap.String("database", config.database),
		zap.String("collection", config.collection),
		zap.String("resumeStore", config.resumeStore),
		zap.String("resumePath", config.resumePath),
		zap.String("streamKey", config.streamKey),
		zap.String("etcdHost", config.etcdHost),
		zap.String("etcdPrefix", config.etcdPrefix),
		zap.String("bindAddress", config.bindAddress),
		zap.Int("eventsPort", config.eventsPort),
		zap.Int("webPort", config.webPort),
		zap.String("advertiseAddress", config.advertiseAddress),
		zap.Int("advertiseEventsPort", config.advertiseEventsPort),
		zap.Duration("sendTimeout", config.sendTimeout),
		zap.Int("failureThreshold", config.failureThreshold),
		zap.Duration("formationTimeout", config.formationTimeout),
		zap.String("otlpEndpoint", config.otlpEndpoint),
		zap.Bool("disableOtlpTraces", config.disableOtlpTraces),
		zap.Bool("disableOtlpMetrics", config.disableOtlpMetrics),
		zap.Bool("traceEverything", config.traceEverything),
		zap.String("cpuprofile", config.cpuprofile),
		zap.String("storeCredsAwsId", config.storeCredsAwsId),
		zap.String("storeCredsAwsRegion", config.storeCredsAwsRegion),
		zap.String("storeCredsAzureId", config.storeCredsAzureId),
		zap.String("storeCredsAzureVaultName", config.storeCredsAzureVaultName),
		zap.String("storeCredsGcpId", config.storeCredsGcpId),
		zap.String("storeCredsGcpProjectId", config.storeCredsGcpProjectId))

	return config
}

// parseTopology turns member specs of the form host:port or
// host:port:priority into the replica set topology. The first member is the
// seed.
func parseTopology(setID string, specs []string) (*replicaset.Topology, error) {
	members := make([]replicaset.Member, 0, len(specs))
	for i, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid member spec %q, expected host:port[:priority]", spec)
		}

		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid port in member spec %q: %w", spec, err)
		}

		priority := 1.0
		if len(parts) == 3 {
			priority, err = strconv.ParseFloat(parts[2], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid priority in member spec %q: %w", spec, err)
			}
		}

		members = append(members, replicaset.Member{
			ID:       i,
			Host:     parts[0],
			Port:     port,
			Priority: priority,
		})
	}

	return &replicaset.Topology{
		SetID:   setID,
		Members: members,
	}, nil
}

func startGateway() {
	// initialize the logger
	logLevel, logger := getLogger()

	// signal that we are starting
	logger.Info("starting changegate", zap.String("version", buildVersion))

	logger.Info("parsed launch configuration",
		zap.String("config", cfgFile),
		zap.Bool("watch-config", watchCfgFile),
		zap.Bool("daemon", daemon))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			logger.Panic("failed to load specified config file", zap.Error(err))
		}
	}

	config := readConfig(logger)

	parsedLogLevel, err := zapcore.ParseLevel(config.logLevelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		parsedLogLevel = zapcore.InfoLevel
	}
	logLevel.SetLevel(parsedLogLevel)

	// setup profiling
	if config.cpuprofile != "" {
		f, err := os.Create(config.cpuprofile)
		if err != nil {
			logger.Error("failed to create cpu profile file", zap.Error(err))
			os.Exit(1)
		}

		err = pprof.StartCPUProfile(f)
		if err != nil {
			logger.Error("failed to start cpu profiling", zap.Error(err))
			os.Exit(1)
		}

		defer pprof.StopCPUProfile()
	}

	// setup telemetry
	otlpTracerProvider, otlpMeterProvider, err :=
		initTelemetry(context.Background(),
			logger,
			config.otlpEndpoint,
			!config.disableOtlpTraces,
			!config.disableOtlpMetrics,
			config.traceEverything)
	if err != nil {
		logger.Error("failed to initialize opentelemetry", zap.Error(err))
		os.Exit(1)
	}

	if otlpTracerProvider != nil {
		otel.SetTracerProvider(otlpTracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	}
	if otlpMeterProvider != nil {
		otel.SetMeterProvider(otlpMeterProvider)
	}

	// setup the web service
	webListenAddress := fmt.Sprintf("%s:%v", config.bindAddress, config.webPort)
	webapi.InitializeWebServer(webapi.WebServerOptions{
		Logger:        logger,
		LogLevel:      &logLevel,
		ListenAddress: webListenAddress,
	})

	if config.storeCredsAwsId != "" {
		if config.storeUser != "admin" || config.storePass != "password" {
			logger.Error("cannot use store-user or store-pass when fetching creds from a cloud provider")
			os.Exit(1)
		}

		if config.storeCredsAwsRegion == "" {
			logger.Error("must specify region and id when fetching secrets from aws")
			os.Exit(1)
		}

		logger.Info("fetching store credentials from aws secrets manager")
		config.storeUser, config.storePass, err = secretsmanager.FetchAWSSecret(
			context.Background(), config.storeCredsAwsId, config.storeCredsAwsRegion)

		if err != nil {
			logger.Error("failed to fetch store credentials from aws", zap.Error(err))
			os.Exit(1)
		}
	}

	if config.storeCredsAzureId != "" {
		if config.storeUser != "admin" || config.storePass != "password" {
			logger.Error("cannot use store-user or store-pass when fetching creds from a cloud provider")
			os.Exit(1)
		}

		if config.storeCredsAzureVaultName == "" {
			logger.Error("must specify key vault name and id when fetching secrets from azure")
			os.Exit(1)
		}

		logger.Info("fetching store credentials from azure key vault")
		config.storeUser, config.storePass, err = secretsmanager.FetchAzureSecret(
			context.Background(), config.storeCredsAzureId, config.storeCredsAzureVaultName)

		if err != nil {
			logger.Error("failed to fetch store credentials from azure", zap.Error(err))
			os.Exit(1)
		}
	}

	if config.storeCredsGcpId != "" {
		if config.storeUser != "admin" || config.storePass != "password" {
			logger.Error("cannot use store-user or store-pass when fetching creds from a cloud provider")
			os.Exit(1)
		}

		if config.storeCredsGcpProjectId == "" {
			logger.Error("must specify project and secret ids when fetching secrets from gcp")
			os.Exit(1)
		}

		logger.Info("fetching store credentials from gcp secrets manager")
		config.storeUser, config.storePass, err = secretsmanager.FetchGcpSecret(
			context.Background(), config.storeCredsGcpId, config.storeCredsGcpProjectId)

		if err != nil {
			logger.Error("failed to fetch store credentials from gcp", zap.Error(err))
			os.Exit(1)
		}
	}

	topology, err := parseTopology(config.setID, config.members)
	if err != nil {
		logger.Error("failed to parse replica set members", zap.Error(err))
		os.Exit(1)
	}

	gatewayConfig := &gateway.Config{
		Logger:           logger.Named("gateway"),
		NodeID:           config.nodeID,
		ServerGroup:      config.serverGroup,
		Username:         config.storeUser,
		Password:         config.storePass,
		Topology:         topology,
		Database:         config.database,
		Collection:       config.collection,
		ResumeStoreKind:  config.resumeStore,
		ResumePath:       config.resumePath,
		StreamKey:        config.streamKey,
		EtcdHost:         config.etcdHost,
		EtcdPrefix:       config.etcdPrefix,
		BindAddress:      config.bindAddress,
		BindEventsPort:   config.eventsPort,
		AdvertiseAddress: config.advertiseAddress,
		AdvertisePorts: gateway.ServicePorts{
			Web:    config.webPort,
			Events: config.advertiseEventsPort,
		},
		SendTimeout:      config.sendTimeout,
		FailureThreshold: config.failureThreshold,
		FormationTimeout: config.formationTimeout,
		Daemon:           daemon,
		StartupCallback: func(m *gateway.StartupInfo) {
			webapi.MarkSystemHealthy()
		},
	}

	gw, err := gateway.NewGateway(gatewayConfig)
	if err != nil {
		logger.Error("failed to initialize the gateway", zap.Error(err))
		os.Exit(1)
	}

	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		err := viper.ReadInConfig()
		if err != nil {
			logger.Warn("failed to parse configuration file",
				zap.Error(err))
		}

		newConfig := readConfig(logger)

		if newConfig.storeUser != config.storeUser ||
			newConfig.storePass != config.storePass {
			logger.Warn("config changes for storeUser or storePass require a restart")
		}

		if newConfig.setID != config.setID ||
			!strSlicesEqual(newConfig.members, config.members) ||
			newConfig.database != config.database ||
			newConfig.collection != config.collection {
			logger.Warn("config changes for setId, members, database, or collection require a restart")
		}

		if newConfig.resumeStore != config.resumeStore ||
			newConfig.resumePath != config.resumePath ||
			newConfig.streamKey != config.streamKey {
			logger.Warn("config changes for resumeStore, resumePath, or streamKey require a restart")
		}

		if newConfig.etcdHost != config.etcdHost ||
			newConfig.etcdPrefix != config.etcdPrefix {
			logger.Warn("config changes for etcdHost or etcdPrefix require a restart")
		}

		if newConfig.bindAddress != config.bindAddress ||
			newConfig.eventsPort != config.eventsPort ||
			newConfig.webPort != config.webPort ||
			newConfig.advertiseAddress != config.advertiseAddress ||
			newConfig.advertiseEventsPort != config.advertiseEventsPort {
			logger.Warn("config changes for bindAddress, eventsPort, webPort, or advertise addresses require a restart")
		}

		if newConfig.otlpEndpoint != config.otlpEndpoint ||
			newConfig.disableOtlpTraces != config.disableOtlpTraces ||
			newConfig.disableOtlpMetrics != config.disableOtlpMetrics ||
			newConfig.traceEverything != config.traceEverything {
			logger.Warn("config changes for otlpEndpoint, disableOtlpTraces, disableOtlpMetrics, or traceEverything require a restart")
		}

		if newConfig.cpuprofile != config.cpuprofile {
			logger.Warn("config changes for cpuprofile require a restart")
		}

		if newConfig.logLevelStr != config.logLevelStr {
			newParsedLogLevel, err := zapcore.ParseLevel(newConfig.logLevelStr)
			if err != nil {
				logger.Warn("invalid log level specified, using INFO instead")
				newParsedLogLevel = zapcore.InfoLevel
			}

			logLevel.SetLevel(newParsedLogLevel)

			logger.Info("updated log level",
				zap.String("newLevel", newParsedLogLevel.String()))
		}

		if newConfig.sendTimeout != config.sendTimeout ||
			newConfig.failureThreshold != config.failureThreshold {
			err := gw.Reconfigure(&gateway.ReconfigureOptions{
				SendTimeout:      newConfig.sendTimeout,
				FailureThreshold: newConfig.failureThreshold,
			})
			if err != nil {
				logger.Warn("failed to reconfigure gateway", zap.Error(err))
			}
		}

		config = newConfig
	}

	if watchCfgFile {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected")
			reloadConfiguration()
		})

		go viper.WatchConfig()
	}

	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		beginGracefulShutdown := func() {
			gw.Shutdown()
		}

		hasReceivedSigInt := false
		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("Received SIGINT a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("Received SIGINT, attempting graceful shutdown...")
					hasReceivedSigInt = true
					beginGracefulShutdown()
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("Received SIGTERM, attempting graceful shutdown...")
				beginGracefulShutdown()
			} else if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration...")
				reloadConfiguration()
			}
		}
	}()

	err = gw.Run(context.Background())
	if err != nil {
		logger.Error("failed to run the gateway", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("gateway shutdown gracefully")
}

func strSlicesEqual(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func startGatewayWatchdog() {
	_, logger := getLogger()
	logger = logger.Named("watchdog")

	execProc := os.Args[0]
	execArgs := append([]string{"--auto-restart-proc"}, os.Args[1:]...)

	hasReceivedSigInt := false
	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("received sigint a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("received sigint, waiting for graceful shutdown...")
					hasReceivedSigInt = true
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("received sigterm, waiting for graceful shutdown...")
			}
		}
	}()

	for {
		logger.Info("starting sub-process")

		cmd := exec.Command(execProc, execArgs...)
		cmd.Stderr = os.Stderr
		cmd.Stdout = os.Stdout

		err := cmd.Start()
		if err != nil {
			logger.Info("failed to start sub-process", zap.Error(err))
		}

		err = cmd.Wait()
		if err != nil {
			logger.Info("sub-process exited with error", zap.Error(err))
		}

		if hasReceivedSigInt {
			break
		}

		delayTime := 1 * time.Second
		logger.Info("crash detected, restarting", zap.Duration("delay", delayTime))
		time.Sleep(delayTime)
	}
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
