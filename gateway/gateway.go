// Package gateway composes a complete changegate instance: it forms the
// backing replica set, joins the instance registry, campaigns for the relay
// leadership of its stream key and then relays change feed events out to
// subscribers until it is shut down.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/datapipelabs/changegate/broadcast"
	"github.com/datapipelabs/changegate/contrib/etcdmemberlist"
	"github.com/datapipelabs/changegate/contrib/goclustering"
	"github.com/datapipelabs/changegate/gateway/clustering"
	"github.com/datapipelabs/changegate/pkg/metrics"
	"github.com/datapipelabs/changegate/pkg/version"
	"github.com/datapipelabs/changegate/pkg/webapi"
	"github.com/datapipelabs/changegate/replicaset"
	"github.com/datapipelabs/changegate/resumestore"
	"github.com/datapipelabs/changegate/storeclient/mongoclient"
	"github.com/datapipelabs/changegate/transport/ssehub"
	"github.com/datapipelabs/changegate/utils/channelmerge"
	"github.com/datapipelabs/changegate/utils/netutils"
	"github.com/datapipelabs/changegate/watcher"
	"github.com/google/uuid"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	ResumeStoreFile   = "file"
	ResumeStoreSqlite = "sqlite"
	ResumeStoreEtcd   = "etcd"
)

const (
	instanceRestartDelay = 5 * time.Second
	cleanupTimeout       = 10 * time.Second
)

type ServicePorts struct {
	Web    int
	Events int
}

type StartupInfo struct {
	MemberID       string
	ServerGroup    string
	AdvertiseAddr  string
	AdvertisePorts ServicePorts
}

type Config struct {
	Logger      *zap.Logger
	NodeID      string
	ServerGroup string

	Username string
	Password string

	// Topology is the replica set to form. The seed member doubles as the
	// bootstrap connection target.
	Topology   *replicaset.Topology
	Database   string
	Collection string

	// ResumeStoreKind selects where resume positions are persisted, one of
	// ResumeStoreFile, ResumeStoreSqlite or ResumeStoreEtcd.
	ResumeStoreKind string
	ResumePath      string

	// StreamKey identifies the feed stream this instance relays. Instances
	// sharing a stream key elect a single relay among themselves. Defaults
	// to database/collection.
	StreamKey string

	EtcdHost   string
	EtcdPrefix string

	BindAddress      string
	BindEventsPort   int
	AdvertiseAddress string
	AdvertisePorts   ServicePorts

	SendTimeout      time.Duration
	FailureThreshold int
	FormationTimeout time.Duration

	// Daemon keeps the gateway retrying after instance failures instead of
	// exiting, including losing the relay leadership. Failures that need an
	// operator, such as an expired resume position, still exit.
	Daemon bool

	StartupCallback func(*StartupInfo)
}

type ReconfigureOptions struct {
	SendTimeout      time.Duration
	FailureThreshold int
}

// StatusReport is the gateway's live status as served on the debug
// endpoints.
type StatusReport struct {
	MemberID       string   `json:"memberId"`
	StreamKey      string   `json:"streamKey"`
	Leading        bool     `json:"leading"`
	WatcherState   string   `json:"watcherState"`
	ResumeToken    string   `json:"resumeToken,omitempty"`
	NumDelivered   uint64   `json:"numDelivered"`
	NumSubscribers int      `json:"numSubscribers"`
	Members        []string `json:"members"`
}

type Gateway struct {
	logger    *zap.Logger
	config    *Config
	nodeID    string
	streamKey string
	metrics   *metrics.CgMetrics

	lock        sync.Mutex
	broadcaster *broadcast.Broadcaster
	status      StatusReport
	runCancel   context.CancelFunc

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

func NewGateway(config *Config) (*Gateway, error) {
	if config == nil {
		config = &Config{}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if config.Topology == nil {
		return nil, errors.New("replica set topology must be specified")
	}
	if err := config.Topology.Validate(); err != nil {
		return nil, err
	}
	if config.Database == "" {
		return nil, errors.New("database must be specified")
	}
	if config.Collection == "" {
		return nil, errors.New("collection must be specified")
	}

	switch config.ResumeStoreKind {
	case ResumeStoreFile, ResumeStoreSqlite:
		if config.ResumePath == "" {
			return nil, errors.New("resume path must be specified")
		}
	case ResumeStoreEtcd:
		if config.EtcdHost == "" {
			return nil, errors.New("etcd resume store requires an etcd host")
		}
	case "":
		return nil, errors.New("resume store kind must be specified")
	default:
		return nil, fmt.Errorf("unknown resume store kind: %s", config.ResumeStoreKind)
	}

	nodeID := config.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	streamKey := config.StreamKey
	if streamKey == "" {
		streamKey = fmt.Sprintf("%s/%s", config.Database, config.Collection)
	}

	return &Gateway{
		logger:     logger,
		config:     config,
		nodeID:     nodeID,
		streamKey:  streamKey,
		metrics:    metrics.GetCgMetrics(),
		shutdownCh: make(chan struct{}),
	}, nil
}

// Run starts the gateway and blocks until it stops. In daemon mode instance
// failures restart the instance after a short delay, otherwise the first
// failure is returned.
func (g *Gateway) Run(ctx context.Context) error {
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	g.lock.Lock()
	g.runCancel = runCancel
	g.lock.Unlock()

	for {
		err := g.runInstance(runCtx)

		select {
		case <-g.shutdownCh:
			return nil
		default:
		}

		if err == nil {
			return nil
		}
		if runCtx.Err() != nil {
			return err
		}
		if !g.config.Daemon {
			return err
		}
		if isOperatorError(err) {
			g.logger.Error("gateway instance halted, operator intervention required",
				zap.Error(err))
			return err
		}

		g.logger.Warn("gateway instance failed, restarting",
			zap.Duration("delay", instanceRestartDelay),
			zap.Error(err))

		select {
		case <-time.After(instanceRestartDelay):
		case <-runCtx.Done():
			return runCtx.Err()
		case <-g.shutdownCh:
			return nil
		}
	}
}

// isOperatorError reports whether an instance failure needs an operator to
// act before a restart could succeed. Daemon mode gives up on these instead
// of retrying into the same condition.
func isOperatorError(err error) bool {
	return errors.Is(err, watcher.ErrResumeTokenExpired) ||
		errors.Is(err, replicaset.ErrInvalidTopology)
}

// Shutdown begins a graceful stop. Run returns once the instance has
// unwound.
func (g *Gateway) Shutdown() {
	g.shutdownOnce.Do(func() {
		close(g.shutdownCh)
	})

	g.lock.Lock()
	runCancel := g.runCancel
	g.lock.Unlock()

	if runCancel != nil {
		runCancel()
	}
}

// Reconfigure applies the settings that are safe to change while running.
func (g *Gateway) Reconfigure(opts *ReconfigureOptions) error {
	g.lock.Lock()
	broadcaster := g.broadcaster
	g.lock.Unlock()

	if broadcaster == nil {
		return errors.New("gateway is not running")
	}

	return broadcaster.Reconfigure(&broadcast.ReconfigureOptions{
		SendTimeout:      opts.SendTimeout,
		FailureThreshold: opts.FailureThreshold,
	})
}

// Status returns the latest status report.
func (g *Gateway) Status() StatusReport {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.status
}

func (g *Gateway) runInstance(ctx context.Context) error {
	// Everything below is scoped to this instance, a restart in daemon mode
	// must not leak watches from the previous incarnation.
	ctx, ctxCancel := context.WithCancel(ctx)
	defer ctxCancel()

	cfg := g.config
	logger := g.logger

	logger.Info("starting gateway instance",
		zap.String("nodeId", g.nodeID),
		zap.String("streamKey", g.streamKey),
		zap.String("setId", cfg.Topology.SetID))

	if err := g.bootstrapFormation(ctx); err != nil {
		return err
	}

	// The feed connection discovers the now-formed replica set instead of
	// pinning to the seed, so it survives primary failover.
	feedClient, err := mongoclient.NewClient(ctx, &mongoclient.ClientOptions{
		Logger:   logger.Named("store-client"),
		Address:  cfg.Topology.Seed().Address(),
		Username: cfg.Username,
		Password: cfg.Password,
		AppName:  "changegate",
	})
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer g.closeStoreClient(feedClient)

	if err := feedClient.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}

	var etcdClient *etcd.Client
	if cfg.EtcdHost != "" {
		etcdClient, err = g.connectEtcd(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := etcdClient.Close(); err != nil {
				logger.Debug("failed to close etcd client", zap.Error(err))
			}
		}()
	}

	clusteringManager, elector, err := g.buildClustering(etcdClient)
	if err != nil {
		return err
	}

	resumeStore, err := g.buildResumeStore(etcdClient)
	if err != nil {
		return err
	}
	defer func() {
		if err := resumeStore.Close(); err != nil {
			logger.Debug("failed to close resume store", zap.Error(err))
		}
	}()

	hub, err := ssehub.NewHub(&ssehub.HubOptions{
		Logger: logger.Named("ssehub"),
	})
	if err != nil {
		return err
	}
	defer hub.Close()

	eventsListener, err := net.Listen("tcp",
		fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.BindEventsPort))
	if err != nil {
		return fmt.Errorf("listen on events port: %w", err)
	}

	// No write timeout here, SSE responses are intentionally long-lived.
	eventsServer := &http.Server{
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		err := eventsServer.Serve(eventsListener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := eventsServer.Shutdown(shutdownCtx); err != nil {
			logger.Debug("failed to shut down events server", zap.Error(err))
		}
	}()

	boundEventsPort := eventsListener.Addr().(*net.TCPAddr).Port
	logger.Info("events listener is listening",
		zap.String("address", eventsListener.Addr().String()))

	advertiseAddr := cfg.AdvertiseAddress
	if advertiseAddr == "" {
		advertiseAddr, err = netutils.GetAdvertiseAddress(cfg.BindAddress)
		if err != nil {
			return fmt.Errorf("identify advertise address: %w", err)
		}
	}

	advertisePorts := ServicePorts{
		Web:    cfg.AdvertisePorts.Web,
		Events: cfg.AdvertisePorts.Events,
	}
	if advertisePorts.Events == 0 {
		advertisePorts.Events = boundEventsPort
	}

	membership, err := clusteringManager.Join(ctx, &clustering.Member{
		MemberID:      g.nodeID,
		ServerGroup:   cfg.ServerGroup,
		Version:       version.Get(),
		AdvertiseAddr: advertiseAddr,
		AdvertisePorts: clustering.ServicePorts{
			Web:    advertisePorts.Web,
			Events: advertisePorts.Events,
		},
		StreamKey: g.streamKey,
	})
	if err != nil {
		return fmt.Errorf("join instance registry: %w", err)
	}
	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := membership.Leave(leaveCtx); err != nil {
			logger.Warn("failed to leave instance registry", zap.Error(err))
		}
	}()

	if cfg.StartupCallback != nil {
		cfg.StartupCallback(&StartupInfo{
			MemberID:       g.nodeID,
			ServerGroup:    cfg.ServerGroup,
			AdvertiseAddr:  advertiseAddr,
			AdvertisePorts: advertisePorts,
		})
	}

	logger.Info("campaigning for relay leadership",
		zap.String("streamKey", g.streamKey))

	leadership, err := elector.Campaign(ctx, g.streamKey, g.nodeID)
	if err != nil {
		return fmt.Errorf("campaign for leadership: %w", err)
	}
	defer func() {
		resignCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := leadership.Resign(resignCtx); err != nil {
			logger.Debug("failed to resign leadership", zap.Error(err))
		}
	}()

	logger.Info("won relay leadership", zap.String("streamKey", g.streamKey))

	broadcaster, err := broadcast.NewBroadcaster(&broadcast.BroadcasterOptions{
		Logger:           logger.Named("broadcast"),
		Registry:         hub,
		SendTimeout:      cfg.SendTimeout,
		FailureThreshold: cfg.FailureThreshold,
	})
	if err != nil {
		return err
	}

	g.lock.Lock()
	g.broadcaster = broadcaster
	g.lock.Unlock()
	defer func() {
		g.lock.Lock()
		g.broadcaster = nil
		g.lock.Unlock()
	}()

	clusterCh, err := clusteringManager.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch instance registry: %w", err)
	}

	feedWatcher, err := watcher.NewWatcher(&watcher.WatcherOptions{
		Logger:      logger.Named("watcher"),
		Client:      feedClient,
		ResumeStore: resumeStore,
		Publisher:   broadcaster,
		Database:    cfg.Database,
		Collection:  cfg.Collection,
	})
	if err != nil {
		return err
	}
	defer feedWatcher.Close()

	webapi.SetStatusReporter(func() interface{} {
		return g.Status()
	})
	defer webapi.SetSystemReady(false)

	return g.superviseInstance(ctx, feedWatcher, clusterCh, leadership, hub, serveErrCh)
}

// superviseInstance is the instance run loop: it folds watcher state and
// registry snapshots into the status report, keeps readiness and metrics
// current, and unwinds on leadership loss or watcher halt.
func (g *Gateway) superviseInstance(
	ctx context.Context,
	feedWatcher *watcher.Watcher,
	clusterCh chan *clustering.Snapshot,
	leadership clustering.Leadership,
	hub *ssehub.Hub,
	serveErrCh chan error,
) error {
	mergedCh := channelmerge.Merge(feedWatcher.WatchState(), clusterCh)

	// When we return through the non-merge arms below nobody reads mergedCh
	// anymore, so keep draining it until the unwind in runInstance closes
	// the inputs. Otherwise the merge and registry pipes stay blocked on
	// their final sends and every daemon restart leaks them.
	defer func() {
		go func() {
			for range mergedCh {
			}
		}()
	}()

	var prevState watcher.State
	var prevDelivered uint64
	var prevSubscribers int

	for {
		select {
		case merged, ok := <-mergedCh:
			if !ok {
				// The watcher has stopped, its final snapshot carries the
				// halt cause.
				final := feedWatcher.State()
				if final.Err != nil {
					return final.Err
				}
				return ctx.Err()
			}

			state := merged.A
			clusterSnap := merged.B

			if state.State == watcher.StateReconnecting && prevState != watcher.StateReconnecting {
				g.metrics.FeedReconnects.Add(ctx, 1)
			}
			if state.NumDelivered > prevDelivered {
				g.metrics.EventsForwarded.Add(ctx, int64(state.NumDelivered-prevDelivered))
			}
			numSubscribers := hub.NumClients()
			if numSubscribers != prevSubscribers {
				g.metrics.ActiveSubscribers.Add(ctx, int64(numSubscribers-prevSubscribers))
			}
			prevState = state.State
			prevDelivered = state.NumDelivered
			prevSubscribers = numSubscribers

			webapi.SetSystemReady(state.State == watcher.StateStreaming)

			memberIDs := make([]string, 0, len(clusterSnap.Members))
			for _, member := range clusterSnap.Members {
				memberIDs = append(memberIDs, member.MemberID)
			}

			g.lock.Lock()
			g.status = StatusReport{
				MemberID:       g.nodeID,
				StreamKey:      g.streamKey,
				Leading:        true,
				WatcherState:   state.State.String(),
				ResumeToken:    state.LastToken.String(),
				NumDelivered:   state.NumDelivered,
				NumSubscribers: numSubscribers,
				Members:        memberIDs,
			}
			g.lock.Unlock()

		case <-leadership.Lost():
			return errors.New("relay leadership was lost")

		case err := <-serveErrCh:
			return fmt.Errorf("serve events: %w", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// bootstrapFormation forms the replica set through a direct connection to
// the seed member. The connection is pinned because the set may not exist
// yet for the driver to discover.
func (g *Gateway) bootstrapFormation(ctx context.Context) error {
	cfg := g.config
	logger := g.logger

	bootstrapClient, err := mongoclient.NewClient(ctx, &mongoclient.ClientOptions{
		Logger:   logger.Named("bootstrap-client"),
		Address:  cfg.Topology.Seed().Address(),
		Username: cfg.Username,
		Password: cfg.Password,
		Direct:   true,
		AppName:  "changegate-bootstrap",
	})
	if err != nil {
		return fmt.Errorf("connect to seed member: %w", err)
	}
	defer g.closeStoreClient(bootstrapClient)

	initializer, err := replicaset.NewInitializer(&replicaset.InitializerOptions{
		Logger:           logger.Named("replicaset"),
		Client:           bootstrapClient,
		FormationTimeout: cfg.FormationTimeout,
	})
	if err != nil {
		return err
	}

	formationStart := time.Now()
	status, err := initializer.Initiate(ctx, cfg.Topology)
	g.metrics.FormationWait.Record(ctx, time.Since(formationStart).Seconds())
	if err != nil {
		return fmt.Errorf("form replica set: %w", err)
	}

	logger.Info("replica set formation complete",
		zap.Stringer("status", status),
		zap.Duration("elapsed", time.Since(formationStart)))

	return nil
}

func (g *Gateway) connectEtcd(ctx context.Context) (*etcd.Client, error) {
	cfg := g.config

	etcdClient, err := etcd.New(etcd.Config{
		Endpoints:   []string{cfg.EtcdHost},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to etcd: %w", err)
	}

	// The client dials lazily, a throwaway read proves the endpoint is
	// actually reachable before we depend on it.
	probeCtx, cancel := context.WithTimeout(ctx, 2500*time.Millisecond)
	_, err = etcdClient.KV.Get(probeCtx, "test-key")
	cancel()
	if err != nil {
		_ = etcdClient.Close()
		return nil, fmt.Errorf("validate etcd connection: %w", err)
	}

	return etcdClient, nil
}

func (g *Gateway) buildClustering(etcdClient *etcd.Client) (*clustering.Manager, clustering.Elector, error) {
	cfg := g.config
	logger := g.logger

	if etcdClient != nil {
		provider, err := goclustering.NewEtcdProvider(goclustering.EtcdProviderOptions{
			Logger:     logger.Named("clustering-provider"),
			EtcdClient: etcdClient,
			KeyPrefix:  cfg.EtcdPrefix + "/topology",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize etcd clustering provider: %w", err)
		}

		election, err := etcdmemberlist.NewElection(etcdmemberlist.ElectionOptions{
			EtcdClient: etcdClient,
			KeyPrefix:  cfg.EtcdPrefix + "/election",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize relay election: %w", err)
		}

		manager := &clustering.Manager{
			Provider: provider,
			Logger:   logger.Named("clustering"),
		}
		return manager, clustering.NewEtcdElector(election), nil
	}

	provider, err := goclustering.NewInProcProvider(goclustering.InProcProviderOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize in-proc clustering provider: %w", err)
	}

	manager := &clustering.Manager{
		Provider: provider,
		Logger:   logger.Named("clustering"),
	}
	return manager, clustering.NewInProcElector(), nil
}

func (g *Gateway) buildResumeStore(etcdClient *etcd.Client) (resumestore.Store, error) {
	cfg := g.config
	logger := g.logger.Named("resumestore")

	switch cfg.ResumeStoreKind {
	case ResumeStoreFile:
		return resumestore.NewFileStore(&resumestore.FileStoreOptions{
			Logger: logger,
			Path:   cfg.ResumePath,
		})
	case ResumeStoreSqlite:
		return resumestore.NewSQLStore(&resumestore.SQLStoreOptions{
			Logger:    logger,
			Path:      cfg.ResumePath,
			StreamKey: g.streamKey,
		})
	case ResumeStoreEtcd:
		return resumestore.NewEtcdStore(&resumestore.EtcdStoreOptions{
			Logger:     logger,
			EtcdClient: etcdClient,
			KeyPrefix:  cfg.EtcdPrefix + "/resume",
			StreamKey:  g.streamKey,
		})
	}

	return nil, fmt.Errorf("unknown resume store kind: %s", cfg.ResumeStoreKind)
}

func (g *Gateway) closeStoreClient(client *mongoclient.Client) {
	closeCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := client.Close(closeCtx); err != nil {
		g.logger.Debug("failed to close store client", zap.Error(err))
	}
}
