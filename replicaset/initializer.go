package replicaset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datapipelabs/changegate/retry"
	"github.com/datapipelabs/changegate/storeclient"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval     = 2 * time.Second
	DefaultFormationTimeout = 60 * time.Second
)

type InitializerOptions struct {
	Logger *zap.Logger

	// Client must be connected to the topology's seed member.
	Client storeclient.Client

	Supervisor *retry.Supervisor

	PollInterval     time.Duration
	FormationTimeout time.Duration
}

// Initializer forms the replica set through the seed member and waits for it
// to become healthy.
type Initializer struct {
	logger           *zap.Logger
	client           storeclient.Client
	supervisor       *retry.Supervisor
	pollInterval     time.Duration
	formationTimeout time.Duration
}

func NewInitializer(opts *InitializerOptions) (*Initializer, error) {
	if opts == nil {
		opts = &InitializerOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.Client == nil {
		return nil, errors.New("store client must be specified")
	}

	supervisor := opts.Supervisor
	if supervisor == nil {
		supervisor = retry.NewSupervisor(&retry.SupervisorOptions{
			Logger: logger.Named("retry"),
		})
	}

	pollInterval := opts.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}

	formationTimeout := opts.FormationTimeout
	if formationTimeout == 0 {
		formationTimeout = DefaultFormationTimeout
	}

	return &Initializer{
		logger:           logger,
		client:           opts.Client,
		supervisor:       supervisor,
		pollInterval:     pollInterval,
		formationTimeout: formationTimeout,
	}, nil
}

// Initiate drives the replica set to a healthy formation. It is idempotent:
// running it against an already formed set performs no writes, and losing an
// initiation race to another instance counts as success.
func (i *Initializer) Initiate(ctx context.Context, topology *Topology) (Status, error) {
	if err := topology.Validate(); err != nil {
		return StatusUnformed, err
	}

	seedAddr := topology.Seed().Address()

	state, err := retry.ExecuteValue(ctx, i.supervisor, "getFormationState",
		func(ctx context.Context) (*storeclient.FormationState, error) {
			return i.client.GetFormationState(ctx)
		})
	if err != nil {
		return i.seedFailure(seedAddr, err)
	}

	if state.Initialized {
		status := DeriveStatus(state)
		i.logger.Info("replica set already formed",
			zap.String("setId", state.SetID),
			zap.Stringer("status", status))
		if status == StatusHealthy {
			return StatusHealthy, nil
		}
		return i.awaitHealthy(ctx)
	}

	i.logger.Info("initiating replica set",
		zap.String("setId", topology.SetID),
		zap.Int("numMembers", len(topology.Members)),
		zap.String("seed", seedAddr))

	err = i.supervisor.Execute(ctx, "initiate", func(ctx context.Context) error {
		err := i.client.Initiate(ctx, topology.formationConfig())
		if errors.Is(err, storeclient.ErrAlreadyInitialized) {
			// Losing the formation race is as good as winning it.
			i.logger.Info("replica set was formed concurrently")
			return nil
		}
		return err
	})
	if err != nil {
		return i.seedFailure(seedAddr, err)
	}

	return i.awaitHealthy(ctx)
}

func (i *Initializer) seedFailure(seedAddr string, err error) (Status, error) {
	if errors.Is(err, retry.ErrRetriesExhausted) {
		return StatusUnreachable, &SeedUnreachableError{Address: seedAddr, Cause: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return StatusUnreachable, err
	}
	return StatusUnreachable, fmt.Errorf("seed member %s: %w", seedAddr, err)
}

// awaitHealthy polls the formation until every member is healthy with
// exactly one primary, or the formation deadline passes.
func (i *Initializer) awaitHealthy(ctx context.Context) (Status, error) {
	deadline := time.NewTimer(i.formationTimeout)
	defer deadline.Stop()

	lastStatus := StatusForming
	var lastMembers []storeclient.MemberState

PollLoop:
	for {
		state, err := i.client.GetFormationState(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return lastStatus, ctx.Err()
			}
			i.logger.Debug("formation poll failed", zap.Error(err))
		} else {
			lastStatus = DeriveStatus(state)
			lastMembers = state.Members
			if lastStatus == StatusHealthy {
				i.logger.Info("replica set healthy",
					zap.String("setId", state.SetID),
					zap.Int("numMembers", len(state.Members)))
				return StatusHealthy, nil
			}
			i.logger.Debug("replica set not healthy yet",
				zap.Stringer("status", lastStatus))
		}

		select {
		case <-time.After(i.pollInterval):
		case <-deadline.C:
			break PollLoop
		case <-ctx.Done():
			return lastStatus, ctx.Err()
		}
	}

	return lastStatus, &FormationTimeoutError{
		Timeout:    i.formationTimeout,
		LastStatus: lastStatus,
		Members:    lastMembers,
	}
}
