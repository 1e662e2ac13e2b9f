package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/reconcile"
	"go.uber.org/zap"
)

// Transport carries one round to the hub.
type Transport interface {
	// Ping checks reachability. Failures are reported as ErrUnreachable.
	Ping(ctx context.Context) error
	// Exchange sends the request and returns the hub's answer. Network and
	// status failures are ErrUnreachable; undecodable answers are ErrMalformedExchange.
	Exchange(ctx context.Context, request SyncRequest) (SyncResponse, error)
}

// Trigger names what started a round.
type Trigger string

const (
	TriggerSchedule  Trigger = "schedule"
	TriggerManual    Trigger = "manual"
	TriggerReconnect Trigger = "reconnect"
)

// Round phases, reported in RoundError.
const (
	PhaseReachability = "reachability"
	PhaseCollect      = "collect"
	PhaseExchange     = "exchange"
	PhaseApply        = "apply"
)

// RoundReport describes a committed round.
type RoundReport struct {
	Trigger           Trigger
	SyncedAt          inventory.Timestamp
	Watermark         inventory.Timestamp
	PushedEntities    int
	PushedMovements   int
	ReceivedEntities  int
	ReceivedMovements int
	Written           int
	LocalConflicts    int
	HubConflicts      int
	Skipped           int
}

// TotalConflicts adds the conflicts resolved on both sides.
func (r RoundReport) TotalConflicts() int {
	return r.LocalConflicts + r.HubConflicts
}

// CoordinatorConfig describes the dependencies of a client Coordinator.
type CoordinatorConfig struct {
	Store     *inventory.Store
	Transport Transport
	// Peer identifies the hub; progress is stored per peer.
	Peer   string
	Logger *zap.Logger
}

// Coordinator runs replication rounds for one client replica against one hub.
// At most one round runs at a time.
type Coordinator struct {
	store     *inventory.Store
	transport Transport
	peer      string
	logger    *zap.Logger
	round     sync.Mutex
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	peer := strings.TrimSpace(cfg.Peer)
	if peer == "" {
		return nil, errMissingPeer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = cfg.Store.Logger()
	}
	return &Coordinator{
		store:     cfg.Store,
		transport: cfg.Transport,
		peer:      peer,
		logger:    logger,
	}, nil
}

// Reachable probes the hub without starting a round.
func (c *Coordinator) Reachable(ctx context.Context) bool {
	return c.transport.Ping(ctx) == nil
}

// State returns the stored progress against the hub.
func (c *Coordinator) State(ctx context.Context) (SyncState, error) {
	return LoadState(ctx, c.store.DB(), c.peer)
}

// Sync runs one round. It returns ErrRoundInProgress when another round is
// active. On any error the watermark and local data are unchanged.
func (c *Coordinator) Sync(ctx context.Context, trigger Trigger) (RoundReport, error) {
	if !c.round.TryLock() {
		return RoundReport{}, ErrRoundInProgress
	}
	defer c.round.Unlock()

	report, err := c.runRound(ctx, trigger)
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, ErrUnreachable) || errors.Is(err, context.Canceled) {
			level = zap.InfoLevel
		}
		c.logger.Check(level, "replication round failed").Write(
			zap.String("peer", c.peer),
			zap.String("trigger", string(trigger)),
			zap.Error(err))
		return RoundReport{}, err
	}

	c.logger.Info("replication round committed",
		zap.String("peer", c.peer),
		zap.String("trigger", string(trigger)),
		zap.Int64("watermark_us", report.Watermark.Int64()),
		zap.Int("pushed_entities", report.PushedEntities),
		zap.Int("pushed_movements", report.PushedMovements),
		zap.Int("received_entities", report.ReceivedEntities),
		zap.Int("received_movements", report.ReceivedMovements),
		zap.Int("conflicts", report.TotalConflicts()),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

func (c *Coordinator) runRound(ctx context.Context, trigger Trigger) (RoundReport, error) {
	if err := c.transport.Ping(ctx); err != nil {
		return RoundReport{}, roundError(PhaseReachability, asUnreachable(err))
	}

	state, err := c.State(ctx)
	if err != nil {
		return RoundReport{}, roundError(PhaseCollect, err)
	}
	collectMark := c.store.Now()
	outgoing, err := c.store.Changes(ctx, state.PushedThrough)
	if err != nil {
		return RoundReport{}, roundError(PhaseCollect, err)
	}

	response, err := c.transport.Exchange(ctx, NewSyncRequest(state.Watermark, outgoing).WithIDs(c.store.IDs()))
	if err != nil {
		if !errors.Is(err, ErrMalformedExchange) {
			err = asUnreachable(err)
		}
		return RoundReport{}, roundError(PhaseExchange, err)
	}
	if err := response.Validate(); err != nil {
		return RoundReport{}, roundError(PhaseExchange, err)
	}

	incoming := response.Changeset()
	report := RoundReport{
		Trigger:           trigger,
		SyncedAt:          response.SyncedAt(),
		PushedEntities:    outgoing.Len() - len(outgoing.Movements),
		PushedMovements:   len(outgoing.Movements),
		ReceivedEntities:  incoming.Len() - len(incoming.Movements),
		ReceivedMovements: len(incoming.Movements),
		HubConflicts:      response.ConflictsResolved,
	}

	release := c.store.LockProducts(incoming.ProductIDs()...)
	defer release()

	err = c.store.Transaction(ctx, func(tx *inventory.Store) error {
		applied, err := applyChangeset(ctx, tx, c.peer, reconcile.TiePreferRemote, incoming, collectMark, c.logger)
		if err != nil {
			return err
		}
		report.Written = applied.Written()
		report.LocalConflicts = applied.Conflicts
		report.Skipped = applied.Skipped

		next := state.Advance(response.SyncedAt(), collectMark, tx.Now(), report.TotalConflicts())
		if err := saveState(ctx, tx.DB(), next); err != nil {
			return err
		}
		report.Watermark = next.Watermark
		return nil
	})
	if err != nil {
		if !errors.Is(err, inventory.ErrStorageFailure) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", inventory.ErrStorageFailure, err)
		}
		return RoundReport{}, roundError(PhaseApply, err)
	}
	return report, nil
}

func asUnreachable(err error) error {
	if errors.Is(err, ErrUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}
