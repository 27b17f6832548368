// Package syncclient drives one client node's synchronize loop: the
// push/pull round state machine of §4.10, built on top of the merge
// engine, a caller-supplied local log and a caller-supplied transport.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/message"
	"github.com/vitaliisemenov/dbsync/internal/merge"
	"github.com/vitaliisemenov/dbsync/internal/model"
)

// State names a point in the push round state machine.
type State string

const (
	StateIdle          State = "idle"
	StatePushing       State = "pushing"
	StateDone          State = "done"
	StatePullSuggested State = "pull_suggested"
	StatePushRejected  State = "push_rejected"
	StateTransient     State = "transient"
)

// Transport is the client's view of the wire: push a message, get back
// either a new version id or one of the typed sync errors; pull a
// message since a version.
type Transport interface {
	Push(ctx context.Context, msg message.PushMessage) (newVersionID *int64, err error)
	Pull(ctx context.Context, req message.PullRequestMessage) (message.PullMessage, error)
}

// LocalLog is the client's view of its own pending state: the
// compressed, unversioned operations waiting to be pushed, and the
// node identity/secret a round signs with.
type LocalLog interface {
	NodeID() uuid.UUID
	Secret() string
	LatestVersionID() int64
	PendingOperations() []model.Operation
	BuildPayload(ops []model.Operation) (message.Payload, error)

	// ApplyMergeResult persists the merge engine's output: the new
	// local operation log and the versions just pulled, replacing
	// whatever PendingOperations/LatestVersionID returned before.
	ApplyMergeResult(result merge.Result) error

	// CommitPush records a successful push: the pushed operations are
	// cleared from the pending log and, if newVersionID is non-nil,
	// it becomes the new LatestVersionID.
	CommitPush(pushed []model.Operation, newVersionID *int64) error
}

// Config controls retry behavior.
type Config struct {
	MaxRounds int           `env:"SYNC_MAX_ROUNDS" default:"15"`
	Backoff   time.Duration `env:"SYNC_BACKOFF" default:"200ms"`
}

func (c Config) withDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 15
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	return c
}

// Client runs synchronize rounds against one Transport.
type Client struct {
	Transport Transport
	Log       LocalLog
	Merge     *merge.Engine
	Logger    *slog.Logger
	Config    Config

	state State
}

func New(transport Transport, log LocalLog, mergeEngine *merge.Engine, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Transport: transport,
		Log:       log,
		Merge:     mergeEngine,
		Logger:    logger,
		Config:    cfg.withDefaults(),
		state:     StateIdle,
	}
}

// State returns the state the last Synchronize call ended in.
func (c *Client) State() State { return c.state }

// Synchronize runs the push round state machine to completion: push,
// and on PullSuggested or a transient error pull-then-retry, up to
// Config.MaxRounds. A *merge.UniqueConstraintError surfacing from a
// pull-triggered merge is non-retriable and returned immediately.
func (c *Client) Synchronize(ctx context.Context) error {
	for round := 0; round < c.Config.MaxRounds; round++ {
		c.state = StatePushing

		ops := c.Log.PendingOperations()
		payload, err := c.Log.BuildPayload(ops)
		if err != nil {
			return fmt.Errorf("syncclient: building push payload: %w", err)
		}
		msg := message.NewPushMessage(c.Log.NodeID(), c.Log.LatestVersionID(), c.Log.Secret(), ops, payload)

		newVersionID, err := c.Transport.Push(ctx, msg)
		if err == nil {
			c.state = StateDone
			return c.Log.CommitPush(ops, newVersionID)
		}

		var pullSuggested *message.PullSuggested
		var pushRejected *message.PushRejected
		switch {
		case errors.As(err, &pullSuggested):
			c.state = StatePullSuggested
		case errors.As(err, &pushRejected):
			c.state = StatePushRejected
			return err
		default:
			c.state = StateTransient
		}

		if err := c.pullAndMerge(ctx, ops); err != nil {
			var unique *merge.UniqueConstraintError
			if errors.As(err, &unique) {
				return err
			}
			c.Logger.Warn("pull-triggered merge failed, retrying", "round", round, "error", err)
		}

		if round < c.Config.MaxRounds-1 {
			c.sleep(ctx, round)
		}
	}
	return fmt.Errorf("syncclient: exceeded %d rounds without a successful push", c.Config.MaxRounds)
}

func (c *Client) pullAndMerge(ctx context.Context, localOps []model.Operation) error {
	req := message.PullRequestMessage{
		NodeID:          c.Log.NodeID(),
		LatestVersionID: c.Log.LatestVersionID(),
		Operations:      localOps,
	}
	pull, err := c.Transport.Pull(ctx, req)
	if err != nil {
		return fmt.Errorf("syncclient: pull: %w", err)
	}

	result, err := c.Merge.Merge(ctx, pull, localOps, nil, nil)
	if err != nil {
		return err
	}
	return c.Log.ApplyMergeResult(result)
}

func (c *Client) sleep(ctx context.Context, round int) {
	delay := c.Config.Backoff * time.Duration(round+1)
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
