package alertstore

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/pqlmon/pqlmon/pkg/model"
)

// The engine persists through three abstract collection collaborators. The
// concrete implementations live with the cluster plumbing; the in-memory
// versions in this package back the tests.

// BulkItem is one document in a bulk index request. A preset ID is honored
// (the re-save path); an empty ID lets the collection choose.
type BulkItem struct {
	ID      string
	Doc     *model.Alert
	Version int64
}

// BulkItemResult reports the per-item outcome of a bulk operation. Status
// follows HTTP semantics: 2xx success, 429 retryable, anything else fatal.
type BulkItemResult struct {
	ID     string
	Status int
	Err    error
}

func (r BulkItemResult) Failed() bool    { return r.Status >= 400 }
func (r BulkItemResult) Retryable() bool { return r.Status == 429 }

// VersionedAlert pairs an alert document with its external version.
type VersionedAlert struct {
	Alert   *model.Alert
	Version int64
}

// VersionedID identifies a document for a versioned delete. Deletes use
// external-gte semantics so a concurrent rewrite is never clobbered.
type VersionedID struct {
	ID      string
	Version int64
}

// AlertCollection is the active alert tier, routed by monitor id.
type AlertCollection interface {
	EnsureExists(ctx context.Context) error
	Initialized(ctx context.Context) (bool, error)

	// BulkIndex writes all items in one request with refresh-immediate.
	// The routing key co-locates every alert of a monitor on one shard.
	BulkIndex(ctx context.Context, routing string, items []BulkItem) ([]BulkItemResult, error)

	// SearchAll match-alls up to limit documents, with versions.
	SearchAll(ctx context.Context, limit int) ([]VersionedAlert, error)

	// BulkDelete removes documents under external-gte versioning.
	BulkDelete(ctx context.Context, ids []VersionedID) ([]BulkItemResult, error)
}

// HistoryAlias is the write alias over the history rollover chain. Rollover
// by age and doc count, and retention-based deletion of non-write segments,
// are enforced by the alias implementation.
type HistoryAlias interface {
	EnsureExists(ctx context.Context) error
	Initialized(ctx context.Context) (bool, error)

	// BulkCopy indexes the given alerts under their existing ids with
	// external-gte versioning, so re-copies after a partial failure are
	// idempotent.
	BulkCopy(ctx context.Context, alerts []VersionedAlert) ([]BulkItemResult, error)
}

// MonitorCollection is the scheduled-jobs tier keyed by monitor id. The
// envelope carries a _meta.schema_version used to decide whether a mapping
// upgrade is required.
type MonitorCollection interface {
	Get(ctx context.Context, id string) (*model.Monitor, error)
	SearchAll(ctx context.Context, limit int) ([]*model.Monitor, error)

	// UpdateTriggerLastFired partial-updates a single trigger's
	// last_fired_time. Field-level by contract: trigger and action ids are
	// never re-serialized by this path.
	UpdateTriggerLastFired(ctx context.Context, monitorID, triggerID string, fired time.Time) error

	SchemaVersion(ctx context.Context) (int, error)
}

// RoutingShard maps a monitor id onto one of n shards. Exposed so the
// in-memory collection and the cluster implementation agree on placement.
func RoutingShard(monitorID string, shards uint32) uint32 {
	if shards == 0 {
		return 0
	}
	return uint32(xxhash.Sum64String(monitorID) % uint64(shards))
}
