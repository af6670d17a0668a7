package alertstore

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pqlmon/pqlmon/pkg/model"
)

// In-memory collection implementations. They back the module tests and serve
// as the reference for the versioning and routing semantics a cluster
// implementation must provide.

const inMemoryShards = 4

type storedAlert struct {
	doc     *model.Alert
	version int64
	shard   uint32
}

// InMemoryAlerts implements AlertCollection. FailNext injects per-item
// statuses for the next bulk call, in item order.
type InMemoryAlerts struct {
	mtx         sync.Mutex
	initialized bool
	docs        map[string]*storedAlert

	// FailNext, when non-empty, is consumed by the next BulkIndex call:
	// item i gets status FailNext[i] (0 means success).
	FailNext []int
}

var _ AlertCollection = (*InMemoryAlerts)(nil)

func NewInMemoryAlerts() *InMemoryAlerts {
	return &InMemoryAlerts{docs: map[string]*storedAlert{}}
}

func (c *InMemoryAlerts) EnsureExists(context.Context) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.initialized = true
	return nil
}

func (c *InMemoryAlerts) Initialized(context.Context) (bool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.initialized, nil
}

func (c *InMemoryAlerts) BulkIndex(ctx context.Context, routing string, items []BulkItem) ([]BulkItemResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()

	injected := c.FailNext
	c.FailNext = nil

	shard := RoutingShard(routing, inMemoryShards)
	results := make([]BulkItemResult, 0, len(items))
	for i, item := range items {
		if i < len(injected) && injected[i] != 0 {
			results = append(results, BulkItemResult{ID: item.ID, Status: injected[i], Err: model.NewTransientError(injected[i], nil)})
			continue
		}
		prev := c.docs[item.ID]
		version := int64(1)
		if prev != nil {
			version = prev.version + 1
		}
		if item.Version > 0 {
			version = item.Version
		}
		c.docs[item.ID] = &storedAlert{doc: item.Doc, version: version, shard: shard}
		results = append(results, BulkItemResult{ID: item.ID, Status: http.StatusCreated})
	}
	return results, nil
}

func (c *InMemoryAlerts) SearchAll(ctx context.Context, limit int) ([]VersionedAlert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()

	out := make([]VersionedAlert, 0, len(c.docs))
	for _, d := range c.docs {
		if len(out) >= limit {
			break
		}
		out = append(out, VersionedAlert{Alert: d.doc, Version: d.version})
	}
	return out, nil
}

func (c *InMemoryAlerts) BulkDelete(ctx context.Context, ids []VersionedID) ([]BulkItemResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()

	results := make([]BulkItemResult, 0, len(ids))
	for _, id := range ids {
		d, ok := c.docs[id.ID]
		if !ok {
			results = append(results, BulkItemResult{ID: id.ID, Status: http.StatusNotFound})
			continue
		}
		// external-gte: refuse to delete a newer document.
		if d.version > id.Version {
			results = append(results, BulkItemResult{ID: id.ID, Status: http.StatusConflict})
			continue
		}
		delete(c.docs, id.ID)
		results = append(results, BulkItemResult{ID: id.ID, Status: http.StatusOK})
	}
	return results, nil
}

// Len returns the number of stored documents.
func (c *InMemoryAlerts) Len() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.docs)
}

// Get returns a stored document and its version.
func (c *InMemoryAlerts) Get(id string) (*model.Alert, int64, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	d, ok := c.docs[id]
	if !ok {
		return nil, 0, false
	}
	return d.doc, d.version, true
}

// InMemoryHistory implements HistoryAlias.
type InMemoryHistory struct {
	mtx         sync.Mutex
	initialized bool
	docs        map[string]*storedAlert

	FailNext []int
}

var _ HistoryAlias = (*InMemoryHistory)(nil)

func NewInMemoryHistory() *InMemoryHistory {
	return &InMemoryHistory{docs: map[string]*storedAlert{}}
}

func (h *InMemoryHistory) EnsureExists(context.Context) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.initialized = true
	return nil
}

func (h *InMemoryHistory) Initialized(context.Context) (bool, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.initialized, nil
}

func (h *InMemoryHistory) BulkCopy(ctx context.Context, alerts []VersionedAlert) ([]BulkItemResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mtx.Lock()
	defer h.mtx.Unlock()

	injected := h.FailNext
	h.FailNext = nil

	results := make([]BulkItemResult, 0, len(alerts))
	for i, a := range alerts {
		if i < len(injected) && injected[i] != 0 {
			results = append(results, BulkItemResult{ID: a.Alert.ID, Status: injected[i], Err: model.NewTransientError(injected[i], nil)})
			continue
		}
		prev := h.docs[a.Alert.ID]
		// external-gte: accept equal or newer versions only.
		if prev != nil && a.Version < prev.version {
			results = append(results, BulkItemResult{ID: a.Alert.ID, Status: http.StatusConflict})
			continue
		}
		h.docs[a.Alert.ID] = &storedAlert{doc: a.Alert, version: a.Version}
		results = append(results, BulkItemResult{ID: a.Alert.ID, Status: http.StatusCreated})
	}
	return results, nil
}

func (h *InMemoryHistory) Len() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return len(h.docs)
}

func (h *InMemoryHistory) Get(id string) (*model.Alert, int64, bool) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	d, ok := h.docs[id]
	if !ok {
		return nil, 0, false
	}
	return d.doc, d.version, true
}

// InMemoryMonitors implements MonitorCollection.
type InMemoryMonitors struct {
	mtx           sync.Mutex
	docs          map[string]*model.Monitor
	schemaVersion int
}

var _ MonitorCollection = (*InMemoryMonitors)(nil)

func NewInMemoryMonitors(monitors ...*model.Monitor) *InMemoryMonitors {
	c := &InMemoryMonitors{docs: map[string]*model.Monitor{}, schemaVersion: 1}
	for _, m := range monitors {
		c.docs[m.ID] = m
	}
	return c
}

func (c *InMemoryMonitors) Put(m *model.Monitor) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.docs[m.ID] = m
}

func (c *InMemoryMonitors) Delete(id string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	delete(c.docs, id)
}

func (c *InMemoryMonitors) Get(ctx context.Context, id string) (*model.Monitor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	m, ok := c.docs[id]
	if !ok {
		return nil, model.NewNotFoundError("monitor", id)
	}
	return m, nil
}

func (c *InMemoryMonitors) SearchAll(ctx context.Context, limit int) ([]*model.Monitor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	out := make([]*model.Monitor, 0, len(c.docs))
	for _, m := range c.docs {
		if len(out) >= limit {
			break
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *InMemoryMonitors) UpdateTriggerLastFired(ctx context.Context, monitorID, triggerID string, fired time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	m, ok := c.docs[monitorID]
	if !ok {
		return model.NewNotFoundError("monitor", monitorID)
	}
	t := m.TriggerByID(triggerID)
	if t == nil {
		return model.NewNotFoundError("trigger", triggerID)
	}
	t.LastFiredTime = model.NewTimeMillis(fired)
	return nil
}

func (c *InMemoryMonitors) SchemaVersion(context.Context) (int, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.schemaVersion, nil
}
