// Package health reports the state of the pipeline's dependencies and
// serves it over the standard gRPC health protocol.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/ocr"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Component names, also used as gRPC health service names.
const (
	Database  = "docintake.database"
	Queue     = "docintake.queue"
	Storage   = "docintake.storage"
	Tesseract = "docintake.tesseract"
	Poppler   = "docintake.poppler"
)

// Components lists every reported component in display order.
var Components = []string{Database, Queue, Storage, Tesseract, Poppler}

type Component struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail"`
}

type Report struct {
	Status     string                      `json:"status"`
	Components []Component                 `json:"components"`
	Jobs       map[constants.JobStatus]int `json:"jobs,omitempty"`
	Warnings   []string                    `json:"warnings,omitempty"`
	CheckedAt  time.Time                   `json:"checked_at"`
}

// Component returns the named entry, if present.
func (r Report) Component(name string) (Component, bool) {
	for _, c := range r.Components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// Pinger checks the job store.
type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// StatusCounter reports jobs per status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[constants.JobStatus]int, error)
}

// QueueState is the transport as seen by health checks.
type QueueState interface {
	Degraded() bool
	HasBroker() bool
	LocalBacklog() int
}

// StorageState is the relocator as seen by health checks.
type StorageState interface {
	RemoteEnabled() bool
	Ping(ctx context.Context) error
	Dirs() []string
}

// Tools reports which OCR binaries were found.
type Tools interface {
	Available() ocr.Availability
}

type Checker struct {
	db      Pinger
	counts  StatusCounter
	queue   QueueState
	storage StorageState
	tools   Tools
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker wires the report sources. Any source may be nil; its component
// is then reported unhealthy.
func NewChecker(db Pinger, counts StatusCounter, queue QueueState, storage StorageState, tools Tools, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		db:      db,
		counts:  counts,
		queue:   queue,
		storage: storage,
		tools:   tools,
		timeout: 3 * time.Second,
		logger:  logger,
	}
}

// Check builds a report. The overall status is healthy only when every
// component is.
func (c *Checker) Check(ctx context.Context) Report {
	r := Report{CheckedAt: time.Now().UTC()}
	r.Components = []Component{
		c.database(ctx),
		c.queueComponent(),
		c.storageComponent(ctx),
	}
	r.Components = append(r.Components, c.toolComponents()...)

	if c.counts != nil {
		counts, err := c.counts.CountByStatus(ctx)
		if err != nil {
			r.Warnings = append(r.Warnings, fmt.Sprintf("job counts unavailable: %v", err))
		} else {
			r.Jobs = counts
		}
	}
	if c.queue != nil && c.queue.Degraded() {
		r.Warnings = append(r.Warnings, "message broker unreachable, tasks are held in the in-process fallback queue and are lost on restart")
	}

	r.Status = StatusHealthy
	for _, comp := range r.Components {
		if !comp.Healthy {
			r.Status = StatusDegraded
			break
		}
	}
	sort.Strings(r.Warnings)
	c.logger.Debug("health checked", "status", r.Status)
	return r
}

func (c *Checker) database(ctx context.Context) Component {
	comp := Component{Name: Database}
	if c.db == nil {
		comp.Detail = "not configured"
		return comp
	}
	if err := c.db.HealthCheck(ctx, c.timeout); err != nil {
		comp.Detail = err.Error()
		return comp
	}
	comp.Healthy = true
	comp.Detail = "ok"
	return comp
}

func (c *Checker) queueComponent() Component {
	comp := Component{Name: Queue}
	switch {
	case c.queue == nil:
		comp.Detail = "not configured"
	case !c.queue.HasBroker():
		comp.Detail = fmt.Sprintf("no broker configured, local fallback only (%d waiting)", c.queue.LocalBacklog())
	case c.queue.Degraded():
		comp.Detail = fmt.Sprintf("broker unreachable, using local fallback (%d waiting)", c.queue.LocalBacklog())
	default:
		comp.Healthy = true
		comp.Detail = "ok"
	}
	return comp
}

func (c *Checker) storageComponent(ctx context.Context) Component {
	comp := Component{Name: Storage}
	if c.storage == nil {
		comp.Detail = "not configured"
		return comp
	}
	for _, dir := range c.storage.Dirs() {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			comp.Detail = "missing folder " + dir
			return comp
		}
	}
	if c.storage.RemoteEnabled() {
		pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := c.storage.Ping(pingCtx); err != nil {
			comp.Detail = "object storage: " + err.Error()
			return comp
		}
		comp.Detail = "ok (remote)"
	} else {
		comp.Detail = "ok (local)"
	}
	comp.Healthy = true
	return comp
}

func (c *Checker) toolComponents() []Component {
	tess := Component{Name: Tesseract, Detail: "not found"}
	pop := Component{Name: Poppler, Detail: "not found"}
	if c.tools == nil {
		return []Component{tess, pop}
	}
	a := c.tools.Available()
	if a.Tesseract {
		tess.Healthy, tess.Detail = true, "ok"
	}
	switch {
	case a.Pdftotext && a.Pdftoppm:
		pop.Healthy, pop.Detail = true, "ok"
	case a.Pdftotext:
		pop.Detail = "pdftoppm not found"
	case a.Pdftoppm:
		pop.Detail = "pdftotext not found"
	}
	return []Component{tess, pop}
}
