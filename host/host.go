// Package host runs one host of a job: it loads the input graph, joins
// the transport, runs the configured app and serves its status.
package host

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"

	"dgsync/checkpoint"
	"dgsync/comm"
	"dgsync/database"
	"dgsync/dgraph"
	"dgsync/graph"
	"dgsync/rdg"
)

type Host struct {
	cfg       Config
	logger    logrus.FieldLogger
	transport comm.Transport
	store     checkpoint.Store
	registry  *prometheus.Registry
	graph     *dgraph.DistGraph
	status    *http.Server

	result atomic.Pointer[Result]
}

// New joins the job over gRPC. The transport, store and metrics are
// ready on return; the graph is loaded by Run.
func New(cfg Config, logger logrus.FieldLogger) (*Host, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	t, err := comm.NewGRPC(comm.GRPCConfig{HostID: cfg.HostID, Peers: cfg.Peers}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "start transport")
	}
	h, err := NewWithTransport(cfg, t, logger)
	if err != nil {
		t.Close()
		return nil, err
	}
	return h, nil
}

// NewWithTransport builds a host on an existing transport endpoint.
func NewWithTransport(cfg Config, t comm.Transport, logger logrus.FieldLogger) (*Host, error) {
	if cfg.JobID == "" {
		cfg.JobID = uuid.NewString()
	}
	logger = logger.WithFields(logrus.Fields{"job": cfg.JobID, "host": t.ID()})

	h := &Host{
		cfg:       cfg,
		logger:    logger,
		transport: t,
		registry:  prometheus.NewRegistry(),
	}
	if cfg.Checkpoint != nil {
		store, err := checkpoint.Open(*cfg.Checkpoint, t.ID())
		if err != nil {
			return nil, err
		}
		h.store = store
	}
	metrics, err := dgraph.NewMetrics(h.registry)
	if err == nil {
		h.graph, err = dgraph.New(t, cfg.Graph, h.store, logger, metrics)
	}
	if err != nil {
		if h.store != nil {
			h.store.Close()
		}
		return nil, err
	}
	return h, nil
}

func (h *Host) logMemory() {
	vm, err := mem.VirtualMemory()
	if err != nil {
		h.logger.WithError(err).Warn("read host memory")
		return
	}
	h.logger.WithFields(logrus.Fields{
		"action":       "start",
		"mem_total":    vm.Total,
		"mem_free":     vm.Available,
		"mem_used_pct": vm.UsedPercent,
	}).Info("host starting")
}

// Run loads the graph, runs the app and stores the result. Collective:
// every host of the job must call it.
func (h *Host) Run(ctx context.Context) (Result, error) {
	h.logMemory()
	offline, err := database.Load(ctx, h.cfg.Input, h.logger)
	if err != nil {
		return Result{}, errors.Wrap(err, "load input graph")
	}
	return h.RunOn(ctx, offline)
}

func (h *Host) RunOn(ctx context.Context, offline *graph.Offline) (Result, error) {
	if err := h.graph.Load(offline); err != nil {
		return Result{}, err
	}
	if h.cfg.DumpDir != "" {
		files, err := h.graph.Local().SaveLocal(h.cfg.DumpDir, h.cfg.JobID)
		if err != nil {
			return Result{}, err
		}
		h.logger.WithField("files", files).Info("local graph dumped")
	}

	res, err := RunApp(h.graph, h.cfg.App, h.logger)
	if err != nil {
		return Result{}, errors.Wrapf(err, "run %s", h.cfg.App.Name)
	}
	h.result.Store(&res)
	h.logger.WithFields(logrus.Fields{
		"action":     "app_done",
		"app":        res.App,
		"iterations": res.Iterations,
		"stats":      h.graph.Stats(),
	}).Info("app finished")

	if h.cfg.Output != nil {
		if err := h.storeResult(ctx, offline, res); err != nil {
			return res, err
		}
	}
	return res, h.graph.Barrier()
}

func (h *Host) storeResult(ctx context.Context, offline *graph.Offline, res Result) error {
	bucket, err := rdg.OpenBucket(h.cfg.Output.Bucket)
	if err != nil {
		return err
	}
	prop, err := rdg.NewProperty(res.App, res.Values)
	if err != nil {
		return err
	}
	part := &rdg.RDG{NodeProps: []rdg.Property{prop}, Topology: offline.MarshalTopology()}
	handle := rdg.NewHandle(bucket, h.graph.ID(), h.graph.NumHosts(), h.logger)
	return handle.Store(ctx, part, h.cfg.Output.Path)
}

type Status struct {
	JobID       string                  `json:"job_id"`
	HostID      uint32                  `json:"host_id"`
	NumHosts    uint32                  `json:"num_hosts"`
	Phase       uint32                  `json:"phase"`
	Loaded      bool                    `json:"loaded"`
	Replication dgraph.ReplicationStats `json:"replication"`
	Stats       dgraph.StatsSnapshot    `json:"stats"`
	App         string                  `json:"app,omitempty"`
	Iterations  uint32                  `json:"iterations,omitempty"`
}

// router serves /status and /metrics. The status handler may run while
// the host is inside a collective call.
func (h *Host) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/status", func(context *gin.Context) {
		st := Status{
			JobID:       h.cfg.JobID,
			HostID:      h.graph.ID(),
			NumHosts:    h.graph.NumHosts(),
			Phase:       h.graph.Phase(),
			Loaded:      h.graph.Loaded(),
			Replication: h.graph.Replication(),
			Stats:       h.graph.Stats(),
		}
		if res := h.result.Load(); res != nil {
			st.App = res.App
			st.Iterations = res.Iterations
		}
		context.JSON(http.StatusOK, st)
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})))
	return router
}

// ServeStatus starts the status server on cfg.StatusAddr in the
// background. It is a no-op without an address.
func (h *Host) ServeStatus() {
	if h.cfg.StatusAddr == "" {
		return
	}
	h.status = &http.Server{Addr: h.cfg.StatusAddr, Handler: h.router()}
	go func() {
		h.logger.WithField("addr", h.cfg.StatusAddr).Info("status server listening")
		if err := h.status.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.WithError(err).Error("status server stopped")
		}
	}()
}

func (h *Host) Graph() *dgraph.DistGraph {
	return h.graph
}

func (h *Host) Close() error {
	var firstErr error
	if h.status != nil {
		firstErr = h.status.Close()
	}
	if err := h.transport.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if h.store != nil {
		if err := h.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
