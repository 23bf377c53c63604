package dist

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lioia/distributed-nodeflow/pkg/partitioner"
	"github.com/lioia/distributed-nodeflow/pkg/rpc"
	"github.com/lioia/distributed-nodeflow/pkg/utils"
)

// ServerConfig collects everything a graph server needs to come up.
type ServerConfig struct {
	ServerID     int
	IPConfig     *rpc.IPConfig
	NumClients   int
	ManifestPath string
	// MonitorAddr, when set, exposes an HTTP monitoring endpoint.
	MonitorAddr string
}

// GraphServer owns one partition and answers sampling and feature requests
// for its nodes and edges. The partition it loads is the machine rank of
// its server id, so all logical servers of a machine share the shard.
type GraphServer struct {
	cfg   ServerConfig
	state *rpc.ServerState
	srv   *rpc.Server
	echo  *echo.Echo
}

func NewGraphServer(cfg ServerConfig) (*GraphServer, error) {
	if cfg.IPConfig == nil {
		return nil, fmt.Errorf("graph server needs an ip configuration")
	}
	partID, err := cfg.IPConfig.MachineOfServer(cfg.ServerID)
	if err != nil {
		return nil, err
	}
	state, err := BuildServerState(cfg.ManifestPath, partID)
	if err != nil {
		return nil, err
	}
	reg := rpc.NewRegistry()
	if err := RegisterAll(reg); err != nil {
		return nil, err
	}
	srv, err := rpc.NewServer(cfg.ServerID, cfg.IPConfig, cfg.NumClients, reg, state)
	if err != nil {
		return nil, err
	}
	gs := &GraphServer{cfg: cfg, state: state, srv: srv}
	if cfg.MonitorAddr != "" {
		gs.echo = newMonitor(gs)
	}
	return gs, nil
}

// BuildServerState loads one partition shard and wraps it in the state the
// RPC services operate on. Standalone clients use it too, with partition 0
// of a single-partition manifest.
func BuildServerState(manifestPath string, partID int) (*rpc.ServerState, error) {
	pd, nodeFeats, edgeFeats, m, err := partitioner.LoadPartition(manifestPath, partID)
	if err != nil {
		return nil, fmt.Errorf("loading partition %d: %w", partID, err)
	}
	book, err := partitioner.LoadPartitionBook(manifestPath)
	if err != nil {
		return nil, err
	}
	utils.ServerLog("loaded partition %d of %s: %d local nodes (%d inner), %d local edges",
		partID, m.GraphName, pd.Graph.NumNodes(), pd.NumInner, pd.Graph.NumEdges())
	return &rpc.ServerState{
		PartID:     partID,
		LocalGraph: pd.Graph,
		GlobalNID:  pd.GlobalNID,
		GlobalEID:  pd.GlobalEID,
		NumInner:   pd.NumInner,
		Book:       book,
		NodeFeats:  nodeFeats,
		EdgeFeats:  edgeFeats,
	}, nil
}

// Run serves RPC until the last client disconnects. The monitor, when
// configured, runs alongside and is shut down on return.
func (gs *GraphServer) Run() error {
	if gs.echo != nil {
		go func() {
			if err := gs.echo.Start(gs.cfg.MonitorAddr); err != nil && err != http.ErrServerClosed {
				utils.WarnLog("Server", "monitor endpoint stopped: %v", err)
			}
		}()
		defer gs.echo.Close()
	}
	return gs.srv.Serve()
}

func (gs *GraphServer) Stop() { gs.srv.Stop() }

func newMonitor(gs *GraphServer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metadata", func(c echo.Context) error {
		metas := gs.state.Book.Metadata()
		parts := make([]map[string]int64, len(metas))
		for p, meta := range metas {
			parts[p] = map[string]int64{"num_nodes": meta.NumNodes, "num_edges": meta.NumEdges}
		}
		return c.JSON(http.StatusOK, map[string]any{
			"server_id":   gs.cfg.ServerID,
			"part_id":     gs.state.PartID,
			"num_inner":   gs.state.NumInner,
			"local_nodes": gs.state.LocalGraph.NumNodes(),
			"local_edges": gs.state.LocalGraph.NumEdges(),
			"partitions":  parts,
		})
	})
	e.GET("/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]int64{
			"requests": gs.state.Stats.Requests.Load(),
			"errors":   gs.state.Stats.Errors.Load(),
		})
	})
	return e
}
