package dist

import (
	"fmt"

	"github.com/lioia/distributed-nodeflow/pkg/partitioner"
	"github.com/lioia/distributed-nodeflow/pkg/rpc"
	"github.com/lioia/distributed-nodeflow/pkg/utils"
)

// Connect brings up a trainer-side client according to the environment:
// distributed mode dials every server in the ip configuration, standalone
// mode loads partition 0 of the manifest in-process and skips sockets
// entirely. Both return a DistGraph driving the same request types.
func Connect(env utils.EnvVars) (*rpc.Client, *DistGraph, error) {
	reg := rpc.NewRegistry()
	if err := RegisterAll(reg); err != nil {
		return nil, nil, err
	}

	if env.DistMode == utils.DistModeLocal {
		state, err := BuildServerState(env.Manifest, 0)
		if err != nil {
			return nil, nil, err
		}
		client := rpc.NewStandalone(reg, state)
		dg, err := NewDistGraph(client, state.Book)
		if err != nil {
			return nil, nil, err
		}
		utils.ClientLog("running standalone on %s", env.Manifest)
		return client, dg, nil
	}
	if env.DistMode != utils.DistModeDistributed {
		return nil, nil, fmt.Errorf("unknown %s value %q", utils.EnvDistMode, env.DistMode)
	}

	cfg, err := rpc.LoadIPConfig(env.IPConfig)
	if err != nil {
		return nil, nil, err
	}
	client, err := rpc.ConnectToServer(cfg, cfg.NumServers(), reg, rpc.ClientOptions{})
	if err != nil {
		return nil, nil, err
	}
	book, err := partitioner.LoadPartitionBook(env.Manifest)
	if err != nil {
		client.ExitClient()
		return nil, nil, err
	}
	dg, err := NewDistGraph(client, book)
	if err != nil {
		client.ExitClient()
		return nil, nil, err
	}
	utils.ClientLog("connected as client %d to %d servers", client.ID(), cfg.NumServers())
	return client, dg, nil
}
