package main

import (
	"github.com/lioia/distributed-nodeflow/pkg/dist"
	"github.com/lioia/distributed-nodeflow/pkg/rpc"
	"github.com/lioia/distributed-nodeflow/pkg/utils"
)

func main() {
	env := utils.ReadEnvVars()
	utils.InitLog(env.ServerLog, env.ClientLog, env.SampleLog)

	cfg, err := rpc.LoadIPConfig(env.IPConfig)
	utils.FailOnError("Failed to load the ip configuration", err)

	server, err := dist.NewGraphServer(dist.ServerConfig{
		ServerID:     env.ServerID,
		IPConfig:     cfg,
		NumClients:   env.NumClients,
		ManifestPath: env.Manifest,
		MonitorAddr:  env.Monitor,
	})
	utils.FailOnError("Failed to create the graph server", err)

	utils.ServerLog("starting server %d, waiting for %d clients", env.ServerID, env.NumClients)
	err = server.Run()
	utils.FailOnError("Server stopped with an error", err)
	utils.ServerLog("server %d: all clients disconnected, shutting down", env.ServerID)
}
