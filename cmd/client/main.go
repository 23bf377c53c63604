package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/lioia/distributed-nodeflow/pkg/dist"
	"github.com/lioia/distributed-nodeflow/pkg/graph"
	"github.com/lioia/distributed-nodeflow/pkg/sampling"
	"github.com/lioia/distributed-nodeflow/pkg/utils"
)

var batchSize int
var fanout int
var numHops int
var epochs int
var feature string

func init() {
	flag.IntVar(&batchSize, "batch", 32, "Seeds per mini-batch")
	flag.IntVar(&fanout, "fanout", 5, "Neighbors sampled per node per hop")
	flag.IntVar(&numHops, "hops", 2, "Number of sampling hops")
	flag.IntVar(&epochs, "epochs", 1, "Passes over the seed nodes")
	flag.StringVar(&feature, "feature", "", "Node feature column to pull per batch")
}

func main() {
	flag.Parse()

	env := utils.ReadEnvVars()
	utils.InitLog(env.ServerLog, env.ClientLog, env.SampleLog)

	client, dg, err := dist.Connect(env)
	utils.FailOnError("Failed to connect to the graph servers", err)
	defer client.ExitClient()

	seeds := make([]int64, dg.NumNodes())
	for i := range seeds {
		seeds[i] = int64(i)
	}
	fanouts := make([]int, numHops)
	for i := range fanouts {
		fanouts[i] = fanout
	}

	for epoch := 0; epoch < epochs; epoch++ {
		loader, err := dist.NewNodeFlowLoader(dg, dist.LoaderOptions{
			Seeds:       seeds,
			BatchSize:   batchSize,
			Fanouts:     fanouts,
			Dir:         graph.DirIn,
			Shuffle:     true,
			NumPrefetch: 2,
		})
		utils.FailOnError("Failed to create the loader", err)

		batches, nodes, edges := 0, 0, 0
		for {
			flow, err := loader.Next()
			if errors.Is(err, sampling.ErrExhausted) {
				break
			}
			utils.FailOnError("Sampling failed", err)
			batches++
			nodes += flow.NumNodes()
			edges += flow.NumEdges()
			if feature != "" {
				if _, err := dg.PullNodeFeatures(feature, flow.Layer(0)); err != nil {
					utils.FailOnError("Feature pull failed", err)
				}
			}
		}
		loader.Close()
		fmt.Printf("epoch %d: %d batches, %d flow nodes, %d flow edges\n", epoch, batches, nodes, edges)
	}
}
