// Command partition runs the offline partitioner: it reads an edge list,
// cuts the graph into shards and writes one directory per partition plus
// the manifest the servers and trainers load.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lioia/distributed-nodeflow/pkg/graph"
	"github.com/lioia/distributed-nodeflow/pkg/partitioner"
	"github.com/lioia/distributed-nodeflow/pkg/tensor"
	"github.com/lioia/distributed-nodeflow/pkg/utils"
)

type jobConfig struct {
	GraphName string `yaml:"graph_name"`
	EdgeList  string `yaml:"edge_list"`
	OutDir    string `yaml:"out_dir"`
	NumParts  int    `yaml:"num_parts"`
	NumHops   int    `yaml:"num_hops"`
	Method    string `yaml:"method"`
	Reshuffle bool   `yaml:"reshuffle"`
	Visualize bool   `yaml:"visualize"`
	// FeatureDim, when positive, attaches a random float32 node feature
	// column named "feat" to every partition shard.
	FeatureDim int   `yaml:"feature_dim"`
	Seed       int64 `yaml:"seed"`
}

var configPath string

func init() {
	flag.StringVar(&configPath, "config", "partition.yaml", "Partition job configuration")
}

func main() {
	flag.Parse()
	utils.InitLog(true, false, false)

	raw, err := os.ReadFile(configPath)
	utils.FailOnError("Failed to read the job configuration", err)
	cfg := jobConfig{NumHops: 1, Method: "random"}
	err = yaml.Unmarshal(raw, &cfg)
	utils.FailOnError("Failed to parse the job configuration", err)

	g, err := graph.LoadEdgeList(cfg.EdgeList)
	utils.FailOnError("Failed to load the edge list", err)
	utils.ServerLog("loaded %s: %d nodes, %d edges", cfg.EdgeList, g.NumNodes(), g.NumEdges())

	opts := partitioner.Options{
		NumHops:   cfg.NumHops,
		Method:    cfg.Method,
		Reshuffle: cfg.Reshuffle,
		Visualize: cfg.Visualize,
	}
	if cfg.FeatureDim > 0 {
		opts.NodeFeats, err = randomFeatures(g.NumNodes(), cfg.FeatureDim, cfg.Seed)
		utils.FailOnError("Failed to build node features", err)
	}

	manifest, err := partitioner.PartitionGraph(g, cfg.GraphName, cfg.NumParts, cfg.OutDir, opts)
	utils.FailOnError("Partitioning failed", err)
	fmt.Printf("wrote %d partitions, manifest at %s\n", cfg.NumParts, manifest)
}

func randomFeatures(numNodes int64, dim int, seed int64) (*graph.Frame, error) {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float32, numNodes*int64(dim))
	for i := range data {
		data[i] = rng.Float32()
	}
	feat, err := tensor.FromFloat32s(data).Reshape(numNodes, int64(dim))
	if err != nil {
		return nil, err
	}
	frame := graph.NewFrame(numNodes)
	if err := frame.AddColumn("feat", feat); err != nil {
		return nil, err
	}
	return frame, nil
}
