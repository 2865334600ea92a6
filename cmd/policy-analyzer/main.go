// policy-analyzer replays a captured flow JSONL file through the full
// analysis path and writes the resulting cluster and policy snapshots,
// for offline tuning of clustering and rule-generation parameters.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"segflow/internal/cluster"
	"segflow/internal/features"
	"segflow/internal/labeling"
	"segflow/internal/output/clusterjson"
	"segflow/internal/output/policyjson"
	"segflow/internal/pipeline"
	"segflow/internal/sketch"
	"segflow/internal/tags"
	"segflow/internal/transform/flowjson"
)

func main() {
	input := flag.String("input", "output/flows.jsonl", "Flow JSONL input path")
	clustersOut := flag.String("clusters-output", "output/clusters.jsonl", "Cluster snapshot JSONL output path")
	policyOut := flag.String("policy-output", "output/policy.jsonl", "Policy snapshot JSONL output path")
	eps := flag.Float64("eps", cluster.DefaultConfig().Eps, "Density neighborhood radius")
	minSamples := flag.Int("min-samples", cluster.DefaultConfig().MinSamples, "Density core-point threshold")
	minClusterSize := flag.Int("min-cluster-size", cluster.DefaultConfig().MinClusterSize, "Minimum surviving cluster size")
	minConfidence := flag.Float64("min-confidence", 0.1, "Minimum port confidence for a permit rule")
	flag.Parse()

	registry := sketch.NewRegistry(sketch.DefaultConfig())
	window := pipeline.NewFlowWindow(0)

	loaded, rejected, err := loadFlows(*input, registry, window)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load flows: %v\n", err)
		os.Exit(1)
	}

	engine := cluster.NewEngine(
		cluster.Config{Eps: *eps, MinSamples: *minSamples, MinClusterSize: *minClusterSize},
		cluster.DefaultAssignConfig(),
		0.5,
	)
	analyzer := pipeline.NewAnalyzer(
		pipeline.AnalyzerConfig{MinRuleConfidence: *minConfidence, Features: features.DefaultConfig()},
		registry, engine, nil,
		labeling.NewLabeler(0.7),
		tags.NewMapper(tags.DefaultConfig()),
		nil, window,
	)

	cw, err := clusterjson.NewWriter(*clustersOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create cluster writer: %v\n", err)
		os.Exit(1)
	}
	defer cw.Close()
	pw, err := policyjson.NewWriter(*policyOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create policy writer: %v\n", err)
		os.Exit(1)
	}
	defer pw.Close()
	analyzer.AddClusterWriter(cw)
	analyzer.AddPolicyWriter(pw)

	clusterSnap, policySnap, err := analyzer.RunOnce(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("analyzed flows=%d rejected=%d clusters=%d assignments=%d cells=%d\n",
		loaded, rejected, len(clusterSnap.Clusters), len(clusterSnap.Assignments), len(policySnap.Cells))
}

func loadFlows(path string, registry *sketch.Registry, window *pipeline.FlowWindow) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open flow input: %w", err)
	}
	defer f.Close()

	loaded, rejected := 0, 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		flow, err := flowjson.Parse(line)
		if err != nil {
			rejected++
			continue
		}
		if err := registry.Apply(flow); err != nil {
			rejected++
			continue
		}
		window.Append(flow)
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, rejected, fmt.Errorf("read flow input: %w", err)
	}
	return loaded, rejected, nil
}
