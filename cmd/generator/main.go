package main

import (
	"fmt"
	"os"
	"strconv"

	"dgsync/graph"
	"dgsync/util"
)

func main() {
	if len(os.Args) != 4 {
		fmt.Println("usage: ./bin/generator [$1 NUM_NODES] [$2 SEED] [$3 <PATH_TO_GRAPH.txt>]")
		return
	}

	numNodes, err := strconv.ParseUint(os.Args[1], 10, 64)
	util.CheckErr(err, "Invalid node count %v", os.Args[1])
	seed, err := strconv.ParseUint(os.Args[2], 10, 64)
	util.CheckErr(err, "Invalid seed %v", os.Args[2])

	g, err := graph.Generate(graph.GeneratorConfig{NumNodes: numNodes, Seed: seed})
	util.CheckErr(err, "Failed to generate graph")

	out, err := os.Create(os.Args[3])
	util.CheckErr(err, "Failed to create %v", os.Args[3])
	defer out.Close()
	err = g.WriteEdgeList(out)
	util.CheckErr(err, "Failed to write %v", os.Args[3])
	fmt.Printf("wrote %d nodes, %d edges to %s\n", g.NumNodes(), g.NumEdges(), os.Args[3])
}
