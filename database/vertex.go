// Package database loads input graphs from external stores as adjacency
// rows and writes them back.
package database

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dgsync/database/mongodb"
	"dgsync/graph"
)

const MAXIMUM_ITEMS_PER_BATCH = 25

// Vertex is one adjacency row: a node and its out-neighbors.
type Vertex struct {
	ID    uint64
	Edges []uint64
}

// ToOffline builds the CSR graph. Node IDs must be dense; nodes that only
// appear as neighbors count towards the node total.
func ToOffline(vertices []Vertex) (*graph.Offline, error) {
	var numNodes uint64
	var numEdges int
	for _, v := range vertices {
		numNodes = max(numNodes, v.ID+1)
		for _, e := range v.Edges {
			numNodes = max(numNodes, e+1)
		}
		numEdges += len(v.Edges)
	}
	edges := make([]graph.Edge, 0, numEdges)
	for _, v := range vertices {
		for _, e := range v.Edges {
			edges = append(edges, graph.Edge{Src: v.ID, Dst: e})
		}
	}
	return graph.FromEdges(numNodes, edges)
}

// FromOffline lists every node of g, isolated ones included.
func FromOffline(g *graph.Offline) []Vertex {
	vertices := make([]Vertex, g.NumNodes())
	for n := range vertices {
		vertices[n] = Vertex{ID: uint64(n), Edges: append([]uint64{}, g.Edges(uint64(n))...)}
	}
	return vertices
}

func batches(vertices []Vertex) [][]Vertex {
	var out [][]Vertex
	for len(vertices) > 0 {
		n := min(len(vertices), MAXIMUM_ITEMS_PER_BATCH)
		out = append(out, vertices[:n])
		vertices = vertices[n:]
	}
	return out
}

func formatNeighbors(edges []uint64) string {
	parts := make([]string, len(edges))
	for i, e := range edges {
		parts[i] = strconv.FormatUint(e, 10)
	}
	return strings.Join(parts, ".")
}

func parseNeighbors(s string) ([]uint64, error) {
	neighbors := []uint64{}
	if strings.TrimSpace(s) == "" {
		return neighbors, nil
	}
	for _, part := range strings.Split(s, ".") {
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "neighbor %q", part)
		}
		neighbors = append(neighbors, id)
	}
	return neighbors, nil
}

const (
	SourceFile     = "file"
	SourceDynamo   = "dynamodb"
	SourceSQL      = "sqlserver"
	SourceMySQL    = "mysql"
	SourceSQLite   = "sqlite3"
	SourceMongo    = "mongodb"
	SourceGenerate = "generate"
)

// SourceConfig names where a host reads the input graph from.
type SourceConfig struct {
	Kind  string `json:"kind"`
	Path  string `json:"path"`
	Table string `json:"table"`
	// Region is used by DynamoDB.
	Region string   `json:"region"`
	SQL    DBConfig `json:"sql"`
	// MongoURI may reference ${DB_PASSWORD}, expanded from the environment.
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`
	// NumNodes and Seed drive the synthetic generator.
	NumNodes uint64 `json:"num_nodes"`
	Seed     uint64 `json:"seed"`
}

// Load reads the whole input graph.
func Load(ctx context.Context, cfg SourceConfig, logger logrus.FieldLogger) (*graph.Offline, error) {
	log := logger.WithFields(logrus.Fields{"action": "load_graph", "source": cfg.Kind})

	var vertices []Vertex
	switch cfg.Kind {
	case SourceFile:
		return graph.ReadEdgeListFile(cfg.Path)
	case SourceGenerate:
		return graph.Generate(graph.GeneratorConfig{NumNodes: cfg.NumNodes, Seed: cfg.Seed})
	case SourceDynamo:
		svc, err := GetDynamoClient(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		if vertices, err = ScanVertices(ctx, svc, cfg.Table); err != nil {
			return nil, err
		}
	case SourceSQL, SourceMySQL, SourceSQLite:
		db, err := OpenSQL(cfg.Kind, cfg.SQL)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if vertices, err = LoadSQLVertices(ctx, db, cfg.Table); err != nil {
			return nil, err
		}
	case SourceMongo:
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		defer client.Disconnect(ctx)
		rows, err := mongodb.LoadVertices(ctx, mongodb.GetCollection(client, cfg.MongoDatabase, cfg.Table))
		if err != nil {
			return nil, err
		}
		vertices = make([]Vertex, len(rows))
		for i, r := range rows {
			vertices[i] = Vertex{ID: r.ID, Edges: r.Edges}
		}
	default:
		return nil, errors.Errorf("unknown graph source %q", cfg.Kind)
	}

	log.WithField("vertices", len(vertices)).Info("loaded adjacency rows")
	return ToOffline(vertices)
}
