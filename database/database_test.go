package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dgsync/graph"
)

func createTestVertices() []Vertex {
	return []Vertex{
		{ID: 0, Edges: []uint64{1, 2}},
		{ID: 1, Edges: []uint64{}},
		{ID: 2, Edges: []uint64{0, 4}},
	}
}

func TestToOffline(t *testing.T) {
	g, err := ToOffline(createTestVertices())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), g.NumNodes())
	assert.Equal(t, uint64(4), g.NumEdges())
	assert.Equal(t, []uint64{0, 4}, g.Edges(2))

	back := FromOffline(g)
	require.Len(t, back, 5)
	assert.Equal(t, createTestVertices(), back[:3])
	assert.Empty(t, back[4].Edges)
}

func TestNeighbors(t *testing.T) {
	assert.Equal(t, "3.1.4", formatNeighbors([]uint64{3, 1, 4}))
	n, err := parseNeighbors("3.1.4")
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 1, 4}, n)

	n, err = parseNeighbors(" ")
	require.NoError(t, err)
	assert.Empty(t, n)

	_, err = parseNeighbors("3..4")
	assert.Error(t, err)
}

func TestBatches(t *testing.T) {
	vertices := make([]Vertex, MAXIMUM_ITEMS_PER_BATCH*2+1)
	b := batches(vertices)
	require.Len(t, b, 3)
	assert.Len(t, b[0], MAXIMUM_ITEMS_PER_BATCH)
	assert.Len(t, b[2], 1)
	assert.Empty(t, batches(nil))
}

func TestDynamoItems(t *testing.T) {
	vertices := []Vertex{{ID: 7, Edges: []uint64{1, 2}}, {ID: 1 << 40, Edges: []uint64{7}}}
	var items []map[string]types.AttributeValue
	for _, v := range vertices {
		items = append(items, marshalVertexWriteReq(v).PutRequest.Item)
	}
	rows, err := unmarshalVertices(items)
	require.NoError(t, err)
	assert.Equal(t, vertices, rows)
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")
	db, err := OpenSQL(SourceSQLite, DBConfig{Path: path})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, CreateSQLTable(ctx, db, "adjList"))
	g, err := graph.Generate(graph.GeneratorConfig{NumNodes: 60, Seed: 5})
	require.NoError(t, err)
	require.NoError(t, InsertSQLVertices(ctx, db, SourceSQLite, "adjList", FromOffline(g)))

	rows, err := LoadSQLVertices(ctx, db, "adjList")
	require.NoError(t, err)
	assert.Len(t, rows, 60)

	logger, _ := test.NewNullLogger()
	loaded, err := Load(ctx, SourceConfig{Kind: SourceSQLite, Table: "adjList", SQL: DBConfig{Path: path}}, logger)
	require.NoError(t, err)
	assert.Equal(t, g.MarshalTopology(), loaded.MarshalTopology())
}

func TestLoadFromFile(t *testing.T) {
	g, err := graph.Generate(graph.GeneratorConfig{NumNodes: 40, Seed: 9})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "g.el")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, g.WriteEdgeList(f))
	require.NoError(t, f.Close())

	logger, _ := test.NewNullLogger()
	loaded, err := Load(context.Background(), SourceConfig{Kind: SourceFile, Path: path}, logger)
	require.NoError(t, err)
	assert.Equal(t, g.MarshalTopology(), loaded.MarshalTopology())

	_, err = Load(context.Background(), SourceConfig{Kind: "punchcards"}, logger)
	assert.Error(t, err)
	_, err = OpenSQL("oracle", DBConfig{})
	assert.Error(t, err)
}
