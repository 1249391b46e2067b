package mongodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestVertexDocument(t *testing.T) {
	v := Vertex{ID: 42, Edges: []uint64{1, 18446744073709551615}}
	doc := formatVertex(v)
	assert.Equal(t, "42", doc.ID)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.Contains(t, m, "ID")
	assert.Contains(t, m, "Edges")

	var back DBVertex
	require.NoError(t, bson.Unmarshal(raw, &back))
	parsed, err := parseDBVertex(back)
	require.NoError(t, err)
	assert.Equal(t, v, parsed)

	_, err = parseDBVertex(DBVertex{ID: "x"})
	assert.Error(t, err)
	_, err = parseDBVertex(DBVertex{ID: "1", Edges: []string{"-3"}})
	assert.Error(t, err)
}

func TestCreateBatches(t *testing.T) {
	vertices := make([]Vertex, 2*MAXIMUM_ITEMS_PER_BATCH+3)
	batches := createBatches(vertices)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], MAXIMUM_ITEMS_PER_BATCH)
	assert.Len(t, batches[2], 3)
	assert.Empty(t, createBatches(nil))
}
