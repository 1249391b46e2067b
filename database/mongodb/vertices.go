package mongodb

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const MAXIMUM_ITEMS_PER_BATCH = 25

// DBVertex is the stored document: IDs are kept as decimal strings.
type DBVertex struct {
	ID    string   `bson:"ID"`
	Edges []string `bson:"Edges"`
}

type Vertex struct {
	ID    uint64
	Edges []uint64
}

// Connect dials uri after expanding environment references such as
// ${DB_PASSWORD}.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	serverAPIOptions := options.ServerAPI(options.ServerAPIVersion1)
	clientOptions := options.Client().
		ApplyURI(os.ExpandEnv(uri)).
		SetServerAPIOptions(serverAPIOptions)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongodb")
	}
	return client, nil
}

func GetCollection(client *mongo.Client, database, tableName string) *mongo.Collection {
	if database == "" {
		database = "dgsync"
	}
	return client.Database(database).Collection(tableName)
}

func parseDBVertex(dbVertex DBVertex) (Vertex, error) {
	id, err := strconv.ParseUint(dbVertex.ID, 10, 64)
	if err != nil {
		return Vertex{}, errors.Wrapf(err, "vertex id %q", dbVertex.ID)
	}
	edges := make([]uint64, len(dbVertex.Edges))
	for idx, edge := range dbVertex.Edges {
		if edges[idx], err = strconv.ParseUint(edge, 10, 64); err != nil {
			return Vertex{}, errors.Wrapf(err, "edge of vertex %d", id)
		}
	}
	return Vertex{ID: id, Edges: edges}, nil
}

func formatVertex(v Vertex) DBVertex {
	edges := make([]string, len(v.Edges))
	for idx, edge := range v.Edges {
		edges[idx] = strconv.FormatUint(edge, 10)
	}
	return DBVertex{ID: strconv.FormatUint(v.ID, 10), Edges: edges}
}

func LoadVertices(ctx context.Context, collection *mongo.Collection) ([]Vertex, error) {
	cursor, err := collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "find vertices")
	}
	var dbVertices []DBVertex
	if err := cursor.All(ctx, &dbVertices); err != nil {
		return nil, errors.Wrap(err, "read vertices")
	}
	vertices := make([]Vertex, 0, len(dbVertices))
	for _, dbVertex := range dbVertices {
		v, err := parseDBVertex(dbVertex)
		if err != nil {
			return nil, err
		}
		vertices = append(vertices, v)
	}
	return vertices, nil
}

func createBatches(vertices []Vertex) [][]interface{} {
	var batches [][]interface{}
	for start := 0; start < len(vertices); start += MAXIMUM_ITEMS_PER_BATCH {
		end := min(start+MAXIMUM_ITEMS_PER_BATCH, len(vertices))
		batch := make([]interface{}, 0, end-start)
		for _, v := range vertices[start:end] {
			batch = append(batch, formatVertex(v))
		}
		batches = append(batches, batch)
	}
	return batches
}

func InsertVertices(ctx context.Context, collection *mongo.Collection, vertices []Vertex) error {
	for b, batch := range createBatches(vertices) {
		if _, err := collection.InsertMany(ctx, batch); err != nil {
			return errors.Wrapf(err, "insert batch %d", b)
		}
	}
	return nil
}
