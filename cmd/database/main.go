package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"dgsync/database"
	"dgsync/database/mongodb"
	"dgsync/graph"
	"dgsync/util"
)

const DATABASE_CONFIG = "config/database_config.json"

// Uploads an edge list into the store described by
// config/database_config.json. Secrets such as DB_PASSWORD come from .env.
func main() {
	logger, closer, err := util.NewLogger("Database", "dgsync.log", "")
	util.CheckErr(err, "Error setting up logging")
	defer closer.Close()

	if len(os.Args) != 2 {
		fmt.Println("usage: ./bin/database [$1 <PATH_TO_GRAPH.txt>]")
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		logger.WithError(err).Warn("no .env file loaded")
	}

	var config database.SourceConfig
	err = util.ReadJSONConfig(DATABASE_CONFIG, &config)
	util.CheckErr(err, "Error reading %v", DATABASE_CONFIG)
	config.SQL.Password = os.ExpandEnv(config.SQL.Password)

	g, err := graph.ReadEdgeListFile(os.Args[1])
	util.CheckErr(err, "Error reading graph %v", os.Args[1])
	vertices := database.FromOffline(g)
	ctx := context.Background()

	switch config.Kind {
	case database.SourceDynamo:
		svc, err := database.GetDynamoClient(ctx, config.Region)
		util.CheckErr(err, "Error creating DynamoDB client")
		err = database.CreateTable(ctx, svc, config.Table)
		util.CheckErr(err, "Error creating table %v", config.Table)
		err = database.BatchInsertVertices(ctx, svc, config.Table, vertices)
		util.CheckErr(err, "Error uploading vertices")
	case database.SourceSQL, database.SourceMySQL, database.SourceSQLite:
		db, err := database.OpenSQL(config.Kind, config.SQL)
		util.CheckErr(err, "Error opening database")
		defer db.Close()
		err = database.CreateSQLTable(ctx, db, config.Table)
		util.CheckErr(err, "Error creating table %v", config.Table)
		err = database.InsertSQLVertices(ctx, db, config.Kind, config.Table, vertices)
		util.CheckErr(err, "Error uploading vertices")
	case database.SourceMongo:
		client, err := mongodb.Connect(ctx, config.MongoURI)
		util.CheckErr(err, "Error connecting to mongodb")
		defer client.Disconnect(ctx)
		rows := make([]mongodb.Vertex, len(vertices))
		for i, v := range vertices {
			rows[i] = mongodb.Vertex{ID: v.ID, Edges: v.Edges}
		}
		err = mongodb.InsertVertices(ctx, mongodb.GetCollection(client, config.MongoDatabase, config.Table), rows)
		util.CheckErr(err, "Error uploading vertices")
	default:
		fmt.Printf("cannot upload to source kind %q\n", config.Kind)
		return
	}
	logger.WithField("vertices", len(vertices)).Info("graph uploaded")
}
