package database

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"dgsync/util"
)

const DEFAULT_REGION = "us-east-2"

func GetDynamoClient(ctx context.Context, region string) (*dynamodb.Client, error) {
	if region == "" {
		region = DEFAULT_REGION
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "load SDK config")
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func CreateTable(ctx context.Context, svc *dynamodb.Client, tableName string) error {
	_, err := svc.CreateTable(ctx, &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("ID"),
				AttributeType: types.ScalarAttributeTypeN,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("ID"),
				KeyType:       types.KeyTypeHash,
			},
		},
		TableName:   aws.String(tableName),
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return errors.Wrapf(err, "create table %s", tableName)
	}
	waiter := dynamodb.NewTableExistsWaiter(svc)
	return errors.Wrapf(waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, 5*time.Minute),
		"wait for table %s", tableName)
}

// BatchInsertVertices writes vertices in batches of 25, resending the
// items DynamoDB reports as unprocessed.
func BatchInsertVertices(ctx context.Context, svc *dynamodb.Client, tableName string, vertices []Vertex) error {
	for b, batch := range batches(vertices) {
		requests := make([]types.WriteRequest, len(batch))
		for i, v := range batch {
			requests[i] = marshalVertexWriteReq(v)
		}
		pending := map[string][]types.WriteRequest{tableName: requests}

		op := func() error {
			out, err := svc.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return backoff.Permanent(err)
			}
			if len(out.UnprocessedItems[tableName]) > 0 {
				pending = out.UnprocessedItems
				return errors.Errorf("%d items unprocessed", len(pending[tableName]))
			}
			return nil
		}
		bo := backoff.WithContext(util.NewExponentialBackoff(50*time.Millisecond, time.Minute), ctx)
		if err := backoff.Retry(op, bo); err != nil {
			return errors.Wrapf(err, "upload batch %d", b)
		}
	}
	return nil
}

func marshalVertexWriteReq(vertex Vertex) types.WriteRequest {
	return types.WriteRequest{
		PutRequest: &types.PutRequest{
			Item: map[string]types.AttributeValue{
				"ID":    &types.AttributeValueMemberN{Value: strconv.FormatUint(vertex.ID, 10)},
				"Edges": &types.AttributeValueMemberL{Value: edgesToAttributeValueSlice(vertex.Edges)},
			},
		},
	}
}

func edgesToAttributeValueSlice(edges []uint64) []types.AttributeValue {
	as := make([]types.AttributeValue, len(edges))
	for idx, edge := range edges {
		as[idx] = &types.AttributeValueMemberN{Value: strconv.FormatUint(edge, 10)}
	}
	return as
}

// ScanVertices reads the whole table page by page.
func ScanVertices(ctx context.Context, svc *dynamodb.Client, tableName string) ([]Vertex, error) {
	p := dynamodb.NewScanPaginator(svc, &dynamodb.ScanInput{
		TableName: aws.String(tableName),
	})
	var vertices []Vertex
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s", tableName)
		}
		rows, err := unmarshalVertices(page.Items)
		if err != nil {
			return nil, err
		}
		vertices = append(vertices, rows...)
	}
	return vertices, nil
}

func unmarshalVertices(items []map[string]types.AttributeValue) ([]Vertex, error) {
	var rows []Vertex
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshal vertices")
	}
	return rows, nil
}
