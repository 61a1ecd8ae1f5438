/*
Package storagemodels defines the data structures shared by KindStore's
streaming and backend layers.

StreamResult:
Results from streaming operations with metadata:

	type StreamResult[T any] struct {
	    Item  T          // The decoded item
	    Error error      // Terminal error
	    Meta  StreamMeta // Metadata about this item
	}

StreamOptions:
Configuration for streaming behavior:

	opts := []StreamOption{
	    WithBufferSize(16),
	    WithProgressHandler(progressFunc),
	}

QueryParams:
The DynamoDB request shape the ddb backend pages through:

	params := &QueryParams{
	    TableName:              "kindstore",
	    KeyConditionExpression: "PK = :pk",
	    ExpressionAttributeValues: map[string]types.AttributeValue{
	        ":pk": &types.AttributeValueMemberS{Value: "KIND#Thing"},
	    },
	}
*/
package storagemodels
