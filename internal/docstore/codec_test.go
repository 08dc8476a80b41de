package docstore

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalKeepsEmptyStrings(t *testing.T) {
	av, err := MarshalValue("")
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberS{Value: ""}, av)

	item, err := MarshalItem(struct {
		FolderID string `dynamodbav:"folderId"`
	}{})
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberS{Value: ""}, item["folderId"])
}
