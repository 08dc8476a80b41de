package docstore

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// KeyAttribute is the primary key attribute of every collection.
const KeyAttribute = "id"

// MarshalItem encodes a document into an attribute map. An empty string
// stays a string attribute, so the root folderId "" can be filtered on.
func MarshalItem(doc any) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(doc)
}

// MarshalValue encodes a single attribute value.
func MarshalValue(v any) (types.AttributeValue, error) {
	return attributevalue.Marshal(v)
}

// UnmarshalItem decodes an attribute map into out.
func UnmarshalItem(item map[string]types.AttributeValue, out any) error {
	return attributevalue.UnmarshalMap(item, out)
}

// UnmarshalItems decodes a list of attribute maps into a slice pointer.
func UnmarshalItems(items []map[string]types.AttributeValue, out any) error {
	return attributevalue.UnmarshalListOfMaps(items, out)
}

// MarshalUpdate encodes every value of an Update.
func MarshalUpdate(update Update) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(update))
	for k, v := range update {
		av, err := MarshalValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = av
	}
	return out, nil
}
