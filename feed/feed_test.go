package feed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenCompare(t *testing.T) {
	require.Equal(t, -1, Token("000a").Compare(Token("000b")))
	require.Equal(t, 0, Token("000a").Compare(Token("000a")))
	require.Equal(t, 1, Token("000b").Compare(Token("000a")))
	require.True(t, Token("").IsZero())
	require.False(t, Token("000a").IsZero())
}

func TestParseOperation(t *testing.T) {
	require.Equal(t, OperationInsert, ParseOperation("insert"))
	require.Equal(t, OperationUpdate, ParseOperation("update"))
	require.Equal(t, OperationUpdate, ParseOperation("replace"))
	require.Equal(t, OperationDelete, ParseOperation("delete"))
	require.Equal(t, OperationUnknown, ParseOperation("invalidate"))
	require.Equal(t, OperationUnknown, ParseOperation(""))
}

func TestOperationJSON(t *testing.T) {
	data, err := json.Marshal(OperationInsert)
	require.NoError(t, err)
	require.Equal(t, `"insert"`, string(data))

	var op Operation
	err = json.Unmarshal([]byte(`"delete"`), &op)
	require.NoError(t, err)
	require.Equal(t, OperationDelete, op)

	err = json.Unmarshal([]byte(`"frobnicate"`), &op)
	require.Error(t, err)
}

func TestEventJSONShape(t *testing.T) {
	evt := Event{
		ResumeToken: Token("82640F"),
		Operation:   OperationInsert,
		Collection:  "orders",
		DocumentID:  "order-1",
		Payload:     map[string]interface{}{"total": 12.5},
		ObservedAt:  time.Date(2024, 11, 2, 9, 30, 0, 0, time.UTC),
	}

	data, err := json.Marshal(&evt)
	require.NoError(t, err)

	var fields map[string]interface{}
	err = json.Unmarshal(data, &fields)
	require.NoError(t, err)

	// Subscribers key off these names, so they are part of the wire contract.
	require.Equal(t, "82640F", fields["resumeToken"])
	require.Equal(t, "insert", fields["operation"])
	require.Equal(t, "orders", fields["collection"])
	require.Equal(t, "order-1", fields["documentId"])
	require.Contains(t, fields, "payload")
	require.Contains(t, fields, "observedAt")
}
