// Package feed defines the change feed data model shared by the store
// client, the watcher and the broadcast layer.
package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Token is an opaque resume position within the store's change feed. The
// store guarantees that tokens for later changes compare greater than tokens
// for earlier ones, so we only ever store tokens, compare them and hand them
// back when reopening a feed. We never inspect their contents.
type Token string

func (t Token) IsZero() bool {
	return t == ""
}

// Compare returns -1, 0 or +1 depending on whether t is positioned before,
// at or after other in the feed.
func (t Token) Compare(other Token) int {
	return strings.Compare(string(t), string(other))
}

func (t Token) String() string {
	return string(t)
}

// Operation identifies the kind of change a feed entry describes.
type Operation uint32

const (
	OperationUnknown Operation = iota
	OperationInsert
	OperationUpdate
	OperationDelete
)

func (o Operation) String() string {
	switch o {
	case OperationInsert:
		return "insert"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	}
	return "unknown"
}

// ParseOperation maps an upstream operation type name to an Operation.
// Replacements count as updates. Names we do not recognize map to
// OperationUnknown rather than failing, the watcher drops those entries.
func ParseOperation(name string) Operation {
	switch name {
	case "insert":
		return OperationInsert
	case "update", "replace":
		return OperationUpdate
	case "delete":
		return OperationDelete
	}
	return OperationUnknown
}

func (o Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	parsed := ParseOperation(name)
	if parsed == OperationUnknown && name != "unknown" {
		return fmt.Errorf("unknown operation name %q", name)
	}

	*o = parsed
	return nil
}

// RawChange is a single notification read from the store's change feed,
// before filtering and normalization.
type RawChange struct {
	Token       Token
	Operation   string
	Collection  string
	DocumentID  string
	Document    map[string]interface{}
	ClusterTime time.Time
}

// Event is the normalized change event handed to subscribers. Events are
// immutable once constructed.
type Event struct {
	ResumeToken Token                  `json:"resumeToken"`
	Operation   Operation              `json:"operation"`
	Collection  string                 `json:"collection"`
	DocumentID  string                 `json:"documentId"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	ObservedAt  time.Time              `json:"observedAt"`
}
