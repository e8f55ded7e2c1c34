package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Коды ошибок в extensions.code
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeBadUserInput    = "BAD_USER_INPUT"
	CodeInternal        = "INTERNAL_SERVER_ERROR"
)

// GraphQLRequest is the body of POST /graphql.
type GraphQLRequest struct {
	Variables     map[string]json.RawMessage `json:"variables,omitempty"`
	Query         string                     `json:"query"`
	OperationName string                     `json:"operationName,omitempty"`
}

// GraphQLResponse is the body returned by POST /graphql.
type GraphQLResponse struct {
	Data   map[string]json.RawMessage `json:"data,omitempty"`
	Errors []GraphQLError             `json:"errors,omitempty"`
}

// ErrorExtensions carries the machine readable error code.
type ErrorExtensions struct {
	Code string `json:"code"`
}

// GraphQLError is one entry of the errors array.
type GraphQLError struct {
	Extensions ErrorExtensions `json:"extensions"`
	Message    string          `json:"message"`
}

func (e GraphQLError) Error() string {
	if e.Extensions.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Extensions.Code)
}

// PullVariables are the arguments of every pull<Collection> operation.
type PullVariables struct {
	MinUpdatedAt string `json:"minUpdatedAt"` // RFC3339 с миллисекундами
	Limit        int    `json:"limit"`
}

// PullCheckpoint is the cursor returned with a pull batch.
type PullCheckpoint struct {
	LastModified int64 `json:"lastModified"`
}

// PullResult is the payload of pull<Collection>.
type PullResult struct {
	Documents  []json.RawMessage `json:"documents"`
	Checkpoint PullCheckpoint    `json:"checkpoint"`
}

// PushAck holds the identity fields of a document returned by push<Collection>.
// ClientID echoes the temporary id of a created document.
type PushAck struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id,omitempty"`
	Modified int64  `json:"_modified"`
}

// ChangeNotification is sent over /graphql/stream after a push wrote documents.
type ChangeNotification struct {
	Collection   string `json:"collection"`
	LastModified int64  `json:"lastModified"`
}

// DateTimeLayout формат скаляра DateTime
const DateTimeLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	collectionTypes = map[string]string{
		"events":            "Events",
		"checkpoints":       "Checkpoints",
		"users":             "Users",
		"participants":      "Participants",
		"virtualchallenges": "VirtualChallenges",
	}
	pushVariables = map[string]string{
		"events":            "events",
		"checkpoints":       "checkpoints",
		"participants":      "participants",
		"virtualchallenges": "virtualChallenges",
	}
)

// PullOperation returns the operation name for pulling collection, e.g. pullEvents.
func PullOperation(collection string) string {
	return "pull" + collectionTypes[collection]
}

// PushOperation returns the operation name for pushing collection, e.g. pushEvents.
func PushOperation(collection string) string {
	return "push" + collectionTypes[collection]
}

// PushVariable returns the argument name of push<Collection>.
// Read-only collections return "".
func PushVariable(collection string) string {
	return pushVariables[collection]
}

// PullQuery builds the query document for pull<Collection>.
func PullQuery(collection string) string {
	op := PullOperation(collection)
	return fmt.Sprintf(
		"query %s($limit: Int!, $minUpdatedAt: DateTime!) { %s(limit: $limit, minUpdatedAt: $minUpdatedAt) { documents checkpoint { lastModified } } }",
		op, op)
}

// PushQuery builds the mutation document for push<Collection>.
func PushQuery(collection string) string {
	op := PushOperation(collection)
	arg := PushVariable(collection)
	return fmt.Sprintf("mutation %s($%s: [%sInput!]!) { %s(%s: $%s) }",
		op, arg, strings.TrimSuffix(collectionTypes[collection], "s"), op, arg, arg)
}

// ParseOperation resolves the target operation and its collection.
// operationName wins; otherwise the first field of the selection set is used.
func ParseOperation(req GraphQLRequest) (op, collection string, err error) {
	op = req.OperationName
	if op == "" {
		op = firstField(req.Query)
	}
	if op == "" {
		return "", "", fmt.Errorf("operation not found in query")
	}

	for name := range collectionTypes {
		if op == PullOperation(name) || op == PushOperation(name) {
			return op, name, nil
		}
	}
	return "", "", fmt.Errorf("unknown operation %q", op)
}

// firstField возвращает имя первого поля после открывающей фигурной скобки
func firstField(query string) string {
	idx := strings.Index(query, "{")
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(query[idx+1:])
	end := strings.IndexAny(rest, "( {}")
	if end < 0 {
		return rest
	}
	return rest[:end]
}

// IsPull reports whether op is a pull operation.
func IsPull(op string) bool {
	return strings.HasPrefix(op, "pull")
}
