package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationNames(t *testing.T) {
	assert.Equal(t, "pullEvents", PullOperation("events"))
	assert.Equal(t, "pushVirtualChallenges", PushOperation("virtualchallenges"))
	assert.Equal(t, "virtualChallenges", PushVariable("virtualchallenges"))
	assert.Equal(t, "", PushVariable("users"))
	assert.Contains(t, PushQuery("checkpoints"), "[CheckpointInput!]!")
}

func TestParseOperation(t *testing.T) {
	tests := []struct {
		name           string
		req            GraphQLRequest
		wantOp         string
		wantCollection string
		wantErr        bool
	}{
		{
			name:           "operation name",
			req:            GraphQLRequest{OperationName: "pullCheckpoints", Query: "query x { y }"},
			wantOp:         "pullCheckpoints",
			wantCollection: "checkpoints",
		},
		{
			name:           "first field of generated pull query",
			req:            GraphQLRequest{Query: PullQuery("participants")},
			wantOp:         "pullParticipants",
			wantCollection: "participants",
		},
		{
			name:           "anonymous mutation",
			req:            GraphQLRequest{Query: "mutation { pushEvents(events: $events) }"},
			wantOp:         "pushEvents",
			wantCollection: "events",
		},
		{
			name:    "unknown operation",
			req:     GraphQLRequest{OperationName: "dropEverything"},
			wantErr: true,
		},
		{
			name:    "empty query",
			req:     GraphQLRequest{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, collection, err := ParseOperation(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOp, op)
			assert.Equal(t, tt.wantCollection, collection)
		})
	}
}

func TestGraphQLError_Error(t *testing.T) {
	err := GraphQLError{Message: "not signed in", Extensions: ErrorExtensions{Code: CodeUnauthenticated}}
	assert.Equal(t, "not signed in (UNAUTHENTICATED)", err.Error())
	assert.Equal(t, "boom", GraphQLError{Message: "boom"}.Error())
}
