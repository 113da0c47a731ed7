// Package gql provides a resilient GraphQL client layer.
//
// This package turns many concurrent logical operations into a small number
// of physical HTTP calls while tolerating partial failure, servers that do
// not accept batched bodies, and authentication faults:
//
//   - transport/ - deadline-bound HTTP transport with typed errors
//   - retry/     - fault classification and bounded exponential backoff
//   - mux/       - query batching, demultiplexing and adaptive degrade
//
// # Quick Start
//
//	tokens := auth.NewFileStore(tokenPath)
//	client := gql.NewClient(gql.Config{Endpoint: url, Tokens: tokens})
//	defer client.Close()
//
//	resp, err := client.Do(ctx, gql.NewQuery(`query { ping }`, nil, ""))
//
// Queries submitted within one batching window travel in a single POST;
// mutations always bypass the queue and go out alone. Most types are
// re-exported at the root level for convenience.
package gql

import (
	"github.com/google/uuid"

	"github.com/stackfolio/gqlmux/internal/infra/gql/mux"
	"github.com/stackfolio/gqlmux/internal/infra/gql/retry"
	"github.com/stackfolio/gqlmux/internal/infra/gql/transport"
)

// Operation is one logical GraphQL request.
type Operation = transport.Operation

// Response is one GraphQL result object.
type Response = transport.Response

// ResponseError is a single GraphQL application error.
type ResponseError = transport.ResponseError

// Kind distinguishes queries from mutations.
type Kind = transport.Kind

// Operation kinds.
const (
	KindQuery    = transport.KindQuery
	KindMutation = transport.KindMutation
)

// TransportError is a typed transport failure.
type TransportError = transport.Error

// AuthError marks a dispatch rejected on an authentication fault.
type AuthError = retry.AuthError

// Fault labels a failed dispatch attempt.
type Fault = retry.Fault

// Fault kinds.
const (
	FaultRetryable = retry.FaultRetryable
	FaultAuth      = retry.FaultAuth
	FaultTerminal  = retry.FaultTerminal
)

// ErrBatchMismatch rejects a batch whose response array length differs from
// the request array.
var ErrBatchMismatch = mux.ErrBatchMismatch

// Classify labels an error from a dispatch attempt.
var Classify = retry.Classify

// Stats is a snapshot of the multiplexer's resilience state.
type Stats = mux.Stats

// NewQuery creates a query operation with a fresh correlation ID.
func NewQuery(document string, variables map[string]any, operationName string) Operation {
	return Operation{
		ID:            uuid.NewString(),
		Kind:          KindQuery,
		Document:      document,
		Variables:     variables,
		OperationName: operationName,
	}
}

// NewMutation creates a mutation operation with a fresh correlation ID.
func NewMutation(document string, variables map[string]any, operationName string) Operation {
	return Operation{
		ID:            uuid.NewString(),
		Kind:          KindMutation,
		Document:      document,
		Variables:     variables,
		OperationName: operationName,
	}
}
