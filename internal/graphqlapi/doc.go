// Package graphqlapi exposes the state store over three schemas:
// client (full CRUD plus subscriptions), mix (a restricted single-output
// view), and dashboard (read-only aggregates). Resolvers map 1:1 onto
// internal/store mutation and query methods; result semantics mirror the
// store contract (null ↔ NotFound, true ↔ Applied, false ↔ NoChange, error ↔
// Conflict/validation).
//
// The schemas are declared at runtime with graphql-go/graphql; a single
// resolver root wraps the store and splits its fields into Query, Mutation,
// and Subscription.
package graphqlapi
