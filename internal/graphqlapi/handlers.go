package graphqlapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/graphql-go/graphql"

	"relaycast/internal/store"
)

// gqlRequest is the standard GraphQL-over-HTTP POST body: the single
// {query, variables, operationName} envelope every GraphQL transport
// shares.
type gqlRequest struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName"`
}

type gqlHandler struct {
	schema graphql.Schema
	logger *slog.Logger
	name   string
}

// NewClientHandler serves the full CRUD schema a client credential may use.
func NewClientHandler(s *store.Store, logger *slog.Logger) http.Handler {
	schema, err := newClientSchema(&Resolver{Store: s})
	if err != nil {
		panic("graphqlapi: build client schema: " + err.Error())
	}
	return &gqlHandler{schema: schema, logger: logger, name: "client"}
}

// NewMixHandler serves the restricted single-output schema a mix credential
// may use.
func NewMixHandler(s *store.Store, logger *slog.Logger) http.Handler {
	schema, err := newMixSchema(&Resolver{Store: s})
	if err != nil {
		panic("graphqlapi: build mix schema: " + err.Error())
	}
	return &gqlHandler{schema: schema, logger: logger, name: "mix"}
}

// NewDashboardHandler serves the read-only aggregate schema.
func NewDashboardHandler(s *store.Store, logger *slog.Logger) http.Handler {
	schema, err := newDashboardSchema(&Resolver{Store: s})
	if err != nil {
		panic("graphqlapi: build dashboard schema: " + err.Error())
	}
	return &gqlHandler{schema: schema, logger: logger, name: "dashboard"}
}

func (h *gqlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeGQLError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req gqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGQLError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Query == "" {
		writeGQLError(w, http.StatusBadRequest, "missing query")
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        r.Context(),
	})
	if len(result.Errors) > 0 && h.logger != nil {
		h.logger.Warn("graphql request returned errors", "schema", h.name, "errors", result.Errors)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(result)
}

func writeGQLError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Errors []string `json:"errors"`
	}{Errors: []string{message}})
}
