package graphql

import (
	"fmt"
	"strconv"
	"strings"
)

// ConnectionQuery renders paginated relay-style connection queries.
type ConnectionQuery struct {
	Node     string   // Entity collection, e.g. "pools"
	Fields   []string // Selected node fields
	OrderBy  string   // Defaults to "id_ASC"
	PageSize int      // Optional "first" argument; 0 leaves the server default
}

// Key returns the top-level data field holding the connection.
func (q ConnectionQuery) Key() string {
	return q.Node + "Connection"
}

// Render returns the query text for the page following cursor. An empty
// cursor selects the first page.
func (q ConnectionQuery) Render(cursor string) string {
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "id_ASC"
	}

	args := []string{"orderBy: " + orderBy}
	if q.PageSize > 0 {
		args = append(args, "first: "+strconv.Itoa(q.PageSize))
	}
	if cursor != "" {
		args = append(args, "after: "+strconv.Quote(cursor))
	}

	return fmt.Sprintf(
		"query { %s(%s) { totalCount pageInfo { endCursor hasNextPage hasPreviousPage startCursor } edges { cursor node { %s } } } }",
		q.Key(), strings.Join(args, ", "), strings.Join(q.Fields, " "),
	)
}

// SubscriptionQuery renders live subscription queries.
type SubscriptionQuery struct {
	Node    string
	Fields  []string
	Limit   int    // Defaults to 50
	OrderBy string // Defaults to "id_ASC"
}

// Key returns the top-level data field holding the records.
func (q SubscriptionQuery) Key() string {
	return q.Node
}

// Render returns the subscription text.
func (q SubscriptionQuery) Render() string {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "id_ASC"
	}

	return fmt.Sprintf("subscription { %s(limit: %d, orderBy: %s) { %s } }",
		q.Node, limit, orderBy, strings.Join(q.Fields, " "))
}
