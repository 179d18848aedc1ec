package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DefaultPaginationTimeout bounds ReadConnection when ctx has no deadline.
const DefaultPaginationTimeout = 10 * time.Minute

type connectionPage struct {
	TotalCount *int `json:"totalCount"`
	PageInfo   struct {
		EndCursor   pageCursor `json:"endCursor"`
		HasNextPage bool       `json:"hasNextPage"`
	} `json:"pageInfo"`
	Edges []struct {
		Node json.RawMessage `json:"node"`
	} `json:"edges"`
}

// pageCursor accepts string, numeric and null cursors.
type pageCursor string

func (c *pageCursor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = pageCursor(s)
		return nil
	}
	*c = pageCursor(data)
	return nil
}

// ReadConnection fetches every node of a connection, page by page.
//
// A response without the connection container ends the read successfully
// with whatever was collected, which is how a query against an unknown
// schema yields an empty result. An operation failure ends the read and
// returns the nodes collected so far together with the error. A page whose
// end cursor does not advance also ends the read with ErrCursorStalled.
func ReadConnection(ctx context.Context, exec Executor, q ConnectionQuery) ([]json.RawMessage, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultPaginationTimeout)
		defer cancel()
	}

	var nodes []json.RawMessage
	cursor := ""

	for {
		res, err := exec.Execute(ctx, q.Render(cursor))
		if err != nil {
			return nodes, fmt.Errorf("read %s after %q: %w", q.Key(), cursor, err)
		}

		raw, ok := res.Field(q.Key())
		if !ok {
			return nodes, nil
		}

		var page connectionPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nodes, &Error{
				Kind: KindProtocol,
				Err:  fmt.Errorf("decode %s page: %w", q.Key(), err),
			}
		}

		for _, edge := range page.Edges {
			if len(edge.Node) == 0 || string(edge.Node) == "null" {
				continue
			}
			nodes = append(nodes, edge.Node)
		}

		if !page.PageInfo.HasNextPage {
			return nodes, nil
		}

		next := string(page.PageInfo.EndCursor)
		if !cursorAdvanced(cursor, next) {
			return nodes, fmt.Errorf("read %s: %w (%q -> %q)", q.Key(), ErrCursorStalled, cursor, next)
		}
		cursor = next
	}
}

// cursorAdvanced compares numerically when both cursors are integers.
func cursorAdvanced(prev, next string) bool {
	if next == "" || next == prev {
		return false
	}
	if prev == "" {
		return true
	}
	p, errP := strconv.ParseUint(prev, 10, 64)
	n, errN := strconv.ParseUint(next, 10, 64)
	if errP == nil && errN == nil {
		return n > p
	}
	return true
}
