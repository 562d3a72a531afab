// Package pagination implements opaque cursor tokens for list
// endpoints. Tokens are base64-encoded JSON; callers treat them as
// opaque strings.
package pagination

import (
	"encoding/base64"
	"encoding/json"
)

// Pagination is the common query binding for paged list requests.
type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int32  `form:"page_size,default=50"`
}

// Cursor marks a position in a result set. Which fields are set
// depends on the ordering of the query that produced it.
type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(cursor Cursor) (string, error) {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var cursor Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// BuildCursorPageInfo derives page info from a result fetched with
// limit+1 rows: the extra row signals another page exists.
func BuildCursorPageInfo[T any](rows []*T, limit int32, extractCursor func(*T) string) *PageInfo {
	if len(rows) == 0 {
		return &PageInfo{}
	}

	hasMore := len(rows) > int(limit)
	if hasMore {
		rows = rows[:limit]
	}
	return &PageInfo{
		HasMore:       hasMore,
		NextPageToken: extractCursor(rows[len(rows)-1]),
	}
}
