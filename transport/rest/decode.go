package rest

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/goliatone/go-collection-cache/cache"
)

type pageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      *int `json:"total"`
	TotalCount *int `json:"totalCount"`
}

type pageEnvelope[T any] struct {
	Data       []T       `json:"data"`
	Items      []T       `json:"items"`
	Meta       *pageMeta `json:"meta"`
	TotalCount *int      `json:"totalCount"`
	Total      *int      `json:"total"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
}

// decodePage normalizes both list envelopes. A bare JSON array is accepted
// as a single page holding every item. TotalPages is always recomputed from
// the total and the limit.
func decodePage[T any](data []byte, query map[string]string) (cache.Page[T], error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return cache.Page[T]{}, fmt.Errorf("decode list: %w", err)
		}
		return cache.NewPage(items, len(items), 1, len(items)), nil
	}

	var env pageEnvelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return cache.Page[T]{}, fmt.Errorf("decode list: %w", err)
	}

	items := env.Data
	if items == nil {
		items = env.Items
	}
	if items == nil {
		items = []T{}
	}

	page, limit := env.Page, env.Limit
	total := firstInt(env.TotalCount, env.Total)
	if env.Meta != nil {
		page, limit = env.Meta.Page, env.Meta.Limit
		total = firstInt(env.Meta.Total, env.Meta.TotalCount)
	}
	if page < 1 {
		page = queryInt(query, "page", 1)
	}
	if limit < 1 {
		limit = queryInt(query, "limit", len(items))
	}
	if total < 0 {
		total = len(items)
	}
	return cache.NewPage(items, total, page, limit), nil
}

func firstInt(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return -1
}

func queryInt(query map[string]string, name string, def int) int {
	n, err := strconv.Atoi(query[name])
	if err != nil || n < 1 {
		return def
	}
	return n
}

// decodeEntity accepts a bare entity or {"data": entity}.
func decodeEntity[T any](data []byte) (T, error) {
	var out T

	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Data) > 0 && !bytes.Equal(wrapped.Data, []byte("null")) {
		if err := json.Unmarshal(wrapped.Data, &out); err != nil {
			return out, fmt.Errorf("decode entity: %w", err)
		}
		return out, nil
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode entity: %w", err)
	}
	return out, nil
}
