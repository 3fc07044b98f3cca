package rest

import (
	"context"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/collection"
	"github.com/goliatone/go-collection-cache/optimistic"
)

// Source lists a collection through a Client.
type Source[T any] struct {
	client *Client
}

var _ collection.Source[struct{}] = Source[struct{}]{}

// NewSource adapts c to collection.Source.
func NewSource[T any](c *Client) Source[T] {
	return Source[T]{client: c}
}

// List implements collection.Source.
func (s Source[T]) List(ctx context.Context, resource string, query map[string]string) (cache.Page[T], error) {
	return List[T](ctx, s.client, resource, query)
}

// CreateFn returns the remote half of an optimistic create.
func CreateFn[T any](c *Client, resource string, body any) optimistic.RemoteFn[T] {
	return func(ctx context.Context) (T, error) {
		return Create[T](ctx, c, resource, body)
	}
}

// UpdateFn returns the remote half of an optimistic update.
func UpdateFn[T any](c *Client, resource, id string, body any) optimistic.RemoteFn[T] {
	return func(ctx context.Context) (T, error) {
		return Update[T](ctx, c, resource, id, body)
	}
}

// DeleteFn returns the remote half of an optimistic delete.
func DeleteFn(c *Client, resource, id string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return c.Delete(ctx, resource, id)
	}
}
