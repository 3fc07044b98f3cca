package realtime

import (
	"fmt"

	"github.com/goliatone/go-collection-cache/cache"
)

// Kind is the invalidation class of an event.
type Kind int

const (
	KindEntityCreated Kind = iota + 1
	KindEntityUpdated
	KindEntityStatusChanged
	KindEntityDeleted
	KindEntityDetailChanged
	KindMessageCreated
	KindMessageRead
)

func (k Kind) String() string {
	switch k {
	case KindEntityCreated:
		return "entity_created"
	case KindEntityUpdated:
		return "entity_updated"
	case KindEntityStatusChanged:
		return "entity_status_changed"
	case KindEntityDeleted:
		return "entity_deleted"
	case KindEntityDetailChanged:
		return "entity_detail_changed"
	case KindMessageCreated:
		return "message_created"
	case KindMessageRead:
		return "message_read"
	default:
		return "unknown"
	}
}

// Binding maps a wire event name to the cache entries it invalidates.
// Route names the payload field that identifies the affected entity or
// parent; keys whose filters hold the same value are targeted.
type Binding struct {
	Event    string
	Kind     Kind
	Resource string
	Route    string
}

// Catalog is the fixed set of events a bridge listens to.
type Catalog []Binding

// Validate rejects empty fields, unknown kinds and duplicate event names.
func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c))
	for i, b := range c {
		switch {
		case b.Event == "":
			return fmt.Errorf("%w: binding %d has no event name", ErrInvalidCatalog, i)
		case b.Resource == "":
			return fmt.Errorf("%w: event %q has no resource", ErrInvalidCatalog, b.Event)
		case b.Kind < KindEntityCreated || b.Kind > KindMessageRead:
			return fmt.Errorf("%w: event %q has unknown kind %d", ErrInvalidCatalog, b.Event, b.Kind)
		}
		if _, dup := seen[b.Event]; dup {
			return fmt.Errorf("%w: event %q bound twice", ErrInvalidCatalog, b.Event)
		}
		seen[b.Event] = struct{}{}
	}
	return nil
}

// Lookup returns the binding of an event name.
func (c Catalog) Lookup(event string) (Binding, bool) {
	for _, b := range c {
		if b.Event == event {
			return b, true
		}
	}
	return Binding{}, false
}

// DefaultCatalog binds the events emitted by the support backend.
func DefaultCatalog() Catalog {
	return Catalog{
		{Event: "ticket:created", Kind: KindEntityCreated, Resource: "tickets"},
		{Event: "ticket:updated", Kind: KindEntityUpdated, Resource: "tickets", Route: RouteTicketID},
		{Event: "ticket:status", Kind: KindEntityStatusChanged, Resource: "tickets", Route: RouteTicketID},
		{Event: "ticket:deleted", Kind: KindEntityDeleted, Resource: "tickets", Route: RouteTicketID},
		{Event: "ticket:detail", Kind: KindEntityDetailChanged, Resource: "tickets", Route: RouteTicketID},
		{Event: "conversation:updated", Kind: KindEntityDetailChanged, Resource: "conversations", Route: RouteConversationID},
		{Event: "message:new", Kind: KindMessageCreated, Resource: "messages", Route: RouteConversationID},
		{Event: "message:read", Kind: KindMessageRead, Resource: "messages", Route: RouteConversationID},
	}
}

// Targets returns the matcher selecting every entry an event invalidates.
//
// Collection level events hit the list and count keys of the resource.
// Deletes also hit the detail entry of the removed entity. Detail changes
// only hit detail entries. Message events hit the message lists of the
// routed parent, or all of them when the payload carries no route value.
func Targets(b Binding, p Payload) cache.Matcher {
	value := ""
	if b.Route != "" {
		value = p.String(b.Route)
	}

	switch b.Kind {
	case KindEntityCreated, KindEntityUpdated, KindEntityStatusChanged:
		return collectionKeys(b.Resource)
	case KindEntityDeleted:
		return cache.MatchAny(collectionKeys(b.Resource), detailKeys(b.Resource, b.Route, value))
	case KindEntityDetailChanged:
		return detailKeys(b.Resource, b.Route, value)
	case KindMessageCreated, KindMessageRead:
		return routedLists(b.Resource, b.Route, value)
	default:
		return func(cache.Key) bool { return false }
	}
}

func collectionKeys(resource string) cache.Matcher {
	return cache.MatchAny(
		cache.MatchOperation(resource, cache.OpList),
		cache.MatchOperation(resource, cache.OpCount),
	)
}

func detailKeys(resource, route, value string) cache.Matcher {
	detail := cache.MatchOperation(resource, cache.OpDetail)
	if value == "" {
		return detail
	}
	return func(k cache.Key) bool {
		return detail(k) && (filterIs(k, RouteID, value) || filterIs(k, route, value))
	}
}

func routedLists(resource, route, value string) cache.Matcher {
	lists := cache.MatchOperation(resource, cache.OpList)
	if value == "" || route == "" {
		return lists
	}
	return func(k cache.Key) bool {
		return lists(k) && filterIs(k, route, value)
	}
}

func filterIs(k cache.Key, field, value string) bool {
	if field == "" {
		return false
	}
	v, ok := k.Filters()[field]
	if !ok || v == nil {
		return false
	}
	return Payload{field: v}.String(field) == value
}
