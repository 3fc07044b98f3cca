package filters

import (
	"net/url"
	"reflect"
	"testing"
	"time"

	"github.com/goliatone/go-collection-cache/pkg/testsupport"
)

func ordersSchema() *Schema {
	return NewSchema(append(Paging(25),
		String("search"),
		String("platform"),
		String("status"),
		Int("minTotal", 0),
		Date("dateFrom"),
		Date("dateTo"),
	)...)
}

type roundTripScenario struct {
	Name          string            `json:"name"`
	Raw           map[string]any    `json:"raw"`
	ExpectedQuery map[string]string `json:"expectedQuery"`
}

type roundTripFixtures struct {
	Scenarios []roundTripScenario `json:"scenarios"`
}

func TestSchema_Normalize_FillsDefaults(t *testing.T) {
	schema := ordersSchema()

	got := schema.Normalize(map[string]any{"search": "", "platform": "android"})

	want := Set{
		"page":     1,
		"limit":    25,
		"search":   "",
		"platform": "android",
		"status":   "",
		"minTotal": 0,
		"dateFrom": nil,
		"dateTo":   nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize() = %#v, want %#v", got, want)
	}
}

func TestSchema_Normalize_MalformedValues(t *testing.T) {
	schema := ordersSchema()

	tests := []struct {
		name  string
		field string
		value any
		want  any
	}{
		{name: "non numeric page", field: "page", value: "three", want: 1},
		{name: "zero page", field: "page", value: 0, want: 1},
		{name: "fractional limit", field: "limit", value: 2.5, want: 25},
		{name: "json number limit", field: "limit", value: float64(50), want: 50},
		{name: "bool in string field", field: "search", value: true, want: ""},
		{name: "int in string field", field: "platform", value: 7, want: "7"},
		{name: "garbage date", field: "dateFrom", value: "31/02/2024", want: nil},
		{name: "zero time", field: "dateTo", value: time.Time{}, want: nil},
		{name: "blank string", field: "status", value: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := schema.Normalize(map[string]any{tt.field: tt.value})
			if got[tt.field] != tt.want {
				t.Errorf("Normalize()[%s] = %#v, want %#v", tt.field, got[tt.field], tt.want)
			}
		})
	}
}

func TestSchema_ToQuery_ExampleScenario(t *testing.T) {
	schema := ordersSchema()

	set := schema.Normalize(map[string]any{
		"page":     1,
		"limit":    25,
		"search":   "",
		"platform": "android",
		"dateFrom": nil,
	})

	got := schema.ToQuery(set)
	want := map[string]string{"page": "1", "limit": "25", "platform": "android"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToQuery() = %v, want %v", got, want)
	}
	if _, ok := got["search"]; ok {
		t.Error("search equal to default must be omitted")
	}
	if _, ok := got["dateFrom"]; ok {
		t.Error("undefined dateFrom must be omitted")
	}
}

func TestSchema_ToQuery_DatesAreISO(t *testing.T) {
	schema := ordersSchema()
	loc := time.FixedZone("UTC+2", 2*60*60)

	set := schema.Normalize(map[string]any{"dateFrom": time.Date(2024, 5, 1, 10, 0, 0, 0, loc)})

	got := schema.ToQuery(set)["dateFrom"]
	if got != "2024-05-01T08:00:00Z" {
		t.Errorf("dateFrom = %q, want 2024-05-01T08:00:00Z", got)
	}
}

func TestSchema_RoundTrip_Fixtures(t *testing.T) {
	schema := ordersSchema()

	var fixtures roundTripFixtures
	testsupport.LoadFixtureJSON(t, testsupport.FixturePath("roundtrip_scenarios.json"), &fixtures)
	if len(fixtures.Scenarios) == 0 {
		t.Fatal("no scenarios loaded")
	}

	for _, sc := range fixtures.Scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			normalized := schema.Normalize(sc.Raw)

			query := schema.ToQuery(normalized)
			if !reflect.DeepEqual(query, sc.ExpectedQuery) {
				t.Errorf("ToQuery() = %v, want %v", query, sc.ExpectedQuery)
			}

			back := schema.FromQuery(query)
			if !schema.Equal(back, normalized) {
				t.Errorf("FromQuery(ToQuery(f)) = %v, want %v", back, normalized)
			}
			if !reflect.DeepEqual(schema.Normalize(back), normalized) {
				t.Errorf("round trip not deep equal: %#v vs %#v", back, normalized)
			}
		})
	}
}

func TestSchema_Values(t *testing.T) {
	schema := ordersSchema()

	values := schema.Values(Set{"status": "PENDING", "page": 3})
	back := schema.FromValues(values)

	if back["status"] != "PENDING" || back["page"] != 3 {
		t.Errorf("unexpected decode: %v", back)
	}
	if values.Encode() != (url.Values{"limit": {"25"}, "page": {"3"}, "status": {"PENDING"}}).Encode() {
		t.Errorf("unexpected encoding %q", values.Encode())
	}
}

func TestSchema_Equal(t *testing.T) {
	schema := ordersSchema()

	if !schema.Equal(Set{"search": ""}, Set{}) {
		t.Error("empty string and absent should be equal")
	}
	if !schema.Equal(Set{"page": "1"}, Set{"page": 1}) {
		t.Error("coerced values should be equal")
	}
	if schema.Equal(Set{"status": "PAID"}, Set{"status": "PENDING"}) {
		t.Error("different statuses should not be equal")
	}
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !schema.Equal(Set{"dateFrom": from}, Set{"dateFrom": "2024-01-01T00:00:00Z"}) {
		t.Error("same instant should be equal regardless of representation")
	}
}

func TestSchema_WithoutPaging(t *testing.T) {
	schema := ordersSchema()

	got := schema.WithoutPaging(Set{"page": 4, "limit": 50, "status": "PAID"})
	if _, ok := got[PageField]; ok {
		t.Error("page should be removed")
	}
	if _, ok := got[LimitField]; ok {
		t.Error("limit should be removed")
	}
	if got["status"] != "PAID" {
		t.Errorf("status = %v, want PAID", got["status"])
	}
}

func TestNewSchema_DuplicateFieldReplaces(t *testing.T) {
	schema := NewSchema(Int("limit", 10), Int("limit", 50))

	f, ok := schema.Field("limit")
	if !ok {
		t.Fatal("limit not declared")
	}
	if f.Default != 50 {
		t.Errorf("default = %v, want 50", f.Default)
	}
	if len(schema.Fields()) != 1 {
		t.Errorf("expected a single field, got %d", len(schema.Fields()))
	}
}

func TestSet_Equal(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	local := day.In(time.FixedZone("x", 3600))

	tests := []struct {
		name string
		a, b Set
		want bool
	}{
		{"both empty", Set{}, Set{}, true},
		{"same values", Set{"status": "OPEN", "page": 1}, Set{"page": 1, "status": "OPEN"}, true},
		{"different value", Set{"status": "OPEN"}, Set{"status": "PAID"}, false},
		{"missing key", Set{"status": "OPEN"}, Set{"platform": "OPEN"}, false},
		{"different size", Set{"a": 1}, Set{"a": 1, "b": 2}, false},
		{"same instant other zone", Set{"dateFrom": day}, Set{"dateFrom": local}, true},
		{"nil vs date", Set{"dateFrom": nil}, Set{"dateFrom": day}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}
