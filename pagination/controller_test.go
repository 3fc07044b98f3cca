package pagination

import (
	"testing"

	"github.com/goliatone/go-collection-cache/filters"
)

func TestNew_Defaults(t *testing.T) {
	c := New(0)
	if c.Limit() != DefaultLimit {
		t.Errorf("Limit() = %d, want %d", c.Limit(), DefaultLimit)
	}
	if c.Page() != 1 {
		t.Errorf("Page() = %d, want 1", c.Page())
	}
	if c.TotalPages() != 0 {
		t.Errorf("TotalPages() = %d, want 0 before the first response", c.TotalPages())
	}
}

func TestController_SetPage(t *testing.T) {
	tests := []struct {
		name        string
		totalPages  int
		start       int
		target      int
		wantPage    int
		wantChanged bool
	}{
		{name: "move forward", totalPages: 5, start: 1, target: 3, wantPage: 3, wantChanged: true},
		{name: "same page is a no-op", totalPages: 5, start: 3, target: 3, wantPage: 3},
		{name: "clamp above total", totalPages: 5, start: 1, target: 9, wantPage: 5, wantChanged: true},
		{name: "clamp below one", totalPages: 5, start: 2, target: 0, wantPage: 1, wantChanged: true},
		{name: "clamped to current is a no-op", totalPages: 4, start: 4, target: 7, wantPage: 4},
		{name: "unknown total has no upper bound", start: 1, target: 12, wantPage: 12, wantChanged: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(10)
			if tt.totalPages > 0 {
				c.SetTotalPages(tt.totalPages)
			}
			c.SetPage(tt.start)

			if got := c.SetPage(tt.target); got != tt.wantChanged {
				t.Errorf("SetPage(%d) changed = %v, want %v", tt.target, got, tt.wantChanged)
			}
			if c.Page() != tt.wantPage {
				t.Errorf("Page() = %d, want %d", c.Page(), tt.wantPage)
			}
		})
	}
}

func TestController_FilterChangeResetsPage(t *testing.T) {
	c := New(25)
	c.SetTotalPages(10)

	base := filters.Set{"status": "PENDING", "search": ""}
	if c.OnFiltersChanged(base) {
		t.Error("first observation should not reset")
	}

	c.SetPage(3)

	withPage := base.Clone()
	withPage["page"] = 3
	withPage["limit"] = 25
	if c.OnFiltersChanged(withPage) {
		t.Error("page and limit alone must not reset the page")
	}
	if c.Page() != 3 {
		t.Errorf("Page() = %d, want 3", c.Page())
	}

	changed := base.Clone()
	changed["status"] = "PAID"
	if !c.OnFiltersChanged(changed) {
		t.Error("changing a filter should reset the page")
	}
	if c.Page() != 1 {
		t.Errorf("Page() = %d, want 1 after filter change", c.Page())
	}

	if c.OnFiltersChanged(changed) {
		t.Error("observing the same filters twice should not reset again")
	}
}

func TestController_SetPageLeavesFiltersAlone(t *testing.T) {
	c := New(25)
	f := filters.Set{"status": "PENDING", "platform": "android"}
	c.OnFiltersChanged(f)

	c.SetPage(3)
	applied := c.Apply(f)

	if applied["status"] != "PENDING" || applied["platform"] != "android" {
		t.Errorf("filters changed by SetPage: %v", applied)
	}
	if applied["page"] != 3 || applied["limit"] != 25 {
		t.Errorf("Apply() paging = %v/%v, want 3/25", applied["page"], applied["limit"])
	}
	if _, ok := f["page"]; ok {
		t.Error("Apply must not mutate its input")
	}
}

func TestController_ClampsWhenTotalShrinks(t *testing.T) {
	c := New(10)
	c.SetTotalPages(5)
	c.SetPage(5)

	c.SetTotalPages(2)

	if got := c.Apply(filters.Set{})["page"]; got != 2 {
		t.Errorf("next request page = %v, want 2", got)
	}
	if st := c.State(); st.Page != 2 {
		t.Errorf("State().Page = %d, want 2", st.Page)
	}
}

func TestController_SetLimit(t *testing.T) {
	c := New(10)
	c.SetTotalPages(4)
	c.SetPage(4)

	if c.SetLimit(0) {
		t.Error("limit below 1 should be ignored")
	}
	if c.SetLimit(10) {
		t.Error("unchanged limit should be a no-op")
	}
	if !c.SetLimit(20) {
		t.Fatal("SetLimit(20) should report a change")
	}
	if c.Page() != 4 {
		t.Errorf("limit change must not reset the page, got %d", c.Page())
	}

	c.SetTotalPages(2)
	if c.Page() != 2 {
		t.Errorf("page should clamp once the new total is known, got %d", c.Page())
	}
}
