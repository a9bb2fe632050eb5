package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"/patients/PT12345/transmissions", DefaultLimit, 0},
		{"/patients/PT12345/transmissions?limit=50&offset=10", 50, 10},
		{"/patients/PT12345/episodes?limit=500", MaxLimit, 0},
		{"/patients?limit=0&offset=-5", DefaultLimit, 0},
		{"/patients?limit=ten&offset=x", DefaultLimit, 0},
		{"/patients?_count=5&_offset=40", DefaultLimit, 0},
	}
	e := echo.New()
	for _, tt := range tests {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, tt.query, nil), httptest.NewRecorder())
		p := FromContext(c)
		if p.Limit != tt.limit || p.Offset != tt.offset {
			t.Errorf("%s: expected limit=%d offset=%d, got limit=%d offset=%d", tt.query, tt.limit, tt.offset, p.Limit, p.Offset)
		}
	}
}

func TestNewResponse(t *testing.T) {
	transmissions := []string{"t1", "t2"}
	tests := []struct {
		name     string
		params   Params
		total    int
		hasMore  bool
		next     *int
		previous *int
	}{
		{"first of several pages", Params{Limit: 2, Offset: 0}, 5, true, intp(2), nil},
		{"middle page", Params{Limit: 2, Offset: 2}, 5, true, intp(4), intp(0)},
		{"last page", Params{Limit: 2, Offset: 4}, 5, false, nil, intp(2)},
		{"offset not on a page boundary", Params{Limit: 20, Offset: 5}, 25, false, nil, intp(0)},
		{"patient without transmissions", Params{Limit: 20, Offset: 0}, 0, false, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResponse(transmissions, tt.total, tt.params)
			if r.Total != tt.total || r.Limit != tt.params.Limit || r.Offset != tt.params.Offset {
				t.Errorf("expected total=%d limit=%d offset=%d, got %+v", tt.total, tt.params.Limit, tt.params.Offset, r)
			}
			if r.HasMore != tt.hasMore {
				t.Errorf("expected has_more=%v, got %v", tt.hasMore, r.HasMore)
			}
			if !sameOffset(r.NextOffset, tt.next) {
				t.Errorf("expected next_offset %v, got %v", deref(tt.next), deref(r.NextOffset))
			}
			if !sameOffset(r.PreviousOffset, tt.previous) {
				t.Errorf("expected previous_offset %v, got %v", deref(tt.previous), deref(r.PreviousOffset))
			}
		})
	}
}

func intp(v int) *int { return &v }

func sameOffset(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
