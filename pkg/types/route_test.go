package types

import "testing"

func TestRouteMatches(t *testing.T) {
	tests := []struct {
		pattern Route
		target  Route
		want    bool
	}{
		{NewRoute("*", "*", "*"), NewRoute("/a", "/b", "tcp"), true},
		{NewRoute("/a", "*", "*"), NewRoute("/a", "/b", "tcp"), true},
		{NewRoute("/a", "*", "*"), NewRoute("/x", "/b", "tcp"), false},
		{NewRoute("*", "/b", "*"), NewRoute("/a", "/b", "tcp"), true},
		{NewRoute("*", "/b", "*"), NewRoute("/a", "/c", "tcp"), false},
		{NewRoute("*", "*", "tcp"), NewRoute("/a", "/b", "tcp"), true},
		{NewRoute("*", "*", "ws"), NewRoute("/a", "/b", "tcp"), false},
		{NewRoute("/a", "/b", "tcp"), NewRoute("/a", "/b", "tcp"), true},
		{NewRoute("/a", "/b", "tcp"), NewRoute("/a", "/b", "ws"), false},
	}

	for _, tt := range tests {
		if got := tt.pattern.Matches(tt.target); got != tt.want {
			t.Errorf("%v.Matches(%v) = %v, want %v", tt.pattern, tt.target, got, tt.want)
		}
	}
}

func TestRouteSwapped(t *testing.T) {
	r := NewRoute("/a", "/b", "rostcp")
	s := r.Swapped()
	if s.From != "/b" || s.To != "/a" || s.Carrier != "rostcp" {
		t.Errorf("Swapped() = %v", s)
	}
}
