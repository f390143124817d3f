package cache

import (
	"net/url"
	"testing"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "simple endpoint no params",
			key: CacheKey{
				Endpoint: "/open/poem",
			},
			want: "souyun:open/poem",
		},
		{
			name: "endpoint with query params (sorted)",
			key: CacheKey{
				Endpoint: "/open/poem",
				QueryParams: url.Values{
					"type":     []string{"poem"},
					"key":      []string{"42"},
					"dynasty":  []string{"Tang"},
					"jsontype": []string{"true"},
				},
			},
			want: "souyun:open/poem:dynasty=Tang:jsontype=true:key=42:type=poem",
		},
		{
			name: "trailing slash normalized",
			key: CacheKey{
				Endpoint:    "/open/poem/",
				QueryParams: url.Values{"key": []string{"7"}},
			},
			want: "souyun:open/poem:key=7",
		},
		{
			name: "empty endpoint",
			key:  CacheKey{},
			want: "souyun",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.key.String()
			if got != tt.want {
				t.Errorf("CacheKey.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCacheKey_Determinism ensures same input always produces same key
func TestCacheKey_Determinism(t *testing.T) {
	key := CacheKey{
		Endpoint: "/open/poem",
		QueryParams: url.Values{
			"key":      []string{"10001"},
			"dynasty":  []string{"Tang"},
			"type":     []string{"poem"},
			"jsontype": []string{"true"},
		},
	}

	first := key.String()
	for i := 0; i < 10; i++ {
		if result := key.String(); result != first {
			t.Errorf("result[%d] = %v, want %v (not deterministic)", i, result, first)
		}
	}
}

func TestCacheKey_DistinctIDs(t *testing.T) {
	a := CacheKey{Endpoint: "/open/poem", QueryParams: url.Values{"key": []string{"1"}}}
	b := CacheKey{Endpoint: "/open/poem", QueryParams: url.Values{"key": []string{"10"}}}

	if a.String() == b.String() {
		t.Errorf("keys for different IDs collide: %s", a.String())
	}
}
