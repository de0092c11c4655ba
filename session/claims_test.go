package session

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmcleod/clubhouse/identity"
)

func TestClaimsToBool(t *testing.T) {
	tests := []struct {
		name   string
		claims identity.Claims
		want   bool
	}{
		{"nil claims", nil, false},
		{"absent", identity.Claims{"email": "a@b.com"}, false},
		{"null", identity.Claims{"admin": nil}, false},
		{"true", identity.Claims{"admin": true}, true},
		{"false", identity.Claims{"admin": false}, false},
		{"non-empty string", identity.Claims{"admin": "yes"}, true},
		{"string false is truthy", identity.Claims{"admin": "false"}, true},
		{"empty string", identity.Claims{"admin": ""}, false},
		{"one", identity.Claims{"admin": float64(1)}, true},
		{"zero", identity.Claims{"admin": float64(0)}, false},
		{"nan", identity.Claims{"admin": math.NaN()}, false},
		{"int", identity.Claims{"admin": 2}, true},
		{"json number zero", identity.Claims{"admin": json.Number("0")}, false},
		{"json number", identity.Claims{"admin": json.Number("1")}, true},
		{"object", identity.Claims{"admin": map[string]any{}}, true},
		{"array", identity.Claims{"admin": []any{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClaimsToBool(tt.claims))
		})
	}
}
