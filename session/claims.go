package session

import (
	"encoding/json"
	"math"

	"github.com/jmcleod/clubhouse/identity"
)

// AdminClaim is the claim that grants administrator capability.
const AdminClaim = "admin"

// ClaimsToBool reports whether claims grant administrator capability. An
// absent claim is false; a present one is coerced by truthiness: false, "",
// zero and NaN are false, every other value is true.
func ClaimsToBool(claims identity.Claims) bool {
	v, ok := claims[AdminClaim]
	if !ok {
		return false
	}
	return truthy(v)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case float32:
		return x != 0 && !math.IsNaN(float64(x))
	case int:
		return x != 0
	case int8:
		return x != 0
	case int16:
		return x != 0
	case int32:
		return x != 0
	case int64:
		return x != 0
	case uint:
		return x != 0
	case uint8:
		return x != 0
	case uint16:
		return x != 0
	case uint32:
		return x != 0
	case uint64:
		return x != 0
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x != ""
		}
		return f != 0 && !math.IsNaN(f)
	default:
		return true
	}
}
