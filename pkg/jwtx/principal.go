package jwtx

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/principal"
)

// ClaimsFromPrincipal converts a principal's claims into custom JWT claims.
// A type seen once becomes a string, a repeated type becomes an array.
// Reserved names and the sub claim (carried as the registered subject) are
// skipped; aliases are not representable and are dropped.
func ClaimsFromPrincipal(p principal.Principal) map[string]any {
	grouped := make(map[string][]string)
	var order []string
	for _, c := range p.Claims() {
		if c.Type == principal.ClaimSubject || reservedClaims[c.Type] {
			continue
		}
		if _, ok := grouped[c.Type]; !ok {
			order = append(order, c.Type)
		}
		grouped[c.Type] = append(grouped[c.Type], c.Value)
	}

	if len(order) == 0 {
		return nil
	}

	out := make(map[string]any, len(order))
	for _, typ := range order {
		if vals := grouped[typ]; len(vals) == 1 {
			out[typ] = vals[0]
		} else {
			out[typ] = vals
		}
	}
	return out
}

// PrincipalFromClaims rebuilds a principal from verified claims: the
// authentication type from auth_type, sub first, then custom claims in name
// order.
func PrincipalFromClaims(c *Claims) principal.Principal {
	var claims []principal.Claim
	if c.Subject != "" {
		claims = append(claims, principal.NewClaim(principal.ClaimSubject, c.Subject))
	}

	keys := make([]string, 0, len(c.Custom))
	for k := range c.Custom {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		for _, v := range claimValues(c.Custom[k]) {
			claims = append(claims, principal.NewClaim(k, v))
		}
	}

	return principal.New(c.AuthType, claims...)
}

func claimValues(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, claimValues(e)...)
		}
		return out
	case json.Number:
		return []string{t.String()}
	case bool:
		return []string{strconv.FormatBool(t)}
	case float64:
		return []string{strconv.FormatFloat(t, 'f', -1, 64)}
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return []string{fmt.Sprint(t)}
		}
		return []string{string(raw)}
	}
}
