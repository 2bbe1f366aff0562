package principal

import "slices"

// Principal is an authenticated identity: an authentication type plus an
// insertion-ordered set of claims, unique by (type, value).
//
// The zero value is the anonymous principal. Principal values are immutable;
// methods that change claims return a new value.
type Principal struct {
	authType string
	claims   []Claim
}

// New builds a principal. Claims repeating an earlier (type, value) pair are
// dropped, so the first occurrence (including its alias) wins.
func New(authType string, claims ...Claim) Principal {
	p := Principal{authType: authType}
	p.claims = appendUnique(nil, claims...)
	return p
}

// Anonymous returns the anonymous principal: no authentication type and no
// claims.
func Anonymous() Principal {
	return Principal{}
}

// AuthenticationType returns how the principal was authenticated, or "" for
// the anonymous principal.
func (p Principal) AuthenticationType() string {
	return p.authType
}

// IsAuthenticated reports whether the principal carries both an
// authentication type and a name-bearing claim.
func (p Principal) IsAuthenticated() bool {
	return p.authType != "" && p.Name() != ""
}

// IsAnonymous is the inverse of IsAuthenticated.
func (p Principal) IsAnonymous() bool {
	return !p.IsAuthenticated()
}

// Name returns the value of the name claim, falling back to sub.
func (p Principal) Name() string {
	if v, ok := p.FindFirst(ClaimName); ok {
		return v.Value
	}
	if v, ok := p.FindFirst(ClaimSubject); ok {
		return v.Value
	}
	return ""
}

// Subject returns the value of the sub claim, falling back to name.
func (p Principal) Subject() string {
	if v, ok := p.FindFirst(ClaimSubject); ok {
		return v.Value
	}
	if v, ok := p.FindFirst(ClaimName); ok {
		return v.Value
	}
	return ""
}

// FindFirst returns the first claim of the given type, matching aliases too.
func (p Principal) FindFirst(typ string) (Claim, bool) {
	for _, c := range p.claims {
		if c.Is(typ) {
			return c, true
		}
	}
	return Claim{}, false
}

// FindAll returns every claim of the given type in insertion order.
func (p Principal) FindAll(typ string) []Claim {
	var out []Claim
	for _, c := range p.claims {
		if c.Is(typ) {
			out = append(out, c)
		}
	}
	return out
}

// HasClaim reports whether a claim with the given type and value exists.
func (p Principal) HasClaim(typ, value string) bool {
	for _, c := range p.claims {
		if c.Is(typ) && c.Value == value {
			return true
		}
	}
	return false
}

// Claims returns a copy of the principal's claims.
func (p Principal) Claims() []Claim {
	return slices.Clone(p.claims)
}

// WithClaims returns a copy of p with claims appended, dropping duplicates.
func (p Principal) WithClaims(claims ...Claim) Principal {
	return Principal{
		authType: p.authType,
		claims:   appendUnique(slices.Clone(p.claims), claims...),
	}
}

// Equal reports whether two principals have the same authentication type and
// the same claims in the same order.
func (p Principal) Equal(other Principal) bool {
	return p.authType == other.authType && slices.Equal(p.claims, other.claims)
}

func appendUnique(dst []Claim, claims ...Claim) []Claim {
	for _, c := range claims {
		if !slices.ContainsFunc(dst, c.same) {
			dst = append(dst, c)
		}
	}
	return dst
}
