package principal

// Well-known claim types.
const (
	ClaimSubject     = "sub"
	ClaimName        = "name"
	ClaimEmail       = "email"
	ClaimRole        = "role"
	ClaimScope       = "scope"
	ClaimClientID    = "client_id"
	ClaimRedirectURI = "redirect_uri"
	ClaimAuthTime    = "auth_time"
	ClaimAMR         = "amr"
)

// Claim is a single (type, value) attribute asserted about a principal.
// Alias is an optional alternative type name, e.g. a long-form URI used by a
// host framework for the same claim.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Alias string `json:"alias,omitempty"`
}

// NewClaim returns a claim without an alias.
func NewClaim(typ, value string) Claim {
	return Claim{Type: typ, Value: value}
}

// NewAliasedClaim returns a claim that is also known by alias.
func NewAliasedClaim(typ, value, alias string) Claim {
	return Claim{Type: typ, Value: value, Alias: alias}
}

// Is reports whether the claim has the given type, either directly or through
// its alias.
func (c Claim) Is(typ string) bool {
	return c.Type == typ || (c.Alias != "" && c.Alias == typ)
}

// same reports whether two claims collide under the (type, value) uniqueness
// rule. Alias does not participate.
func (c Claim) same(other Claim) bool {
	return c.Type == other.Type && c.Value == other.Value
}
