package jwtx

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/idx"
)

// Token use values carried in the token_use claim.
const (
	UseCode    = "code"
	UseAccess  = "access"
	UseRefresh = "refresh"
	UseID      = "id"
)

// reservedClaims are names owned by Claims fields. Custom claims with these
// names are dropped on encode and never surfaced on decode.
var reservedClaims = map[string]bool{
	"iss": true, "sub": true, "aud": true, "exp": true, "nbf": true, "iat": true, "jti": true,
	"token_use": true, "scope": true, "redirect_uri": true, "auth_type": true,
	"at_hash": true, "c_hash": true,
}

// IsReserved reports whether name is a claim owned by Claims itself.
func IsReserved(name string) bool { return reservedClaims[name] }

// Claims is the payload of every token this package signs. Custom holds the
// principal's claims and is flattened into the top level JSON object.
type Claims struct {
	jwt.RegisteredClaims

	// TokenUse distinguishes codes, access, refresh and ID tokens signed
	// with the same key.
	TokenUse string `json:"token_use,omitempty"`

	// Scope is space-delimited.
	Scope string `json:"scope,omitempty"`

	RedirectURI string `json:"redirect_uri,omitempty"`
	AuthType    string `json:"auth_type,omitempty"`

	// OIDC hash bindings, ID tokens only.
	AtHash string `json:"at_hash,omitempty"`
	CHash  string `json:"c_hash,omitempty"`

	Custom map[string]any `json:"-"`
}

// plainClaims has the fields of Claims without its JSON methods.
type plainClaims Claims

// NewClaims builds registered claims with a fresh jti.
func NewClaims(issuer, subject string, audience []string, issuedAt, expiresAt time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        NewJTI(),
		},
	}
}

// NewJTI returns a unique, time-sortable identifier for the jti claim.
func NewJTI() string {
	return idx.New().String()
}

func (c Claims) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(plainClaims(c))
	if err != nil {
		return nil, err
	}
	if len(c.Custom) == 0 {
		return base, nil
	}

	merged := make(map[string]json.RawMessage, len(c.Custom)+8)
	for k, v := range c.Custom {
		if reservedClaims[k] {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}

	var std map[string]json.RawMessage
	if err := json.Unmarshal(base, &std); err != nil {
		return nil, err
	}
	maps.Copy(merged, std)

	return json.Marshal(merged)
}

func (c *Claims) UnmarshalJSON(data []byte) error {
	var p plainClaims
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	// Numbers stay json.Number so large integers keep their exact form.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var all map[string]any
	if err := dec.Decode(&all); err != nil {
		return err
	}
	maps.DeleteFunc(all, func(k string, _ any) bool { return reservedClaims[k] })

	*c = Claims(p)
	if len(all) > 0 {
		c.Custom = all
	}
	return nil
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateExpiryAt ensures the token is inside its exp/nbf window at now,
// allowing leeway for clock skew. A missing exp is rejected.
func (c *Claims) ValidateExpiryAt(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt == nil {
		return ErrInvalidClaim
	}
	if !now.Before(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}

// ValidateUse checks the token_use claim.
func (c *Claims) ValidateUse(expected string) error {
	if c.TokenUse != expected {
		return ErrTokenUse
	}
	return nil
}
