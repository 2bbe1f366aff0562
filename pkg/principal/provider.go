package principal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
)

// ErrInvalidTicket is returned when a ticket cannot be opened with the given
// key or does not decode to a principal.
var ErrInvalidTicket = errors.New("principal: invalid ticket")

// ticket is the wire form of a principal before encryption.
type ticket struct {
	AuthenticationType string  `json:"authenticationType"`
	Claims             []Claim `json:"claims"`
}

// Provider turns principals into encrypted tickets and back.
type Provider struct {
	crypto cryptox.Provider
}

// NewProvider returns a Provider that encrypts with crypto.
func NewProvider(crypto cryptox.Provider) *Provider {
	return &Provider{crypto: crypto}
}

// Encrypt serializes p and encrypts it with key.
func (pp *Provider) Encrypt(p Principal, key string) (string, error) {
	t := ticket{AuthenticationType: p.authType, Claims: p.claims}
	if t.Claims == nil {
		t.Claims = []Claim{}
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("principal: marshal ticket: %w", err)
	}

	return pp.crypto.Encrypt(string(raw), key)
}

// Decrypt opens a ticket produced by Encrypt. Any failure, including a wrong
// key or a tampered ticket, returns ErrInvalidTicket and never a partial
// principal.
func (pp *Provider) Decrypt(value, key string) (Principal, error) {
	raw, err := pp.crypto.Decrypt(value, key)
	if err != nil {
		return Anonymous(), fmt.Errorf("%w: %w", ErrInvalidTicket, err)
	}

	var t ticket
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Anonymous(), fmt.Errorf("%w: %w", ErrInvalidTicket, err)
	}

	return New(t.AuthenticationType, t.Claims...), nil
}
