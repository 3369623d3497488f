// Package idgen provides short, URL-safe entity IDs backed by nanoid and
// time-sortable message IDs backed by UUIDv7.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// Entity prefixes.
const (
	PrefixSession  = "ses-"
	PrefixContext  = "ctx-"
	PrefixGate     = "gate-"
	PrefixProposal = "prop-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// MessageID returns a globally unique id whose lexical order follows
// creation time.
func MessageID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return u.String(), nil
}

// Generator hands out ids for every entity the router creates. The random
// sources only fail when the OS entropy pool does, so it panics instead of
// threading an error through every routing path.
type Generator struct{}

func (Generator) must(prefix string) string {
	id, err := GenerateWithPrefix(prefix)
	if err != nil {
		panic(err)
	}
	return id
}

func (g Generator) Session() string  { return g.must(PrefixSession) }
func (g Generator) Context() string  { return g.must(PrefixContext) }
func (g Generator) Gate() string     { return g.must(PrefixGate) }
func (g Generator) Proposal() string { return g.must(PrefixProposal) }

func (Generator) Message() string {
	id, err := MessageID()
	if err != nil {
		panic(err)
	}
	return id
}
