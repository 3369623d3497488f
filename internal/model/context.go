package model

import (
	"slices"
	"time"
)

// ContextKind describes what a context item holds.
type ContextKind string

const (
	ContextText ContextKind = "text"
	ContextFile ContextKind = "file"
	ContextNote ContextKind = "note"
)

// IsValid checks whether the kind is a known value.
func (k ContextKind) IsValid() bool {
	switch k {
	case ContextText, ContextFile, ContextNote:
		return true
	}
	return false
}

// Visibility is either public or an explicit allow-list of participant ids.
// The adder of an item can always see it.
type Visibility struct {
	Public       bool     `json:"public"`
	Participants []string `json:"participants,omitempty"`
}

// PublicVisibility returns a visibility visible to everyone.
func PublicVisibility() Visibility { return Visibility{Public: true} }

// PrivateTo returns a visibility restricted to the given participants.
func PrivateTo(ids ...string) Visibility {
	return Visibility{Participants: slices.Clone(ids)}
}

// ContextItem is a unit of shared information. Hash always matches the
// current Content (or ContentRef when the content lives in a content store).
type ContextItem struct {
	ID         string      `json:"id"`
	Kind       ContextKind `json:"kind"`
	Name       string      `json:"name,omitempty"`
	Content    string      `json:"content,omitempty"`
	ContentRef string      `json:"content_ref,omitempty"`
	Hash       string      `json:"hash"`
	AddedBy    string      `json:"added_by"`
	Visibility Visibility  `json:"visibility"`
	AddedAt    time.Time   `json:"added_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of the item.
func (c *ContextItem) Clone() *ContextItem {
	cp := *c
	cp.Visibility.Participants = slices.Clone(c.Visibility.Participants)
	return &cp
}
