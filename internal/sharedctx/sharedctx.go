// Package sharedctx manages the shared context items of a session:
// creation, content-hash addressing and per-participant visibility.
//
// History is not kept here; an update discards the previous hash.
package sharedctx

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/agrathwohl/pvp/internal/model"
)

// RefPrefix marks a hash-addressed pointer into a content store.
const RefPrefix = "sha256:"

// Payload describes a context item to create.
type Payload struct {
	Kind       model.ContextKind
	Name       string
	Content    string
	ContentRef string
	Visibility model.Visibility
}

// Hash returns the content address of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return RefPrefix + hex.EncodeToString(sum[:])
}

// ValidRef reports whether ref is a well-formed content reference.
func ValidRef(ref string) bool {
	hexPart, ok := strings.CutPrefix(ref, RefPrefix)
	if !ok || len(hexPart) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// Create builds a new item. The caller supplies the id and time.
func Create(id string, p Payload, addedBy string, now time.Time) (*model.ContextItem, error) {
	if p.Content == "" && p.ContentRef == "" {
		return nil, model.Errorf(model.CodeInvalidPayload, "context requires content or content_ref")
	}
	if p.Content != "" && p.ContentRef != "" {
		return nil, model.Errorf(model.CodeInvalidPayload, "context takes content or content_ref, not both")
	}
	if p.ContentRef != "" && !ValidRef(p.ContentRef) {
		return nil, model.Errorf(model.CodeInvalidPayload, "malformed content_ref %q", p.ContentRef)
	}
	kind := p.Kind
	if kind == "" {
		kind = model.ContextText
	}
	if !kind.IsValid() {
		return nil, model.Errorf(model.CodeInvalidPayload, "unknown context kind %q", p.Kind)
	}
	// A private item with an empty allow-list is visible to its adder only.
	vis := p.Visibility
	vis.Participants = dedupe(vis.Participants)

	item := &model.ContextItem{
		ID:         id,
		Kind:       kind,
		Name:       p.Name,
		AddedBy:    addedBy,
		Visibility: vis,
		AddedAt:    now,
		UpdatedAt:  now,
	}
	if p.ContentRef != "" {
		UpdateContentRef(item, p.ContentRef, now)
	} else {
		UpdateContent(item, p.Content, now)
	}
	return item, nil
}

// UpdateContent replaces inline content and recomputes the hash.
func UpdateContent(item *model.ContextItem, content string, now time.Time) {
	item.Content = content
	item.ContentRef = ""
	item.Hash = Hash([]byte(content))
	item.UpdatedAt = now
}

// UpdateContentRef replaces the content pointer. The ref is the hash.
func UpdateContentRef(item *model.ContextItem, ref string, now time.Time) {
	item.Content = ""
	item.ContentRef = ref
	item.Hash = ref
	item.UpdatedAt = now
}

// IsVisibleTo reports whether participantID may see item.
func IsVisibleTo(item *model.ContextItem, participantID string) bool {
	if item.Visibility.Public || item.AddedBy == participantID {
		return true
	}
	return slices.Contains(item.Visibility.Participants, participantID)
}

// FilterVisible returns the items of store visible to participantID,
// sorted by AddedAt then ID.
func FilterVisible(store map[string]*model.ContextItem, participantID string) []*model.ContextItem {
	var out []*model.ContextItem
	for _, item := range store {
		if IsVisibleTo(item, participantID) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Audience returns the subset of candidates that can see item.
func Audience(item *model.ContextItem, candidates []string) []string {
	var out []string
	for _, id := range candidates {
		if IsVisibleTo(item, id) {
			out = append(out, id)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
