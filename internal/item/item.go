// Package item provides the item record and its wire-format conversions.
package item

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// imageURLAliases lists the accepted spellings of the image URL field,
// checked in priority order. Older records were written with "imageUrl".
var imageURLAliases = []string{"imageURL", "imageUrl"}

// Item is a single entry in a user's list.
//
// Records live under users/{uid}/items/{id} in the realtime store as
// loosely-typed key-value maps. CreatedAt is seconds since the Unix epoch,
// matching the format of existing data, and is the sole sort key.
type Item struct {
	// ID is an opaque unique identifier, generated client-side at
	// creation and used as the remote record's key. Immutable.
	ID string

	// Title is the user-visible text. Never empty after any
	// client-side mutation.
	Title string

	// CreatedAt is seconds since the Unix epoch, assigned once at
	// creation.
	CreatedAt float64

	// ImageURL points to a retrievable object in blob storage.
	// Empty until an upload completes; at most one live image per item.
	ImageURL string
}

// New creates an Item with a fresh ID and the current timestamp.
func New(title string) Item {
	return Item{
		ID:        ulid.Make().String(),
		Title:     title,
		CreatedAt: float64(time.Now().UnixMilli()) / 1000,
	}
}

// Encode converts the item to its wire-format map.
// The imageURL key is present only when an image is attached.
func (it Item) Encode() map[string]any {
	m := map[string]any{
		"id":        it.ID,
		"title":     it.Title,
		"createdAt": it.CreatedAt,
	}
	if it.ImageURL != "" {
		m["imageURL"] = it.ImageURL
	}
	return m
}

// Decode converts a wire-format map back into an Item.
//
// The id, title and createdAt fields are required and type-checked;
// a record missing any of them, or carrying a wrong type, yields
// (Item{}, false) rather than an error. Malformed remote records are
// dropped from view, never surfaced.
func Decode(m map[string]any) (Item, bool) {
	id, ok := m["id"].(string)
	if !ok {
		return Item{}, false
	}
	title, ok := m["title"].(string)
	if !ok {
		return Item{}, false
	}
	createdAt, ok := asFloat(m["createdAt"])
	if !ok {
		return Item{}, false
	}

	it := Item{
		ID:        id,
		Title:     title,
		CreatedAt: createdAt,
	}
	for _, key := range imageURLAliases {
		if url, ok := m[key].(string); ok {
			it.ImageURL = url
			break
		}
	}
	return it, true
}

// asFloat accepts the numeric types JSON decoding can produce.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ValidateTitle trims and checks a title before submission.
// Returns the trimmed title or an error if nothing remains.
func ValidateTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", fmt.Errorf("title cannot be empty")
	}
	return trimmed, nil
}

// SortDescending orders items newest first. Ties on CreatedAt are broken
// by ID so repeated snapshots produce a stable order.
func SortDescending(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt > items[j].CreatedAt
		}
		return items[i].ID > items[j].ID
	})
}
