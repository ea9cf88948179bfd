// Package schema talks to the read-only item metadata services: the game
// schema service (items, qualities, effects) and the skin service.
package schema

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the service does not know the requested id.
	ErrNotFound = errors.New("schema: not found")
	// ErrUnavailable means the service could not be reached or failed.
	ErrUnavailable = errors.New("schema: unavailable")
)

// Item is the subset of a schema item needed to build display names.
type Item struct {
	Defindex    int    `json:"defindex"`
	Name        string `json:"name"`
	ItemName    string `json:"item_name"`
	ProperName  bool   `json:"proper_name"`
	ItemQuality int    `json:"item_quality"`
}

// Quality is an item quality such as "Strange" or "Unusual".
type Quality struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Effect is an unusual particle effect.
type Effect struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Skin is a war paint / weapon skin (paintkit).
type Skin struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ItemLookup resolves items, qualities and effects by id.
type ItemLookup interface {
	GetItemByDefindex(ctx context.Context, defindex int) (*Item, error)
	GetQualityByID(ctx context.Context, id int) (*Quality, error)
	GetEffectByID(ctx context.Context, id int) (*Effect, error)
}

// SkinLookup resolves skins by paintkit id.
type SkinLookup interface {
	GetSkinByID(ctx context.Context, id int) (*Skin, error)
}
