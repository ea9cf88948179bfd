// Package naming builds human-readable item names from canonical keys.
package naming

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"listing-snapshot-api/internal/schema"
	"listing-snapshot-api/internal/sku"
)

// ErrLookupFailed wraps any metadata lookup failure. No partial name is
// returned alongside it.
var ErrLookupFailed = errors.New("name lookup failed")

var killstreakNames = [...]string{"Killstreak", "Specialized Killstreak", "Professional Killstreak"}

var wearNames = [...]string{"Factory New", "Minimal Wear", "Field-Tested", "Well-Worn", "Battle Scarred"}

// Resolver resolves display names through the metadata services.
type Resolver struct {
	items schema.ItemLookup
	skins schema.SkinLookup
}

// NewResolver creates a resolver.
func NewResolver(items schema.ItemLookup, skins schema.SkinLookup) *Resolver {
	return &Resolver{items: items, skins: skins}
}

// ResolveSKU parses s and resolves its name.
func (r *Resolver) ResolveSKU(ctx context.Context, s string) (string, error) {
	k, err := sku.Parse(s)
	if err != nil {
		return "", err
	}
	return r.Resolve(ctx, k)
}

// Resolve returns the display name of k, e.g.
// "Strange Professional Killstreak Australium Rocket Launcher".
func (r *Resolver) Resolve(ctx context.Context, k sku.Key) (string, error) {
	base, err := r.items.GetItemByDefindex(ctx, k.Defindex)
	if err != nil {
		return "", lookupFailed("item", k.Defindex, err)
	}

	var b strings.Builder
	segment := func(s string) {
		b.WriteString(s)
		b.WriteByte(' ')
	}

	if !k.Craftable {
		segment("Non-Craftable")
	}

	if k.Output != 0 && k.OutputQuality != 0 && k.OutputQuality != sku.QualityUnique {
		name, err := r.qualityName(ctx, k.OutputQuality)
		if err != nil {
			return "", err
		}
		segment(name)
	}

	if k.Quality2 != 0 {
		name, err := r.qualityName(ctx, k.Quality2)
		if err != nil {
			return "", err
		}
		segment(name)
	}

	if showsQuality(k, base) {
		name, err := r.qualityName(ctx, k.Quality)
		if err != nil {
			return "", err
		}
		segment(name)
	}

	if k.Festive {
		segment("Festivized")
	}

	if k.Effect != 0 {
		effect, err := r.items.GetEffectByID(ctx, k.Effect)
		if err != nil {
			return "", lookupFailed("effect", k.Effect, err)
		}
		segment(effect.Name)
	}

	if k.Killstreak > 0 && k.Killstreak <= len(killstreakNames) {
		segment(killstreakNames[k.Killstreak-1])
	}

	if k.Target != 0 {
		target, err := r.items.GetItemByDefindex(ctx, k.Target)
		if err != nil {
			return "", lookupFailed("target item", k.Target, err)
		}
		segment(target.ItemName)
	}

	if k.Output != 0 {
		output, err := r.items.GetItemByDefindex(ctx, k.Output)
		if err != nil {
			return "", lookupFailed("output item", k.Output, err)
		}
		segment(output.ItemName)
	}

	if k.Australium {
		segment("Australium")
	}

	if k.Paintkit != 0 {
		skin, err := r.skins.GetSkinByID(ctx, k.Paintkit)
		if err != nil {
			return "", lookupFailed("skin", k.Paintkit, err)
		}
		segment(skin.Name)
	}

	if b.Len() == 0 && base.ProperName {
		segment("The")
	}

	b.WriteString(base.ItemName)

	if k.Wear > 0 && k.Wear <= len(wearNames) {
		b.WriteString(" (" + wearNames[k.Wear-1] + ")")
	}

	if k.CrateSeries != 0 {
		b.WriteString(" #" + strconv.Itoa(k.CrateSeries))
	}

	return strings.TrimSpace(b.String()), nil
}

// showsQuality reports whether the base quality is part of the name.
// Unique, Decorated and Unusual are implied by the rest of the name,
// except for effect-less unusuals and items whose schema quality is
// already Unusual.
func showsQuality(k sku.Key, base *schema.Item) bool {
	switch {
	case base.ItemQuality == sku.QualityUnusual:
		return true
	case k.Quality == sku.QualityUnusual && k.Effect == 0:
		return true
	case k.Quality == sku.QualityUnique, k.Quality == sku.QualityDecorated, k.Quality == sku.QualityUnusual:
		return false
	}
	return true
}

func (r *Resolver) qualityName(ctx context.Context, id int) (string, error) {
	q, err := r.items.GetQualityByID(ctx, id)
	if err != nil {
		return "", lookupFailed("quality", id, err)
	}
	return q.Name, nil
}

func lookupFailed(what string, id int, err error) error {
	return fmt.Errorf("%w: %s %d: %w", ErrLookupFailed, what, id, err)
}
