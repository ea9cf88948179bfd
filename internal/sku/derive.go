package sku

import (
	"math"

	"listing-snapshot-api/internal/model"
)

// attributeIndex maps a defindex to the first attribute carrying it.
type attributeIndex map[int]*model.RawAttribute

func indexAttributes(attrs []model.RawAttribute) attributeIndex {
	idx := make(attributeIndex, len(attrs))
	for i := range attrs {
		def, ok := attrs[i].Defindex.Int()
		if !ok {
			continue
		}
		if _, seen := idx[def]; !seen {
			idx[def] = &attrs[i]
		}
	}
	return idx
}

// extractor copies one attribute into the key. Extractors run in table
// order, so a later entry may overwrite an earlier one.
type extractor struct {
	defindex int
	apply    func(k *Key, attr *model.RawAttribute)
}

var extractors = []extractor{
	{AttrKillstreakTier, func(k *Key, a *model.RawAttribute) {
		k.Killstreak, _ = a.FloatValue.Int()
	}},
	// The taunt effect is only a fallback: the direct unusual effect
	// below overwrites it whenever both are present.
	{AttrTauntEffect, func(k *Key, a *model.RawAttribute) {
		k.Effect, _ = a.Value.Int()
	}},
	{AttrUnusualEffect, func(k *Key, a *model.RawAttribute) {
		k.Effect, _ = a.FloatValue.Int()
	}},
	{AttrWear, func(k *Key, a *model.RawAttribute) {
		k.Wear = wearTier(a)
	}},
	{AttrPaintkit, func(k *Key, a *model.RawAttribute) {
		k.Paintkit, _ = a.Value.Int()
	}},
	{AttrCrateSeries, func(k *Key, a *model.RawAttribute) {
		k.CrateSeries, _ = a.FloatValue.Int()
	}},
	{AttrAustralium, func(k *Key, _ *model.RawAttribute) {
		k.Australium = true
	}},
	{AttrFestivizer, func(k *Key, a *model.RawAttribute) {
		f, ok := a.FloatValue.Float()
		k.Festive = !ok || f != 0
	}},
	{AttrKillEater, func(k *Key, _ *model.RawAttribute) {
		if k.Quality != QualityStrange {
			k.Quality2 = QualityStrange
		}
	}},
}

// Derive computes the canonical key of an item. It never fails: missing
// or malformed attributes leave the matching field at its default.
func Derive(item model.RawItem) Key {
	k := Key{
		Defindex:  item.Defindex,
		Quality:   item.Quality,
		Craftable: !item.FlagCannotCraft,
	}

	idx := indexAttributes(item.Attributes)
	for _, e := range extractors {
		if attr, ok := idx[e.defindex]; ok {
			e.apply(&k, attr)
		}
	}

	// The target lives inside the output item when there is one, never
	// at the top level in that case.
	var target *model.RawAttribute
	if output := findOutput(item.Attributes); output != nil {
		k.Output, _ = output.ItemDef.Int()
		k.OutputQuality, _ = output.Quality.Int()
		target = indexAttributes(output.Attributes)[AttrTarget]
	} else {
		target = idx[AttrTarget]
	}
	if target != nil {
		k.Target, _ = target.FloatValue.Int()
	}

	switch item.Defindex {
	case ProfessionalKillstreakKit:
		k.Killstreak = 3
	case SpecializedKillstreakKit:
		k.Killstreak = 2
	}

	return k
}

func findOutput(attrs []model.RawAttribute) *model.RawAttribute {
	for i := range attrs {
		if attrs[i].IsOutput.Bool() {
			return &attrs[i]
		}
	}
	return nil
}

// wearTier maps a wear float in [0,1] to tiers 1 (Factory New) through 5
// (Battle Scarred). A readable value never yields a tier below 1; an
// unreadable one leaves the wear unset.
func wearTier(a *model.RawAttribute) int {
	w, ok := a.FloatValue.Float()
	if !ok || math.IsNaN(w) || math.IsInf(w, 0) {
		return 0
	}
	tier := int(math.Floor(w*10)) / 2
	if tier <= 0 {
		tier = 1
	}
	return tier
}
