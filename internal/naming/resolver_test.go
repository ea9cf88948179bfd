package naming

import (
	"context"
	"errors"
	"testing"

	"listing-snapshot-api/internal/schema"
	"listing-snapshot-api/internal/sku"
)

type fakeSchema struct {
	items     map[int]*schema.Item
	qualities map[int]string
	effects   map[int]string
	skins     map[int]string
	failWith  error
}

func newFakeSchema() *fakeSchema {
	return &fakeSchema{
		items: map[int]*schema.Item{
			200:   {Defindex: 200, ItemName: "Scattergun", ItemQuality: 6},
			205:   {Defindex: 205, ItemName: "Rocket Launcher", ItemQuality: 6},
			5021:  {Defindex: 5021, ItemName: "Mann Co. Supply Crate Key", ItemQuality: 6},
			5022:  {Defindex: 5022, ItemName: "Mann Co. Supply Crate", ItemQuality: 6},
			378:   {Defindex: 378, ItemName: "Team Captain", ItemQuality: 6, ProperName: true},
			1182:  {Defindex: 1182, ItemName: "Taunt: The Conga", ItemQuality: 5},
			15013: {Defindex: 15013, ItemName: "Revolver", ItemQuality: 15},
			20003: {Defindex: 20003, ItemName: "Kit", ItemQuality: 6},
			6526:  {Defindex: 6526, ItemName: "Fabricator", ItemQuality: 6},
			5726:  {Defindex: 5726, ItemName: "Chemistry Set", ItemQuality: 6},
		},
		qualities: map[int]string{5: "Unusual", 6: "Unique", 11: "Strange", 14: "Collector's", 15: "Decorated Weapon"},
		effects:   map[int]string{13: "Burning Flames", 3003: "Holographic"},
		skins:     map[int]string{102: "Woodland Warrior"},
	}
}

func (f *fakeSchema) GetItemByDefindex(ctx context.Context, defindex int) (*schema.Item, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	item, ok := f.items[defindex]
	if !ok {
		return nil, schema.ErrNotFound
	}
	return item, nil
}

func (f *fakeSchema) GetQualityByID(ctx context.Context, id int) (*schema.Quality, error) {
	name, ok := f.qualities[id]
	if !ok {
		return nil, schema.ErrNotFound
	}
	return &schema.Quality{ID: id, Name: name}, nil
}

func (f *fakeSchema) GetEffectByID(ctx context.Context, id int) (*schema.Effect, error) {
	name, ok := f.effects[id]
	if !ok {
		return nil, schema.ErrNotFound
	}
	return &schema.Effect{ID: id, Name: name}, nil
}

func (f *fakeSchema) GetSkinByID(ctx context.Context, id int) (*schema.Skin, error) {
	name, ok := f.skins[id]
	if !ok {
		return nil, schema.ErrUnavailable
	}
	return &schema.Skin{ID: id, Name: name}, nil
}

func TestResolveNames(t *testing.T) {
	f := newFakeSchema()
	r := NewResolver(f, f)

	cases := []struct {
		sku  string
		want string
	}{
		{"5021;6", "Mann Co. Supply Crate Key"},
		{"378;6", "The Team Captain"},
		{"378;11", "Strange Team Captain"},
		{"200;6;uncraftable", "Non-Craftable Scattergun"},
		{"200;6;festive;kt-2", "Festivized Specialized Killstreak Scattergun"},
		{"205;11;australium;kt-3", "Strange Professional Killstreak Australium Rocket Launcher"},
		{"200;5;u13;strange", "Strange Burning Flames Scattergun"},
		{"200;5", "Unusual Scattergun"},
		{"1182;5;u3003", "Unusual Holographic Taunt: The Conga"},
		{"15013;15;w3;pk102", "Woodland Warrior Revolver (Field-Tested)"},
		{"5022;6;c82", "Mann Co. Supply Crate #82"},
		{"20003;6;kt-3;td-205;od-6526;oq-6", "Professional Killstreak Rocket Launcher Fabricator Kit"},
	}
	for _, tc := range cases {
		got, err := r.ResolveSKU(context.Background(), tc.sku)
		if err != nil {
			t.Fatalf("%s: %v", tc.sku, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.sku, tc.want, got)
		}
	}
}

func TestResolveOutputQualityPrefix(t *testing.T) {
	f := newFakeSchema()
	f.items[20005] = &schema.Item{Defindex: 20005, ItemName: "Strangifier Chemistry Set", ItemQuality: 6}
	r := NewResolver(f, f)

	got, err := r.Resolve(context.Background(), sku.Key{Defindex: 20005, Quality: 6, Craftable: true, Output: 5726, OutputQuality: 14})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := "Collector's Chemistry Set Strangifier Chemistry Set"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestResolveProperNameOnlyWhenNothingPrecedes(t *testing.T) {
	f := newFakeSchema()
	r := NewResolver(f, f)

	got, err := r.Resolve(context.Background(), sku.Key{Defindex: 378, Quality: 6, Craftable: false})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "Non-Craftable Team Captain" {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestResolveFailsWithoutPartialName(t *testing.T) {
	f := newFakeSchema()
	r := NewResolver(f, f)

	cases := []sku.Key{
		{Defindex: 999, Quality: 6, Craftable: true},
		{Defindex: 200, Quality: 5, Craftable: true, Effect: 77},
		{Defindex: 200, Quality: 99, Craftable: true},
		{Defindex: 15013, Quality: 15, Craftable: true, Paintkit: 404},
	}
	for _, k := range cases {
		name, err := r.Resolve(context.Background(), k)
		if !errors.Is(err, ErrLookupFailed) {
			t.Fatalf("%s: expected ErrLookupFailed, got %v", k, err)
		}
		if name != "" {
			t.Fatalf("%s: expected no partial name, got %q", k, name)
		}
	}

	f.failWith = schema.ErrUnavailable
	_, err := r.Resolve(context.Background(), sku.Key{Defindex: 200, Quality: 6, Craftable: true})
	if !errors.Is(err, ErrLookupFailed) || !errors.Is(err, schema.ErrUnavailable) {
		t.Fatalf("expected wrapped unavailable error, got %v", err)
	}
}

func TestResolveSKURejectsInvalid(t *testing.T) {
	f := newFakeSchema()
	r := NewResolver(f, f)
	if _, err := r.ResolveSKU(context.Background(), "not-a-sku"); !errors.Is(err, sku.ErrInvalidSKU) {
		t.Fatalf("expected ErrInvalidSKU, got %v", err)
	}
}
