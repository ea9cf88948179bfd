package handler

import (
	"encoding/json"
	"testing"

	"listing-snapshot-api/internal/model"
)

func TestValidSteamID64(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"76561198000000001", true},
		{"76561197960287930", true},
		{"103582791429521412", true}, // clan
		{"76561197960265728", false}, // account 0
		{"0", false},
		{"-1", false},
		{"abc", false},
		{"", false},
		{"18446744073709551615", false},
	}
	for _, tt := range tests {
		if got := validSteamID64(tt.id); got != tt.want {
			t.Fatalf("validSteamID64(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func validListing() model.InboundListing {
	return model.InboundListing{
		SteamID:   "76561198000000001",
		Offers:    1,
		Buyout:    1,
		Intent:    model.IntentSell,
		Timestamp: 1700000000,
		Bump:      1700000000,
		Item:      json.RawMessage(`{"defindex":5021,"quality":6,"id":1,"original_id":1,"level":5,"inventory":0,"origin":0,"attributes":[]}`),
	}
}

func TestValidateSnapshotRequest(t *testing.T) {
	ok := &model.CreateSnapshotRequest{SKU: "5021;6", Name: "Key", CreatedAt: 1700000000, Listings: []model.InboundListing{validListing()}}
	if errs := validateSnapshotRequest(ok); len(errs) != 0 {
		t.Fatalf("expected valid request, got %+v", errs)
	}

	tests := []struct {
		name  string
		mod   func(l *model.InboundListing)
		field string
	}{
		{"bad steamid", func(l *model.InboundListing) { l.SteamID = "123" }, "listings[0].steamid"},
		{"offers out of range", func(l *model.InboundListing) { l.Offers = 2 }, "listings[0].offers"},
		{"buyout out of range", func(l *model.InboundListing) { l.Buyout = -1 }, "listings[0].buyout"},
		{"unknown intent", func(l *model.InboundListing) { l.Intent = "trade" }, "listings[0].intent"},
		{"zero timestamp", func(l *model.InboundListing) { l.Timestamp = 0 }, "listings[0].timestamp"},
		{"zero bump", func(l *model.InboundListing) { l.Bump = 0 }, "listings[0].bump"},
		{"missing item", func(l *model.InboundListing) { l.Item = nil }, "listings[0].item"},
		{"non integer defindex", func(l *model.InboundListing) { l.Item = json.RawMessage(`{"defindex":1.5,"quality":6}`) }, "listings[0].item.defindex"},
		{"instance without level", func(l *model.InboundListing) {
			l.Item = json.RawMessage(`{"defindex":5021,"quality":6,"id":1,"original_id":1,"inventory":0,"origin":0}`)
		}, "listings[0].item.level"},
		{"sell without id", func(l *model.InboundListing) { l.Item = json.RawMessage(`{"defindex":5021,"quality":6}`) }, "listings[0].item.id"},
		{"user agent without client", func(l *model.InboundListing) { l.UserAgent = &model.UserAgent{LastPulse: 1} }, "listings[0].userAgent.client"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := validListing()
			tt.mod(&l)
			req := &model.CreateSnapshotRequest{SKU: "5021;6", Name: "Key", CreatedAt: 1700000000, Listings: []model.InboundListing{l}}
			errs := validateSnapshotRequest(req)
			for _, e := range errs {
				if e.Field == tt.field {
					return
				}
			}
			t.Fatalf("expected error on %s, got %+v", tt.field, errs)
		})
	}
}

func TestValidateSnapshotRequestHeader(t *testing.T) {
	errs := validateSnapshotRequest(&model.CreateSnapshotRequest{})
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, f := range []string{"sku", "name", "createdAt", "listings"} {
		if !fields[f] {
			t.Fatalf("expected error on %s, got %+v", f, errs)
		}
	}
}
