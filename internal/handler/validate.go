package handler

import (
	"encoding/json"
	"fmt"
	"strconv"

	"listing-snapshot-api/internal/model"
	"listing-snapshot-api/pkg/apierror"
)

// SteamID64 layout: universe(8) type(4) instance(20) account(32).
const (
	steamTypeIndividual = 1
	steamTypeGameServer = 3
	steamTypeClan       = 7
)

// validSteamID64 reports whether s is a valid 64-bit Steam id.
func validSteamID64(s string) bool {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return false
	}
	account := id & 0xFFFFFFFF
	instance := (id >> 32) & 0xFFFFF
	accountType := (id >> 52) & 0xF
	universe := id >> 56

	if universe < 1 || universe > 4 {
		return false
	}
	if accountType < 1 || accountType > 10 {
		return false
	}
	switch accountType {
	case steamTypeIndividual:
		return account != 0 && instance <= 4
	case steamTypeClan:
		return account != 0 && instance == 0
	case steamTypeGameServer:
		return account != 0
	}
	return true
}

// itemShape is the subset of an item checked before conversion.
type itemShape struct {
	Defindex   *json.Number `json:"defindex"`
	Quality    *json.Number `json:"quality"`
	ID         *json.Number `json:"id"`
	OriginalID *json.Number `json:"original_id"`
	Level      *json.Number `json:"level"`
	Inventory  *json.Number `json:"inventory"`
	Origin     *json.Number `json:"origin"`
	Attributes interface{}  `json:"attributes"`
}

func isInt(n *json.Number) bool {
	if n == nil {
		return false
	}
	_, err := strconv.ParseInt(n.String(), 10, 64)
	return err == nil
}

// validateSnapshotRequest returns one FieldError per invalid field.
func validateSnapshotRequest(req *model.CreateSnapshotRequest) []apierror.FieldError {
	var errs []apierror.FieldError
	add := func(field, msg string) {
		errs = append(errs, apierror.FieldError{Field: field, Message: msg})
	}

	if req.SKU == "" {
		add("sku", "sku is required")
	}
	if req.Name == "" {
		add("name", "name is required")
	}
	if req.CreatedAt <= 0 {
		add("createdAt", "createdAt must be a positive unix timestamp")
	}
	if req.Listings == nil {
		add("listings", "listings must be an array")
	}

	for i := range req.Listings {
		l := &req.Listings[i]
		prefix := fmt.Sprintf("listings[%d].", i)

		if !validSteamID64(l.SteamID) {
			add(prefix+"steamid", "steamid must be a SteamID64")
		}
		if l.Offers != 0 && l.Offers != 1 {
			add(prefix+"offers", "offers must be 0 or 1")
		}
		if l.Buyout != 0 && l.Buyout != 1 {
			add(prefix+"buyout", "buyout must be 0 or 1")
		}
		if !l.Intent.Valid() {
			add(prefix+"intent", "intent must be buy or sell")
		}
		if l.Timestamp <= 0 {
			add(prefix+"timestamp", "timestamp must be a positive integer")
		}
		if l.Bump <= 0 {
			add(prefix+"bump", "bump must be a positive integer")
		}
		if l.UserAgent != nil {
			if l.UserAgent.LastPulse <= 0 {
				add(prefix+"userAgent.lastPulse", "lastPulse must be a positive integer")
			}
			if l.UserAgent.Client == "" {
				add(prefix+"userAgent.client", "client is required")
			}
		}
		errs = append(errs, validateItem(prefix+"item", l.Item, l.Intent)...)
	}
	return errs
}

func validateItem(field string, raw json.RawMessage, intent model.ListingIntent) []apierror.FieldError {
	if len(raw) == 0 || string(raw) == "null" {
		return []apierror.FieldError{{Field: field, Message: "item is required"}}
	}
	var item itemShape
	if err := json.Unmarshal(raw, &item); err != nil {
		return []apierror.FieldError{{Field: field, Message: "item must be an object"}}
	}

	var errs []apierror.FieldError
	requireInt := func(name string, n *json.Number) {
		if !isInt(n) {
			errs = append(errs, apierror.FieldError{Field: field + "." + name, Message: name + " must be an integer"})
		}
	}
	requireInt("defindex", item.Defindex)
	requireInt("quality", item.Quality)

	if item.ID != nil {
		requireInt("id", item.ID)
		requireInt("original_id", item.OriginalID)
		requireInt("level", item.Level)
		requireInt("inventory", item.Inventory)
		requireInt("origin", item.Origin)
		if item.Attributes != nil {
			if _, ok := item.Attributes.([]interface{}); !ok {
				errs = append(errs, apierror.FieldError{Field: field + ".attributes", Message: "attributes must be an array"})
			}
		}
	} else if intent == model.IntentSell {
		errs = append(errs, apierror.FieldError{Field: field + ".id", Message: "sell listings need an item id"})
	}
	return errs
}
