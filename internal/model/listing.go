package model

import (
	"encoding/json"
	"time"
)

// ListingIntent tells whether a listing buys or sells the item.
type ListingIntent string

const (
	IntentBuy  ListingIntent = "buy"
	IntentSell ListingIntent = "sell"
)

// Valid reports whether the intent is one of the known values.
func (i ListingIntent) Valid() bool {
	return i == IntentBuy || i == IntentSell
}

// Listing is one buy or sell offer. Listings are owned by their snapshot
// and are replaced together with it.
type Listing struct {
	ID                  string          `json:"id"`
	SKU                 string          `json:"sku"`
	SteamID64           string          `json:"steamid64"`
	Item                json.RawMessage `json:"item"`
	Intent              ListingIntent   `json:"intent"`
	CurrenciesKeys      float64         `json:"currencies_keys"`
	CurrenciesHalfScrap int             `json:"currencies_half_scrap"`
	IsAutomatic         bool            `json:"is_automatic"`
	IsOffers            bool            `json:"is_offers"`
	IsBuyout            bool            `json:"is_buyout"`
	Comment             *string         `json:"comment"`
	CreatedAt           time.Time       `json:"created_at"`
	BumpedAt            time.Time       `json:"bumped_at"`
}

// Snapshot is the single live set of listings for one SKU.
type Snapshot struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Listings  []Listing `json:"listings,omitempty"`
}
