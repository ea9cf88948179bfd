package model

import "encoding/json"

// CreateSnapshotRequest is the payload of a snapshot upload. CreatedAt is
// unix seconds and may carry a fractional part.
type CreateSnapshotRequest struct {
	SKU       string           `json:"sku"`
	Name      string           `json:"name"`
	CreatedAt float64          `json:"createdAt"`
	Listings  []InboundListing `json:"listings"`
}

// InboundListing is one listing as reported by the marketplace.
type InboundListing struct {
	SteamID    string            `json:"steamid"`
	Offers     int               `json:"offers"`
	Buyout     int               `json:"buyout"`
	Details    string            `json:"details"`
	Intent     ListingIntent     `json:"intent"`
	Timestamp  int64             `json:"timestamp"`
	Bump       int64             `json:"bump"`
	Item       json.RawMessage   `json:"item"`
	Currencies InboundCurrencies `json:"currencies"`
	UserAgent  *UserAgent        `json:"userAgent,omitempty"`
}

// InboundCurrencies is the asking price. Metal is in refined units.
type InboundCurrencies struct {
	Keys  *float64 `json:"keys,omitempty"`
	Metal *float64 `json:"metal,omitempty"`
}

// UserAgent is present for listings managed by a trading bot.
type UserAgent struct {
	LastPulse int64  `json:"lastPulse"`
	Client    string `json:"client"`
}
