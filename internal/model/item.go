package model

// RawItem is one concrete item instance as supplied by the upstream game API.
type RawItem struct {
	Defindex        int            `json:"defindex"`
	Quality         int            `json:"quality"`
	ID              *int64         `json:"id,omitempty"`
	OriginalID      *int64         `json:"original_id,omitempty"`
	Level           *int           `json:"level,omitempty"`
	Inventory       *int64         `json:"inventory,omitempty"`
	Quantity        Value          `json:"quantity"`
	Origin          *int           `json:"origin,omitempty"`
	FlagCannotCraft bool           `json:"flag_cannot_craft,omitempty"`
	Attributes      []RawAttribute `json:"attributes,omitempty"`
}

// RawAttribute is a single entry of an item's attribute list. Output
// attributes (recipes, kits) describe the produced item through ItemDef,
// Quality and their own nested Attributes.
type RawAttribute struct {
	Defindex    Value          `json:"defindex"`
	Value       Value          `json:"value"`
	FloatValue  Value          `json:"float_value"`
	IsOutput    Value          `json:"is_output"`
	ItemDef     Value          `json:"itemdef"`
	Quality     Value          `json:"quality"`
	Quantity    Value          `json:"quantity"`
	MatchAll    *bool          `json:"match_all_attribs,omitempty"`
	Attributes  []RawAttribute `json:"attributes,omitempty"`
	AccountInfo *AccountInfo   `json:"account_info,omitempty"`
}

// AccountInfo identifies the player an attribute refers to (e.g. a gifter).
type AccountInfo struct {
	SteamID     Value  `json:"steamid"`
	PersonaName string `json:"personaname"`
}
