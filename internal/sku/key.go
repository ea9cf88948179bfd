// Package sku derives the canonical market identity of an item and
// converts it to and from its textual SKU notation.
package sku

// Well-known qualities.
const (
	QualityUnusual   = 5
	QualityUnique    = 6
	QualityStrange   = 11
	QualityDecorated = 15
)

// Attribute defindices consulted when deriving a key.
const (
	AttrUnusualEffect  = 134
	AttrCrateSeries    = 187
	AttrKillEater      = 214
	AttrWear           = 725
	AttrPaintkit       = 834
	AttrTarget         = 2012
	AttrKillstreakTier = 2025
	AttrAustralium     = 2027
	AttrTauntEffect    = 2041
	AttrFestivizer     = 2053
)

// Killstreak kit defindices whose tier is implied by the item itself.
const (
	SpecializedKillstreakKit  = 20002
	ProfessionalKillstreakKit = 20003
)

// Key is the canonical identity of a traded item. Optional integer fields
// use 0 for "not set", which keeps Key comparable with == and makes the
// textual form round-trip exactly.
type Key struct {
	Defindex      int  `json:"defindex"`
	Quality       int  `json:"quality"`
	Craftable     bool `json:"craftable"`
	Killstreak    int  `json:"killstreak"`
	Australium    bool `json:"australium"`
	Festive       bool `json:"festive"`
	Effect        int  `json:"effect,omitempty"`
	Paintkit      int  `json:"paintkit,omitempty"`
	Wear          int  `json:"wear,omitempty"`
	Quality2      int  `json:"quality2,omitempty"`
	Target        int  `json:"target,omitempty"`
	CrateSeries   int  `json:"crateseries,omitempty"`
	Output        int  `json:"output,omitempty"`
	OutputQuality int  `json:"output_quality,omitempty"`
}
