package sku

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidSKU is returned when a string is not a well-formed SKU.
var ErrInvalidSKU = errors.New("invalid sku")

// String encodes the key in SKU notation, e.g. "5021;6" or
// "200;11;australium;kt-3;festive".
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(k.Defindex))
	b.WriteByte(';')
	b.WriteString(strconv.Itoa(k.Quality))

	writeInt := func(prefix string, v int) {
		if v != 0 {
			b.WriteByte(';')
			b.WriteString(prefix)
			b.WriteString(strconv.Itoa(v))
		}
	}
	writeFlag := func(name string, set bool) {
		if set {
			b.WriteByte(';')
			b.WriteString(name)
		}
	}

	writeInt("u", k.Effect)
	writeFlag("australium", k.Australium)
	writeFlag("uncraftable", !k.Craftable)
	writeInt("w", k.Wear)
	writeInt("pk", k.Paintkit)
	writeFlag("strange", k.Quality2 == QualityStrange)
	writeInt("kt-", k.Killstreak)
	writeInt("td-", k.Target)
	writeFlag("festive", k.Festive)
	writeInt("c", k.CrateSeries)
	writeInt("od-", k.Output)
	writeInt("oq-", k.OutputQuality)

	return b.String()
}

// Encode is shorthand for k.String().
func Encode(k Key) string {
	return k.String()
}

// numeric attributes, checked in order; longer prefixes must come before
// any shorter prefix they start with.
var numericTokens = []struct {
	prefix string
	field  func(k *Key) *int
}{
	{"kt-", func(k *Key) *int { return &k.Killstreak }},
	{"td-", func(k *Key) *int { return &k.Target }},
	{"od-", func(k *Key) *int { return &k.Output }},
	{"oq-", func(k *Key) *int { return &k.OutputQuality }},
	{"pk", func(k *Key) *int { return &k.Paintkit }},
	{"u", func(k *Key) *int { return &k.Effect }},
	{"w", func(k *Key) *int { return &k.Wear }},
	{"c", func(k *Key) *int { return &k.CrateSeries }},
}

// Parse decodes SKU notation into a key. Craft numbers are not part of
// the canonical identity and are rejected.
func Parse(s string) (Key, error) {
	parts := strings.Split(s, ";")
	if len(parts) < 2 {
		return Key{}, fmt.Errorf("%w: %q: missing defindex or quality", ErrInvalidSKU, s)
	}

	defindex, err := strconv.Atoi(parts[0])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: bad defindex", ErrInvalidSKU, s)
	}
	quality, err := strconv.Atoi(parts[1])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: bad quality", ErrInvalidSKU, s)
	}

	k := Key{Defindex: defindex, Quality: quality, Craftable: true}
	for _, part := range parts[2:] {
		if err := k.applyToken(part); err != nil {
			return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidSKU, s, err)
		}
	}
	return k, nil
}

func (k *Key) applyToken(token string) error {
	switch token {
	case "australium":
		k.Australium = true
		return nil
	case "uncraftable":
		k.Craftable = false
		return nil
	case "strange":
		k.Quality2 = QualityStrange
		return nil
	case "festive":
		k.Festive = true
		return nil
	}

	if strings.HasPrefix(token, "n") {
		return fmt.Errorf("craft number %q", token)
	}
	for _, t := range numericTokens {
		if !strings.HasPrefix(token, t.prefix) {
			continue
		}
		n, err := strconv.Atoi(token[len(t.prefix):])
		if err != nil {
			return fmt.Errorf("bad value in %q", token)
		}
		*t.field(k) = n
		return nil
	}
	return fmt.Errorf("unknown attribute %q", token)
}

// IsValid reports whether s parses and is already in canonical form, so
// that it can be used directly as a job id or storage key.
func IsValid(s string) bool {
	k, err := Parse(s)
	if err != nil {
		return false
	}
	return k.String() == s
}
