package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Variant is a sellable SKU with its stock counters.
//
// StockUnits is what is physically on hand and not yet sold. ReservedUnits is
// the sum of every reservation row for the variant, including expired rows the
// sweeper has not reached yet. SoldUnits grows on commit and shrinks on restock.
type Variant struct {
	ID            uuid.UUID
	ProductID     uuid.UUID
	SKU           string
	Name          string
	PriceCents    int64
	StockUnits    int32
	ReservedUnits int32
	SoldUnits     int32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Options are per-line choices such as grind or size.
type Options map[string]string

// OptionsKey renders options canonically as "k=v;k=v" sorted by key.
// Nil and empty options both render as "".
func OptionsKey(opts Options) string {
	if len(opts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(opts[k])
	}
	return b.String()
}

// ParseOptionsKey turns a canonical key back into options.
func ParseOptionsKey(key string) Options {
	if key == "" {
		return nil
	}
	opts := Options{}
	for _, pair := range strings.Split(key, ";") {
		k, v, _ := strings.Cut(pair, "=")
		opts[k] = v
	}
	return opts
}

// ValidateOptions rejects option keys and values that would make the
// canonical key ambiguous.
func ValidateOptions(opts Options) error {
	for k, v := range opts {
		if k == "" {
			return Invalid("options.validate", "option name is required")
		}
		if strings.ContainsAny(k, "=;") || strings.ContainsAny(v, ";") {
			return Invalid("options.validate", "option names and values may not contain ';' or '='")
		}
	}
	return nil
}
