package extract

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

// The portal is not consistent about namespaces, so every lookup here
// matches element local names only. etree keeps the prefix in Space and
// the local name in Tag, which makes that cheap.

// text returns the trimmed concatenated text of el and its descendants.
func text(el *etree.Element) string {
	if el == nil {
		return ""
	}
	var sb strings.Builder
	collectText(el, &sb)
	return strings.TrimSpace(sb.String())
}

func collectText(el *etree.Element, sb *strings.Builder) {
	for _, tok := range el.Child {
		switch c := tok.(type) {
		case *etree.CharData:
			sb.WriteString(c.Data)
		case *etree.Element:
			collectText(c, sb)
		}
	}
}

// walk visits el and every descendant element in document order until
// visit returns false.
func walk(el *etree.Element, visit func(*etree.Element) bool) bool {
	if !visit(el) {
		return false
	}
	for _, ch := range el.ChildElements() {
		if !walk(ch, visit) {
			return false
		}
	}
	return true
}

// findFirstByLocal returns the first descendant (or el itself) whose
// local name matches any of names, case-insensitively.
func findFirstByLocal(el *etree.Element, names ...string) *etree.Element {
	if el == nil {
		return nil
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = struct{}{}
	}
	var found *etree.Element
	walk(el, func(e *etree.Element) bool {
		if _, ok := want[strings.ToLower(e.Tag)]; ok {
			found = e
			return false
		}
		return true
	})
	return found
}

// textAnywhere returns the text of the first matching descendant,
// trying the alternate names in the given priority order.
func textAnywhere(el *etree.Element, names ...string) string {
	for _, n := range names {
		if v := text(findFirstByLocal(el, n)); v != "" {
			return v
		}
	}
	return ""
}

// childText returns the text of the first direct child with the given
// local name (exact match).
func childText(el *etree.Element, local string) string {
	if el == nil {
		return ""
	}
	for _, ch := range el.ChildElements() {
		if ch.Tag == local {
			return text(ch)
		}
	}
	return ""
}

// coalesce returns the first non-empty value.
func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseDecimal converts a portal numeric string to a nullable decimal.
// Comma decimal separators are accepted; anything unparseable is null.
func parseDecimal(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// attrAny returns the first non-empty attribute among keys.
func attrAny(el *etree.Element, keys ...string) string {
	if el == nil {
		return ""
	}
	for _, k := range keys {
		if v := strings.TrimSpace(el.SelectAttrValue(k, "")); v != "" {
			return v
		}
	}
	return ""
}
