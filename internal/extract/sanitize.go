package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/beevik/etree"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
)

var (
	// Illegal XML 1.0 control characters, keeping \t \n \r.
	invalidXMLChars = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F]")

	// A bare ampersand not already starting an entity.
	bareAmpersand = regexp.MustCompile(`&(?:#\d+;|#x[0-9a-fA-F]+;|\w+;)?`)
)

// Sanitize applies a best-effort cleanup to XML the portal returned in a
// technically invalid form. Observed in the field: illegal control
// characters, bare ampersands in text nodes (supplier names like
// "FOOD & EVENTS"), and junk bytes before the first tag.
func Sanitize(s string) string {
	if s == "" {
		return s
	}

	if lt := strings.IndexByte(s, '<'); lt > 0 {
		s = s[lt:]
	}

	s = invalidXMLChars.ReplaceAllString(s, "")

	s = bareAmpersand.ReplaceAllStringFunc(s, func(m string) string {
		if m == "&" {
			return "&amp;"
		}
		return m
	})

	return s
}

// Parse parses document XML, retrying once on a sanitized copy. The
// returned element is the document root. The sanitized text is returned
// as well so callers can dump it on failure.
func Parse(xmlText string) (*etree.Element, string, error) {
	if root, err := parseStrict(xmlText); err == nil {
		return root, xmlText, nil
	}

	cleaned := Sanitize(xmlText)
	root, err := parseStrict(cleaned)
	if err != nil {
		return nil, cleaned, fmt.Errorf("%w: %v", domain.ErrMalformedXML, err)
	}
	return root, cleaned, nil
}

func parseStrict(xmlText string) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlText); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("document has no root element")
	}
	return root, nil
}
