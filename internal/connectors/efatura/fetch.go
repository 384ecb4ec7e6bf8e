package efatura

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/beevik/etree"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
	"github.com/storesace-cv/bwb-efatura-docs/internal/diag"
)

// FetchXML downloads a single document's XML and unwraps the portal's
// transfer envelope, returning the inner DFE document text.
//
// The portal answers this endpoint with HTTP 200 even for some failure
// modes (HTML error pages, JSON error objects), so the body is sniffed
// before any XML parsing and suspicious responses are dumped for
// offline inspection.
func (c *Client) FetchXML(ctx context.Context, uid string) (string, error) {
	resp, body, err := c.get(ctx, c.services+"/v1/dfe/xml/"+uid, "application/xml", nil)
	if err != nil {
		return "", fmt.Errorf("fetch XML for %s: %w", uid, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.diag.DumpResponse(uid, "fetch-status", diag.HTTPDump{
			URL:         resp.Request.URL.String(),
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Note:        "non-200 status on XML fetch",
			Headers:     resp.Header,
			Body:        body,
		})
		return "", fmt.Errorf("%w: fetch XML for %s: HTTP %d", domain.ErrUnexpectedResponse, uid, resp.StatusCode)
	}
	if note := sniffNonXML(resp.Header.Get("Content-Type"), body); note != "" {
		c.diag.DumpResponse(uid, "fetch-body", diag.HTTPDump{
			URL:         resp.Request.URL.String(),
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Note:        note,
			Headers:     resp.Header,
			Body:        body,
		})
		return "", fmt.Errorf("%w: fetch XML for %s: %s", domain.ErrUnexpectedResponse, uid, note)
	}

	dfe, err := unwrapEnvelope(string(body))
	if err != nil {
		c.diag.DumpResponse(uid, "fetch-envelope", diag.HTTPDump{
			URL:         resp.Request.URL.String(),
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Note:        err.Error(),
			Headers:     resp.Header,
			Body:        body,
		})
		return "", fmt.Errorf("fetch XML for %s: %w", uid, err)
	}
	return dfe, nil
}

// sniffNonXML flags bodies that are clearly not XML despite the status
// code. Returns an empty string when the body looks plausible.
func sniffNonXML(contentType string, body []byte) string {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "json") {
		return "JSON body on XML endpoint"
	}
	head := strings.ToLower(preview(body, 200))
	trimmed := strings.TrimSpace(head)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return "JSON-shaped body on XML endpoint"
	}
	if strings.Contains(head, "<html") {
		return "HTML body on XML endpoint"
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "empty body on XML endpoint"
	}
	return ""
}

// unwrapEnvelope extracts the DFE document from the transfer envelope.
// The envelope carries the document HTML-entity-escaped inside a
// Payload element; responses that are already a bare DFE document pass
// through unchanged.
func unwrapEnvelope(body string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(body); err == nil && doc.Root() != nil {
		if payload := findPayload(doc.Root()); payload != nil {
			inner := strings.TrimSpace(html.UnescapeString(payload.Text()))
			if inner != "" {
				return inner, nil
			}
		}
		if strings.EqualFold(doc.Root().Tag, "Dfe") {
			return body, nil
		}
	}
	// Envelope may itself be malformed; a bare document can still be
	// recovered from its first Dfe element.
	if i := strings.Index(body, "<Dfe"); i >= 0 {
		return body[i:], nil
	}
	return "", fmt.Errorf("%w: no Payload element and no Dfe document", domain.ErrNoPayload)
}

func findPayload(el *etree.Element) *etree.Element {
	if strings.EqualFold(el.Tag, "Payload") {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findPayload(child); found != nil {
			return found
		}
	}
	return nil
}

// UserinfoTaxID asks the IAM userinfo endpoint for the authenticated
// taxpayer's identifier. Best effort: any failure returns an empty
// string and the error for logging, never aborting a run.
func (c *Client) UserinfoTaxID(ctx context.Context) (string, error) {
	resp, body, err := c.get(ctx, c.iam+userinfoPath, "application/json", nil)
	if err != nil {
		return "", fmt.Errorf("userinfo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: userinfo HTTP %d", domain.ErrUnexpectedResponse, resp.StatusCode)
	}
	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return "", fmt.Errorf("userinfo: decode claims: %w", err)
	}
	for _, k := range []string{"taxId", "tax_id", "preferred_username", "username", "sub"} {
		if s, ok := claims[k].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", nil
}
