package efatura

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
	"github.com/storesace-cv/bwb-efatura-docs/internal/core/ports/driven"
	"github.com/storesace-cv/bwb-efatura-docs/internal/logger"
)

// uidFieldCandidates are listing item keys tried, in order, before
// falling back to scanning every string field for a UID-shaped value.
var uidFieldCandidates = []string{
	"Id", "ID", "Uid", "UID", "Iud", "IUD",
	"DfeId", "dfeId", "DocumentId", "documentId", "DocumentUid", "documentUid",
}

// dateFieldCandidates are the preferred "Data eFatura" keys before the
// substring heuristic kicks in.
var dateFieldCandidates = []string{
	"AuthorizedDate", "authorizedDate", "authorized_date",
	"AuthorizedDateTime", "authorizedDateTime",
	"RegisterDate", "registerDate", "registeredDate", "registered_date",
	"CreatedAt", "createdAt", "SubmissionDate", "submissionDate",
}

// itemContainerKeys are conventional wrapper keys for the item list.
var itemContainerKeys = []string{"content", "items", "data", "results", "result", "dfes", "Dfes"}

// List pages through the DFE listing endpoint for the date range.
//
// Some portal deployments ignore PageSize and/or repeat pages, so the
// stop conditions are layered: an explicit last-page hint, a short or
// empty page, a repeated page signature, a page with zero new UIDs, and
// finally the absolute page cap (the only fatal one).
func (c *Client) List(ctx context.Context, start, end time.Time, pageSize int) (*driven.ListingResult, error) {
	result := &driven.ListingResult{}
	seenUIDs := make(map[string]struct{})
	seenSigs := make(map[string]struct{})
	seenDateFields := make(map[string]struct{})

	for page := 1; ; page++ {
		if page > maxPages {
			return nil, fmt.Errorf("%w: %d pages", domain.ErrPaginationOverflow, maxPages)
		}

		obj, err := c.listPage(ctx, start, end, pageSize, page)
		if err != nil {
			return nil, err
		}

		items := extractItems(obj)
		if len(items) == 0 {
			logger.Info("listing page %d: 0 items (stop)", page)
			break
		}

		sig := pageSignature(items)
		if _, dup := seenSigs[sig]; dup {
			logger.Warn("listing page %d: repeated page signature (stop; pagination loop suspected)", page)
			break
		}
		seenSigs[sig] = struct{}{}

		for _, it := range items {
			for k := range it {
				lk := strings.ToLower(k)
				if strings.Contains(lk, "authorizeddate") || strings.Contains(lk, "register") ||
					strings.Contains(lk, "created") || strings.Contains(lk, "submitted") ||
					strings.Contains(lk, "authorization") {
					if _, ok := seenDateFields[k]; !ok {
						seenDateFields[k] = struct{}{}
						result.DateFields = append(result.DateFields, k)
					}
				}
			}
		}

		newCount := 0
		for _, it := range items {
			uid := extractUID(it)
			if uid != "" {
				if _, dup := seenUIDs[uid]; dup {
					continue
				}
				seenUIDs[uid] = struct{}{}
			}
			newCount++
			result.Items = append(result.Items, domain.ListingItem{
				UID:            uid,
				AuthorizedDate: extractAuthorizedDate(it),
				Raw:            it,
			})
		}
		if newCount == 0 {
			logger.Warn("listing page %d: 0 new items after de-dup (stop; pagination loop suspected)", page)
			break
		}

		logger.Info("listing page %d: received %d items, new %d (total %d)", page, len(items), newCount, len(result.Items))

		if last, known := lastPageHint(obj); known && last {
			break
		}
		if len(items) < pageSize {
			break
		}
	}

	return result, nil
}

// PageKeys fetches only the first listing page and returns its top-level
// keys and the keys of the first item, for schema exploration.
func (c *Client) PageKeys(ctx context.Context, start, end time.Time, pageSize int) (topLevel, firstItem []string, err error) {
	obj, err := c.listPage(ctx, start, end, pageSize, 1)
	if err != nil {
		return nil, nil, err
	}
	if m, ok := obj.(map[string]any); ok {
		for k := range m {
			topLevel = append(topLevel, k)
		}
	}
	items := extractItems(obj)
	if len(items) > 0 {
		for k := range items[0] {
			firstItem = append(firstItem, k)
		}
	}
	return topLevel, firstItem, nil
}

func (c *Client) listPage(ctx context.Context, start, end time.Time, pageSize, page int) (any, error) {
	params := url.Values{}
	params.Set("AuthorizedDateStart", start.Format("2006-01-02"))
	params.Set("AuthorizedDateEnd", end.Format("2006-01-02"))
	params.Set("PageSize", strconv.Itoa(pageSize))
	params.Set("Page", strconv.Itoa(page))

	resp, body, err := c.get(ctx, c.services+"/v1/dfe", "application/json", params)
	if err != nil {
		return nil, fmt.Errorf("list DFEs page %d: %w", page, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: list DFEs HTTP %d: %s", domain.ErrUnexpectedResponse, resp.StatusCode, preview(body, 500))
	}

	var obj any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: list DFEs did not return JSON (content-type=%s)",
			domain.ErrUnexpectedResponse, resp.Header.Get("Content-Type"))
	}
	return obj, nil
}

// extractItems normalises the possible listing response shapes into a
// list of objects: a top-level array, a conventional container key, or
// the first list-of-objects value found.
func extractItems(obj any) []map[string]any {
	switch v := obj.(type) {
	case []any:
		return onlyObjects(v)
	case map[string]any:
		for _, key := range itemContainerKeys {
			if items := onlyObjects(asList(v[key])); len(items) > 0 {
				return items
			}
		}
		for _, val := range v {
			if items := onlyObjects(asList(val)); len(items) > 0 {
				return items
			}
		}
	}
	return nil
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func onlyObjects(list []any) []map[string]any {
	var out []map[string]any
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// extractUID finds the document identifier in a listing item: the fixed
// candidate keys first, then any string field with a UID-shaped value.
func extractUID(item map[string]any) string {
	for _, k := range uidFieldCandidates {
		if s, ok := item[k].(string); ok {
			if s = strings.TrimSpace(s); domain.IsUID(s) {
				return s
			}
		}
	}
	for _, v := range item {
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); domain.IsUID(s) {
				return s
			}
		}
	}
	return ""
}

// extractAuthorizedDate finds the "Data eFatura" value, best effort.
func extractAuthorizedDate(item map[string]any) string {
	for _, k := range dateFieldCandidates {
		if v, ok := item[k]; ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	for k, v := range item {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "authorizeddate") || strings.Contains(lk, "register") {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// pageSignature fingerprints a page for loop detection: first and last
// UID plus count, or a prefix of the first raw item when no UIDs exist.
func pageSignature(items []map[string]any) string {
	var uids []string
	for _, it := range items {
		if uid := extractUID(it); uid != "" {
			uids = append(uids, uid)
		}
	}
	if len(uids) > 0 {
		return fmt.Sprintf("%s|%s|%d", uids[0], uids[len(uids)-1], len(uids))
	}
	return fmt.Sprintf("%s|%d", preview([]byte(fmt.Sprint(items[0])), 200), len(items))
}

// lastPageHint interprets the response's pagination metadata: an
// explicit last flag, an inverted hasNext flag, or page >= total pages.
// known is false when the response carries none of them.
func lastPageHint(obj any) (last, known bool) {
	m, ok := obj.(map[string]any)
	if !ok {
		return false, false
	}
	for _, k := range []string{"last", "isLast"} {
		if b, ok := m[k].(bool); ok {
			return b, true
		}
	}
	for _, k := range []string{"hasNext", "hasMore", "has_next", "has_more"} {
		if b, ok := m[k].(bool); ok {
			return !b, true
		}
	}
	tp := intField(m, "totalPages", "total_pages", "pages")
	pn := intField(m, "page", "pageNumber", "page_number", "number")
	if tp > 0 && pn > 0 && pn >= tp {
		return true, true
	}
	return false, false
}

func intField(m map[string]any, keys ...string) int {
	for _, k := range keys {
		if f, ok := m[k].(float64); ok {
			return int(f)
		}
	}
	return 0
}

func preview(body []byte, n int) string {
	s := string(body)
	if len(s) > n {
		s = s[:n]
	}
	return s
}
