package efatura

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
)

type staticTokens struct {
	token       string
	invalidated int
}

func (s *staticTokens) GetToken(ctx context.Context) (string, error) { return s.token, nil }
func (s *staticTokens) Invalidate()                                  { s.invalidated++ }

func testClient(t *testing.T, srv *httptest.Server) (*Client, *staticTokens) {
	t.Helper()
	tokens := &staticTokens{token: "tok-1"}
	c := NewClient(tokens, Config{
		ServicesBase: srv.URL,
		IAMBase:      srv.URL,
		RepoCode:     "123456789",
		Retries:      3,
		Backoff:      time.Millisecond,
	}, nil)
	return c, tokens
}

func listingPage(uids []string, extra map[string]any) []byte {
	items := make([]map[string]any, 0, len(uids))
	for _, uid := range uids {
		items = append(items, map[string]any{
			"Id":             uid,
			"AuthorizedDate": "2024-03-01T10:00:00",
		})
	}
	page := map[string]any{"content": items}
	for k, v := range extra {
		page[k] = v
	}
	b, _ := json.Marshal(page)
	return b
}

func TestClient_List_CollectsAllPages(t *testing.T) {
	pages := [][]string{
		{"CV2024000000000001", "CV2024000000000002"},
		{"CV2024000000000003"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.Equal(t, "123456789", r.Header.Get("cv-ef-repository-code"))
		require.Equal(t, "2024-03-01", r.URL.Query().Get("AuthorizedDateStart"))
		page := r.URL.Query().Get("Page")
		switch page {
		case "1":
			w.Write(listingPage(pages[0], nil))
		case "2":
			w.Write(listingPage(pages[1], nil))
		default:
			t.Fatalf("unexpected page request %q", page)
		}
	}))
	defer srv.Close()

	c, _ := testClient(t, srv)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	result, err := c.List(context.Background(), start, end, 2)
	require.NoError(t, err)
	require.Len(t, result.Items, 3)
	assert.Equal(t, "CV2024000000000001", result.Items[0].UID)
	assert.Equal(t, "CV2024000000000003", result.Items[2].UID)
	assert.Equal(t, "2024-03-01T10:00:00", result.Items[0].AuthorizedDate)
	assert.Contains(t, result.DateFields, "AuthorizedDate")
}

func TestClient_List_StopsOnRepeatedPage(t *testing.T) {
	// A broken backend that ignores the Page parameter and serves the
	// same full page forever must not trap the client.
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(listingPage([]string{"CV2024000000000001", "CV2024000000000002"}, nil))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv)
	result, err := c.List(context.Background(), time.Now().AddDate(0, -1, 0), time.Now(), 2)
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, 2, calls)
}

func TestClient_List_HonorsLastPageFlag(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// Full page, but the metadata says it is the last one.
		w.Write(listingPage([]string{"CV2024000000000001", "CV2024000000000002"}, map[string]any{"last": true}))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv)
	result, err := c.List(context.Background(), time.Now().AddDate(0, -1, 0), time.Now(), 2)
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, 1, calls)
}

func TestClient_List_TopLevelArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"DocumentId":"CV2024000000000009","RegisterDate":"2024-04-02"}]`)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv)
	result, err := c.List(context.Background(), time.Now().AddDate(0, -1, 0), time.Now(), 50)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "CV2024000000000009", result.Items[0].UID)
	assert.Equal(t, "2024-04-02", result.Items[0].AuthorizedDate)
}

func TestClient_Get_RetriesAuthOnce(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid_token","error_description":"Token expired"}`)
			return
		}
		w.Write(listingPage(nil, map[string]any{"last": true}))
	}))
	defer srv.Close()

	c, tokens := testClient(t, srv)
	_, err := c.List(context.Background(), time.Now().AddDate(0, -1, 0), time.Now(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.invalidated)
	assert.Equal(t, 2, calls)
}

func TestClient_Get_AuthExpiredAfterFailedRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_token"}`)
	}))
	defer srv.Close()

	c, tokens := testClient(t, srv)
	_, err := c.List(context.Background(), time.Now().AddDate(0, -1, 0), time.Now(), 50)
	require.ErrorIs(t, err, domain.ErrAuthExpired)
	assert.Equal(t, 1, tokens.invalidated)
}

func TestClient_Get_TransientAfterExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drop the connection mid-response.
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	c, _ := testClient(t, srv)
	_, err := c.List(context.Background(), time.Now().AddDate(0, -1, 0), time.Now(), 50)
	require.ErrorIs(t, err, domain.ErrTransient)
}

func TestClient_FetchXML_UnwrapsEscapedPayload(t *testing.T) {
	envelope := `<Envelope><Header/><Payload>&lt;Dfe&gt;&lt;Invoice&gt;&lt;Number&gt;42&lt;/Number&gt;&lt;/Invoice&gt;&lt;/Dfe&gt;</Payload></Envelope>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/dfe/xml/CV2024000000000001", r.URL.Path)
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, envelope)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv)
	xml, err := c.FetchXML(context.Background(), "CV2024000000000001")
	require.NoError(t, err)
	assert.Equal(t, "<Dfe><Invoice><Number>42</Number></Invoice></Dfe>", xml)
}

func TestClient_FetchXML_BareDfeFallback(t *testing.T) {
	// Malformed envelope around an intact document.
	body := `<Envelope><Broken <Dfe><Receipt/></Dfe>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv)
	xml, err := c.FetchXML(context.Background(), "CV2024000000000002")
	require.NoError(t, err)
	assert.Equal(t, "<Dfe><Receipt/></Dfe>", xml)
}

func TestClient_FetchXML_RejectsDisguisedHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html><html><body>Session expired</body></html>`)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv)
	_, err := c.FetchXML(context.Background(), "CV2024000000000003")
	require.ErrorIs(t, err, domain.ErrUnexpectedResponse)
}

func TestClient_FetchXML_NoPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<Envelope><Header/></Envelope>`)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv)
	_, err := c.FetchXML(context.Background(), "CV2024000000000004")
	require.ErrorIs(t, err, domain.ErrNoPayload)
}

func TestClient_UserinfoTaxID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/realms/taxpayers/protocol/openid-connect/userinfo", r.URL.Path)
		fmt.Fprint(w, `{"sub":"abc","preferred_username":"200123456"}`)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv)
	taxID, err := c.UserinfoTaxID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "200123456", taxID)
}
