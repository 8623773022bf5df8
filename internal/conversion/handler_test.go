package conversion

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karoseri/quotedesk/internal/rbac"
	"github.com/karoseri/quotedesk/internal/rfq"
	"github.com/karoseri/quotedesk/internal/shared"
)

type permissionTable map[int64][]string

func (p permissionTable) UserPermissions(_ context.Context, userID int64) ([]string, error) {
	return p[userID], nil
}

func newConvertServer(f *fixture) http.Handler {
	perms := permissionTable{
		estimator: {shared.PermQuotationCreate},
		sales:     {shared.PermQuotationCreate},
	}
	mw := rbac.Middleware{Service: rbac.NewServiceWithSource(perms, time.Minute)}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.Header.Get("X-Actor"); raw != "" {
				id, _ := strconv.ParseInt(raw, 10, 64)
				r = r.WithContext(shared.ContextWithSession(r.Context(), &shared.Session{ID: "test", UserID: id}))
			}
			next.ServeHTTP(w, r)
		})
	})
	NewHandler(nil, f.bridge, mw).MountRoutes(r)
	return r
}

func postConvert(t *testing.T, h http.Handler, actor int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rfqs/7/convert", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", strconv.FormatInt(actor, 10))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerConvertCreatesQuotation(t *testing.T) {
	f := newFixture(rfq.StatusApproved)
	srv := newConvertServer(f)

	rec := postConvert(t, srv, estimator, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Len(t, res.Quotation.Offers, 1)
	assert.Equal(t, 300.0, res.Quotation.Offers[0].TotalPrice)
	assert.Equal(t, 270.0, res.Quotation.Offers[0].TotalNetto)
	assert.Equal(t, rfq.StatusQuotationCreated, res.RFQ.Status)
}

func TestHandlerConvertWithOverrides(t *testing.T) {
	f := newFixture(rfq.StatusApproved)
	srv := newConvertServer(f)

	rec := postConvert(t, srv, estimator, `{"customer_name":"PT Baru","requester_id":99}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, f.sink.drafts, 1)
	assert.Equal(t, "PT Baru", f.sink.drafts[0].CustomerName)
	assert.Equal(t, sales, f.sink.drafts[0].RequesterID)
}

func TestHandlerConvertConflicts(t *testing.T) {
	t.Run("claim held", func(t *testing.T) {
		f := newFixture(rfq.StatusApproved)
		f.keys.keys["RFQ:7:convert"] = idempotencyModule
		rec := postConvert(t, newConvertServer(f), estimator, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
	t.Run("not approved", func(t *testing.T) {
		f := newFixture(rfq.StatusPending)
		rec := postConvert(t, newConvertServer(f), estimator, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandlerConvertRejections(t *testing.T) {
	f := newFixture(rfq.StatusApproved)
	srv := newConvertServer(f)

	// Holds quotation.create but is not the assigned creator.
	rec := postConvert(t, srv, sales, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postConvert(t, srv, stranger, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postConvert(t, srv, estimator, `{"customer_name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postConvert(t, srv, estimator, `{"offer":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.sink.drafts)
}
