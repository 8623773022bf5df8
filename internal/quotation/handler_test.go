package quotation

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
	"github.com/karoseri/quotedesk/internal/shared"
)

type permissionTable map[int64][]string

func (p permissionTable) UserPermissions(_ context.Context, userID int64) ([]string, error) {
	return p[userID], nil
}

func newHandlerServer(t *testing.T) (fixture, http.Handler) {
	t.Helper()
	f := newFixture(t)
	perms := permissionTable{
		estimator: {shared.PermQuotationCreate},
		sales:     {shared.PermRFQCreate},
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
	NewHandler(nil, f.svc, mw).MountRoutes(r)
	return f, r
}

func send(t *testing.T, h http.Handler, method, path string, actor int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", strconv.FormatInt(actor, 10))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerSetStatus(t *testing.T) {
	f, srv := newHandlerServer(t)
	detail, err := f.svc.CreateFromDraft(context.Background(), estimator, draft())
	require.NoError(t, err)
	path := "/quotations/" + strconv.FormatInt(detail.ID, 10) + "/status"

	rec := send(t, srv, http.MethodPost, path, estimator, StatusRequest{Type: StatusLoss})
	require.Equal(t, http.StatusBadRequest, rec.Code, "loss needs a reason")

	rec = send(t, srv, http.MethodPost, path, estimator, StatusRequest{Type: StatusLoss, Reason: "price too high"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated Detail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, Status{Type: StatusLoss, Reason: "price too high"}, updated.Status)

	rec = send(t, srv, http.MethodPost, "/quotations/999/status", estimator, StatusRequest{Type: StatusOpen})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerDeleteOffer(t *testing.T) {
	f, srv := newHandlerServer(t)
	ctx := context.Background()
	detail, err := f.svc.CreateFromDraft(ctx, estimator, draft())
	require.NoError(t, err)
	offer := detail.Offers[0]
	_, err = f.svc.SetStatus(ctx, detail.ID, estimator, StatusRequest{Type: StatusWin, SelectedOfferID: &offer.ID})
	require.NoError(t, err)
	path := "/offers/" + strconv.FormatInt(offer.ID, 10)

	rec := send(t, srv, http.MethodDelete, path, sales, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "rfq.create does not cover deletes")

	rec = send(t, srv, http.MethodDelete, path, estimator, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "selected offer of a won quotation")

	_, err = f.svc.SetStatus(ctx, detail.ID, estimator, StatusRequest{Type: StatusOpen})
	require.NoError(t, err)
	rec = send(t, srv, http.MethodDelete, path, estimator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result DeleteResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 1, result.DeletedOffers)
}

func TestHandlerShowHidesUninvolved(t *testing.T) {
	f, srv := newHandlerServer(t)
	detail, err := f.svc.CreateFromDraft(context.Background(), estimator, draft())
	require.NoError(t, err)
	path := "/quotations/" + strconv.FormatInt(detail.ID, 10)

	assert.Equal(t, http.StatusOK, send(t, srv, http.MethodGet, path, sales, nil).Code)
	assert.Equal(t, http.StatusForbidden, send(t, srv, http.MethodGet, path, stranger, nil).Code)
}
