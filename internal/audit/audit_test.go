package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-bakery/internal/common"
	"github.com/noah-isme/backend-bakery/internal/obs"
)

type memStore struct {
	entries []Entry
	err     error
}

func (s *memStore) Insert(_ context.Context, e Entry) error {
	if s.err != nil {
		return s.err
	}
	e.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, e)
	return nil
}

func (s *memStore) List(_ context.Context, limit, offset int) ([]Entry, error) {
	if offset >= len(s.entries) {
		return []Entry{}, nil
	}
	end := offset + limit
	if end > len(s.entries) {
		end = len(s.entries)
	}
	return s.entries[offset:end], nil
}

func TestServiceRecord(t *testing.T) {
	store := &memStore{}
	fixed := time.Date(2025, 10, 20, 13, 0, 0, 0, time.UTC)
	svc := Service{Store: store, Enabled: true, Now: func() time.Time { return fixed }}

	req := httptest.NewRequest(http.MethodPatch, "https://api.test/api/v1/admin/sales/abc/status?notify=1", nil)
	req.Header.Set("User-Agent", "tester")
	req.Header.Set("X-Request-ID", "req-123")
	req.RemoteAddr = "10.0.0.2:54321"
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/admin/sales/{id}/status"))

	if err := svc.Record(req.Context(), Actor{Kind: ActorKindAdmin, Subject: "owner@gossipcake.com"}, "", "", "abc", req, 0, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	e := store.entries[0]
	if e.ActorKind != ActorKindAdmin || e.Actor != "owner@gossipcake.com" {
		t.Fatalf("unexpected actor: %+v", e)
	}
	if e.Action != "PATCH /api/v1/admin/sales/{id}/status" {
		t.Fatalf("unexpected action %q", e.Action)
	}
	if e.ResourceType != "sales.status" {
		t.Fatalf("unexpected resource type %q", e.ResourceType)
	}
	if e.Status != http.StatusOK || e.IP != "10.0.0.2" || e.RequestID != "req-123" {
		t.Fatalf("unexpected request fields: %+v", e)
	}
	var meta map[string]string
	if err := json.Unmarshal(e.Metadata, &meta); err != nil || meta["query"] != "notify=1" {
		t.Fatalf("expected query metadata, got %s (%v)", e.Metadata, err)
	}
	if !e.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected timestamp %s", e.CreatedAt)
	}
}

func TestServiceRecordDisabledAndUnknownActor(t *testing.T) {
	store := &memStore{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/products", nil)

	if err := (Service{Store: store}).Record(context.Background(), Actor{}, "", "", "", req, 201, nil); err != nil {
		t.Fatalf("disabled record: %v", err)
	}
	if len(store.entries) != 0 {
		t.Fatal("disabled service must not write")
	}

	svc := Service{Store: store, Enabled: true}
	if err := svc.Record(context.Background(), Actor{Kind: "root"}, "product.create", "", "", req, 201, []byte(`{"name":"Lemon pie"}`)); err != nil {
		t.Fatalf("record: %v", err)
	}
	e := store.entries[0]
	if e.ActorKind != ActorKindAnonymous || e.Action != "product.create" || e.ResourceType != "unknown" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if string(e.Metadata) != `{"name":"Lemon pie"}` {
		t.Fatalf("unexpected metadata %s", e.Metadata)
	}
	if err := (Service{Enabled: true}).Record(context.Background(), Actor{}, "", "", "", req, 0, nil); err == nil {
		t.Fatal("expected missing store error")
	}
}

func TestMiddlewareRecordsAdminMutation(t *testing.T) {
	store := &memStore{}
	var reported error
	rec := HTTPRecorder{Service: &Service{Store: store, Enabled: true}, OnError: func(err error) { reported = err }}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(common.WithAdmin(req.Context(), "owner@gossipcake.com")))
		})
	})
	r.With(rec.Middleware(HTTPConfig{
		Action:          "product.delete",
		ResourceType:    "product",
		ResourceIDParam: "id",
		MetadataFunc: func(_ *http.Request, status int) map[string]any {
			return map[string]any{"status": status}
		},
	})).Delete("/api/v1/admin/products/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/admin/products/p-1", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	e := store.entries[0]
	if e.ResourceID != "p-1" || e.Status != http.StatusNoContent || e.Actor != "owner@gossipcake.com" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if string(e.Metadata) != `{"status":204}` {
		t.Fatalf("unexpected metadata %s", e.Metadata)
	}

	store.err = errors.New("db down")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/admin/products/p-2", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("audit failure must not change the response, got %d", rr.Code)
	}
	if reported == nil {
		t.Fatal("expected store error to be reported")
	}
}

func TestHandlerList(t *testing.T) {
	store := &memStore{}
	for i := 0; i < 3; i++ {
		_ = store.Insert(context.Background(), Entry{Action: "product.create"})
	}
	rr := httptest.NewRecorder()
	Handler{Store: store}.List(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit?limit=2&offset=1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Data  []Entry `json:"data"`
		Limit int     `json:"limit"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 2 || body.Data[0].ID != 2 || body.Limit != 2 {
		t.Fatalf("unexpected page %+v", body)
	}

	rr = httptest.NewRecorder()
	Handler{}.List(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without store, got %d", rr.Code)
	}
}
