package specialdays

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mealtrack/core"
	"mealtrack/handlers/auth"
	"mealtrack/middleware"
	"mealtrack/notify"
	"mealtrack/stores"
	"mealtrack/stores/memory"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

func adminRouter(store stores.Store, hub *notify.Hub) *chi.Mux {
	claims := &auth.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin1"},
		Name:             "admin1",
		Role:             core.RoleAdmin,
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), middleware.ClaimsContextKey, claims)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Post("/", HandleCreate(store, hub))
	r.Get("/", HandleGetByDate(store))
	r.Get("/range", HandleListRange(store))
	r.Delete("/{id}", HandleDelete(store, hub))
	return r
}

func TestCreateDuplicateAndDelete(t *testing.T) {
	var store stores.Store = memory.NewStore()
	hub := notify.NewHub()
	r := adminRouter(store, hub)
	handle := hub.Register(notify.ChannelHeadcount)

	body, _ := json.Marshal(map[string]string{"date": "2026-12-16", "day_type": "governmentholiday", "note": "Victory Day"})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created core.SpecialDay
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.CreatedBy != "admin1" {
		t.Errorf("created_by = %s", created.CreatedBy)
	}
	select {
	case <-handle.Signal():
	default:
		t.Error("create must notify headcount")
	}

	// Second special day on the same date conflicts.
	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/"+created.ID, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	select {
	case <-handle.Signal():
	default:
		t.Error("delete must notify headcount")
	}

	req = httptest.NewRequest(http.MethodDelete, "/"+created.ID, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestCreateValidation(t *testing.T) {
	var store stores.Store = memory.NewStore()
	r := adminRouter(store, notify.NewHub())

	cases := []map[string]string{
		{"date": "16-12-2026", "day_type": "officeclosed"},
		{"date": "2026-12-16", "day_type": "halfday"},
	}
	for _, c := range cases {
		body, _ := json.Marshal(c)
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%v: status = %d, want 400", c, rec.Code)
		}
	}
}

func TestGetByDateAndRange(t *testing.T) {
	var store stores.Store = memory.NewStore()
	r := adminRouter(store, notify.NewHub())

	for _, d := range []string{"2026-08-01", "2026-08-15", "2026-09-01"} {
		body, _ := json.Marshal(map[string]string{"date": d, "day_type": "specialevent"})
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %s: %d", d, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/?date=2026-08-15", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var resp struct {
		Date       string           `json:"date"`
		SpecialDay *core.SpecialDay `json:"special_day"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SpecialDay == nil || resp.SpecialDay.Date != "2026-08-15" {
		t.Fatalf("special_day = %+v", resp.SpecialDay)
	}

	// A date with no entry returns null rather than 404.
	req = httptest.NewRequest(http.MethodGet, "/?date=2026-08-02", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SpecialDay != nil {
		t.Errorf("expected null special_day, got %+v", resp.SpecialDay)
	}

	req = httptest.NewRequest(http.MethodGet, "/range?start=2026-08-01&end=2026-08-31", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var rangeResp struct {
		SpecialDays []core.SpecialDay `json:"special_days"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &rangeResp); err != nil {
		t.Fatal(err)
	}
	if len(rangeResp.SpecialDays) != 2 {
		t.Errorf("range = %d, want 2", len(rangeResp.SpecialDays))
	}
}
