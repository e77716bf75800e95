package announcements

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mealtrack/core"
	"mealtrack/handlers/auth"
	"mealtrack/middleware"
	"mealtrack/notify"
	"mealtrack/stores"
	"mealtrack/stores/memory"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

func withClaims(claims *auth.AppClaims) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func leadClaims(id string) *auth.AppClaims {
	return &auth.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: id},
		Name:             id,
		Role:             core.RoleTeamLead,
		Team:             "Engineering",
	}
}

func router(store stores.Store, hub *notify.Hub, claims *auth.AppClaims) *chi.Mux {
	r := chi.NewRouter()
	r.Use(withClaims(claims))
	r.Post("/draft", HandleCreateDraft(store))
	r.Get("/drafts", HandleListDrafts(store))
	r.Post("/{id}/publish", HandlePublish(store, hub))
	return r
}

func postJSON(t *testing.T, r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestDraftAndPublish(t *testing.T) {
	var store stores.Store = memory.NewStore()
	hub := notify.NewHub()
	r := router(store, hub, leadClaims("tl1"))
	handle := hub.Register(notify.ChannelAnnouncement)

	rec := postJSON(t, r, "/draft", map[string]string{"title": "Iftar", "body": "Iftar is on today"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("draft status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var draft core.Announcement
	if err := json.Unmarshal(rec.Body.Bytes(), &draft); err != nil {
		t.Fatal(err)
	}
	if draft.Status != core.AnnouncementDraft {
		t.Fatalf("status = %s", draft.Status)
	}

	// Drafts do not broadcast.
	select {
	case <-handle.Signal():
		t.Error("draft must not notify")
	default:
	}

	rec = postJSON(t, r, "/"+draft.ID+"/publish", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sent core.Announcement
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Status != core.AnnouncementSent {
		t.Fatalf("status = %s, want sent", sent.Status)
	}

	select {
	case <-handle.Signal():
	default:
		t.Fatal("publish must notify the announcement channel")
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(hub.LatestAnnouncement(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["title"] != "Iftar" {
		t.Errorf("payload title = %v", payload["title"])
	}

	// Republishing a sent announcement conflicts and does not notify again.
	rec = postJSON(t, r, "/"+draft.ID+"/publish", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("republish status = %d, want 409", rec.Code)
	}
	select {
	case <-handle.Signal():
		t.Error("republish must not notify")
	default:
	}
}

func TestPublishScheduledDoesNotBroadcast(t *testing.T) {
	var store stores.Store = memory.NewStore()
	hub := notify.NewHub()
	r := router(store, hub, leadClaims("tl1"))
	handle := hub.Register(notify.ChannelAnnouncement)

	rec := postJSON(t, r, "/draft", map[string]string{"title": "Later", "body": "Event dinner next week"})
	var draft core.Announcement
	if err := json.Unmarshal(rec.Body.Bytes(), &draft); err != nil {
		t.Fatal(err)
	}

	future := time.Now().UTC().Add(2 * time.Hour)
	rec = postJSON(t, r, "/"+draft.ID+"/publish", map[string]interface{}{"scheduled_at": future})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var scheduled core.Announcement
	if err := json.Unmarshal(rec.Body.Bytes(), &scheduled); err != nil {
		t.Fatal(err)
	}
	if scheduled.Status != core.AnnouncementScheduled {
		t.Fatalf("status = %s, want scheduled", scheduled.Status)
	}
	select {
	case <-handle.Signal():
		t.Error("scheduled publish must not broadcast")
	default:
	}
}

func TestPublishOwnership(t *testing.T) {
	var store stores.Store = memory.NewStore()
	hub := notify.NewHub()

	owner := router(store, hub, leadClaims("tl1"))
	rec := postJSON(t, owner, "/draft", map[string]string{"title": "Mine", "body": "Mine"})
	var draft core.Announcement
	if err := json.Unmarshal(rec.Body.Bytes(), &draft); err != nil {
		t.Fatal(err)
	}

	other := router(store, hub, leadClaims("tl2"))
	rec = postJSON(t, other, "/"+draft.ID+"/publish", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	admin := router(store, hub, &auth.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin1"},
		Name:             "admin1",
		Role:             core.RoleAdmin,
	})
	rec = postJSON(t, admin, "/"+draft.ID+"/publish", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin publish status = %d", rec.Code)
	}
}

func TestListDraftsFilters(t *testing.T) {
	var store stores.Store = memory.NewStore()
	hub := notify.NewHub()
	r := router(store, hub, leadClaims("tl1"))

	postJSON(t, r, "/draft", map[string]string{"title": "A", "body": "A"})
	rec := postJSON(t, r, "/draft", map[string]string{"title": "B", "body": "B"})
	var b core.Announcement
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	postJSON(t, r, "/"+b.ID+"/publish", nil)

	get := func(query string) []core.Announcement {
		req := httptest.NewRequest(http.MethodGet, "/drafts"+query, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("list status = %d", rec.Code)
		}
		var resp struct {
			Announcements []core.Announcement `json:"announcements"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		return resp.Announcements
	}

	if got := get(""); len(got) != 2 {
		t.Errorf("all = %d, want 2", len(got))
	}
	if got := get("?status=sent"); len(got) != 1 || got[0].Title != "B" {
		t.Errorf("sent filter = %d", len(got))
	}
	// An unknown status falls back to no filter.
	if got := get("?status=bogus"); len(got) != 2 {
		t.Errorf("bogus filter = %d, want 2", len(got))
	}
}
