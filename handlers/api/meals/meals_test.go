package meals

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

func claimsFor(user *core.User) *auth.AppClaims {
	return &auth.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
		Name:             user.Name,
		Role:             user.Role,
		Team:             user.Team,
	}
}

// withClaims injects parsed claims the way the JWT middleware would.
func withClaims(claims *auth.AppClaims) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type fixture struct {
	store    stores.Store
	hub      *notify.Hub
	employee *core.User
	lead     *core.User
	admin    *core.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var store stores.Store = memory.NewStore()
	f := &fixture{store: store, hub: notify.NewHub()}

	seed := func(id, team string, role core.Role) *core.User {
		u := &core.User{ID: id, Name: id, Email: id + "@example.com", Role: role, Team: team, IsActive: true, CreatedAt: time.Now().UTC()}
		if err := store.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("CreateUser %s: %v", id, err)
		}
		return u
	}
	f.employee = seed("emp1", "Engineering", core.RoleEmployee)
	f.lead = seed("lead1", "Engineering", core.RoleTeamLead)
	f.admin = seed("admin1", "Ops", core.RoleAdmin)
	return f
}

func (f *fixture) putParticipation(t *testing.T, actor *core.User, userID, date, mealType string, participating bool) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Use(withClaims(claimsFor(actor)))
	r.Put("/{user_id}/{date}/{meal_type}", HandleUpdateParticipation(f.store, f.hub))

	body, _ := json.Marshal(map[string]interface{}{"is_participating": participating})
	req := httptest.NewRequest(http.MethodPut, "/"+userID+"/"+date+"/"+mealType, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestUpdateParticipationHappyPath(t *testing.T) {
	t.Setenv("CUTOFF_HOUR", "23")
	f := newFixture(t)
	handle := f.hub.Register(notify.ChannelHeadcount)

	date := time.Now().AddDate(0, 0, 1).Format(core.DateLayout)
	rec := f.putParticipation(t, f.employee, f.employee.ID, date, "lunch", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp participationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IsParticipating {
		t.Error("expected opt-out")
	}
	if resp.UpdatedBy != f.employee.ID {
		t.Errorf("updated_by = %s", resp.UpdatedBy)
	}

	select {
	case <-handle.Signal():
	default:
		t.Error("headcount channel not notified")
	}
}

func TestUpdateParticipationPermission(t *testing.T) {
	f := newFixture(t)
	other := &core.User{ID: "emp2", Name: "emp2", Email: "emp2@example.com", Role: core.RoleEmployee, Team: "Ops", IsActive: true}
	if err := f.store.CreateUser(context.Background(), other); err != nil {
		t.Fatal(err)
	}

	date := time.Now().AddDate(0, 0, 1).Format(core.DateLayout)
	rec := f.putParticipation(t, f.employee, other.ID, date, "lunch", false)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	// Team leads and admins can act for others.
	rec = f.putParticipation(t, f.lead, f.employee.ID, date, "lunch", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("lead update status = %d", rec.Code)
	}
}

func TestCutoffBlocksEmployeeToday(t *testing.T) {
	// Hour zero means the cutoff has always passed.
	t.Setenv("CUTOFF_HOUR", "0")
	f := newFixture(t)
	handle := f.hub.Register(notify.ChannelHeadcount)

	today := core.Today()
	rec := f.putParticipation(t, f.employee, f.employee.ID, today, "lunch", false)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if errorBody(t, rec) != cutoffMessage {
		t.Errorf("unexpected message: %s", errorBody(t, rec))
	}
	select {
	case <-handle.Signal():
		t.Error("blocked write must not notify")
	default:
	}

	// Future dates are exempt from the cutoff.
	tomorrow := time.Now().AddDate(0, 0, 1).Format(core.DateLayout)
	rec = f.putParticipation(t, f.employee, f.employee.ID, tomorrow, "lunch", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("tomorrow status = %d", rec.Code)
	}

	// Admins are exempt even for today.
	rec = f.putParticipation(t, f.admin, f.employee.ID, today, "lunch", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d", rec.Code)
	}
}

func TestSpecialDayBlocksWrites(t *testing.T) {
	t.Setenv("CUTOFF_HOUR", "23")
	f := newFixture(t)
	ctx := context.Background()

	date := time.Now().AddDate(0, 0, 1).Format(core.DateLayout)
	err := f.store.CreateSpecialDay(ctx, &core.SpecialDay{ID: "sd1", Date: date, DayType: core.DayGovernmentHoliday, Note: "Independence Day"})
	if err != nil {
		t.Fatal(err)
	}

	rec := f.putParticipation(t, f.employee, f.employee.ID, date, "lunch", false)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	want := "Meal participation is not available: Government Holiday — Independence Day"
	if errorBody(t, rec) != want {
		t.Errorf("message = %q", errorBody(t, rec))
	}

	// Even admins cannot write on a blocked date.
	rec = f.putParticipation(t, f.admin, f.employee.ID, date, "lunch", false)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin status = %d, want 403", rec.Code)
	}

	// No records were created as a side effect of the rejected writes.
	all, err := f.store.ListParticipation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("blocked writes left %d participation records", len(all))
	}

	// Special events do not block.
	eventDate := time.Now().AddDate(0, 0, 2).Format(core.DateLayout)
	if err := f.store.CreateSpecialDay(ctx, &core.SpecialDay{ID: "sd2", Date: eventDate, DayType: core.DaySpecialEvent, Note: "Iftar party"}); err != nil {
		t.Fatal(err)
	}
	rec = f.putParticipation(t, f.employee, f.employee.ID, eventDate, "lunch", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("special event status = %d", rec.Code)
	}
}

func TestDisabledMealRejected(t *testing.T) {
	t.Setenv("CUTOFF_HOUR", "23")
	f := newFixture(t)

	date := time.Now().AddDate(0, 0, 1).Format(core.DateLayout)
	rec := f.putParticipation(t, f.employee, f.employee.ID, date, "iftar", true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	if _, err := f.store.SetMealEnabled(context.Background(), core.MealIftar, true); err != nil {
		t.Fatal(err)
	}
	rec = f.putParticipation(t, f.employee, f.employee.ID, date, "iftar", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("enabled iftar status = %d", rec.Code)
	}

	rec = f.putParticipation(t, f.employee, f.employee.ID, date, "brunch", true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown meal status = %d, want 400", rec.Code)
	}
}

func TestAdminOverrideTeamRestriction(t *testing.T) {
	t.Setenv("CUTOFF_HOUR", "23")
	f := newFixture(t)
	opsUser := &core.User{ID: "ops1", Name: "ops1", Email: "ops1@example.com", Role: core.RoleEmployee, Team: "Ops", IsActive: true}
	if err := f.store.CreateUser(context.Background(), opsUser); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Use(withClaims(claimsFor(f.lead)))
	r.Post("/admin", HandleAdminOverride(f.store, f.hub))

	body, _ := json.Marshal(map[string]interface{}{"user_id": opsUser.ID, "meal_type": "lunch", "is_participating": false})
	req := httptest.NewRequest(http.MethodPost, "/admin", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-team status = %d, want 403", rec.Code)
	}

	body, _ = json.Marshal(map[string]interface{}{"user_id": f.employee.ID, "meal_type": "lunch", "is_participating": false})
	req = httptest.NewRequest(http.MethodPost, "/admin", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("same-team status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestBatchOverride(t *testing.T) {
	t.Setenv("CUTOFF_HOUR", "23")
	f := newFixture(t)
	handle := f.hub.Register(notify.ChannelHeadcount)

	r := chi.NewRouter()
	r.Use(withClaims(claimsFor(f.admin)))
	r.Post("/admin/batch", HandleBatchOverride(f.store, f.hub))

	body, _ := json.Marshal(map[string]interface{}{
		"updates": []map[string]interface{}{
			{"user_id": f.employee.ID, "meal_type": "lunch", "is_participating": false},
			{"user_id": "ghost", "meal_type": "lunch", "is_participating": false},
			{"user_id": f.lead.ID, "meal_type": "iftar", "is_participating": true},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp batchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || resp.Succeeded != 1 || resp.Failed != 2 {
		t.Fatalf("total=%d succeeded=%d failed=%d", resp.Total, resp.Succeeded, resp.Failed)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d", len(resp.Results))
	}
	if !resp.Results[0].Success || resp.Results[1].Success || resp.Results[2].Success {
		t.Errorf("unexpected per-item outcomes: %+v", resp.Results)
	}

	// One notify for the whole batch.
	select {
	case <-handle.Signal():
	default:
		t.Error("expected a headcount notify")
	}
	select {
	case <-handle.Signal():
		t.Error("expected at most one pending signal")
	default:
	}
}

func TestBatchOverrideBlockedDate(t *testing.T) {
	t.Setenv("CUTOFF_HOUR", "23")
	f := newFixture(t)
	handle := f.hub.Register(notify.ChannelHeadcount)

	if err := f.store.CreateSpecialDay(context.Background(), &core.SpecialDay{ID: "sd1", Date: core.Today(), DayType: core.DayOfficeClosed}); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Use(withClaims(claimsFor(f.admin)))
	r.Post("/admin/batch", HandleBatchOverride(f.store, f.hub))

	body, _ := json.Marshal(map[string]interface{}{
		"updates": []map[string]interface{}{
			{"user_id": f.employee.ID, "meal_type": "lunch", "is_participating": false},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	select {
	case <-handle.Signal():
		t.Error("blocked batch must not notify")
	default:
	}
}

func TestHeadcountByDate(t *testing.T) {
	t.Setenv("CUTOFF_HOUR", "23")
	f := newFixture(t)
	ctx := context.Background()

	date := time.Now().AddDate(0, 0, 1).Format(core.DateLayout)
	// Seeding opts everyone into lunch; emp1 opts out.
	for _, u := range []*core.User{f.employee, f.lead, f.admin} {
		if _, err := f.store.UserParticipation(ctx, u.ID, date); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.store.UpdateParticipation(ctx, f.employee.ID, date, core.MealLunch, false, f.employee.ID, ""); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Use(withClaims(claimsFor(f.admin)))
	r.Get("/headcount/{date}", HandleHeadcountByDate(f.store))

	req := httptest.NewRequest(http.MethodGet, "/headcount/"+date, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp headcountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Headcount["lunch"] != 2 {
		t.Errorf("lunch = %d, want 2", resp.Headcount["lunch"])
	}
	if _, present := resp.Headcount["iftar"]; present {
		t.Error("disabled meal must not appear")
	}
	if resp.TotalEmployees != 3 {
		t.Errorf("total_employees = %d, want 3", resp.TotalEmployees)
	}
}

func TestUpdateConfigRejectsDefaultMeals(t *testing.T) {
	f := newFixture(t)

	r := chi.NewRouter()
	r.Use(withClaims(claimsFor(f.admin)))
	r.Put("/config", HandleUpdateConfig(f.store))

	body, _ := json.Marshal(map[string]interface{}{"meal_type": "lunch", "enabled": false})
	req := httptest.NewRequest(http.MethodPut, "/config", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	body, _ = json.Marshal(map[string]interface{}{"meal_type": "event_dinner", "enabled": true})
	req = httptest.NewRequest(http.MethodPut, "/config", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp configResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.EnabledMeals[core.MealEventDinner] {
		t.Error("event_dinner not enabled")
	}
}
