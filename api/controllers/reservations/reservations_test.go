package reservations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/stockhold-backend/api/middleware"
	internalreservations "github.com/angelmondragon/stockhold-backend/internal/reservations"
	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockhold-backend/pkg/errors"
	"github.com/angelmondragon/stockhold-backend/pkg/pagination"
)

type fakeService struct {
	created     *internalreservations.CreateInput
	createErr   error
	reservation *models.Reservation
	getErr      error
	cancelCalls []cancelCall
	approved    *string
	rejectErr   error
	listFilter  *internalreservations.ListFilter
	listParams  pagination.Params
	userListFor uuid.UUID
}

type cancelCall struct {
	id     uuid.UUID
	actor  uuid.UUID
	forced bool
}

func (f *fakeService) Create(ctx context.Context, input internalreservations.CreateInput) (*models.Reservation, error) {
	f.created = &input
	if f.createErr != nil {
		return nil, f.createErr
	}
	res := &models.Reservation{
		ID:           uuid.New(),
		UserID:       input.UserID,
		ContactEmail: input.ContactEmail,
		State:        enums.ReservationStatePending,
		ExpiresAt:    time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
	}
	for i, item := range input.Items {
		res.Items = append(res.Items, models.ReservationItem{
			Position:    i,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
		})
	}
	return res, nil
}

func (f *fakeService) Approve(ctx context.Context, id, adminID uuid.UUID, adminNotes *string) (*models.Reservation, error) {
	f.approved = adminNotes
	res := *f.reservation
	res.State = enums.ReservationStateApproved
	res.DecidedBy = &adminID
	res.AdminNotes = adminNotes
	return &res, nil
}

func (f *fakeService) Reject(ctx context.Context, id, adminID uuid.UUID, adminNotes *string) (*models.Reservation, error) {
	if f.rejectErr != nil {
		return nil, f.rejectErr
	}
	res := *f.reservation
	res.State = enums.ReservationStateRejected
	return &res, nil
}

func (f *fakeService) Cancel(ctx context.Context, id, actorID uuid.UUID, forced bool) (*models.Reservation, error) {
	f.cancelCalls = append(f.cancelCalls, cancelCall{id: id, actor: actorID, forced: forced})
	res := *f.reservation
	res.State = enums.ReservationStateCancelled
	return &res, nil
}

func (f *fakeService) ExpireBatch(ctx context.Context) (internalreservations.ExpireResult, error) {
	return internalreservations.ExpireResult{}, nil
}

func (f *fakeService) Get(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.reservation, nil
}

func (f *fakeService) ListByUser(ctx context.Context, userID uuid.UUID, state *enums.ReservationState, params pagination.Params) (*internalreservations.ReservationList, error) {
	f.userListFor = userID
	return f.List(ctx, internalreservations.ListFilter{State: state, UserID: &userID}, params)
}

func (f *fakeService) List(ctx context.Context, filter internalreservations.ListFilter, params pagination.Params) (*internalreservations.ReservationList, error) {
	f.listFilter = &filter
	f.listParams = params
	list := &internalreservations.ReservationList{Cursor: "next"}
	if f.reservation != nil {
		list.Items = []models.Reservation{*f.reservation}
	}
	return list, nil
}

func (f *fakeService) EnqueueExpiredNotices(ctx context.Context, since time.Time) (internalreservations.NoticeResult, error) {
	return internalreservations.NoticeResult{}, nil
}

func (f *fakeService) EnqueueExpiringSoonNotices(ctx context.Context, windowStart, windowEnd time.Time) (internalreservations.NoticeResult, error) {
	return internalreservations.NoticeResult{}, nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newRequest(method, target, body string, userID uuid.UUID, role enums.ActorRole, params map[string]string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	ctx := middleware.WithUserID(req.Context(), userID.String())
	ctx = middleware.WithRole(ctx, string(role))
	ctx = middleware.WithEmail(ctx, "token@example.com")
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rc)
	return req.WithContext(ctx)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return env
}

func sampleReservation(owner uuid.UUID) *models.Reservation {
	return &models.Reservation{
		ID:        uuid.New(),
		UserID:    owner,
		State:     enums.ReservationStatePending,
		ExpiresAt: time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
		Items: []models.ReservationItem{
			{Position: 0, VariantID: "sku-1", Quantity: 2, ProductName: "Widget", UnitPrice: decimal.RequireFromString("12.50")},
			{Position: 1, VariantID: "sku-2", Quantity: 1, ProductName: "Gadget", UnitPrice: decimal.RequireFromString("3.00")},
		},
	}
}

func TestCreateBuildsInputFromBodyAndToken(t *testing.T) {
	svc := &fakeService{}
	userID := uuid.New()
	body := `{"notes":"  pick up friday ","items":[{"variant_id":"sku-1","quantity":2,"product_name":"Widget","unit_price":"12.50"},{"variant_id":"sku-2","quantity":1,"product_name":"Gadget","unit_price":"3"}]}`
	rec := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/reservations", body, userID, enums.ActorRoleClient, nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.created == nil {
		t.Fatal("expected service to be called")
	}
	if svc.created.UserID != userID {
		t.Fatalf("expected user %s got %s", userID, svc.created.UserID)
	}
	if svc.created.ContactEmail != "token@example.com" {
		t.Fatalf("expected token email fallback got %q", svc.created.ContactEmail)
	}
	if svc.created.Notes == nil || *svc.created.Notes != "pick up friday" {
		t.Fatalf("expected trimmed notes got %v", svc.created.Notes)
	}
	if len(svc.created.Items) != 2 || !svc.created.Items[0].UnitPrice.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unexpected items %+v", svc.created.Items)
	}

	var view reservationView
	if err := json.Unmarshal(decode(t, rec).Data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.State != enums.ReservationStatePending {
		t.Fatalf("expected pending got %s", view.State)
	}
	if !view.Total.Equal(decimal.RequireFromString("28")) {
		t.Fatalf("expected total 28 got %s", view.Total)
	}
}

func TestCreateRejectsEmptyItemsBeforeService(t *testing.T) {
	svc := &fakeService{}
	rec := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/reservations", `{"items":[]}`, uuid.New(), enums.ActorRoleClient, nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.created != nil {
		t.Fatal("service should not be called for invalid body")
	}
}

func TestCreateSurfacesInsufficientStock(t *testing.T) {
	svc := &fakeService{createErr: pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for sku-1")}
	body := `{"items":[{"variant_id":"sku-1","quantity":5,"product_name":"Widget","unit_price":"1"}]}`
	rec := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/reservations", body, uuid.New(), enums.ActorRoleClient, nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if code := decode(t, rec).Error.Code; code != string(pkgerrors.CodeInsufficientStock) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestDetailEnforcesOwnership(t *testing.T) {
	owner := uuid.New()
	svc := &fakeService{reservation: sampleReservation(owner)}
	params := map[string]string{"reservationId": svc.reservation.ID.String()}

	rec := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/", "", uuid.New(), enums.ActorRoleClient, params))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/", "", owner, enums.ActorRoleClient, params))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/", "", uuid.New(), enums.ActorRoleAdmin, params))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d", rec.Code)
	}
}

func TestDetailRejectsMalformedID(t *testing.T) {
	svc := &fakeService{reservation: sampleReservation(uuid.New())}
	rec := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/", "", uuid.New(), enums.ActorRoleClient, map[string]string{"reservationId": "nope"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestDetailNotFound(t *testing.T) {
	svc := &fakeService{getErr: pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")}
	rec := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/", "", uuid.New(), enums.ActorRoleClient, map[string]string{"reservationId": uuid.NewString()}))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestClientCancelIsNeverForced(t *testing.T) {
	owner := uuid.New()
	svc := &fakeService{reservation: sampleReservation(owner)}
	rec := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", "", owner, enums.ActorRoleAdmin, map[string]string{"reservationId": svc.reservation.ID.String()}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if len(svc.cancelCalls) != 1 || svc.cancelCalls[0].forced || svc.cancelCalls[0].actor != owner {
		t.Fatalf("unexpected cancel calls %+v", svc.cancelCalls)
	}
}

func TestAdminCancelIsForced(t *testing.T) {
	admin := uuid.New()
	svc := &fakeService{reservation: sampleReservation(uuid.New())}
	rec := httptest.NewRecorder()
	AdminCancel(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", "", admin, enums.ActorRoleAdmin, map[string]string{"reservationId": svc.reservation.ID.String()}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if len(svc.cancelCalls) != 1 || !svc.cancelCalls[0].forced || svc.cancelCalls[0].actor != admin {
		t.Fatalf("unexpected cancel calls %+v", svc.cancelCalls)
	}
}

func TestAdminApprovePassesNotes(t *testing.T) {
	svc := &fakeService{reservation: sampleReservation(uuid.New())}
	rec := httptest.NewRecorder()
	req := newRequest(http.MethodPost, "/", `{"admin_notes":"ready at counter 3"}`, uuid.New(), enums.ActorRoleAdmin, map[string]string{"reservationId": svc.reservation.ID.String()})
	AdminApprove(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.approved == nil || *svc.approved != "ready at counter 3" {
		t.Fatalf("expected notes forwarded, got %v", svc.approved)
	}
}

func TestAdminApproveAcceptsEmptyBody(t *testing.T) {
	svc := &fakeService{reservation: sampleReservation(uuid.New())}
	rec := httptest.NewRecorder()
	AdminApprove(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", "", uuid.New(), enums.ActorRoleAdmin, map[string]string{"reservationId": svc.reservation.ID.String()}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.approved != nil {
		t.Fatalf("expected nil notes got %q", *svc.approved)
	}
}

func TestAdminRejectSurfacesInvalidTransition(t *testing.T) {
	svc := &fakeService{
		reservation: sampleReservation(uuid.New()),
		rejectErr:   pkgerrors.New(pkgerrors.CodeInvalidTransition, "cannot move reservation from approved to rejected"),
	}
	rec := httptest.NewRecorder()
	AdminReject(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", "", uuid.New(), enums.ActorRoleAdmin, map[string]string{"reservationId": svc.reservation.ID.String()}))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if code := decode(t, rec).Error.Code; code != string(pkgerrors.CodeInvalidTransition) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestListMineScopesToCaller(t *testing.T) {
	userID := uuid.New()
	svc := &fakeService{reservation: sampleReservation(userID)}
	rec := httptest.NewRecorder()
	ListMine(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/reservations?state=pending&limit=5&cursor=abc", "", userID, enums.ActorRoleClient, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.userListFor != userID {
		t.Fatalf("expected list for %s got %s", userID, svc.userListFor)
	}
	if svc.listFilter.State == nil || *svc.listFilter.State != enums.ReservationStatePending {
		t.Fatalf("expected pending filter got %v", svc.listFilter.State)
	}
	if svc.listParams.Limit != 5 || svc.listParams.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", svc.listParams)
	}

	var view listView
	if err := json.Unmarshal(decode(t, rec).Data, &view); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(view.Items) != 1 || view.Cursor != "next" {
		t.Fatalf("unexpected list %+v", view)
	}
}

func TestListMineRejectsUnknownState(t *testing.T) {
	svc := &fakeService{}
	rec := httptest.NewRecorder()
	ListMine(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/reservations?state=archived", "", uuid.New(), enums.ActorRoleClient, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestAdminListParsesUserFilter(t *testing.T) {
	target := uuid.New()
	svc := &fakeService{}
	rec := httptest.NewRecorder()
	AdminList(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/admin/v1/reservations?user_id="+target.String(), "", uuid.New(), enums.ActorRoleAdmin, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.listFilter == nil || svc.listFilter.UserID == nil || *svc.listFilter.UserID != target {
		t.Fatalf("expected user filter %s got %+v", target, svc.listFilter)
	}
}
