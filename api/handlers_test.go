/*
handlers_test.go - End-to-end tests for the REST API

Exercises the full stack over httptest: router, handlers, domain services,
and the in-memory store.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andesfin/obligation-engine/api"
	"github.com/andesfin/obligation-engine/billing"
	"github.com/andesfin/obligation-engine/store/memory"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

func newTestRouter(rate int64) http.Handler {
	store := memory.New()
	rates := billing.StaticRateSource{Rate: decimal.NewFromInt(rate)}
	return api.NewRouter(api.NewHandler(store, rates))
}

// do performs a request against the router and decodes the JSON response
// into out when given.
func do(t *testing.T, router http.Handler, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out),
			"undecodable response for %s %s: %s", method, path, rec.Body.String())
	}
	return rec
}

func monthlyServiceRequest() api.CreateServiceRequest {
	return api.CreateServiceRequest{
		Name:           "Office rent",
		Category:       "Housing",
		RecurrenceType: "RECURRING",
		Frequency:      "MONTHLY",
		StartDate:      "2024-01-10",
		DueDay:         15,
		Emission:       api.EmissionDTO{Mode: "FIXED_DAY", Day: 5},
		DefaultAmount:  "85000",
		LateFee:        &api.LateFeeDTO{Mode: "FIXED", Value: "5000", GraceDays: 3},
	}
}

func createService(t *testing.T, router http.Handler, req api.CreateServiceRequest) api.ServiceDTO {
	t.Helper()
	var resp api.GenerateResponse
	rec := do(t, router, http.MethodPost, "/api/services", req, &resp)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return resp.Service
}

func generate(t *testing.T, router http.Handler, publicID string, req api.RegenerateRequest) api.GenerateResponse {
	t.Helper()
	var resp api.GenerateResponse
	rec := do(t, router, http.MethodPost, "/api/services/"+publicID+"/schedules", req, &resp)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return resp
}

// =============================================================================
// SERVICE + SCHEDULE FLOW
// =============================================================================

func TestCreateServiceReturnsInitialSchedule(t *testing.T) {
	router := newTestRouter(37000)

	req := monthlyServiceRequest()
	req.Months = 3
	var resp api.GenerateResponse
	rec := do(t, router, http.MethodPost, "/api/services", req, &resp)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.NotEmpty(t, resp.Service.ID)
	assert.Equal(t, "ACTIVE", resp.Service.Status)
	require.NotNil(t, resp.Service.Counts)
	assert.Equal(t, 3, resp.Service.Counts.Pending)
	require.Len(t, resp.Entries, 3)
	assert.Equal(t, "2024-01-15", resp.Entries[0].DueDate)
}

func TestCreateAndGenerateSchedule(t *testing.T) {
	router := newTestRouter(37000)

	svc := createService(t, router, monthlyServiceRequest())
	assert.NotEmpty(t, svc.ID)
	assert.Equal(t, "ACTIVE", svc.Status)

	resp := generate(t, router, svc.ID, api.RegenerateRequest{Months: 3})
	require.Len(t, resp.Entries, 3)
	assert.Equal(t, "2024-01-15", resp.Entries[0].DueDate)
	assert.Equal(t, "2024-02-15", resp.Entries[1].DueDate)
	assert.Equal(t, "2024-03-15", resp.Entries[2].DueDate)
	assert.Equal(t, "2024-01-05", resp.Entries[0].EmissionDate)
	for _, e := range resp.Entries {
		assert.Equal(t, "PENDING", e.Status)
		assert.Equal(t, "85000", e.ExpectedAmount)
	}

	// Service detail carries derived counts and status.
	var detail api.ServiceDTO
	rec := do(t, router, http.MethodGet, "/api/services/"+svc.ID, nil, &detail)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ACTIVE", detail.Status)
	require.NotNil(t, detail.Counts)
	assert.Equal(t, 3, detail.Counts.Pending)
	assert.Equal(t, 3, detail.Counts.Overdue)
}

func TestListSchedulesDerivesLateFees(t *testing.T) {
	router := newTestRouter(37000)

	svc := createService(t, router, monthlyServiceRequest())
	generate(t, router, svc.ID, api.RegenerateRequest{Months: 1})

	var entries []api.ScheduleEntryDTO
	rec := do(t, router, http.MethodGet, "/api/services/"+svc.ID+"/schedules", nil, &entries)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, entries, 1)

	// Due 2024-01-15, far past grace by now: the flat fee applies once.
	assert.Greater(t, entries[0].OverdueDays, 3)
	assert.Equal(t, "5000", entries[0].LateFeeAmount)
	assert.Equal(t, "90000", entries[0].EffectiveAmount)
}

func TestGenerateUnknownService(t *testing.T) {
	router := newTestRouter(37000)

	rec := do(t, router, http.MethodPost, "/api/services/no-such-id/schedules",
		api.RegenerateRequest{Months: 3}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateServiceValidation(t *testing.T) {
	router := newTestRouter(37000)

	req := monthlyServiceRequest()
	req.Frequency = "FORTNIGHTLY"
	rec := do(t, router, http.MethodPost, "/api/services", req, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = monthlyServiceRequest()
	req.Emission = api.EmissionDTO{Mode: "DATE_RANGE", StartDay: 20, EndDay: 5}
	rec = do(t, router, http.MethodPost, "/api/services", req, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUFServiceFailsClosedWithoutRate(t *testing.T) {
	router := newTestRouter(0)

	// Creation generates the initial schedule; with no UF rate available it
	// fails closed instead of writing unconverted entries.
	req := monthlyServiceRequest()
	req.DefaultAmount = "10.5"
	req.AmountIndexation = "UF"
	rec := do(t, router, http.MethodPost, "/api/services", req, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestArchiveService(t *testing.T) {
	router := newTestRouter(37000)

	svc := createService(t, router, monthlyServiceRequest())
	var archived api.ServiceDTO
	rec := do(t, router, http.MethodPost, "/api/services/"+svc.ID+"/archive", nil, &archived)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ARCHIVED", archived.Status)
}

// =============================================================================
// PAYMENT FLOW
// =============================================================================

func TestPayUnlinkFlow(t *testing.T) {
	router := newTestRouter(37000)

	svc := createService(t, router, monthlyServiceRequest())
	resp := generate(t, router, svc.ID, api.RegenerateRequest{Months: 1})
	entryPath := fmt.Sprintf("/api/services/schedules/%d", resp.Entries[0].ID)

	// Pay on the due date: no fee, full amount settles the entry.
	var paid api.ScheduleEntryDTO
	rec := do(t, router, http.MethodPost, entryPath+"/pay", api.PayRequest{
		TransactionID: "tx-1",
		Amount:        "85000",
		PaidDate:      "2024-01-15",
	}, &paid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PAID", paid.Status)
	assert.Equal(t, "tx-1", paid.TransactionID)
	assert.Equal(t, "85000", paid.PaidAmount)

	// Double pay conflicts.
	rec = do(t, router, http.MethodPost, entryPath+"/pay", api.PayRequest{
		TransactionID: "tx-2",
		Amount:        "85000",
		PaidDate:      "2024-01-16",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unlink reopens the entry.
	var reopened api.ScheduleEntryDTO
	rec = do(t, router, http.MethodPost, entryPath+"/unlink", nil, &reopened)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PENDING", reopened.Status)
	assert.Empty(t, reopened.TransactionID)

	// Nothing left to unlink.
	rec = do(t, router, http.MethodPost, entryPath+"/unlink", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPartialPaymentUnderEffectiveAmount(t *testing.T) {
	router := newTestRouter(37000)

	svc := createService(t, router, monthlyServiceRequest())
	resp := generate(t, router, svc.ID, api.RegenerateRequest{Months: 1})
	entryPath := fmt.Sprintf("/api/services/schedules/%d", resp.Entries[0].ID)

	// Five days late: the effective amount is 90000, so 85000 is partial.
	var paid api.ScheduleEntryDTO
	rec := do(t, router, http.MethodPost, entryPath+"/pay", api.PayRequest{
		TransactionID: "tx-1",
		Amount:        "85000",
		PaidDate:      "2024-01-20",
	}, &paid)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PARTIAL", paid.Status)
}

func TestSkipEntry(t *testing.T) {
	router := newTestRouter(37000)

	svc := createService(t, router, monthlyServiceRequest())
	resp := generate(t, router, svc.ID, api.RegenerateRequest{Months: 1})
	entryPath := fmt.Sprintf("/api/services/schedules/%d", resp.Entries[0].ID)

	rec := do(t, router, http.MethodPost, entryPath+"/skip", api.SkipRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "skip requires a reason")

	var skipped api.ScheduleEntryDTO
	rec = do(t, router, http.MethodPost, entryPath+"/skip",
		api.SkipRequest{Reason: "billed on the annual invoice"}, &skipped)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SKIPPED", skipped.Status)

	// Terminal: cannot pay a skipped entry.
	rec = do(t, router, http.MethodPost, entryPath+"/pay", api.PayRequest{
		TransactionID: "tx-1", Amount: "85000", PaidDate: "2024-01-15",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEditEntry(t *testing.T) {
	router := newTestRouter(37000)

	svc := createService(t, router, monthlyServiceRequest())
	resp := generate(t, router, svc.ID, api.RegenerateRequest{Months: 1})
	entryPath := fmt.Sprintf("/api/services/schedules/%d", resp.Entries[0].ID)

	amount := "91250"
	var edited api.ScheduleEntryDTO
	rec := do(t, router, http.MethodPost, entryPath,
		api.EditEntryRequest{ExpectedAmount: &amount}, &edited)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "91250", edited.ExpectedAmount)
}

// =============================================================================
// MATCH SUGGESTIONS
// =============================================================================

func TestSuggestMatchesOverHTTP(t *testing.T) {
	router := newTestRouter(37000)

	svc := createService(t, router, monthlyServiceRequest())
	resp := generate(t, router, svc.ID, api.RegenerateRequest{Months: 1})

	rec := do(t, router, http.MethodPost, "/api/transactions/import", api.ImportTransactionsRequest{
		Transactions: []api.TransactionDTO{
			{ID: "tx-exact", Date: "2024-01-14", Amount: "85000"},
			{ID: "tx-close", Date: "2024-01-20", Amount: "85700"},
			{ID: "tx-far-amount", Date: "2024-01-15", Amount: "40000"},
			{ID: "tx-out-of-window", Date: "2023-10-01", Amount: "85000"},
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var suggestions []api.SuggestionDTO
	path := fmt.Sprintf("/api/services/schedules/%d/suggestions", resp.Entries[0].ID)
	rec = do(t, router, http.MethodGet, path, nil, &suggestions)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, suggestions, 2)
	assert.Equal(t, "tx-exact", suggestions[0].Transaction.ID)
	assert.Equal(t, "tx-close", suggestions[1].Transaction.ID)
	assert.Equal(t, "0", suggestions[0].AmountDelta)
}

func TestSuggestMatchesUnknownEntry(t *testing.T) {
	router := newTestRouter(37000)

	rec := do(t, router, http.MethodGet, "/api/services/schedules/999/suggestions", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportTransactionsValidation(t *testing.T) {
	router := newTestRouter(37000)

	rec := do(t, router, http.MethodPost, "/api/transactions/import", api.ImportTransactionsRequest{
		Transactions: []api.TransactionDTO{{ID: "", Date: "2024-01-14", Amount: "85000"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/transactions/import", api.ImportTransactionsRequest{
		Transactions: []api.TransactionDTO{{ID: "tx-1", Date: "14/01/2024", Amount: "85000"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// COUNTERPARTS
// =============================================================================

func TestAttachByRutOverHTTP(t *testing.T) {
	router := newTestRouter(37000)

	rec := do(t, router, http.MethodPost, "/api/transactions/import", api.ImportTransactionsRequest{
		Transactions: []api.TransactionDTO{
			{ID: "w-1", Date: "2024-01-10", Amount: "-120000", AccountNumber: "0001234 ", ObservedRut: "12.345.678-5"},
			{ID: "w-2", Date: "2024-02-10", Amount: "-120000", AccountNumber: "1234", ObservedRut: "12.345.678-5"},
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result api.AttachResultDTO
	rec = do(t, router, http.MethodPost, "/api/counterparts/attach-rut", api.AttachRutRequest{
		Rut:            "12.345.678-5",
		AccountNumbers: []string{"0001234 ", "1234"},
	}, &result)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.True(t, result.Created)
	assert.Equal(t, "123456785", result.Counterpart.Rut)
	assert.Equal(t, 1, result.Assigned, "both spellings normalize to one account")
	assert.Empty(t, result.Conflicts)

	// Assigned accounts no longer show as unassigned.
	var page api.PayoutPageDTO
	rec = do(t, router, http.MethodGet, "/api/counterparts/unassigned-payout", nil, &page)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, page.Total)
}

func TestAttachConflictSurfaced(t *testing.T) {
	router := newTestRouter(37000)

	rec := do(t, router, http.MethodPost, "/api/transactions/import", api.ImportTransactionsRequest{
		Transactions: []api.TransactionDTO{
			{ID: "w-1", Date: "2024-01-10", Amount: "-50000", AccountNumber: "777", ObservedRut: "11.111.111-1"},
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result api.AttachResultDTO
	rec = do(t, router, http.MethodPost, "/api/counterparts/attach-rut", api.AttachRutRequest{
		Rut:            "22.222.222-2",
		AccountNumbers: []string{"777"},
	}, &result)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 0, result.Assigned)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "777", result.Conflicts[0].AccountNumber)
	assert.Equal(t, "111111111", result.Conflicts[0].ObservedRut)
	assert.Equal(t, "222222222", result.Conflicts[0].AssignedRut)
}

func TestCounterpartSuggestionsRanking(t *testing.T) {
	router := newTestRouter(37000)

	rec := do(t, router, http.MethodPost, "/api/transactions/import", api.ImportTransactionsRequest{
		Transactions: []api.TransactionDTO{
			{ID: "a-1", Date: "2024-01-05", Amount: "-300000", AccountNumber: "100"},
			{ID: "b-1", Date: "2024-01-05", Amount: "-100000", AccountNumber: "200"},
			{ID: "b-2", Date: "2024-02-05", Amount: "-100000", AccountNumber: "200"},
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var records []api.PayoutAccountDTO
	rec = do(t, router, http.MethodGet, "/api/counterparts/suggestions", nil, &records)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, records, 2)
	assert.Equal(t, "100", records[0].AccountNumber, "highest gross total first")
	assert.Equal(t, "200", records[1].AccountNumber)
	assert.Equal(t, 2, records[1].MovementCount)
}

func TestCreateAndGetCounterpart(t *testing.T) {
	router := newTestRouter(37000)

	var created api.CounterpartDTO
	rec := do(t, router, http.MethodPost, "/api/counterparts", api.CreateCounterpartRequest{
		Rut:  "9.876.543-2",
		Name: "Electric utility",
	}, &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "98765432", created.Rut)

	rec = do(t, router, http.MethodGet, fmt.Sprintf("/api/counterparts/%d", created.ID), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/counterparts/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAttachToCounterpartRutMismatch(t *testing.T) {
	router := newTestRouter(37000)

	var created api.CounterpartDTO
	rec := do(t, router, http.MethodPost, "/api/counterparts", api.CreateCounterpartRequest{
		Rut:  "11.111.111-1",
		Name: "Landlord",
	}, &created)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, fmt.Sprintf("/api/counterparts/%d/attach-rut", created.ID),
		api.AttachRutRequest{Rut: "22.222.222-2"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
