/*
handlers.go - HTTP API handlers for the obligation scheduling engine

PURPOSE:
  Exposes the scheduling and reconciliation engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Services:
    GET    /api/services                        List services with counts
    POST   /api/services                        Create a service + initial schedule
    GET    /api/services/{publicId}             Get service details
    POST   /api/services/{publicId}/schedules   Generate/regenerate schedule
    GET    /api/services/{publicId}/schedules   List schedule entries
    POST   /api/services/{publicId}/archive     Archive a service

  Schedule entries:
    POST   /api/services/schedules/{id}              Edit pending entry
    POST   /api/services/schedules/{id}/pay          Register a payment
    POST   /api/services/schedules/{id}/unlink       Unlink a payment
    POST   /api/services/schedules/{id}/skip         Skip a period
    GET    /api/services/schedules/{id}/suggestions  Match suggestions

  Counterparts:
    GET    /api/counterparts                    List counterparts
    POST   /api/counterparts                    Create a counterpart
    GET    /api/counterparts/{id}               Get one (with accounts)
    PUT    /api/counterparts/{id}               Update fields
    POST   /api/counterparts/{id}/attach-rut    Attach RUT + accounts
    POST   /api/counterparts/attach-rut         Attach by RUT (find or create)
    GET    /api/counterparts/suggestions        Ranked unassigned accounts
    GET    /api/counterparts/unassigned-payout  Paged unassigned accounts

  Transactions:
    POST   /api/transactions/import             Upsert bank feed rows

ERROR HANDLING:
  Domain errors map to HTTP status via the schedule.Is* helpers:
  - 400: validation errors, malformed input
  - 404: unknown service / schedule entry / counterpart
  - 409: state conflicts (double-pay, unlink without payment, RUT mismatch)
  - 502: rate source or transaction feed unavailable
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/andesfin/obligation-engine/billing"
	"github.com/andesfin/obligation-engine/counterpart"
	"github.com/andesfin/obligation-engine/schedule"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Storage is everything the API needs from persistence.
type Storage interface {
	billing.Store
	billing.TransactionFeed
	counterpart.Store
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Storage
	Generator *billing.Generator
	Payments  *billing.Payments
	Matcher   *billing.Matcher
	Resolver  *counterpart.Resolver
}

// NewHandler wires the domain services over one storage backend. The keyed
// mutex is shared so generation and payment registration on the same service
// serialize against each other.
func NewHandler(store Storage, rates billing.RateSource) *Handler {
	locks := billing.NewKeyedMutex()
	return &Handler{
		Store:     store,
		Generator: billing.NewGenerator(store, rates, locks),
		Payments:  billing.NewPayments(store, locks),
		Matcher:   billing.NewMatcher(store, store, billing.DefaultMatchPolicy()),
		Resolver:  counterpart.NewResolver(store),
	}
}

// =============================================================================
// SERVICE HANDLERS
// =============================================================================

// ListServices returns all services with their schedule counts.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	services, err := h.Store.ListServices(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list services", err)
		return
	}

	asOf := schedule.Today()
	dtos := make([]ServiceDTO, 0, len(services))
	for i := range services {
		entries, err := h.Store.EntriesByService(ctx, services[i].ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list schedules", err)
			return
		}
		counts := billing.CountEntries(entries, asOf)
		dtos = append(dtos, toServiceDTO(&services[i], &counts))
	}

	writeJSON(w, http.StatusOK, dtos)
}

// GetService returns a single service with its schedule counts.
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc, err := h.Store.GetService(ctx, chi.URLParam(r, "publicId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get service", err)
		return
	}
	if svc == nil {
		writeError(w, http.StatusNotFound, "Service not found", nil)
		return
	}

	entries, err := h.Store.EntriesByService(ctx, svc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list schedules", err)
		return
	}
	counts := billing.CountEntries(entries, schedule.Today())

	writeJSON(w, http.StatusOK, toServiceDTO(svc, &counts))
}

// CreateService creates a new service and generates its initial schedule,
// returning both in one response.
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	svc, err := serviceFromRequest(&req)
	if err != nil {
		writeDomainError(w, "Invalid service", err)
		return
	}
	if err := svc.Validate(); err != nil {
		writeDomainError(w, "Invalid service", err)
		return
	}

	if err := h.Store.CreateService(r.Context(), svc); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create service", err)
		return
	}

	svc, entries, err := h.Generator.Generate(r.Context(), svc.PublicID, billing.GenerateInput{Months: req.Months})
	if err != nil {
		writeDomainError(w, "Failed to generate schedule", err)
		return
	}

	asOf := schedule.Today()
	counts := billing.CountEntries(entries, asOf)
	dtos := make([]ScheduleEntryDTO, len(entries))
	for i := range entries {
		dtos[i] = toEntryDTO(&entries[i], svc.LateFee, asOf)
	}

	writeJSON(w, http.StatusCreated, GenerateResponse{
		Service: toServiceDTO(svc, &counts),
		Entries: dtos,
	})
}

// ArchiveService marks a service archived. Its settled history stays.
func (h *Handler) ArchiveService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc, err := h.Store.GetService(ctx, chi.URLParam(r, "publicId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get service", err)
		return
	}
	if svc == nil {
		writeError(w, http.StatusNotFound, "Service not found", nil)
		return
	}

	svc.Archived = true
	if err := h.Store.UpdateService(ctx, svc); err != nil {
		writeDomainError(w, "Failed to archive service", err)
		return
	}

	writeJSON(w, http.StatusOK, toServiceDTO(svc, nil))
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// ListSchedules returns the service's entries with derived assessments.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc, err := h.Store.GetService(ctx, chi.URLParam(r, "publicId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get service", err)
		return
	}
	if svc == nil {
		writeError(w, http.StatusNotFound, "Service not found", nil)
		return
	}

	entries, err := h.Store.EntriesByService(ctx, svc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list schedules", err)
		return
	}

	asOf := schedule.Today()
	dtos := make([]ScheduleEntryDTO, len(entries))
	for i := range entries {
		dtos[i] = toEntryDTO(&entries[i], svc.LateFee, asOf)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// GenerateSchedules generates or regenerates the service's pending entries.
// Optional overrides in the body also update the service configuration.
func (h *Handler) GenerateSchedules(w http.ResponseWriter, r *http.Request) {
	var req RegenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in, err := generateInputFromRequest(&req)
	if err != nil {
		writeDomainError(w, "Invalid generation parameters", err)
		return
	}

	svc, entries, err := h.Generator.Generate(r.Context(), chi.URLParam(r, "publicId"), in)
	if err != nil {
		writeDomainError(w, "Failed to generate schedule", err)
		return
	}

	asOf := schedule.Today()
	dtos := make([]ScheduleEntryDTO, len(entries))
	for i := range entries {
		dtos[i] = toEntryDTO(&entries[i], svc.LateFee, asOf)
	}

	writeJSON(w, http.StatusCreated, GenerateResponse{
		Service: toServiceDTO(svc, nil),
		Entries: dtos,
	})
}

// PayEntry registers a payment against a schedule entry.
func (h *Handler) PayEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := parseEntryID(w, r)
	if !ok {
		return
	}

	var req PayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	var paidDate schedule.Date
	if req.PaidDate != "" {
		if paidDate, err = schedule.ParseDate(req.PaidDate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid paidDate format (use YYYY-MM-DD)", err)
			return
		}
	}

	entry, err := h.Payments.Register(r.Context(), entryID, req.TransactionID, amount, paidDate, req.Note)
	if err != nil {
		writeDomainError(w, "Failed to register payment", err)
		return
	}

	h.writeEntry(w, r, entry)
}

// UnlinkEntry removes a registered payment and returns the entry to PENDING.
func (h *Handler) UnlinkEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := parseEntryID(w, r)
	if !ok {
		return
	}

	entry, err := h.Payments.Unlink(r.Context(), entryID)
	if err != nil {
		writeDomainError(w, "Failed to unlink payment", err)
		return
	}

	h.writeEntry(w, r, entry)
}

// SkipEntry marks a pending entry as skipped. Terminal.
func (h *Handler) SkipEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := parseEntryID(w, r)
	if !ok {
		return
	}

	var req SkipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Payments.Skip(r.Context(), entryID, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to skip entry", err)
		return
	}

	h.writeEntry(w, r, entry)
}

// EditEntry updates the expected amount and/or note of a pending entry.
func (h *Handler) EditEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := parseEntryID(w, r)
	if !ok {
		return
	}

	var req EditEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var amount *decimal.Decimal
	if req.ExpectedAmount != nil {
		a, err := decimal.NewFromString(*req.ExpectedAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expectedAmount", err)
			return
		}
		amount = &a
	}

	entry, err := h.Payments.Edit(r.Context(), entryID, amount, req.Note)
	if err != nil {
		writeDomainError(w, "Failed to edit entry", err)
		return
	}

	h.writeEntry(w, r, entry)
}

// SuggestMatches returns candidate bank transactions for a schedule entry.
func (h *Handler) SuggestMatches(w http.ResponseWriter, r *http.Request) {
	entryID, ok := parseEntryID(w, r)
	if !ok {
		return
	}

	suggestions, err := h.Matcher.Suggest(r.Context(), entryID)
	if err != nil {
		writeDomainError(w, "Failed to suggest matches", err)
		return
	}

	dtos := make([]SuggestionDTO, len(suggestions))
	for i, s := range suggestions {
		dtos[i] = SuggestionDTO{
			Transaction: toTransactionDTO(&s.Transaction),
			AmountDelta: s.AmountDelta.String(),
		}
	}

	writeJSON(w, http.StatusOK, dtos)
}

// writeEntry responds with the entry assessed under its service's current
// fee policy.
func (h *Handler) writeEntry(w http.ResponseWriter, r *http.Request, entry *billing.ScheduleEntry) {
	svc, err := h.Store.GetServiceByID(r.Context(), entry.ServiceID)
	if err != nil || svc == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load service", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry, svc.LateFee, schedule.Today()))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ImportTransactions upserts bank feed rows. Idempotent by transaction id.
func (h *Handler) ImportTransactions(w http.ResponseWriter, r *http.Request) {
	var req ImportTransactionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	txs := make([]billing.Transaction, 0, len(req.Transactions))
	for _, t := range req.Transactions {
		if t.ID == "" {
			writeError(w, http.StatusBadRequest, "Transaction id is required", nil)
			return
		}
		date, err := schedule.ParseDate(t.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date on transaction %s", t.ID), err)
			return
		}
		amount, err := decimal.NewFromString(t.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid amount on transaction %s", t.ID), err)
			return
		}
		txs = append(txs, billing.Transaction{
			ID:            t.ID,
			Date:          date,
			Amount:        amount,
			Description:   t.Description,
			AccountNumber: t.AccountNumber,
			ObservedRUT:   t.ObservedRut,
		})
	}

	if err := h.Store.ImportTransactions(r.Context(), txs); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to import transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, ImportTransactionsResponse{Imported: len(txs)})
}

// =============================================================================
// COUNTERPART HANDLERS
// =============================================================================

// ListCounterparts returns all counterparts.
func (h *Handler) ListCounterparts(w http.ResponseWriter, r *http.Request) {
	cps, err := h.Store.ListCounterparts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list counterparts", err)
		return
	}

	dtos := make([]CounterpartDTO, len(cps))
	for i := range cps {
		dtos[i] = toCounterpartDTO(&cps[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCounterpart creates a counterpart, optionally with a RUT.
func (h *Handler) CreateCounterpart(w http.ResponseWriter, r *http.Request) {
	var req CreateCounterpartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	cp := &counterpart.Counterpart{
		IdentificationNumber: counterpart.NormalizeRUT(req.Rut),
		BankAccountHolder:    req.Name,
		Category:             req.Category,
		Notes:                req.Notes,
	}
	if err := h.Store.CreateCounterpart(r.Context(), cp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create counterpart", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCounterpartDTO(cp))
}

// GetCounterpart returns a counterpart with its assigned accounts.
func (h *Handler) GetCounterpart(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()

	cp, err := h.Store.GetCounterpart(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get counterpart", err)
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "Counterpart not found", nil)
		return
	}

	accounts, err := h.Store.AccountsByCounterpart(ctx, cp.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		CounterpartDTO
		Accounts []CounterpartAccountDTO `json:"accounts"`
	}{toCounterpartDTO(cp), toAccountDTOs(accounts)})
}

// UpdateCounterpart updates a counterpart's mutable fields.
func (h *Handler) UpdateCounterpart(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	var req CreateCounterpartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	cp, err := h.Store.GetCounterpart(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get counterpart", err)
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "Counterpart not found", nil)
		return
	}

	if req.Name != "" {
		cp.BankAccountHolder = req.Name
	}
	if req.Category != "" {
		cp.Category = req.Category
	}
	if req.Notes != "" {
		cp.Notes = req.Notes
	}
	if req.Rut != "" {
		cp.IdentificationNumber = counterpart.NormalizeRUT(req.Rut)
	}

	if err := h.Store.UpdateCounterpart(ctx, cp); err != nil {
		writeDomainError(w, "Failed to update counterpart", err)
		return
	}

	writeJSON(w, http.StatusOK, toCounterpartDTO(cp))
}

// AttachByRut finds or creates the counterpart for a RUT and assigns payout
// accounts to it. Conflicting accounts are reported and left unassigned.
func (h *Handler) AttachByRut(w http.ResponseWriter, r *http.Request) {
	var req AttachRutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Resolver.AttachByRut(r.Context(), req.Rut, req.AccountNumbers)
	if err != nil {
		writeDomainError(w, "Failed to attach accounts", err)
		return
	}

	writeJSON(w, http.StatusOK, toAttachResultDTO(result))
}

// AttachToCounterpart assigns a RUT and accounts to an existing counterpart.
// With no explicit accounts, feed accounts observed under the RUT are used.
func (h *Handler) AttachToCounterpart(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	var req AttachRutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Resolver.AttachToCounterpart(r.Context(), id, req.Rut, req.AccountNumbers)
	if err != nil {
		writeDomainError(w, "Failed to attach accounts", err)
		return
	}

	writeJSON(w, http.StatusOK, toAttachResultDTO(result))
}

// CounterpartSuggestions returns unassigned payout accounts ranked by volume.
func (h *Handler) CounterpartSuggestions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.Resolver.Suggestions(r.Context(), r.URL.Query().Get("query"), limit)
	if err != nil {
		writeDomainError(w, "Failed to list suggestions", err)
		return
	}

	writeJSON(w, http.StatusOK, toPayoutDTOs(records))
}

// UnassignedPayout pages through unassigned payout accounts.
func (h *Handler) UnassignedPayout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	result, err := h.Resolver.UnassignedPayout(r.Context(), q.Get("query"), page, pageSize)
	if err != nil {
		writeDomainError(w, "Failed to list payout accounts", err)
		return
	}

	writeJSON(w, http.StatusOK, PayoutPageDTO{
		Records:  toPayoutDTOs(result.Records),
		Page:     result.Page,
		PageSize: result.PageSize,
		Total:    result.Total,
	})
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func serviceFromRequest(req *CreateServiceRequest) (*billing.Service, error) {
	startDate, err := schedule.ParseDate(req.StartDate)
	if err != nil {
		return nil, schedule.Invalidf("startDate", "invalid format (use YYYY-MM-DD)")
	}

	amount := decimal.Zero
	if req.DefaultAmount != "" {
		if amount, err = decimal.NewFromString(req.DefaultAmount); err != nil {
			return nil, schedule.Invalidf("defaultAmount", "invalid decimal %q", req.DefaultAmount)
		}
	}

	emission := schedule.EmissionPolicy{
		Mode:     schedule.EmissionMode(req.Emission.Mode),
		Day:      req.Emission.Day,
		StartDay: req.Emission.StartDay,
		EndDay:   req.Emission.EndDay,
	}
	if req.Emission.Date != "" {
		if emission.Date, err = schedule.ParseDate(req.Emission.Date); err != nil {
			return nil, schedule.Invalidf("emission.date", "invalid format (use YYYY-MM-DD)")
		}
	}

	fee := schedule.NoFee()
	if req.LateFee != nil {
		value := decimal.Zero
		if req.LateFee.Value != "" {
			if value, err = decimal.NewFromString(req.LateFee.Value); err != nil {
				return nil, schedule.Invalidf("lateFee.value", "invalid decimal %q", req.LateFee.Value)
			}
		}
		fee = schedule.FeePolicy{
			Mode:      schedule.LateFeeMode(req.LateFee.Mode),
			Value:     value,
			GraceDays: req.LateFee.GraceDays,
		}
	}

	indexation := billing.IndexationMode(req.AmountIndexation)
	if req.AmountIndexation == "" {
		indexation = billing.IndexationNone
	}

	return &billing.Service{
		Name:                 req.Name,
		Category:             req.Category,
		ServiceType:          req.ServiceType,
		Ownership:            req.Ownership,
		ObligationType:       req.ObligationType,
		Recurrence:           billing.RecurrenceType(req.RecurrenceType),
		Frequency:            schedule.Frequency(req.Frequency),
		StartDate:            startDate,
		DueDay:               req.DueDay,
		Emission:             emission,
		DefaultAmount:        amount,
		Indexation:           indexation,
		LateFee:              fee,
		CounterpartID:        req.CounterpartID,
		CounterpartAccountID: req.CounterpartAccountID,
	}, nil
}

func generateInputFromRequest(req *RegenerateRequest) (billing.GenerateInput, error) {
	in := billing.GenerateInput{
		Months:      req.Months,
		DueDay:      req.DueDay,
		EmissionDay: req.EmissionDay,
	}
	if req.StartDate != nil {
		d, err := schedule.ParseDate(*req.StartDate)
		if err != nil {
			return in, schedule.Invalidf("startDate", "invalid format (use YYYY-MM-DD)")
		}
		in.StartDate = &d
	}
	if req.DefaultAmount != nil {
		a, err := decimal.NewFromString(*req.DefaultAmount)
		if err != nil {
			return in, schedule.Invalidf("defaultAmount", "invalid decimal %q", *req.DefaultAmount)
		}
		in.DefaultAmount = &a
	}
	if req.Frequency != nil {
		f := schedule.Frequency(*req.Frequency)
		in.Frequency = &f
	}
	return in, nil
}

func toServiceDTO(svc *billing.Service, counts *billing.EntryCounts) ServiceDTO {
	dto := ServiceDTO{
		ID:             svc.PublicID,
		Name:           svc.Name,
		Category:       svc.Category,
		ServiceType:    svc.ServiceType,
		Ownership:      svc.Ownership,
		ObligationType: svc.ObligationType,
		RecurrenceType: string(svc.Recurrence),
		Frequency:      string(svc.Frequency),
		StartDate:      svc.StartDate.String(),
		DueDay:         svc.DueDay,
		Emission: EmissionDTO{
			Mode:     string(svc.Emission.Mode),
			Day:      svc.Emission.Day,
			StartDay: svc.Emission.StartDay,
			EndDay:   svc.Emission.EndDay,
			Date:     dateString(svc.Emission.Date),
		},
		DefaultAmount:    svc.DefaultAmount.String(),
		AmountIndexation: string(svc.Indexation),
		LateFee: LateFeeDTO{
			Mode:      string(svc.LateFee.Mode),
			Value:     svc.LateFee.Value.String(),
			GraceDays: svc.LateFee.GraceDays,
		},
		CounterpartID:        svc.CounterpartID,
		CounterpartAccountID: svc.CounterpartAccountID,
		CreatedAt:            svc.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            svc.UpdatedAt.Format(time.RFC3339),
	}

	if counts != nil {
		dto.Status = string(svc.Status(*counts))
		dto.Counts = &EntryCountsDTO{
			Pending: counts.Pending,
			Overdue: counts.Overdue,
			Partial: counts.Partial,
			Paid:    counts.Paid,
			Skipped: counts.Skipped,
		}
	} else {
		dto.Status = string(svc.Status(billing.EntryCounts{}))
	}
	return dto
}

func toEntryDTO(e *billing.ScheduleEntry, fee schedule.FeePolicy, asOf schedule.Date) ScheduleEntryDTO {
	a := e.Assess(fee, asOf)
	dto := ScheduleEntryDTO{
		ID:              e.ID,
		ServiceID:       e.ServiceID,
		PeriodStart:     e.PeriodStart.String(),
		PeriodEnd:       e.PeriodEnd.String(),
		DueDate:         e.DueDate.String(),
		EmissionDate:    dateString(e.EmissionDate),
		ExpectedAmount:  e.ExpectedAmount.String(),
		Status:          string(e.Status),
		PaidDate:        dateString(e.PaidDate),
		TransactionID:   e.TransactionID,
		Note:            e.Note,
		OverdueDays:     a.OverdueDays,
		LateFeeAmount:   a.LateFeeAmount.String(),
		EffectiveAmount: a.EffectiveAmount.String(),
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       e.UpdatedAt.Format(time.RFC3339),
	}
	if !e.PaidAmount.IsZero() {
		dto.PaidAmount = e.PaidAmount.String()
	}
	return dto
}

func toTransactionDTO(t *billing.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:            t.ID,
		Date:          t.Date.String(),
		Amount:        t.Amount.String(),
		Description:   t.Description,
		AccountNumber: t.AccountNumber,
		ObservedRut:   t.ObservedRUT,
	}
}

func toCounterpartDTO(c *counterpart.Counterpart) CounterpartDTO {
	return CounterpartDTO{
		ID:        c.ID,
		PublicID:  c.PublicID,
		Rut:       c.IdentificationNumber,
		Name:      c.BankAccountHolder,
		Category:  c.Category,
		Notes:     c.Notes,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

func toAccountDTOs(accounts []counterpart.CounterpartAccount) []CounterpartAccountDTO {
	dtos := make([]CounterpartAccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = CounterpartAccountDTO{
			ID:               a.ID,
			CounterpartID:    a.CounterpartID,
			AccountNumber:    a.AccountNumber,
			NormalizedNumber: a.NormalizedNumber,
			BankName:         a.BankName,
			AccountType:      a.AccountType,
		}
	}
	return dtos
}

func toPayoutDTOs(records []counterpart.PayoutAccountRecord) []PayoutAccountDTO {
	dtos := make([]PayoutAccountDTO, len(records))
	for i, rec := range records {
		dtos[i] = PayoutAccountDTO{
			AccountNumber:    rec.AccountNumber,
			MovementCount:    rec.MovementCount,
			TotalGrossAmount: rec.TotalGrossAmount.String(),
			CounterpartID:    rec.CounterpartID,
			CounterpartName:  rec.CounterpartName,
			ObservedRut:      rec.ObservedRUT,
			Conflict:         rec.Conflict,
		}
	}
	return dtos
}

func toAttachResultDTO(result *counterpart.AttachResult) AttachResultDTO {
	conflicts := make([]RutConflictDTO, len(result.Conflicts))
	for i, c := range result.Conflicts {
		conflicts[i] = RutConflictDTO{
			AccountNumber: c.AccountNumber,
			ObservedRut:   c.ObservedRUT,
			AssignedRut:   c.AssignedRUT,
		}
	}
	return AttachResultDTO{
		Counterpart: toCounterpartDTO(result.Counterpart),
		Created:     result.Created,
		Assigned:    result.Assigned,
		Conflicts:   conflicts,
		Accounts:    toAccountDTOs(result.Accounts),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func dateString(d schedule.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func parseEntryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return parseID(w, r, "id")
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case schedule.IsValidation(err):
		writeError(w, http.StatusBadRequest, message, err)
	case schedule.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case schedule.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case schedule.IsUnavailable(err):
		writeError(w, http.StatusBadGateway, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
