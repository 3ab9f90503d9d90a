/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

CONVENTIONS:
  - camelCase field names
  - dates as "YYYY-MM-DD" strings
  - amounts as decimal strings ("388500", "10.5") to avoid float drift
  - derived fields (overdueDays, lateFeeAmount, effectiveAmount, schedule
    counts) are computed per request and never stored

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

// =============================================================================
// SERVICE DTOs
// =============================================================================

type EmissionDTO struct {
	Mode     string `json:"mode"`
	Day      int    `json:"day,omitempty"`
	StartDay int    `json:"startDay,omitempty"`
	EndDay   int    `json:"endDay,omitempty"`
	Date     string `json:"date,omitempty"`
}

type LateFeeDTO struct {
	Mode      string `json:"mode"`
	Value     string `json:"value"`
	GraceDays int    `json:"graceDays"`
}

type ServiceDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Category       string `json:"category,omitempty"`
	ServiceType    string `json:"serviceType,omitempty"`
	Ownership      string `json:"ownership,omitempty"`
	ObligationType string `json:"obligationType,omitempty"`

	RecurrenceType string `json:"recurrenceType"`
	Frequency      string `json:"frequency"`
	StartDate      string `json:"startDate"`
	DueDay         int    `json:"dueDay,omitempty"`

	Emission         EmissionDTO `json:"emission"`
	DefaultAmount    string      `json:"defaultAmount"`
	AmountIndexation string      `json:"amountIndexation"`
	LateFee          LateFeeDTO  `json:"lateFee"`

	CounterpartID        int64 `json:"counterpartId,omitempty"`
	CounterpartAccountID int64 `json:"counterpartAccountId,omitempty"`

	Status string          `json:"status"`
	Counts *EntryCountsDTO `json:"scheduleCounts,omitempty"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type EntryCountsDTO struct {
	Pending int `json:"pending"`
	Overdue int `json:"overdue"`
	Partial int `json:"partial"`
	Paid    int `json:"paid"`
	Skipped int `json:"skipped"`
}

type CreateServiceRequest struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	ServiceType    string `json:"serviceType"`
	Ownership      string `json:"ownership"`
	ObligationType string `json:"obligationType"`

	RecurrenceType string `json:"recurrenceType"`
	Frequency      string `json:"frequency"`
	StartDate      string `json:"startDate"`
	DueDay         int    `json:"dueDay"`

	Emission         EmissionDTO `json:"emission"`
	DefaultAmount    string      `json:"defaultAmount"`
	AmountIndexation string      `json:"amountIndexation"`
	LateFee          *LateFeeDTO `json:"lateFee"`

	CounterpartID        int64 `json:"counterpartId"`
	CounterpartAccountID int64 `json:"counterpartAccountId"`

	// Months sizes the initial schedule; 0 falls back to the default horizon.
	Months int `json:"months"`
}

// =============================================================================
// SCHEDULE DTOs
// =============================================================================

type ScheduleEntryDTO struct {
	ID        int64 `json:"id"`
	ServiceID int64 `json:"serviceId"`

	PeriodStart  string `json:"periodStart"`
	PeriodEnd    string `json:"periodEnd"`
	DueDate      string `json:"dueDate"`
	EmissionDate string `json:"emissionDate,omitempty"`

	ExpectedAmount string `json:"expectedAmount"`
	Status         string `json:"status"`

	PaidAmount    string `json:"paidAmount,omitempty"`
	PaidDate      string `json:"paidDate,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Note          string `json:"note,omitempty"`

	// Derived as of the request date, never persisted.
	OverdueDays     int    `json:"overdueDays"`
	LateFeeAmount   string `json:"lateFeeAmount"`
	EffectiveAmount string `json:"effectiveAmount"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// RegenerateRequest carries schedule generation parameters. Every field is
// optional; set fields also update the service configuration.
type RegenerateRequest struct {
	Months        int     `json:"months"`
	StartDate     *string `json:"startDate"`
	DefaultAmount *string `json:"defaultAmount"`
	DueDay        *int    `json:"dueDay"`
	Frequency     *string `json:"frequency"`
	EmissionDay   *int    `json:"emissionDay"`
}

type GenerateResponse struct {
	Service ServiceDTO         `json:"service"`
	Entries []ScheduleEntryDTO `json:"entries"`
}

type PayRequest struct {
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	PaidDate      string `json:"paidDate"`
	Note          string `json:"note"`
}

type SkipRequest struct {
	Reason string `json:"reason"`
}

type EditEntryRequest struct {
	ExpectedAmount *string `json:"expectedAmount"`
	Note           *string `json:"note"`
}

type SuggestionDTO struct {
	Transaction TransactionDTO `json:"transaction"`
	AmountDelta string         `json:"amountDelta"`
}

// =============================================================================
// TRANSACTION DTOs
// =============================================================================

type TransactionDTO struct {
	ID            string `json:"id"`
	Date          string `json:"date"`
	Amount        string `json:"amount"`
	Description   string `json:"description,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	ObservedRut   string `json:"observedRut,omitempty"`
}

type ImportTransactionsRequest struct {
	Transactions []TransactionDTO `json:"transactions"`
}

type ImportTransactionsResponse struct {
	Imported int `json:"imported"`
}

// =============================================================================
// COUNTERPART DTOs
// =============================================================================

type CounterpartDTO struct {
	ID        int64  `json:"id"`
	PublicID  string `json:"publicId"`
	Rut       string `json:"rut,omitempty"`
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type CreateCounterpartRequest struct {
	Rut      string `json:"rut"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Notes    string `json:"notes"`
}

type AttachRutRequest struct {
	Rut            string   `json:"rut"`
	AccountNumbers []string `json:"accountNumbers"`
}

type RutConflictDTO struct {
	AccountNumber string `json:"accountNumber"`
	ObservedRut   string `json:"observedRut"`
	AssignedRut   string `json:"assignedRut"`
}

type CounterpartAccountDTO struct {
	ID               int64  `json:"id"`
	CounterpartID    int64  `json:"counterpartId"`
	AccountNumber    string `json:"accountNumber"`
	NormalizedNumber string `json:"normalizedNumber"`
	BankName         string `json:"bankName,omitempty"`
	AccountType      string `json:"accountType,omitempty"`
}

type AttachResultDTO struct {
	Counterpart CounterpartDTO          `json:"counterpart"`
	Created     bool                    `json:"created"`
	Assigned    int                     `json:"assigned"`
	Conflicts   []RutConflictDTO        `json:"conflicts"`
	Accounts    []CounterpartAccountDTO `json:"accounts"`
}

type PayoutAccountDTO struct {
	AccountNumber    string `json:"accountNumber"`
	MovementCount    int    `json:"movementCount"`
	TotalGrossAmount string `json:"totalGrossAmount"`
	CounterpartID    int64  `json:"counterpartId,omitempty"`
	CounterpartName  string `json:"counterpartName,omitempty"`
	ObservedRut      string `json:"observedRut,omitempty"`
	Conflict         bool   `json:"conflict,omitempty"`
}

type PayoutPageDTO struct {
	Records  []PayoutAccountDTO `json:"records"`
	Page     int                `json:"page"`
	PageSize int                `json:"pageSize"`
	Total    int                `json:"total"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
