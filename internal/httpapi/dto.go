package httpapi

import (
	"encoding/json"
	"net/http"

	"cashflow"
)

// errorEnvelope is the single JSON error shape spec.md §6 names:
// `{error: string}`.
type errorEnvelope struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError renders any error as the `{error}` envelope, using the
// DomainError's own status code when present and falling back to 500 for
// anything else (spec.md §7: infrastructure errors propagate as 500).
func writeDomainError(w http.ResponseWriter, err error) {
	if de, ok := err.(*cashflow.DomainError); ok {
		writeJSON(w, de.StatusCode, errorEnvelope{Error: de.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: "internal error"})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return cashflow.NewValidationError("malformed JSON body: " + err.Error())
	}
	return nil
}

// createCustomerRequest/createVendorRequest/createItemRequest are the
// request bodies for the catalog endpoints — thin, since Customer/Vendor/
// Item carry no nested types needing their own conversion.
type createCustomerRequest struct {
	Name           string         `json:"name"`
	OpeningBalance cashflow.Money `json:"openingBalance"`
}

type createVendorRequest struct {
	Name           string         `json:"name"`
	OpeningBalance cashflow.Money `json:"openingBalance"`
}

type createItemRequest struct {
	Name              string `json:"name"`
	Kind              string `json:"kind"`
	TrackInventory    bool   `json:"trackInventory"`
	IncomeAccountID   string `json:"incomeAccountId"`
	DefaultLocationID string `json:"defaultLocationId"`
}

// createInvoiceRequest mirrors cashflow.CreateInvoiceInput field-for-field
// but with JSON tags matching the camelCase wire convention spec.md §6
// names; DocumentLine already carries its own json tags so lines decode
// directly.
type createInvoiceRequest struct {
	CustomerID string                  `json:"customerId"`
	Date       cashflow.Date           `json:"date"`
	LocationID string                  `json:"locationId,omitempty"`
	Currency   string                  `json:"currency"`
	Lines      []cashflow.DocumentLine `json:"lines"`
}

type createCreditNoteRequest struct {
	CustomerID string                  `json:"customerId"`
	InvoiceID  string                  `json:"invoiceId,omitempty"`
	Date       cashflow.Date           `json:"date"`
	Lines      []cashflow.DocumentLine `json:"lines"`
}

type createExpenseRequest struct {
	VendorID string                  `json:"vendorId"`
	Date     cashflow.Date           `json:"date"`
	Lines    []cashflow.DocumentLine `json:"lines"`
}

type createPurchaseBillRequest struct {
	VendorID   string                  `json:"vendorId"`
	Date       cashflow.Date           `json:"date"`
	LocationID string                  `json:"locationId,omitempty"`
	Lines      []cashflow.DocumentLine `json:"lines"`
}

// postDocumentRequest is the shared body for every POST .../post endpoint
// that supports a pay-immediately settlement shortcut (expenses and
// purchase bills, per spec.md §4.C9's "paid immediately" variant).
type postDocumentRequest struct {
	PayImmediately bool          `json:"payImmediately,omitempty"`
	BankAccountID  string        `json:"bankAccountId,omitempty"`
	PaymentDate    cashflow.Date `json:"paymentDate,omitempty"`
}

type voidRequest struct {
	Reason string `json:"reason"`
}

type adjustRequest struct {
	Lines []cashflow.DocumentLine `json:"lines"`
}

type recordPaymentRequest struct {
	Amount        cashflow.Money `json:"amount"`
	BankAccountID string         `json:"bankAccountId"`
	Date          cashflow.Date  `json:"date"`
	PaymentMode   string         `json:"paymentMode,omitempty"`
}

type reversePaymentRequest struct {
	Reason string `json:"reason"`
}

type recordRefundRequest struct {
	Amount        cashflow.Money `json:"amount"`
	BankAccountID string         `json:"bankAccountId"`
	Date          cashflow.Date  `json:"date"`
}

type publicLinkResponse struct {
	URL string `json:"url"`
}

type reconcileRequest struct {
	Lines []*cashflow.ExternalStatementLine `json:"lines"`
}
