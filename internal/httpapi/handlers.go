package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"cashflow"
)

func newID() string { return uuid.New().String() }

// Handler holds every dependency the HTTP layer needs: the wired Engine
// plus the two externally-supplied RBAC collaborators spec.md §1 treats
// as out of core scope.
type Handler struct {
	Engine   *cashflow.Engine
	Authz    cashflow.Authorizer
	AuthHook cashflow.AuthHook
}

func NewHandler(engine *cashflow.Engine, authz cashflow.Authorizer, hook cashflow.AuthHook) *Handler {
	return &Handler{Engine: engine, Authz: authz, AuthHook: hook}
}

// runMutation is the shared shape of every mutating handler: decode the
// idempotency key, run the command exactly once inside a single bbolt
// transaction via RunIdempotentCommand, fast-path-publish any outbox
// events the transaction produced, then render the cached JSON response.
// fn returns the payload to cache plus any events emitted for fast-path
// delivery.
func (h *Handler) runMutation(w http.ResponseWriter, r *http.Request, fn func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error)) {
	tenantID, err := cashflow.RequireTenant(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	key := idempotencyKey(r)

	var events []*cashflow.OutboxEvent
	body, status, err := h.Engine.Storage.RunIdempotentCommand(r.Context(), tenantID, key, func(tx *bbolt.Tx) (interface{}, int, error) {
		result, ev, status, err := fn(tx)
		events = ev
		return result, status, err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(events) > 0 {
		h.Engine.PublishFastPath(events)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// runRead executes fn inside a read-only bbolt transaction and renders
// its result as a 200 JSON body, or the domain error it produced.
func (h *Handler) runRead(w http.ResponseWriter, r *http.Request, fn func(tx *bbolt.Tx) (interface{}, error)) {
	var result interface{}
	err := h.Engine.Storage.View(func(tx *bbolt.Tx) error {
		v, err := fn(tx)
		result = v
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func pathTenant(r *http.Request) (string, error) { return cashflow.RequireTenant(r.Context()) }

func pathParam(r *http.Request, name string) string { return chi.URLParam(r, name) }

// =============================================================================
// CUSTOMERS / VENDORS / ITEMS
// =============================================================================

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.ListCustomers(tx, tenantID)
	})
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		c := &cashflow.Customer{
			TenantID:       tenantID,
			ID:             newID(),
			Name:           req.Name,
			OpeningBalance: req.OpeningBalance,
		}
		if err := h.Engine.Storage.SaveCustomer(tx, c); err != nil {
			return nil, nil, 0, err
		}
		return c, nil, http.StatusCreated, nil
	})
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.GetCustomer(tx, tenantID, pathParam(r, "id"))
	})
}

func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		c, err := h.Engine.Storage.GetCustomer(tx, tenantID, pathParam(r, "id"))
		if err != nil {
			return nil, nil, 0, err
		}
		c.Name = req.Name
		if err := h.Engine.Storage.SaveCustomer(tx, c); err != nil {
			return nil, nil, 0, err
		}
		return c, nil, http.StatusOK, nil
	})
}

func (h *Handler) ListVendors(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.ListVendors(tx, tenantID)
	})
}

func (h *Handler) CreateVendor(w http.ResponseWriter, r *http.Request) {
	var req createVendorRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		v := &cashflow.Vendor{
			TenantID:       tenantID,
			ID:             newID(),
			Name:           req.Name,
			OpeningBalance: req.OpeningBalance,
		}
		if err := h.Engine.Storage.SaveVendor(tx, v); err != nil {
			return nil, nil, 0, err
		}
		return v, nil, http.StatusCreated, nil
	})
}

func (h *Handler) GetVendor(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.GetVendor(tx, tenantID, pathParam(r, "id"))
	})
}

func (h *Handler) UpdateVendor(w http.ResponseWriter, r *http.Request) {
	var req createVendorRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		v, err := h.Engine.Storage.GetVendor(tx, tenantID, pathParam(r, "id"))
		if err != nil {
			return nil, nil, 0, err
		}
		v.Name = req.Name
		if err := h.Engine.Storage.SaveVendor(tx, v); err != nil {
			return nil, nil, 0, err
		}
		return v, nil, http.StatusOK, nil
	})
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.ListItems(tx, tenantID)
	})
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		it := &cashflow.Item{
			TenantID:          tenantID,
			ID:                newID(),
			Name:              req.Name,
			Kind:              req.Kind,
			TrackInventory:    req.TrackInventory,
			IncomeAccountID:   req.IncomeAccountID,
			DefaultLocationID: req.DefaultLocationID,
		}
		if err := h.Engine.Storage.SaveItem(tx, it); err != nil {
			return nil, nil, 0, err
		}
		return it, nil, http.StatusCreated, nil
	})
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.GetItem(tx, tenantID, pathParam(r, "id"))
	})
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		it, err := h.Engine.Storage.GetItem(tx, tenantID, pathParam(r, "id"))
		if err != nil {
			return nil, nil, 0, err
		}
		it.Name = req.Name
		it.TrackInventory = req.TrackInventory
		it.IncomeAccountID = req.IncomeAccountID
		it.DefaultLocationID = req.DefaultLocationID
		if err := h.Engine.Storage.SaveItem(tx, it); err != nil {
			return nil, nil, 0, err
		}
		return it, nil, http.StatusOK, nil
	})
}

// =============================================================================
// INVOICES
// =============================================================================

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.ListInvoices(tx, tenantID)
	})
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.GetInvoice(tx, tenantID, pathParam(r, "id"))
	})
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		inv, err := h.Engine.Storage.CreateInvoice(tx, cashflow.CreateInvoiceInput{
			TenantID:        tenantID,
			CustomerID:      req.CustomerID,
			Date:            req.Date,
			LocationID:      req.LocationID,
			Currency:        req.Currency,
			Lines:           req.Lines,
			CreatedByUserID: user.UserID,
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return inv, nil, http.StatusCreated, nil
	})
}

func (h *Handler) ApproveInvoice(w http.ResponseWriter, r *http.Request) {
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		inv, err := h.Engine.Storage.ApproveInvoice(tx, tenantID, pathParam(r, "id"))
		if err != nil {
			return nil, nil, 0, err
		}
		return inv, nil, http.StatusOK, nil
	})
}

func (h *Handler) PostInvoice(w http.ResponseWriter, r *http.Request) {
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		invoiceID := pathParam(r, "id")
		var events []*cashflow.OutboxEvent
		var inv *cashflow.Invoice
		err = h.Engine.Locks.WithLock(r.Context(), cashflow.LockKeyForTenant(tenantID, "invoice", invoiceID), func() error {
			var innerErr error
			inv, events, innerErr = h.Engine.Storage.PostInvoice(r.Context(), tx, cashflow.PostInvoiceInput{
				TenantID:      tenantID,
				InvoiceID:     invoiceID,
				UserID:        user.UserID,
				CorrelationID: correlationID(r),
				PeriodLookup:  h.Engine.PeriodLookup,
			})
			return innerErr
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return inv, events, http.StatusOK, nil
	})
}

func (h *Handler) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	var req voidRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		inv, err := h.Engine.Storage.VoidInvoice(tx, tenantID, pathParam(r, "id"), req.Reason, user.UserID)
		if err != nil {
			return nil, nil, 0, err
		}
		return inv, nil, http.StatusOK, nil
	})
}

func (h *Handler) AdjustInvoice(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		inv, err := h.Engine.Storage.AdjustInvoice(tx, cashflow.AdjustInvoiceInput{
			TenantID:  tenantID,
			InvoiceID: pathParam(r, "id"),
			UserID:    user.UserID,
			Lines:     req.Lines,
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return inv, nil, http.StatusOK, nil
	})
}

func (h *Handler) RecordInvoicePayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		payment, events, err := h.Engine.Storage.RecordInvoicePayment(tx, cashflow.RecordInvoicePaymentInput{
			TenantID:      tenantID,
			InvoiceID:     pathParam(r, "id"),
			Amount:        req.Amount,
			BankAccountID: req.BankAccountID,
			Date:          req.Date,
			PaymentMode:   req.PaymentMode,
			UserID:        user.UserID,
			CorrelationID: correlationID(r),
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return payment, events, http.StatusCreated, nil
	})
}

func (h *Handler) ReverseInvoicePayment(w http.ResponseWriter, r *http.Request) {
	var req reversePaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		payment, events, err := h.Engine.Storage.ReverseInvoicePayment(tx, tenantID, pathParam(r, "pid"), req.Reason, user.UserID, correlationID(r))
		if err != nil {
			return nil, nil, 0, err
		}
		return payment, events, http.StatusOK, nil
	})
}

func (h *Handler) CreateCreditNoteFromInvoice(w http.ResponseWriter, r *http.Request) {
	var req createCreditNoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	req.InvoiceID = pathParam(r, "id")
	h.createCreditNote(w, r, req)
}

// PublicLink is deliberately out of scope (spec.md §1: "public-link token
// minting" is a non-goal) — this endpoint exists on the route tree for
// API-surface completeness but does not mint or persist a token.
func (h *Handler) PublicLink(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, errorEnvelope{Error: "public link minting is not implemented by this core"})
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

func (h *Handler) ListCreditNotes(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.ListCreditNotes(tx, tenantID)
	})
}

func (h *Handler) GetCreditNote(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.GetCreditNote(tx, tenantID, pathParam(r, "id"))
	})
}

func (h *Handler) CreateCreditNote(w http.ResponseWriter, r *http.Request) {
	var req createCreditNoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.createCreditNote(w, r, req)
}

func (h *Handler) createCreditNote(w http.ResponseWriter, r *http.Request, req createCreditNoteRequest) {
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		cn, err := h.Engine.Storage.CreateCreditNote(tx, cashflow.CreateCreditNoteInput{
			TenantID:        tenantID,
			CustomerID:      req.CustomerID,
			InvoiceID:       req.InvoiceID,
			Date:            req.Date,
			Lines:           req.Lines,
			CreatedByUserID: user.UserID,
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return cn, nil, http.StatusCreated, nil
	})
}

func (h *Handler) ApproveCreditNote(w http.ResponseWriter, r *http.Request) {
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		cn, err := h.Engine.Storage.ApproveCreditNote(tx, tenantID, pathParam(r, "id"))
		if err != nil {
			return nil, nil, 0, err
		}
		return cn, nil, http.StatusOK, nil
	})
}

func (h *Handler) PostCreditNote(w http.ResponseWriter, r *http.Request) {
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		creditNoteID := pathParam(r, "id")
		var events []*cashflow.OutboxEvent
		var cn *cashflow.CreditNote
		err = h.Engine.Locks.WithLock(r.Context(), cashflow.LockKeyForTenant(tenantID, "credit_note", creditNoteID), func() error {
			var innerErr error
			cn, events, innerErr = h.Engine.Storage.PostCreditNote(r.Context(), tx, cashflow.PostCreditNoteInput{
				TenantID:      tenantID,
				CreditNoteID:  creditNoteID,
				UserID:        user.UserID,
				CorrelationID: correlationID(r),
				PeriodLookup:  h.Engine.PeriodLookup,
			})
			return innerErr
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return cn, events, http.StatusOK, nil
	})
}

func (h *Handler) VoidCreditNote(w http.ResponseWriter, r *http.Request) {
	var req voidRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		cn, err := h.Engine.Storage.VoidCreditNote(tx, tenantID, pathParam(r, "id"), req.Reason, user.UserID)
		if err != nil {
			return nil, nil, 0, err
		}
		return cn, nil, http.StatusOK, nil
	})
}

func (h *Handler) RecordCreditNoteRefund(w http.ResponseWriter, r *http.Request) {
	var req recordRefundRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		refund, err := h.Engine.Storage.RecordCreditNoteRefund(tx, cashflow.RecordCreditNoteRefundInput{
			TenantID:      tenantID,
			CreditNoteID:  pathParam(r, "id"),
			Amount:        req.Amount,
			BankAccountID: req.BankAccountID,
			Date:          req.Date,
			UserID:        user.UserID,
			CorrelationID: correlationID(r),
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return refund, nil, http.StatusCreated, nil
	})
}

// =============================================================================
// EXPENSES (BILLS)
// =============================================================================

func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.ListExpenses(tx, tenantID)
	})
}

func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.GetExpense(tx, tenantID, pathParam(r, "id"))
	})
}

func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req createExpenseRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		e, err := h.Engine.Storage.CreateExpense(tx, cashflow.CreateExpenseInput{
			TenantID:        tenantID,
			VendorID:        req.VendorID,
			Date:            req.Date,
			Lines:           req.Lines,
			CreatedByUserID: user.UserID,
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return e, nil, http.StatusCreated, nil
	})
}

func (h *Handler) ApproveExpense(w http.ResponseWriter, r *http.Request) {
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		e, err := h.Engine.Storage.ApproveExpense(tx, tenantID, pathParam(r, "id"))
		if err != nil {
			return nil, nil, 0, err
		}
		return e, nil, http.StatusOK, nil
	})
}

func (h *Handler) PostExpense(w http.ResponseWriter, r *http.Request) {
	var req postDocumentRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		expenseID := pathParam(r, "id")
		var events []*cashflow.OutboxEvent
		var e *cashflow.Expense
		err = h.Engine.Locks.WithLock(r.Context(), cashflow.LockKeyForTenant(tenantID, "expense", expenseID), func() error {
			var innerErr error
			e, events, innerErr = h.Engine.Storage.PostExpense(r.Context(), tx, cashflow.PostExpenseInput{
				TenantID:       tenantID,
				ExpenseID:      expenseID,
				UserID:         user.UserID,
				CorrelationID:  correlationID(r),
				PeriodLookup:   h.Engine.PeriodLookup,
				PayImmediately: req.PayImmediately,
				BankAccountID:  req.BankAccountID,
				PaymentDate:    req.PaymentDate,
			})
			return innerErr
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return e, events, http.StatusOK, nil
	})
}

func (h *Handler) VoidExpense(w http.ResponseWriter, r *http.Request) {
	var req voidRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		e, err := h.Engine.Storage.VoidExpense(tx, tenantID, pathParam(r, "id"), req.Reason, user.UserID)
		if err != nil {
			return nil, nil, 0, err
		}
		return e, nil, http.StatusOK, nil
	})
}

func (h *Handler) AdjustExpense(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		e, err := h.Engine.Storage.AdjustExpense(tx, cashflow.AdjustExpenseInput{
			TenantID:  tenantID,
			ExpenseID: pathParam(r, "id"),
			UserID:    user.UserID,
			Lines:     req.Lines,
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return e, nil, http.StatusOK, nil
	})
}

func (h *Handler) RecordExpensePayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		payment, events, err := h.Engine.Storage.RecordExpensePayment(tx, cashflow.RecordExpensePaymentInput{
			TenantID:      tenantID,
			ExpenseID:     pathParam(r, "id"),
			Amount:        req.Amount,
			BankAccountID: req.BankAccountID,
			Date:          req.Date,
			UserID:        user.UserID,
			CorrelationID: correlationID(r),
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return payment, events, http.StatusCreated, nil
	})
}

// =============================================================================
// PURCHASE BILLS
// =============================================================================

func (h *Handler) ListPurchaseBills(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.ListPurchaseBills(tx, tenantID)
	})
}

func (h *Handler) GetPurchaseBill(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.GetPurchaseBill(tx, tenantID, pathParam(r, "id"))
	})
}

func (h *Handler) CreatePurchaseBill(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseBillRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		b, err := h.Engine.Storage.CreatePurchaseBill(tx, cashflow.CreatePurchaseBillInput{
			TenantID:        tenantID,
			VendorID:        req.VendorID,
			Date:            req.Date,
			LocationID:      req.LocationID,
			Lines:           req.Lines,
			CreatedByUserID: user.UserID,
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return b, nil, http.StatusCreated, nil
	})
}

func (h *Handler) PostPurchaseBill(w http.ResponseWriter, r *http.Request) {
	var req postDocumentRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		billID := pathParam(r, "id")
		var events []*cashflow.OutboxEvent
		var b *cashflow.PurchaseBill
		err = h.Engine.Locks.WithLock(r.Context(), cashflow.LockKeyForTenant(tenantID, "purchase_bill", billID), func() error {
			var innerErr error
			b, events, innerErr = h.Engine.Storage.PostPurchaseBill(r.Context(), tx, cashflow.PostPurchaseBillInput{
				TenantID:       tenantID,
				PurchaseBillID: billID,
				UserID:         user.UserID,
				CorrelationID:  correlationID(r),
				PeriodLookup:   h.Engine.PeriodLookup,
				PayImmediately: req.PayImmediately,
				BankAccountID:  req.BankAccountID,
				PaymentDate:    req.PaymentDate,
			})
			return innerErr
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return b, events, http.StatusOK, nil
	})
}

func (h *Handler) RecordPurchaseBillPayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		user, err := cashflow.RequireUser(r.Context())
		if err != nil {
			return nil, nil, 0, err
		}
		payment, events, err := h.Engine.Storage.RecordPurchaseBillPayment(tx, cashflow.RecordPurchaseBillPaymentInput{
			TenantID:       tenantID,
			PurchaseBillID: pathParam(r, "id"),
			Amount:         req.Amount,
			BankAccountID:  req.BankAccountID,
			Date:           req.Date,
			UserID:         user.UserID,
			CorrelationID:  correlationID(r),
		})
		if err != nil {
			return nil, nil, 0, err
		}
		return payment, events, http.StatusCreated, nil
	})
}

// =============================================================================
// READ-ONLY PAYMENT LEDGERS
// =============================================================================

func (h *Handler) ListSalesPayments(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		return h.Engine.Storage.ListSalesPayments(tx, tenantID)
	})
}

// purchasePaymentsView merges bill and purchase-bill payments into one
// read-only feed, since spec.md §6 names a single `GET /purchases/payments`
// endpoint backed by two storage buckets.
type purchasePaymentsView struct {
	ExpensePayments      []*cashflow.ExpensePayment      `json:"expensePayments"`
	PurchaseBillPayments []*cashflow.PurchaseBillPayment `json:"purchaseBillPayments"`
}

func (h *Handler) ListPurchasePayments(w http.ResponseWriter, r *http.Request) {
	h.runRead(w, r, func(tx *bbolt.Tx) (interface{}, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, err
		}
		expensePayments, err := h.Engine.Storage.ListExpensePayments(tx, tenantID)
		if err != nil {
			return nil, err
		}
		billPayments, err := h.Engine.Storage.ListPurchaseBillPayments(tx, tenantID)
		if err != nil {
			return nil, err
		}
		return purchasePaymentsView{ExpensePayments: expensePayments, PurchaseBillPayments: billPayments}, nil
	})
}

// Reconcile is an additional operational endpoint (not in spec.md §6's
// representative list, grounded on SPEC_FULL.md §3's reconciliation
// wiring) that matches an imported bank statement against this tenant's
// unreversed settlement rows.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.runMutation(w, r, func(tx *bbolt.Tx) (interface{}, []*cashflow.OutboxEvent, int, error) {
		tenantID, err := pathTenant(r)
		if err != nil {
			return nil, nil, 0, err
		}
		matches, err := h.Engine.Storage.AutoReconcile(tx, tenantID, req.Lines)
		if err != nil {
			return nil, nil, 0, err
		}
		for _, m := range matches {
			if err := h.Engine.Storage.SaveReconciliationMatch(tx, m); err != nil {
				return nil, nil, 0, err
			}
		}
		return matches, nil, http.StatusOK, nil
	})
}
