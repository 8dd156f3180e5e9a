package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the chi router for the tenant-scoped HTTP surface,
// following the AntoineToussaint-timeoff api/server.go middleware stack
// (Logger, Recoverer, RequestID, cors.Handler) adapted to this repo's
// tenant-in-path + idempotency-key + RBAC requirements (spec.md §6).
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Correlation-Id", "X-User-Id", "X-User-Role"},
		AllowCredentials: true,
	}))

	r.Route("/companies/{tenantId}", func(r chi.Router) {
		r.Use(tenantMiddleware)
		r.Use(authMiddleware(h.AuthHook))
		r.Use(requireIdempotencyKey)

		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.With(requireRole(h.Authz, "create")).Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.With(requireRole(h.Authz, "create")).Put("/{id}", h.UpdateCustomer)
		})

		r.Route("/vendors", func(r chi.Router) {
			r.Get("/", h.ListVendors)
			r.With(requireRole(h.Authz, "create")).Post("/", h.CreateVendor)
			r.Get("/{id}", h.GetVendor)
			r.With(requireRole(h.Authz, "create")).Put("/{id}", h.UpdateVendor)
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.With(requireRole(h.Authz, "create")).Post("/", h.CreateItem)
			r.Get("/{id}", h.GetItem)
			r.With(requireRole(h.Authz, "create")).Put("/{id}", h.UpdateItem)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.With(requireRole(h.Authz, "create")).Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.With(requireRole(h.Authz, "approve")).Post("/{id}/approve", h.ApproveInvoice)
			r.With(requireRole(h.Authz, "post")).Post("/{id}/post", h.PostInvoice)
			r.With(requireRole(h.Authz, "adjust")).Post("/{id}/adjust", h.AdjustInvoice)
			r.With(requireRole(h.Authz, "void")).Post("/{id}/void", h.VoidInvoice)
			r.With(requireRole(h.Authz, "pay")).Post("/{id}/payments", h.RecordInvoicePayment)
			r.With(requireRole(h.Authz, "reverse")).Post("/{id}/payments/{pid}/reverse", h.ReverseInvoicePayment)
			r.With(requireRole(h.Authz, "create")).Post("/{id}/credit-notes", h.CreateCreditNoteFromInvoice)
			r.With(requireRole(h.Authz, "create")).Post("/{id}/public-link", h.PublicLink)
		})

		r.Route("/credit-notes", func(r chi.Router) {
			r.Get("/", h.ListCreditNotes)
			r.With(requireRole(h.Authz, "create")).Post("/", h.CreateCreditNote)
			r.Get("/{id}", h.GetCreditNote)
			r.With(requireRole(h.Authz, "approve")).Post("/{id}/approve", h.ApproveCreditNote)
			r.With(requireRole(h.Authz, "post")).Post("/{id}/post", h.PostCreditNote)
			r.With(requireRole(h.Authz, "void")).Post("/{id}/void", h.VoidCreditNote)
			r.With(requireRole(h.Authz, "refund")).Post("/{id}/refunds", h.RecordCreditNoteRefund)
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.With(requireRole(h.Authz, "create")).Post("/", h.CreateExpense)
			r.Get("/{id}", h.GetExpense)
			r.With(requireRole(h.Authz, "approve")).Post("/{id}/approve", h.ApproveExpense)
			r.With(requireRole(h.Authz, "post")).Post("/{id}/post", h.PostExpense)
			r.With(requireRole(h.Authz, "adjust")).Post("/{id}/adjust", h.AdjustExpense)
			r.With(requireRole(h.Authz, "void")).Post("/{id}/void", h.VoidExpense)
			r.With(requireRole(h.Authz, "pay")).Post("/{id}/payments", h.RecordExpensePayment)
		})

		r.Route("/purchase-bills", func(r chi.Router) {
			r.Get("/", h.ListPurchaseBills)
			r.With(requireRole(h.Authz, "create")).Post("/", h.CreatePurchaseBill)
			r.Get("/{id}", h.GetPurchaseBill)
			r.With(requireRole(h.Authz, "post")).Post("/{id}/post", h.PostPurchaseBill)
			r.With(requireRole(h.Authz, "pay")).Post("/{id}/payments", h.RecordPurchaseBillPayment)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Get("/payments", h.ListSalesPayments)
		})
		r.Route("/purchases", func(r chi.Router) {
			r.Get("/payments", h.ListPurchasePayments)
		})

		r.With(requireRole(h.Authz, "reverse")).Post("/reconciliation", h.Reconcile)
	})

	return r
}
