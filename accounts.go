package cashflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// AccountType is one of the five classical account classifications.
type AccountType string

const (
	Asset     AccountType = "ASSET"
	Liability AccountType = "LIABILITY"
	Equity    AccountType = "EQUITY"
	Income    AccountType = "INCOME"
	Expense   AccountType = "EXPENSE"
)

// NormalBalance is the side on which an account of a given type normally
// carries a balance.
type NormalBalance string

const (
	BalanceDebit  NormalBalance = "DEBIT"
	BalanceCredit NormalBalance = "CREDIT"
)

func normalBalanceFor(t AccountType) NormalBalance {
	switch t {
	case Asset, Expense:
		return BalanceDebit
	default:
		return BalanceCredit
	}
}

// Account is a chart-of-accounts node, tenant-scoped and never deleted
// (spec.md §3).
type Account struct {
	TenantID          string        `json:"tenant_id"`
	ID                string        `json:"id"`
	Code              string        `json:"code"`
	Name              string        `json:"name"`
	Type              AccountType   `json:"type"`
	NormalBalance     NormalBalance `json:"normal_balance"`
	ReportGroup       string        `json:"report_group,omitempty"`
	CashflowActivity  string        `json:"cashflow_activity,omitempty"`
	IsActive          bool          `json:"is_active"`
	CreatedAt         time.Time     `json:"created_at"`

	// BankKind is set only on ASSET accounts that represent a bank/payment
	// rail (e.g. "CHECKING", "SAVINGS", "CREDIT_CARD"); spec.md §4.C9
	// payment recording requires the bank account not be a CREDIT_CARD
	// kind, and validates a caller-supplied paymentMode against it.
	BankKind string `json:"bank_kind,omitempty"`
}

const BankKindCreditCard = "CREDIT_CARD"

// Canonical distinguished-account codes spec.md §4.C8 names explicitly.
const (
	CodeDefaultSalesIncome = "4000"
	CodeDefaultTaxPayable  = "2100"
)

func (s *Storage) SaveAccount(tx *bbolt.Tx, a *Account) error {
	return putJSON(tx, bucketAccounts, a.TenantID, a.ID, a)
}

func (s *Storage) GetAccount(tx *bbolt.Tx, tenantID, id string) (*Account, error) {
	var a Account
	if err := getJSON(tx, bucketAccounts, tenantID, id, &a); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("account", id)
		}
		return nil, err
	}
	return &a, nil
}

// FindAccountByCode scans the tenant's accounts for one with the given
// code, returning nil (not an error) if absent — used by the lazy
// auto-provision helpers below.
func (s *Storage) FindAccountByCode(tx *bbolt.Tx, tenantID, code string) (*Account, error) {
	var found *Account
	err := forEachTenant(tx, bucketAccounts, tenantID, func(_, v []byte) error {
		var a Account
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		if a.Code == code {
			cp := a
			found = &cp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// EnsureAccount resolves an account by code, lazily creating it with the
// canonical name/type/normal-balance/tags when absent, per spec.md §4.C8.
func (s *Storage) EnsureAccount(tx *bbolt.Tx, tenantID, code, name string, accType AccountType, reportGroup, cashflowActivity string) (*Account, error) {
	existing, err := s.FindAccountByCode(tx, tenantID, code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	a := &Account{
		TenantID:         tenantID,
		ID:               uuid.New().String(),
		Code:             code,
		Name:             name,
		Type:             accType,
		NormalBalance:    normalBalanceFor(accType),
		ReportGroup:      reportGroup,
		CashflowActivity: cashflowActivity,
		IsActive:         true,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.SaveAccount(tx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// EnsureTaxPayableAccount provisions the canonical Tax Payable liability
// account (code 2100) the first time any document posts with tax > 0.
func (s *Storage) EnsureTaxPayableAccount(tx *bbolt.Tx, tenantID string) (*Account, error) {
	return s.EnsureAccount(tx, tenantID, CodeDefaultTaxPayable, "Tax Payable", Liability, "current_liabilities", "operating")
}

// EnsureDefaultSalesIncomeAccount provisions the canonical default Sales
// Income account (code 4000) used when a line carries no explicit
// incomeAccountId.
func (s *Storage) EnsureDefaultSalesIncomeAccount(tx *bbolt.Tx, tenantID string) (*Account, error) {
	return s.EnsureAccount(tx, tenantID, CodeDefaultSalesIncome, "Sales Income", Income, "revenue", "operating")
}

// requireAccountOfType loads an account and validates it is active and of the
// expected type, translating failures into Configuration/NotFound errors
// per spec.md §7.
func requireAccountOfType(s *Storage, tx *bbolt.Tx, tenantID, id, role string, want AccountType) (*Account, error) {
	if id == "" {
		return nil, NewConfigurationError(fmt.Sprintf("%s account is not configured for this tenant", role))
	}
	a, err := s.GetAccount(tx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		return nil, NewConfigurationError(fmt.Sprintf("%s account %s is inactive", role, a.Code))
	}
	if a.Type != want {
		return nil, NewConfigurationError(fmt.Sprintf("%s account %s must be %s, is %s", role, a.Code, want, a.Type))
	}
	return a, nil
}

// requireBankAccount validates a payment's bank account is an ASSET and
// not a CREDIT_CARD rail, and that a caller-supplied paymentMode (if any)
// matches its configured kind, per spec.md §4.C9 payment recording.
func requireBankAccount(s *Storage, tx *bbolt.Tx, tenantID, id, paymentMode string) (*Account, error) {
	a, err := requireAccountOfType(s, tx, tenantID, id, "bank", Asset)
	if err != nil {
		return nil, err
	}
	if a.BankKind == BankKindCreditCard {
		return nil, NewConfigurationError(fmt.Sprintf("bank account %s is a credit card, cannot receive payments", a.Code))
	}
	if paymentMode != "" && a.BankKind != "" && paymentMode != a.BankKind {
		return nil, NewValidationError(fmt.Sprintf("paymentMode %s does not match bank account kind %s", paymentMode, a.BankKind))
	}
	return a, nil
}
