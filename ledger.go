package cashflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// JournalEntry is an immutable posting. Once inserted, its lines are never
// mutated — corrections happen exclusively via a reversal or adjustment
// entry (spec.md §3, GLOSSARY). Grounded on the teacher's
// posting_engine.go validation logic, generalized to per-tenant account
// resolution and extended with reversal/adjustment derivation.
type JournalEntry struct {
	TenantID    string    `json:"tenant_id"`
	ID          string    `json:"id"`
	Date        Date      `json:"date"`
	Description string    `json:"description"`
	LocationID  string    `json:"location_id,omitempty"`
	CreatedByUserID string `json:"created_by_user_id"`
	CreatedAt   time.Time `json:"created_at"`

	Lines []JournalEntryLine `json:"lines"`

	ReversalOfJournalEntryID string `json:"reversal_of_journal_entry_id,omitempty"`
	ReversalReason           string `json:"reversal_reason,omitempty"`

	VoidedAt       *time.Time `json:"voided_at,omitempty"`
	VoidReason     string     `json:"void_reason,omitempty"`
	VoidedByUserID string     `json:"voided_by_user_id,omitempty"`
}

// JournalEntryLine is a single debit-or-credit line; exactly one of Debit
// or Credit is nonzero (spec.md §3).
type JournalEntryLine struct {
	TenantID  string `json:"tenant_id"`
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Debit     Money  `json:"debit"`
	Credit    Money  `json:"credit"`
}

func (s *Storage) SaveJournalEntry(tx *bbolt.Tx, je *JournalEntry) error {
	return putJSON(tx, bucketJournalEntries, je.TenantID, je.ID, je)
}

func (s *Storage) GetJournalEntry(tx *bbolt.Tx, tenantID, id string) (*JournalEntry, error) {
	var je JournalEntry
	if err := getJSON(tx, bucketJournalEntries, tenantID, id, &je); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("journal entry", id)
		}
		return nil, err
	}
	return &je, nil
}

// journalEntryReversingID returns the id of the JournalEntry whose
// ReversalOfJournalEntryID == originalID, if any, enforcing the "at most
// one direct reversal per original" invariant spec.md §4.C6 describes as a
// DB-level uniqueness constraint. bbolt has no declarative uniqueness
// constraint, so this scan-under-the-same-Update-transaction is the
// equivalent guard — it runs inside the same serialized writer transaction
// as the insert it guards.
func (s *Storage) journalEntryReversingID(tx *bbolt.Tx, tenantID, originalID string) (string, error) {
	var foundID string
	err := forEachTenant(tx, bucketJournalEntries, tenantID, func(_, v []byte) error {
		var je JournalEntry
		if err := jsonUnmarshalBytes(v, &je); err != nil {
			return err
		}
		if je.ReversalOfJournalEntryID == originalID {
			foundID = je.ID
		}
		return nil
	})
	return foundID, err
}

// PostLineInput is one caller-supplied debit or credit.
type PostLineInput struct {
	AccountID string
	Debit     Money
	Credit    Money
}

// PostInput is the Ledger Poster's request, per spec.md §4.C6.
type PostInput struct {
	TenantID                 string
	Date                     Date
	Description              string
	Lines                    []PostLineInput
	CreatedByUserID          string
	LocationID               string
	ReversalOfJournalEntryID string
	ReversalReason           string
	SkipAccountValidation    bool
}

// Post builds and persists a balanced JournalEntry within the caller's
// open bbolt transaction. It is the sole path by which a balanced entry
// enters the ledger (spec.md §4.C6).
func (s *Storage) Post(tx *bbolt.Tx, in PostInput) (*JournalEntry, error) {
	if len(in.Lines) < 2 {
		return nil, NewValidationError("a journal entry requires at least 2 lines")
	}

	debitTotal := ZeroMoney
	creditTotal := ZeroMoney
	lines := make([]JournalEntryLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		if !l.Debit.IsZero() && !l.Credit.IsZero() {
			return nil, NewValidationError("a journal entry line cannot carry both a debit and a credit")
		}
		if l.Debit.IsZero() && l.Credit.IsZero() {
			return nil, NewValidationError("a journal entry line must carry a nonzero debit or credit")
		}
		if !in.SkipAccountValidation {
			acct, err := s.GetAccount(tx, in.TenantID, l.AccountID)
			if err != nil {
				return nil, err
			}
			if !acct.IsActive {
				return nil, NewConfigurationError(fmt.Sprintf("account %s is inactive", acct.Code))
			}
		}
		debitTotal = debitTotal.Add(l.Debit)
		creditTotal = creditTotal.Add(l.Credit)
		lines = append(lines, JournalEntryLine{
			TenantID:  in.TenantID,
			ID:        uuid.New().String(),
			AccountID: l.AccountID,
			Debit:     l.Debit,
			Credit:    l.Credit,
		})
	}

	if !debitTotal.Equal(creditTotal) {
		return nil, NewValidationError(fmt.Sprintf("journal entry does not balance: debits=%s credits=%s", debitTotal, creditTotal))
	}

	if in.ReversalOfJournalEntryID != "" {
		existing, err := s.journalEntryReversingID(tx, in.TenantID, in.ReversalOfJournalEntryID)
		if err != nil {
			return nil, err
		}
		if existing != "" {
			return nil, NewAlreadyReversedError(in.ReversalOfJournalEntryID)
		}
	}

	je := &JournalEntry{
		TenantID:                 in.TenantID,
		ID:                       uuid.New().String(),
		Date:                     in.Date,
		Description:              in.Description,
		LocationID:               in.LocationID,
		CreatedByUserID:          in.CreatedByUserID,
		CreatedAt:                time.Now().UTC(),
		Lines:                    lines,
		ReversalOfJournalEntryID: in.ReversalOfJournalEntryID,
		ReversalReason:           in.ReversalReason,
	}
	for i := range je.Lines {
		je.Lines[i].ID = uuid.New().String()
	}

	if err := s.SaveJournalEntry(tx, je); err != nil {
		return nil, err
	}
	return je, nil
}

// ReversalLines derives the swapped (debit<->credit) lines of an existing
// JournalEntry, per spec.md §4.C6's reversal derivation.
func ReversalLines(original *JournalEntry) []PostLineInput {
	out := make([]PostLineInput, 0, len(original.Lines))
	for _, l := range original.Lines {
		out = append(out, PostLineInput{
			AccountID: l.AccountID,
			Debit:     l.Credit,
			Credit:    l.Debit,
		})
	}
	return out
}

// PostReversal posts the reversal of an existing JournalEntry. It does not
// stamp void metadata on the original; VoidJournalEntry does that, and no
// document void or payment reversal flow in this package calls it, so an
// original entry's VoidedAt stays unset after it is reversed.
func (s *Storage) PostReversal(tx *bbolt.Tx, original *JournalEntry, reason, userID string, date Date, description string) (*JournalEntry, error) {
	rev, err := s.Post(tx, PostInput{
		TenantID:                 original.TenantID,
		Date:                     date,
		Description:              description,
		Lines:                    ReversalLines(original),
		CreatedByUserID:          userID,
		LocationID:               original.LocationID,
		ReversalOfJournalEntryID: original.ID,
		ReversalReason:           reason,
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

func linesToDeltas(lines []PostLineInput, sign int) map[string]Money {
	out := map[string]Money{}
	for _, l := range lines {
		net := l.Debit.Sub(l.Credit)
		if sign < 0 {
			net = net.Neg()
		}
		out[l.AccountID] = out[l.AccountID].Add(net)
	}
	return out
}

// AdjustmentLines computes the minimal balanced set of lines representing
// desiredLines − originalLines, per account, per spec.md §4.C6's
// adjustment derivation: positive net delta -> debit, negative -> credit,
// zero delta omitted. Returns (nil, nil) if the net delta is zero
// everywhere (no adjustment required). Returns an error if exactly one
// net-nonzero account remains (an unbalanceable single line).
func AdjustmentLines(originalLines, desiredLines []PostLineInput) ([]PostLineInput, error) {
	deltas := linesToDeltas(originalLines, -1)
	for acct, net := range linesToDeltas(desiredLines, 1) {
		deltas[acct] = deltas[acct].Add(net)
	}

	accounts := make([]string, 0, len(deltas))
	for acct := range deltas {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)

	var out []PostLineInput
	for _, acct := range accounts {
		net := deltas[acct]
		if net.IsZero() {
			continue
		}
		if net.IsPositive() {
			out = append(out, PostLineInput{AccountID: acct, Debit: net})
		} else {
			out = append(out, PostLineInput{AccountID: acct, Credit: net.Neg()})
		}
	}

	if len(out) == 0 {
		return nil, nil
	}
	if len(out) == 1 {
		return nil, NewValidationError("adjustment would leave a single unbalanced account delta")
	}
	return out, nil
}

// VoidJournalEntry stamps void metadata on the original entry. The
// original's lines are never touched — the reversal effect lives entirely
// in a separate reversal JournalEntry (spec.md §3, §9).
func (s *Storage) VoidJournalEntry(tx *bbolt.Tx, je *JournalEntry, reason, userID string) error {
	now := time.Now().UTC()
	je.VoidedAt = &now
	je.VoidReason = reason
	je.VoidedByUserID = userID
	return s.SaveJournalEntry(tx, je)
}
