package cashflow

import (
	"time"

	"go.etcd.io/bbolt"
)

// Company is the tenant row: the outermost isolation boundary (spec.md
// GLOSSARY). Adapted from the teacher's multi_company.go Company type,
// narrowed from a multi-company consolidation model (intercompany
// transactions, elimination rules) — which has no caller in a
// single-tenant-per-company write path — down to the configuration
// spec.md §6 actually names.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`

	BaseCurrency string `json:"base_currency,omitempty"` // 3-letter code, or "" if unset
	TimeZone     string `json:"time_zone,omitempty"`      // IANA name, defaults to UTC

	AccountsReceivableAccountID string `json:"accounts_receivable_account_id,omitempty"`
	AccountsPayableAccountID    string `json:"accounts_payable_account_id,omitempty"`
	OpeningBalanceEquityAccountID string `json:"opening_balance_equity_account_id,omitempty"`
	InventoryAssetAccountID     string `json:"inventory_asset_account_id,omitempty"`
	COGSAccountID               string `json:"cogs_account_id,omitempty"`
	DefaultLocationID           string `json:"default_location_id,omitempty"`
}

// TimeZoneLocation resolves the tenant's configured IANA zone (UTC if
// unset/invalid).
func (c *Company) TimeZoneLocation() *time.Location {
	return LoadTimeZone(c.TimeZone)
}

func (s *Storage) SaveCompany(tx *bbolt.Tx, c *Company) error {
	return putJSON(tx, bucketCompanies, c.ID, c.ID, c)
}

func (s *Storage) GetCompany(tx *bbolt.Tx, tenantID string) (*Company, error) {
	var c Company
	if err := getJSON(tx, bucketCompanies, tenantID, tenantID, &c); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("company", tenantID)
		}
		return nil, err
	}
	return &c, nil
}

// Location is a stock-tracking site (warehouse, store) a tenant may
// configure; spec.md §4.C9 resolves a tracked line's location via
// invoice.location → item.default → company.default → this row with
// isDefault set.
type Location struct {
	TenantID  string `json:"tenant_id"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

func (s *Storage) SaveLocation(tx *bbolt.Tx, l *Location) error {
	return putJSON(tx, bucketLocations, l.TenantID, l.ID, l)
}

func (s *Storage) GetLocation(tx *bbolt.Tx, tenantID, id string) (*Location, error) {
	var l Location
	if err := getJSON(tx, bucketLocations, tenantID, id, &l); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("location", id)
		}
		return nil, err
	}
	return &l, nil
}

// DefaultLocation returns the tenant's isDefault=true location row, used
// as the last resort in the location-resolution chain.
func (s *Storage) DefaultLocation(tx *bbolt.Tx, tenantID string) (*Location, error) {
	var found *Location
	err := forEachTenant(tx, bucketLocations, tenantID, func(_, v []byte) error {
		var l Location
		if err := jsonUnmarshalBytes(v, &l); err != nil {
			return err
		}
		if l.IsDefault {
			cp := l
			found = &cp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, NewNotFoundError("default location", tenantID)
	}
	return found, nil
}

// Customer and Vendor are the counterparties of sales and purchase
// documents, respectively. Both carry an opening balance used by the
// Opening-Balance Poster (spec.md §4.C9/§4.C12, openingbalance.go).
type Customer struct {
	TenantID                           string `json:"tenant_id"`
	ID                                 string `json:"id"`
	Name                               string `json:"name"`
	OpeningBalance                     Money  `json:"opening_balance"`
	OpeningBalanceJournalEntryID       string `json:"opening_balance_journal_entry_id,omitempty"`
}

type Vendor struct {
	TenantID                     string `json:"tenant_id"`
	ID                           string `json:"id"`
	Name                         string `json:"name"`
	OpeningBalance               Money  `json:"opening_balance"`
	OpeningBalanceJournalEntryID string `json:"opening_balance_journal_entry_id,omitempty"`
}

func (s *Storage) SaveCustomer(tx *bbolt.Tx, c *Customer) error {
	return putJSON(tx, bucketCustomers, c.TenantID, c.ID, c)
}

func (s *Storage) GetCustomer(tx *bbolt.Tx, tenantID, id string) (*Customer, error) {
	var c Customer
	if err := getJSON(tx, bucketCustomers, tenantID, id, &c); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("customer", id)
		}
		return nil, err
	}
	return &c, nil
}

// ListCustomers returns every customer row for the tenant.
func (s *Storage) ListCustomers(tx *bbolt.Tx, tenantID string) ([]*Customer, error) {
	var out []*Customer
	err := forEachTenant(tx, bucketCustomers, tenantID, func(_, v []byte) error {
		var c Customer
		if err := jsonUnmarshalBytes(v, &c); err != nil {
			return err
		}
		cp := c
		out = append(out, &cp)
		return nil
	})
	return out, err
}

func (s *Storage) SaveVendor(tx *bbolt.Tx, v *Vendor) error {
	return putJSON(tx, bucketVendors, v.TenantID, v.ID, v)
}

func (s *Storage) GetVendor(tx *bbolt.Tx, tenantID, id string) (*Vendor, error) {
	var v Vendor
	if err := getJSON(tx, bucketVendors, tenantID, id, &v); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("vendor", id)
		}
		return nil, err
	}
	return &v, nil
}

// ListVendors returns every vendor row for the tenant.
func (s *Storage) ListVendors(tx *bbolt.Tx, tenantID string) ([]*Vendor, error) {
	var out []*Vendor
	err := forEachTenant(tx, bucketVendors, tenantID, func(_, v []byte) error {
		var vd Vendor
		if err := jsonUnmarshalBytes(v, &vd); err != nil {
			return err
		}
		cp := vd
		out = append(out, &cp)
		return nil
	})
	return out, err
}

// Item is a catalog line: a service (no inventory tracking) or a tracked
// goods item carrying a default income account and, if tracked, a default
// location.
type Item struct {
	TenantID         string `json:"tenant_id"`
	ID               string `json:"id"`
	Name             string `json:"name"`
	Kind             string `json:"kind"` // "SERVICE" | "GOODS"
	TrackInventory   bool   `json:"track_inventory"`
	IncomeAccountID  string `json:"income_account_id,omitempty"`
	DefaultLocationID string `json:"default_location_id,omitempty"`
}

func (s *Storage) SaveItem(tx *bbolt.Tx, it *Item) error {
	return putJSON(tx, bucketItems, it.TenantID, it.ID, it)
}

func (s *Storage) GetItem(tx *bbolt.Tx, tenantID, id string) (*Item, error) {
	var it Item
	if err := getJSON(tx, bucketItems, tenantID, id, &it); err != nil {
		if err == errNotFoundInBucket {
			return nil, NewNotFoundError("item", id)
		}
		return nil, err
	}
	return &it, nil
}

// ListItems returns every catalog item for the tenant.
func (s *Storage) ListItems(tx *bbolt.Tx, tenantID string) ([]*Item, error) {
	var out []*Item
	err := forEachTenant(tx, bucketItems, tenantID, func(_, v []byte) error {
		var it Item
		if err := jsonUnmarshalBytes(v, &it); err != nil {
			return err
		}
		cp := it
		out = append(out, &cp)
		return nil
	})
	return out, err
}

// ResolveLocation implements the location-resolution chain from spec.md
// §4.C9: invoice.location → item.default → company.default → the tenant's
// isDefault location row.
func (s *Storage) ResolveLocation(tx *bbolt.Tx, tenantID string, lineLocationID string, item *Item, company *Company) (*Location, error) {
	if lineLocationID != "" {
		return s.GetLocation(tx, tenantID, lineLocationID)
	}
	if item.DefaultLocationID != "" {
		return s.GetLocation(tx, tenantID, item.DefaultLocationID)
	}
	if company.DefaultLocationID != "" {
		return s.GetLocation(tx, tenantID, company.DefaultLocationID)
	}
	return s.DefaultLocation(tx, tenantID)
}
