/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts a JSON catalog into the reference data the server boots with:
  leave types, the agency holiday calendar and (optionally) the role
  grants of the authorization policy. HR can adjust rates, caps and
  holidays without a code change.

JSON SCHEMA:
  {
    "leave_types": [
      {
        "id": "lt-vl",
        "code": "VL",
        "name": "Vacation Leave",
        "accrual_rate": "1.25",
        "max_balance": "300",
        "monetizable": true
      }
    ],
    "holidays": [
      {"date": "2025-06-12", "name": "Independence Day", "recurring": true}
    ],
    "grants": {
      "supervisor": {"leave": ["submit", "cancel", "approve"]}
    }
  }

KEY FEATURES:
  - Rates and caps are decimals (string or number), never float64
  - Missing grants fall back to authz.Default()
  - Apply seeds leave types through the directory service, so every
    seeded type is audited like a manual change

USAGE:
  f := factory.NewCatalogFactory()
  cat, err := f.LoadFile("catalog.json")       // or f.ParseCatalog(factory.DefaultCatalogJSON)
  n, err := cat.Apply(ctx, directorySvc, nil)

SEE ALSO:
  - presets.go: Built-in leave types and holidays
  - directory/service.go: PutLeaveType validation
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/warp/hr-ledger/authz"
	"github.com/warp/hr-ledger/directory"
	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of a catalog.
type CatalogJSON struct {
	LeaveTypes []LeaveTypeJSON                `json:"leave_types"`
	Holidays   []HolidayJSON                  `json:"holidays,omitempty"`
	Grants     map[string]map[string][]string `json:"grants,omitempty"` // role -> module -> actions
}

// LeaveTypeJSON represents one leave type.
type LeaveTypeJSON struct {
	ID                         string           `json:"id"`
	Code                       string           `json:"code"`
	Name                       string           `json:"name"`
	AccrualRate                decimal.Decimal  `json:"accrual_rate"`          // days per month
	MaxBalance                 *decimal.Decimal `json:"max_balance,omitempty"` // omitted = unbounded
	RequiresMedicalCertificate bool             `json:"requires_medical_certificate,omitempty"`
	Monetizable                bool             `json:"monetizable,omitempty"`
}

// HolidayJSON represents one non-working day.
type HolidayJSON struct {
	Date      generic.Date `json:"date"`
	Name      string       `json:"name"`
	Recurring bool         `json:"recurring,omitempty"` // same month/day every year
}

// Catalog is the parsed, ready-to-wire form.
type Catalog struct {
	LeaveTypes []ledger.LeaveType
	Holidays   *generic.HolidaySet
	Policy     *authz.Policy
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts JSON catalogs to Go structs.
type CatalogFactory struct{}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// ParseCatalog parses a JSON string into a Catalog.
func (f *CatalogFactory) ParseCatalog(jsonStr string) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// LoadFile reads a catalog from disk. An empty path loads the built-in
// catalog.
func (f *CatalogFactory) LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return f.ParseCatalog(DefaultCatalogJSON)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return f.ParseCatalog(string(b))
}

// FromJSON converts CatalogJSON to a Catalog.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) (*Catalog, error) {
	cat := &Catalog{Holidays: generic.NewHolidaySet()}

	seenID := make(map[string]bool)
	seenCode := make(map[string]bool)
	for i, lj := range cj.LeaveTypes {
		if lj.ID == "" || lj.Code == "" {
			return nil, generic.Invalid(fmt.Sprintf("leave_types[%d]", i), "id and code are required")
		}
		if seenID[lj.ID] || seenCode[lj.Code] {
			return nil, generic.Invalid(fmt.Sprintf("leave_types[%d]", i), "duplicate id or code "+lj.Code)
		}
		seenID[lj.ID], seenCode[lj.Code] = true, true

		name := lj.Name
		if name == "" {
			name = lj.Code
		}
		cat.LeaveTypes = append(cat.LeaveTypes, ledger.LeaveType{
			ID:                         lj.ID,
			Code:                       lj.Code,
			Name:                       name,
			AccrualRate:                lj.AccrualRate,
			MaxBalance:                 lj.MaxBalance,
			RequiresMedicalCertificate: lj.RequiresMedicalCertificate,
			Monetizable:                lj.Monetizable,
		})
	}

	for i, hj := range cj.Holidays {
		if hj.Date.IsZero() {
			return nil, generic.Invalid(fmt.Sprintf("holidays[%d]", i), "date is required")
		}
		cat.Holidays.Add(hj.Date, hj.Name, hj.Recurring)
	}

	if len(cj.Grants) > 0 {
		cat.Policy = authz.FromGrants(cj.Grants)
	} else {
		cat.Policy = authz.Default()
	}
	return cat, nil
}

// Apply upserts every leave type through the directory service and
// returns how many were written. A nil actor runs as the system. Types
// already stored with the same settings are skipped.
func (c *Catalog) Apply(ctx context.Context, dir *directory.Service, actor *generic.Actor) (int, error) {
	written := 0
	for _, lt := range c.LeaveTypes {
		existing, err := dir.GetLeaveType(ctx, lt.ID)
		if err == nil && sameSettings(existing, lt) {
			continue
		}
		if err != nil && generic.KindOf(err) != generic.KindNotFound {
			return written, fmt.Errorf("seed leave type %s: %w", lt.Code, err)
		}
		if _, err := dir.PutLeaveType(ctx, actor, lt); err != nil {
			return written, fmt.Errorf("seed leave type %s: %w", lt.Code, err)
		}
		written++
	}
	return written, nil
}

func sameSettings(a, b ledger.LeaveType) bool {
	if a.Code != b.Code || a.Name != b.Name || !a.AccrualRate.Equal(b.AccrualRate) ||
		a.RequiresMedicalCertificate != b.RequiresMedicalCertificate || a.Monetizable != b.Monetizable {
		return false
	}
	if a.MaxBalance == nil || b.MaxBalance == nil {
		return a.MaxBalance == nil && b.MaxBalance == nil
	}
	return a.MaxBalance.Equal(*b.MaxBalance)
}
