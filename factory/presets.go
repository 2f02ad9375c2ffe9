/*
presets.go - Built-in leave catalog

PURPOSE:
  The catalog the server loads when CATALOG_FILE is unset: the two
  monetizable civil-service leave types and the regular national
  holidays. Agencies with other rules ship their own JSON file.

AVAILABLE LEAVE TYPES:
  VL: Vacation Leave, 1.25 days/month, unbounded, monetizable
  SL: Sick Leave, 1.25 days/month, unbounded, medical certificate,
      monetizable

CUSTOMIZATION:
  VacationLeave / SickLeave return the JSON form so a custom catalog can
  start from them and change the cap or rate.
*/
package factory

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
)

// MonthlyCredit is the standard civil-service credit of VL and SL.
var MonthlyCredit = decimal.RequireFromString("1.25")

func VacationLeave(id string) LeaveTypeJSON {
	return LeaveTypeJSON{
		ID:          id,
		Code:        ledger.CodeVacationLeave,
		Name:        "Vacation Leave",
		AccrualRate: MonthlyCredit,
		Monetizable: true,
	}
}

func SickLeave(id string) LeaveTypeJSON {
	return LeaveTypeJSON{
		ID:                         id,
		Code:                       ledger.CodeSickLeave,
		Name:                       "Sick Leave",
		AccrualRate:                MonthlyCredit,
		RequiresMedicalCertificate: true,
		Monetizable:                true,
	}
}

// RegularHolidays are the fixed-date national holidays.
func RegularHolidays() []HolidayJSON {
	fixed := []struct {
		month time.Month
		day   int
		name  string
	}{
		{time.January, 1, "New Year's Day"},
		{time.April, 9, "Araw ng Kagitingan"},
		{time.May, 1, "Labor Day"},
		{time.June, 12, "Independence Day"},
		{time.November, 30, "Bonifacio Day"},
		{time.December, 25, "Christmas Day"},
		{time.December, 30, "Rizal Day"},
	}
	out := make([]HolidayJSON, 0, len(fixed))
	for _, h := range fixed {
		// The year is ignored for recurring entries.
		out = append(out, HolidayJSON{Date: generic.NewDate(2000, h.month, h.day), Name: h.name, Recurring: true})
	}
	return out
}

// DefaultCatalogJSON is the built-in catalog.
var DefaultCatalogJSON = mustJSON(CatalogJSON{
	LeaveTypes: []LeaveTypeJSON{VacationLeave("lt-vl"), SickLeave("lt-sl")},
	Holidays:   RegularHolidays(),
})

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
