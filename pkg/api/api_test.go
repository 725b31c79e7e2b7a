package api

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

func TestTransactionID_Deterministic(t *testing.T) {
	date := civil.Date{Year: 2026, Month: 1, Day: 8}
	a := TransactionID(date, "shop", decimal.RequireFromString("59.80"))
	b := TransactionID(date, "shop", decimal.RequireFromString("59.8"))

	if a != b {
		t.Fatalf("expected equal ids, got %q and %q", a, b)
	}
	if len(a) != idLength {
		t.Errorf("expected id length %d, got %d", idLength, len(a))
	}

	c := TransactionID(date, "shop", decimal.RequireFromString("59.81"))
	if a == c {
		t.Errorf("expected different ids for different amounts")
	}
}

func TestTransactionID_KnownValue(t *testing.T) {
	got := TransactionID(civil.Date{Year: 2026, Month: 1, Day: 8}, "LIDL WARSZAWA", decimal.RequireFromString("59.80"))
	if want := "1e3a94ee6ff0985a"; got != want {
		t.Errorf("TransactionID = %q, want %q", got, want)
	}
}

func TestNewTransaction(t *testing.T) {
	tests := []struct {
		name         string
		signed       string
		counterparty string
		wantType     TransactionType
		wantAmount   string
		wantParty    string
	}{
		{name: "negative is expense", signed: "-59.80", counterparty: "shop", wantType: Expense, wantAmount: "59.8", wantParty: "shop"},
		{name: "positive is income", signed: "1200.00", counterparty: "ACME", wantType: Income, wantAmount: "1200", wantParty: "ACME"},
		{name: "zero is income", signed: "0", counterparty: "", wantType: Income, wantAmount: "0", wantParty: UnknownCounterparty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := NewTransaction(civil.Date{Year: 2026, Month: 1, Day: 8}, "desc", tt.counterparty,
				decimal.RequireFromString(tt.signed), "PLN")

			if txn.Type != tt.wantType {
				t.Errorf("type = %s, want %s", txn.Type, tt.wantType)
			}
			if !txn.Amount.Equal(decimal.RequireFromString(tt.wantAmount)) {
				t.Errorf("amount = %s, want %s", txn.Amount, tt.wantAmount)
			}
			if txn.Amount.IsNegative() {
				t.Errorf("amount must not be negative, got %s", txn.Amount)
			}
			if txn.Counterparty != tt.wantParty {
				t.Errorf("counterparty = %q, want %q", txn.Counterparty, tt.wantParty)
			}
			if !txn.Signed().Equal(decimal.RequireFromString(tt.signed)) {
				t.Errorf("signed = %s, want %s", txn.Signed(), tt.signed)
			}
		})
	}
}

func TestCategory_IsUnassigned(t *testing.T) {
	if !Unassigned.IsUnassigned() {
		t.Error("sentinel pair should be unassigned")
	}
	if (Category{Main: "Food", Sub: "Groceries"}).IsUnassigned() {
		t.Error("regular pair should not be unassigned")
	}
}
