package request

import (
	"strings"
	"testing"
)

func TestAmountsMatch(t *testing.T) {
	lines := []GLCodingEntry{{Amount: 1000.00}, {Amount: 499.99}}
	if AmountsMatch(lines, 1500.00) {
		t.Fatal("one cent short should not match")
	}
	if !AmountsMatch(lines, 1499.99) {
		t.Fatal("exact sum should match")
	}
	// sub-epsilon drift from float accumulation is tolerated
	drift := []GLCodingEntry{{Amount: 0.1}, {Amount: 0.2}}
	if !AmountsMatch(drift, 0.3) {
		t.Fatal("float drift within epsilon should match")
	}
	if !AmountsMatch([]GLCodingEntry{{Amount: 1500.005}}, 1500.00) {
		t.Fatal("half-cent difference is inside the tolerance")
	}
}

func TestValidateCreatePayload(t *testing.T) {
	good := `{
		"approver": "boss@example.com",
		"invoice_number": "INV-100",
		"vendor_name": "Acme Rail Services",
		"invoice_amount": 1500.00,
		"currency": "CAD",
		"gl_coding": [
			{"account_code": "6400", "facility_code": "TOR-01", "amount": 1500.00}
		]
	}`
	if err := ValidateCreatePayload([]byte(good)); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	missing := `{"approver": "boss@example.com", "invoice_amount": 10, "gl_coding": []}`
	err := ValidateCreatePayload([]byte(missing))
	if err == nil {
		t.Fatal("invalid payload accepted")
	}
	msg := err.Error()
	for _, want := range []string{"invoice_number", "vendor_name", "gl_coding"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}

	if err := ValidateCreatePayload([]byte(`not json`)); err == nil {
		t.Fatal("garbage accepted")
	}
}
