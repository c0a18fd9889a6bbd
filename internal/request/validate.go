package request

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// AmountEpsilon absorbs float rounding when comparing the coding sum
// against the invoice total.
const AmountEpsilon = 0.01

// SumLines totals the coding line amounts.
func SumLines(lines []GLCodingEntry) float64 {
	var s float64
	for _, l := range lines {
		s += l.Amount
	}
	return s
}

// AmountsMatch reports whether the coding lines add up to the invoice total.
func AmountsMatch(lines []GLCodingEntry, invoiceAmount float64) bool {
	return math.Abs(SumLines(lines)-invoiceAmount) < AmountEpsilon
}

const createSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["approver", "invoice_number", "vendor_name", "invoice_amount", "gl_coding"],
  "properties": {
    "approver":       {"type": "string", "format": "email", "minLength": 3},
    "invoice_number": {"type": "string", "minLength": 1, "maxLength": 64},
    "vendor_name":    {"type": "string", "minLength": 1, "maxLength": 256},
    "invoice_amount": {"type": "number", "exclusiveMinimum": 0},
    "currency":       {"type": "string", "minLength": 3, "maxLength": 3},
    "invoice_date":   {"type": "string"},
    "comments":       {"type": "string", "maxLength": 2048},
    "attachments":    {"type": "array", "items": {"type": "string"}},
    "gl_coding": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["account_code", "facility_code", "amount"],
        "properties": {
          "account_code":  {"type": "string", "minLength": 1, "maxLength": 32},
          "facility_code": {"type": "string", "minLength": 1, "maxLength": 32},
          "tax_code":      {"type": "string", "maxLength": 16},
          "amount":        {"type": "number"},
          "description":   {"type": "string", "maxLength": 512}
        }
      }
    }
  }
}`

var createSchemaLoader = gojsonschema.NewStringLoader(createSchema)

// ValidateCreatePayload checks the raw submission body against the schema.
// The returned error lists every violation, one per line.
func ValidateCreatePayload(raw []byte) error {
	res, err := gojsonschema.Validate(createSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if res.Valid() {
		return nil
	}
	var b strings.Builder
	for i, e := range res.Errors() {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.String())
	}
	return errors.New(b.String())
}
