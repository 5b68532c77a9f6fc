package fiscal

import (
	"fmt"
	"math"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// ThreeWayInput carries the amounts of the three documents reconciled
// before an invoice is accepted.
type ThreeWayInput struct {
	PurchaseOrderCents contracts.Cents
	ReceiptCents       contracts.Cents
	InvoiceCents       contracts.Cents
}

// ThreeWayResult reports the reconciliation outcome. MaxDelta is the
// largest relative deviation from the purchase-order amount.
type ThreeWayResult struct {
	Matched  bool    `json:"matched"`
	MaxDelta float64 `json:"max_delta"`
	Detail   string  `json:"detail"`
}

// ThreeWayMatch checks PO, goods/services receipt and invoice amounts
// against each other within the given relative tolerance (0.05 = 5%).
func ThreeWayMatch(in ThreeWayInput, tolerance float64) ThreeWayResult {
	if in.PurchaseOrderCents <= 0 {
		return ThreeWayResult{Matched: false, MaxDelta: math.Inf(1), Detail: "purchase order amount missing or non-positive"}
	}

	base := float64(in.PurchaseOrderCents)
	receiptDelta := math.Abs(float64(in.ReceiptCents)-base) / base
	invoiceDelta := math.Abs(float64(in.InvoiceCents)-base) / base
	maxDelta := math.Max(receiptDelta, invoiceDelta)

	if maxDelta > tolerance {
		return ThreeWayResult{
			Matched:  false,
			MaxDelta: maxDelta,
			Detail:   fmt.Sprintf("3-way match delta %.2f%% exceeds tolerance %.2f%%", maxDelta*100, tolerance*100),
		}
	}
	return ThreeWayResult{Matched: true, MaxDelta: maxDelta, Detail: "within tolerance"}
}
