// Package fifo plans stock deductions against dated batches, oldest first.
package fifo

import (
	"slices"

	"tokosamanda/backend/internal/domain"
)

// Allocate plans a deduction of requestedQty units against openBatches.
//
// Batches are walked by batch date, then by creation order, and each one gives
// up as much as it still holds. When the batches cannot cover the request the
// partial plan is returned together with the missing quantity; callers must not
// apply a plan whose shortfall is positive. openBatches is not modified.
func Allocate(openBatches []domain.Batch, requestedQty int) (plan []domain.Allocation, shortfall int) {
	if requestedQty <= 0 {
		return nil, 0
	}

	ordered := slices.Clone(openBatches)
	slices.SortStableFunc(ordered, func(a, b domain.Batch) int {
		switch {
		case a.FIFOBefore(b):
			return -1
		case b.FIFOBefore(a):
			return 1
		default:
			return 0
		}
	})

	remaining := requestedQty
	for _, batch := range ordered {
		if remaining == 0 {
			break
		}
		if batch.QuantityRemaining <= 0 {
			continue
		}
		take := min(remaining, batch.QuantityRemaining)
		plan = append(plan, domain.Allocation{
			BatchID:   batch.ID,
			ProductID: batch.ProductID,
			Quantity:  take,
		})
		remaining -= take
	}
	return plan, remaining
}

// Total sums the quantity of a plan.
func Total(plan []domain.Allocation) int {
	total := 0
	for _, alloc := range plan {
		total += alloc.Quantity
	}
	return total
}

// Available sums the remaining quantity of the given batches.
func Available(batches []domain.Batch) int {
	total := 0
	for _, batch := range batches {
		if batch.QuantityRemaining > 0 {
			total += batch.QuantityRemaining
		}
	}
	return total
}
