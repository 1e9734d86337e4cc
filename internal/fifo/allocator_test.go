package fifo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokosamanda/backend/internal/domain"
)

var day0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func batch(id int64, daysAfter int, remaining int) domain.Batch {
	return domain.Batch{
		ID:                id,
		ProductID:         7,
		QuantityOriginal:  remaining,
		QuantityRemaining: remaining,
		BatchDate:         day0.AddDate(0, 0, daysAfter),
	}
}

func TestAllocateConsumesOldestBatchFirst(t *testing.T) {
	batches := []domain.Batch{batch(3, 2, 5), batch(1, 0, 5), batch(2, 1, 5)}

	plan, shortfall := Allocate(batches, 12)

	require.Zero(t, shortfall)
	require.Equal(t, []domain.Allocation{
		{BatchID: 1, ProductID: 7, Quantity: 5},
		{BatchID: 2, ProductID: 7, Quantity: 5},
		{BatchID: 3, ProductID: 7, Quantity: 2},
	}, plan)
}

func TestAllocateBreaksDateTiesByCreationOrder(t *testing.T) {
	batches := []domain.Batch{batch(9, 0, 4), batch(4, 0, 4)}

	plan, shortfall := Allocate(batches, 6)

	require.Zero(t, shortfall)
	require.Len(t, plan, 2)
	require.Equal(t, int64(4), plan[0].BatchID)
	require.Equal(t, 4, plan[0].Quantity)
	require.Equal(t, int64(9), plan[1].BatchID)
	require.Equal(t, 2, plan[1].Quantity)
}

func TestAllocateReportsShortfallWithPartialPlan(t *testing.T) {
	batches := []domain.Batch{batch(1, 0, 3), batch(2, 1, 2)}

	plan, shortfall := Allocate(batches, 9)

	require.Equal(t, 4, shortfall)
	require.Equal(t, 5, Total(plan))
	require.LessOrEqual(t, Total(plan), Available(batches))
}

func TestAllocateSkipsExhaustedBatches(t *testing.T) {
	batches := []domain.Batch{batch(1, 0, 0), batch(2, 1, 3)}

	plan, shortfall := Allocate(batches, 2)

	require.Zero(t, shortfall)
	require.Equal(t, []domain.Allocation{{BatchID: 2, ProductID: 7, Quantity: 2}}, plan)
}

func TestAllocateNonPositiveRequest(t *testing.T) {
	plan, shortfall := Allocate([]domain.Batch{batch(1, 0, 3)}, 0)
	require.Empty(t, plan)
	require.Zero(t, shortfall)

	plan, shortfall = Allocate(nil, -2)
	require.Empty(t, plan)
	require.Zero(t, shortfall)
}

func TestAllocateDoesNotReorderInput(t *testing.T) {
	batches := []domain.Batch{batch(2, 1, 1), batch(1, 0, 1)}

	_, _ = Allocate(batches, 2)

	require.Equal(t, int64(2), batches[0].ID)
	require.Equal(t, int64(1), batches[1].ID)
}

func TestAllocateNeverPlansMoreThanAvailable(t *testing.T) {
	batches := []domain.Batch{batch(1, 0, 2), batch(2, 3, 7), batch(3, 1, 1)}
	for requested := 0; requested <= 15; requested++ {
		plan, shortfall := Allocate(batches, requested)
		require.LessOrEqual(t, Total(plan), Available(batches))
		if requested > 0 {
			require.Equal(t, requested, Total(plan)+shortfall)
		}
	}
}
