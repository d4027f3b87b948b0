package retail_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/stockroom/retail"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSummarizeInventory(t *testing.T) {
	items := []retail.InventoryItem{
		{Name: "Widget", Price: dec("2.50"), Quantity: 10, LowStockThreshold: 5},
		{Name: "Gadget", Price: dec("0.10"), Quantity: 3, LowStockThreshold: 5},
		{Name: "Sprocket", Price: dec("1.00"), Quantity: 5, LowStockThreshold: 5},
	}

	s := retail.SummarizeInventory(items)

	assert.True(t, s.TotalValue.Equal(dec("30.30")), s.TotalValue.String())
	assert.Equal(t, 3, s.UniqueItems)
	assert.Equal(t, 18, s.TotalUnits)
	assert.Equal(t, 1, s.LowStockCount, "threshold is exclusive")
	assert.Equal(t, 2, s.HealthyCount)
}

func TestSummarizeInventory_Empty(t *testing.T) {
	s := retail.SummarizeInventory(nil)

	assert.True(t, s.TotalValue.IsZero())
	assert.Zero(t, s.UniqueItems)
}

func TestSummarizeSales(t *testing.T) {
	sales := []retail.Sale{
		{Quantity: 2, Amount: dec("10.00"), Category: "Tools", Verified: true},
		{Quantity: 1, Amount: dec("4.50"), Category: "Garden", Verified: false},
		{Quantity: 3, Amount: dec("7.25"), Category: "Garden", Verified: true},
		{Quantity: 1, Amount: dec("0.75"), Verified: false},
	}

	s := retail.SummarizeSales(sales)

	assert.True(t, s.VerifiedRevenue.Equal(dec("17.25")), s.VerifiedRevenue.String())
	assert.True(t, s.PendingValue.Equal(dec("5.25")), s.PendingValue.String())
	assert.Equal(t, 2, s.VerifiedCount)
	assert.Equal(t, 2, s.PendingCount)
	assert.Equal(t, 7, s.UnitsSold)
	assert.Equal(t, "Garden", s.TopCategory)
	assert.True(t, s.TopCategorySum.Equal(dec("11.75")))
}

func TestSummarizeSales_TieGoesToFirstCategory(t *testing.T) {
	sales := []retail.Sale{
		{Quantity: 1, Amount: dec("5"), Category: "Tools"},
		{Quantity: 1, Amount: dec("5"), Category: "Garden"},
	}

	assert.Equal(t, "Garden", retail.SummarizeSales(sales).TopCategory)
}
