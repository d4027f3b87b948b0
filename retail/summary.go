package retail

import (
	"sort"

	"github.com/shopspring/decimal"
)

// InventorySummary aggregates the stock table.
type InventorySummary struct {
	TotalValue    decimal.Decimal
	UniqueItems   int
	LowStockCount int
	HealthyCount  int
	TotalUnits    int
}

func SummarizeInventory(items []InventoryItem) InventorySummary {
	s := InventorySummary{TotalValue: decimal.Zero, UniqueItems: len(items)}
	for _, item := range items {
		s.TotalValue = s.TotalValue.Add(item.StockValue())
		s.TotalUnits += item.Quantity
		if item.LowStock() {
			s.LowStockCount++
		} else {
			s.HealthyCount++
		}
	}
	return s
}

// LowStockItems returns the items below their alert level, in input order.
func LowStockItems(items []InventoryItem) []InventoryItem {
	var low []InventoryItem
	for _, item := range items {
		if item.LowStock() {
			low = append(low, item)
		}
	}
	return low
}

// SalesSummary splits revenue by verification state.
type SalesSummary struct {
	VerifiedRevenue decimal.Decimal
	PendingValue    decimal.Decimal
	PendingCount    int
	VerifiedCount   int
	UnitsSold       int
	TopCategory     string
	TopCategorySum  decimal.Decimal
}

func SummarizeSales(sales []Sale) SalesSummary {
	s := SalesSummary{
		VerifiedRevenue: decimal.Zero,
		PendingValue:    decimal.Zero,
		TopCategorySum:  decimal.Zero,
	}
	byCategory := make(map[string]decimal.Decimal)
	for _, sale := range sales {
		s.UnitsSold += sale.Quantity
		if sale.Verified {
			s.VerifiedRevenue = s.VerifiedRevenue.Add(sale.Amount)
			s.VerifiedCount++
		} else {
			s.PendingValue = s.PendingValue.Add(sale.Amount)
			s.PendingCount++
		}
		category := sale.Category
		if category == "" {
			category = "Uncategorized"
		}
		byCategory[category] = byCategory[category].Add(sale.Amount)
	}

	// Ties go to the alphabetically first category so the result is stable.
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		if s.TopCategory == "" || byCategory[c].GreaterThan(s.TopCategorySum) {
			s.TopCategory = c
			s.TopCategorySum = byCategory[c]
		}
	}
	return s
}
