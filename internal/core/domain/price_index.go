package domain

import "math"

// UnavailablePrice is the lowest price of an event with no stock left.
const UnavailablePrice = math.MaxFloat64

// RecomputeLowestPrice returns the minimum price among categories that still
// have stock, or UnavailablePrice when none does.
func RecomputeLowestPrice(categories []TicketCategory) float64 {
	lowest := UnavailablePrice
	for _, c := range categories {
		if c.AvailableQuantity > 0 && c.Price < lowest {
			lowest = c.Price
		}
	}
	return lowest
}

// RecomputeTotalAvailable sums the available quantity of every category.
func RecomputeTotalAvailable(categories []TicketCategory) int {
	total := 0
	for _, c := range categories {
		total += c.AvailableQuantity
	}
	return total
}
