package orders

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits kept for every amount.
const MoneyScale = 2

func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Round(MoneyScale), nil
}

func MustMoney(s string) decimal.Decimal {
	d, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatMoney renders an amount with exactly two fractional digits ("29.90").
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}

// CalculateTotal sums unitPrice*quantity over items, rounding only at MoneyScale.
func CalculateTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total.Round(MoneyScale)
}
