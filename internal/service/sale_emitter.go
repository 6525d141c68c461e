package service

import (
	"time"

	"order-fulfillment/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LineCost is the cost basis resolved for one order line at approval
type LineCost struct {
	Line        models.OrderLine
	TotalCost   decimal.Decimal
	Source      string
	Allocations []models.LotAllocation
}

// EmitSale builds the immutable sale for an approved order. It performs no
// validation: quantities, costs and payments were settled by the workflow.
func EmitSale(order *models.Order, costs []LineCost, payments []models.Payment, approvedBy string, at time.Time) *models.Sale {
	sale := &models.Sale{
		OrderID:     order.ID,
		TotalAmount: decimal.Zero,
		TotalCost:   decimal.Zero,
		CreatedBy:   approvedBy,
		CreatedAt:   at,
		Lines:       make([]models.SaleLine, 0, len(costs)),
		Payments:    make([]models.Payment, 0, len(payments)),
	}

	for _, c := range costs {
		line := saleLine(c)
		sale.Lines = append(sale.Lines, line)
		sale.TotalAmount = sale.TotalAmount.Add(line.LineTotal)
		sale.TotalCost = sale.TotalCost.Add(line.LineCost)
	}
	sale.TotalProfit = sale.TotalAmount.Sub(sale.TotalCost)

	for _, p := range payments {
		sale.Payments = append(sale.Payments, models.Payment{
			Method:    p.Method,
			Amount:    p.Amount,
			Reference: p.Reference,
		})
	}

	return sale
}

func saleLine(c LineCost) models.SaleLine {
	qty := decimal.NewFromInt(int64(c.Line.Quantity))
	unitCost := c.TotalCost.DivRound(qty, 4)
	profit := c.Line.UnitPrice.Sub(unitCost)

	margin := decimal.Zero
	if c.Line.UnitPrice.IsPositive() {
		margin = profit.Div(c.Line.UnitPrice).Mul(hundred).Round(2)
	}

	return models.SaleLine{
		ProductID:    c.Line.ProductID,
		Quantity:     c.Line.Quantity,
		UnitPrice:    c.Line.UnitPrice,
		UnitCost:     unitCost,
		LineTotal:    c.Line.UnitPrice.Mul(qty),
		LineCost:     c.TotalCost,
		ProfitAmount: profit,
		ProfitMargin: margin,
		CostSource:   c.Source,
		Allocations:  append([]models.LotAllocation(nil), c.Allocations...),
	}
}
