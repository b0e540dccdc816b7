package shopify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
)

// OrderQuery restricts which orders an order page fetch returns.
type OrderQuery struct {
	CreatedAtMin time.Time
	CreatedAtMax time.Time
	Filter       domain.OrderStatusFilter
}

// OrderPage is one page of the shop's order connection.
type OrderPage struct {
	Orders    []domain.Order
	EndCursor string
	HasNext   bool
}

const ordersQuery = `
query orders($first: Int!, $after: String, $query: String) {
	orders(first: $first, after: $after, query: $query, sortKey: CREATED_AT) {
		pageInfo { hasNextPage endCursor }
		nodes {
			id
			createdAt
			lineItems(first: 100) {
				nodes {
					quantity
					product { id }
					originalTotalSet { shopMoney { amount } }
					discountedTotalSet { shopMoney { amount } }
				}
			}
		}
	}
}`

type moneyBag struct {
	ShopMoney struct {
		Amount string `json:"amount"`
	} `json:"shopMoney"`
}

type orderLineNode struct {
	Quantity int `json:"quantity"`
	Product  *struct {
		ID string `json:"id"`
	} `json:"product"`
	OriginalTotalSet   moneyBag `json:"originalTotalSet"`
	DiscountedTotalSet moneyBag `json:"discountedTotalSet"`
}

type orderNode struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	LineItems struct {
		Nodes []orderLineNode `json:"nodes"`
	} `json:"lineItems"`
}

type ordersData struct {
	Orders struct {
		PageInfo pageInfo    `json:"pageInfo"`
		Nodes    []orderNode `json:"nodes"`
	} `json:"orders"`
}

// OrdersPage fetches one page of historical orders matching the query. Pass an
// empty cursor for the first page; feed EndCursor back for the next.
func (c *Client) OrdersPage(ctx context.Context, query OrderQuery, pageSize int, cursor string) (OrderPage, error) {
	variables := map[string]any{
		"first": clampPageSize(pageSize),
	}
	if search := buildOrderSearch(query); search != "" {
		variables["query"] = search
	}
	if cursor = strings.TrimSpace(cursor); cursor != "" {
		variables["after"] = cursor
	}

	var data ordersData
	if err := c.graphql(ctx, ordersQuery, variables, &data); err != nil {
		return OrderPage{}, err
	}

	page := OrderPage{
		EndCursor: data.Orders.PageInfo.EndCursor,
		HasNext:   data.Orders.PageInfo.HasNextPage,
	}
	for _, node := range data.Orders.Nodes {
		page.Orders = append(page.Orders, decodeOrderNode(node))
	}
	return page, nil
}

func buildOrderSearch(query OrderQuery) string {
	var terms []string
	if !query.CreatedAtMin.IsZero() {
		terms = append(terms, fmt.Sprintf("created_at:>='%s'", query.CreatedAtMin.UTC().Format(time.RFC3339)))
	}
	if !query.CreatedAtMax.IsZero() {
		terms = append(terms, fmt.Sprintf("created_at:<='%s'", query.CreatedAtMax.UTC().Format(time.RFC3339)))
	}
	switch query.Filter {
	case domain.OrderFilterPaidOnly:
		terms = append(terms, "financial_status:paid")
	case domain.OrderFilterFulfilledOnly:
		terms = append(terms, "fulfillment_status:shipped")
	}
	return strings.Join(terms, " ")
}

func decodeOrderNode(node orderNode) domain.Order {
	order := domain.Order{ID: node.ID}
	if at, err := time.Parse(time.RFC3339, node.CreatedAt); err == nil {
		order.CreatedAt = at
	}
	for _, line := range node.LineItems.Nodes {
		// Lines whose product was deleted come back with a nil product.
		if line.Product == nil || line.Product.ID == "" {
			continue
		}
		gross, _ := parseAmount(line.OriginalTotalSet)
		discounted, ok := parseAmount(line.DiscountedTotalSet)
		if !ok {
			// Orders without discount data report only the gross total.
			discounted = gross
		}
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID:       line.Product.ID,
			Quantity:        line.Quantity,
			GrossAmount:     gross,
			DiscountedTotal: discounted,
		})
	}
	return order
}

func parseAmount(bag moneyBag) (float64, bool) {
	amount, err := strconv.ParseFloat(strings.TrimSpace(bag.ShopMoney.Amount), 64)
	if err != nil {
		return 0, false
	}
	return amount, true
}
