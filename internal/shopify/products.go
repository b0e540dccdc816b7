package shopify

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
)

// ProductPage is one page of a collection's product connection.
type ProductPage struct {
	Products   []domain.CatalogProduct
	EndCursor  string
	HasNext    bool
	RetrieveAt time.Time
}

const collectionProductsQuery = `
query collectionProducts($id: ID!, $first: Int!, $after: String) {
	collection(id: $id) {
		products(first: $first, after: $after) {
			pageInfo { hasNextPage endCursor }
			nodes {
				id
				title
				vendor
				createdAt
				publishedAt
				status
				totalInventory
				tags
				priceRangeV2 { minVariantPrice { amount } }
			}
		}
	}
}`

type productNode struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Vendor         string   `json:"vendor"`
	CreatedAt      string   `json:"createdAt"`
	PublishedAt    string   `json:"publishedAt"`
	Status         string   `json:"status"`
	TotalInventory int      `json:"totalInventory"`
	Tags           []string `json:"tags"`
	PriceRangeV2   struct {
		MinVariantPrice struct {
			Amount string `json:"amount"`
		} `json:"minVariantPrice"`
	} `json:"priceRangeV2"`
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type collectionProductsData struct {
	Collection *struct {
		Products struct {
			PageInfo pageInfo      `json:"pageInfo"`
			Nodes    []productNode `json:"nodes"`
		} `json:"products"`
	} `json:"collection"`
}

// ErrCollectionNotFound indicates the collection GID resolved to nothing.
var ErrCollectionNotFound = errors.New("shopify: collection not found")

const shopProductsQuery = `
query products($first: Int!, $after: String) {
	products(first: $first, after: $after, sortKey: CREATED_AT) {
		pageInfo { hasNextPage endCursor }
		nodes {
			id
			title
			vendor
			createdAt
			publishedAt
			status
			totalInventory
			tags
			priceRangeV2 { minVariantPrice { amount } }
		}
	}
}`

type shopProductsData struct {
	Products struct {
		PageInfo pageInfo      `json:"pageInfo"`
		Nodes    []productNode `json:"nodes"`
	} `json:"products"`
}

// ProductsPage fetches one page of the shop's full product catalog, used by
// shop-wide reports.
func (c *Client) ProductsPage(ctx context.Context, pageSize int, cursor string) (ProductPage, error) {
	variables := map[string]any{
		"first": clampPageSize(pageSize),
	}
	if cursor = strings.TrimSpace(cursor); cursor != "" {
		variables["after"] = cursor
	}

	var data shopProductsData
	if err := c.graphql(ctx, shopProductsQuery, variables, &data); err != nil {
		return ProductPage{}, err
	}

	page := ProductPage{
		EndCursor:  data.Products.PageInfo.EndCursor,
		HasNext:    data.Products.PageInfo.HasNextPage,
		RetrieveAt: time.Now().UTC(),
	}
	for _, node := range data.Products.Nodes {
		page.Products = append(page.Products, decodeProductNode(node))
	}
	return page, nil
}

// CollectionProductsPage fetches one page of the collection's products. Pass
// an empty cursor for the first page; feed EndCursor back for the next.
func (c *Client) CollectionProductsPage(ctx context.Context, collectionID string, pageSize int, cursor string) (ProductPage, error) {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return ProductPage{}, errors.New("shopify: collection id is required")
	}

	variables := map[string]any{
		"id":    collectionID,
		"first": clampPageSize(pageSize),
	}
	if cursor = strings.TrimSpace(cursor); cursor != "" {
		variables["after"] = cursor
	}

	var data collectionProductsData
	if err := c.graphql(ctx, collectionProductsQuery, variables, &data); err != nil {
		return ProductPage{}, err
	}
	if data.Collection == nil {
		return ProductPage{}, ErrCollectionNotFound
	}

	page := ProductPage{
		EndCursor:  data.Collection.Products.PageInfo.EndCursor,
		HasNext:    data.Collection.Products.PageInfo.HasNextPage,
		RetrieveAt: time.Now().UTC(),
	}
	for _, node := range data.Collection.Products.Nodes {
		page.Products = append(page.Products, decodeProductNode(node))
	}
	return page, nil
}

func decodeProductNode(node productNode) domain.CatalogProduct {
	product := domain.CatalogProduct{
		ID:        node.ID,
		Title:     node.Title,
		Vendor:    node.Vendor,
		Inventory: node.TotalInventory,
		Tags:      node.Tags,
		Status:    decodeProductStatus(node.Status),
	}
	if at, err := time.Parse(time.RFC3339, node.CreatedAt); err == nil {
		product.CreatedAt = at
	}
	if at, err := time.Parse(time.RFC3339, node.PublishedAt); err == nil {
		product.PublishedAt = at
	}
	if amount, err := strconv.ParseFloat(strings.TrimSpace(node.PriceRangeV2.MinVariantPrice.Amount), 64); err == nil {
		product.UnitPrice = amount
	}
	return product
}

func decodeProductStatus(status string) domain.ProductStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "ACTIVE":
		return domain.ProductStatusActive
	case "DRAFT":
		return domain.ProductStatusDraft
	case "ARCHIVED":
		return domain.ProductStatusArchived
	default:
		return domain.ProductStatus(strings.ToLower(status))
	}
}
