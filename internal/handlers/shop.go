package handlers

import (
	"net/http"
	"strings"

	"github.com/shelfsort/api/internal/platform/requestctx"
)

const shopDomainHeader = "X-Shopify-Shop-Domain"

// ShopContext resolves the acting shop for every request. The header set by
// embedded-app proxies wins; otherwise the configured store domain applies.
func ShopContext(defaultShop string) func(http.Handler) http.Handler {
	defaultShop = strings.TrimSpace(defaultShop)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			shop := strings.TrimSpace(r.Header.Get(shopDomainHeader))
			if shop == "" {
				shop = defaultShop
			}
			if shop != "" {
				r = r.WithContext(requestctx.WithShop(r.Context(), shop))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func shopFromRequest(r *http.Request) string {
	if shop := strings.TrimSpace(requestctx.Shop(r.Context())); shop != "" {
		return shop
	}
	return strings.TrimSpace(r.URL.Query().Get("shop"))
}
