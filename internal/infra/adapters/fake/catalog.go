package fake

import (
	"fmt"
	"time"

	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/promotion"
)

type seedProduct struct {
	name     string
	brand    string
	quantity string
	price    int64
	original int64
	label    string
}

var seedProducts = []seedProduct{
	{name: "Halfvolle melk", brand: "Huismerk", quantity: "1 l", price: 119, original: 119},
	{name: "Volkoren brood", brand: "Bakkerij", quantity: "800 g", price: 249, original: 249},
	{name: "Pindakaas", brand: "Calvé", quantity: "350 g", price: 299, original: 399, label: "1+1 gratis"},
	{name: "Hagelslag puur", brand: "De Ruijter", quantity: "390 g", price: 289, original: 389, label: "1+1 gratis"},
	{name: "Bananen", brand: "", quantity: "5 stuks", price: 179, original: 179},
	{name: "Jonge kaas plakken", brand: "Huismerk", quantity: "200 g", price: 199, original: 299, label: "2e halve prijs"},
	{name: "Koffiebonen", brand: "Douwe Egberts", quantity: "500 g", price: 649, original: 899, label: "2 voor 10.00"},
	{name: "Sinaasappelsap", brand: "Appelsientje", quantity: "1.5 l", price: 299, original: 349, label: "25% korting"},
	{name: "Spaghetti", brand: "Grand'Italia", quantity: "500 g", price: 139, original: 139},
	{name: "Tomatensaus", brand: "Grand'Italia", quantity: "400 g", price: 199, original: 199},
}

func productID(v product.Vendor, idx int) string {
	return fmt.Sprintf("%s-p%03d", v, idx+1)
}

func seedCatalog(v product.Vendor, now time.Time) (map[string]product.FullProduct, []promotion.Category, map[string]promotion.SaleGroupFull) {
	products := make(map[string]product.FullProduct, len(seedProducts))
	for idx, sp := range seedProducts {
		id := productID(v, idx)
		full := product.FullProduct{
			ID:           id,
			Name:         sp.name,
			Brand:        sp.brand,
			Description:  sp.brand + " " + sp.name,
			ImageURLs:    []string{fmt.Sprintf("https://img.%s.example/%s.png", v, id)},
			UnitQuantity: sp.quantity,
			Price:        product.Price{Display: sp.price, Original: sp.original},
			Available:    true,
		}
		if sp.label != "" {
			full.Decorators = append(full.Decorators, product.SaleLabel(sp.label))
		}
		products[id] = full
	}

	validity := promotion.GuessValidity(now)
	breakfast := promotion.SaleGroupFull{
		ID:       string(v) + "-sale-breakfast",
		Name:     "Ontbijtbeleg",
		ImageURL: fmt.Sprintf("https://img.%s.example/sale-breakfast.png", v),
		Items: []product.SearchProduct{
			products[productID(v, 2)].Narrow(),
			products[productID(v, 3)].Narrow(),
		},
		Decorators: product.Decorators{
			product.SaleLabel("1+1 gratis"),
			product.Validity(validity.ValidFrom, validity.ValidUntil),
		},
	}
	coffee := promotion.SaleGroupFull{
		ID:         string(v) + "-sale-coffee",
		Name:       "Koffie",
		Items:      []product.SearchProduct{products[productID(v, 6)].Narrow()},
		Decorators: product.Decorators{product.SaleLabel("2 voor 10.00")},
	}
	groups := map[string]promotion.SaleGroupFull{
		breakfast.ID: breakfast,
		coffee.ID:    coffee,
	}

	weekly := "weekly"
	listing := []promotion.Category{
		{
			ID:   &weekly,
			Name: "Aanbiedingen van de week",
			Items: []promotion.Item{
				promotion.GroupItem(limited(breakfast)),
				promotion.GroupItem(limited(coffee)),
			},
		},
		{
			Name: "Zuivel",
			Items: []promotion.Item{
				promotion.ProductItem(products[productID(v, 5)].Narrow()),
			},
		},
	}
	return products, listing, groups
}

func limited(g promotion.SaleGroupFull) promotion.SaleGroupLimited {
	return promotion.SaleGroupLimited{
		ID:         g.ID,
		Name:       g.Name,
		ImageURL:   g.ImageURL,
		ItemIDs:    g.ItemIDs(),
		Decorators: g.Decorators,
	}
}
