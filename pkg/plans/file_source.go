package plans

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrFailedToLoadCatalog = errors.New("plans: failed to load catalog file")

type catalogFile struct {
	Prices []struct {
		Plan     string `yaml:"plan"`
		Period   string `yaml:"period"`
		PriceID  string `yaml:"price_id"`
		Amount   int64  `yaml:"amount"`
		Currency string `yaml:"currency"`
	} `yaml:"prices"`
}

// LoadCatalogFile builds a catalog from a YAML file. This is an alternative to
// NewCatalogFromConfig for deployments that manage the price list as a
// versioned artifact instead of individual environment variables.
//
//	prices:
//	  - plan: premium
//	    period: monthly
//	    price_id: price_123
//	    amount: 999
//	    currency: usd
func LoadCatalogFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog builds a catalog from YAML content.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	if len(file.Prices) == 0 {
		return nil, errors.Join(ErrFailedToLoadCatalog, fmt.Errorf("no prices defined"))
	}

	items := make([]Item, 0, len(file.Prices))
	for _, p := range file.Prices {
		currency := p.Currency
		if currency == "" {
			currency = "usd"
		}
		items = append(items, Item{
			Plan:   Plan(p.Plan),
			Period: Period(p.Period),
			Price:  Price{ID: p.PriceID, Amount: p.Amount, Currency: currency},
		})
	}
	return NewCatalog(items...)
}
