// Package pricing holds the catalogue of top-up packages: how many portions
// each package adds and the default price per portion.  The catalogue can be
// replaced by a TOML file.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrUnknownPackage is returned by Quote for a package name not in the
// catalogue.
var ErrUnknownPackage = errors.New("pricing: unknown package")

// ErrAmountOverflow is returned when quantity × unit price does not fit in
// an int64.
var ErrAmountOverflow = errors.New("pricing: amount too large")

// Total returns quantity × unitPrice.  Both must be non-negative.
func Total(quantity, unitPrice int64) (int64, error) {
	if quantity < 0 || unitPrice < 0 {
		return 0, errors.New("pricing: quantity and unit price must not be negative")
	}
	if quantity != 0 && unitPrice > math.MaxInt64/quantity {
		return 0, fmt.Errorf("%w: %d × %d", ErrAmountOverflow, quantity, unitPrice)
	}
	return quantity * unitPrice, nil
}

// Package is one purchasable bundle of portions.  UnitPrice is in IDR.
type Package struct {
	Name      string `toml:"name" json:"name"`
	Portions  int64  `toml:"portions" json:"portions"`
	UnitPrice int64  `toml:"unit_price" json:"unit_price"`
}

// Total is the package price at its default unit price.
func (p Package) Total() int64 { return p.Portions * p.UnitPrice }

// Catalog is the ordered list of packages offered for top-ups.
type Catalog struct {
	Currency string    `toml:"currency" json:"currency"`
	Packages []Package `toml:"package" json:"packages"`
}

// DefaultCatalog returns the built-in packages.  Larger packages are
// cheaper per portion.
func DefaultCatalog() Catalog {
	return Catalog{
		Currency: "IDR",
		Packages: []Package{
			{Name: "1 Portion", Portions: 1, UnitPrice: 29000},
			{Name: "2 Portions", Portions: 2, UnitPrice: 28000},
			{Name: "5 Portions", Portions: 5, UnitPrice: 27000},
			{Name: "10 Portions", Portions: 10, UnitPrice: 26000},
			{Name: "20 Portions", Portions: 20, UnitPrice: 25000},
			{Name: "40 Portions", Portions: 40, UnitPrice: 24000},
			{Name: "80 Portions", Portions: 80, UnitPrice: 23000},
		},
	}
}

// Load reads a catalogue from a TOML file:
//
//	currency = "IDR"
//
//	[[package]]
//	name = "10 Portions"
//	portions = 10
//	unit_price = 26000
//
// An empty path returns DefaultCatalog.
func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	var c Catalog
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return Catalog{}, fmt.Errorf("pricing: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Catalog{}, fmt.Errorf("pricing: unknown keys in %s: %v", path, undecoded)
	}
	if c.Currency == "" {
		c.Currency = "IDR"
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Validate checks that the catalogue is usable: at least one package,
// unique non-empty names, positive portions and non-negative prices.
func (c Catalog) Validate() error {
	if len(c.Packages) == 0 {
		return errors.New("pricing: catalogue has no packages")
	}
	seen := make(map[string]bool, len(c.Packages))
	for i, p := range c.Packages {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		switch {
		case key == "":
			return fmt.Errorf("pricing: package %d has no name", i)
		case seen[key]:
			return fmt.Errorf("pricing: duplicate package %q", p.Name)
		case p.Portions <= 0:
			return fmt.Errorf("pricing: package %q must add at least one portion", p.Name)
		case p.UnitPrice < 0:
			return fmt.Errorf("pricing: package %q has a negative price", p.Name)
		}
		if _, err := Total(p.Portions, p.UnitPrice); err != nil {
			return fmt.Errorf("pricing: package %q: %w", p.Name, err)
		}
		seen[key] = true
	}
	return nil
}

// Find looks a package up by name, ignoring case and surrounding spaces.
func (c Catalog) Find(name string) (Package, bool) {
	name = strings.TrimSpace(name)
	for _, p := range c.Packages {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Package{}, false
}

// Quote is the outcome of pricing a top-up.
type Quote struct {
	Package   string
	Portions  int64
	UnitPrice int64
	Total     int64
	Note      string
}

// Quote prices a purchase of the named package.  A non-nil unitPrice
// overrides the package's default price, for discounts; it must not be
// negative.
func (c Catalog) Quote(name string, unitPrice *int64) (Quote, error) {
	p, ok := c.Find(name)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %q", ErrUnknownPackage, name)
	}
	price := p.UnitPrice
	if unitPrice != nil {
		if *unitPrice < 0 {
			return Quote{}, errors.New("pricing: unit price must not be negative")
		}
		price = *unitPrice
	}
	total, err := Total(p.Portions, price)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Package:   p.Name,
		Portions:  p.Portions,
		UnitPrice: price,
		Total:     total,
		Note:      "Top Up: " + p.Name,
	}, nil
}
