package farm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/water"
	"github.com/talgya/mini-farm/internal/world"
)

// Product is a harvestable good. Harvesting credits Yield units.
type Product struct {
	Symbol ledger.Asset `json:"symbol" yaml:"symbol"`
	Name   string       `json:"name" yaml:"name"`
	Yield  uint64       `json:"yield" yaml:"yield"`
}

// SeedSpec describes a plantable seed.
type SeedSpec struct {
	Symbol         ledger.Asset `json:"symbol"`
	Name           string       `json:"name"`
	Product        ledger.Asset `json:"product"`
	GrowthDuration uint64       `json:"growth_duration"`
	GrowthSeasons  uint8        `json:"growth_seasons"` // bit 1<<season
	MinWater       uint64       `json:"min_water"`
	GracePeriod    uint64       `json:"grace_period"` // ticks after maturity before overgrown
	Rates          water.Rates  `json:"rates"`
}

// Recipe turns a fixed basket of products into one dish.
type Recipe struct {
	Dish        ledger.Asset    `json:"dish"`
	Name        string          `json:"name"`
	Ingredients []ledger.Amount `json:"ingredients"`
}

// Settings is the immutable farm configuration.
type Settings struct {
	Grid         world.Grid
	SeasonLength uint64
	Water        water.Params
	Policy       water.Policy
	Rates        water.Rates // default absorb rates for seeds that set none

	PlotPrice uint64 // stable per plot
	SeedPrice uint64 // stable per seed
	Treasury  ledger.Account
	Weed      ledger.Asset // product credited for overgrown plants

	Products []Product
	Seeds    []SeedSpec
	Recipes  []Recipe

	EventBuffer int // recent events kept in memory
}

// Catalog indexes the products, seeds and recipes of a Settings.
type Catalog struct {
	products    map[ledger.Asset]Product
	seeds       map[ledger.Asset]SeedSpec
	productSeed map[ledger.Asset]ledger.Asset
	recipes     map[string]Recipe
	seedOrder   []ledger.Asset
	recipeOrder []string
}

// NewCatalog validates s and builds the lookup tables. Seeds without rates
// take s.Rates; seeds without a grace period get one growth duration.
func NewCatalog(s Settings) (*Catalog, error) {
	c := &Catalog{
		products:    make(map[ledger.Asset]Product, len(s.Products)),
		seeds:       make(map[ledger.Asset]SeedSpec, len(s.Seeds)),
		productSeed: make(map[ledger.Asset]ledger.Asset, len(s.Seeds)),
		recipes:     make(map[string]Recipe, len(s.Recipes)),
	}

	for _, p := range s.Products {
		if _, dup := c.products[p.Symbol]; dup {
			return nil, fmt.Errorf("duplicate product %s", p.Symbol)
		}
		c.products[p.Symbol] = p
	}
	if s.Weed != "" {
		if _, ok := c.products[s.Weed]; !ok {
			return nil, fmt.Errorf("weed product %s is not a product", s.Weed)
		}
	}

	for _, sp := range s.Seeds {
		if _, dup := c.seeds[sp.Symbol]; dup {
			return nil, fmt.Errorf("duplicate seed %s", sp.Symbol)
		}
		if _, ok := c.products[sp.Product]; !ok {
			return nil, fmt.Errorf("seed %s: unknown product %s", sp.Symbol, sp.Product)
		}
		if sp.GrowthDuration == 0 {
			return nil, fmt.Errorf("seed %s: growth duration must be positive", sp.Symbol)
		}
		if sp.Rates == (water.Rates{}) {
			sp.Rates = s.Rates
		}
		if sp.GracePeriod == 0 {
			sp.GracePeriod = sp.GrowthDuration
		}
		c.seeds[sp.Symbol] = sp
		c.productSeed[sp.Product] = sp.Symbol
		c.seedOrder = append(c.seedOrder, sp.Symbol)
	}

	for _, r := range s.Recipes {
		if len(r.Ingredients) == 0 {
			return nil, fmt.Errorf("recipe %s has no ingredients", r.Dish)
		}
		for _, in := range r.Ingredients {
			if _, ok := c.products[in.Asset]; !ok {
				return nil, fmt.Errorf("recipe %s: unknown product %s", r.Dish, in.Asset)
			}
			if in.Qty == 0 {
				return nil, fmt.Errorf("recipe %s: zero quantity of %s", r.Dish, in.Asset)
			}
		}
		key := recipeKey(r.Ingredients)
		if _, dup := c.recipes[key]; dup {
			return nil, fmt.Errorf("recipe %s duplicates an existing basket", r.Dish)
		}
		c.recipes[key] = r
		c.recipeOrder = append(c.recipeOrder, key)
	}
	return c, nil
}

// Seed returns the seed spec for a symbol.
func (c *Catalog) Seed(sym ledger.Asset) (SeedSpec, bool) {
	sp, ok := c.seeds[sym]
	return sp, ok
}

// Product returns the product for a symbol.
func (c *Catalog) Product(sym ledger.Asset) (Product, bool) {
	p, ok := c.products[sym]
	return p, ok
}

// SeedFor returns the seed a product converts into.
func (c *Catalog) SeedFor(product ledger.Asset) (ledger.Asset, bool) {
	s, ok := c.productSeed[product]
	return s, ok
}

// Seeds returns every seed in configuration order.
func (c *Catalog) Seeds() []SeedSpec {
	out := make([]SeedSpec, 0, len(c.seedOrder))
	for _, sym := range c.seedOrder {
		out = append(out, c.seeds[sym])
	}
	return out
}

// Recipes returns every recipe in configuration order.
func (c *Catalog) Recipes() []Recipe {
	out := make([]Recipe, 0, len(c.recipeOrder))
	for _, k := range c.recipeOrder {
		out = append(out, c.recipes[k])
	}
	return out
}

// Recipe finds the recipe for a basket. Order of ingredients does not
// matter, quantities must match exactly.
func (c *Catalog) Recipe(ingredients []ledger.Amount) (Recipe, bool) {
	r, ok := c.recipes[recipeKey(ingredients)]
	return r, ok
}

func recipeKey(ingredients []ledger.Amount) string {
	merged := make(map[ledger.Asset]uint64, len(ingredients))
	for _, in := range ingredients {
		merged[in.Asset] += in.Qty
	}
	parts := make([]string, 0, len(merged))
	for a, q := range merged {
		parts = append(parts, fmt.Sprintf("%s:%d", a, q))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
