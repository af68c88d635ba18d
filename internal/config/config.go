// Package config loads the farm configuration: embedded defaults, an optional
// YAML file on top, then environment overrides.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/mini-farm/internal/farm"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/water"
	"github.com/talgya/mini-farm/internal/world"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is the full runtime configuration.
type Config struct {
	Grid         GridConfig      `yaml:"grid"`
	SeasonLength uint64          `yaml:"season_length"`
	Water        WaterConfig     `yaml:"water"`
	Prices       PriceConfig     `yaml:"prices"`
	Treasury     string          `yaml:"treasury"`
	Weed         string          `yaml:"weed"`
	Products     []ProductConfig `yaml:"products"`
	Engine       EngineConfig    `yaml:"engine"`
	Server       ServerConfig    `yaml:"server"`
	Storage      StorageConfig   `yaml:"storage"`
	Demo         DemoConfig      `yaml:"demo"`
}

type GridConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type WaterConfig struct {
	RegenRate          uint64 `yaml:"regen_rate"`
	Capacity           uint64 `yaml:"capacity"`
	HomeAbsorbRate     uint64 `yaml:"home_absorb_rate"`
	NeighborAbsorbRate uint64 `yaml:"neighbor_absorb_rate"`
	Apportion          string `yaml:"apportion"`
}

type PriceConfig struct {
	Plot uint64 `yaml:"plot"`
	Seed uint64 `yaml:"seed"`
}

// ProductConfig is one product line. A product with a seed section gets a
// <SYMBOL>_SEED seed; DishRecipe > 0 adds a <SYMBOL>_DISH cooked from that
// many units.
type ProductConfig struct {
	Symbol     string      `yaml:"symbol"`
	Name       string      `yaml:"name"`
	Yield      uint64      `yaml:"yield"`
	DishRecipe uint64      `yaml:"dish_recipe"`
	Seed       *SeedConfig `yaml:"seed,omitempty"`
}

type SeedConfig struct {
	GrowthDuration     uint64 `yaml:"growth_duration"`
	GrowthSeasons      uint8  `yaml:"growth_seasons"`
	MinWater           uint64 `yaml:"min_water"`
	GracePeriod        uint64 `yaml:"grace_period"`
	HomeAbsorbRate     uint64 `yaml:"home_absorb_rate"`
	NeighborAbsorbRate uint64 `yaml:"neighbor_absorb_rate"`
}

type EngineConfig struct {
	StartTick    uint64        `yaml:"start_tick"`
	TickInterval time.Duration `yaml:"tick_interval"`
	Speed        float64       `yaml:"speed"`
	SaveEvery    uint64        `yaml:"save_every"`
}

type ServerConfig struct {
	Port              int    `yaml:"port"`
	AdminKey          string `yaml:"admin_key"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

type StorageConfig struct {
	DB          string `yaml:"db"`
	JournalDir  string `yaml:"journal_dir"`
	ReportDir   string `yaml:"report_dir"`
	EventBuffer int    `yaml:"event_buffer"`
}

type DemoConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Farmers        int    `yaml:"farmers"`
	Stable         uint64 `yaml:"stable"`
	PlotsPerFarmer int    `yaml:"plots_per_farmer"`
	Seed           int64  `yaml:"seed"`
	RetryEvery     uint64 `yaml:"retry_every"`
}

// Defaults returns the embedded demo configuration.
func Defaults() (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return cfg, fmt.Errorf("defaults.yaml: %w", err)
	}
	return cfg, nil
}

// Load reads the defaults, overlays path if given, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return cfg, err
	}
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// applyEnv applies FARMSIM_* overrides.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("FARMSIM_ADMIN_KEY"); v != "" {
		c.Server.AdminKey = v
	}
	if v := getenv("FARMSIM_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FARMSIM_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("FARMSIM_DB"); v != "" {
		c.Storage.DB = v
	}
	return nil
}

// Validate rejects configurations the farm cannot run with.
func (c *Config) Validate() error {
	if c.Grid.Width <= 0 || c.Grid.Height <= 0 {
		return fmt.Errorf("grid must be at least 1x1, got %dx%d", c.Grid.Width, c.Grid.Height)
	}
	if c.SeasonLength == 0 {
		return fmt.Errorf("season_length must be positive")
	}
	if _, err := water.ParsePolicy(c.Water.Apportion); err != nil {
		return err
	}

	symbols := make(map[string]bool, len(c.Products))
	for _, p := range c.Products {
		if p.Symbol == "" {
			return fmt.Errorf("product %q has no symbol", p.Name)
		}
		if symbols[p.Symbol] {
			return fmt.Errorf("duplicate product %s", p.Symbol)
		}
		symbols[p.Symbol] = true
		if p.Seed != nil {
			if p.Seed.GrowthDuration == 0 {
				return fmt.Errorf("product %s: seed growth_duration must be positive", p.Symbol)
			}
			if p.Seed.GrowthSeasons > 0b1111 {
				return fmt.Errorf("product %s: growth_seasons %d is not a 4-bit mask", p.Symbol, p.Seed.GrowthSeasons)
			}
		}
	}
	if c.Weed != "" && !symbols[c.Weed] {
		return fmt.Errorf("weed product %s is not configured", c.Weed)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}

// SeedSymbol names the seed of a product symbol.
func SeedSymbol(product string) ledger.Asset { return ledger.Asset(product + "_SEED") }

// DishSymbol names the dish of a product symbol.
func DishSymbol(product string) ledger.Asset { return ledger.Asset(product + "_DISH") }

// Settings converts the configuration into the farm's immutable settings.
func (c *Config) Settings() (farm.Settings, error) {
	policy, err := water.ParsePolicy(c.Water.Apportion)
	if err != nil {
		return farm.Settings{}, err
	}

	s := farm.Settings{
		Grid:         world.NewGrid(c.Grid.Width, c.Grid.Height),
		SeasonLength: c.SeasonLength,
		Water:        water.Params{RegenRate: c.Water.RegenRate, Capacity: c.Water.Capacity},
		Policy:       policy,
		Rates:        water.Rates{Home: c.Water.HomeAbsorbRate, Neighbor: c.Water.NeighborAbsorbRate},
		PlotPrice:    c.Prices.Plot,
		SeedPrice:    c.Prices.Seed,
		Treasury:     ledger.Account(c.Treasury),
		Weed:         ledger.Asset(c.Weed),
		EventBuffer:  c.Storage.EventBuffer,
	}

	for _, p := range c.Products {
		s.Products = append(s.Products, farm.Product{
			Symbol: ledger.Asset(p.Symbol),
			Name:   p.Name,
			Yield:  p.Yield,
		})
		if p.Seed != nil {
			s.Seeds = append(s.Seeds, farm.SeedSpec{
				Symbol:         SeedSymbol(p.Symbol),
				Name:           p.Name + "_seed",
				Product:        ledger.Asset(p.Symbol),
				GrowthDuration: p.Seed.GrowthDuration,
				GrowthSeasons:  p.Seed.GrowthSeasons,
				MinWater:       p.Seed.MinWater,
				GracePeriod:    p.Seed.GracePeriod,
				Rates:          water.Rates{Home: p.Seed.HomeAbsorbRate, Neighbor: p.Seed.NeighborAbsorbRate},
			})
		}
		if p.DishRecipe > 0 {
			s.Recipes = append(s.Recipes, farm.Recipe{
				Dish:        DishSymbol(p.Symbol),
				Name:        p.Name + "_dish",
				Ingredients: []ledger.Amount{{Asset: ledger.Asset(p.Symbol), Qty: p.DishRecipe}},
			})
		}
	}
	return s, nil
}
