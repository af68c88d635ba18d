package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/mini-farm/internal/engine"
	"github.com/talgya/mini-farm/internal/farm"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/water"
)

func TestDefaults(t *testing.T) {
	cfg, err := Defaults()
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Grid.Width != 1000 || cfg.SeasonLength != 300 || cfg.Water.RegenRate != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Engine.TickInterval != 10*time.Second {
		t.Fatalf("tick interval = %v, want 10s", cfg.Engine.TickInterval)
	}
}

func TestSettingsFromDefaults(t *testing.T) {
	cfg, err := Defaults()
	if err != nil {
		t.Fatal(err)
	}
	s, err := cfg.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if len(s.Products) != 4 || len(s.Seeds) != 3 || len(s.Recipes) != 4 {
		t.Fatalf("products=%d seeds=%d recipes=%d", len(s.Products), len(s.Seeds), len(s.Recipes))
	}
	if s.Policy != water.PerUnit {
		t.Fatalf("policy = %v", s.Policy)
	}

	cat, err := farm.NewCatalog(s)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	corn, ok := cat.Seed("CRN_SEED")
	if !ok {
		t.Fatal("CRN_SEED missing")
	}
	if corn.GrowthSeasons != 1<<engine.SeasonWinter|1<<engine.SeasonSummer {
		t.Fatalf("corn seasons = %04b", corn.GrowthSeasons)
	}
	if corn.Rates != (water.Rates{Home: 15, Neighbor: 4}) {
		t.Fatalf("corn rates = %+v", corn.Rates)
	}
	if _, ok := cat.SeedFor("WED"); ok {
		t.Fatal("weed should have no seed")
	}
	if r, ok := cat.Recipe([]ledger.Amount{{Asset: "WED", Qty: 3}}); !ok || r.Dish != "WED_DISH" {
		t.Fatalf("weed dish recipe = %+v, %v", r, ok)
	}
}

func TestLoadOverlayAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farm.yaml")
	overlay := `
season_length: 10
water:
  apportion: proportional
server:
  port: 9090
`
	if err := os.WriteFile(path, []byte(overlay), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FARMSIM_ADMIN_KEY", "secret")
	t.Setenv("FARMSIM_DB", "/tmp/x.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SeasonLength != 10 || cfg.Water.Apportion != "proportional" {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	// Untouched keys keep their defaults.
	if cfg.Water.RegenRate != 10 || len(cfg.Products) != 4 {
		t.Fatalf("defaults lost: %+v", cfg.Water)
	}
	if cfg.Server.Port != 9090 || cfg.Server.AdminKey != "secret" || cfg.Storage.DB != "/tmp/x.db" {
		t.Fatalf("server/storage = %+v %+v", cfg.Server, cfg.Storage)
	}
}

func TestLoadBadPort(t *testing.T) {
	t.Setenv("FARMSIM_PORT", "eighty")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "FARMSIM_PORT") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.Grid.Width = 0 }},
		{"zero season", func(c *Config) { c.SeasonLength = 0 }},
		{"bad policy", func(c *Config) { c.Water.Apportion = "fair" }},
		{"zero growth", func(c *Config) { c.Products[0].Seed.GrowthDuration = 0 }},
		{"wide mask", func(c *Config) { c.Products[0].Seed.GrowthSeasons = 16 }},
		{"unknown weed", func(c *Config) { c.Weed = "NOPE" }},
		{"duplicate product", func(c *Config) { c.Products = append(c.Products, c.Products[0]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Defaults()
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
