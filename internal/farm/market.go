package farm

import (
	"fmt"

	"github.com/talgya/mini-farm/internal/ledger"
)

// ConvertProductsToSeeds burns qty of product and credits qty of the seed it
// grows from.
func (f *Farm) ConvertProductsToSeeds(caller ledger.Account, product ledger.Asset, qty uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tick := f.clock.Now()

	seed, ok := f.catalog.SeedFor(product)
	if !ok {
		return f.reject("convert to seed", ErrNotConvertible, "caller", caller, "product", product)
	}
	if qty == 0 {
		return f.reject("convert to seed", ErrQuantityZero, "caller", caller, "product", product)
	}
	if err := f.ledger.Debit(caller, product, qty); err != nil {
		return ledgerErr(fmt.Sprintf("convert %d %s", qty, product), err)
	}
	if err := f.ledger.Credit(caller, seed, qty); err != nil {
		_ = f.ledger.Credit(caller, product, qty)
		return ledgerErr(fmt.Sprintf("convert %d %s", qty, product), err)
	}

	f.events.emit(Event{Tick: tick, Kind: EventConvertToSeed, Owner: caller, Asset: seed, Qty: qty})
	return nil
}

// ConvertProductsToDish burns a recipe's basket and credits one dish. The
// basket must match a recipe exactly.
func (f *Farm) ConvertProductsToDish(caller ledger.Account, ingredients []ledger.Amount) (ledger.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tick := f.clock.Now()

	r, ok := f.catalog.Recipe(ingredients)
	if !ok {
		return "", f.reject("convert to dish", ErrRecipeNotFound, "caller", caller, "ingredients", ingredients)
	}
	if err := f.ledger.DebitAll(caller, r.Ingredients); err != nil {
		return "", ledgerErr(fmt.Sprintf("cook %s", r.Dish), err)
	}
	if err := f.ledger.Credit(caller, r.Dish, 1); err != nil {
		for _, in := range r.Ingredients {
			_ = f.ledger.Credit(caller, in.Asset, in.Qty)
		}
		return "", ledgerErr(fmt.Sprintf("cook %s", r.Dish), err)
	}

	f.events.emit(Event{Tick: tick, Kind: EventConvertToDish, Owner: caller, Asset: r.Dish, Qty: 1})
	return r.Dish, nil
}
