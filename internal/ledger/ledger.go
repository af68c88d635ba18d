// Package ledger holds fungible balances and land parcel ownership. The farm
// treats it as an external service: every balance and parcel the farm touches
// goes through the Ledger interface.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Account identifies a balance holder (a farmer or the farm itself).
type Account string

// Asset is a fungible asset kind, e.g. "STABLE" or "POTATO_SEED".
type Asset string

// ParcelID identifies a land parcel. Parcels map one to one onto plots.
type ParcelID uint64

// Stable is the asset plots and seeds are paid in.
const Stable Asset = "STABLE"

// Ledger errors.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrParcelExists        = errors.New("parcel already minted")
	ErrParcelNotFound      = errors.New("parcel not minted")
	ErrNotParcelOwner      = errors.New("not parcel owner")
	ErrOverflow            = errors.New("balance overflow")
)

// Amount is a quantity of one asset.
type Amount struct {
	Asset Asset  `json:"asset"`
	Qty   uint64 `json:"qty"`
}

// Ledger is the service the farm settles balances and parcels against.
type Ledger interface {
	Balance(owner Account, asset Asset) uint64
	Credit(owner Account, asset Asset, qty uint64) error
	Debit(owner Account, asset Asset, qty uint64) error
	// DebitAll debits every amount or none of them.
	DebitAll(owner Account, amounts []Amount) error
	Transfer(from, to Account, asset Asset, qty uint64) error

	MintParcel(id ParcelID, to Account) error
	TransferParcel(id ParcelID, from, to Account) error
	OwnerOf(id ParcelID) (Account, bool)
	IsOwner(id ParcelID, who Account) bool
}

// State is a copy of the whole ledger, used by persistence.
type State struct {
	Balances map[Account]map[Asset]uint64 `json:"balances"`
	Parcels  map[ParcelID]Account         `json:"parcels"`
}

// Memory is an in-memory Ledger. It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	balances map[Account]map[Asset]uint64
	parcels  map[ParcelID]Account
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		balances: make(map[Account]map[Asset]uint64),
		parcels:  make(map[ParcelID]Account),
	}
}

// Balance returns owner's balance of asset.
func (m *Memory) Balance(owner Account, asset Asset) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[owner][asset]
}

// Balances returns a copy of every non-zero balance of owner.
func (m *Memory) Balances(owner Account) map[Asset]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Asset]uint64, len(m.balances[owner]))
	for a, v := range m.balances[owner] {
		if v > 0 {
			out[a] = v
		}
	}
	return out
}

func (m *Memory) Credit(owner Account, asset Asset, qty uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditLocked(owner, asset, qty)
}

func (m *Memory) Debit(owner Account, asset Asset, qty uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitLocked(owner, asset, qty)
}

func (m *Memory) DebitAll(owner Account, amounts []Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	need := make(map[Asset]uint64, len(amounts))
	for _, a := range amounts {
		need[a.Asset] += a.Qty
	}
	for asset, qty := range need {
		if m.balances[owner][asset] < qty {
			return fmt.Errorf("debit %d %s from %s: %w", qty, asset, owner, ErrInsufficientBalance)
		}
	}
	for asset, qty := range need {
		if qty > 0 {
			m.balances[owner][asset] -= qty
		}
	}
	return nil
}

func (m *Memory) Transfer(from, to Account, asset Asset, qty uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.debitLocked(from, asset, qty); err != nil {
		return err
	}
	if err := m.creditLocked(to, asset, qty); err != nil {
		m.balances[from][asset] += qty
		return err
	}
	return nil
}

func (m *Memory) MintParcel(id ParcelID, to Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.parcels[id]; ok {
		return fmt.Errorf("mint parcel %d: %w", id, ErrParcelExists)
	}
	m.parcels[id] = to
	return nil
}

func (m *Memory) TransferParcel(id ParcelID, from, to Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.parcels[id]
	if !ok {
		return fmt.Errorf("transfer parcel %d: %w", id, ErrParcelNotFound)
	}
	if owner != from {
		return fmt.Errorf("transfer parcel %d from %s: %w", id, from, ErrNotParcelOwner)
	}
	m.parcels[id] = to
	return nil
}

func (m *Memory) OwnerOf(id ParcelID) (Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.parcels[id]
	return owner, ok
}

func (m *Memory) IsOwner(id ParcelID, who Account) bool {
	owner, ok := m.OwnerOf(id)
	return ok && owner == who
}

// Parcels returns the parcels owned by owner, ascending.
func (m *Memory) Parcels(owner Account) []ParcelID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []ParcelID
	for id, o := range m.parcels {
		if o == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns a deep copy of the ledger.
func (m *Memory) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := State{
		Balances: make(map[Account]map[Asset]uint64, len(m.balances)),
		Parcels:  make(map[ParcelID]Account, len(m.parcels)),
	}
	for owner, bals := range m.balances {
		cp := make(map[Asset]uint64, len(bals))
		for a, v := range bals {
			if v > 0 {
				cp[a] = v
			}
		}
		if len(cp) > 0 {
			st.Balances[owner] = cp
		}
	}
	for id, owner := range m.parcels {
		st.Parcels[id] = owner
	}
	return st
}

// Restore replaces the ledger contents with st.
func (m *Memory) Restore(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = make(map[Account]map[Asset]uint64, len(st.Balances))
	m.parcels = make(map[ParcelID]Account, len(st.Parcels))
	for owner, bals := range st.Balances {
		cp := make(map[Asset]uint64, len(bals))
		for a, v := range bals {
			cp[a] = v
		}
		m.balances[owner] = cp
	}
	for id, owner := range st.Parcels {
		m.parcels[id] = owner
	}
}

func (m *Memory) creditLocked(owner Account, asset Asset, qty uint64) error {
	bals, ok := m.balances[owner]
	if !ok {
		bals = make(map[Asset]uint64)
		m.balances[owner] = bals
	}
	if bals[asset]+qty < bals[asset] {
		return fmt.Errorf("credit %d %s to %s: %w", qty, asset, owner, ErrOverflow)
	}
	bals[asset] += qty
	return nil
}

func (m *Memory) debitLocked(owner Account, asset Asset, qty uint64) error {
	if m.balances[owner][asset] < qty {
		return fmt.Errorf("debit %d %s from %s: %w", qty, asset, owner, ErrInsufficientBalance)
	}
	if qty > 0 {
		m.balances[owner][asset] -= qty
	}
	return nil
}
