package farm

import (
	"errors"
	"fmt"

	"github.com/talgya/mini-farm/internal/ledger"
)

// Class groups farm errors by how a caller should react.
type Class uint8

const (
	// ClassValidation errors mean the input was wrong; nothing was mutated.
	ClassValidation Class = iota + 1
	// ClassTiming errors mean the operation is valid later; nothing was mutated.
	ClassTiming
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassTiming:
		return "timing"
	default:
		return "unknown"
	}
}

// Error is a farm rejection. Code is stable and safe to show to clients.
type Error struct {
	Code  string
	Class Class
}

func (e *Error) Error() string { return e.Code }

// Rejections.
var (
	ErrPlotInvalidID       = &Error{"PLOT_INVALID_ID", ClassValidation}
	ErrPlotAlreadyMinted   = &Error{"PLOT_ALREADY_MINTED", ClassValidation}
	ErrPlotNotMinted       = &Error{"PLOT_NOT_MINTED", ClassValidation}
	ErrNotPlotOwner        = &Error{"NOT_PLOT_OWNER", ClassValidation}
	ErrInsufficientBalance = &Error{"INSUFFICIENT_BALANCE", ClassValidation}
	ErrQuantityZero        = &Error{"QUANTITY_MUST_BE_GREATER_THAN_ZERO", ClassValidation}
	ErrInvalidSeed         = &Error{"INVALID_SEED", ClassValidation}
	ErrNotGrowthSeason     = &Error{"IS_NOT_GROWTH_SEASON", ClassValidation}
	ErrNoPlant             = &Error{"NO_PLANT", ClassValidation}
	ErrNotOwner            = &Error{"NOT_OWNER", ClassValidation}
	ErrNotFinishedGrowing  = &Error{"NOT_FINISHED_GROWING", ClassTiming}
	ErrNotConvertible      = &Error{"PRODUCT_NOT_CONVERTIBLE_TO_SEED", ClassValidation}
	ErrRecipeNotFound      = &Error{"RECIPE_DOES_NOT_EXIST", ClassValidation}
)

// CodeOf returns the farm error code in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// ClassOf returns the class of the farm error in err's chain, or 0.
func ClassOf(err error) Class {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	return 0
}

// ledgerErr translates a ledger failure into the farm's taxonomy.
func ledgerErr(op string, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fmt.Errorf("%s: %w: %v", op, ErrInsufficientBalance, err)
	case errors.Is(err, ledger.ErrParcelExists):
		return fmt.Errorf("%s: %w", op, ErrPlotAlreadyMinted)
	case errors.Is(err, ledger.ErrParcelNotFound):
		return fmt.Errorf("%s: %w", op, ErrPlotNotMinted)
	case errors.Is(err, ledger.ErrNotParcelOwner):
		return fmt.Errorf("%s: %w", op, ErrNotPlotOwner)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
