package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"groupkeeper/internal/metrics"
	"groupkeeper/internal/repo"
	"groupkeeper/internal/settings"
)

// Outcome is the result of a redeem or spin. It is a value, not an error.
type Outcome string

const (
	OutcomeWin               Outcome = "win"
	OutcomeLose              Outcome = "lose"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
	OutcomeOutOfStock        Outcome = "out_of_stock"
)

// NoWinID identifies the losing slice of the wheel.
const NoWinID int64 = -1

// Redemption describes a finished redeem attempt.
type Redemption struct {
	Outcome  Outcome
	Entry    repo.CatalogEntry
	Cost     float64
	Currency repo.Currency
}

// SpinResult describes a finished wheel spin. EntryID is NoWinID unless Outcome is OutcomeWin.
type SpinResult struct {
	Outcome Outcome
	EntryID int64
	Name    string
	Cost    int64
}

// WheelSlice is one segment of the wheel as shown to the mini-app.
type WheelSlice struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Cost   float64 `json:"cost"`
	Chance float64 `json:"chance"`
}

// EntryInput is the admin payload for a new catalog entry.
type EntryInput struct {
	Name   string           `validate:"required,max=64"`
	Kind   repo.CatalogKind `validate:"oneof=shop scratcher lottery"`
	Cost   float64          `validate:"gte=0"`
	Chance float64          `validate:"gte=0,lte=1"`
	Stock  int64            `validate:"gte=0"`
}

// Engine runs catalog redemptions and wheel spins. Each attempt is one transaction that
// locks the account row and then the catalog rows, debits the cost, draws and updates stock.
type Engine struct {
	repo     repo.Repository
	settings *settings.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	rand     func() float64
	validate *validator.Validate
}

// NewEngine constructs an engine. draw returns a uniform value in [0,1); nil uses math/rand/v2.
func NewEngine(r repo.Repository, st *settings.Store, m *metrics.Metrics, logger *slog.Logger, draw func() float64) *Engine {
	if draw == nil {
		draw = rand.Float64
	}
	return &Engine{
		repo:     r,
		settings: st,
		metrics:  m,
		logger:   logger.With("component", "rewards"),
		rand:     draw,
		validate: validator.New(),
	}
}

// Redeem pays for entryID and draws against its chance. Shop entries always win.
func (e *Engine) Redeem(ctx context.Context, userID, entryID int64) (Redemption, error) {
	var res Redemption
	err := e.repo.WithTx(ctx, func(tx repo.Tx) error {
		res = Redemption{}

		account, err := tx.LockAccount(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			res.Outcome = OutcomeInsufficientFunds
			return nil
		}
		if err != nil {
			return err
		}

		entry, err := tx.LockCatalogEntry(ctx, entryID)
		if errors.Is(err, repo.ErrNotFound) {
			res.Outcome = OutcomeOutOfStock
			return nil
		}
		if err != nil {
			return err
		}
		res.Entry = *entry
		res.Currency = entry.Kind.Currency()
		res.Cost = entry.Cost
		if !entry.Offered() {
			res.Outcome = OutcomeOutOfStock
			return nil
		}

		if !debit(account, res.Currency, entry.Cost) {
			res.Outcome = OutcomeInsufficientFunds
			return nil
		}
		if err := tx.SaveAccount(ctx, account); err != nil {
			return err
		}

		win := entry.Kind == repo.KindShop || e.rand() < entry.Chance
		res.Outcome = OutcomeLose
		if win {
			res.Outcome = OutcomeWin
			takeStock(entry)
			if err := tx.SaveCatalogEntry(ctx, entry); err != nil {
				return err
			}
			res.Entry = *entry
		}

		id := entry.ID
		return tx.InsertRedemption(ctx, repo.Redemption{
			ID:        uuid.NewString(),
			AccountID: userID,
			EntryID:   &id,
			Kind:      entry.Kind,
			Currency:  res.Currency,
			Cost:      entry.Cost,
			Outcome:   string(res.Outcome),
		})
	})
	if err != nil {
		e.metrics.Error("rewards")
		return Redemption{}, fmt.Errorf("redeem entry %d: %w", entryID, err)
	}
	e.metrics.Redemption(string(res.Entry.Kind), string(res.Outcome))
	return res, nil
}

// Spin pays spin_cost vouchers and draws one lottery entry by cumulative chance.
// Chances summing above 1 are scaled down proportionally; the rest of [0,1) loses.
func (e *Engine) Spin(ctx context.Context, userID int64) (SpinResult, error) {
	cfg, err := e.settings.Get(ctx)
	if err != nil {
		return SpinResult{}, err
	}

	var res SpinResult
	err = e.repo.WithTx(ctx, func(tx repo.Tx) error {
		res = SpinResult{EntryID: NoWinID, Cost: cfg.SpinCost}

		account, err := tx.LockAccount(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			res.Outcome = OutcomeInsufficientFunds
			return nil
		}
		if err != nil {
			return err
		}
		if account.Vouchers < cfg.SpinCost {
			res.Outcome = OutcomeInsufficientFunds
			return nil
		}

		entries, err := tx.LockOfferedCatalog(ctx, repo.KindLottery)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			res.Outcome = OutcomeOutOfStock
			return nil
		}

		account.Vouchers -= cfg.SpinCost
		if err := tx.SaveAccount(ctx, account); err != nil {
			return err
		}

		chances := make([]float64, len(entries))
		for i, en := range entries {
			chances[i] = en.Chance
		}
		res.Outcome = OutcomeLose
		var entryID *int64
		if idx := pickWeighted(chances, e.rand()); idx >= 0 {
			won := entries[idx]
			takeStock(&won)
			if err := tx.SaveCatalogEntry(ctx, &won); err != nil {
				return err
			}
			res.Outcome = OutcomeWin
			res.EntryID = won.ID
			res.Name = won.Name
			entryID = &won.ID
		}

		return tx.InsertRedemption(ctx, repo.Redemption{
			ID:        uuid.NewString(),
			AccountID: userID,
			EntryID:   entryID,
			Kind:      repo.KindLottery,
			Currency:  repo.CurrencyVouchers,
			Cost:      float64(cfg.SpinCost),
			Outcome:   string(res.Outcome),
		})
	})
	if err != nil {
		e.metrics.Error("rewards")
		return SpinResult{}, fmt.Errorf("spin: %w", err)
	}
	e.metrics.Redemption("spin", string(res.Outcome))
	return res, nil
}

// Wheel returns the offered lottery entries with normalized chances, followed by the
// losing slice (id NoWinID) sized 1 minus their sum.
func (e *Engine) Wheel(ctx context.Context) ([]WheelSlice, error) {
	entries, err := e.repo.ListCatalog(ctx, repo.KindLottery, true)
	if err != nil {
		return nil, err
	}
	chances := make([]float64, len(entries))
	for i, en := range entries {
		chances[i] = en.Chance
	}
	normalized := normalize(chances)

	slices := make([]WheelSlice, 0, len(entries)+1)
	sum := 0.0
	for i, en := range entries {
		slices = append(slices, WheelSlice{ID: en.ID, Name: en.Name, Cost: en.Cost, Chance: normalized[i]})
		sum += normalized[i]
	}
	slices = append(slices, WheelSlice{ID: NoWinID, Name: "No win", Chance: math.Max(0, 1-sum)})
	return slices, nil
}

// CreateEntry validates and stores a new catalog entry. Shop entries always have chance 1.
func (e *Engine) CreateEntry(ctx context.Context, in EntryInput) (*repo.CatalogEntry, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Kind == repo.KindShop {
		in.Chance = 1
	}
	if err := e.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if in.Kind == repo.KindLottery && in.Cost != math.Trunc(in.Cost) {
		return nil, fmt.Errorf("%w: lottery cost must be a whole number of vouchers", ErrInvalidEntry)
	}
	entry, err := e.repo.CreateCatalogEntry(ctx, repo.CatalogEntry{
		Name:     in.Name,
		Kind:     in.Kind,
		Cost:     in.Cost,
		Chance:   in.Chance,
		Stock:    in.Stock,
		IsActive: true,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("catalog entry created", "entry_id", entry.ID, "kind", entry.Kind)
	return entry, nil
}

// Entries lists catalog entries of kind; an empty kind lists everything.
func (e *Engine) Entries(ctx context.Context, kind repo.CatalogKind, offeredOnly bool) ([]repo.CatalogEntry, error) {
	return e.repo.ListCatalog(ctx, kind, offeredOnly)
}

// DeactivateEntry hides an entry from every offer.
func (e *Engine) DeactivateEntry(ctx context.Context, id int64) error {
	return e.repo.DeactivateCatalogEntry(ctx, id)
}

// DeleteEntry removes an entry permanently.
func (e *Engine) DeleteEntry(ctx context.Context, id int64) error {
	return e.repo.DeleteCatalogEntry(ctx, id)
}

// debit subtracts cost from the balance of currency, refusing to go negative.
func debit(a *repo.Account, currency repo.Currency, cost float64) bool {
	if currency == repo.CurrencyVouchers {
		n := int64(math.Ceil(cost))
		if a.Vouchers < n {
			return false
		}
		a.Vouchers -= n
		return true
	}
	if a.Points < cost {
		return false
	}
	a.Points -= cost
	return true
}

// takeStock removes one unit and deactivates the entry when it runs out.
func takeStock(e *repo.CatalogEntry) {
	e.Stock--
	if e.Stock <= 0 {
		e.Stock = 0
		e.IsActive = false
	}
}

// normalize scales positive chances down when they sum above 1. Non-positive chances become 0.
func normalize(chances []float64) []float64 {
	out := make([]float64, len(chances))
	sum := 0.0
	for i, c := range chances {
		if c > 0 {
			out[i] = c
			sum += c
		}
	}
	if sum > 1 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

// pickWeighted returns the index whose cumulative bucket contains draw, or -1 for the
// no-win bucket.
func pickWeighted(chances []float64, draw float64) int {
	normalized := normalize(chances)
	cumulative := 0.0
	last := -1
	total := 0.0
	for _, c := range normalized {
		total += c
	}
	for i, c := range normalized {
		if c <= 0 {
			continue
		}
		last = i
		cumulative += c
		if draw < cumulative {
			return i
		}
	}
	// After normalization the buckets cover [0,1); rounding must not open a no-win gap.
	if last >= 0 && total >= 1-1e-9 {
		return last
	}
	return -1
}
