// Package cashback credits a share of each player's net daily loss as
// non-withdrawable game credit.
package cashback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/internal/configstore"
	"github.com/rahul3988/game-sub000/internal/store"
)

const dayLayout = "2006-01-02"

type SettingsSource interface {
	Current() configstore.Settings
}

type Summary struct {
	Day      string          `json:"day"`
	Users    int             `json:"users"`
	Credited int             `json:"credited"`
	Total    decimal.Decimal `json:"total"`
}

type Processor struct {
	store    store.AccountStore
	settings SettingsSource
	clock    clockwork.Clock
	log      *slog.Logger
}

func NewProcessor(accounts store.AccountStore, settings SettingsSource, clk clockwork.Clock, log *slog.Logger) *Processor {
	return &Processor{store: accounts, settings: settings, clock: clk, log: log}
}

// Target is the cashback a net loss earns for the whole day: floored to
// cents and never above the loss itself. Winning days earn nothing.
func Target(netLoss, pct decimal.Decimal) decimal.Decimal {
	if !netLoss.IsPositive() || !pct.IsPositive() {
		return decimal.Zero
	}
	t := netLoss.Mul(pct).RoundFloor(2)
	if t.GreaterThan(netLoss) {
		return netLoss
	}
	return t
}

// DayWindow returns [start, start+1 day) of the calendar day containing t
// in loc.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Process tops every user with a net loss today up to their target. Repeat
// runs only credit the difference, and each (user, day, target) step is
// credited at most once.
func (p *Processor) Process(ctx context.Context) (Summary, error) {
	s := p.settings.Current()
	if !s.CashbackPercentage.IsPositive() {
		return Summary{}, nil
	}
	loc, err := s.Location()
	if err != nil {
		return Summary{}, err
	}

	now := p.clock.Now()
	from, to := DayWindow(now, loc)
	summary := Summary{Day: from.Format(dayLayout), Total: decimal.Zero}

	activity, err := p.store.DailyActivity(ctx, from, to)
	if err != nil {
		return summary, err
	}
	summary.Users = len(activity)

	var errs []error
	for _, a := range activity {
		target := Target(a.NetLoss(), s.CashbackPercentage)
		credit := target.Sub(a.Cashback)
		if !credit.IsPositive() {
			continue
		}

		ref := store.CashbackReference(a.UserID, summary.Day, target.StringFixed(2))
		applied, err := p.store.CreditCashback(ctx, a.UserID, credit, ref, now)
		if err != nil {
			p.log.Error("Credit cashback failed", "user", a.UserID, "amount", credit, "err", err)
			errs = append(errs, err)
			continue
		}
		if !applied {
			continue
		}
		summary.Credited++
		summary.Total = summary.Total.Add(credit)
	}

	if summary.Credited > 0 {
		p.log.Info("Cashback credited", "day", summary.Day, "users", summary.Credited, "total", summary.Total)
	}
	return summary, errors.Join(errs...)
}
