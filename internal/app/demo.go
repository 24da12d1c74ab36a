package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

type demoPosition struct {
	owner      string
	name       string
	sector     string
	amount     int64
	ret        float64
	months     int
	risk       domain.RiskLevel
	shockProne bool
	score      int
	ageDays    int
}

var demoAccounts = []domain.Account{
	{ID: "demo-amaka", FullName: "Amaka Obi", Email: "amaka@example.com"},
	{ID: "demo-tunde", FullName: "Tunde Bello", Email: "tunde@example.com"},
}

var demoPositions = []demoPosition{
	{"demo-amaka", "Demo Solar Fund", "Energy", 50000, 12, 6, domain.RiskMedium, false, 88, 20},
	{"demo-amaka", "Drip Irrigation Co-op", "Agriculture", 30000, 18, 12, domain.RiskHigh, true, 74, 95},
	{"demo-tunde", "Borehole Water Trust", "Water", 80000, 8, 3, domain.RiskLow, false, 91, 88},
	{"demo-tunde", "Clean Cookstove Notes", "Energy", 25000, 15, 9, domain.RiskMedium, false, 80, 3},
}

// seedDemo creates the demo accounts and their positions. Each position is
// funded from the owner's demo balance and backdated by ageDays so that
// cycles show drift and one position matures within a few days.
func seedDemo(ctx context.Context, positions domain.PositionStore, accounts domain.AccountStore, now time.Time) error {
	for _, a := range demoAccounts {
		a.LiquidBalance = domain.DefaultDemoBalance
		a.CreatedAt = now.UTC()
		if err := accounts.Create(ctx, a); err != nil {
			return fmt.Errorf("create account %s: %w", a.ID, err)
		}
	}

	for _, d := range demoPositions {
		amount := decimal.NewFromInt(d.amount)
		pos, err := domain.NewPosition(d.owner, d.name, amount, d.ret, d.months, d.risk)
		if err != nil {
			return err
		}
		pos.Sector = d.sector
		pos.ShockProne = d.shockProne
		pos.SustainabilityScore = d.score
		if err := pos.Activate(now.AddDate(0, 0, -d.ageDays)); err != nil {
			return err
		}
		if err := accounts.Debit(ctx, d.owner, amount, domain.ReasonInvest); err != nil {
			return fmt.Errorf("fund %q: %w", d.name, err)
		}
		if err := positions.Create(ctx, pos); err != nil {
			return fmt.Errorf("create position %q: %w", d.name, err)
		}
	}
	return nil
}
