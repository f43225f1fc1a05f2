package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/app"
	"github.com/clutchstake/backend/internal/config"
	"github.com/clutchstake/backend/internal/database"
	"github.com/clutchstake/backend/internal/logger"
	"github.com/clutchstake/backend/internal/models"
)

type openFunc func(ctx context.Context, configFile string) (*app.App, error)

func openApp(ctx context.Context, configFile string) (*app.App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	zl, err := logger.New(cfg.App.Name, cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return app.New(ctx, cfg, zl)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp opens the services for the duration of one command.
func withApp(open openFunc, fn func(context.Context, *cli.Command, *app.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		a, err := open(ctx, cmd.String("config"))
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, cmd, a)
	}
}

func newRootCommand(open openFunc) *cli.Command {
	return &cli.Command{
		Name:  "escrowctl",
		Usage: "operate the stake escrow ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   ".env",
				Sources: cli.EnvVars("ESCROWCTL_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "apply the postgres schema",
				Action: runMigrate,
			},
			{
				Name:   "reconcile",
				Usage:  "compare account balances with their ledger entries",
				Action: withApp(open, runReconcile),
			},
			{
				Name:      "deposit",
				Usage:     "credit an account from an external payment reference",
				ArgsUsage: "<account-id>",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "amount", Required: true},
					&cli.StringFlag{Name: "reference", Required: true},
				},
				Action: withApp(open, runDeposit),
			},
			{
				Name:  "match",
				Usage: "inspect matches",
				Commands: []*cli.Command{
					{
						Name:      "show",
						ArgsUsage: "<match-id>",
						Action:    withApp(open, runMatchShow),
					},
				},
			},
			{
				Name:  "disputes",
				Usage: "review and resolve disputes",
				Commands: []*cli.Command{
					{
						Name: "list",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "page-size", Value: 50},
						},
						Action: withApp(open, runDisputesList),
					},
					{
						Name:      "resolve",
						ArgsUsage: "<dispute-id>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "winner"},
							&cli.BoolFlag{Name: "refund"},
							&cli.StringFlag{Name: "notes"},
							&cli.StringFlag{Name: "moderator", Value: "operator"},
						},
						Action: withApp(open, runDisputeResolve),
					},
				},
			},
		},
	}
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := cmd.Args().First()
	if v == "" {
		return "", fmt.Errorf("%s: missing %s", cmd.Name, name)
	}
	return v, nil
}

func runMigrate(ctx context.Context, cmd *cli.Command) error {
	if _, err := config.Load(cmd.String("config")); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.InitDB()
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, "schema up to date")
	return err
}

func runReconcile(ctx context.Context, cmd *cli.Command, a *app.App) error {
	mismatches, err := a.Ledger.Reconcile(ctx)
	if err != nil {
		return err
	}
	w := cmd.Root().Writer
	if len(mismatches) == 0 {
		_, err := fmt.Fprintln(w, "ledger consistent")
		return err
	}
	for _, m := range mismatches {
		fmt.Fprintf(w, "%s\tbalance=%d\tentries=%d\n", m.AccountID, m.Balance, m.EntriesSum)
	}
	return fmt.Errorf("%d account(s) out of balance", len(mismatches))
}

func runDeposit(ctx context.Context, cmd *cli.Command, a *app.App) error {
	accountID, err := requireArg(cmd, "account id")
	if err != nil {
		return err
	}
	entry, err := a.Wallet.Deposit(ctx, accountID, cmd.Int64("amount"), cmd.String("reference"))
	if err != nil {
		return err
	}
	a.Logger.Info("deposit recorded by operator",
		zap.String("account_id", accountID),
		zap.Int64("amount", entry.Delta),
		zap.String("reference", entry.ReferenceID),
	)
	return writeJSON(cmd.Root().Writer, entry)
}

func runMatchShow(ctx context.Context, cmd *cli.Command, a *app.App) error {
	matchID, err := requireArg(cmd, "match id")
	if err != nil {
		return err
	}
	m, err := a.Escrow.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	return writeJSON(cmd.Root().Writer, m)
}

func runDisputesList(ctx context.Context, cmd *cli.Command, a *app.App) error {
	w := cmd.Root().Writer
	for d, err := range a.Disputes.OpenDisputes(ctx, cmd.Int("page-size")) {
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\tmatch=%s\traised_by=%s\t%s\n", d.ID, d.MatchID, d.RaisedBy, d.Reason)
	}
	return nil
}

func runDisputeResolve(ctx context.Context, cmd *cli.Command, a *app.App) error {
	disputeID, err := requireArg(cmd, "dispute id")
	if err != nil {
		return err
	}
	decision := models.Decision{WinnerID: cmd.String("winner"), Refund: cmd.Bool("refund")}
	if (decision.WinnerID == "") == !decision.Refund {
		return errors.New("resolve: pass exactly one of --winner or --refund")
	}
	d, err := a.Disputes.Resolve(ctx, disputeID, decision, cmd.String("notes"), cmd.String("moderator"))
	if err != nil {
		return err
	}
	return writeJSON(cmd.Root().Writer, d)
}
