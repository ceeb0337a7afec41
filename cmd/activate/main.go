package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"activation-relay/internal/activation"
	"activation-relay/internal/config"
	"activation-relay/internal/db"
	"activation-relay/internal/logging"
	"activation-relay/internal/reference"
	"activation-relay/internal/relayclient"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:          "activate",
		Short:        "Pay the account activation fee and follow the payment until it settles",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "Directory containing config.yaml")

	rootCmd.AddCommand(payCmd(&configPath))
	rootCmd.AddCommand(statusCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func payCmd(configPath *string) *cobra.Command {
	var userFlag, phoneFlag string

	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Initiate an activation payment and poll it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := uuid.Parse(userFlag)
			if err != nil {
				return errors.Wrap(err, "invalid --user")
			}

			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := logging.GetLogger(cfg.Logs)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool, err := db.GetPool(ctx, db.GetConnStr(cfg.Database), 2)
			if err != nil {
				return err
			}
			defer pool.Close()

			payments := db.NewPaymentRepository(pool)
			users := db.NewUserRepository(pool)

			initiator := activation.NewInitiator(payments, relayclient.New(cfg.Relay),
				reference.NewGenerator(cfg.Activation.ReferencePrefix), cfg.Activation.Fee, logger)

			attempt, err := initiator.Initiate(ctx, userID, phoneFlag)
			if err != nil {
				return err
			}
			fmt.Printf("%s\nReference: %s\n", attempt.Message, attempt.Reference)

			poller := activation.NewPoller(payments, activation.PollerOptions{
				Interval:      config.Millis(cfg.Poller.IntervalMs),
				Timeout:       config.Millis(cfg.Poller.TimeoutMs),
				CompleteDelay: config.Millis(cfg.Poller.CompleteDelayMs),
				OnComplete: func(ctx context.Context, _ activation.Outcome) {
					printProfile(ctx, users, userID)
				},
			}, logger)

			outcome, err := poller.Poll(ctx, attempt.Reference)
			if err != nil {
				return err
			}
			fmt.Printf("[%s] %s\n", outcome.State, outcome.Message)
			if outcome.State == activation.StateFailed {
				return errors.Errorf("payment %s failed", attempt.Reference)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "User profile id")
	cmd.Flags().StringVar(&phoneFlag, "phone", "", "Phone number to charge (07..., 01..., 254...)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("phone")

	return cmd
}

func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status [reference]",
		Short: "Show the stored state of an activation payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			pool, err := db.GetPool(cmd.Context(), db.GetConnStr(cfg.Database), 1)
			if err != nil {
				return err
			}
			defer pool.Close()

			return printPayment(cmd.Context(), pool, args[0])
		},
	}
}

func printPayment(ctx context.Context, pool *pgxpool.Pool, ref string) error {
	payment, err := db.NewPaymentRepository(pool).SelectByReference(ctx, ref)
	if err != nil {
		return errors.Wrapf(err, "payment %s", ref)
	}

	fmt.Printf("Reference:   %s\n", payment.ExternalReference)
	fmt.Printf("Status:      %s\n", payment.Status)
	fmt.Printf("User:        %s\n", payment.UserID)
	fmt.Printf("Phone:       %s\n", logging.MaskPhone(payment.PhoneNumber))
	fmt.Printf("Amount:      %d\n", payment.Amount)
	if payment.CheckoutRequestID != nil {
		fmt.Printf("Checkout:    %s\n", *payment.CheckoutRequestID)
	}
	fmt.Printf("Created:     %s\n", payment.CreatedAt.Format("2006-01-02 15:04:05"))
	if payment.ConfirmedAt != nil {
		fmt.Printf("Confirmed:   %s\n", payment.ConfirmedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func printProfile(ctx context.Context, users *db.UserRepository, userID uuid.UUID) {
	profile, err := users.SelectByID(ctx, userID)
	if err != nil {
		fmt.Printf("Could not refresh profile: %s\n", err)
		return
	}
	fmt.Printf("Account %s activated: %t\n", profile.Username, profile.IsActivated)
}
