package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/servicebus"
)

func (a *app) publishCmd() *cobra.Command {
	var (
		account int
		amount  float64
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a FundsTransferred event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.openBus()
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Publish(cmd.Context(), FundsTransferred{AccountID: account, Amount: amount}); err != nil {
				return err
			}

			fmt.Fprintf(a.out, "published FundsTransferred account=%d amount=%.2f\n", account, amount)

			return nil
		},
	}

	cmd.Flags().IntVar(&account, "account", 0, "account id")
	cmd.Flags().Float64Var(&amount, "amount", 0, "transferred amount")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func (a *app) subscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe",
		Short: "Log every FundsTransferred event until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			b, err := a.openBus()
			if err != nil {
				return err
			}
			defer b.Close()

			logger := a.logger
			if err := servicebus.SubscribeWith[FundsTransferred](b, func() transferLogger {
				return transferLogger{logger: logger}
			}); err != nil {
				return err
			}

			if a.cfg.Metrics.Addr != "" {
				srv := a.serveMetrics()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			a.logger.Info().Str("transport", a.cfg.Transport).Msg("waiting for FundsTransferred events")
			<-ctx.Done()
			a.logger.Info().Msg("shutting down")

			return nil
		},
	}
}

func (a *app) serveMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", srv.Addr).Msg("metrics server failed")
		}
	}()

	a.logger.Info().Str("addr", srv.Addr).Msg("serving metrics")

	return srv
}

func (a *app) transferCmd() *cobra.Command {
	var (
		from, to int
		amount   float64
	)

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Dispatch a TransferFunds command that publishes FundsTransferred",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.openBus()
			if err != nil {
				return err
			}
			defer b.Close()

			if err := servicebus.BindCommand[TransferFunds, transferResult](b, transferHandler{bus: b}); err != nil {
				return err
			}

			res, err := servicebus.SendCommand[TransferFunds, transferResult](cmd.Context(), b, TransferFunds{
				CommandBase: cbus.NewCommandBase(),
				From:        from,
				To:          to,
				Amount:      amount,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "transferred %.2f from %d to %d\n", res.Amount, res.From, res.To)

			return nil
		},
	}

	cmd.Flags().IntVar(&from, "from", 0, "source account id")
	cmd.Flags().IntVar(&to, "to", 0, "target account id")
	cmd.Flags().Float64Var(&amount, "amount", 0, "amount to transfer")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
