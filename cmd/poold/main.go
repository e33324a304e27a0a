// main.go - poold entry point.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"shieldedpool/internal/circuits/spend"
	"shieldedpool/internal/pool"
	"shieldedpool/internal/store"
	"shieldedpool/internal/verifier"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "poold",
		Short: "Privacy-preserving settlement pool daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "poold.json", "path to config file")
	root.AddCommand(newSetupKeysCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newSetupKeysCmd compiles the spend circuit, runs (or reuses) the
// Groth16 setup and prints the registry-ready verification key hex.
func newSetupKeysCmd() *cobra.Command {
	var height uint8
	var keyDir string

	cmd := &cobra.Command{
		Use:   "setup-keys",
		Short: "Generate Groth16 keys for the spend circuit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(keyDir, 0755); err != nil {
				return err
			}
			ccs, err := spend.Compile(height)
			if err != nil {
				return err
			}
			_, gvk, err := spend.SetupOrLoadKeys(ccs,
				filepath.Join(keyDir, "spend_pk.bin"),
				filepath.Join(keyDir, "spend_vk.bin"))
			if err != nil {
				return err
			}
			vk, err := verifier.KeyFromGnark(gvk)
			if err != nil {
				return err
			}
			raw, err := vk.Bytes()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(raw))
			return nil
		},
	}
	cmd.Flags().Uint8Var(&height, "height", pool.DefaultTreeHeight, "accumulator height")
	cmd.Flags().StringVar(&keyDir, "key-dir", "keys", "directory for proving and verifying keys")
	return cmd
}

func run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)

	authority, err := cfg.AuthorityIdentity()
	if err != nil {
		return err
	}
	settler, err := cfg.SettlementIdentity()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return err
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "pool.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := pool.New(pool.Config{
		Authority:         authority,
		SettlementCaller:  settler,
		TreeHeight:        cfg.TreeHeight,
		NullifierCapacity: cfg.NullifierCapacity,
		CircuitName:       cfg.CircuitName,
		CircuitVersion:    cfg.CircuitVersion,
		Store:             st,
		Logger:            log,
	})
	if err != nil {
		return err
	}

	srv := NewServer(cfg.ListenAddr, p, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().
		Str("addr", cfg.ListenAddr).
		Uint8("height", cfg.TreeHeight).
		Str("circuit", cfg.CircuitName+"/"+cfg.CircuitVersion).
		Msg("poold listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}
