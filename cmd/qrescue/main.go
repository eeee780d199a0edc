package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/QRescue/internal/codec"
	"github.com/dharsanguruparan/QRescue/internal/registration"
	"github.com/dharsanguruparan/QRescue/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "qrescue: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qrescue",
		Short: "QRescue operator CLI",
		Long: `qrescue encodes and inspects profile tokens and reads the snapshot files a
persistent file-backed deployment writes.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newTokenCmd(), newStoreCmd())
	return cmd
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Encode and decode self-contained tokens",
	}
	cmd.AddCommand(newEncodeCmd(), newDecodeCmd())
	return cmd
}

func newEncodeCmd() *cobra.Command {
	var file string
	var strict bool
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Validate a registration JSON file and print its token",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			svc := registration.New(nil, registration.Options{Phone: phoneCheck(strict)}, zap.NewNop(), nil)
			res, err := svc.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Registration JSON file, - for stdin")
	cmd.Flags().BoolVar(&strict, "strict", false, "Require 10 to 13 digit phone numbers")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token>",
		Short: "Print the profile carried by a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := codec.Decode(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

func newStoreCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect file-backed store snapshots",
	}
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Directory holding the snapshot files")
	cmd.AddCommand(
		newStatsCmd(&dataDir),
		newLogsCmd(&dataDir),
		newImportLegacyCmd(&dataDir),
	)
	return cmd
}

func newStatsCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), *dataDir, false)
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newLogsCmd(dataDir *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the most recent accident logs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), *dataDir, false)
			if err != nil {
				return err
			}
			logs, err := store.RecentAccidentLogs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), logs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries")
	return cmd
}

func newImportLegacyCmd(dataDir *string) *cobra.Command {
	var file string
	var strict bool
	cmd := &cobra.Command{
		Use:   "import-legacy",
		Short: "Store a profile under a new 32-character legacy token",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			svc := registration.New(nil, registration.Options{Phone: phoneCheck(strict)}, zap.NewNop(), nil)
			profile, err := svc.Prepare(in)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), *dataDir, true)
			if err != nil {
				return err
			}
			token := codec.NewLegacyToken()
			if err := store.PutProfile(cmd.Context(), token, profile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Registration JSON file, - for stdin")
	cmd.Flags().BoolVar(&strict, "strict", false, "Require 10 to 13 digit phone numbers")
	return cmd
}

func phoneCheck(strict bool) registration.PhoneCheck {
	if strict {
		return registration.StrictPhone()
	}
	return registration.PermissivePhone
}

func readInput(cmd *cobra.Command, file string) (registration.Input, error) {
	var r io.Reader = cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return registration.Input{}, err
		}
		defer f.Close()
		r = f
	}
	var in registration.Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return registration.Input{}, fmt.Errorf("parse %s: %w", file, err)
	}
	return in, nil
}

// openStore restores the snapshots in dir. Writes go back to the same files.
// Unless create is set, a missing dir is an error rather than created.
func openStore(ctx context.Context, dir string, create bool) (*storage.MemoryStore, error) {
	if !create {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("data dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("data dir %s is not a directory", dir)
		}
	}
	persister, err := storage.NewFilePersister(dir)
	if err != nil {
		return nil, err
	}
	store := storage.NewMemoryStore(zap.NewNop(), persister)
	if err := store.Restore(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
