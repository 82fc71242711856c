// tct - command line front end for a durable tiered commitment tree
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/colorfulnotion/tct/config"
	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/ledger"
	log "github.com/colorfulnotion/tct/log"
	"github.com/colorfulnotion/tct/tct"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// settings is the configuration after flags have been applied.
type settings struct {
	configPath string
	cfg        config.Config
	shutdown   func(context.Context) error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	s := &settings{cfg: config.Default()}
	var (
		dataDir      string
		hasher       string
		logLevel     string
		debug        string
		otlpEndpoint string
	)

	var rootCmd = &cobra.Command{
		Use:           "tct",
		Short:         "Tiered commitment tree",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if s.configPath != "" {
				cfg, err := config.Load(s.configPath)
				if err != nil {
					return err
				}
				s.cfg = cfg
			}
			flags := cmd.Flags()
			if flags.Changed("data") {
				s.cfg.DataDir = dataDir
			}
			if flags.Changed("hasher") {
				s.cfg.Hasher = hasher
			}
			if flags.Changed("log-level") {
				s.cfg.LogLevel = logLevel
			}
			if flags.Changed("debug") {
				s.cfg.DebugModules = debug
			}
			if flags.Changed("otlp-endpoint") {
				s.cfg.OTLPEndpoint = otlpEndpoint
			}
			if err := s.cfg.Validate(); err != nil {
				return err
			}

			if err := log.InitLogger(s.cfg.LogLevel); err != nil {
				return err
			}
			log.EnableModules(s.cfg.DebugModules)

			shutdown, err := setupTracing(cmd.Context(), s.cfg.OTLPEndpoint)
			if err != nil {
				return err
			}
			s.shutdown = shutdown
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if s.shutdown == nil {
				return nil
			}
			return s.shutdown(context.Background())
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&s.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&dataDir, "data", s.cfg.DataDir, "event log directory (empty: in memory)")
	pf.StringVar(&hasher, "hasher", s.cfg.Hasher, "hash function: mimc, blake2b or blake3")
	pf.StringVar(&logLevel, "log-level", s.cfg.LogLevel, "log level: trace, debug, info, warn, error, crit")
	pf.StringVar(&debug, "debug", "", "comma separated modules to debug (tier_mod,ledger_mod,store_mod,cli_mod,server_mod)")
	pf.StringVar(&otlpEndpoint, "otlp-endpoint", "", "host:port of an OTLP/HTTP trace collector")

	rootCmd.AddCommand(
		newInsertCmd(s),
		newForgetCmd(s),
		newEndCmd(s, "end-block", "Finalize the current block", (*ledger.Ledger).EndBlock),
		newEndCmd(s, "end-epoch", "Finalize the current epoch", (*ledger.Ledger).EndEpoch),
		newRootHashCmd(s),
		newWitnessCmd(s),
		newVerifyCmd(s),
		newStatsCmd(s),
		newDumpCmd(s),
		newConsoleCmd(s),
		newServeCmd(s),
		newConfigCmd(s),
	)
	return rootCmd
}

func (s *settings) hasher() digest.Hasher {
	h, err := digest.ByName(s.cfg.Hasher)
	if err != nil {
		// validated in PersistentPreRunE
		panic(err)
	}
	return h
}

// withLedger opens the ledger for the span of fn.
func (s *settings) withLedger(ctx context.Context, fn func(*ledger.Ledger) error) error {
	l, err := ledger.Open(ctx, ledger.Config{Path: s.cfg.DataDir, Hasher: s.hasher()})
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Close(); err != nil {
			log.Warn(log.CLIMonitoring, "close ledger", "err", err)
		}
	}()
	return fn(l)
}

func parseCommitments(args []string) ([]tct.Commitment, error) {
	out := make([]tct.Commitment, len(args))
	for i, a := range args {
		c, err := tct.ParseCommitment(a)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func newInsertCmd(s *settings) *cobra.Command {
	var forget bool
	cmd := &cobra.Command{
		Use:   "insert <commitment>...",
		Short: "Insert commitments into the current block",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := parseCommitments(args)
			if err != nil {
				return err
			}
			items := make([]tct.Insert[tct.Commitment], len(cs))
			for i, c := range cs {
				if forget {
					items[i] = tct.Forget(c)
				} else {
					items[i] = tct.Keep(c)
				}
			}
			return s.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				n, err := l.Insert(cmd.Context(), items...)
				for _, c := range cs[:n] {
					if pos, ok := l.PositionOf(c); ok {
						fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", pos, tct.CommitmentHex(c))
					}
				}
				if err != nil {
					return fmt.Errorf("inserted %d of %d: %w", n, len(items), err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "root", l.Root())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&forget, "forget", false, "insert without keeping the commitments witnessable")
	return cmd
}

func newForgetCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <commitment>...",
		Short: "Stop witnessing commitments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := parseCommitments(args)
			if err != nil {
				return err
			}
			return s.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				for _, c := range cs {
					ok, err := l.Forget(cmd.Context(), c)
					if err != nil {
						return err
					}
					if !ok {
						log.Warn(log.CLIMonitoring, "not witnessed", "commitment", tct.CommitmentHex(c))
					}
				}
				return nil
			})
		},
	}
}

func newEndCmd(s *settings, use, short string, end func(*ledger.Ledger, context.Context) (digest.Hash, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				root, err := end(l, cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), root)
				return nil
			})
		},
	}
}

func newRootHashCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "root",
		Short: "Print the root of the tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				fmt.Fprintln(cmd.OutOrStdout(), l.Root())
				return nil
			})
		},
	}
}

func newStatsCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print tree statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				return writeJSON(cmd, l.Stats())
			})
		},
	}
}

func newWitnessCmd(s *settings) *cobra.Command {
	var (
		out    string
		format string
	)
	cmd := &cobra.Command{
		Use:   "witness <commitment>",
		Short: "Print an inclusion proof against the current root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := tct.ParseCommitment(args[0])
			if err != nil {
				return err
			}
			return s.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				proof, ok := l.Witness(cmd.Context(), c)
				if !ok {
					return fmt.Errorf("commitment %s is not witnessed", tct.CommitmentHex(c))
				}
				var data []byte
				switch format {
				case "json":
					data, err = json.MarshalIndent(proof, "", "  ")
					data = append(data, '\n')
				case "cbor":
					data, err = proof.MarshalBinary()
				default:
					return fmt.Errorf("unknown proof format %q", format)
				}
				if err != nil {
					return err
				}
				if out == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the proof to a file")
	cmd.Flags().StringVar(&format, "format", "json", "proof encoding: json or cbor")
	return cmd
}

// readProof decodes a JSON or CBOR proof file.
func readProof(path string) (tct.Proof, error) {
	var proof tct.Proof
	data, err := os.ReadFile(path)
	if err != nil {
		return proof, err
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return proof, json.Unmarshal(trimmed, &proof)
	}
	return proof, proof.UnmarshalBinary(data)
}

func newVerifyCmd(s *settings) *cobra.Command {
	var rootHex string
	cmd := &cobra.Command{
		Use:   "verify <proof.json>",
		Short: "Check a proof against a root (default: the ledger's current root)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proof, err := readProof(args[0])
			if err != nil {
				return err
			}
			var root digest.Hash
			if rootHex != "" {
				if root, err = digest.HexToHash(rootHex); err != nil {
					return err
				}
			} else {
				err := s.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
					root = l.Root()
					return nil
				})
				if err != nil {
					return err
				}
			}
			if !proof.Verify(s.hasher(), root) {
				return fmt.Errorf("proof for %s does not authenticate to %s", tct.Position(proof.Position), root)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok %s at %s\n", tct.CommitmentHex(proof.Commitment), tct.Position(proof.Position))
			return nil
		},
	}
	cmd.Flags().StringVar(&rootHex, "root", "", "0x-prefixed root to verify against")
	return cmd
}

func newConfigCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "config <path>",
		Short: "Write the effective configuration as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.cfg.Save(args[0])
		},
	}
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
