package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/ledger"
	log "github.com/colorfulnotion/tct/log"
	"github.com/colorfulnotion/tct/tct"
	"github.com/dop251/goja"
	"github.com/spf13/cobra"
)

const consoleHelp = `tct.insert(c...)        keep commitments, returns their positions
tct.insertForget(c...)  insert without keeping, returns the count
tct.forget(c)           stop witnessing c
tct.endBlock()          finalize the current block, returns its root
tct.endEpoch()          finalize the current epoch, returns its root
tct.root()              root of the tree
tct.position(c)         epoch/block/commitment of c
tct.witness(c)          inclusion proof of c
tct.verify(proof[, root])
tct.stats()
Commitments are decimal or 0x-prefixed hex strings. Type 'exit' to quit.`

// toJS round-trips v through JSON so scripts see plain objects with the wire field names.
func toJS(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	return out, json.Unmarshal(data, &out)
}

func parseAll(args []string) ([]tct.Commitment, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no commitments")
	}
	return parseCommitments(args)
}

// bindLedger exposes l to scripts as the global object tct.
func bindLedger(ctx context.Context, vm *goja.Runtime, l *ledger.Ledger, h digest.Hasher) error {
	obj := vm.NewObject()
	insert := func(keep bool, args []string) ([]string, error) {
		cs, err := parseAll(args)
		if err != nil {
			return nil, err
		}
		items := make([]tct.Insert[tct.Commitment], len(cs))
		for i, c := range cs {
			items[i] = tct.Keep(c)
			if !keep {
				items[i] = tct.Forget(c)
			}
		}
		n, err := l.Insert(ctx, items...)
		positions := make([]string, 0, n)
		for _, c := range cs[:n] {
			if pos, ok := l.PositionOf(c); ok {
				positions = append(positions, pos.String())
			}
		}
		return positions, err
	}

	bindings := map[string]interface{}{
		"insert": func(args ...string) ([]string, error) {
			return insert(true, args)
		},
		"insertForget": func(args ...string) (int, error) {
			_, err := insert(false, args)
			if err != nil {
				return 0, err
			}
			return len(args), nil
		},
		"forget": func(s string) (bool, error) {
			c, err := tct.ParseCommitment(s)
			if err != nil {
				return false, err
			}
			return l.Forget(ctx, c)
		},
		"endBlock": func() (string, error) {
			root, err := l.EndBlock(ctx)
			return root.Hex(), err
		},
		"endEpoch": func() (string, error) {
			root, err := l.EndEpoch(ctx)
			return root.Hex(), err
		},
		"root": func() string {
			return l.Root().Hex()
		},
		"position": func(s string) (interface{}, error) {
			c, err := tct.ParseCommitment(s)
			if err != nil {
				return nil, err
			}
			pos, ok := l.PositionOf(c)
			if !ok {
				return nil, nil
			}
			return pos.String(), nil
		},
		"witness": func(s string) (interface{}, error) {
			c, err := tct.ParseCommitment(s)
			if err != nil {
				return nil, err
			}
			proof, ok := l.Witness(ctx, c)
			if !ok {
				return nil, nil
			}
			return toJS(proof)
		},
		"verify": func(p goja.Value, root string) (bool, error) {
			data, err := json.Marshal(p.Export())
			if err != nil {
				return false, err
			}
			var proof tct.Proof
			if err := json.Unmarshal(data, &proof); err != nil {
				return false, err
			}
			want := l.Root()
			if root != "" {
				if want, err = digest.HexToHash(root); err != nil {
					return false, err
				}
			}
			return proof.Verify(h, want), nil
		},
		"stats": func() (interface{}, error) {
			return toJS(l.Stats())
		},
	}
	for name, fn := range bindings {
		if err := obj.Set(name, fn); err != nil {
			return err
		}
	}
	return vm.Set("tct", obj)
}

// runConsole evaluates lines from rl until exit or end of input.
func runConsole(rl *readline.Instance, vm *goja.Runtime, out io.Writer) {
	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return
		case "help":
			fmt.Fprintln(out, consoleHelp)
			continue
		}

		value, err := vm.RunString(line)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		if value == nil || goja.IsUndefined(value) {
			continue
		}
		if exported := value.Export(); exported != nil {
			if data, err := json.MarshalIndent(exported, "", "  "); err == nil {
				fmt.Fprintln(out, string(data))
				continue
			}
		}
		fmt.Fprintln(out, value)
	}
}

func newConsoleCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive JavaScript console over the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				vm := goja.New()
				if err := bindLedger(cmd.Context(), vm, l, s.hasher()); err != nil {
					return err
				}

				history := filepath.Join(os.TempDir(), "tct_console_history.txt")
				if s.cfg.DataDir != "" {
					history = filepath.Join(s.cfg.DataDir, "console_history.txt")
				}
				rl, err := readline.NewEx(&readline.Config{
					Prompt:      "tct> ",
					HistoryFile: history,
					Stdout:      cmd.OutOrStdout(),
				})
				if err != nil {
					return fmt.Errorf("start readline: %w", err)
				}
				defer rl.Close()

				log.Debug(log.CLIMonitoring, "console started", "history", history)
				fmt.Fprintf(cmd.OutOrStdout(), "root %s, %d witnessed. Type 'help' for commands.\n", l.Root(), l.Stats().Witnessed)
				runConsole(rl, vm, cmd.OutOrStdout())
				return nil
			})
		},
	}
}
