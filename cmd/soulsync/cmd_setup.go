package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/user/soulsync/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		w := newWizard(cmd.InOrStdin(), cmd.OutOrStdout())

		fmt.Fprintln(w.out, "SoulSync setup. Press Enter to keep the value in brackets.")
		fmt.Fprintln(w.out)

		cfg.LLM.BaseURL = w.text("LLM base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = w.secret("LLM API key", cfg.LLM.APIKey)
		cfg.LLM.Model = w.text("Model", cfg.LLM.Model)
		cfg.LLM.MaxTokens = w.number("Max output tokens", cfg.LLM.MaxTokens)

		cfg.Memory.Backend = w.choice("Memory backend", cfg.Memory.Backend, "json", "sqlite")
		cfg.Memory.Index = w.choice("Memory index", cfg.Memory.Index, "tfidf", "dense")
		if cfg.Memory.Index == "dense" {
			cfg.LLM.EmbeddingModel = w.text("Embedding model", cfg.LLM.EmbeddingModel)
		}

		cfg.Telegram.Token = w.secret("Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.Crisis.AlertKey = w.text("Crisis alert session key (optional)", cfg.Crisis.AlertKey)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(w.out, "\nSaved %s\n", cfgPath)
		return nil
	},
}

// wizard reads answers line by line. When stdin is a terminal, secrets are
// read without echo.
type wizard struct {
	in    *bufio.Scanner
	out   io.Writer
	ttyFD int
}

func newWizard(in io.Reader, out io.Writer) *wizard {
	w := &wizard{in: bufio.NewScanner(in), out: out, ttyFD: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		w.ttyFD = int(f.Fd())
	}
	return w
}

func (w *wizard) prompt(label, shown string) {
	if shown == "" {
		fmt.Fprintf(w.out, "%s: ", label)
		return
	}
	fmt.Fprintf(w.out, "%s [%s]: ", label, shown)
}

func (w *wizard) readLine() string {
	if !w.in.Scan() {
		return ""
	}
	return strings.TrimSpace(w.in.Text())
}

func (w *wizard) text(label, current string) string {
	w.prompt(label, current)
	if v := w.readLine(); v != "" {
		return v
	}
	return current
}

func (w *wizard) secret(label, current string) string {
	shown := ""
	if current != "" {
		shown = config.Mask(current)
	}
	w.prompt(label, shown)
	if w.ttyFD < 0 {
		if v := w.readLine(); v != "" {
			return v
		}
		return current
	}
	b, err := term.ReadPassword(w.ttyFD)
	fmt.Fprintln(w.out)
	if v := strings.TrimSpace(string(b)); err == nil && v != "" {
		return v
	}
	return current
}

func (w *wizard) number(label string, current int) int {
	for {
		v := w.text(label, strconv.Itoa(current))
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			return n
		}
		fmt.Fprintln(w.out, "  enter a positive whole number")
		if v == strconv.Itoa(current) {
			return current
		}
	}
}

func (w *wizard) choice(label, current string, options ...string) string {
	label = fmt.Sprintf("%s (%s)", label, strings.Join(options, "|"))
	for {
		v := w.text(label, current)
		if slices.Contains(options, v) {
			return v
		}
		fmt.Fprintf(w.out, "  choose one of: %s\n", strings.Join(options, ", "))
		if v == current {
			// Unreadable input or an invalid stored value; fall back.
			return options[0]
		}
	}
}
