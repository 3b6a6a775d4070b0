package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/user/soulsync/internal/gateway"
	"github.com/user/soulsync/internal/session"
	"github.com/user/soulsync/internal/types"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("user", "", "user name for the session key (default $USER)")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session in the terminal",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

const chatBanner = `
🌟 Welcome to SoulSync, your therapeutic companion 🌟

  • I offer emotional support using techniques from CBT, DBT and ACT
  • I remember our conversations and build on them
  • Type 'quit' to leave; your session is summarized when it ends

⚠️  I'm an AI companion, not a replacement for professional help.
   If you're in crisis, contact emergency services or call 988.
`

var quitWords = map[string]bool{"quit": true, "exit": true, "bye": true, "goodbye": true}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	if cfg.LogLevel != "debug" {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "local"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// The gateway outlives ctx so an interrupted chat can still be saved.
	gw := a.newGateway()
	gw.Start(context.Background())
	defer gw.Stop()

	out := cmd.OutOrStdout()
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Fprint(out, chatBanner)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	key := types.NewSessionKey("cli", user)
	for {
		if interactive {
			fmt.Fprint(out, "\n💬 You: ")
		}
		var line string
		var ok bool
		select {
		case <-ctx.Done():
		case line, ok = <-lines:
		}
		if !ok {
			break
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if quitWords[strings.ToLower(text)] {
			break
		}

		res, err := gw.Submit(ctx, gateway.RunMessage, &types.InboundEvent{
			Source:     "cli",
			SessionKey: key,
			UserID:     user,
			Text:       text,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Str("session_key", string(key)).Msg("chat turn failed")
			fmt.Fprintln(out, "\n🤖 SoulSync: I'm having some technical difficulties. Let's try again.")
			continue
		}
		if res.Started && interactive {
			fmt.Fprintln(out, "\n🤖 Starting a new session...")
		}
		fmt.Fprintf(out, "\n🤖 SoulSync: %s\n", res.Response)
		if !res.Continue {
			endChat(gw, key, out)
		}
	}

	if o, ok := gw.Orchestrator(key); ok && o.Active() {
		endChat(gw, key, out)
	}
	if interactive {
		fmt.Fprintln(out, "\n🌟 Thank you for talking with SoulSync. Remember, you're never alone. 🌟")
	}
	return nil
}

// endChat ends the session for key and prints its summary.
func endChat(gw *gateway.Gateway, key types.SessionKey, out io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := gw.Submit(ctx, gateway.RunEnd, &types.InboundEvent{Source: "cli", SessionKey: key})
	if errors.Is(err, session.ErrNoActiveSession) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_key", string(key)).Msg("end session failed")
		fmt.Fprintln(out, "\n⚠️  The session could not be saved. It is still open.")
		return
	}
	sep := strings.Repeat("=", 50)
	fmt.Fprintf(out, "\n%s\n🔄 Session Complete\n%s\n%s\n", sep, sep, res.Response)
}
