package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/intelligrit/quakesafe/internal/api"
	"github.com/intelligrit/quakesafe/internal/panel"
)

var mapUser string

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Browse assessed locations interactively",
	Long: `Loads the pin list from the backend and opens an interactive prompt.

Commands:
  list          show every pin
  select <id>   show a pin's assessment, fetching it on first selection
  show          redraw the selected pin
  refresh       reload the pin list and forget fetched assessments
  wait          block until in-flight fetches finish
  quit          leave`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("user") {
			mapUser = cfg.Map.UserID
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		client := api.NewClient(cfg.API.BaseURL, cfg.API.RateLimit, cfg.API.Timeout.Duration)
		client.UserID = mapUser

		return runMap(ctx, client, os.Stdin, os.Stdout)
	},
}

func init() {
	mapCmd.Flags().StringVar(&mapUser, "user", "", "Only show pins uploaded by this user")
	rootCmd.AddCommand(mapCmd)
}

// lockedWriter serializes writes from the prompt and from fetch callbacks.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

func runMap(ctx context.Context, src panel.Source, in io.Reader, w io.Writer) error {
	out := &lockedWriter{w: w}

	var p *panel.Panel
	p = panel.New(src, panel.Options{
		FetchTimeout: cfg.Map.FetchTimeout.Duration,
		OnChange: func(id string) {
			// Only redraw when the pin on screen changed.
			if id != "" && id == p.Displayed() {
				out.printf("%s", formatView(p.Render(id)))
			}
		},
	})

	if err := p.Refresh(ctx); err != nil {
		out.printf("Could not load pins: %v\n", err)
	} else {
		out.printf("Loaded %d pins. Type \"list\" or \"select <id>\".\n", len(p.Pins()))
	}

	scanner := bufio.NewScanner(in)
	for {
		out.printf("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "list", "ls":
			pins := p.Pins()
			if len(pins) == 0 {
				out.printf("No pins.\n")
			}
			for _, pin := range pins {
				label := pin.Label
				if label == "" {
					label = "-"
				}
				out.printf("  %-36s  %9.4f %10.4f  %-6s  %s\n", pin.ID, pin.Latitude, pin.Longitude, stateName(p.State(pin.ID)), label)
			}
		case "select", "s":
			if len(fields) != 2 {
				out.printf("usage: select <id>\n")
				continue
			}
			// The change callback draws the view.
			if err := p.Select(ctx, fields[1]); err != nil {
				out.printf("%v\n", err)
			}
		case "show":
			out.printf("%s", formatView(p.Current()))
		case "refresh", "r":
			if err := p.Refresh(ctx); err != nil {
				out.printf("Refresh failed, keeping %d pins: %v\n", len(p.Pins()), err)
				continue
			}
			out.printf("Loaded %d pins.\n", len(p.Pins()))
		case "wait":
			p.Wait()
		case "quit", "exit", "q":
			p.Wait()
			return nil
		default:
			out.printf("unknown command %q\n", fields[0])
		}
	}

	p.Wait()
	return scanner.Err()
}

func stateName(s panel.State) string {
	switch s.(type) {
	case panel.Pending:
		return "loading"
	case panel.Resolved:
		return "ready"
	case panel.Failed:
		return "failed"
	}
	return ""
}

func formatView(v panel.View) string {
	var b strings.Builder
	switch v.Kind {
	case panel.ViewPrompt, panel.ViewLoading:
		fmt.Fprintf(&b, "%s\n", v.Message)
	case panel.ViewError:
		fmt.Fprintf(&b, "[%s] Error: %s\n", v.PinID, v.Message)
	case panel.ViewResult:
		a := v.Assessment
		fmt.Fprintf(&b, "[%s]\n", v.PinID)
		if v.HasBand {
			fmt.Fprintf(&b, "  Safety score:  %.0f/100 (%s, %s)\n", a.Score, v.Band, v.Band.Color())
		} else {
			fmt.Fprintf(&b, "  Safety score:  %v/100\n", a.Score)
		}
		if v.HasAdvisory {
			fmt.Fprintf(&b, "  Survivability: magnitude %s, %s (%s)\n", a.SurvivabilityLabel, v.Advisory, v.Advisory.Color())
		}
		if v.Message != "" {
			fmt.Fprintf(&b, "\n%s\n", v.Message)
		}
	}
	return b.String()
}
