package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"docchat/internal/domain"
	"docchat/internal/service"
	"docchat/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "docchat",
		Usage: "Ask questions about a document, with general answers when it has none",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to YAML config file (uses ./config.yaml or ~/.config/docchat/config.yaml if not provided)",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "Path to env file",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Index a document, replacing the persisted index",
				ArgsUsage: "<path>",
				Action:    ingestAction,
			},
			{
				Name:      "ask",
				Usage:     "Answer one question against the persisted index",
				ArgsUsage: "<question>",
				Action:    askAction,
			},
			{
				Name:      "chat",
				Usage:     "Start an interactive chat, optionally loading a document first",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "log-file",
						Usage: "Log file used when the config sets none",
						Value: "docchat.log",
					},
				},
				Action: chatAction,
			},
			{
				Name:   "status",
				Usage:  "Describe the persisted index",
				Action: statusAction,
			},
			{
				Name:   "clear",
				Usage:  "Delete the persisted index",
				Action: clearAction,
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, userMessage(err))
		os.Exit(1)
	}
}

// userMessage hides internal detail from everything but setup failures.
func userMessage(err error) string {
	var se *setupError
	if errors.As(err, &se) {
		return se.Error()
	}
	return domain.UserMessage(err)
}

func ingestAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return setupErr("usage: docchat ingest <path>")
	}
	a, err := newApp(ctx, cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.Ingest(ctx, path)
	if err != nil {
		a.log.WithError(err).Error("ingest failed")
		return err
	}
	printIngest(res)
	return nil
}

func printIngest(res *service.IngestResult) {
	fmt.Printf("Indexed %s: %d segments in %s\n", res.Path, res.Segments, res.Elapsed.Round(time.Millisecond))
	if res.Truncated {
		fmt.Println("Only the beginning of the document was indexed.")
	}
	if res.Summary != "" {
		fmt.Printf("\nSummary: %s\n", res.Summary)
	}
}

func askAction(ctx context.Context, cmd *cli.Command) error {
	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return setupErr("usage: docchat ask <question>")
	}
	a, err := newApp(ctx, cmd, appOptions{generator: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ex, err := a.answer(ctx, question)
	if err != nil {
		a.log.WithError(err).Error("answer failed")
		return err
	}
	fmt.Println(ex.Answer)
	if ex.Provenance == domain.ProvenanceGrounded {
		fmt.Printf("\n(from %d document segments)\n", len(ex.Context))
	}
	return nil
}

func chatAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd, appOptions{generator: true, logFile: cmd.String("log-file")})
	if err != nil {
		return err
	}
	defer a.Close()

	var summary string
	if path := cmd.Args().First(); path != "" {
		fmt.Printf("Processing %s...\n", path)
		res, err := a.svc.Ingest(ctx, path)
		if err != nil {
			a.log.WithError(err).Error("ingest failed")
			return err
		}
		summary = res.Summary
	} else {
		ok, err := a.load(ctx)
		if err != nil {
			a.log.WithError(err).Error("persisted index not loaded")
			return err
		}
		summary = "No document loaded. Use /load <path>."
		if ok {
			summary = "Loaded the previously indexed document."
		}
	}

	m := tui.New(ctx, a.svc, summary)
	if _, err := tea.NewProgram(m, tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.svc.Status(ctx)
	if err != nil {
		return err
	}
	if !st.Persisted {
		fmt.Printf("No index at %s\n", st.Path)
		return nil
	}
	fmt.Printf("Index:     %s\n", st.Path)
	fmt.Printf("Built:     %s\n", st.Meta.BuiltAt.Local().Format(time.RFC1123))
	fmt.Printf("Segments:  %d\n", st.Meta.SegmentCount)
	fmt.Printf("Model:     %s (dimension %d)\n", st.Meta.Model, st.Meta.Dimension)
	if st.Meta.Truncated {
		fmt.Println("Truncated: yes")
	}
	return nil
}

func clearAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.Clear(ctx); err != nil {
		return err
	}
	fmt.Println("Index cleared.")
	return nil
}
