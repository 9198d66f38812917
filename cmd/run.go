package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/interviewcapture/internal/console"
	"github.com/audiolibrelab/interviewcapture/internal/interview"
	"github.com/audiolibrelab/interviewcapture/internal/play"
	"github.com/audiolibrelab/interviewcapture/internal/server"
	"github.com/audiolibrelab/interviewcapture/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run [token]",
	Short: "Run an interview in the terminal",
	Long: `Run the interview for the candidate identified by token.

Press Enter to start and stop recording an answer, 'p' then Enter to replay
the last recorded answer, 'n' then Enter to move to the next question, 'q'
then Enter to quit. The control page and answer previews are served on the
configured preview address.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInterview(cmd.Context(), args[0], os.Stdin)
	},
}

// runInterview opens the session and serves the control server until ctx
// ends. With a non-nil in, keyboard commands are read from it as well and
// quitting ends the session.
func runInterview(parent context.Context, token string, in io.Reader) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	injector := setupDI(cfg, cfgFile, os.Stdout)
	svc := do.MustInvoke[service.Service](injector)
	renderer := do.MustInvoke[*console.Renderer](injector)
	srv := do.MustInvoke[*server.Server](injector)
	player := localPlayer{
		baseURL: server.BaseURL(cfg.Preview.Listen),
		player:  do.MustInvoke[*play.Player](injector),
	}

	svc.Observe(renderer.Render)
	renderer.Render(svc.Status())

	return runSession(ctx, svc, srv, player, token, in)
}

type controlServer interface {
	Start(ctx context.Context) error
}

// runSession drives one opened session. Without a terminal the control
// page is the only surface, so a session that fails to open keeps being
// served with its notice until ctx ends.
func runSession(ctx context.Context, svc service.Service, srv controlServer, player previewPlayer, token string, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer svc.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})

	if err := svc.Open(gctx, token); err != nil {
		if in == nil && gctx.Err() == nil {
			slog.Warn("Interview unavailable, serving the notice until stopped", "token", token, "error", err)
			return g.Wait()
		}
		cancel()
		if waitErr := g.Wait(); waitErr != nil {
			return waitErr
		}
		return fmt.Errorf("interview unavailable: %w", err)
	}

	if in != nil {
		g.Go(func() error {
			defer cancel()
			return terminalLoop(gctx, in, svc, player)
		})
	}

	return g.Wait()
}

// terminalLoop maps input lines to session commands until quit, EOF or ctx end
func terminalLoop(ctx context.Context, in io.Reader, svc service.Service, player previewPlayer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleKey(ctx, svc, player, strings.TrimSpace(strings.ToLower(line))); quit {
				return nil
			}
		}
	}
}

type previewPlayer interface {
	Play(ctx context.Context, url string) error
}

// localPlayer resolves server-relative preview paths against the control
// server's local address before handing them to a media player.
type localPlayer struct {
	baseURL string
	player  previewPlayer
}

func (p localPlayer) Play(ctx context.Context, url string) error {
	return p.player.Play(ctx, server.ResolveURL(p.baseURL, url))
}

func handleKey(ctx context.Context, svc service.Service, player previewPlayer, key string) bool {
	var err error
	switch key {
	case "":
		status := svc.Status()
		if status.Interview != nil && status.Interview.CanStop {
			err = svc.RequestStop(ctx)
		} else {
			err = svc.StartRecording()
		}
	case "n", "next":
		err = svc.NextQuestion()
	case "p", "play":
		status := svc.Status()
		if status.Interview == nil || status.Interview.PreviewURL == "" {
			fmt.Fprintln(os.Stderr, "No recorded answer to replay yet")
			return false
		}
		url := status.Interview.PreviewURL
		go func() {
			if err := player.Play(ctx, url); err != nil {
				slog.Warn("Replay failed", "error", err)
			}
		}()
	case "q", "quit", "exit":
		return true
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q: Enter records, p replay, n next, q quit\n", key)
		return false
	}

	if err != nil {
		if errors.Is(err, interview.ErrBusy) {
			slog.Warn("Finish the current answer first", "error", err)
		} else {
			slog.Warn("Command rejected", "key", key, "error", err)
		}
	}
	return false
}
