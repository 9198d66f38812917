package play

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Players in order of preference
var defaultPlayers = []string{"mpv", "vlc", "ffplay"}

// Player replays a recorded answer from its preview URL with a local
// media player.
type Player struct {
	players  []string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

func New() *Player {
	return &Player{
		players:  defaultPlayers,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

func (p *Player) Play(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("no recording to play")
	}

	player, err := p.findPlayer()
	if err != nil {
		return fmt.Errorf("no suitable video player found: %w", err)
	}

	args := playerArgs(player, url)
	slog.Debug("Playing preview", "player", player, "url", url)

	if err := p.run(ctx, player, args...); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	return nil
}

func playerArgs(player, url string) []string {
	switch player {
	case "vlc":
		return []string{"--play-and-exit", url}
	case "ffplay":
		return []string{"-autoexit", "-loglevel", "error", url}
	default:
		return []string{url}
	}
}

func (p *Player) findPlayer() (string, error) {
	for _, player := range p.players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("tried: %s", strings.Join(p.players, ", "))
}
