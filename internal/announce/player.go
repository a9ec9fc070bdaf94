package announce

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

var ErrNoPlayer = errors.New("no audio player available")

// CommandPlayer drives the audio tools installed on the reception machine.
type CommandPlayer struct {
	Language string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

func NewCommandPlayer(language string) *CommandPlayer {
	if language == "" {
		language = "fr-FR"
	}
	return &CommandPlayer{
		Language: language,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

func (p *CommandPlayer) available(name string) bool {
	_, err := p.lookPath(name)
	return err == nil
}

func (p *CommandPlayer) PlayFile(ctx context.Context, path string) error {
	switch {
	case p.available("mpg123"):
		return p.run(ctx, "mpg123", "-q", path)
	case p.available("ffplay"):
		return p.run(ctx, "ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", path)
	case p.available("aplay"):
		return p.run(ctx, "aplay", "-q", path)
	}
	return ErrNoPlayer
}

func (p *CommandPlayer) Speak(ctx context.Context, text string) error {
	if p.available("pico2wave") {
		dir, err := os.MkdirTemp("", "clinic-queue-tts")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		wav := filepath.Join(dir, "announce.wav")
		if err := p.run(ctx, "pico2wave", "-l", p.Language, "-w", wav, text); err != nil {
			return fmt.Errorf("pico2wave: %w", err)
		}
		return p.PlayFile(ctx, wav)
	}
	if p.available("espeak-ng") {
		return p.run(ctx, "espeak-ng", "-v", voice(p.Language), text)
	}
	return ErrNoPlayer
}

// voice maps a locale such as fr-FR to an espeak voice name.
func voice(language string) string {
	for i, r := range language {
		if r == '-' || r == '_' {
			return language[:i]
		}
	}
	return language
}
