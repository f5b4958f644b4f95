package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/imhunterand/iDA-projectile/arena"
	"github.com/imhunterand/iDA-projectile/logging"
)

// Shell reads commands from an input stream and applies them to the arena.
type Shell struct {
	arena  *arena.Arena
	out    io.Writer
	logger logging.Logger
}

// New returns a Shell writing replies to out.
func New(a *arena.Arena, out io.Writer, logger logging.Logger) *Shell {
	return &Shell{arena: a, out: out, logger: logger}
}

// Exec parses and applies one line, writing any reply. It returns ErrQuit after quit.
func (s *Shell) Exec(line string) error {
	cmd, err := Parse(line)
	if err != nil {
		s.reply("error: %v", err)
		return nil
	}
	return s.Do(cmd)
}

// Do applies cmd.
func (s *Shell) Do(cmd Command) error {
	if cmd.IsZero() {
		return nil
	}
	var applyErr error
	s.arena.Update(func(b *arena.Block) { applyErr = cmd.Apply(b) })
	if applyErr != nil {
		s.reply("error: %v", applyErr)
		return nil
	}
	s.logger.Infow("operator command", "verb", cmd.Verb, "args", cmd.Args, "word", cmd.Word)

	switch cmd.Verb {
	case VerbState:
		s.reply("%s", Report(s.arena.Snapshot()))
	case VerbHelp:
		s.reply("%s", Help)
	case VerbLogLevel:
		registry := logging.RegistryOf(s.logger)
		if registry == nil {
			s.reply("error: log levels are fixed")
			return nil
		}
		n, err := registry.SetLevel(cmd.Word, cmd.LogLevel)
		if err != nil {
			s.reply("error: %v", err)
			return nil
		}
		s.reply("%d loggers at %s", n, strings.ToLower(cmd.LogLevel.String()))
	case VerbQuit:
		return ErrQuit
	}
	return nil
}

func (s *Shell) reply(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(s.out, format+"\n", args...); err != nil {
		s.logger.Debugw("shell write failed", "error", err)
	}
}

// Run executes lines from in until it is exhausted, ctx is done or a quit command arrives. Reads
// happen on a separate goroutine so that cancellation is not held up by a blocked reader.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := s.Exec(line); err != nil {
				return err
			}
		}
	}
}
