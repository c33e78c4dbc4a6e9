package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rickgao/pixel-canvas/internal/config"
	"github.com/rickgao/pixel-canvas/internal/session"
	"github.com/rickgao/pixel-canvas/internal/token"
)

const helpText = `Commands:
  register <name>   join the canvas (at least 3 characters)
  color <value>     paint the next pixel, e.g. color purple or color #ff8800
  close             disconnect
  status            show the session state
  grid              redraw the canvas
  help              show this text
  quit              exit
`

// sessionAPI is the part of *session.Manager the prompt drives.
type sessionAPI interface {
	RegisterUser(ctx context.Context, name string) error
	SubmitColor(ctx context.Context, color string) error
	CloseExisting(ctx context.Context) error
	Status(ctx context.Context) (session.Status, error)
}

// prompt turns input lines into session intents.
type prompt struct {
	session sessionAPI
	render  func() string
	out     io.Writer
}

var errQuit = errors.New("quit")

// run reads commands until quit, EOF or ctx is done.
func (p *prompt) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := p.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) || ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// exec runs one command line. Only errQuit or a cancelled context stop the
// prompt; every other failure is reported and the prompt continues.
func (p *prompt) exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "register", "name":
		err = p.session.RegisterUser(ctx, arg)
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			// Already shown as a notice.
			err = nil
		}
	case "color", "colour":
		if arg == "" {
			fmt.Fprintln(p.out, "usage: color <value>")
			return nil
		}
		err = p.session.SubmitColor(ctx, arg)
		if errors.Is(err, session.ErrNotConnected) {
			fmt.Fprintln(p.out, "not connected: register first")
			return nil
		}
	case "close":
		err = p.session.CloseExisting(ctx)
	case "status":
		var st session.Status
		if st, err = p.session.Status(ctx); err == nil {
			fmt.Fprintf(p.out, "state=%s user=%q client_id=%s conn_id=%s\n", st.State, st.UserName, st.ClientID, st.ConnID)
		}
	case "grid":
		io.WriteString(p.out, p.render())
	case "help", "?":
		io.WriteString(p.out, helpText)
	case "quit", "exit":
		return errQuit
	default:
		fmt.Fprintf(p.out, "unknown command %q\n", cmd)
		io.WriteString(p.out, helpText)
	}

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, session.ErrStopped) {
			return err
		}
		fmt.Fprintf(p.out, "error: %v\n", err)
	}
	return nil
}

func newTokenClient(cfg *config.ClientConfig, logger *slog.Logger) *token.Client {
	return token.NewClient(
		cfg.Server.HTTPBaseURL(),
		cfg.Server.TokenPath,
		token.WithTimeout(cfg.Server.Timeout),
		token.WithLogger(logger),
	)
}
