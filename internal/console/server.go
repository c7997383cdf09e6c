// Package console serves an SSH chat console. Every session plays as the
// SSH user: it joins the game, sees its chat messages and types commands.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"go.uber.org/zap"
	"golang.org/x/term"

	"bunger-shield/internal/chat"
	"bunger-shield/internal/config"
	"bunger-shield/internal/game"
)

// ErrAlreadyOnline is returned when a second session uses a name in play.
var ErrAlreadyOnline = errors.New("player already online")

const (
	prompt          = "> "
	quitTimeout     = 5 * time.Second
	completeTimeout = time.Second
	shutdownTimeout = 5 * time.Second
)

// Server is the SSH console.
type Server struct {
	cfg    config.ConsoleConfig
	game   *game.Server
	chat   *chat.Handler
	logger *zap.Logger
	srv    *ssh.Server
}

// NewServer builds the SSH server. A missing host key is generated at
// cfg.HostKeyPath on first start.
func NewServer(cfg config.ConsoleConfig, gs *game.Server, handler *chat.Handler, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, game: gs, chat: handler, logger: logger}

	opts := []ssh.Option{
		wish.WithAddress(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))),
		wish.WithMiddleware(
			s.sessionMiddleware,
			s.logMiddleware,
		),
	}
	if cfg.HostKeyPath != "" {
		opts = append(opts, wish.WithHostKeyPath(cfg.HostKeyPath))
	}

	srv, err := wish.NewServer(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ssh server: %w", err)
	}
	s.srv = srv
	return s, nil
}

// Run serves SSH sessions until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ssh console starting", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, ssh.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ssh console: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		// Sessions still open; cut them off.
		s.srv.Close()
	}
	<-errCh
	return nil
}

// logMiddleware logs session start and end.
func (s *Server) logMiddleware(next ssh.Handler) ssh.Handler {
	return func(sess ssh.Session) {
		start := time.Now()
		_, _, pty := sess.Pty()
		s.logger.Info("ssh session started",
			zap.String("user", sess.User()),
			zap.String("remote", sess.RemoteAddr().String()),
			zap.Bool("pty", pty))
		next(sess)
		s.logger.Info("ssh session ended",
			zap.String("user", sess.User()),
			zap.Duration("duration", time.Since(start)))
	}
}

func (s *Server) sessionMiddleware(next ssh.Handler) ssh.Handler {
	return func(sess ssh.Session) {
		s.handleSession(sess)
		next(sess)
	}
}

// handleSession plays one SSH session as a player until it quits.
func (s *Server) handleSession(sess ssh.Session) {
	player, err := s.join(sess.Context(), sess.User())
	if err != nil {
		fmt.Fprintf(sess, "Could not join: %v\n", err)
		sess.Exit(1)
		return
	}
	id := player.ID()
	defer s.quit(player)

	renderer := lipgloss.NewRenderer(sess)
	var (
		out      io.Writer
		readLine func() (string, error)
	)
	if _, _, isPty := sess.Pty(); isPty {
		renderer.SetColorProfile(termenv.ANSI256)
		t := term.NewTerminal(sess, prompt)
		t.AutoCompleteCallback = s.completer(sess.Context(), id)
		out, readLine = t, t.ReadLine
	} else {
		scanner := bufio.NewScanner(sess)
		out = sess
		readLine = func() (string, error) {
			if scanner.Scan() {
				return scanner.Text(), nil
			}
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
	}

	p := newPainter(renderer)
	var writeMu sync.Mutex
	write := func(msg game.Message) {
		writeMu.Lock()
		defer writeMu.Unlock()
		fmt.Fprint(out, p.Render(msg)+"\r\n")
	}

	write(game.Text("Welcome, "+player.Name()+"! Type help for commands, /quit to leave.", game.ColorAqua))

	stop := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for {
			select {
			case msg, ok := <-player.Messages():
				if !ok {
					// Quit from elsewhere: end the session so the blocked
					// read returns.
					write(game.Text("You have been disconnected.", game.ColorRed))
					sess.Close()
					return
				}
				write(msg)
			case <-stop:
				return
			}
		}
	}()
	defer func() {
		close(stop)
		<-pumpDone
	}()

	for {
		line, err := readLine()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		switch strings.ToLower(line) {
		case "":
			continue
		case "/quit", "quit":
			return
		}

		err = s.chat.ProcessSession(sess.Context(), player, line)
		switch {
		case err == nil, errors.Is(err, chat.ErrRateLimited):
		case errors.Is(err, game.ErrPlayerNotFound), errors.Is(err, game.ErrNotRunning):
			// Kicked or server stopping
			return
		default:
			s.logger.Debug("console command failed", zap.String("user", sess.User()), zap.Error(err))
		}
	}
}

func (s *Server) join(ctx context.Context, name string) (*game.Player, error) {
	var player *game.Player
	err := s.game.Call(ctx, func() error {
		if _, ok := s.game.PlayerByName(name); ok {
			return fmt.Errorf("%s: %w", name, ErrAlreadyOnline)
		}
		var err error
		player, err = s.game.Join(name)
		return err
	})
	return player, err
}

// quit takes player offline unless it already left. A newer player with the
// same name is left alone.
func (s *Server) quit(player *game.Player) {
	ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
	defer cancel()
	err := s.game.Call(ctx, func() error {
		if current, ok := s.game.Player(player.ID()); !ok || current != player {
			return nil
		}
		return s.game.Quit(player.ID())
	})
	if err != nil && !errors.Is(err, game.ErrNotRunning) {
		s.logger.Warn("quit after ssh session", zap.String("player", player.Name()), zap.Error(err))
	}
}

// completer completes the command line on Tab.
func (s *Server) completer(ctx context.Context, id uuid.UUID) func(line string, pos int, key rune) (string, int, bool) {
	return func(line string, pos int, key rune) (string, int, bool) {
		if key != '\t' || pos != len(line) {
			return "", 0, false
		}
		cctx, cancel := context.WithTimeout(ctx, completeTimeout)
		defer cancel()
		candidates, err := s.chat.Complete(cctx, &id, line)
		if err != nil {
			return "", 0, false
		}
		completed, ok := applyCompletion(line, candidates)
		if !ok {
			return "", 0, false
		}
		return completed, len(completed), true
	}
}
