// Package telegram implements the clonechat.Client surface over
// MTProto using gotd. One Client speaks for one authenticated user
// account; the session persists on disk so later runs skip the login
// flow.
package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gotd/td/session"
	tdclient "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"golang.org/x/term"

	"github.com/nevindra/clonechat"
)

// nopLogger discards all output. Used when no logger option is set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Options configure a connection. APIID and APIHash come from
// my.telegram.org and identify the application, not the user.
type Options struct {
	APIID   int
	APIHash string

	// Phone in international format. Only needed for the first login;
	// afterwards the session file carries the authorization. When empty
	// and no session exists, the user is prompted on the terminal.
	Phone string

	// SessionFile is where the MTProto session persists. The parent
	// directory is created if missing.
	SessionFile string

	// Logger receives connection events. Nil means no output.
	Logger *slog.Logger
}

// Client talks to Telegram as a user account. It implements
// clonechat.Client and is safe for concurrent use.
type Client struct {
	api    *tg.Client
	sender *message.Sender
	upload *uploader.Uploader
	dl     *downloader.Downloader
	self   *tg.User
	peers  *peerCache
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan error
}

var _ clonechat.Client = (*Client)(nil)

// Connect dials Telegram, runs the login flow if the session file does
// not hold a valid authorization, and returns a ready Client. The
// connection lives until ctx is cancelled or Close is called.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIID == 0 || opts.APIHash == "" {
		return nil, errors.New("telegram: api id and api hash are required")
	}
	if opts.SessionFile == "" {
		return nil, errors.New("telegram: session file path is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger
	}

	if err := os.MkdirAll(filepath.Dir(opts.SessionFile), 0o755); err != nil {
		return nil, fmt.Errorf("telegram: session dir: %w", err)
	}

	td := tdclient.NewClient(opts.APIID, opts.APIHash, tdclient.Options{
		SessionStorage: &session.FileStorage{Path: opts.SessionFile},
		Device: tdclient.DeviceConfig{
			DeviceModel:   "clonechat",
			SystemVersion: runtime.GOOS,
			AppVersion:    "clonechat",
		},
	})

	runCtx, cancel := context.WithCancel(ctx)
	c := &Client{
		peers:  newPeerCache(),
		logger: logger,
		cancel: cancel,
		done:   make(chan error, 1),
	}

	initDone := make(chan error, 1)
	go func() {
		err := td.Run(runCtx, func(ctx context.Context) error {
			flow := auth.NewFlow(terminalAuth{phone: opts.Phone}, auth.SendCodeOptions{})
			if err := td.Auth().IfNecessary(ctx, flow); err != nil {
				return fmt.Errorf("auth: %w", err)
			}

			self, err := td.Self(ctx)
			if err != nil {
				return fmt.Errorf("self: %w", err)
			}
			c.self = self
			c.api = td.API()
			c.sender = message.NewSender(c.api)
			c.upload = uploader.NewUploader(c.api)
			c.dl = downloader.NewDownloader()
			c.peers.rememberUser(self)

			logger.Info("connected",
				"user_id", self.ID,
				"username", self.Username)
			initDone <- nil

			// Hold the connection open for the callers. Run tears it
			// down when the context ends.
			<-ctx.Done()
			return ctx.Err()
		})
		select {
		case initDone <- err:
		default:
		}
		c.done <- err
	}()

	select {
	case err := <-initDone:
		if err != nil {
			cancel()
			<-c.done
			return nil, fmt.Errorf("telegram: connect: %w", err)
		}
		return c, nil
	case <-ctx.Done():
		cancel()
		<-c.done
		return nil, ctx.Err()
	}
}

// Close shuts the connection down and waits for the run loop to exit.
func (c *Client) Close() error {
	c.cancel()
	err := <-c.done
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("telegram: close: %w", err)
	}
	return nil
}

// Self returns the authenticated account.
func (c *Client) Self(ctx context.Context) (clonechat.Chat, error) {
	return userChat(c.self), nil
}

// terminalAuth drives the interactive login flow: phone and code are
// read from stdin, the 2FA password without echo. Sign-up of new
// accounts is refused.
type terminalAuth struct {
	phone string
}

func (a terminalAuth) Phone(_ context.Context) (string, error) {
	if a.phone != "" {
		return a.phone, nil
	}
	return promptLine("Phone number (international format): ")
}

func (terminalAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return promptLine("Login code: ")
}

func (terminalAuth) Password(_ context.Context) (string, error) {
	fmt.Fprint(os.Stderr, "2FA password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func (terminalAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up through the official apps first")
}

func (terminalAuth) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	return &auth.SignUpRequired{TermsOfService: tos}
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// userChat maps a platform user to the engine view.
func userChat(u *tg.User) clonechat.Chat {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return clonechat.Chat{
		ID:       u.ID,
		Kind:     clonechat.ChatUser,
		Title:    name,
		Username: u.Username,
	}
}
