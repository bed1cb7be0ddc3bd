package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/groupchat/internal/backend/blob"
	"github.com/dmitrijs2005/groupchat/internal/backend/changefeed"
	"github.com/dmitrijs2005/groupchat/internal/backend/identity"
	"github.com/dmitrijs2005/groupchat/internal/backend/records"
	"github.com/dmitrijs2005/groupchat/internal/client/config"
	"github.com/dmitrijs2005/groupchat/internal/client/conversation"
	"github.com/dmitrijs2005/groupchat/internal/client/models"
	"github.com/dmitrijs2005/groupchat/internal/client/status"
	"github.com/dmitrijs2005/groupchat/internal/client/store"
	"github.com/dmitrijs2005/groupchat/internal/filex"
	"github.com/dmitrijs2005/groupchat/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// chat is the part of *conversation.Synchronizer the CLI drives.
type chat interface {
	Open(ctx context.Context, groupID int64) error
	Close()
	LoadMore(ctx context.Context) (int, error)
	SendText(ctx context.Context, content string, replyTo *int64) (*models.Message, error)
	SendImage(ctx context.Context, image []byte, caption string, replyTo *int64) (*models.Message, error)
	Edit(ctx context.Context, id int64, content string) error
	Delete(ctx context.Context, id int64) error
	Enrich(ctx context.Context) error

	Store() *store.Store
	StatusMachine() *status.Machine
	Messages() []models.Message
	HasMore() bool
	StreamState() conversation.StreamState
	Session() *conversation.Session
}

// tokenIdentity is the login state of the CLI user.
type tokenIdentity interface {
	SetToken(token string) (string, error)
	Clear()
	CurrentUserID() (string, bool)
}

type App struct {
	config   *config.Config
	chat     chat
	identity tokenIdentity
	logger   logging.Logger
	registry prometheus.Gatherer

	reader   *bufio.Reader
	readFile func(path string, limit int64) ([]byte, error)

	outMu sync.Mutex
	out   io.Writer

	// newest is the newest message already printed; live printing only
	// happens while tracking.
	newestMu sync.Mutex
	newest   *models.Message
	tracking bool

	closers []func() error
}

// NewApp connects the chat client to Postgres and S3 and builds the
// conversation synchronizer.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	policy, err := conversation.ParseSendPolicy(c.SendPolicy)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	blobs, err := blob.New(ctx, blob.Config{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
	}, &http.Client{Timeout: c.RequestTimeout})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	var (
		reg      prometheus.Registerer
		gatherer prometheus.Gatherer
	)
	if c.MetricsAddr != "" {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	}

	id := identity.NewTokenIdentity([]byte(c.SecretKey))

	synchronizer := conversation.New(conversation.Deps{
		Messages:    records.NewMessageRepository(db),
		Attachments: records.NewAttachmentRepository(db),
		Feed:        changefeed.NewFeed(c.DatabaseDSN, logger.With("component", "changefeed")),
		Blobs:       blobs,
		Identity:    id,
	}, conversation.Options{
		PageSize:   c.PageSize,
		Bucket:     c.S3Bucket,
		SendPolicy: policy,
		Image: conversation.ImageOptions{
			MaxDimension: c.ImageMaxDimension,
			Quality:      c.ImageQuality,
		},
	}, logger, conversation.NewMetrics(reg))

	a := newApp(c, synchronizer, id, logger, os.Stdin, os.Stdout)
	a.registry = gatherer
	a.closers = append(a.closers, db.Close)
	return a, nil
}

func newApp(c *config.Config, ch chat, id tokenIdentity, logger logging.Logger, in io.Reader, out io.Writer) *App {
	return &App{
		config:   c,
		chat:     ch,
		identity: id,
		logger:   logger,
		reader:   bufio.NewReader(in),
		readFile: filex.ReadLimited,
		out:      out,
	}
}

func (a *App) println(args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintln(a.out, args...)
}

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.config.MetricsAddr == "" || a.registry == nil {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info(ctx, "metrics listening", "addr", a.config.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(ctx, "metrics server failed", "err", err)
		}
	}()

	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// Run starts the REPL and blocks until the user exits, stdin ends or the
// process receives a termination signal.
func (a *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	a.logger.Info(ctx, "Starting chat client...")
	a.initSignalHandler(cancelFunc)
	a.startMetricsServer(ctx)

	stopWatch := a.chat.StatusMachine().Watch(a.showProgress)
	defer stopWatch()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.watchUpdates(ctx)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runREPL(ctx, a, a.prompt, a.reader)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	cancelFunc()

	a.chat.Close()
	wg.Wait()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn(ctx, "shutdown", "err", err)
		}
	}
}

// showProgress prints upload progress. It runs on the goroutine that moved
// the status machine.
func (a *App) showProgress(s models.Status) {
	if s.Kind == models.StatusUploadingImage {
		a.printf("uploading image: %3.0f%%\n", s.Progress*100)
	}
}

func (a *App) prompt() string {
	var group string
	if sess := a.chat.Session(); sess != nil {
		group = fmt.Sprintf("#%d ", sess.GroupID())
	}
	return fmt.Sprintf("%s[%s]", group, a.chat.StatusMachine().Current())
}

// afterCommand prints a terminal status once and moves the machine back to
// idle.
func (a *App) afterCommand() {
	if s, ok := a.chat.StatusMachine().Acknowledge(); ok {
		a.println(s.String())
	}
}

func (a *App) isLoggedIn() bool {
	_, ok := a.identity.CurrentUserID()
	return ok
}

func (a *App) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.config.RequestTimeout)
}
