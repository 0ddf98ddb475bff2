package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"teamdash/chat/internal/api/handler"
	"teamdash/chat/internal/backend"
	"teamdash/chat/internal/chathub"
	"teamdash/chat/internal/config"
	"teamdash/chat/internal/models"
	"teamdash/chat/internal/storage"
	"teamdash/chat/internal/telegram"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "teamdash-chat",
	Short:         "Real-time chat client for the team dashboard",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger("info")
		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c
		setupLogger(cfg.LogLevel)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the chat client and its local API",
	RunE:  runDaemon,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the message history of a chat",
	RunE:  runHistory,
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Print archived messages of a room from the local database",
	RunE:  runArchive,
}

var (
	flagChatType string
	flagPeer     string
	flagPages    int
	flagRoom     string
	flagLimit    int
)

func init() {
	hf := historyCmd.Flags()
	hf.StringVar(&flagChatType, "chat-type", "group", "chat type: group or private")
	hf.StringVar(&flagPeer, "peer", "", "peer user id for private chats")
	hf.IntVar(&flagPages, "pages", 1, "number of pages to follow")

	af := archiveCmd.Flags()
	af.StringVar(&flagRoom, "room", models.GroupRoom, `room id, e.g. "group" or "private:2:5"`)
	af.IntVar(&flagLimit, "limit", 50, "number of latest messages to print")

	rootCmd.AddCommand(runCmd, historyCmd, archiveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("teamdash-chat failed")
	}
}

func setupLogger(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// loadSession builds the identity from the access token and, when the API
// answers, fills in the display name and role.
func loadSession(ctx context.Context, api *backend.Client) (*models.Session, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("ACCESS_TOKEN is required")
	}
	session, err := models.SessionFromToken(cfg.AccessToken)
	if err != nil {
		return nil, err
	}

	user, err := api.CurrentUser(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not load current user, using token identity")
		return session, nil
	}
	session.Name = user.FullName
	if session.Name == "" {
		session.Name = user.Username
	}
	if user.Role != "" {
		session.Role = models.Role(user.Role)
	}
	return session, nil
}

// openStorage connects whichever local stores are configured. It returns
// nil when neither is.
func openStorage(ctx context.Context) (*storage.Service, error) {
	if cfg.DatabaseDSN == "" && cfg.RedisAddr == "" {
		return nil, nil
	}
	svc := storage.NewStorageService(nil, nil, cfg.HistoryCacheTTL, log.Logger)
	if cfg.DatabaseDSN != "" {
		db, err := storage.OpenDatabase(cfg.DatabaseDriver, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		svc.DB = db
	}
	if cfg.RedisAddr != "" {
		rdb, err := storage.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			_ = svc.Close()
			return nil, err
		}
		svc.Redis = rdb
	}
	log.Info().Bool("archive", svc.DB != nil).Bool("cache", svc.Redis != nil).Msg("local storage ready")
	return svc, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := backend.NewClient(cfg.APIBaseURL, cfg.AccessToken, log.Logger)
	session, err := loadSession(ctx, api)
	if err != nil {
		return err
	}
	live, err := config.LiveBaseURL(cfg.APIBaseURL)
	if err != nil {
		return err
	}

	svc, err := openStorage(ctx)
	if err != nil {
		return err
	}
	var persistence chathub.Persistence
	if svc != nil {
		defer svc.Close()
		persistence = svc
	}

	store := chathub.NewMessageStore()
	ctrl := chathub.NewController(session,
		chathub.NewWebsocketDialer(cfg.AccessToken),
		store,
		chathub.NewHistoryLoader(api, store, log.Logger),
		chathub.ControllerOptions{
			LiveBaseURL: live,
			Debounce:    cfg.RoomDebounce,
			Connection: chathub.ConnectionOptions{
				MaxAttempts: cfg.ReconnectMaxAttempts,
				BaseDelay:   cfg.ReconnectBaseDelay,
			},
			Poster:      api,
			Persistence: persistence,
		},
		log.Logger,
	)
	defer ctrl.Close()

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		relay, err := telegram.NewBotRelay(cfg.TelegramBotToken, cfg.TelegramChatID, session.UserID, log.Logger)
		if err != nil {
			log.Error().Err(err).Msg("telegram relay disabled")
		} else {
			events, cancel := ctrl.Subscribe(256)
			defer cancel()
			go relay.Run(ctx, events)
		}
	}

	if err := ctrl.Select(models.ChatTypeGroup, ""); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	handler.NewHandler(ctrl, log.Logger).Register(r)

	server := &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("user", session.UserID).Msg("local chat API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("local API: %w", err)
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runHistory(cmd *cobra.Command, args []string) error {
	chatType, err := models.ParseChatType(flagChatType)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := backend.NewClient(cfg.APIBaseURL, cfg.AccessToken, log.Logger)
	target := chathub.Target{ChatType: chatType, PeerID: flagPeer}
	if cfg.AccessToken != "" {
		if session, err := models.SessionFromToken(cfg.AccessToken); err == nil {
			target.SelfID = session.UserID
		}
	}

	store := chathub.NewMessageStore()
	loader := chathub.NewHistoryLoader(api, store, log.Logger)
	room, err := target.Room()
	if err != nil {
		return err
	}

	cursor := ""
	for page := 0; page < flagPages; page++ {
		p, _, err := loader.Load(ctx, target, cursor)
		if err != nil {
			return err
		}
		cursor = p.Next
		if cursor == "" {
			break
		}
	}

	out := cmd.OutOrStdout()
	for _, m := range store.Ordered(room) {
		fmt.Fprintf(out, "%s  %s (%s): %s\n", m.Timestamp.Local().Format("2006-01-02 15:04"), m.SenderName, m.SenderRole, m.Content)
	}
	return nil
}

func runArchive(cmd *cobra.Command, args []string) error {
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required for the archive")
	}
	db, err := storage.OpenDatabase(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	svc := storage.NewStorageService(db, nil, 0, log.Logger)
	defer svc.Close()

	msgs, err := svc.ArchivedMessages(cmd.Context(), flagRoom, flagLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, m := range msgs {
		fmt.Fprintf(out, "%s  [%s] %s (%s): %s\n", m.Timestamp.Local().Format("2006-01-02 15:04"), m.ID, m.SenderName, m.SenderRole, m.Content)
	}
	return nil
}
