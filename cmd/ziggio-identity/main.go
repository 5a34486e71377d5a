package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alexjbarnes/ziggio-identity/internal/auth"
	"github.com/alexjbarnes/ziggio-identity/internal/clients"
	"github.com/alexjbarnes/ziggio-identity/internal/config"
	"github.com/alexjbarnes/ziggio-identity/internal/identity"
	"github.com/alexjbarnes/ziggio-identity/internal/logging"
	"github.com/alexjbarnes/ziggio-identity/internal/password"
	"github.com/alexjbarnes/ziggio-identity/internal/seed"
	"github.com/alexjbarnes/ziggio-identity/internal/server"
	"github.com/alexjbarnes/ziggio-identity/internal/session"
	"github.com/alexjbarnes/ziggio-identity/internal/state"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:    "ziggio-identity",
		Usage:   "multi-tenant identity and OAuth2 authorization server",
		Version: Version,
		Commands: []*cli.Command{
			serveCommand,
			hashSecretCommand,
			createUserCommand,
		},
		// No subcommand runs the server.
		Action: serve,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "run the identity server",
	Action: serve,
}

var hashSecretCommand = &cli.Command{
	Name:  "hash-secret",
	Usage: "read a client secret from stdin and print its client_secret_hash",
	Action: func(c *cli.Context) error {
		secret, err := readLine("Enter client secret: ")
		if err != nil {
			return err
		}

		hash, err := clients.HashSecret(secret)
		if err != nil {
			return err
		}

		fmt.Println(hash)

		return nil
	},
}

var createUserCommand = &cli.Command{
	Name:  "create-user",
	Usage: "create a user; the password is read from stdin (stop the server first, the state file is locked while it runs)",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "app", Usage: "application id", Value: 0},
		&cli.StringFlag{Name: "username", Required: true},
		&cli.StringFlag{Name: "email", Required: true},
		&cli.StringFlag{Name: "group", Usage: "role group holding --role"},
		&cli.StringSliceFlag{Name: "role", Usage: "role name within --group, repeatable"},
	},
	Action: createUser,
}

func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", errors.New("no input")
	}

	line := strings.TrimRight(scanner.Text(), "\r\n")
	if line == "" {
		return "", errors.New("empty input")
	}

	return line, nil
}

// components are the long-lived pieces shared by serve and create-user.
type components struct {
	state     *state.State
	hasher    *password.Hasher
	directory *identity.Directory
}

func open(cfg *config.Config) (*components, error) {
	st, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	hasher := password.NewHasher(cfg.HashParams(), cfg.HashConcurrency)

	return &components{
		state:     st,
		hasher:    hasher,
		directory: identity.NewDirectory(st, st, hasher),
	}, nil
}

func createUser(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	comp, err := open(cfg)
	if err != nil {
		return err
	}
	defer comp.state.Close()

	pw, err := readLine("Enter password: ")
	if err != nil {
		return err
	}

	ctx := c.Context
	appID := c.Int64("app")

	user, err := comp.directory.CreateUser(ctx, identity.NewUser{
		ApplicationID: appID,
		Username:      c.String("username"),
		Email:         c.String("email"),
		Password:      pw,
	})
	if err != nil {
		return err
	}

	roleNames := c.StringSlice("role")
	if len(roleNames) > 0 {
		group, roles, err := comp.directory.FindRoleGroup(ctx, appID, c.String("group"))
		if err != nil {
			return err
		}

		if group == nil {
			return fmt.Errorf("role group %q not found in application %d", c.String("group"), appID)
		}

		for _, name := range roleNames {
			found := false

			for _, r := range roles {
				if r.Name == name {
					if err := comp.directory.AssignRole(ctx, user.ID, r.ID); err != nil {
						return err
					}

					found = true
				}
			}

			if !found {
				return fmt.Errorf("role %q not found in group %q", name, group.Name)
			}
		}
	}

	fmt.Printf("created user %d (%s)\n", user.ID, user.Username)

	return nil
}

func serve(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("ziggio-identity starting",
		slog.String("version", Version),
		slog.String("issuer", cfg.Issuer),
		slog.String("state", cfg.StatePath),
	)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comp, err := open(cfg)
	if err != nil {
		return err
	}
	defer comp.state.Close()

	var admin *seed.Admin
	if cfg.SeedAdmin {
		admin = &seed.Admin{
			Username: cfg.SeedAdminUsername,
			Email:    cfg.SeedAdminEmail,
			Password: cfg.SeedAdminPassword,
		}
	}

	if err := seed.Seed(ctx, comp.directory, admin, logger); err != nil {
		return fmt.Errorf("seeding: %w", err)
	}

	registry, err := clients.LoadFile(cfg.ClientsFile)
	if err != nil {
		return fmt.Errorf("loading clients: %w", err)
	}

	logger.Info("client registry loaded",
		slog.String("path", cfg.ClientsFile),
		slog.Int("clients", registry.Len()),
	)

	srv, err := auth.NewServer(auth.ServerConfig{
		Issuer:             cfg.Issuer,
		SigningKey:         cfg.SigningKey,
		AccessTokenTTL:     cfg.AccessTokenTTL,
		RefreshTokenTTL:    cfg.RefreshTokenTTL,
		CodeTTL:            cfg.AuthorizationCodeTTL,
		RefreshReuseLeeway: cfg.RefreshReuseLeeway,
	}, registry, comp.state, comp.directory, logger)
	if err != nil {
		return err
	}

	authn := identity.NewSessionAuthenticator(
		identity.NewCredentialVerifier(comp.state, comp.hasher),
		comp.state,
		cfg.SignInPolicy(),
		logger,
	)

	csrf := auth.NewCSRFStore()
	defer csrf.Stop()

	httpServer := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.NewHandler(server.MuxConfig{
			Server:        srv,
			Sessions:      session.NewManager(cfg.Session()),
			Authenticator: authn,
			CSRF:          csrf,
			Logger:        logger,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server", slog.String("listen", cfg.ListenAddr))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}

		return nil
	})

	// Shutdown when context is cancelled.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return reap(gctx, comp.state, cfg.CleanupInterval, logger)
	})

	if cfg.WatchClients {
		g.Go(func() error {
			err := registry.Watch(gctx, cfg.ClientsFile, logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	return g.Wait()
}

// reap purges expired grants and tokens every interval until ctx ends.
func reap(ctx context.Context, st *state.State, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := st.PurgeExpired(ctx, now)
			if err != nil {
				logger.Warn("purging expired tokens failed", slog.String("error", err.Error()))
				continue
			}

			if n > 0 {
				logger.Info("purged expired tokens", slog.Int("count", n))
			}
		}
	}
}
