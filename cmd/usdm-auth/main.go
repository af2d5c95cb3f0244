// Command usdm-auth drives the credential broker from a terminal: device
// sign-in, status, silent refresh, logout, and cache inspection. All
// business logic lives in the internal packages; this binary is wiring.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/broker"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/config"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/credstore"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/identity"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/logging"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/models"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/retry"
)

var Version = "dev"

// checkInterval is how often the login loop polls the broker for
// completion of the device flow.
const checkInterval = 2 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command := "status"
	if len(args) > 0 {
		command = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Debug("usdm-auth starting", slog.String("version", Version))

	store, err := credstore.New(
		filepath.Join(cfg.CacheDir, "credentials"),
		cfg.CredentialTTL,
		cfg.CachePassphrase,
		logger,
	)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	provider := identity.NewClient(identity.Options{
		AuthorityURL:            cfg.AuthorityURL,
		Tenant:                  cfg.Tenant,
		ClientID:                cfg.ClientID,
		DeviceScopes:            cfg.Scopes(),
		BackendAPIResource:      cfg.BackendAPIResource,
		AnalyticsEngineResource: cfg.AnalyticsEngineResource,
		Logger:                  logger,
	})

	b := broker.New(broker.Options{
		Tenant:         cfg.Tenant,
		ClientID:       cfg.ClientID,
		Scopes:         cfg.Scopes(),
		DeviceCodeWait: cfg.DeviceCodeWait,
		Store:          store,
		Provider:       provider,
		Retry:          retry.Default(logger),
		Logger:         logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "login":
		return login(ctx, b)
	case "status":
		printStatus(b.Status())
		return nil
	case "refresh":
		return refresh(ctx, b)
	case "logout":
		if err := b.Logout(ctx); err != nil {
			return err
		}

		fmt.Println("Signed out.")

		return nil
	case "cache-stats":
		return cacheStats(store)
	default:
		return fmt.Errorf("unknown command %q (expected login, status, refresh, logout, or cache-stats)", command)
	}
}

// login runs the interactive device flow: display the code, then poll the
// broker until the session reaches a terminal state or the user aborts.
func login(ctx context.Context, b *broker.Broker) error {
	res, err := b.SignIn(ctx)
	if err != nil {
		return err
	}

	if res.Cached {
		fmt.Printf("Already signed in as %s (from cache).\n", accountName(res.Account))
		printAudiences(res.Audiences)

		return nil
	}

	fmt.Printf("To sign in, open %s and enter the code %s\n", res.VerificationURI, res.UserCode)
	fmt.Println("Waiting for you to complete sign-in...")

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st, err := b.CheckSignIn(ctx)
		if err != nil {
			return err
		}

		switch st.State {
		case broker.SignInPending:
			continue
		case broker.SignInFailed:
			return fmt.Errorf("sign-in failed: %s", st.Message)
		case broker.SignInCompleted:
			fmt.Printf("Signed in as %s.\n", accountName(st.Account))
			printAudiences(st.Audiences)

			for aud, msg := range st.Failures {
				fmt.Printf("  note: %s token could not be acquired: %s\n", aud, msg)
			}

			return nil
		}
	}
}

func refresh(ctx context.Context, b *broker.Broker) error {
	res, err := b.Refresh(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Credentials refreshed.")
	printAudiences(res.Audiences)

	for aud, msg := range res.Failures {
		fmt.Printf("  note: %s token could not be acquired: %s\n", aud, msg)
	}

	return nil
}

func printStatus(st broker.AuthStatus) {
	switch {
	case st.Authenticated:
		fmt.Printf("Signed in as %s.\n", accountName(st.Account))
		printAudiences(st.Audiences)
	case st.Pending:
		fmt.Println("Sign-in in progress; run login to see the device code.")
	default:
		fmt.Println("Not signed in.")
	}
}

func cacheStats(store *credstore.Store) error {
	stats, err := store.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Credential cache: %s (%d entries)\n", stats.Dir, len(stats.Entries))

	for _, e := range stats.Entries {
		state := "valid"
		if e.Expired {
			state = "expired"
		}

		fmt.Printf("  %s  user=%s  %s  remaining=%s\n", e.Key, e.Username, state, e.RemainingTTL.Round(time.Second))

		for _, aud := range models.Audiences {
			fmt.Printf("    %-17s present=%t\n", aud, e.Audiences[aud])
		}
	}

	return nil
}

func printAudiences(auds map[models.Audience]bool) {
	for _, aud := range models.Audiences {
		fmt.Printf("  %-17s %t\n", aud, auds[aud])
	}
}

func accountName(a *models.Account) string {
	if a == nil {
		return "unknown user"
	}

	if a.Username != "" {
		return a.Username
	}

	return a.Name
}
