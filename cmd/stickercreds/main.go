package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"sticker-convert/internal/database"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/startup"

	"golang.org/x/term"
)

// Default timeout for database operations
const defaultTimeout = 30 * time.Second

// credentialStore is the part of the database the commands use.
type credentialStore interface {
	SetCredential(ctx context.Context, platform, key, value string) error
	GetCredential(ctx context.Context, platform, key string) (string, error)
	ListCredentials(ctx context.Context, platform string) ([]database.CredentialInfo, error)
	DeleteCredential(ctx context.Context, platform, key string) error
}

// readSecret reads a value without echo; replaced in tests.
var readSecret = func(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	return string(b), err
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	logging.SetOutput(io.Discard)
	if err := startup.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := startup.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Open(ctx, cfg.DatabaseURL, cfg.DatabasePath, cfg.Passphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to database: %v\n", err)
		fmt.Fprintf(os.Stderr, "Make sure STICKER_DATABASE_DIR is set correctly (current: %s)\n", cfg.DatabaseDir)
		os.Exit(1)
	}

	code := run(ctx, db, os.Args[1], os.Args[2:], os.Stdout, os.Stderr)
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
	}
	os.Exit(code)
}

// run executes one command and returns the exit code.
func run(ctx context.Context, store credentialStore, command string, args []string, stdout, stderr io.Writer) int {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var err error
	switch command {
	case "set":
		err = setCredential(ctx, store, args, stdout)
	case "get":
		err = getCredential(ctx, store, args, stdout)
	case "list":
		err = listCredentials(ctx, store, args, stdout)
	case "delete":
		err = deleteCredential(ctx, store, args, stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", sanitizeCommand(command))
		printUsage(stderr)
		return 1
	}

	if errors.Is(err, errUsage) {
		printUsage(stderr)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

func setCredential(ctx context.Context, store credentialStore, args []string, stdout io.Writer) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	value := ""
	if len(args) == 3 {
		value = args[2]
	} else {
		v, err := readSecret(fmt.Sprintf("%s %s: ", args[0], args[1]))
		if err != nil {
			return fmt.Errorf("failed to read value: %w", err)
		}
		value = v
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("value must not be empty")
	}
	if err := store.SetCredential(ctx, args[0], args[1], value); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Stored %s/%s\n", args[0], args[1])
	return nil
}

func getCredential(ctx context.Context, store credentialStore, args []string, stdout io.Writer) error {
	if len(args) != 2 {
		return errUsage
	}
	value, err := store.GetCredential(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, value)
	return nil
}

func listCredentials(ctx context.Context, store credentialStore, args []string, stdout io.Writer) error {
	if len(args) > 1 {
		return errUsage
	}
	platform := ""
	if len(args) == 1 {
		platform = args[0]
	}
	list, err := store.ListCredentials(ctx, platform)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(stdout, "No credentials stored.")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tKEY\tSEALED\tUPDATED")
	for _, c := range list {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", c.Platform, c.Key, c.Sealed, c.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func deleteCredential(ctx context.Context, store credentialStore, args []string, stdout io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	key := ""
	if len(args) == 2 {
		key = args[1]
	}
	if err := store.DeleteCredential(ctx, args[0], key); err != nil {
		return err
	}
	if key == "" {
		fmt.Fprintf(stdout, "Deleted all credentials of %s\n", args[0])
	} else {
		fmt.Fprintf(stdout, "Deleted %s/%s\n", args[0], key)
	}
	return nil
}

// sanitizeCommand returns a safe representation of a command string for display.
// It uses an allowlist approach, replacing any character that is not alphanumeric,
// a hyphen, or an underscore with '_'.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "sticker-convert credential management")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: stickercreds <command> [arguments]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  set <platform> <key> [value]  - Store a credential (prompts when value is omitted)")
	fmt.Fprintln(w, "  get <platform> <key>          - Print a credential")
	fmt.Fprintln(w, "  list [platform]               - List stored credentials")
	fmt.Fprintln(w, "  delete <platform> [key]       - Remove a credential or a whole platform")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  STICKER_DATABASE_DIR, STICKER_DATABASE_URL, STICKER_PASSPHRASE")
}
