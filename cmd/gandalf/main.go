// Package main is the entry point for the gandalf-router gateway and CLI.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/hpn/gandalf-router/internal/domain"
	"github.com/subosito/gotenv"
)

var version = "dev"

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
	exitFatal = 3
)

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `help:"Path to config.yaml. Searched in ., ./configs and /etc/gandalf-router when empty." short:"c" type:"path"`
	EnvFile  string `help:"Dotenv file loaded before startup. Existing variables win." name:"env-file" default:".env"`
	LogLevel string `help:"Override logging.level." name:"log-level" enum:",debug,info,warn,error" default:""`

	stdout io.Writer
	stderr io.Writer
}

// CLI is the command tree.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print version and exit."`

	Serve  ServeCmd  `cmd:"" default:"1" help:"Run the OpenAI-compatible failover gateway."`
	Status StatusCmd `cmd:"" help:"Show provider status."`
	Ask    AskCmd    `cmd:"" help:"Send one prompt through the failover chain."`
	Models ModelsCmd `cmd:"" help:"List configured providers and models."`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args and executes the selected command, returning the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cli := CLI{Globals: Globals{stdout: stdout, stderr: stderr}}

	exitCode := -1
	parser, err := kong.New(&cli,
		kong.Name("gandalf"),
		kong.Description("Multi-provider LLM failover router."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) { exitCode = code }),
		kong.Vars{"version": version},
	)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	ctx, err := parser.Parse(args)
	if exitCode >= 0 {
		// --help or --version
		return exitCode
	}
	if err != nil {
		parser.Errorf("%s", err)
		return exitUsage
	}

	if err := loadEnvFile(cli.EnvFile); err != nil {
		fmt.Fprintf(stderr, "gandalf: %v\n", err)
		return exitError
	}

	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(stderr, "gandalf: %v\n", err)
		return exitCodeFor(err)
	}
	return exitOK
}

func exitCodeFor(err error) int {
	if domain.IsFatal(err) || errors.Is(err, domain.ErrNoProviders) {
		return exitFatal
	}
	return exitError
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
