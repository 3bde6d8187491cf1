// Command narratactl drives long-form generation against a Narrata server from
// the command line. Chunking and batch pacing run locally; every chunk is
// synthesised through the server's single-chunk endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

// Version is overridden at build time.
var Version = "dev"

// globals holds the flags shared by every subcommand.
type globals struct {
	Server   string `env:"NARRATA_SERVER" envDefault:"http://localhost:8080"`
	User     string `env:"NARRATA_USER"`
	Password string `env:"NARRATA_PASSWORD"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "narratactl:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g, err := env.ParseAs[globals]()
	if err != nil {
		g = globals{Server: "http://localhost:8080"}
	}

	root := &cobra.Command{
		Use:           "narratactl",
		Short:         "Turn long text into speech through a Narrata server",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.Server, "server", g.Server, "base URL of the Narrata server ($NARRATA_SERVER)")
	pf.StringVarP(&g.User, "user", "u", g.User, "basic auth email ($NARRATA_USER)")
	pf.StringVarP(&g.Password, "password", "p", g.Password, "basic auth password ($NARRATA_PASSWORD)")

	root.AddCommand(
		newChunkCmd(),
		newVoicesCmd(&g),
		newGenerateCmd(&g),
	)
	return root
}
