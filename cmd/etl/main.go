// Command etl builds the I-94 arrivals star schema from raw extracts and
// publishes it to the configured sink.
//
//	etl run      --config configs/pipelines/local.json
//	etl validate --config configs/pipelines/local.json
//	etl labels   --labels data/I94_SAS_Labels_Descriptions.SAS
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	// register every sink kind with the storage factory; the config picks one.
	_ "i94etl/internal/storage/all"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "etl",
		Short:         "Build and publish the I-94 arrivals star schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(
		newRunCommand(stdout, stderr),
		newValidateCommand(stdout, stderr),
		newLabelsCommand(stdout),
	)
	return root
}
