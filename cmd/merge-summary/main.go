package main

import (
	"fmt"
	"os"

	"github.com/azkaoru/openstack-opendev-merge-summary/internal/config"
	"github.com/azkaoru/openstack-opendev-merge-summary/internal/gerrit"
	"github.com/azkaoru/openstack-opendev-merge-summary/internal/report"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "merge-summary",
	Short: "Report merged OpenDev changes with their file diffs as JSON",
	Long: `merge-summary queries a Gerrit review server for recently merged
changes, fetches the file list and per-file diff of each one, and prints a
single JSON report on stdout.

All configuration comes from OPENDEV_* environment variables; there are no
flags to set. Diagnostics go to stderr: errors always, progress narration
only with OPENDEV_LOG=true.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runReport,
}

func init() {
	rootCmd.SetVersionTemplate(`merge-summary {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if cfg.Verbose {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.ErrorLevel)
	}
	log := logger.WithField("run_id", uuid.NewString())

	client := gerrit.NewClient(cfg.GerritURL)
	builder := report.NewBuilder(client, cfg, log)

	rep, err := builder.Build(cmd.Context())
	if err != nil {
		log.WithError(err).Error("report generation failed")
		return err
	}
	return rep.Write(os.Stdout)
}
