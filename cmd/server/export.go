package main

import (
	"fmt"
	"log"
	"os"

	"shiftbot/internal/config"
	"shiftbot/internal/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newExportCmd(cfg func() *config.Config) *cobra.Command {
	var (
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the activity log as CSV or XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			logFormat, err := services.ParseLogFormat(format)
			if err != nil {
				return err
			}

			source := services.NewCSVActivityLog(cfg().LogFile, services.NewMetrics(prometheus.NewRegistry()))
			export, err := services.NewLogExporter(source).Export(logFormat)
			if err != nil {
				return err
			}

			if out == "" {
				out = export.Filename
			}
			if err := os.WriteFile(out, export.Data, 0644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			log.Printf("✅ Exported %d rows to %s", export.Rows, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "csv", "Output format: csv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (defaults to the log name with the format's extension)")
	return cmd
}
