package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/csvguard/pkg/errorutil"
	guardio "github.com/hed1ad/csvguard/pkg/io"
	"github.com/hed1ad/csvguard/pkg/metrics"
	"github.com/hed1ad/csvguard/pkg/pipeline"
	"github.com/hed1ad/csvguard/pkg/upload"
)

func newDetectCmd(a *app) *cobra.Command {
	var (
		format      string
		output      string
		metricsFile string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "detect <file.csv>",
		Short: "Run the anomaly pipeline on a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The report is rendered in memory so --output is only touched
			// once the run has succeeded.
			var buf bytes.Buffer
			writer, err := guardio.NewWriter(format, &buf)
			if err != nil {
				return err
			}

			raw, err := readUpload(args[0], a.cfg.MaxFileSizeBytes)
			if err != nil {
				return err
			}

			m := metrics.New()
			p, err := pipeline.New(a.cfg, pipeline.WithLogger(a.log), pipeline.WithMetrics(m))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			rep, runErr := p.Run(ctx, raw)
			if metricsFile != "" {
				if err := m.WriteTextfile(metricsFile); err != nil {
					a.log.Warnf(ctx, "%v", err)
				}
			}
			if runErr != nil {
				if kind, ok := errorutil.KindOf(runErr); ok {
					return fmt.Errorf("%s (%s): %s", kind, kind.Class(), errorutil.Message(runErr))
				}
				return runErr
			}
			if err := writer.Write(rep); err != nil {
				return err
			}
			return writeOutput(cmd, output, buf.Bytes())
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", guardio.FormatJSON, "report format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to a file instead of stdout")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this long (0 disables)")
	return cmd
}

// readUpload reads at most limit+1 bytes so an oversized file is rejected
// by the validator without being loaded whole.
func readUpload(path string, limit int64) (upload.RawUpload, error) {
	f, err := os.Open(path)
	if err != nil {
		return upload.RawUpload{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return upload.RawUpload{}, err
	}
	if st.IsDir() {
		return upload.RawUpload{}, fmt.Errorf("%s is a directory", path)
	}

	var data []byte
	if st.Size() <= limit {
		data, err = io.ReadAll(io.LimitReader(f, limit+1))
		if err != nil {
			return upload.RawUpload{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return upload.RawUpload{
		Data:         data,
		Filename:     filepath.Base(path),
		DeclaredSize: st.Size(),
	}, nil
}

// writeOutput writes the rendered report to path, or to stdout when path is
// empty.
func writeOutput(cmd *cobra.Command, path string, body []byte) error {
	if path == "" {
		_, err := cmd.OutOrStdout().Write(body)
		return err
	}
	return os.WriteFile(path, body, 0o644)
}
