package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/audio-check/internal/capture"
	"github.com/example/audio-check/internal/failure"
	"github.com/example/audio-check/internal/interpreter"
	"github.com/example/audio-check/internal/transport"
	"github.com/example/audio-check/internal/usecase"
)

func newSubmitCommand(a *app) *cobra.Command {
	var (
		export bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Analyze an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			errOut := cmd.ErrOrStderr()

			req, err := openUpload(args[0])
			if err != nil {
				fmt.Fprintln(errOut, failure.UserMessage(err))
				return shown(err)
			}

			var tokens transport.TokenSource
			if a.cfg.API.IncludeCredentials {
				tokens = a.store
			}
			orchestrator := usecase.NewOrchestrator(
				newTransport(a.cfg, tokens, nil, a.logger),
				newInterpreter(a.cfg),
				nil,
				a.logger,
			)
			orchestrator.OnChange(func(s usecase.Snapshot) {
				switch s.State {
				case usecase.StateUploading:
					fmt.Fprintln(errOut, "Uploading...")
				case usecase.StateProcessing:
					fmt.Fprintln(errOut, "Processing...")
				}
			})

			presentation, err := orchestrator.Submit(cmd.Context(), req)
			if err != nil {
				fmt.Fprintln(errOut, orchestrator.Snapshot().Message)
				return shown(err)
			}
			printResult(cmd.OutOrStdout(), presentation)

			if !export {
				return nil
			}
			theme, err := a.store.ResolveTheme(systemPrefersDark())
			if err != nil {
				a.logger.Warn("theme preference not saved", zap.Error(err))
			}
			exporter := newExporter(a.cfg, outDir, nil, a.logger)
			report, err := exporter.Export(cmd.Context(), &capture.View{
				FileName: presentation.FileName,
				Result:   presentation.Result,
				Theme:    theme,
			})
			if err != nil {
				fmt.Fprintln(errOut, failure.UserMessage(err))
				return shown(err)
			}
			switch report.Path {
			case capture.PathDownload:
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", report.Location)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "Shared result")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&export, "export", false, "capture the result card and share or save it")
	cmd.Flags().StringVar(&outDir, "out", "", "directory to save the result image in")
	return cmd
}

func openUpload(path string) (*transport.UploadRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, "Please select a file.", err)
	}
	defer f.Close()
	return transport.ReadUploadRequest(path, f)
}

func printResult(w io.Writer, p *usecase.Presentation) {
	r := p.Result
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "File:\t%s\n", p.FileName)
	fmt.Fprintf(tw, "Verdict:\t%s\n", r.Verdict())
	fmt.Fprintf(tw, "Confidence:\t%d%% (%s)\n", interpreter.Percent(r.Confidence()), r.DecisionBand)
	fmt.Fprintf(tw, "Real probability:\t%d%% (%s)\n", interpreter.Percent(r.RealProbability), r.RealBand)
	fmt.Fprintf(tw, "Fake probability:\t%d%% (%s)\n", interpreter.Percent(r.FakeProbability), r.FakeBand)
	if r.Label != "" {
		fmt.Fprintf(tw, "Label:\t%s\n", r.Label)
	}
	_ = tw.Flush()
}
