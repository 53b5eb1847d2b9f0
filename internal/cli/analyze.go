package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"github.com/insightflow/insightflow/internal/analysis"
	"github.com/insightflow/insightflow/internal/channel"
	"github.com/insightflow/insightflow/internal/client"
	"github.com/insightflow/insightflow/internal/config"
	"github.com/insightflow/insightflow/internal/console"
	"github.com/insightflow/insightflow/internal/selector"
	"github.com/insightflow/insightflow/internal/upload"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var ErrAnalysisFailed = errors.New("analysis failed")

type AnalyzeOptions struct {
	GlobalOptions
	FilePath string
	NoPrompt bool

	in  io.Reader
	out io.Writer
}

func DefaultAnalyzeOptions() *AnalyzeOptions {
	return &AnalyzeOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdAnalyze() *cobra.Command {
	o := DefaultAnalyzeOptions()
	cmd := &cobra.Command{
		Use:          "analyze --file PATH",
		Short:        "Upload a lead sheet and follow its analysis",
		Example:      "analyze --file leads.xlsx\nanalyze -f leads.csv --server-url https://insightflow.example.com",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
	}
	o.Bind(cmd.Flags())

	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(err)
	}

	return cmd
}

func (o *AnalyzeOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.FilePath, "file", "f", o.FilePath, "Path to the .csv, .xlsx or .xls file to analyze (required)")
	fs.BoolVar(&o.NoPrompt, "no-prompt", o.NoPrompt, "Never ask to try again after a failure")
}

func (o *AnalyzeOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	o.in = cmd.InOrStdin()
	o.out = cmd.OutOrStdout()
	return nil
}

func (o *AnalyzeOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if o.FilePath == "" {
		return fmt.Errorf("a file is required")
	}
	return nil
}

func (o *AnalyzeOptions) Run(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if o.in == nil {
		o.in = os.Stdin
	}
	if o.out == nil {
		o.out = os.Stdout
	}

	cfg, err := o.ClientConfig()
	if err != nil {
		return err
	}
	envCfg, err := config.New()
	if err != nil {
		return err
	}

	httpClient, err := client.NewHTTPClientFromConfig(cfg, envCfg.Client.UploadTimeout)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	statusChannel := channel.New(cfg.Service.ChannelURL, &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: envCfg.Client.DialTimeout,
	})

	orchestrator := analysis.New(
		upload.NewClient(cfg.Service.UploadURL(), httpClient),
		analysis.NewChannelOpener(statusChannel),
	)
	defer orchestrator.Close()

	view := console.New(o.out, console.ResolveTheme(cfg.Theme, os.Getenv("COLORFGBG")))
	orchestrator.Watch(view.Render)

	candidate, err := selector.FromPath(o.FilePath)
	if err != nil {
		return err
	}
	if err := orchestrator.Select(candidate); err != nil {
		return err
	}

	zap.S().Named("cli").Debugw("analyzing", "file", candidate.Name, "server", cfg.Service.Server)

	prompt := !o.NoPrompt && console.Interactive(o.in)
	answers := bufio.NewReader(o.in)
	for {
		if err := orchestrator.Start(ctx); err != nil {
			return err
		}

		v, err := orchestrator.WaitTerminal(ctx)
		view.Finish()
		if err != nil {
			return err
		}

		if v.Status == analysis.StatusSucceeded {
			return orchestrator.AnalyzeAnother()
		}

		if !prompt || !console.Confirm(answers, o.out, "Try again?") {
			if v.Err != nil {
				return fmt.Errorf("%w: %s: %w", ErrAnalysisFailed, candidate.Name, v.Err)
			}
			return fmt.Errorf("%w: %s", ErrAnalysisFailed, candidate.Name)
		}
		if err := orchestrator.TryAgain(); err != nil {
			return err
		}
	}
}
