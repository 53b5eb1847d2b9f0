package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/insightflow/insightflow/internal/config"
	"github.com/insightflow/insightflow/internal/devserver"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type DevServerOptions struct {
	Address   string
	BaseUrl   string
	UploadDir string
	StepDelay time.Duration
	LogLevel  string
}

func DefaultDevServerOptions() *DevServerOptions {
	return &DevServerOptions{}
}

func NewCmdDevServer() *cobra.Command {
	o := DefaultDevServerOptions()
	cmd := &cobra.Command{
		Use:          "devserver",
		Short:        "Run a local stand-in of the analysis server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *DevServerOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.Address, "address", o.Address, "Listen address (default from INSIGHTFLOW_DEVSERVER_ADDRESS)")
	fs.StringVar(&o.BaseUrl, "base-url", o.BaseUrl, "Public URL used in result links")
	fs.StringVar(&o.UploadDir, "upload-dir", o.UploadDir, "Where uploads and results are kept (default: a temporary directory)")
	fs.DurationVar(&o.StepDelay, "step-delay", o.StepDelay, "Mean delay between two analysis steps")
}

// Complete fills the options not given on the command line from the environment.
func (o *DevServerOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	if o.Address == "" {
		o.Address = cfg.DevServer.Address
	}
	if o.BaseUrl == "" {
		o.BaseUrl = cfg.DevServer.BaseUrl
	}
	if o.UploadDir == "" {
		o.UploadDir = cfg.DevServer.UploadDir
	}
	if !cmd.Flags().Changed("step-delay") {
		o.StepDelay = cfg.DevServer.StepDelay
	}
	o.LogLevel = cfg.Client.LogLevel
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		o.LogLevel = f.Value.String()
	}
	return nil
}

func (o *DevServerOptions) Run(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := zap.S().Named("devserver")

	cfg, err := config.New()
	if err != nil {
		return err
	}

	if o.UploadDir == "" {
		dir, err := os.MkdirTemp("", "insightflow-devserver-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		o.UploadDir = dir
	}

	opts := devserver.Options{
		BaseURL:     o.BaseUrl,
		UploadDir:   o.UploadDir,
		StepDelay:   o.StepDelay,
		MaxFileSize: cfg.DevServer.MaxFileSize,
		LogLevel:    o.LogLevel,
	}

	if results := cfg.DevServer.Results; results.Bucket != "" {
		store, err := devserver.NewMinioStore(
			devserver.WithEndpoint(results.Endpoint),
			devserver.WithBucket(results.Bucket),
			devserver.WithAccessKey(results.AccessKey),
			devserver.WithSecretKey(results.SecretKey),
			devserver.WithSSL(results.UseSSL),
			devserver.WithLinkTTL(results.LinkTTL),
		)
		if err != nil {
			return fmt.Errorf("creating result store: %w", err)
		}
		opts.Store = store
	}

	server, err := devserver.New(opts)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", o.Address)
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}

	log.Infow("starting devserver", "address", o.Address, "upload_dir", o.UploadDir, "results", server.StoreType())
	return server.Run(ctx, listener)
}
