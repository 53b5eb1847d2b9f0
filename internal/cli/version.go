package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/insightflow/insightflow/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type VersionOptions struct {
	Output string
}

func DefaultVersionOptions() *VersionOptions {
	return &VersionOptions{
		Output: "",
	}
}

func NewCmdVersion() *cobra.Command {
	o := DefaultVersionOptions()
	cmd := &cobra.Command{
		Use:          "version",
		Short:        "Print InsightFlow version information",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *VersionOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Output format. One of: (json)")
}

func (o *VersionOptions) Validate(args []string) error {
	if o.Output != "" && o.Output != "json" {
		return fmt.Errorf("output format must be json or empty")
	}
	return nil
}

func (o *VersionOptions) Run(ctx context.Context, out io.Writer) error {
	versionInfo := version.Get()
	if o.Output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(versionInfo)
	}
	fmt.Fprintf(out, "InsightFlow Version: %s\n", versionInfo.String())
	return nil
}
