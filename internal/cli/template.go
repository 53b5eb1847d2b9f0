package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/insightflow/insightflow/internal/leadtemplate"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type TemplateOptions struct {
	OutputPath string
	Force      bool

	out io.Writer
}

func DefaultTemplateOptions() *TemplateOptions {
	return &TemplateOptions{
		OutputPath: leadtemplate.FileName,
	}
}

func NewCmdTemplate() *cobra.Command {
	o := DefaultTemplateOptions()
	cmd := &cobra.Command{
		Use:          "template",
		Short:        "Write the lead data template workbook",
		Example:      "template --output-file ~/Downloads/Lead_Data_Template.xlsx",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.out = cmd.OutOrStdout()
			return o.Run(cmd.Context(), args)
		},
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *TemplateOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.OutputPath, "output-file", "o", o.OutputPath, "Where to write the template")
	fs.BoolVar(&o.Force, "force", o.Force, "Overwrite an existing file")
}

func (o *TemplateOptions) Run(ctx context.Context, args []string) error {
	if o.out == nil {
		o.out = os.Stdout
	}
	if dir := filepath.Dir(o.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !o.Force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(o.OutputPath, flags, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%s already exists, use --force to overwrite it", o.OutputPath)
		}
		return err
	}

	if err := leadtemplate.Write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Fprintf(o.out, "Template written to %s\n", o.OutputPath)
	fmt.Fprintf(o.out, "Columns: %v\n", leadtemplate.Columns)
	return nil
}
