package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/insightflow/insightflow/internal/client"
	"github.com/insightflow/insightflow/internal/console"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	themeShow   = "show"
	themeToggle = "toggle"
	themeSet    = "set"
)

type ThemeOptions struct {
	ConfigFile string

	out io.Writer
}

func DefaultThemeOptions() *ThemeOptions {
	return &ThemeOptions{
		ConfigFile: client.DefaultClientConfigPath(),
	}
}

func NewCmdTheme() *cobra.Command {
	o := DefaultThemeOptions()
	cmd := &cobra.Command{
		Use:          "theme [show|toggle|set light|dark]",
		Short:        "Show or change the console color scheme",
		Example:      "theme\ntheme toggle\ntheme set dark",
		Args:         cobra.RangeArgs(0, 2),
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
	return cmd
}

func (o *ThemeOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile, "Path to the client config file")
}

func (o *ThemeOptions) Complete(cmd *cobra.Command, args []string) error {
	o.out = cmd.OutOrStdout()
	return nil
}

func (o *ThemeOptions) Validate(args []string) error {
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case themeShow, themeToggle:
		if len(args) != 1 {
			return fmt.Errorf("%s takes no argument", args[0])
		}
	case themeSet:
		if len(args) != 2 {
			return fmt.Errorf("set needs a theme: %s or %s", client.ThemeLight, client.ThemeDark)
		}
		if !client.Theme(args[1]).Valid() {
			return fmt.Errorf("invalid theme %q: must be %s or %s", args[1], client.ThemeLight, client.ThemeDark)
		}
	default:
		return fmt.Errorf("invalid action %q. Supported actions: show, toggle, set", args[0])
	}
	return nil
}

func (o *ThemeOptions) Run(ctx context.Context, args []string) error {
	if o.out == nil {
		o.out = os.Stdout
	}

	cfg, err := client.LoadOrDefault(o.ConfigFile)
	if err != nil {
		return err
	}
	current := console.ResolveTheme(cfg.Theme, os.Getenv("COLORFGBG"))

	action := themeShow
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case themeShow:
		fmt.Fprintln(o.out, current)
		return nil
	case themeToggle:
		cfg.Theme = current.Toggle()
	case themeSet:
		cfg.Theme = client.Theme(args[1])
	}

	if err := cfg.Persist(o.ConfigFile); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "Theme set to %s\n", cfg.Theme)
	return nil
}
