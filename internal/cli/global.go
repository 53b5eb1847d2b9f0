package cli

import (
	"github.com/insightflow/insightflow/internal/client"
	"github.com/insightflow/insightflow/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type GlobalOptions struct {
	ServerUrl  string
	ConfigFile string
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		ConfigFile: client.DefaultClientConfigPath(),
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ServerUrl, "server-url", "u", o.ServerUrl, "Address of the analysis server (default from the config file, else "+client.DefaultServer+")")
	fs.StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile, "Path to the client config file")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	return nil
}

// ClientConfig loads the client config file and applies the server overrides:
// INSIGHTFLOW_API_URL first, then --server-url.
func (o *GlobalOptions) ClientConfig() (*client.Config, error) {
	cfg, err := client.LoadOrDefault(o.ConfigFile)
	if err != nil {
		return nil, err
	}

	envCfg, err := config.New()
	if err != nil {
		return nil, err
	}

	switch {
	case envCfg.Client.ApiUrl != "":
		cfg.Service.Server = envCfg.Client.ApiUrl
	case o.ServerUrl != "":
		cfg.Service.Server = o.ServerUrl
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
