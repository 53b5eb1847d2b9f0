package client

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/util/homedir"
	"sigs.k8s.io/yaml"
)

const (
	// TestRootDirEnvKey is the environment variable key used to set the file system root when testing.
	TestRootDirEnvKey = "INSIGHTFLOW_TEST_ROOT_DIR"
	// DefaultServer is used when neither the environment, the flags nor the config file name a server.
	DefaultServer = "http://localhost:8000"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Toggle returns the opposite color scheme.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Config holds the information needed to connect to an InsightFlow analysis server
type Config struct {
	Service Service `json:"service"`
	// Theme is the persisted color scheme of the console. Empty means "detect".
	Theme Theme `json:"theme,omitempty"`

	// baseDir is used to resolve relative paths
	// If baseDir is empty, the current working directory is used.
	baseDir string `json:"-"`
	// TestRootDir is the root directory for test files.
	testRootDir string `json:"-"`
}

// Service contains information how to reach the analysis server.
type Service struct {
	// Server is the base URL of the analysis server (the part before /upload).
	Server string `json:"server"`
}

func (c *Config) Equal(c2 *Config) bool {
	if c == c2 {
		return true
	}
	if c == nil || c2 == nil {
		return false
	}
	return c.Service.Equal(&c2.Service) && c.Theme == c2.Theme
}

func (s *Service) Equal(s2 *Service) bool {
	if s == s2 {
		return true
	}
	if s == nil || s2 == nil {
		return false
	}
	return s.Server == s2.Server
}

func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}
	return &Config{
		Service:     c.Service,
		Theme:       c.Theme,
		baseDir:     c.baseDir,
		testRootDir: c.testRootDir,
	}
}

func (c *Config) SetBaseDir(baseDir string) {
	c.baseDir = baseDir
}

func NewDefault() *Config {
	c := &Config{
		Service: Service{Server: DefaultServer},
	}

	if value := os.Getenv(TestRootDirEnvKey); value != "" {
		c.testRootDir = filepath.Clean(value)
	}

	return c
}

// NewHTTPClientFromConfig returns a new HTTP Client used for uploads.
func NewHTTPClientFromConfig(config *Config, timeout time.Duration) (*http.Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     false,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
	return httpClient, nil
}

// DefaultClientConfigPath returns the default path to the client config file.
func DefaultClientConfigPath() string {
	return filepath.Join(homedir.HomeDir(), ".insightflow", "client.yaml")
}

// ConfigPath resolves filename against the test root, when one is set.
func (c *Config) ConfigPath(filename string) string {
	if c.testRootDir == "" {
		return filename
	}
	return filepath.Join(c.testRootDir, filename)
}

func ParseConfigFile(filename string) (*Config, error) {
	config := NewDefault()
	contents, err := os.ReadFile(config.ConfigPath(filename))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(contents, config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	config.SetBaseDir(filepath.Dir(filename))
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadOrDefault reads the config file when it exists and falls back to the defaults otherwise.
func LoadOrDefault(filename string) (*Config, error) {
	config := NewDefault()
	if _, err := os.Stat(config.ConfigPath(filename)); os.IsNotExist(err) {
		return config, nil
	}
	return ParseConfigFile(filename)
}

// WriteConfig writes a client config file using the given parameters.
func WriteConfig(filename string, server string) error {
	config := NewDefault()
	config.Service = Service{
		Server: server,
	}

	return config.Persist(filename)
}

func (c *Config) Persist(filename string) error {
	contents, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	filename = c.ConfigPath(filename)
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.WriteFile(filename, contents, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	validationErrors := make([]error, 0)
	validationErrors = append(validationErrors, validateService(c.Service)...)
	if c.Theme != "" && !c.Theme.Valid() {
		validationErrors = append(validationErrors, fmt.Errorf("invalid theme %q: must be %q or %q", c.Theme, ThemeLight, ThemeDark))
	}
	if len(validationErrors) > 0 {
		return fmt.Errorf("invalid configuration: %v", utilerrors.NewAggregate(validationErrors).Error())
	}
	return nil
}

func validateService(service Service) []error {
	validationErrors := make([]error, 0)
	// Make sure the server is specified and well-formed
	if len(service.Server) == 0 {
		validationErrors = append(validationErrors, fmt.Errorf("no server found"))
	} else {
		u, err := url.Parse(service.Server)
		if err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("invalid server format %q: %w", service.Server, err))
		}
		if err == nil && len(u.Hostname()) == 0 {
			validationErrors = append(validationErrors, fmt.Errorf("invalid server format %q: no hostname", service.Server))
		}
		if err == nil && u.Scheme != "http" && u.Scheme != "https" {
			validationErrors = append(validationErrors, fmt.Errorf("invalid server format %q: scheme must be http or https", service.Server))
		}
	}
	return validationErrors
}

// UploadURL is the multipart upload endpoint of the server.
func (s Service) UploadURL() string {
	return strings.TrimRight(s.Server, "/") + "/upload"
}

// ChannelURL is the push channel address of one job. The websocket scheme follows the
// transport security of the server URL.
func (s Service) ChannelURL(jobID string) (string, error) {
	u, err := url.Parse(s.Server)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	scheme := ""
	switch u.Scheme {
	case "https":
		scheme = "wss"
	case "http":
		scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	prefix := strings.TrimRight(u.EscapedPath(), "/")
	return fmt.Sprintf("%s://%s%s/ws/analyze/%s", scheme, u.Host, prefix, url.PathEscape(jobID)), nil
}
