package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/config"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/gerrit"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/logger"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/sshconn"
)

var (
	cfgFile string
	version string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gerrit-trigger",
	Short: "Gerrit SSH build trigger",
	Long: `gerrit-trigger talks to Gerrit over its SSH command interface.

It picks the next open change that still needs verification, reports
Verified +1/-1 back once a build has finished, and can follow the
stream-events feed to hand new patch sets to a build system.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// SIGINT and SIGTERM cancel the command's context.
func Execute(ver string) error {
	version = ver
	rootCmd.Version = ver

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// flushes and closes the --log-file sink installed by newSession
	defer func() { _ = logger.Get().Close() }()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.config/gerrit-trigger/config.yaml)")
	flags.String("host", "", "Gerrit SSH host")
	flags.Int("port", sshconn.DefaultPort, "Gerrit SSH port")
	flags.String("user", "", "Gerrit SSH user")
	flags.String("key", "", "Path to the SSH private key")
	flags.String("proxy", "", "Proxy URL for the SSH connection (e.g. socks5://host:1080)")
	flags.String("format", "text", "Output format: json or text")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.String("log-file", "", "Write logs to this file")

	viper.BindPFlag("gerrit.host", flags.Lookup("host"))
	viper.BindPFlag("gerrit.port", flags.Lookup("port"))
	viper.BindPFlag("gerrit.user", flags.Lookup("user"))
	viper.BindPFlag("gerrit.private_key_file", flags.Lookup("key"))
	viper.BindPFlag("gerrit.proxy", flags.Lookup("proxy"))
	viper.BindPFlag("output.format", flags.Lookup("format"))
	viper.BindPFlag("logging.verbose", flags.Lookup("verbose"))
	viper.BindPFlag("logging.file", flags.Lookup("log-file"))

	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(changeCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

// initConfig reads in .env, the config file and ENV variables if set
func initConfig() {
	if err := config.Init(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "Warning:", err)
	}
}

// session bundles what every Gerrit-facing command needs
type session struct {
	cfg      *config.Config
	client   *gerrit.QueryClient
	repo     *gerrit.Repository
	reporter *gerrit.Reporter
	dialer   sshconn.Dialer
}

// newSession loads configuration, configures logging and builds the SSH-backed clients
func newSession() (*session, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := ConfigureGlobalLogger(cfg); err != nil {
		return nil, err
	}

	creds, err := cfg.Credentials()
	if err != nil {
		return nil, err
	}
	dialer, err := sshconn.NewDialer(creds)
	if err != nil {
		return nil, err
	}

	client := gerrit.NewQueryClient(dialer, gerrit.QueryOptions{CommandTimeout: cfg.Gerrit.CommandTimeout})
	return &session{
		cfg:      cfg,
		client:   client,
		repo:     gerrit.NewRepository(client),
		reporter: gerrit.NewReporter(client),
		dialer:   dialer,
	}, nil
}

// projectFlag returns the --project value as an optional filter
func projectFlag(cmd *cobra.Command) *string {
	p, _ := cmd.Flags().GetString("project")
	if p == "" {
		return nil
	}
	return &p
}
