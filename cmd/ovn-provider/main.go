// Package main provides the entry point for ovn-provider.
//
// ovn-provider serves the OpenStack Networking API and a minimal Keystone
// token API on top of the OVN Northbound database:
// - networks, subnets, ports, routers and security groups are stored as OVN
//   logical switches, DHCP options, logical switch ports, logical routers,
//   port groups and ACLs
// - tokens are issued and validated by the configured auth plugin
//
// Usage:
//
//	ovn-provider [flags]
//
// Flags:
//
//	--config string      Path to the INI file (default: /etc/ovirt-provider-ovn/ovirt-provider-ovn.conf)
//	--config-dir string  Directory of *.conf drop-ins (default: /etc/ovirt-provider-ovn/conf.d)
//	--log-level string   Overrides [LOGGING] level
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/ovn-provider/pkg/auth"
	"github.com/jiayi-1994/ovn-provider/pkg/config"
	"github.com/jiayi-1994/ovn-provider/pkg/logging"
	"github.com/jiayi-1994/ovn-provider/pkg/mapper"
	"github.com/jiayi-1994/ovn-provider/pkg/metrics"
	"github.com/jiayi-1994/ovn-provider/pkg/neutron"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
	"github.com/jiayi-1994/ovn-provider/pkg/server"
)

const (
	defaultConfigFile = "/etc/ovirt-provider-ovn/ovirt-provider-ovn.conf"
	defaultConfigDir  = "/etc/ovirt-provider-ovn/conf.d"

	shutdownTimeout = 10 * time.Second
)

// Version information (set at build time)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "ovn-provider",
		Usage:   "OpenStack Networking API backed by OVN",
		Version: fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the configuration file",
				Value:   defaultConfigFile,
				EnvVars: []string{"OVN_PROVIDER_CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:    "config-dir",
				Usage:   "directory of configuration drop-ins, read in lexical order",
				Value:   defaultConfigDir,
				EnvVars: []string{"OVN_PROVIDER_CONFIG_DIR"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level: debug, info, warn, error",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		klog.Errorf("ovn-provider failed: %v", err)
		klog.Flush()
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"), c.String("config-dir"))
	if err != nil {
		return err
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := initLogging(cfg); err != nil {
		return err
	}
	defer klog.Flush()

	klog.Infof("Starting ovn-provider %s (commit: %s), OVN remote %s", version, gitCommit, cfg.OVNRemote.Remote)

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	nb := newNorthbound(cfg)
	defer nb.Close()

	plugin, err := auth.NewPlugin(cfg)
	if err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(plugin, time.Duration(cfg.Auth.TokenTimeout)*time.Second)
	klog.Infof("Using auth plugin %s", plugin.Name())

	tlsConfig, err := server.TLSConfig(&cfg.SSL)
	if err != nil {
		return err
	}

	api := neutron.New(nb, cfg)
	servers := []*server.Server{
		server.NewServer(metrics.APINeutron, listenAddr(cfg.Provider.NeutronPort),
			server.NewNeutronAPI(mapper.New(api, cfg), authenticator, cfg.URLFilterExceptions()), tlsConfig),
		server.NewServer(metrics.APIKeystone, listenAddr(cfg.Provider.KeystonePort),
			server.NewKeystoneAPI(cfg, authenticator), tlsConfig),
	}
	if cfg.Metrics.BindAddress != "" {
		metrics.Register()
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/healthz", server.HealthHandler(func(ctx context.Context) error {
			return ovndb.CheckHealth(ctx, nb)
		}))
		servers = append(servers, server.NewServer("metrics", cfg.Metrics.BindAddress, mux, nil))
	}

	for _, s := range servers {
		if err := s.Start(); err != nil {
			stopAll(servers)
			return err
		}
	}

	<-ctx.Done()
	klog.Info("Shutdown signal received, stopping servers...")
	stopAll(servers)
	return nil
}

func initLogging(cfg *config.Config) error {
	if err := logging.InitGlobalLogger(logging.OptionsFromConfig(cfg.Logging)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

// newNorthbound returns the process wide Northbound connection. It is
// established on the first request so the REST surfaces come up even when
// the database is not reachable yet.
func newNorthbound(cfg *config.Config) *ovndb.Lazy {
	log := logging.GetGlobalLogger().WithName("libovsdb").Logger()
	return ovndb.NewLazy(ovndb.ClientConfig{
		Remote:      cfg.OVNRemote.Remote,
		PrivateKey:  cfg.SSL.KeyFile,
		Certificate: cfg.SSL.CertFile,
		CACert:      cfg.SSL.CACertFile,
		Timeout:     ovndb.DefaultTxnTimeout,
		Logger:      &log,
	})
}

func listenAddr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}

func stopAll(servers []*server.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Stop(ctx); err != nil {
			klog.Errorf("Failed to stop server: %v", err)
		}
	}
}
