// Package config provides configuration management for the OVN provider.
//
// This package handles:
// - INI configuration file parsing (gcfg)
// - A conf.d drop-in directory whose files override the main file
// - Environment variable overrides
// - Configuration validation
//
// Configuration Priority (highest to lowest):
// 1. Environment variables (OVN_PROVIDER_*)
// 2. conf.d drop-in files, in lexical order
// 3. Main configuration file
// 4. Default values
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/gcfg.v1"
)

// Default file locations
const (
	DefaultConfigFile = "/etc/ovirt-provider-ovn/ovirt-provider-ovn.conf"
	DefaultConfigDir  = "/etc/ovirt-provider-ovn/conf.d"
)

// IPv6 address modes accepted for subnets
const (
	IPv6ModeStateful  = "dhcpv6_stateful"
	IPv6ModeStateless = "dhcpv6_stateless"
)

// Config is the provider configuration. Section and key names follow the
// INI file; see normalizeINI for how they are mapped to gcfg names.
type Config struct {
	// OVNRemote contains the OVN Northbound connection settings
	OVNRemote OVNRemoteConfig `gcfg:"OVN-REMOTE"`

	// Provider contains the REST listener and catalog settings
	Provider ProviderConfig `gcfg:"PROVIDER"`

	// SSL contains TLS material for the listeners and for ssl: remotes
	SSL SSLConfig `gcfg:"SSL"`

	// DHCP contains defaults written into new subnets
	DHCP DHCPConfig `gcfg:"DHCP"`

	// Auth selects and tunes the auth plugin
	Auth AuthConfig `gcfg:"AUTH"`

	// Network contains defaults for new networks
	Network NetworkConfig `gcfg:"NETWORK"`

	// Validation contains request validation limits
	Validation ValidationConfig `gcfg:"VALIDATION"`

	// OVirt configures the oVirt engine SSO auth plugins
	OVirt OVirtConfig `gcfg:"OVIRT"`

	// Logging contains logging configuration
	Logging LoggingConfig `gcfg:"LOGGING"`

	// Metrics contains the metrics listener configuration
	Metrics MetricsConfig `gcfg:"METRICS"`
}

// OVNRemoteConfig contains OVN database connection settings
type OVNRemoteConfig struct {
	// Remote is the Northbound Database address
	// Format: tcp:IP:PORT or ssl:IP:PORT
	// Default: "tcp:127.0.0.1:6641"
	Remote string `gcfg:"ovn-remote"`
}

// ProviderConfig contains the REST surface settings
type ProviderConfig struct {
	// NeutronPort is the networking API port. Default: 9696
	NeutronPort int `gcfg:"neutron-port"`

	// KeystonePort is the token API port. Default: 35357
	KeystonePort int `gcfg:"keystone-port"`

	// Host is the host name advertised in the service catalog. Default: "localhost"
	Host string `gcfg:"provider-host"`

	// Region is the region advertised in the service catalog. Default: "RegionOne"
	Region string `gcfg:"openstack-region"`

	// NeutronID and KeystoneID identify the catalog endpoints.
	NeutronID  string `gcfg:"openstack-neutron-id"`
	KeystoneID string `gcfg:"openstack-keystone-id"`

	// TenantID, TenantName and TenantDescription describe the single tenant
	// echoed in every response.
	TenantID          string `gcfg:"openstack-tenant-id"`
	TenantName        string `gcfg:"openstack-tenant-name"`
	TenantDescription string `gcfg:"openstack-tenant-description"`

	// OVSVersion29 enables options:requested-chassis on bound ports.
	// Default: false
	OVSVersion29 bool `gcfg:"ovs-version-2-9"`

	// URLFilterException lists comma separated query keys that never filter
	// collection responses. Default: "fields"
	URLFilterException string `gcfg:"url-filter-exception"`
}

// SSLConfig contains TLS settings
type SSLConfig struct {
	// HTTPSEnabled serves both REST surfaces over TLS. Default: false
	HTTPSEnabled bool `gcfg:"https-enabled"`

	// KeyFile, CertFile and CACertFile are PEM files shared by the REST
	// listeners and ssl: OVN remotes.
	KeyFile    string `gcfg:"ssl-key-file"`
	CertFile   string `gcfg:"ssl-cert-file"`
	CACertFile string `gcfg:"ssl-cacert-file"`

	// Ciphers is an OpenSSL style cipher string. Default: "HIGH"
	Ciphers string `gcfg:"ssl-ciphers-string"`
}

// DHCPConfig contains subnet DHCP defaults
type DHCPConfig struct {
	// ServerMAC is the MAC the DHCP responder uses. Default: "02:00:00:00:00:00"
	ServerMAC string `gcfg:"dhcp-server-mac"`

	// LeaseTime in seconds. Default: 86400
	LeaseTime int `gcfg:"dhcp-lease-time"`

	// EnableMTU writes the mtu option into IPv4 subnets. Default: true
	EnableMTU bool `gcfg:"dhcp-enable-mtu"`

	// MTU is used when the network has no MTU. Default: 1442
	MTU int `gcfg:"dhcp-mtu"`

	// DefaultIPv6AddressMode is used for IPv6 subnets without an address
	// mode. Default: "dhcpv6_stateful"
	DefaultIPv6AddressMode string `gcfg:"dhcp-default-ipv6-address-mode"`
}

// AuthConfig selects the auth plugin
type AuthConfig struct {
	// Plugin is the plugin name. Default: "auth.plugins.static_token:NoAuthPlugin"
	Plugin string `gcfg:"auth-plugin"`

	// TokenTimeout in seconds bounds how long a validated token is trusted.
	// Default: 360000
	TokenTimeout int `gcfg:"auth-token-timeout"`

	// MagicToken is the token accepted by the magic token plugin.
	MagicToken string `gcfg:"magic-token"`
}

// NetworkConfig contains defaults for new networks
type NetworkConfig struct {
	// PortSecurityEnabledDefault applies when a network is created without
	// port_security_enabled. Default: false
	PortSecurityEnabledDefault bool `gcfg:"port-security-enabled-default"`
}

// ValidationConfig contains request validation limits
type ValidationConfig struct {
	// MaxAllowedMTU is the highest accepted network MTU, 0 disables the
	// check. Default: 0
	MaxAllowedMTU int `gcfg:"validation-max-allowed-mtu"`
}

// OVirtConfig configures the engine SSO plugins
type OVirtConfig struct {
	// Host is the engine URL, e.g. https://engine.example.com
	Host string `gcfg:"ovirt-host"`

	// Base is the engine context path. Default: "/ovirt-engine"
	Base string `gcfg:"ovirt-base"`

	// ClientID and ClientSecret authenticate the provider towards SSO.
	ClientID     string `gcfg:"ovirt-client-id"`
	ClientSecret string `gcfg:"ovirt-client-secret"`

	// AdminUserName is accepted by the user name plugin. Default: "admin@internal"
	AdminUserName string `gcfg:"ovirt-admin-user-name"`

	// AdminGroupAttributeName and AdminGroupAttributeValue identify the
	// admin group for the group plugin.
	AdminGroupAttributeName  string `gcfg:"ovirt-admin-group-attribute-name"`
	AdminGroupAttributeValue string `gcfg:"ovirt-admin-group-attribute-value"`

	// CAFile verifies the engine certificate.
	CAFile string `gcfg:"ovirt-ca-file"`

	// Timeout in seconds for engine requests. Default: 110
	Timeout int `gcfg:"ovirt-auth-timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error
	// Default: "info"
	Level string `gcfg:"level"`

	// Format is the log format: json or text
	// Default: "json"
	Format string `gcfg:"format"`

	// File is the log file path
	// If empty, logs to stderr
	File string `gcfg:"file"`
}

// MetricsConfig contains the metrics listener configuration
type MetricsConfig struct {
	// BindAddress is the listen address of /metrics, empty disables it.
	// Default: ":9697"
	BindAddress string `gcfg:"bind-address"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		OVNRemote: OVNRemoteConfig{
			Remote: "tcp:127.0.0.1:6641",
		},
		Provider: ProviderConfig{
			NeutronPort:        9696,
			KeystonePort:       35357,
			Host:               "localhost",
			Region:             "RegionOne",
			NeutronID:          "00000000000000000000000000000001",
			KeystoneID:         "00000000000000000000000000000002",
			TenantID:           "00000000000000000000000000000001",
			TenantName:         "tenant",
			TenantDescription:  "tenant",
			OVSVersion29:       false,
			URLFilterException: "fields",
		},
		SSL: SSLConfig{
			HTTPSEnabled: false,
			KeyFile:      "/etc/pki/ovirt-engine/keys/ovirt-provider-ovn.key.nopass",
			CertFile:     "/etc/pki/ovirt-engine/certs/ovirt-provider-ovn.cer",
			CACertFile:   "/etc/pki/ovirt-engine/ca.pem",
			Ciphers:      "HIGH",
		},
		DHCP: DHCPConfig{
			ServerMAC:              "02:00:00:00:00:00",
			LeaseTime:              86400,
			EnableMTU:              true,
			MTU:                    1442,
			DefaultIPv6AddressMode: IPv6ModeStateful,
		},
		Auth: AuthConfig{
			Plugin:       "auth.plugins.static_token:NoAuthPlugin",
			TokenTimeout: 360000,
			MagicToken:   "00000000000000000000000000000001",
		},
		OVirt: OVirtConfig{
			Base:          "/ovirt-engine",
			AdminUserName: "admin@internal",
			Timeout:       110,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			BindAddress: ":9697",
		},
	}
}

// LoadConfig loads the main file and the drop-in directory on top of the
// defaults, applies environment overrides and validates the result. A
// missing main file or directory is not an error.
func LoadConfig(file, dir string) (*Config, error) {
	cfg := DefaultConfig()

	if file != "" {
		if err := cfg.LoadFromFile(file); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file %s: %w", file, err)
		}
	}
	if dir != "" {
		if err := cfg.LoadFromDir(dir); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromFile overlays the values set in an INI file.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.LoadFromString(string(data))
}

// LoadFromString overlays the values set in INI text. Unknown sections and
// keys are ignored.
func (c *Config) LoadFromString(data string) error {
	return gcfg.FatalOnly(gcfg.ReadStringInto(c, normalizeINI(data)))
}

// LoadFromDir overlays every *.conf file of dir, in lexical order.
func (c *Config) LoadFromDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.conf"))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Strings(files)
	for _, f := range files {
		if err := c.LoadFromFile(f); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", f, err)
		}
	}
	return nil
}

var (
	sectionRE = regexp.MustCompile(`^\s*\[([^\]"]+)\]\s*$`)
	keyRE     = regexp.MustCompile(`^(\s*)([A-Za-z][A-Za-z0-9_.\-]*)(\s*[=:].*)?$`)
)

// normalizeINI rewrites the provider's INI dialect into gcfg syntax:
// section names may contain spaces ("OVN REMOTE" becomes "OVN-REMOTE"),
// keys may contain underscores and dots ("url_filter_exception" becomes
// "url-filter-exception") and "key: value" is accepted for "key = value".
func normalizeINI(data string) string {
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			continue
		}
		if m := sectionRE.FindStringSubmatch(line); m != nil {
			name := strings.Join(strings.Fields(m[1]), "-")
			lines[i] = "[" + name + "]"
			continue
		}
		if m := keyRE.FindStringSubmatch(line); m != nil {
			key := strings.NewReplacer("_", "-", ".", "-").Replace(m[2])
			rest := m[3]
			if strings.HasPrefix(strings.TrimSpace(rest), ":") {
				rest = " =" + strings.TrimPrefix(strings.TrimSpace(rest), ":")
			}
			lines[i] = m[1] + key + rest
		}
	}
	return strings.Join(lines, "\n")
}

// ApplyEnvOverrides applies environment variable overrides
//
// Supported environment variables:
// - OVN_PROVIDER_OVN_REMOTE: Northbound Database address
// - OVN_PROVIDER_NEUTRON_PORT: networking API port
// - OVN_PROVIDER_KEYSTONE_PORT: token API port
// - OVN_PROVIDER_HOST: host advertised in the service catalog
// - OVN_PROVIDER_AUTH_PLUGIN: auth plugin name
// - OVN_PROVIDER_LOG_LEVEL: Log level
// - OVN_PROVIDER_LOG_FORMAT: Log format
// - OVN_PROVIDER_METRICS_BIND_ADDRESS: metrics listen address
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OVN_PROVIDER_OVN_REMOTE"); v != "" {
		c.OVNRemote.Remote = v
	}
	if v := os.Getenv("OVN_PROVIDER_NEUTRON_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Provider.NeutronPort = port
		}
	}
	if v := os.Getenv("OVN_PROVIDER_KEYSTONE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Provider.KeystonePort = port
		}
	}
	if v := os.Getenv("OVN_PROVIDER_HOST"); v != "" {
		c.Provider.Host = v
	}
	if v := os.Getenv("OVN_PROVIDER_AUTH_PLUGIN"); v != "" {
		c.Auth.Plugin = v
	}
	if v := os.Getenv("OVN_PROVIDER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OVN_PROVIDER_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v, ok := os.LookupEnv("OVN_PROVIDER_METRICS_BIND_ADDRESS"); ok {
		c.Metrics.BindAddress = v
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := validateDBAddressFormat(c.OVNRemote.Remote); err != nil {
		errors = append(errors, fmt.Sprintf("invalid ovn-remote: %v", err))
	}
	if c.IsOVNRemoteSSL() {
		if c.SSL.KeyFile == "" || c.SSL.CertFile == "" || c.SSL.CACertFile == "" {
			errors = append(errors, "ssl-key-file, ssl-cert-file and ssl-cacert-file are required for an ssl: ovn-remote")
		}
	}

	for name, port := range map[string]int{"neutron-port": c.Provider.NeutronPort, "keystone-port": c.Provider.KeystonePort} {
		if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid %s: %d (must be between 1 and 65535)", name, port))
		}
	}
	if c.Provider.NeutronPort == c.Provider.KeystonePort {
		errors = append(errors, "neutron-port and keystone-port must differ")
	}
	if c.Provider.TenantID == "" {
		errors = append(errors, "openstack-tenant-id is required")
	}

	if c.SSL.HTTPSEnabled && (c.SSL.KeyFile == "" || c.SSL.CertFile == "") {
		errors = append(errors, "ssl-key-file and ssl-cert-file are required when https is enabled")
	}

	if _, err := net.ParseMAC(c.DHCP.ServerMAC); err != nil {
		errors = append(errors, fmt.Sprintf("invalid dhcp-server-mac: %s", c.DHCP.ServerMAC))
	}
	if c.DHCP.LeaseTime <= 0 {
		errors = append(errors, fmt.Sprintf("invalid dhcp-lease-time: %d (must be > 0)", c.DHCP.LeaseTime))
	}
	if c.DHCP.MTU <= 0 {
		errors = append(errors, fmt.Sprintf("invalid dhcp-mtu: %d (must be > 0)", c.DHCP.MTU))
	}
	if NormalizeIPv6AddressMode(c.DHCP.DefaultIPv6AddressMode) == "" {
		errors = append(errors, fmt.Sprintf("invalid dhcp-default-ipv6-address-mode: %s (must be 'dhcpv6_stateful' or 'dhcpv6_stateless')", c.DHCP.DefaultIPv6AddressMode))
	}

	if c.Auth.Plugin == "" {
		errors = append(errors, "auth-plugin is required")
	}
	if c.Auth.TokenTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid auth-token-timeout: %d (must be > 0)", c.Auth.TokenTimeout))
	}

	if c.Validation.MaxAllowedMTU < 0 {
		errors = append(errors, fmt.Sprintf("invalid validation-max-allowed-mtu: %d (must be >= 0)", c.Validation.MaxAllowedMTU))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, fmt.Sprintf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errors = append(errors, fmt.Sprintf("invalid log format: %s (must be 'json' or 'text')", c.Logging.Format))
	}

	if len(errors) > 0 {
		sort.Strings(errors)
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// validateDBAddressFormat validates an OVN database address
func validateDBAddressFormat(address string) error {
	if address == "" {
		return fmt.Errorf("address is empty")
	}
	for _, addr := range strings.Split(address, ",") {
		addr = strings.TrimSpace(addr)
		if !strings.HasPrefix(addr, "tcp:") &&
			!strings.HasPrefix(addr, "ssl:") &&
			!strings.HasPrefix(addr, "unix:") {
			return fmt.Errorf("invalid address scheme: %s (must be tcp:, ssl:, or unix:)", addr)
		}
	}
	return nil
}

// IsOVNRemoteSSL reports whether the Northbound connection uses TLS.
func (c *Config) IsOVNRemoteSSL() bool {
	return strings.HasPrefix(c.OVNRemote.Remote, "ssl:")
}

// URLFilterExceptions returns the query keys that never filter responses.
func (c *Config) URLFilterExceptions() []string {
	var out []string
	for _, k := range strings.Split(c.Provider.URLFilterException, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Scheme returns the URL scheme of both REST listeners.
func (c *Config) Scheme() string {
	if c.SSL.HTTPSEnabled {
		return "https"
	}
	return "http"
}

// NeutronURL is the networking endpoint advertised in the service catalog.
func (c *Config) NeutronURL() string {
	return fmt.Sprintf("%s://%s:%d", c.Scheme(), c.Provider.Host, c.Provider.NeutronPort)
}

// KeystoneURL is the identity endpoint advertised in the service catalog.
func (c *Config) KeystoneURL() string {
	return fmt.Sprintf("%s://%s:%d/v2.0", c.Scheme(), c.Provider.Host, c.Provider.KeystonePort)
}

// NormalizeIPv6AddressMode maps the accepted spellings of an address mode
// to its stored form. It returns "" for unknown modes.
func NormalizeIPv6AddressMode(mode string) string {
	switch strings.ReplaceAll(mode, "-", "_") {
	case IPv6ModeStateful:
		return IPv6ModeStateful
	case IPv6ModeStateless:
		return IPv6ModeStateless
	}
	return ""
}
