package ovndb

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/model"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/ovn-provider/pkg/metrics"
)

// DefaultTxnTimeout bounds every Northbound operation.
const DefaultTxnTimeout = 100 * time.Second

// Northbound is the row-level access the provider needs from an OVSDB
// client: cached lookups by UUID or index, cached table listing, and atomic
// transactions.
type Northbound interface {
	// Get fills m, identified by its UUID or name, from the cache.
	// Returns ErrNotFound on a miss.
	Get(ctx context.Context, m model.Model) error
	// List fills result, a pointer to a slice of models, with every row of
	// the slice element's table.
	List(ctx context.Context, result interface{}) error
	// Transact commits ops atomically and returns the real UUID of every
	// named UUID inserted.
	Transact(ctx context.Context, ops ...Op) (Result, error)
}

// ClientConfig configures the Northbound connection.
type ClientConfig struct {
	// Remote is the OVSDB address, e.g. tcp:127.0.0.1:6641 or ssl:10.0.0.1:6641.
	// Multiple comma separated addresses are tried in order.
	Remote string

	// PrivateKey, Certificate and CACert are PEM files used for ssl: remotes.
	PrivateKey  string
	Certificate string
	CACert      string

	// Timeout bounds every operation. Default: DefaultTxnTimeout.
	Timeout time.Duration

	// Logger receives libovsdb client logs.
	Logger *logr.Logger
}

// Client is a connected libovsdb Northbound client.
type Client struct {
	nb      client.Client
	timeout time.Duration
}

// Connect dials the Northbound database and starts monitoring every table of
// the provider's model.
func Connect(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Remote == "" {
		return nil, fmt.Errorf("OVN Northbound remote is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTxnTimeout
	}

	dbModel, err := NBDBModel()
	if err != nil {
		return nil, fmt.Errorf("failed to build NB model: %w", err)
	}

	opts := []client.Option{
		client.WithReconnect(cfg.Timeout, backoff.NewExponentialBackOff()),
	}
	for _, addr := range strings.Split(cfg.Remote, ",") {
		opts = append(opts, client.WithEndpoint(strings.TrimSpace(addr)))
	}
	if strings.HasPrefix(cfg.Remote, "ssl:") {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithTLSConfig(tlsConfig))
	}
	if cfg.Logger != nil {
		opts = append(opts, client.WithLogger(cfg.Logger))
	}

	nb, err := client.NewOVSDBClient(dbModel, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create NB client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := nb.Connect(connectCtx); err != nil {
		metrics.SetDBConnectionStatus(metrics.DatabaseNB, false)
		return nil, NewTransactionError("connect "+cfg.Remote, err)
	}
	if _, err := nb.MonitorAll(connectCtx); err != nil {
		nb.Close()
		metrics.SetDBConnectionStatus(metrics.DatabaseNB, false)
		return nil, NewTransactionError("monitor "+cfg.Remote, err)
	}
	metrics.SetDBConnectionStatus(metrics.DatabaseNB, true)
	klog.Infof("Connected to OVN Northbound at %s", cfg.Remote)

	return &Client{nb: nb, timeout: cfg.Timeout}, nil
}

func newTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.Certificate, cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load OVN client certificate: %w", err)
	}
	caPEM, err := os.ReadFile(cfg.CACert)
	if err != nil {
		return nil, fmt.Errorf("failed to read OVN CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", cfg.CACert)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Get implements Northbound.
func (c *Client) Get(ctx context.Context, m model.Model) error {
	return c.nb.Get(ctx, m)
}

// List implements Northbound.
func (c *Client) List(ctx context.Context, result interface{}) error {
	return c.nb.List(ctx, result)
}

// Transact implements Northbound.
func (c *Client) Transact(ctx context.Context, ops ...Op) (Result, error) {
	start := time.Now()
	ovsOps, inserts, err := BuildOperations(c.nb, ops)
	if err != nil {
		metrics.RecordOVNOperation("transact", err, time.Since(start))
		return nil, err
	}
	results, err := TransactAndCheck(ctx, c.nb, ovsOps, c.timeout)
	metrics.RecordOVNOperation("transact", err, time.Since(start))
	if err != nil {
		return nil, NewTransactionError("transact", err)
	}
	res := Result{}
	for idx, named := range inserts {
		if named == "" || idx >= len(results) {
			continue
		}
		res[named] = GetUUIDFromResult(results[idx])
	}
	return res, nil
}

// Close disconnects from the database.
func (c *Client) Close() {
	c.nb.Close()
	metrics.SetDBConnectionStatus(metrics.DatabaseNB, false)
}

// Lazy is a Northbound that connects on first use and keeps the connection
// for the lifetime of the process. A failed connection attempt is retried on
// the next call.
type Lazy struct {
	cfg ClientConfig

	mu     sync.Mutex
	client *Client
}

// NewLazy returns a Northbound that connects with cfg on first use.
func NewLazy(cfg ClientConfig) *Lazy {
	return &Lazy{cfg: cfg}
}

func (l *Lazy) get(ctx context.Context) (*Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return l.client, nil
	}
	c, err := Connect(ctx, l.cfg)
	if err != nil {
		return nil, err
	}
	l.client = c
	return c, nil
}

// Get implements Northbound.
func (l *Lazy) Get(ctx context.Context, m model.Model) error {
	c, err := l.get(ctx)
	if err != nil {
		return err
	}
	return c.Get(ctx, m)
}

// List implements Northbound.
func (l *Lazy) List(ctx context.Context, result interface{}) error {
	c, err := l.get(ctx)
	if err != nil {
		return err
	}
	return c.List(ctx, result)
}

// Transact implements Northbound.
func (l *Lazy) Transact(ctx context.Context, ops ...Op) (Result, error) {
	c, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return c.Transact(ctx, ops...)
}

// Close disconnects if a connection was established.
func (l *Lazy) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		l.client.Close()
		l.client = nil
	}
}
