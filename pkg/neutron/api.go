package neutron

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jiayi-1994/ovn-provider/pkg/config"
	"github.com/jiayi-1994/ovn-provider/pkg/logging"
	"github.com/jiayi-1994/ovn-provider/pkg/metrics"
	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// NeutronAPI performs the Networking operations on an OVN Northbound.
// It is safe for concurrent use; every call uses its own transactions.
type NeutronAPI struct {
	ops *ovndb.Ops
	cfg *config.Config

	randMu sync.Mutex
	rand   *rand.Rand

	now func() time.Time
}

// Option customizes a NeutronAPI.
type Option func(*NeutronAPI)

// WithRand sets the source used for MAC generation.
func WithRand(r *rand.Rand) Option {
	return func(a *NeutronAPI) {
		a.rand = r
	}
}

// WithClock sets the clock used for security group timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *NeutronAPI) {
		a.now = now
	}
}

// New creates a NeutronAPI over nb.
func New(nb ovndb.Northbound, cfg *config.Config, opts ...Option) *NeutronAPI {
	a := &NeutronAPI{
		ops:  ovndb.NewOps(nb),
		cfg:  cfg,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the configuration the API was created with.
func (a *NeutronAPI) Config() *config.Config {
	return a.cfg
}

// commit commits t, records its latency and logs the outcome at debug
// level.
func (a *NeutronAPI) commit(ctx context.Context, operation string, t *ovndb.Txn) (ovndb.Result, error) {
	log := logging.LoggerForOVN(ctx, operation)
	timer := metrics.NewTimer()
	res, err := t.Commit(ctx)
	metrics.RecordOVNOperation(operation, err, timer.ObserveDuration())
	if err != nil {
		log.Error(err, "Transaction failed", "ops", t.Len())
		return nil, ovndb.NewTransactionError(operation, err)
	}
	log.Debug("Transaction committed", "ops", t.Len())
	return res, nil
}

// placeholderName is the temporary name of a row that is renamed after its
// own UUID once it is committed.
func placeholderName(prefix string) string {
	return prefix + uuid.NewString()
}

func (a *NeutronAPI) timestamp() string {
	return a.now().UTC().Format("2006-01-02T15:04:05Z")
}

func boolString(b bool) string {
	return strconv.FormatBool(b)
}

func strPtr(s string) *string {
	return &s
}

func boolPtr(b bool) *bool {
	return &b
}

func intPtr(i int) *int {
	return &i
}
