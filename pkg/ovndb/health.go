package ovndb

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/jiayi-1994/ovn-provider/pkg/metrics"
)

// HealthCheckTimeout bounds one health check query.
const HealthCheckTimeout = 10 * time.Second

// CheckHealth verifies that nb answers queries by listing the logical
// switches. A Lazy Northbound connects on the first check.
func CheckHealth(ctx context.Context, nb Northbound) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	switches, err := NewOps(nb).ListLogicalSwitches(ctx)
	if err != nil {
		metrics.SetDBConnectionStatus(metrics.DatabaseNB, false)
		return fmt.Errorf("health check query failed: %w", err)
	}
	metrics.SetDBConnectionStatus(metrics.DatabaseNB, true)
	klog.V(4).Infof("Health check passed: found %d logical switches", len(switches))
	return nil
}
