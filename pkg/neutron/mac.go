package neutron

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
)

// macAllocationAttempts bounds the search for an unused MAC.
const macAllocationAttempts = 100

// randomMAC returns a unicast, locally administered MAC.
func randomMAC(r *rand.Rand) string {
	b := make([]byte, 6)
	r.Read(b)
	b[0] = (b[0] | 0x02) &^ 0x01
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

// usedMACs returns the MACs of every switch and router port.
func (a *NeutronAPI) usedMACs(ctx context.Context) (sets.Set[string], error) {
	used := sets.New[string]()
	lsps, err := a.ops.ListLogicalSwitchPorts(ctx)
	if err != nil {
		return nil, err
	}
	for _, lsp := range lsps {
		if mac, _ := portAddress(lsp); mac != "" {
			used.Insert(strings.ToLower(mac))
		}
	}
	lrps, err := a.ops.ListLogicalRouterPorts(ctx)
	if err != nil {
		return nil, err
	}
	for _, lrp := range lrps {
		used.Insert(strings.ToLower(lrp.MAC))
	}
	return used, nil
}

// generateMAC returns a random MAC not used by any switch or router port.
// Uniqueness is checked against the current rows, not reserved.
func (a *NeutronAPI) generateMAC(ctx context.Context) (string, error) {
	used, err := a.usedMACs(ctx)
	if err != nil {
		return "", err
	}
	a.randMu.Lock()
	defer a.randMu.Unlock()
	for i := 0; i < macAllocationAttempts; i++ {
		mac := randomMAC(a.rand)
		if !used.Has(mac) {
			return mac, nil
		}
	}
	return "", apierr.New(apierr.Internal, "Unable to generate a unique MAC address after %d attempts", macAllocationAttempts)
}
