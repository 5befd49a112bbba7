// Package ovndb provides OVN database transaction helpers.
//
// Transaction Patterns:
// 1. Build a Txn, queue typed operations on it and Commit once
// 2. Rows inserted in the same Txn reference each other by named UUID
// 3. Commit returns the real UUID assigned to every named UUID
//
// Reference: OVN-Kubernetes pkg/libovsdb/ops/transact.go
package ovndb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/model"
	"github.com/ovn-org/libovsdb/ovsdb"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// OpKind is the kind of a queued Northbound operation.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
	OpMutate
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpMutate:
		return "mutate"
	}
	return "unknown"
}

// Op is a single row operation. Model identifies the row by UUID (or holds
// the new row for inserts, with a named UUID). Fields lists pointers into
// Model for updates; Mutations applies to set columns for mutates.
type Op struct {
	Kind      OpKind
	Model     model.Model
	Fields    []interface{}
	Mutations []model.Mutation
}

// Result maps each named UUID of a committed transaction to its real UUID.
type Result map[string]string

// UUID returns the real UUID for a named UUID, or id itself when it is not a
// named UUID of the transaction.
func (r Result) UUID(id string) string {
	if actual, ok := r[id]; ok {
		return actual
	}
	return id
}

var namedUUIDCounter uint64

// BuildNamedUUID returns a fresh named UUID usable to reference a row
// inserted within the same transaction. Named UUIDs must match
// [_a-zA-Z][_a-zA-Z0-9]*.
func BuildNamedUUID() string {
	return fmt.Sprintf("u%010d", atomic.AddUint64(&namedUUIDCounter, 1))
}

// IsNamedUUID checks if id was produced by BuildNamedUUID.
func IsNamedUUID(id string) bool {
	if len(id) != 11 || id[0] != 'u' {
		return false
	}
	for _, c := range id[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Txn accumulates operations that are committed atomically.
type Txn struct {
	nb  Northbound
	ops []Op
}

// NewTxn starts an empty transaction against nb.
func NewTxn(nb Northbound) *Txn {
	return &Txn{nb: nb}
}

// Insert queues an insert. The row's UUID must be a named UUID when other
// operations of the transaction refer to it.
func (t *Txn) Insert(m model.Model) *Txn {
	t.ops = append(t.ops, Op{Kind: OpInsert, Model: m})
	return t
}

// Update queues an update of the given columns of the row identified by
// m's UUID. Columns listed in fields are written even when empty.
func (t *Txn) Update(m model.Model, fields ...interface{}) *Txn {
	t.ops = append(t.ops, Op{Kind: OpUpdate, Model: m, Fields: fields})
	return t
}

// Delete queues a delete of the row identified by m's UUID.
func (t *Txn) Delete(m model.Model) *Txn {
	t.ops = append(t.ops, Op{Kind: OpDelete, Model: m})
	return t
}

// Mutate queues set-column mutations of the row identified by m's UUID.
func (t *Txn) Mutate(m model.Model, mutations ...model.Mutation) *Txn {
	t.ops = append(t.ops, Op{Kind: OpMutate, Model: m, Mutations: mutations})
	return t
}

// Ops returns the queued operations.
func (t *Txn) Ops() []Op {
	return t.ops
}

// Len returns the number of queued operations.
func (t *Txn) Len() int {
	return len(t.ops)
}

// Commit executes the queued operations as one OVSDB transaction.
func (t *Txn) Commit(ctx context.Context) (Result, error) {
	if len(t.ops) == 0 {
		return Result{}, nil
	}
	return t.nb.Transact(ctx, t.ops...)
}

// TransactWithRetry executes a transaction with retry on connection errors
//
// This function will retry the transaction if the client is disconnected,
// using polling with a 200ms interval until the context is cancelled.
func TransactWithRetry(ctx context.Context, c client.Client, ops []ovsdb.Operation) ([]ovsdb.OperationResult, error) {
	var results []ovsdb.OperationResult
	resultErr := wait.PollUntilContextCancel(ctx, 200*time.Millisecond, true, func(ctx context.Context) (bool, error) {
		var err error
		results, err = c.Transact(ctx, ops...)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, client.ErrNotConnected) {
			klog.V(5).Infof("Unable to execute transaction: %+v. Client is disconnected, will retry...", ops)
			return false, nil
		}
		return false, err
	})
	return results, resultErr
}

// TransactAndCheck executes a transaction and checks every operation result.
// The transaction is bounded by timeout on top of ctx.
func TransactAndCheck(ctx context.Context, c client.Client, ops []ovsdb.Operation, timeout time.Duration) ([]ovsdb.OperationResult, error) {
	if len(ops) == 0 {
		return []ovsdb.OperationResult{{}}, nil
	}

	klog.V(5).Infof("Executing OVN transaction: %+v", ops)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := TransactWithRetry(ctx, c, ops)
	if err != nil {
		if wait.Interrupted(err) {
			err = context.DeadlineExceeded
		}
		return nil, fmt.Errorf("transaction failed with ops %+v: %w", ops, err)
	}

	opErrors, err := ovsdb.CheckOperationResults(results, ops)
	if err != nil {
		return nil, fmt.Errorf("operation failed with ops %+v results %+v errors %+v: %w", ops, results, opErrors, err)
	}

	return results, nil
}

// BuildOperations translates queued operations into OVSDB operations. The
// returned map records, for every insert, the index of its OVSDB operation
// and the named UUID it was queued with.
func BuildOperations(c client.Client, ops []Op) ([]ovsdb.Operation, map[int]string, error) {
	var out []ovsdb.Operation
	inserts := map[int]string{}
	for _, op := range ops {
		var built []ovsdb.Operation
		var err error
		switch op.Kind {
		case OpInsert:
			inserts[len(out)] = modelUUID(op.Model)
			built, err = c.Create(op.Model)
		case OpUpdate:
			built, err = c.Where(op.Model).Update(op.Model, op.Fields...)
		case OpDelete:
			built, err = c.Where(op.Model).Delete()
		case OpMutate:
			built, err = c.Where(op.Model).Mutate(op.Model, op.Mutations...)
		default:
			err = fmt.Errorf("unknown operation kind %d", op.Kind)
		}
		if err != nil {
			return nil, nil, NewTransactionError(fmt.Sprintf("%s %s", op.Kind, TableOf(op.Model)), err)
		}
		out = append(out, built...)
	}
	return out, inserts, nil
}

// GetUUIDFromResult extracts the UUID from an insert operation result
func GetUUIDFromResult(result ovsdb.OperationResult) string {
	return result.UUID.GoUUID
}

func modelUUID(m model.Model) string {
	switch row := m.(type) {
	case *LogicalSwitch:
		return row.UUID
	case *LogicalSwitchPort:
		return row.UUID
	case *LogicalRouter:
		return row.UUID
	case *LogicalRouterPort:
		return row.UUID
	case *LogicalRouterStaticRoute:
		return row.UUID
	case *DHCPOptions:
		return row.UUID
	case *ACL:
		return row.UUID
	case *PortGroup:
		return row.UUID
	}
	return ""
}
