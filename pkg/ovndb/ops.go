package ovndb

import (
	"context"

	"github.com/ovn-org/libovsdb/model"
	"github.com/ovn-org/libovsdb/ovsdb"
)

// Ops provides typed reads over a Northbound and starts transactions.
type Ops struct {
	nb Northbound
}

// NewOps creates a new Ops over nb.
func NewOps(nb Northbound) *Ops {
	return &Ops{nb: nb}
}

// NB returns the underlying Northbound.
func (o *Ops) NB() Northbound {
	return o.nb
}

// Txn starts a new transaction.
func (o *Ops) Txn() *Txn {
	return NewTxn(o.nb)
}

func (o *Ops) get(ctx context.Context, table, id string, m model.Model) error {
	if id == "" {
		return NewObjectNotFoundError(table, id)
	}
	if err := o.nb.Get(ctx, m); err != nil {
		return notFound(table, id, err)
	}
	return nil
}

func (o *Ops) list(ctx context.Context, table string, result interface{}) error {
	if err := o.nb.List(ctx, result); err != nil {
		return NewTransactionError("list "+table, err)
	}
	return nil
}

// SetMapKeys is db_set on a map column: keys of kv are written into the
// column pointed to by column, which must belong to m. An empty value
// deletes the key. The full resulting map is written.
func (t *Txn) SetMapKeys(m model.Model, column *map[string]string, kv map[string]string) *Txn {
	merged := make(map[string]string, len(*column)+len(kv))
	for k, v := range *column {
		merged[k] = v
	}
	for k, v := range kv {
		if v == "" {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	*column = merged
	return t.Update(m, column)
}

// RemoveMapKeys is db_remove_key on a map column.
func (t *Txn) RemoveMapKeys(m model.Model, column *map[string]string, keys ...string) *Txn {
	kv := make(map[string]string, len(keys))
	for _, k := range keys {
		kv[k] = ""
	}
	return t.SetMapKeys(m, column, kv)
}

// Clear is db_clear: field, a pointer into m, is reset to its zero value and
// written.
func (t *Txn) Clear(m model.Model, field interface{}) *Txn {
	switch f := field.(type) {
	case *[]string:
		*f = []string{}
	case *map[string]string:
		*f = map[string]string{}
	case **string:
		*f = nil
	case **int:
		*f = nil
	case **bool:
		*f = nil
	case *string:
		*f = ""
	}
	return t.Update(m, field)
}

func insertInto(field *[]string, ids ...string) model.Mutation {
	return model.Mutation{Field: field, Mutator: ovsdb.MutateOperationInsert, Value: ids}
}

func deleteFrom(field *[]string, ids ...string) model.Mutation {
	return model.Mutation{Field: field, Mutator: ovsdb.MutateOperationDelete, Value: ids}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
