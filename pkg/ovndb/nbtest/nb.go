// Package nbtest provides an in-memory ovndb.Northbound for unit tests.
//
// Transactions are atomic: operations are applied to a copy of the database
// that replaces the original only when every operation succeeds. Named UUIDs
// are replaced by generated UUIDs everywhere in the transaction, unique name
// indexes and strong references are enforced, and unreferenced child rows
// are garbage collected the way ovsdb-server does for non-root tables.
package nbtest

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/ovn-org/libovsdb/model"
	"github.com/ovn-org/libovsdb/ovsdb"

	"github.com/jiayi-1994/ovn-provider/pkg/ovndb"
)

// NB is an in-memory Northbound database.
type NB struct {
	mu     sync.Mutex
	tables map[string]map[string]model.Model
	seq    map[string]int
	next   int

	// TransactHook, when set, runs before every transaction. A non-nil
	// error aborts the transaction.
	TransactHook func(ops []ovndb.Op) error

	// Transactions counts committed transactions.
	Transactions int
}

// New returns an empty database.
func New() *NB {
	return &NB{
		tables: map[string]map[string]model.Model{},
		seq:    map[string]int{},
	}
}

// uniqueName lists the tables whose name column is a unique index.
var uniqueName = map[string]bool{
	ovndb.LogicalSwitchPortTable: true,
	ovndb.LogicalRouterPortTable: true,
	ovndb.PortGroupTable:         true,
}

// Get implements ovndb.Northbound.
func (n *NB) Get(_ context.Context, m model.Model) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	table := ovndb.TableOf(m)
	if table == "" {
		return fmt.Errorf("nbtest: unknown model %T", m)
	}
	row := n.lookup(n.tables, table, m)
	if row == nil {
		return ovndb.ErrNotFound
	}
	reflect.ValueOf(m).Elem().Set(reflect.ValueOf(copyRow(row)).Elem())
	return nil
}

func (n *NB) lookup(db map[string]map[string]model.Model, table string, m model.Model) model.Model {
	v := reflect.ValueOf(m).Elem()
	if id := v.FieldByName("UUID").String(); id != "" {
		return db[table][id]
	}
	name := v.FieldByName("Name")
	if !name.IsValid() || name.String() == "" {
		return nil
	}
	for _, id := range n.sortedIDs(db, table) {
		row := db[table][id]
		if reflect.ValueOf(row).Elem().FieldByName("Name").String() == name.String() {
			return row
		}
	}
	return nil
}

// List implements ovndb.Northbound. result must be a pointer to a slice of
// model pointers.
func (n *NB) List(_ context.Context, result interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	rv := reflect.ValueOf(result)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("nbtest: List needs a pointer to a slice, got %T", result)
	}
	elemType := rv.Elem().Type().Elem()
	if elemType.Kind() != reflect.Ptr {
		return fmt.Errorf("nbtest: List needs a slice of model pointers, got %T", result)
	}
	zero, ok := reflect.New(elemType.Elem()).Interface().(model.Model)
	if !ok {
		return fmt.Errorf("nbtest: %s is not a model", elemType)
	}
	table := ovndb.TableOf(zero)
	if table == "" {
		return fmt.Errorf("nbtest: unknown model %s", elemType)
	}

	out := reflect.MakeSlice(rv.Elem().Type(), 0, len(n.tables[table]))
	for _, id := range n.sortedIDs(n.tables, table) {
		out = reflect.Append(out, reflect.ValueOf(copyRow(n.tables[table][id])))
	}
	rv.Elem().Set(out)
	return nil
}

// Transact implements ovndb.Northbound.
func (n *NB) Transact(_ context.Context, ops ...ovndb.Op) (ovndb.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.TransactHook != nil {
		if err := n.TransactHook(ops); err != nil {
			return nil, err
		}
	}

	db := cloneDB(n.tables)
	seq := make(map[string]int, len(n.seq))
	for k, v := range n.seq {
		seq[k] = v
	}
	next := n.next

	named := ovndb.Result{}
	for _, op := range ops {
		if op.Kind != ovndb.OpInsert {
			continue
		}
		id := rowUUID(op.Model)
		if id == "" || ovndb.IsNamedUUID(id) {
			actual := uuid.NewString()
			if id != "" {
				if _, dup := named[id]; dup {
					return nil, fmt.Errorf("duplicate uuid-name %s", id)
				}
				named[id] = actual
			}
		}
	}

	for i, op := range ops {
		if err := n.apply(db, seq, &next, named, op); err != nil {
			return nil, fmt.Errorf("operation %d (%s %s) failed: %w", i, op.Kind, ovndb.TableOf(op.Model), err)
		}
	}

	collectGarbage(db)
	if err := checkIntegrity(db); err != nil {
		return nil, err
	}

	n.tables = db
	n.seq = seq
	n.next = next
	n.Transactions++
	return named, nil
}

func (n *NB) apply(db map[string]map[string]model.Model, seq map[string]int, next *int, named ovndb.Result, op ovndb.Op) error {
	table := ovndb.TableOf(op.Model)
	if table == "" {
		return fmt.Errorf("unknown model %T", op.Model)
	}
	if db[table] == nil {
		db[table] = map[string]model.Model{}
	}

	switch op.Kind {
	case ovndb.OpInsert:
		row := copyRow(op.Model)
		substitute(reflect.ValueOf(row).Elem(), named)
		id := rowUUID(op.Model)
		if actual, ok := named[id]; ok {
			id = actual
		} else if id == "" {
			id = uuid.NewString()
		}
		reflect.ValueOf(row).Elem().FieldByName("UUID").SetString(id)
		if _, exists := db[table][id]; exists {
			return fmt.Errorf("duplicate uuid %s", id)
		}
		db[table][id] = row
		*next++
		seq[id] = *next
		return checkUnique(db, table, row)

	case ovndb.OpUpdate:
		target, err := targetRow(db, table, op.Model, named)
		if target == nil || err != nil {
			return err
		}
		src := reflect.ValueOf(op.Model).Elem()
		dst := reflect.ValueOf(target).Elem()
		if len(op.Fields) == 0 {
			for i := 0; i < src.NumField(); i++ {
				if src.Type().Field(i).Name == "UUID" || src.Field(i).IsZero() {
					continue
				}
				dst.Field(i).Set(cloneValue(src.Field(i)))
				substitute(dst.Field(i), named)
			}
			return checkUnique(db, table, target)
		}
		for _, f := range op.Fields {
			idx, err := fieldIndex(src, f)
			if err != nil {
				return err
			}
			if src.Type().Field(idx).Name == "UUID" {
				return fmt.Errorf("_uuid is not mutable")
			}
			dst.Field(idx).Set(cloneValue(src.Field(idx)))
			substitute(dst.Field(idx), named)
		}
		return checkUnique(db, table, target)

	case ovndb.OpDelete:
		id := named.UUID(rowUUID(op.Model))
		if id == "" {
			return fmt.Errorf("delete without uuid")
		}
		delete(db[table], id)
		delete(seq, id)
		return nil

	case ovndb.OpMutate:
		target, err := targetRow(db, table, op.Model, named)
		if target == nil || err != nil {
			return err
		}
		src := reflect.ValueOf(op.Model).Elem()
		dst := reflect.ValueOf(target).Elem()
		for _, mut := range op.Mutations {
			idx, err := fieldIndex(src, mut.Field)
			if err != nil {
				return err
			}
			if err := mutate(dst.Field(idx), mut.Mutator, mut.Value, named); err != nil {
				return fmt.Errorf("column %s: %w", src.Type().Field(idx).Tag.Get("ovsdb"), err)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown operation kind %d", op.Kind)
}

// targetRow returns the row a write operation addresses. A missing row is
// not an error: OVSDB where clauses that match nothing are no-ops.
func targetRow(db map[string]map[string]model.Model, table string, m model.Model, named ovndb.Result) (model.Model, error) {
	id := named.UUID(rowUUID(m))
	if id == "" {
		return nil, fmt.Errorf("write without uuid")
	}
	return db[table][id], nil
}

func mutate(field reflect.Value, mutator ovsdb.Mutator, value interface{}, named ovndb.Result) error {
	switch cur := field.Interface().(type) {
	case []string:
		values, ok := value.([]string)
		if !ok {
			return fmt.Errorf("wrong type %T for set mutation", value)
		}
		switch mutator {
		case ovsdb.MutateOperationInsert:
			for _, v := range values {
				v = named.UUID(v)
				if !contains(cur, v) {
					cur = append(cur, v)
				}
			}
		case ovsdb.MutateOperationDelete:
			var kept []string
			for _, v := range cur {
				if !containsNamed(values, v, named) {
					kept = append(kept, v)
				}
			}
			cur = kept
		default:
			return fmt.Errorf("unsupported mutator %s", mutator)
		}
		field.Set(reflect.ValueOf(cur))
		return nil

	case map[string]string:
		out := make(map[string]string, len(cur))
		for k, v := range cur {
			out[k] = v
		}
		switch mutator {
		case ovsdb.MutateOperationInsert:
			kv, ok := value.(map[string]string)
			if !ok {
				return fmt.Errorf("wrong type %T for map insert", value)
			}
			for k, v := range kv {
				if _, exists := out[k]; !exists {
					out[k] = named.UUID(v)
				}
			}
		case ovsdb.MutateOperationDelete:
			switch del := value.(type) {
			case map[string]string:
				for k, v := range del {
					if out[k] == v {
						delete(out, k)
					}
				}
			case []string:
				for _, k := range del {
					delete(out, k)
				}
			default:
				return fmt.Errorf("wrong type %T for map delete", value)
			}
		default:
			return fmt.Errorf("unsupported mutator %s", mutator)
		}
		field.Set(reflect.ValueOf(out))
		return nil
	}
	return fmt.Errorf("unsupported column type %s", field.Type())
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsNamed(list []string, v string, named ovndb.Result) bool {
	for _, x := range list {
		if named.UUID(x) == v {
			return true
		}
	}
	return false
}

// fieldIndex returns the index of the struct field ptr points to.
func fieldIndex(v reflect.Value, ptr interface{}) (int, error) {
	p := reflect.ValueOf(ptr)
	if p.Kind() != reflect.Ptr {
		return 0, fmt.Errorf("field %T is not a pointer", ptr)
	}
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Addr().Pointer() == p.Pointer() && f.Type() == p.Elem().Type() {
			return i, nil
		}
	}
	return 0, fmt.Errorf("field pointer does not belong to the model")
}

// substitute replaces named UUIDs by actual UUIDs in every string of v.
func substitute(v reflect.Value, named ovndb.Result) {
	if len(named) == 0 {
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).Name == "UUID" {
				continue
			}
			substitute(v.Field(i), named)
		}
	case reflect.String:
		if actual, ok := named[v.String()]; ok {
			v.SetString(actual)
		}
	case reflect.Ptr:
		if !v.IsNil() {
			substitute(v.Elem(), named)
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			substitute(v.Index(i), named)
		}
	case reflect.Map:
		for _, k := range v.MapKeys() {
			val := v.MapIndex(k)
			if val.Kind() == reflect.String {
				if actual, ok := named[val.String()]; ok {
					v.SetMapIndex(k, reflect.ValueOf(actual))
				}
			}
		}
	}
}

func checkUnique(db map[string]map[string]model.Model, table string, row model.Model) error {
	if !uniqueName[table] {
		return nil
	}
	v := reflect.ValueOf(row).Elem()
	name, id := v.FieldByName("Name").String(), v.FieldByName("UUID").String()
	for otherID, other := range db[table] {
		if otherID == id {
			continue
		}
		if reflect.ValueOf(other).Elem().FieldByName("Name").String() == name {
			return fmt.Errorf("constraint violation: Transaction causes multiple rows in %q table to have identical values (%q) for index on column \"name\"", table, name)
		}
	}
	return nil
}

// strongRefs lists, per child table, the parent columns holding strong
// references to it. Rows of these tables are garbage collected once
// unreferenced.
var strongRefs = map[string][]func(db map[string]map[string]model.Model) []string{
	ovndb.LogicalSwitchPortTable: {
		func(db map[string]map[string]model.Model) (ids []string) {
			for _, r := range db[ovndb.LogicalSwitchTable] {
				ids = append(ids, r.(*ovndb.LogicalSwitch).Ports...)
			}
			return ids
		},
	},
	ovndb.LogicalRouterPortTable: {
		func(db map[string]map[string]model.Model) (ids []string) {
			for _, r := range db[ovndb.LogicalRouterTable] {
				ids = append(ids, r.(*ovndb.LogicalRouter).Ports...)
			}
			return ids
		},
	},
	ovndb.LogicalRouterStaticRouteTable: {
		func(db map[string]map[string]model.Model) (ids []string) {
			for _, r := range db[ovndb.LogicalRouterTable] {
				ids = append(ids, r.(*ovndb.LogicalRouter).StaticRoutes...)
			}
			return ids
		},
	},
	ovndb.ACLTable: {
		func(db map[string]map[string]model.Model) (ids []string) {
			for _, r := range db[ovndb.LogicalSwitchTable] {
				ids = append(ids, r.(*ovndb.LogicalSwitch).ACLs...)
			}
			return ids
		},
		func(db map[string]map[string]model.Model) (ids []string) {
			for _, r := range db[ovndb.PortGroupTable] {
				ids = append(ids, r.(*ovndb.PortGroup).ACLs...)
			}
			return ids
		},
	},
}

func collectGarbage(db map[string]map[string]model.Model) {
	for table, refs := range strongRefs {
		referenced := map[string]bool{}
		for _, ref := range refs {
			for _, id := range ref(db) {
				referenced[id] = true
			}
		}
		for id := range db[table] {
			if !referenced[id] {
				delete(db[table], id)
			}
		}
	}

	// Weak references disappear with their target.
	for _, r := range db[ovndb.PortGroupTable] {
		pg := r.(*ovndb.PortGroup)
		var kept []string
		for _, id := range pg.Ports {
			if _, ok := db[ovndb.LogicalSwitchPortTable][id]; ok {
				kept = append(kept, id)
			}
		}
		pg.Ports = kept
	}
	for _, r := range db[ovndb.LogicalSwitchPortTable] {
		lsp := r.(*ovndb.LogicalSwitchPort)
		if lsp.Dhcpv4Options != nil {
			if _, ok := db[ovndb.DHCPOptionsTable][*lsp.Dhcpv4Options]; !ok {
				lsp.Dhcpv4Options = nil
			}
		}
		if lsp.Dhcpv6Options != nil {
			if _, ok := db[ovndb.DHCPOptionsTable][*lsp.Dhcpv6Options]; !ok {
				lsp.Dhcpv6Options = nil
			}
		}
	}
}

func checkIntegrity(db map[string]map[string]model.Model) error {
	for table, refs := range strongRefs {
		for _, ref := range refs {
			for _, id := range ref(db) {
				if _, ok := db[table][id]; !ok {
					return fmt.Errorf("referential integrity violation: reference to missing %s row %s", table, id)
				}
			}
		}
	}
	return nil
}

func (n *NB) sortedIDs(db map[string]map[string]model.Model, table string) []string {
	ids := make([]string, 0, len(db[table]))
	for id := range db[table] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return n.seq[ids[i]] < n.seq[ids[j]] })
	return ids
}

func rowUUID(m model.Model) string {
	return reflect.ValueOf(m).Elem().FieldByName("UUID").String()
}

func cloneDB(db map[string]map[string]model.Model) map[string]map[string]model.Model {
	out := make(map[string]map[string]model.Model, len(db))
	for table, rows := range db {
		out[table] = make(map[string]model.Model, len(rows))
		for id, row := range rows {
			out[table][id] = copyRow(row)
		}
	}
	return out
}

func copyRow(m model.Model) model.Model {
	src := reflect.ValueOf(m).Elem()
	dst := reflect.New(src.Type())
	for i := 0; i < src.NumField(); i++ {
		dst.Elem().Field(i).Set(cloneValue(src.Field(i)))
	}
	return dst.Interface().(model.Model)
}

func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		p := reflect.New(v.Type().Elem())
		p.Elem().Set(cloneValue(v.Elem()))
		return p
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		s := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(s, v)
		return s
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		m := reflect.MakeMapWithSize(v.Type(), v.Len())
		for _, k := range v.MapKeys() {
			m.SetMapIndex(k, v.MapIndex(k))
		}
		return m
	}
	return v
}
