package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tallerlabs/craftsync/internal/craftsync"
)

type columnKind int

const (
	columnText columnKind = iota
	columnReal
)

type columnSpec struct {
	name string
	kind columnKind
}

type tableSpec struct {
	table   string
	columns []columnSpec
}

// Columns are named after the wire fields, so a row and its remote document
// share keys 1:1.
var tableSpecs = map[craftsync.Collection]tableSpec{
	craftsync.CollectionIngredients: {
		table: "ingredients",
		columns: []columnSpec{
			{"nombre", columnText}, {"coste", columnReal}, {"stock", columnReal}, {"unidad", columnText},
		},
	},
	craftsync.CollectionFormulas: {
		table: "formulas",
		columns: []columnSpec{
			{"nombre", columnText}, {"ingredientes", columnText}, {"notas", columnText}, {"rendimiento", columnReal},
		},
	},
	craftsync.CollectionInventory: {
		table: "inventory_items",
		columns: []columnSpec{
			{"nombre", columnText}, {"cantidad", columnReal}, {"ubicacion", columnText},
		},
	},
	craftsync.CollectionSales: {
		table: "sales",
		columns: []columnSpec{
			{"producto", columnText}, {"cantidad", columnReal}, {"importe", columnReal}, {"cliente", columnText}, {"fecha", columnText},
		},
	},
	craftsync.CollectionBalance: {
		table: "balance_entries",
		columns: []columnSpec{
			{"concepto", columnText}, {"importe", columnReal}, {"tipo", columnText}, {"fecha", columnText},
		},
	},
	craftsync.CollectionNotes: {
		table: "notes",
		columns: []columnSpec{
			{"titulo", columnText}, {"texto", columnText}, {"fecha", columnText},
		},
	},
	craftsync.CollectionSupplierOrders: {
		table: "supplier_orders",
		columns: []columnSpec{
			{"proveedor", columnText}, {"articulos", columnText}, {"importe", columnReal}, {"estado", columnText}, {"fecha", columnText},
		},
	},
	craftsync.CollectionProductionHistory: {
		table: "production_records",
		columns: []columnSpec{
			{"producto", columnText}, {"cantidad", columnReal}, {"lote", columnText}, {"fecha", columnText},
		},
	},
	craftsync.CollectionUnits: {
		table: "units_of_measure",
		columns: []columnSpec{
			{"nombre", columnText}, {"abreviatura", columnText}, {"factor", columnReal},
		},
	},
}

func specFor(c craftsync.Collection) (tableSpec, error) {
	spec, ok := tableSpecs[c]
	if !ok {
		return tableSpec{}, fmt.Errorf("%w: unknown collection %s", craftsync.ErrInvalidInput, c)
	}
	return spec, nil
}

func (t tableSpec) columnNames() []string {
	names := make([]string, len(t.columns))
	for i, col := range t.columns {
		names[i] = col.name
	}
	return names
}

func (t tableSpec) values(doc craftsync.Document) []any {
	values := make([]any, len(t.columns))
	for i, col := range t.columns {
		switch col.kind {
		case columnReal:
			values[i] = docFloat(doc, col.name)
		default:
			values[i] = docString(doc, col.name)
		}
	}
	return values
}

// scanDocument scans one row via the provided scan function into a document
// keyed by wire field names.
func (t tableSpec) scanDocument(scan func(dest ...any) error) (craftsync.Document, error) {
	var id int64
	holders := make([]any, len(t.columns))
	targets := make([]any, 0, len(t.columns)+1)
	targets = append(targets, &id)
	for i, col := range t.columns {
		switch col.kind {
		case columnReal:
			holders[i] = new(float64)
		default:
			holders[i] = new(string)
		}
		targets = append(targets, holders[i])
	}
	if err := scan(targets...); err != nil {
		return nil, err
	}
	doc := craftsync.Document{craftsync.FieldID: id}
	for i, col := range t.columns {
		switch v := holders[i].(type) {
		case *float64:
			doc[col.name] = *v
		case *string:
			doc[col.name] = *v
		}
	}
	return doc, nil
}

// ListDocuments returns every row of the collection as documents ordered by
// id.
func (s *Store) ListDocuments(c craftsync.Collection) ([]craftsync.Document, error) {
	spec, err := specFor(c)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT id, %s FROM %s ORDER BY id",
		strings.Join(spec.columnNames(), ", "), spec.table)
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]craftsync.Document, 0)
	for rows.Next() {
		doc, err := spec.scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) GetDocument(c craftsync.Collection, id int64) (craftsync.Document, error) {
	spec, err := specFor(c)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT id, %s FROM %s WHERE id = ?",
		strings.Join(spec.columnNames(), ", "), spec.table)
	row := s.db.QueryRow(query, id)
	doc, err := spec.scanDocument(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%d", craftsync.ErrNotFound, c, id)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// InsertDocument inserts a row and returns its id. A positive id in the
// document is honored so synced and migrated rows keep their identity.
func (s *Store) InsertDocument(c craftsync.Collection, doc craftsync.Document) (int64, error) {
	spec, err := specFor(c)
	if err != nil {
		return 0, err
	}
	return insertDocumentTx(s.db, spec, doc)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertDocumentTx(ex execer, spec tableSpec, doc craftsync.Document) (int64, error) {
	names := spec.columnNames()
	values := spec.values(doc)
	placeholders := make([]string, len(names))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	if id := doc.ID(); id > 0 {
		query := fmt.Sprintf("INSERT INTO %s (id, %s) VALUES (?, %s)",
			spec.table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
		if _, err := ex.Exec(query, append([]any{id}, values...)...); err != nil {
			return 0, err
		}
		return id, nil
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		spec.table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	result, err := ex.Exec(query, values...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) UpdateDocument(c craftsync.Collection, doc craftsync.Document) error {
	spec, err := specFor(c)
	if err != nil {
		return err
	}
	id := doc.ID()
	if id <= 0 {
		return craftsync.ErrInvalidInput
	}
	names := spec.columnNames()
	assignments := make([]string, len(names))
	for i, name := range names {
		assignments[i] = name + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", spec.table, strings.Join(assignments, ", "))
	result, err := s.db.Exec(query, append(spec.values(doc), id)...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%d", craftsync.ErrNotFound, c, id)
	}
	return nil
}

func (s *Store) DeleteDocument(c craftsync.Collection, id int64) error {
	spec, err := specFor(c)
	if err != nil {
		return err
	}
	result, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", spec.table), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%d", craftsync.ErrNotFound, c, id)
	}
	return nil
}

// ReplaceCollection swaps the collection's full contents in one transaction.
// Used by sync-down, where the remote listing is the new truth.
func (s *Store) ReplaceCollection(c craftsync.Collection, docs []craftsync.Document) error {
	spec, err := specFor(c)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", spec.table)); err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.ID() <= 0 {
			continue
		}
		if _, err := insertDocumentTx(tx, spec, doc); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func docString(d craftsync.Document, key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

func docFloat(d craftsync.Document, key string) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
