package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tallerlabs/craftsync/internal/craftsync"
)

// ProducedProducts lists every product name that appears in production
// history, sorted.
func (s *Store) ProducedProducts() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT producto FROM production_records ORDER BY producto")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]string, 0)
	for rows.Next() {
		var product string
		if err := rows.Scan(&product); err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func (s *Store) SumProduced(product string) (float64, error) {
	return sumQuantity(s.db, "production_records", product)
}

func (s *Store) SumSold(product string) (float64, error) {
	return sumQuantity(s.db, "sales", product)
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func sumQuantity(q querier, table, product string) (float64, error) {
	query := fmt.Sprintf("SELECT COALESCE(SUM(cantidad), 0) FROM %s WHERE producto = ?", table)
	var total float64
	if err := q.QueryRow(query, product).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// InsertSaleGuarded commits a sale and its income entry atomically. The stock
// check runs again inside the transaction against the same snapshot the
// insert will see, so a concurrent sale that passed the caller's pre-check
// cannot oversell here.
func (s *Store) InsertSaleGuarded(sale craftsync.Sale) (craftsync.Sale, craftsync.BalanceEntry, error) {
	if sale.Product == "" || sale.Quantity <= 0 {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, craftsync.ErrInvalidInput
	}
	tx, err := s.db.Begin()
	if err != nil {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	produced, err := sumQuantity(tx, "production_records", sale.Product)
	if err != nil {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, err
	}
	sold, err := sumQuantity(tx, "sales", sale.Product)
	if err != nil {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, err
	}
	available := produced - sold
	if sale.Quantity > available {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, &craftsync.InsufficientStockError{
			Product:   sale.Product,
			Requested: sale.Quantity,
			Available: available,
		}
	}

	if sale.Date == "" {
		sale.Date = s.now().UTC().Format(time.RFC3339)
	}
	saleID, err := insertDocumentTx(tx, tableSpecs[craftsync.CollectionSales], sale.Document())
	if err != nil {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, err
	}
	sale.ID = saleID

	entry := craftsync.BalanceEntry{
		Concept: "Venta: " + sale.Product,
		Amount:  sale.Amount,
		Kind:    craftsync.BalanceKindIncome,
		Date:    sale.Date,
	}
	entryID, err := insertDocumentTx(tx, tableSpecs[craftsync.CollectionBalance], entry.Document())
	if err != nil {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, err
	}
	entry.ID = entryID

	if err := tx.Commit(); err != nil {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, err
	}
	committed = true
	return sale, entry, nil
}

// DeleteSaleWithReversal removes a sale and books a compensating expense
// entry in the same transaction. The original income entry is left alone so
// the balance history stays append-only.
func (s *Store) DeleteSaleWithReversal(saleID int64) (craftsync.Sale, craftsync.BalanceEntry, error) {
	if saleID <= 0 {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, craftsync.ErrInvalidInput
	}
	tx, err := s.db.Begin()
	if err != nil {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var sale craftsync.Sale
	row := tx.QueryRow("SELECT id, producto, cantidad, importe, cliente, fecha FROM sales WHERE id = ?", saleID)
	err = row.Scan(&sale.ID, &sale.Product, &sale.Quantity, &sale.Amount, &sale.Customer, &sale.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, fmt.Errorf("%w: sales/%d", craftsync.ErrNotFound, saleID)
	}
	if err != nil {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, err
	}

	if _, err := tx.Exec("DELETE FROM sales WHERE id = ?", saleID); err != nil {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, err
	}

	reversal := craftsync.BalanceEntry{
		Concept: "Anulación venta: " + sale.Product,
		Amount:  sale.Amount,
		Kind:    craftsync.BalanceKindExpense,
		Date:    s.now().UTC().Format(time.RFC3339),
	}
	reversalID, err := insertDocumentTx(tx, tableSpecs[craftsync.CollectionBalance], reversal.Document())
	if err != nil {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, err
	}
	reversal.ID = reversalID

	if err := tx.Commit(); err != nil {
		return craftsync.Sale{}, craftsync.BalanceEntry{}, err
	}
	committed = true
	return sale, reversal, nil
}
