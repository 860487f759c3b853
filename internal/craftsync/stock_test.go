package craftsync

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testStockService(local LocalStore) *StockService {
	return NewStockService(local, nil, zerolog.Nop())
}

func TestStockIsProducedMinusSold(t *testing.T) {
	local := newFakeLocalStore()
	local.put(CollectionProductionHistory, ProductionRecord{Product: "Jabón", Quantity: 10}.Document())
	local.put(CollectionProductionHistory, ProductionRecord{Product: "Jabón", Quantity: 5}.Document())
	local.put(CollectionSales, Sale{Product: "Jabón", Quantity: 4}.Document())

	stock, err := testStockService(local).Stock("Jabón")
	if err != nil {
		t.Fatalf("stock failed: %v", err)
	}
	if stock != 11 {
		t.Fatalf("expected stock 11, got %v", stock)
	}
}

func TestStockAllowsNegative(t *testing.T) {
	local := newFakeLocalStore()
	local.put(CollectionProductionHistory, ProductionRecord{Product: "Vela", Quantity: 1}.Document())
	// Sales inserted directly, bypassing the guard, as a remote sync would.
	local.put(CollectionSales, Sale{Product: "Vela", Quantity: 3}.Document())

	stock, err := testStockService(local).Stock("Vela")
	if err != nil {
		t.Fatalf("stock failed: %v", err)
	}
	if stock != -2 {
		t.Fatalf("expected stock -2, got %v", stock)
	}
}

func TestStockProductsSorted(t *testing.T) {
	local := newFakeLocalStore()
	local.put(CollectionProductionHistory, ProductionRecord{Product: "Vela", Quantity: 2}.Document())
	local.put(CollectionProductionHistory, ProductionRecord{Product: "Crema", Quantity: 7}.Document())

	snapshots, err := testStockService(local).StockProducts()
	if err != nil {
		t.Fatalf("stock products failed: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 products, got %d", len(snapshots))
	}
	if snapshots[0].ProductName != "Crema" || snapshots[1].ProductName != "Vela" {
		t.Fatalf("expected sorted products, got %+v", snapshots)
	}
}

func TestRecordSaleCreatesIncomeEntry(t *testing.T) {
	local := newFakeLocalStore()
	local.put(CollectionProductionHistory, ProductionRecord{Product: "Jabón", Quantity: 10}.Document())
	service := testStockService(local)

	sale, entry, err := service.RecordSale(Sale{Product: "Jabón", Quantity: 3, Amount: 27})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if sale.ID == 0 || entry.ID == 0 {
		t.Fatalf("expected assigned ids, got sale=%d entry=%d", sale.ID, entry.ID)
	}
	if entry.Kind != BalanceKindIncome || entry.Amount != 27 {
		t.Fatalf("unexpected balance entry %+v", entry)
	}

	stock, err := service.Stock("Jabón")
	if err != nil {
		t.Fatalf("stock failed: %v", err)
	}
	if stock != 7 {
		t.Fatalf("expected stock 7 after sale, got %v", stock)
	}
}

func TestRecordSaleRejectsOversell(t *testing.T) {
	local := newFakeLocalStore()
	local.put(CollectionProductionHistory, ProductionRecord{Product: "Jabón", Quantity: 2}.Document())
	service := testStockService(local)

	_, _, err := service.RecordSale(Sale{Product: "Jabón", Quantity: 5, Amount: 45})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	var detail *InsufficientStockError
	if !errors.As(err, &detail) {
		t.Fatalf("expected typed stock error, got %T", err)
	}
	if detail.Requested != 5 || detail.Available != 2 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	sales, _ := local.ListDocuments(CollectionSales)
	balance, _ := local.ListDocuments(CollectionBalance)
	if len(sales) != 0 || len(balance) != 0 {
		t.Fatalf("rejected sale must leave no rows, got %d sales %d entries", len(sales), len(balance))
	}
}

func TestRecordSaleValidatesInput(t *testing.T) {
	service := testStockService(newFakeLocalStore())
	if _, _, err := service.RecordSale(Sale{Quantity: 1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without product, got %v", err)
	}
	if _, _, err := service.RecordSale(Sale{Product: "Jabón"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for non-positive quantity, got %v", err)
	}
}

func TestDeleteSaleBooksReversal(t *testing.T) {
	local := newFakeLocalStore()
	local.put(CollectionProductionHistory, ProductionRecord{Product: "Jabón", Quantity: 10}.Document())
	service := testStockService(local)

	sale, _, err := service.RecordSale(Sale{Product: "Jabón", Quantity: 3, Amount: 27})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	deleted, reversal, err := service.DeleteSale(sale.ID)
	if err != nil {
		t.Fatalf("delete sale failed: %v", err)
	}
	if deleted.ID != sale.ID {
		t.Fatalf("expected deleted sale %d, got %d", sale.ID, deleted.ID)
	}
	if reversal.Kind != BalanceKindExpense || reversal.Amount != 27 {
		t.Fatalf("unexpected reversal %+v", reversal)
	}

	stock, err := service.Stock("Jabón")
	if err != nil {
		t.Fatalf("stock failed: %v", err)
	}
	if stock != 10 {
		t.Fatalf("expected stock restored to 10, got %v", stock)
	}

	if _, _, err := service.DeleteSale(sale.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestWatchSignalsOnMutation(t *testing.T) {
	local := newFakeLocalStore()
	local.put(CollectionProductionHistory, ProductionRecord{Product: "Jabón", Quantity: 10}.Document())
	service := testStockService(local)

	events, cancel := service.Watch()
	defer cancel()

	if _, _, err := service.RecordSale(Sale{Product: "Jabón", Quantity: 1, Amount: 9}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatalf("expected watch notification after sale")
	}
}
