package craftsync

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// StockService answers stock questions and applies the guarded sale flow.
// Stock is never stored: it is recomputed on every read as total produced
// minus total sold, so there is no counter to drift. Negative values are
// reported as-is since production history may be incomplete.
type StockService struct {
	local  LocalStore
	outbox *Outbox
	log    zerolog.Logger

	mu       sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
}

func NewStockService(local LocalStore, outbox *Outbox, logger zerolog.Logger) *StockService {
	return &StockService{
		local:    local,
		outbox:   outbox,
		log:      logger,
		watchers: map[int]chan struct{}{},
	}
}

// Stock returns produced minus sold for one product.
func (s *StockService) Stock(product string) (float64, error) {
	if product == "" {
		return 0, ErrInvalidInput
	}
	produced, err := s.local.SumProduced(product)
	if err != nil {
		return 0, err
	}
	sold, err := s.local.SumSold(product)
	if err != nil {
		return 0, err
	}
	return produced - sold, nil
}

// StockProducts returns the current stock of every product that appears in
// production history, sorted by product name.
func (s *StockService) StockProducts() ([]StockSnapshot, error) {
	products, err := s.local.ProducedProducts()
	if err != nil {
		return nil, err
	}
	snapshots := make([]StockSnapshot, 0, len(products))
	for _, product := range products {
		stock, err := s.Stock(product)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, StockSnapshot{ProductName: product, Stock: stock})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ProductName < snapshots[j].ProductName
	})
	return snapshots, nil
}

// RecordSale checks availability, then commits the sale together with its
// income entry in one local transaction. The store rechecks stock inside the
// transaction, so two concurrent sales cannot both pass the same guard. Only
// after the local commit are the remote uploads queued.
func (s *StockService) RecordSale(sale Sale) (Sale, BalanceEntry, error) {
	if sale.Product == "" || sale.Quantity <= 0 {
		return Sale{}, BalanceEntry{}, ErrInvalidInput
	}
	available, err := s.Stock(sale.Product)
	if err != nil {
		return Sale{}, BalanceEntry{}, err
	}
	if sale.Quantity > available {
		return Sale{}, BalanceEntry{}, &InsufficientStockError{
			Product:   sale.Product,
			Requested: sale.Quantity,
			Available: available,
		}
	}
	inserted, entry, err := s.local.InsertSaleGuarded(sale)
	if err != nil {
		return Sale{}, BalanceEntry{}, err
	}
	if s.outbox != nil {
		_ = s.outbox.PublishEntity(CollectionSales, inserted.ID)
		_ = s.outbox.PublishEntity(CollectionBalance, entry.ID)
	}
	s.log.Info().Str("product", inserted.Product).Float64("quantity", inserted.Quantity).
		Int64("sale", inserted.ID).Msg("sale recorded")
	s.notify()
	return inserted, entry, nil
}

// DeleteSale removes a sale and books a compensating expense entry so the
// balance history still adds up. The sale's remote copy is deleted; the
// reversal entry is uploaded like any other mutation.
func (s *StockService) DeleteSale(saleID int64) (Sale, BalanceEntry, error) {
	if saleID <= 0 {
		return Sale{}, BalanceEntry{}, ErrInvalidInput
	}
	deleted, reversal, err := s.local.DeleteSaleWithReversal(saleID)
	if err != nil {
		return Sale{}, BalanceEntry{}, err
	}
	if s.outbox != nil {
		_ = s.outbox.Publish(OutboxOpDelete, CollectionSales, formatDocID(deleted.ID))
		_ = s.outbox.PublishEntity(CollectionBalance, reversal.ID)
	}
	s.log.Info().Str("product", deleted.Product).Int64("sale", deleted.ID).Msg("sale deleted with reversal")
	s.notify()
	return deleted, reversal, nil
}

// Watch returns a channel that receives a signal after every stock-affecting
// mutation. The channel is closed when cancel is called.
func (s *StockService) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		if existing, ok := s.watchers[id]; ok {
			close(existing)
			delete(s.watchers, id)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *StockService) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
