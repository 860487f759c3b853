package craftsync

// The nine syncable record kinds. Wire field names keep the original
// application's Spanish JSON keys; sync metadata (lastModified, createdBy)
// is stamped separately by the orchestrator.

type Ingredient struct {
	ID    int64   `json:"id"`
	Name  string  `json:"nombre"`
	Cost  float64 `json:"coste"`
	Stock float64 `json:"stock"`
	Unit  string  `json:"unidad"`
}

func (i Ingredient) Document() Document {
	return Document{
		FieldID:  i.ID,
		"nombre": i.Name,
		"coste":  i.Cost,
		"stock":  i.Stock,
		"unidad": i.Unit,
	}
}

func IngredientFromDocument(d Document) Ingredient {
	return Ingredient{
		ID:    d.ID(),
		Name:  asString(d, "nombre"),
		Cost:  asFloat(d, "coste"),
		Stock: asFloat(d, "stock"),
		Unit:  asString(d, "unidad"),
	}
}

type Formula struct {
	ID          int64   `json:"id"`
	Name        string  `json:"nombre"`
	Ingredients string  `json:"ingredientes"`
	Notes       string  `json:"notas"`
	Yield       float64 `json:"rendimiento"`
}

func (f Formula) Document() Document {
	return Document{
		FieldID:        f.ID,
		"nombre":       f.Name,
		"ingredientes": f.Ingredients,
		"notas":        f.Notes,
		"rendimiento":  f.Yield,
	}
}

func FormulaFromDocument(d Document) Formula {
	return Formula{
		ID:          d.ID(),
		Name:        asString(d, "nombre"),
		Ingredients: asString(d, "ingredientes"),
		Notes:       asString(d, "notas"),
		Yield:       asFloat(d, "rendimiento"),
	}
}

type InventoryItem struct {
	ID       int64   `json:"id"`
	Name     string  `json:"nombre"`
	Quantity float64 `json:"cantidad"`
	Location string  `json:"ubicacion"`
}

func (i InventoryItem) Document() Document {
	return Document{
		FieldID:     i.ID,
		"nombre":    i.Name,
		"cantidad":  i.Quantity,
		"ubicacion": i.Location,
	}
}

func InventoryItemFromDocument(d Document) InventoryItem {
	return InventoryItem{
		ID:       d.ID(),
		Name:     asString(d, "nombre"),
		Quantity: asFloat(d, "cantidad"),
		Location: asString(d, "ubicacion"),
	}
}

type Sale struct {
	ID       int64   `json:"id"`
	Product  string  `json:"producto"`
	Quantity float64 `json:"cantidad"`
	Amount   float64 `json:"importe"`
	Customer string  `json:"cliente"`
	Date     string  `json:"fecha"`
}

func (s Sale) Document() Document {
	return Document{
		FieldID:    s.ID,
		"producto": s.Product,
		"cantidad": s.Quantity,
		"importe":  s.Amount,
		"cliente":  s.Customer,
		"fecha":    s.Date,
	}
}

func SaleFromDocument(d Document) Sale {
	return Sale{
		ID:       d.ID(),
		Product:  asString(d, "producto"),
		Quantity: asFloat(d, "cantidad"),
		Amount:   asFloat(d, "importe"),
		Customer: asString(d, "cliente"),
		Date:     asString(d, "fecha"),
	}
}

// BalanceEntry kinds. A sale records an "ingreso"; deleting a sale records a
// compensating "gasto" instead of touching the original rows.
const (
	BalanceKindIncome  = "ingreso"
	BalanceKindExpense = "gasto"
)

type BalanceEntry struct {
	ID      int64   `json:"id"`
	Concept string  `json:"concepto"`
	Amount  float64 `json:"importe"`
	Kind    string  `json:"tipo"`
	Date    string  `json:"fecha"`
}

func (b BalanceEntry) Document() Document {
	return Document{
		FieldID:    b.ID,
		"concepto": b.Concept,
		"importe":  b.Amount,
		"tipo":     b.Kind,
		"fecha":    b.Date,
	}
}

func BalanceEntryFromDocument(d Document) BalanceEntry {
	return BalanceEntry{
		ID:      d.ID(),
		Concept: asString(d, "concepto"),
		Amount:  asFloat(d, "importe"),
		Kind:    asString(d, "tipo"),
		Date:    asString(d, "fecha"),
	}
}

type Note struct {
	ID    int64  `json:"id"`
	Title string `json:"titulo"`
	Body  string `json:"texto"`
	Date  string `json:"fecha"`
}

func (n Note) Document() Document {
	return Document{
		FieldID:  n.ID,
		"titulo": n.Title,
		"texto":  n.Body,
		"fecha":  n.Date,
	}
}

func NoteFromDocument(d Document) Note {
	return Note{
		ID:    d.ID(),
		Title: asString(d, "titulo"),
		Body:  asString(d, "texto"),
		Date:  asString(d, "fecha"),
	}
}

type SupplierOrder struct {
	ID       int64   `json:"id"`
	Supplier string  `json:"proveedor"`
	Items    string  `json:"articulos"`
	Amount   float64 `json:"importe"`
	Status   string  `json:"estado"`
	Date     string  `json:"fecha"`
}

func (o SupplierOrder) Document() Document {
	return Document{
		FieldID:     o.ID,
		"proveedor": o.Supplier,
		"articulos": o.Items,
		"importe":   o.Amount,
		"estado":    o.Status,
		"fecha":     o.Date,
	}
}

func SupplierOrderFromDocument(d Document) SupplierOrder {
	return SupplierOrder{
		ID:       d.ID(),
		Supplier: asString(d, "proveedor"),
		Items:    asString(d, "articulos"),
		Amount:   asFloat(d, "importe"),
		Status:   asString(d, "estado"),
		Date:     asString(d, "fecha"),
	}
}

type ProductionRecord struct {
	ID       int64   `json:"id"`
	Product  string  `json:"producto"`
	Quantity float64 `json:"cantidad"`
	Batch    string  `json:"lote"`
	Date     string  `json:"fecha"`
}

func (p ProductionRecord) Document() Document {
	return Document{
		FieldID:    p.ID,
		"producto": p.Product,
		"cantidad": p.Quantity,
		"lote":     p.Batch,
		"fecha":    p.Date,
	}
}

func ProductionRecordFromDocument(d Document) ProductionRecord {
	return ProductionRecord{
		ID:       d.ID(),
		Product:  asString(d, "producto"),
		Quantity: asFloat(d, "cantidad"),
		Batch:    asString(d, "lote"),
		Date:     asString(d, "fecha"),
	}
}

type UnitOfMeasure struct {
	ID     int64   `json:"id"`
	Name   string  `json:"nombre"`
	Abbrev string  `json:"abreviatura"`
	Factor float64 `json:"factor"`
}

func (u UnitOfMeasure) Document() Document {
	return Document{
		FieldID:       u.ID,
		"nombre":      u.Name,
		"abreviatura": u.Abbrev,
		"factor":      u.Factor,
	}
}

func UnitOfMeasureFromDocument(d Document) UnitOfMeasure {
	return UnitOfMeasure{
		ID:     d.ID(),
		Name:   asString(d, "nombre"),
		Abbrev: asString(d, "abreviatura"),
		Factor: asFloat(d, "factor"),
	}
}

// StockSnapshot is the derived available quantity of a finished product:
// cumulative production minus cumulative sales. It is recomputed on every
// read and never persisted.
type StockSnapshot struct {
	ProductName string  `json:"producto"`
	Stock       float64 `json:"stock"`
}
