package craftsync

import "testing"

func TestWorkspaceAndLegacyPaths(t *testing.T) {
	if got := WorkspacePath("ws_1", CollectionSupplierOrders); got != "workspaces/ws_1/supplierOrders" {
		t.Fatalf("unexpected workspace path %q", got)
	}
	if got := LegacyPath("u_1", CollectionBalance); got != "users/u_1/balance" {
		t.Fatalf("unexpected legacy path %q", got)
	}
}

func TestDocumentCloneIsDeep(t *testing.T) {
	original := Document{"nombre": "Cera", "tags": []any{"a"}}
	clone := original.Clone()
	clone["nombre"] = "Sosa"
	clone["tags"].([]any)[0] = "b"
	if asString(original, "nombre") != "Cera" {
		t.Fatalf("clone mutated the original scalar")
	}
	if original["tags"].([]any)[0] != "a" {
		t.Fatalf("clone mutated the original slice")
	}
}

func TestDocumentIDReadsAnyNumericEncoding(t *testing.T) {
	cases := []struct {
		value any
		want  int64
	}{
		{int64(7), 7},
		{7, 7},
		{7.0, 7},
		{"7", 7},
		{" 7 ", 7},
		{"siete", 0},
		{nil, 0},
	}
	for _, tc := range cases {
		doc := Document{FieldID: tc.value}
		if got := doc.ID(); got != tc.want {
			t.Fatalf("id %v: expected %d, got %d", tc.value, tc.want, got)
		}
	}
	if got := (Document{}).ID(); got != 0 {
		t.Fatalf("expected 0 for missing id, got %d", got)
	}
}

func TestEntityDocumentRoundTrip(t *testing.T) {
	sale := Sale{ID: 3, Product: "Jabón", Quantity: 2, Amount: 18, Customer: "Ana", Date: "2026-02-10"}
	doc := sale.Document()
	if asString(doc, "producto") != "Jabón" || asFloat(doc, "importe") != 18 {
		t.Fatalf("unexpected sale document %v", doc)
	}
	back := SaleFromDocument(doc)
	if back != sale {
		t.Fatalf("round trip changed sale: %+v != %+v", back, sale)
	}
}
