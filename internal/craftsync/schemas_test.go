package craftsync

import "testing"

func TestValidateDocumentAcceptsWellFormed(t *testing.T) {
	doc := Document{
		"id":           "12",
		"nombre":       "Cera de abeja",
		"coste":        4.5,
		"stock":        2.0,
		"unidad":       "kg",
		"lastModified": "2026-02-10T12:00:00Z",
		"createdBy":    "maria@taller.test",
	}
	if err := ValidateDocument(CollectionIngredients, doc); err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}
}

func TestValidateDocumentAcceptsMissingFields(t *testing.T) {
	// No field is required; readers default per field.
	if err := ValidateDocument(CollectionSales, Document{}); err != nil {
		t.Fatalf("expected empty document to validate, got %v", err)
	}
}

func TestValidateDocumentRejectsWrongTypes(t *testing.T) {
	if err := ValidateDocument(CollectionIngredients, Document{"nombre": 41.5}); err == nil {
		t.Fatalf("expected type error for numeric nombre")
	}
	if err := ValidateDocument(CollectionSales, Document{"cantidad": "tres"}); err == nil {
		t.Fatalf("expected type error for string cantidad")
	}
}

func TestValidateDocumentUnknownCollection(t *testing.T) {
	if err := ValidateDocument(Collection("labels"), Document{"anything": true}); err != nil {
		t.Fatalf("unknown collections must validate, got %v", err)
	}
}

func TestValidateDocumentEveryCollectionHasSchema(t *testing.T) {
	for _, c := range Collections() {
		if _, ok := collectionSchemas[c]; !ok {
			t.Fatalf("missing schema for collection %s", c)
		}
	}
}
