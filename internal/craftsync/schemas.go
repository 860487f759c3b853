package craftsync

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Per-collection document schemas. No field is required: presence is optional
// on the wire and readers default per field. A present field with the wrong
// type makes the document undecodable and it is skipped during a scan.

const (
	schemaMetaProps = `
		"id": {"type": ["integer", "number", "string"]},
		"lastModified": {"type": "string"},
		"createdBy": {"type": "string"},
		"migratedAt": {"type": "string"},
		"originalId": {"type": ["integer", "number", "string"]}`
)

var collectionSchemas = map[Collection]string{
	CollectionIngredients: `{
		"type": "object",
		"properties": {` + schemaMetaProps + `,
			"nombre": {"type": "string"},
			"coste": {"type": "number"},
			"stock": {"type": "number"},
			"unidad": {"type": "string"}
		}
	}`,
	CollectionFormulas: `{
		"type": "object",
		"properties": {` + schemaMetaProps + `,
			"nombre": {"type": "string"},
			"ingredientes": {"type": "string"},
			"notas": {"type": "string"},
			"rendimiento": {"type": "number"}
		}
	}`,
	CollectionInventory: `{
		"type": "object",
		"properties": {` + schemaMetaProps + `,
			"nombre": {"type": "string"},
			"cantidad": {"type": "number"},
			"ubicacion": {"type": "string"}
		}
	}`,
	CollectionSales: `{
		"type": "object",
		"properties": {` + schemaMetaProps + `,
			"producto": {"type": "string"},
			"cantidad": {"type": "number"},
			"importe": {"type": "number"},
			"cliente": {"type": "string"},
			"fecha": {"type": "string"}
		}
	}`,
	CollectionBalance: `{
		"type": "object",
		"properties": {` + schemaMetaProps + `,
			"concepto": {"type": "string"},
			"importe": {"type": "number"},
			"tipo": {"type": "string"},
			"fecha": {"type": "string"}
		}
	}`,
	CollectionNotes: `{
		"type": "object",
		"properties": {` + schemaMetaProps + `,
			"titulo": {"type": "string"},
			"texto": {"type": "string"},
			"fecha": {"type": "string"}
		}
	}`,
	CollectionSupplierOrders: `{
		"type": "object",
		"properties": {` + schemaMetaProps + `,
			"proveedor": {"type": "string"},
			"articulos": {"type": "string"},
			"importe": {"type": "number"},
			"estado": {"type": "string"},
			"fecha": {"type": "string"}
		}
	}`,
	CollectionProductionHistory: `{
		"type": "object",
		"properties": {` + schemaMetaProps + `,
			"producto": {"type": "string"},
			"cantidad": {"type": "number"},
			"lote": {"type": "string"},
			"fecha": {"type": "string"}
		}
	}`,
	CollectionUnits: `{
		"type": "object",
		"properties": {` + schemaMetaProps + `,
			"nombre": {"type": "string"},
			"abreviatura": {"type": "string"},
			"factor": {"type": "number"}
		}
	}`,
}

var (
	schemaOnce     sync.Once
	schemaCompiled map[Collection]*jsonschema.Schema
	schemaCompile  error
)

func compiledSchemas() (map[Collection]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiled := make(map[Collection]*jsonschema.Schema, len(collectionSchemas))
		for collection, raw := range collectionSchemas {
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
			if err != nil {
				schemaCompile = fmt.Errorf("schema for %s: %w", collection, err)
				return
			}
			url := "craftsync://schemas/" + string(collection) + ".json"
			if err := compiler.AddResource(url, doc); err != nil {
				schemaCompile = fmt.Errorf("schema for %s: %w", collection, err)
				return
			}
			schema, err := compiler.Compile(url)
			if err != nil {
				schemaCompile = fmt.Errorf("schema for %s: %w", collection, err)
				return
			}
			compiled[collection] = schema
		}
		schemaCompiled = compiled
	})
	return schemaCompiled, schemaCompile
}

// ValidateDocument checks a remote document against the collection's schema.
// Unknown collections validate as-is, so new collections can sync before this
// binary learns their shape.
func ValidateDocument(c Collection, doc Document) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[c]
	if !ok {
		return nil
	}
	return schema.Validate(map[string]any(doc.Clone()))
}
