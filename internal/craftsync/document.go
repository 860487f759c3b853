package craftsync

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Document is the remote store's native encoding: a flat JSON object.
// Field presence is optional; readers must default per field.
type Document map[string]any

// Collection names one of the nine syncable record kinds. The value is the
// remote path segment under workspaces/{id}/.
type Collection string

const (
	CollectionIngredients       Collection = "ingredients"
	CollectionFormulas          Collection = "formulas"
	CollectionInventory         Collection = "inventory"
	CollectionSales             Collection = "sales"
	CollectionBalance           Collection = "balance"
	CollectionNotes             Collection = "notes"
	CollectionSupplierOrders    Collection = "supplierOrders"
	CollectionProductionHistory Collection = "productionHistory"
	CollectionUnits             Collection = "unitsOfMeasure"
)

// Sync metadata stamped onto every uploaded document.
const (
	FieldID           = "id"
	FieldLastModified = "lastModified"
	FieldCreatedBy    = "createdBy"
	FieldMigratedAt   = "migratedAt"
	FieldOriginalID   = "originalId"
)

const (
	workspacesRoot = "workspaces"
	usersRoot      = "users"
)

// Collections returns all nine syncable collections in stable order.
func Collections() []Collection {
	return []Collection{
		CollectionIngredients,
		CollectionFormulas,
		CollectionInventory,
		CollectionSales,
		CollectionBalance,
		CollectionNotes,
		CollectionSupplierOrders,
		CollectionProductionHistory,
		CollectionUnits,
	}
}

// LegacyCollections returns the six collections that existed in the deprecated
// per-user namespace, in migration order.
func LegacyCollections() []Collection {
	return []Collection{
		CollectionIngredients,
		CollectionFormulas,
		CollectionSales,
		CollectionBalance,
		CollectionNotes,
		CollectionSupplierOrders,
	}
}

// WorkspacePath returns the remote collection path for a workspace collection,
// workspaces/{id}/{collection}.
func WorkspacePath(workspaceID string, c Collection) string {
	return workspacesRoot + "/" + workspaceID + "/" + string(c)
}

// LegacyPath returns the deprecated per-user collection path,
// users/{userId}/{collection}.
func LegacyPath(userID string, c Collection) string {
	return usersRoot + "/" + userID + "/" + string(c)
}

func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return Document{}
	}
	var clone Document
	if err := json.Unmarshal(data, &clone); err != nil {
		return Document{}
	}
	return clone
}

// ID returns the document's local entity identity, or 0 when absent or
// malformed.
func (d Document) ID() int64 {
	return asInt64(d, FieldID)
}

// formatDocID renders a local row id as its remote document key.
func formatDocID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func asString(d Document, key string) string {
	value, ok := d[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func asFloat(d Document, key string) float64 {
	value, ok := d[key]
	if !ok || value == nil {
		return 0.0
	}
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0.0
		}
		return f
	default:
		return 0.0
	}
}

func asInt64(d Document, key string) int64 {
	value, ok := d[key]
	if !ok || value == nil {
		return 0
	}
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0
		}
		return i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

func asStringSlice(d Document, key string) []string {
	value, ok := d[key]
	if !ok || value == nil {
		return nil
	}
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
