package schema

import (
	"time"

	"github.com/adapt-security/adapt-authoring-api/db"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StringifyValues deep-clones data, converting object ids and timestamps to
// their string forms so documents serialize the same way regardless of which
// store produced them.
func StringifyValues(data any) any {
	switch t := data.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case db.Document:
		return stringifyMap(t)
	case map[string]any:
		return stringifyMap(t)
	case db.DocumentList:
		out := make(db.DocumentList, 0, len(t))
		for _, doc := range t {
			out = append(out, stringifyMap(doc))
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, v := range t {
			out = append(out, StringifyValues(v))
		}
		return out
	default:
		return data
	}
}

func stringifyMap(m map[string]any) db.Document {
	out := make(db.Document, len(m))
	for k, v := range m {
		out[k] = StringifyValues(v)
	}
	return out
}
