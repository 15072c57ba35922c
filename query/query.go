// Package query turns raw request queries into store filters and pagination
// plans. Store-level option keys are split away from filter criteria, the
// filter is normalized against the resource schema in lax mode, and page
// math is clamped to configured bounds.
package query

import (
	"context"
	"encoding/json"

	"github.com/adapt-security/adapt-authoring-api/db"
	"github.com/adapt-security/adapt-authoring-api/schema"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
)

// Options are the store-level knobs extracted from a raw query, before
// pagination resolves them into effective limit/skip values.
type Options struct {
	Sort      map[string]int
	Collation *db.Collation
	Limit     *int
	Skip      *int
	Page      *int
}

// ExtractOptions splits a raw query into filter criteria and store options.
// Option values may arrive as JSON strings (query string parameters) or as
// already-decoded values (request bodies); both are accepted. A value that
// cannot be decoded is logged and dropped rather than failing the request.
// The input map is never mutated.
func ExtractOptions(raw db.Document) (db.Document, *Options) {
	opts := &Options{}
	filter := db.Document{}
	for key, val := range raw {
		var err error
		switch key {
		case "sort":
			err = decodeValue(val, &opts.Sort)
		case "collation":
			err = decodeValue(val, &opts.Collation)
		case "limit":
			opts.Limit, err = decodeInt(val)
		case "skip":
			opts.Skip, err = decodeInt(val)
		case "page":
			opts.Page, err = decodeInt(val)
		default:
			filter[key] = val
			continue
		}
		if err != nil {
			grip.Warning(message.WrapError(err, message.Fields{
				"message": "dropping undecodable query option",
				"key":     key,
				"value":   val,
			}))
		}
	}
	return filter, opts
}

// Parse extracts store options and normalizes the remaining filter against
// the named schema (lax, best-effort).
func Parse(ctx context.Context, engine schema.Engine, schemaName string, raw db.Document) (db.Document, *Options) {
	filter, opts := ExtractOptions(raw)
	filter = schema.NormalizeFilter(ctx, engine, schemaName, filter)
	return filter, opts
}

// decodeValue decodes a raw option value into out, unmarshalling strings as
// JSON and round-tripping anything else.
func decodeValue(val any, out any) error {
	var b []byte
	if s, ok := val.(string); ok {
		b = []byte(s)
	} else {
		var err error
		if b, err = json.Marshal(val); err != nil {
			return err
		}
	}
	return json.Unmarshal(b, out)
}

func decodeInt(val any) (*int, error) {
	var n int
	if err := decodeValue(val, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
