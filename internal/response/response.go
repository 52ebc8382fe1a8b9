// Package response renders engine results as ActiveModel or JSON-API
// documents.
package response

import (
	"fmt"

	"github.com/jinzhu/inflection"

	"restkit/internal/engine"
)

const (
	FormatActiveModel = "activemodel"
	FormatJSONAPI     = "jsonapi"
)

// New returns the formatter for a configured format name.
func New(format string) (engine.Formatter, error) {
	switch format {
	case "", FormatActiveModel:
		return ActiveModel{}, nil
	case FormatJSONAPI:
		return JSONAPI{}, nil
	}
	return nil, fmt.Errorf("unknown response format %q", format)
}

// ActiveModel writes records under their plural type (singular for a single
// record) with to-many linkage written as <relation>_ids fields and related
// records sideloaded at the top level. To-one linkage is the stored foreign
// key column and is left as read.
type ActiveModel struct{}

func (ActiveModel) ContentType() string { return "application/json" }

func (ActiveModel) Format(res *engine.Result) (any, error) {
	doc := make(map[string]any)

	primary := make([]engine.Record, 0, len(res.Records))
	seen := make(map[string]bool, len(res.Records))
	for _, rec := range res.Records {
		primary = append(primary, withLinkFields(rec))
		seen[fmt.Sprint(rec.ID)] = true
	}

	for _, typ := range res.IncludedTypes() {
		var out []engine.Record
		for _, rec := range res.Included(typ) {
			if typ == res.Resource && !res.Single {
				if seen[fmt.Sprint(rec.ID)] {
					continue
				}
				primary = append(primary, withLinkFields(rec))
				continue
			}
			out = append(out, withLinkFields(rec))
		}
		if len(out) > 0 {
			doc[typ] = out
		}
	}

	if res.Single {
		if len(primary) > 0 {
			doc[inflection.Singular(res.Resource)] = primary[0]
		}
	} else {
		doc[res.Resource] = primary
	}
	if res.Meta != nil {
		doc["meta"] = res.Meta
	}
	return doc, nil
}

func withLinkFields(rec engine.Record) engine.Record {
	for _, l := range rec.Links {
		if l.Many() {
			rec = rec.With(l.IDField, l.IDs)
		}
	}
	return rec
}

// JSONAPI writes a {data, included, meta} document. Attributes exclude the
// primary key, which becomes the string id.
type JSONAPI struct{}

func (JSONAPI) ContentType() string { return "application/vnd.api+json" }

type resourceObject struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    engine.Record           `json:"attributes"`
	Relationships map[string]relationship `json:"relationships,omitempty"`
}

type relationship struct {
	Data any `json:"data"`
}

type identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (JSONAPI) Format(res *engine.Result) (any, error) {
	data := make([]resourceObject, 0, len(res.Records))
	for _, rec := range res.Records {
		data = append(data, toResourceObject(rec))
	}
	included := make([]resourceObject, 0)
	for _, typ := range res.IncludedTypes() {
		for _, rec := range res.Included(typ) {
			included = append(included, toResourceObject(rec))
		}
	}

	doc := map[string]any{"included": included}
	if res.Single {
		if len(data) > 0 {
			doc["data"] = data[0]
		} else {
			doc["data"] = nil
		}
	} else {
		doc["data"] = data
	}
	if res.Meta != nil {
		doc["meta"] = res.Meta
	}
	return doc, nil
}

func toResourceObject(rec engine.Record) resourceObject {
	obj := resourceObject{
		Type:       rec.Type,
		ID:         fmt.Sprint(rec.ID),
		Attributes: rec.Without(rec.Key),
	}
	for _, l := range rec.Links {
		if obj.Relationships == nil {
			obj.Relationships = make(map[string]relationship)
		}
		ids := make([]identifier, len(l.IDs))
		for i, id := range l.IDs {
			ids[i] = identifier{Type: l.Type, ID: fmt.Sprint(id)}
		}
		switch {
		case l.Many():
			obj.Relationships[l.Name] = relationship{Data: ids}
		case len(ids) > 0:
			obj.Relationships[l.Name] = relationship{Data: ids[0]}
		default:
			obj.Relationships[l.Name] = relationship{Data: nil}
		}
	}
	return obj
}
