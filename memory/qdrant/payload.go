package qdrant

import (
	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/qdrant/go-client/qdrant"
)

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intValue(n int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: n}}
}

func stringListValue(items []string) *qdrant.Value {
	values := make([]*qdrant.Value, len(items))
	for i, it := range items {
		values[i] = stringValue(it)
	}
	return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
}

func buildPayload(r memory.Record, insertedAt int64) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		fieldOwner:      stringValue(r.OwnerID),
		fieldText:       stringValue(r.Text),
		fieldCategories: stringListValue(r.Categories),
		fieldCreatedAt:  stringValue(r.CreatedAt),
		fieldInsertedAt: intValue(insertedAt),
	}
}

func recordFromPayload(id string, payload map[string]*qdrant.Value) memory.Record {
	var categories []string
	for _, v := range payload[fieldCategories].GetListValue().GetValues() {
		categories = append(categories, v.GetStringValue())
	}
	return memory.Record{
		PointID:    id,
		OwnerID:    payload[fieldOwner].GetStringValue(),
		Text:       payload[fieldText].GetStringValue(),
		Categories: categories,
		CreatedAt:  payload[fieldCreatedAt].GetStringValue(),
	}
}

// buildFilter always scopes to the owner. Non-empty categories add a
// "match any" condition.
func buildFilter(ownerID string, categories []string) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch(fieldOwner, ownerID)}
	if len(categories) > 0 {
		must = append(must, qdrant.NewMatchKeywords(fieldCategories, categories...))
	}
	return &qdrant.Filter{Must: must}
}
