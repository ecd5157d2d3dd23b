package scopedb

import (
	"voicedesk/internal/runtimescope"

	"go.mongodb.org/mongo-driver/bson"
)

// rewriteStage returns the stage with any $lookup into a scoped
// collection rewritten so the runtime filter applies inside the join.
// Other stages pass through unchanged.
func rewriteStage(scope runtimescope.Scope, stage bson.M) bson.M {
	lookupRaw, ok := stage["$lookup"]
	if !ok {
		return stage
	}
	lookup, ok := lookupRaw.(bson.M)
	if !ok {
		return stage
	}
	return bson.M{"$lookup": rewriteLookup(scope, lookup)}
}

func rewriteLookup(scope runtimescope.Scope, lookup bson.M) bson.M {
	from, _ := lookup["from"].(string)
	if !runtimescope.IsScopedCollection(from) {
		return lookup
	}

	runtimeMatch := bson.M{"$match": bson.M{
		"$expr": scope.FilterExpression("$" + runtimescope.TagField),
	}}

	// An explicit sub-pipeline just gains the runtime match up front.
	if sub, ok := lookupPipeline(lookup); ok {
		out := copyLookup(lookup)
		out["pipeline"] = append([]bson.M{runtimeMatch}, sub...)
		return out
	}

	localField, localOK := lookup["localField"].(string)
	foreignField, foreignOK := lookup["foreignField"].(string)

	// localField/foreignField shorthand becomes an explicit
	// sub-pipeline. The $or keeps both scalar equality and
	// array-membership semantics of the shorthand form.
	if localOK && foreignOK {
		localVar := "runtime_lookup_local"
		as, _ := lookup["as"].(string)
		if as == "" {
			as = "lookup"
		}
		return bson.M{
			"from": from,
			"let":  bson.M{localVar: "$" + localField},
			"pipeline": []bson.M{
				runtimeMatch,
				{"$match": bson.M{"$expr": bson.M{
					"$or": bson.A{
						bson.M{"$eq": bson.A{"$$" + localVar, "$" + foreignField}},
						bson.M{"$and": bson.A{
							bson.M{"$isArray": "$$" + localVar},
							bson.M{"$in": bson.A{"$" + foreignField, "$$" + localVar}},
						}},
					},
				}}},
			},
			"as": as,
		}
	}

	out := copyLookup(lookup)
	out["pipeline"] = []bson.M{runtimeMatch}
	return out
}

func lookupPipeline(lookup bson.M) ([]bson.M, bool) {
	raw, ok := lookup["pipeline"]
	if !ok {
		return nil, false
	}
	switch sub := raw.(type) {
	case []bson.M:
		return sub, true
	case bson.A:
		out := make([]bson.M, 0, len(sub))
		for _, stage := range sub {
			m, ok := stage.(bson.M)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}
	return nil, false
}

func copyLookup(lookup bson.M) bson.M {
	out := make(bson.M, len(lookup))
	for k, v := range lookup {
		out[k] = v
	}
	return out
}

// patchSetOnInsert guarantees upserted documents are born with the
// runtime tag. A caller-provided runtime_tag in $set or $setOnInsert
// wins; aggregation-pipeline updates pass through unchanged.
func patchSetOnInsert(scope runtimescope.Scope, update interface{}) interface{} {
	doc, ok := update.(bson.M)
	if !ok {
		return update
	}

	if hasKey(doc, "$set", runtimescope.TagField) || hasKey(doc, "$setOnInsert", runtimescope.TagField) {
		return doc
	}

	out := make(bson.M, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	setOnInsert := bson.M{}
	if existing, ok := doc["$setOnInsert"].(bson.M); ok {
		for k, v := range existing {
			setOnInsert[k] = v
		}
	}
	setOnInsert[runtimescope.TagField] = scope.Tag
	out["$setOnInsert"] = setOnInsert
	return out
}

func hasKey(update bson.M, operator, field string) bool {
	section, ok := update[operator].(bson.M)
	if !ok {
		return false
	}
	_, ok = section[field]
	return ok
}

// stampDocument ensures an inserted or replacing document carries the
// runtime tag. Structs are passed through bson marshalling so the
// stamp lands regardless of the document's Go type; an empty or null
// tag counts as absent so no write creates new legacy records.
func stampDocument(scope runtimescope.Scope, doc interface{}) interface{} {
	m, ok := doc.(bson.M)
	if !ok {
		raw, err := bson.Marshal(doc)
		if err != nil {
			return doc
		}
		var decoded bson.M
		if err := bson.Unmarshal(raw, &decoded); err != nil {
			return doc
		}
		m = decoded
		if tagIsSet(m) {
			return doc
		}
		m[runtimescope.TagField] = scope.Tag
		return m
	}

	if tagIsSet(m) {
		return m
	}
	out := make(bson.M, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[runtimescope.TagField] = scope.Tag
	return out
}

func tagIsSet(m bson.M) bool {
	v, ok := m[runtimescope.TagField]
	if !ok || v == nil {
		return false
	}
	s, isString := v.(string)
	if isString && s == "" {
		return false
	}
	return true
}
