package runtimescope

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// TagField is the document field carrying the runtime partition tag.
const TagField = "runtime_tag"

// Scope identifies the runtime partition this process reads and writes.
// It is resolved once at startup and never changes for the process
// lifetime.
type Scope struct {
	// Tag is the partition tag stamped on every scoped write,
	// e.g. "prod", "prod-p2", "beta".
	Tag string
	// ProdFamily reports whether this partition also sees legacy
	// records that predate tagging (missing, null or empty tag).
	ProdFamily bool
}

// ResolveBetaTag normalizes a raw beta indicator. Empty, "false" and
// whitespace mean no beta; "true" maps to the literal tag "beta"; any
// other value is used verbatim.
func ResolveBetaTag(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	switch strings.ToLower(value) {
	case "false":
		return ""
	case "true":
		return "beta"
	}
	return value
}

// Resolve computes the process scope from deployment settings. A beta
// tag wins over everything; otherwise the tag is "prod", suffixed with
// the instance name for secondary production deployments.
func Resolve(instance, betaRaw string) Scope {
	if tag := ResolveBetaTag(betaRaw); tag != "" {
		return Scope{Tag: tag, ProdFamily: isProdFamilyTag(tag)}
	}
	tag := "prod"
	if inst := strings.TrimSpace(instance); inst != "" {
		tag = "prod-" + inst
	}
	return Scope{Tag: tag, ProdFamily: true}
}

func isProdFamilyTag(tag string) bool {
	return tag == "prod" || strings.HasPrefix(tag, "prod-")
}

// BuildFilter returns the match filter for this scope. Production
// family partitions also match legacy records with a missing, null or
// empty tag; everything else matches the tag exactly.
func (s Scope) BuildFilter() bson.M {
	if !s.ProdFamily {
		return bson.M{TagField: s.Tag}
	}
	return bson.M{
		"$or": bson.A{
			bson.M{TagField: s.Tag},
			bson.M{TagField: bson.M{"$exists": false}},
			bson.M{TagField: nil},
			bson.M{TagField: ""},
		},
	}
}

// StrictFilter always matches the tag exactly, regardless of family.
func (s Scope) StrictFilter() bson.M {
	return bson.M{TagField: s.Tag}
}

// MergeFilter combines a caller query with the scope filter. An empty
// query collapses to the scope filter alone; anything else is joined
// with $and so caller-level $or clauses stay intact.
func (s Scope) MergeFilter(query bson.M) bson.M {
	runtimeFilter := s.BuildFilter()
	if len(query) == 0 {
		return runtimeFilter
	}
	return bson.M{"$and": bson.A{query, runtimeFilter}}
}

// FilterExpression returns the aggregation-expression form of the
// scope filter for use inside $expr, with fieldExpr naming the tag
// path (e.g. "$runtime_tag"). $ifNull folds a missing field into null
// so legacy records match in the production family.
func (s Scope) FilterExpression(fieldExpr string) bson.M {
	if !s.ProdFamily {
		return bson.M{"$eq": bson.A{fieldExpr, s.Tag}}
	}
	return bson.M{
		"$in": bson.A{
			bson.M{"$ifNull": bson.A{fieldExpr, nil}},
			bson.A{s.Tag, nil, ""},
		},
	}
}

// RecordMatches reports whether an already-fetched document belongs to
// this scope. Used when a caller holds a raw document and needs the
// same visibility rule the filters enforce.
func (s Scope) RecordMatches(record bson.M) bool {
	if record == nil {
		return false
	}
	value, ok := record[TagField]
	if !ok || value == nil {
		return s.ProdFamily
	}
	str, isString := value.(string)
	if !isString {
		return false
	}
	str = strings.TrimSpace(str)
	if str == "" {
		return s.ProdFamily
	}
	return str == s.Tag
}
