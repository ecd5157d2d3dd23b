package scopedb

import (
	"reflect"
	"testing"

	"voicedesk/internal/runtimescope"

	"go.mongodb.org/mongo-driver/bson"
)

var gammaScope = runtimescope.Scope{Tag: "gamma", ProdFamily: false}

func TestRewriteStagePassthrough(t *testing.T) {
	stage := bson.M{"$match": bson.M{"a": 1}}
	if got := rewriteStage(gammaScope, stage); !reflect.DeepEqual(got, stage) {
		t.Errorf("non-lookup stage changed: %#v", got)
	}

	lookup := bson.M{"$lookup": bson.M{
		"from":         runtimescope.CollProjects,
		"localField":   "project_id",
		"foreignField": "_id",
		"as":           "project",
	}}
	if got := rewriteStage(gammaScope, lookup); !reflect.DeepEqual(got, lookup) {
		t.Errorf("lookup into shared collection changed: %#v", got)
	}
}

func TestRewriteLookupShorthand(t *testing.T) {
	stage := bson.M{"$lookup": bson.M{
		"from":         runtimescope.CollMessages,
		"localField":   "message_ids",
		"foreignField": "_id",
		"as":           "messages",
	}}

	got := rewriteStage(gammaScope, stage)
	lookup, ok := got["$lookup"].(bson.M)
	if !ok {
		t.Fatalf("rewritten stage has no $lookup: %#v", got)
	}

	if lookup["from"] != runtimescope.CollMessages {
		t.Errorf("from = %v", lookup["from"])
	}
	if lookup["as"] != "messages" {
		t.Errorf("as = %v", lookup["as"])
	}
	letVars, ok := lookup["let"].(bson.M)
	if !ok || letVars["runtime_lookup_local"] != "$message_ids" {
		t.Errorf("let = %#v", lookup["let"])
	}

	pipeline, ok := lookup["pipeline"].([]bson.M)
	if !ok || len(pipeline) != 2 {
		t.Fatalf("pipeline = %#v", lookup["pipeline"])
	}

	wantRuntime := bson.M{"$match": bson.M{"$expr": bson.M{"$eq": bson.A{"$runtime_tag", "gamma"}}}}
	if !reflect.DeepEqual(pipeline[0], wantRuntime) {
		t.Errorf("runtime match = %#v, want %#v", pipeline[0], wantRuntime)
	}

	wantJoin := bson.M{"$match": bson.M{"$expr": bson.M{
		"$or": bson.A{
			bson.M{"$eq": bson.A{"$$runtime_lookup_local", "$_id"}},
			bson.M{"$and": bson.A{
				bson.M{"$isArray": "$$runtime_lookup_local"},
				bson.M{"$in": bson.A{"$_id", "$$runtime_lookup_local"}},
			}},
		},
	}}}
	if !reflect.DeepEqual(pipeline[1], wantJoin) {
		t.Errorf("join match = %#v, want %#v", pipeline[1], wantJoin)
	}
}

func TestRewriteLookupExistingPipeline(t *testing.T) {
	sub := []bson.M{{"$match": bson.M{"is_deleted": bson.M{"$ne": true}}}}
	stage := bson.M{"$lookup": bson.M{
		"from":     runtimescope.CollMessages,
		"let":      bson.M{"sid": "$_id"},
		"pipeline": sub,
		"as":       "messages",
	}}

	got := rewriteStage(gammaScope, stage)
	lookup := got["$lookup"].(bson.M)
	pipeline, ok := lookup["pipeline"].([]bson.M)
	if !ok || len(pipeline) != 2 {
		t.Fatalf("pipeline = %#v", lookup["pipeline"])
	}
	if _, ok := pipeline[0]["$match"].(bson.M)["$expr"]; !ok {
		t.Errorf("first stage should be the runtime match, got %#v", pipeline[0])
	}
	if !reflect.DeepEqual(pipeline[1], sub[0]) {
		t.Errorf("original sub-pipeline stage lost: %#v", pipeline[1])
	}
}

func TestFilterExpressionProdFamily(t *testing.T) {
	prod := runtimescope.Scope{Tag: "prod", ProdFamily: true}
	got := prod.FilterExpression("$runtime_tag")
	want := bson.M{"$in": bson.A{
		bson.M{"$ifNull": bson.A{"$runtime_tag", nil}},
		bson.A{"prod", nil, ""},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expression = %#v, want %#v", got, want)
	}
}

func TestPatchSetOnInsert(t *testing.T) {
	update := bson.M{"$set": bson.M{"name": "x"}}
	got := patchSetOnInsert(gammaScope, update).(bson.M)
	soi, ok := got["$setOnInsert"].(bson.M)
	if !ok || soi["runtime_tag"] != "gamma" {
		t.Errorf("setOnInsert = %#v", got["$setOnInsert"])
	}
	if _, ok := update["$setOnInsert"]; ok {
		t.Error("caller update was mutated")
	}

	// existing $setOnInsert keys survive
	update = bson.M{"$setOnInsert": bson.M{"created_at": 1}}
	got = patchSetOnInsert(gammaScope, update).(bson.M)
	soi = got["$setOnInsert"].(bson.M)
	if soi["created_at"] != 1 || soi["runtime_tag"] != "gamma" {
		t.Errorf("setOnInsert = %#v", soi)
	}

	// a caller-provided tag wins
	update = bson.M{"$set": bson.M{"runtime_tag": "other"}}
	got = patchSetOnInsert(gammaScope, update).(bson.M)
	if _, ok := got["$setOnInsert"]; ok {
		t.Errorf("tag in $set should block patching: %#v", got)
	}
}

func TestStampDocument(t *testing.T) {
	doc := bson.M{"name": "s"}
	got := stampDocument(gammaScope, doc).(bson.M)
	if got["runtime_tag"] != "gamma" {
		t.Errorf("stamped = %#v", got)
	}
	if _, ok := doc["runtime_tag"]; ok {
		t.Error("caller document was mutated")
	}

	// empty tag counts as absent
	got = stampDocument(gammaScope, bson.M{"runtime_tag": ""}).(bson.M)
	if got["runtime_tag"] != "gamma" {
		t.Errorf("empty tag not restamped: %#v", got)
	}

	// explicit tag is preserved
	got = stampDocument(gammaScope, bson.M{"runtime_tag": "prod"}).(bson.M)
	if got["runtime_tag"] != "prod" {
		t.Errorf("explicit tag overwritten: %#v", got)
	}

	// struct documents get stamped via bson marshalling
	type record struct {
		Name string `bson:"name"`
	}
	stamped := stampDocument(gammaScope, record{Name: "s"})
	m, ok := stamped.(bson.M)
	if !ok || m["runtime_tag"] != "gamma" || m["name"] != "s" {
		t.Errorf("struct stamp = %#v", stamped)
	}
}
