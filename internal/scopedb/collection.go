package scopedb

import (
	"context"

	"voicedesk/internal/runtimescope"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection decorates a driver collection so every operation on a
// scoped collection looks tenant-correct without call sites repeating
// filter logic. The only way to bypass the scope is Database.Raw.
type Collection struct {
	inner  *mongo.Collection
	scope  runtimescope.Scope
	scoped bool
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.inner.Name()
}

func (c *Collection) filter(query bson.M) bson.M {
	if !c.scoped {
		if query == nil {
			return bson.M{}
		}
		return query
	}
	return c.scope.MergeFilter(query)
}

func (c *Collection) Find(ctx context.Context, query bson.M, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	return c.inner.Find(ctx, c.filter(query), opts...)
}

func (c *Collection) FindOne(ctx context.Context, query bson.M, opts ...*options.FindOneOptions) *mongo.SingleResult {
	return c.inner.FindOne(ctx, c.filter(query), opts...)
}

func (c *Collection) CountDocuments(ctx context.Context, query bson.M, opts ...*options.CountOptions) (int64, error) {
	return c.inner.CountDocuments(ctx, c.filter(query), opts...)
}

func (c *Collection) Distinct(ctx context.Context, field string, query bson.M, opts ...*options.DistinctOptions) ([]interface{}, error) {
	return c.inner.Distinct(ctx, field, c.filter(query), opts...)
}

// Aggregate prepends the runtime $match and rewrites $lookup stages
// that target scoped collections so the join applies the same filter.
func (c *Collection) Aggregate(ctx context.Context, pipeline []bson.M, opts ...*options.AggregateOptions) (*mongo.Cursor, error) {
	if !c.scoped {
		return c.inner.Aggregate(ctx, pipeline, opts...)
	}
	scoped := make([]bson.M, 0, len(pipeline)+1)
	scoped = append(scoped, bson.M{"$match": c.scope.BuildFilter()})
	for _, stage := range pipeline {
		scoped = append(scoped, rewriteStage(c.scope, stage))
	}
	return c.inner.Aggregate(ctx, scoped, opts...)
}

func (c *Collection) UpdateOne(ctx context.Context, query bson.M, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	if c.scoped && updateOptsHaveUpsert(opts) {
		update = patchSetOnInsert(c.scope, update)
	}
	return c.inner.UpdateOne(ctx, c.filter(query), update, opts...)
}

func (c *Collection) UpdateMany(ctx context.Context, query bson.M, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	if c.scoped && updateOptsHaveUpsert(opts) {
		update = patchSetOnInsert(c.scope, update)
	}
	return c.inner.UpdateMany(ctx, c.filter(query), update, opts...)
}

func (c *Collection) FindOneAndUpdate(ctx context.Context, query bson.M, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult {
	if c.scoped && findUpdateOptsHaveUpsert(opts) {
		update = patchSetOnInsert(c.scope, update)
	}
	return c.inner.FindOneAndUpdate(ctx, c.filter(query), update, opts...)
}

func (c *Collection) FindOneAndDelete(ctx context.Context, query bson.M, opts ...*options.FindOneAndDeleteOptions) *mongo.SingleResult {
	return c.inner.FindOneAndDelete(ctx, c.filter(query), opts...)
}

func (c *Collection) ReplaceOne(ctx context.Context, query bson.M, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	if c.scoped {
		replacement = stampDocument(c.scope, replacement)
	}
	return c.inner.ReplaceOne(ctx, c.filter(query), replacement, opts...)
}

func (c *Collection) DeleteOne(ctx context.Context, query bson.M, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return c.inner.DeleteOne(ctx, c.filter(query), opts...)
}

func (c *Collection) DeleteMany(ctx context.Context, query bson.M, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return c.inner.DeleteMany(ctx, c.filter(query), opts...)
}

func (c *Collection) InsertOne(ctx context.Context, doc interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if c.scoped {
		doc = stampDocument(c.scope, doc)
	}
	return c.inner.InsertOne(ctx, doc, opts...)
}

func (c *Collection) InsertMany(ctx context.Context, docs []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	if c.scoped {
		stamped := make([]interface{}, len(docs))
		for i, doc := range docs {
			stamped[i] = stampDocument(c.scope, doc)
		}
		docs = stamped
	}
	return c.inner.InsertMany(ctx, docs, opts...)
}

func updateOptsHaveUpsert(opts []*options.UpdateOptions) bool {
	for _, opt := range opts {
		if opt != nil && opt.Upsert != nil && *opt.Upsert {
			return true
		}
	}
	return false
}

func findUpdateOptsHaveUpsert(opts []*options.FindOneAndUpdateOptions) bool {
	for _, opt := range opts {
		if opt != nil && opt.Upsert != nil && *opt.Upsert {
			return true
		}
	}
	return false
}
