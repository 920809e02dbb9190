// Package testutils provides an in-memory stand-in for a MongoDB database.
// It understands the subset of the query and update language the
// repositories emit, which is enough to check replay behaviour without a
// running server.
package testutils

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb"
	"github.com/cosmosetl/cosmos-indexer/pkg/utils"
)

const duplicateKeyCode = 11000

var errUnsupported = errors.New("unsupported by memory store")

// MemoryDatabase is a concurrency-safe in-memory Database.
type MemoryDatabase struct {
	name string

	mu          sync.Mutex
	collections map[string]*MemoryCollection
	failures    map[string]error
}

var _ mongodb.Database = (*MemoryDatabase)(nil)

func NewMemoryDatabase(name string) *MemoryDatabase {
	return &MemoryDatabase{
		name:        name,
		collections: make(map[string]*MemoryCollection),
		failures:    make(map[string]error),
	}
}

func (d *MemoryDatabase) Name() string {
	return d.name
}

func (d *MemoryDatabase) Collection(name string) mongodb.Collection {
	return d.collection(name)
}

func (d *MemoryDatabase) collection(name string) *MemoryCollection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	if !ok {
		c = &MemoryCollection{
			name:    name,
			db:      d,
			docs:    make(map[string]bson.M),
			indexes: make(map[string]bool),
		}
		d.collections[name] = c
	}
	return c
}

// FailWith makes every later call against collection return err until
// cleared with a nil err.
func (d *MemoryDatabase) FailWith(collection string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, collection)
		return
	}
	d.failures[collection] = err
}

func (d *MemoryDatabase) failure(collection string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures[collection]
}

// Docs returns a copy of the documents in collection ordered by _id.
func (d *MemoryDatabase) Docs(collection string) []bson.M {
	return d.collection(collection).snapshot()
}

// Doc returns the document with the given _id.
func (d *MemoryDatabase) Doc(collection, id string) (bson.M, bool) {
	c := d.collection(collection)
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, false
	}
	return deepCopy(doc), true
}

// Count returns the number of documents in collection.
func (d *MemoryDatabase) Count(collection string) int {
	c := d.collection(collection)
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

// Indexes returns the indexes created on collection, by name, with whether
// each is unique. Indexes are recorded, not enforced.
func (d *MemoryDatabase) Indexes(collection string) map[string]bool {
	c := d.collection(collection)
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.indexes))
	for name, unique := range c.indexes {
		out[name] = unique
	}
	return out
}

// MemoryCollection is one collection of a MemoryDatabase.
type MemoryCollection struct {
	name string
	db   *MemoryDatabase

	mu      sync.Mutex
	docs    map[string]bson.M
	indexes map[string]bool // name -> unique
}

var _ mongodb.Collection = (*MemoryCollection)(nil)

func (c *MemoryCollection) Name() string {
	return c.name
}

func (c *MemoryCollection) BulkWrite(
	_ context.Context,
	models []mongo.WriteModel,
	opts ...*options.BulkWriteOptions,
) (*mongo.BulkWriteResult, error) {
	if err := c.db.failure(c.name); err != nil {
		return nil, err
	}
	ordered := true
	for _, o := range opts {
		if o != nil && o.Ordered != nil {
			ordered = *o.Ordered
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res := &mongo.BulkWriteResult{UpsertedIDs: make(map[int64]interface{})}
	var writeErrs []mongo.BulkWriteError
	for i, model := range models {
		err := c.applyModel(int64(i), model, res)
		if err == nil {
			continue
		}
		var we mongo.WriteError
		if !errors.As(err, &we) {
			return res, err
		}
		we.Index = i
		writeErrs = append(writeErrs, mongo.BulkWriteError{WriteError: we, Request: model})
		if ordered {
			break
		}
	}
	if len(writeErrs) > 0 {
		return res, mongo.BulkWriteException{WriteErrors: writeErrs}
	}
	return res, nil
}

func (c *MemoryCollection) applyModel(i int64, model mongo.WriteModel, res *mongo.BulkWriteResult) error {
	switch m := model.(type) {
	case *mongo.InsertOneModel:
		if err := c.insert(m.Document); err != nil {
			return err
		}
		res.InsertedCount++
		return nil
	case *mongo.UpdateOneModel:
		upsert := m.Upsert != nil && *m.Upsert
		matched, upsertedID, err := c.update(m.Filter, m.Update, upsert)
		if err != nil {
			return err
		}
		if upsertedID != nil {
			res.UpsertedCount++
			res.UpsertedIDs[i] = upsertedID
		} else if matched {
			res.MatchedCount++
			res.ModifiedCount++
		}
		return nil
	default:
		return fmt.Errorf("%w: write model %T", errUnsupported, model)
	}
}

func (c *MemoryCollection) InsertMany(
	_ context.Context,
	documents []interface{},
	opts ...*options.InsertManyOptions,
) (*mongo.InsertManyResult, error) {
	if err := c.db.failure(c.name); err != nil {
		return nil, err
	}
	ordered := true
	for _, o := range opts {
		if o != nil && o.Ordered != nil {
			ordered = *o.Ordered
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res := &mongo.InsertManyResult{}
	var writeErrs []mongo.BulkWriteError
	for i, d := range documents {
		err := c.insert(d)
		if err == nil {
			res.InsertedIDs = append(res.InsertedIDs, normalize(d)["_id"])
			continue
		}
		var we mongo.WriteError
		if !errors.As(err, &we) {
			return res, err
		}
		we.Index = i
		writeErrs = append(writeErrs, mongo.BulkWriteError{WriteError: we})
		if ordered {
			break
		}
	}
	if len(writeErrs) > 0 {
		return res, mongo.BulkWriteException{WriteErrors: writeErrs}
	}
	return res, nil
}

func (c *MemoryCollection) UpdateOne(
	_ context.Context,
	filter interface{},
	update interface{},
	opts ...*options.UpdateOptions,
) (*mongo.UpdateResult, error) {
	if err := c.db.failure(c.name); err != nil {
		return nil, err
	}
	upsert := false
	for _, o := range opts {
		if o != nil && o.Upsert != nil {
			upsert = *o.Upsert
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	matched, upsertedID, err := c.update(filter, update, upsert)
	if err != nil {
		var we mongo.WriteError
		if errors.As(err, &we) {
			return nil, mongo.WriteException{WriteErrors: mongo.WriteErrors{we}}
		}
		return nil, err
	}
	res := &mongo.UpdateResult{UpsertedID: upsertedID}
	if upsertedID != nil {
		res.UpsertedCount = 1
	} else if matched {
		res.MatchedCount = 1
		res.ModifiedCount = 1
	}
	return res, nil
}

func (c *MemoryCollection) FindOne(
	_ context.Context,
	filter interface{},
	_ ...*options.FindOneOptions,
) *mongo.SingleResult {
	if err := c.db.failure(c.name); err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	f := normalize(filter)
	for _, doc := range c.ordered() {
		if matches(doc, f) {
			return mongo.NewSingleResultFromDocument(deepCopy(doc), nil, nil)
		}
	}
	return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
}

func (c *MemoryCollection) DeleteOne(
	_ context.Context,
	filter interface{},
	_ ...*options.DeleteOptions,
) (*mongo.DeleteResult, error) {
	if err := c.db.failure(c.name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	f := normalize(filter)
	for _, doc := range c.ordered() {
		if matches(doc, f) {
			id, _ := utils.ToString(doc["_id"])
			delete(c.docs, id)
			return &mongo.DeleteResult{DeletedCount: 1}, nil
		}
	}
	return &mongo.DeleteResult{}, nil
}

// Aggregate supports a pipeline of $match stages followed by at most one
// $group stage whose accumulators are {$sum: <number>}.
func (c *MemoryCollection) Aggregate(
	_ context.Context,
	pipeline interface{},
	_ ...*options.AggregateOptions,
) (*mongo.Cursor, error) {
	if err := c.db.failure(c.name); err != nil {
		return nil, err
	}
	stages, err := pipelineStages(pipeline)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	docs := c.ordered()
	c.mu.Unlock()

	for _, stage := range stages {
		switch {
		case stage["$match"] != nil:
			f := normalize(stage["$match"])
			kept := docs[:0:0]
			for _, d := range docs {
				if matches(d, f) {
					kept = append(kept, d)
				}
			}
			docs = kept
		case stage["$group"] != nil:
			docs, err = group(docs, normalize(stage["$group"]))
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: stage %v", errUnsupported, stage)
		}
	}

	out := make([]interface{}, len(docs))
	for i, d := range docs {
		out[i] = deepCopy(d)
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

// CreateIndexes names indexes the way the server does when no name is set:
// key and direction pairs joined by underscores.
func (c *MemoryCollection) CreateIndexes(_ context.Context, models []mongo.IndexModel) ([]string, error) {
	if err := c.db.failure(c.name); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		keys, ok := m.Keys.(bson.D)
		if !ok || len(keys) == 0 {
			return nil, fmt.Errorf("%w: index keys %T", errUnsupported, m.Keys)
		}
		parts := make([]string, 0, 2*len(keys))
		for _, k := range keys {
			parts = append(parts, k.Key, fmt.Sprint(k.Value))
		}
		name := strings.Join(parts, "_")
		unique := false
		if m.Options != nil {
			if m.Options.Name != nil {
				name = *m.Options.Name
			}
			unique = m.Options.Unique != nil && *m.Options.Unique
		}
		names = append(names, name)

		c.mu.Lock()
		c.indexes[name] = unique
		c.mu.Unlock()
	}
	return names, nil
}

func (c *MemoryCollection) snapshot() []bson.M {
	c.mu.Lock()
	defer c.mu.Unlock()
	docs := c.ordered()
	for i := range docs {
		docs[i] = deepCopy(docs[i])
	}
	return docs
}

// ordered returns the live documents sorted by _id. Callers hold c.mu.
func (c *MemoryCollection) ordered() []bson.M {
	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	docs := make([]bson.M, len(ids))
	for i, id := range ids {
		docs[i] = c.docs[id]
	}
	return docs
}

func (c *MemoryCollection) insert(document interface{}) error {
	doc := normalize(document)
	id, ok := utils.ToString(doc["_id"])
	if !ok || id == "" {
		return fmt.Errorf("%w: document without string _id", errUnsupported)
	}
	if _, exists := c.docs[id]; exists {
		return duplicateKey(c.name, id)
	}
	c.docs[id] = doc
	return nil
}

func (c *MemoryCollection) update(filter, update interface{}, upsert bool) (bool, interface{}, error) {
	f := normalize(filter)
	u := normalize(update)

	for _, doc := range c.ordered() {
		if matches(doc, f) {
			return true, nil, applyUpdate(doc, u, false)
		}
	}
	if !upsert {
		return false, nil, nil
	}

	doc := bson.M{}
	for k, v := range f {
		if len(k) > 0 && k[0] == '$' {
			continue
		}
		if _, isOp := v.(bson.M); isOp {
			continue
		}
		doc[k] = v
	}
	if err := applyUpdate(doc, u, true); err != nil {
		return false, nil, err
	}
	id, ok := utils.ToString(doc["_id"])
	if !ok || id == "" {
		return false, nil, fmt.Errorf("%w: upsert without string _id", errUnsupported)
	}
	if _, exists := c.docs[id]; exists {
		return false, nil, duplicateKey(c.name, id)
	}
	c.docs[id] = doc
	return false, id, nil
}

func duplicateKey(collection, id string) error {
	return mongo.WriteError{
		Code:    duplicateKeyCode,
		Message: fmt.Sprintf("E11000 duplicate key error collection: %s index: _id_ dup key: { _id: %q }", collection, id),
	}
}

func applyUpdate(doc, update bson.M, inserting bool) error {
	for op, raw := range update {
		fields, ok := raw.(bson.M)
		if !ok {
			return fmt.Errorf("%w: update operator %s", errUnsupported, op)
		}
		for k, v := range fields {
			switch op {
			case "$set":
				doc[k] = v
			case "$setOnInsert":
				if inserting {
					doc[k] = v
				}
			case "$min":
				cur, exists := doc[k]
				if !exists || compare(v, cur) < 0 {
					doc[k] = v
				}
			case "$max":
				cur, exists := doc[k]
				if !exists || compare(v, cur) > 0 {
					doc[k] = v
				}
			case "$inc":
				delta, ok := utils.ToInt64(v)
				if !ok {
					return fmt.Errorf("%w: $inc of %T", errUnsupported, v)
				}
				cur, _ := utils.ToInt64(doc[k])
				doc[k] = cur + delta
			default:
				return fmt.Errorf("%w: update operator %s", errUnsupported, op)
			}
		}
	}
	return nil
}

func matches(doc, filter bson.M) bool {
	for k, want := range filter {
		got, exists := doc[k]
		if cond, ok := want.(bson.M); ok {
			if in, ok := cond["$in"]; ok {
				if !exists || !contains(in, got) {
					return false
				}
				continue
			}
		}
		if !exists || compare(got, want) != 0 {
			return false
		}
	}
	return true
}

func contains(list, v interface{}) bool {
	items, ok := list.(bson.A)
	if !ok {
		return false
	}
	for _, it := range items {
		if compare(it, v) == 0 {
			return true
		}
	}
	return false
}

// compare follows the server's ordering for the values the repositories
// store: null first, then numbers by value whatever their BSON type, then
// everything else by string form.
func compare(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	an, aok := number(a)
	bn, bok := number(b)
	switch {
	case aok && bok:
		return an.compare(bn)
	case aok:
		return -1
	case bok:
		return 1
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// numeric holds an integer exactly and any other number as a double.
type numeric struct {
	i     int64
	f     float64
	isInt bool
}

func (n numeric) compare(o numeric) int {
	if n.isInt && o.isInt {
		return cmp.Compare(n.i, o.i)
	}
	return cmp.Compare(n.float(), o.float())
}

func (n numeric) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

func number(v interface{}) (numeric, bool) {
	switch n := v.(type) {
	case int:
		return numeric{i: int64(n), isInt: true}, true
	case int32:
		return numeric{i: int64(n), isInt: true}, true
	case int64:
		return numeric{i: n, isInt: true}, true
	case float64:
		return numeric{f: n}, true
	default:
		return numeric{}, false
	}
}

func group(docs []bson.M, spec bson.M) ([]bson.M, error) {
	key, ok := spec["_id"].(string)
	if !ok || len(key) < 2 || key[0] != '$' {
		return nil, fmt.Errorf("%w: $group _id %v", errUnsupported, spec["_id"])
	}
	field := key[1:]

	groups := make(map[string]bson.M)
	var order []string
	for _, d := range docs {
		gk := fmt.Sprint(d[field])
		g, ok := groups[gk]
		if !ok {
			g = bson.M{"_id": d[field]}
			groups[gk] = g
			order = append(order, gk)
		}
		for name, acc := range spec {
			if name == "_id" {
				continue
			}
			accM, ok := acc.(bson.M)
			if !ok {
				return nil, fmt.Errorf("%w: accumulator %s", errUnsupported, name)
			}
			inc, ok := utils.ToInt64(accM["$sum"])
			if !ok {
				return nil, fmt.Errorf("%w: accumulator %s", errUnsupported, name)
			}
			cur, _ := utils.ToInt64(g[name])
			g[name] = cur + inc
		}
	}
	sort.Strings(order)
	out := make([]bson.M, len(order))
	for i, k := range order {
		out[i] = groups[k]
	}
	return out, nil
}

func pipelineStages(pipeline interface{}) ([]bson.M, error) {
	var raw []interface{}
	switch p := pipeline.(type) {
	case mongo.Pipeline:
		for _, s := range p {
			raw = append(raw, s)
		}
	case []bson.D:
		for _, s := range p {
			raw = append(raw, s)
		}
	case []bson.M:
		for _, s := range p {
			raw = append(raw, s)
		}
	case bson.A:
		raw = p
	case []interface{}:
		raw = p
	default:
		return nil, fmt.Errorf("%w: pipeline %T", errUnsupported, pipeline)
	}
	stages := make([]bson.M, len(raw))
	for i, s := range raw {
		stages[i] = normalize(s)
	}
	return stages, nil
}

// normalize round-trips v through BSON so every document, whatever Go type
// built it, is compared and stored in one shape.
func normalize(v interface{}) bson.M {
	data, err := bson.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory store: marshal %T: %v", v, err))
	}
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("memory store: unmarshal %T: %v", v, err))
	}
	return toM(m)
}

func toM(m bson.M) bson.M {
	for k, v := range m {
		m[k] = canonical(v)
	}
	return m
}

func canonical(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return toM(t)
	case bson.D:
		m := make(bson.M, len(t))
		for _, e := range t {
			m[e.Key] = canonical(e.Value)
		}
		return m
	case bson.A:
		for i := range t {
			t[i] = canonical(t[i])
		}
		return t
	default:
		return v
	}
}

func deepCopy(m bson.M) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case bson.M:
			out[k] = deepCopy(t)
		case bson.A:
			cp := make(bson.A, len(t))
			copy(cp, t)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
