// Package mongoundo is a MongoDB-backed implementation of undo.Journal,
// letting forensic undo ("actor and time window") survive a server restart
// even though Query Handles themselves never persist (spec §4.5).
package mongoundo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/undo"
)

// Journal persists undo.Entry documents to a MongoDB collection.
type Journal struct {
	collection *mongo.Collection
}

var _ undo.Journal = (*Journal)(nil)

// New wraps an already-connected collection. Callers own the client's
// lifecycle; this type never dials or closes a connection itself.
func New(collection *mongo.Collection) *Journal {
	return &Journal{collection: collection}
}

type affectedItemDoc struct {
	ID             int            `bson:"id"`
	PreviousValues map[string]any `bson:"previousValues,omitempty"`
	NewValues      map[string]any `bson:"newValues,omitempty"`
}

type entryDoc struct {
	OperationID string            `bson:"_id"`
	Timestamp   time.Time         `bson:"timestamp"`
	Actor       string            `bson:"actor"`
	Kind        string            `bson:"kind"`
	HandleID    string            `bson:"handleId"`
	Affected    []affectedItemDoc `bson:"affected"`
	Restorable  bool              `bson:"restorable"`
}

func toDoc(e undo.Entry) entryDoc {
	affected := make([]affectedItemDoc, len(e.Affected))
	for i, a := range e.Affected {
		affected[i] = affectedItemDoc{ID: a.ID, PreviousValues: a.PreviousValues, NewValues: a.NewValues}
	}
	return entryDoc{
		OperationID: e.OperationID,
		Timestamp:   e.Timestamp,
		Actor:       e.Actor,
		Kind:        e.Kind,
		HandleID:    e.HandleID,
		Affected:    affected,
		Restorable:  e.Restorable,
	}
}

func fromDoc(d entryDoc) undo.Entry {
	affected := make([]undo.AffectedItem, len(d.Affected))
	for i, a := range d.Affected {
		affected[i] = undo.AffectedItem{ID: a.ID, PreviousValues: a.PreviousValues, NewValues: a.NewValues}
	}
	return undo.Entry{
		OperationID: d.OperationID,
		Timestamp:   d.Timestamp,
		Actor:       d.Actor,
		Kind:        d.Kind,
		HandleID:    d.HandleID,
		Affected:    affected,
		Restorable:  d.Restorable,
	}
}

// Append implements undo.Journal.
func (j *Journal) Append(ctx context.Context, entry undo.Entry) error {
	_, err := j.collection.InsertOne(ctx, toDoc(entry))
	if err != nil {
		return fmt.Errorf("mongoundo: append operation %q: %w", entry.OperationID, err)
	}
	return nil
}

// ByOperation implements undo.Journal.
func (j *Journal) ByOperation(ctx context.Context, operationID string) (undo.Entry, bool, error) {
	var doc entryDoc
	err := j.collection.FindOne(ctx, bson.M{"_id": operationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return undo.Entry{}, false, nil
	}
	if err != nil {
		return undo.Entry{}, false, fmt.Errorf("mongoundo: find operation %q: %w", operationID, err)
	}
	return fromDoc(doc), true, nil
}

// ByHandle implements undo.Journal, returning entries newest first.
func (j *Journal) ByHandle(ctx context.Context, handleID string) ([]undo.Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cur, err := j.collection.Find(ctx, bson.M{"handleId": handleID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongoundo: find handle %q: %w", handleID, err)
	}
	defer cur.Close(ctx)

	var docs []entryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongoundo: decode handle %q: %w", handleID, err)
	}
	entries := make([]undo.Entry, len(docs))
	for i, d := range docs {
		entries[i] = fromDoc(d)
	}
	return entries, nil
}

// ByActorWindow implements undo.Journal, returning entries oldest first so
// undo.Applier's forward merge picks up the earliest pre-image per field.
func (j *Journal) ByActorWindow(ctx context.Context, actor string, from, to time.Time) ([]undo.Entry, error) {
	filter := bson.M{
		"actor":     actor,
		"timestamp": bson.M{"$gte": from, "$lte": to},
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := j.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongoundo: find actor %q window: %w", actor, err)
	}
	defer cur.Close(ctx)

	var docs []entryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongoundo: decode actor %q window: %w", actor, err)
	}
	entries := make([]undo.Entry, len(docs))
	for i, d := range docs {
		entries[i] = fromDoc(d)
	}
	return entries, nil
}
