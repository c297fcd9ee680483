package remote

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ensure FirestoreBackend implements Backend
var _ Backend = (*FirestoreBackend)(nil)

// FirestoreBackend implements Backend with Cloud Firestore snapshot
// listeners. Each watch is one listener stream.
type FirestoreBackend struct {
	client *firestore.Client
}

// NewFirestoreBackend connects to the Firestore database of projectID.
// Credentials come from the environment (ADC or FIRESTORE_EMULATOR_HOST).
func NewFirestoreBackend(ctx context.Context, projectID string) (*FirestoreBackend, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreBackend{client: client}, nil
}

// Close closes the underlying client.
func (b *FirestoreBackend) Close() error {
	return b.client.Close()
}

// Watch opens a snapshot listener and pumps it from its own goroutine.
func (b *FirestoreBackend) Watch(ctx context.Context, target Target, deliver func(Snapshot, error)) error {
	if target.Kind.Collection() {
		coll := b.client.Collection(target.Path)
		if coll == nil {
			return fmt.Errorf("invalid collection path %q", target.Path)
		}
		go b.pumpQuery(ctx, coll.Snapshots(ctx), deliver)
		return nil
	}

	doc := b.client.Doc(target.Path)
	if doc == nil {
		return fmt.Errorf("invalid document path %q", target.Path)
	}
	go b.pumpDocument(ctx, doc.Snapshots(ctx), deliver)
	return nil
}

func (b *FirestoreBackend) pumpDocument(ctx context.Context, it *firestore.DocumentSnapshotIterator, deliver func(Snapshot, error)) {
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err != nil {
			if !stopped(ctx, err) {
				deliver(Snapshot{}, err)
			}
			return
		}
		if !snap.Exists() {
			deliver(Snapshot{}, nil)
			continue
		}
		deliver(Snapshot{
			Docs:   []Document{{ID: snap.Ref.ID, Data: snap.Data()}},
			Exists: true,
		}, nil)
	}
}

func (b *FirestoreBackend) pumpQuery(ctx context.Context, it *firestore.QuerySnapshotIterator, deliver func(Snapshot, error)) {
	defer it.Stop()
	for {
		qs, err := it.Next()
		if err != nil {
			if !stopped(ctx, err) {
				deliver(Snapshot{}, err)
			}
			return
		}
		docs, err := qs.Documents.GetAll()
		if err != nil {
			if !stopped(ctx, err) {
				deliver(Snapshot{}, err)
			}
			return
		}
		snap := Snapshot{Exists: true, Docs: make([]Document, 0, len(docs))}
		for _, d := range docs {
			snap.Docs = append(snap.Docs, Document{ID: d.Ref.ID, Data: d.Data()})
		}
		deliver(snap, nil)
	}
}

// stopped reports whether err only means the listener was shut down.
func stopped(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, iterator.Done) {
		return true
	}
	return status.Code(err) == codes.Canceled
}

// Set writes a document, merging top-level and nested fields when merge is
// set.
func (b *FirestoreBackend) Set(ctx context.Context, docPath string, fields map[string]any, merge bool) error {
	doc := b.client.Doc(docPath)
	if doc == nil {
		return fmt.Errorf("invalid document path %q", docPath)
	}
	var err error
	if merge {
		_, err = doc.Set(ctx, toFirestore(fields), firestore.MergeAll)
	} else {
		_, err = doc.Set(ctx, toFirestore(fields))
	}
	return err
}

// Update merges fields into an existing document. Keys are top-level field
// names.
func (b *FirestoreBackend) Update(ctx context.Context, docPath string, fields map[string]any) error {
	doc := b.client.Doc(docPath)
	if doc == nil {
		return fmt.Errorf("invalid document path %q", docPath)
	}
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range toFirestore(fields) {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	if _, err := doc.Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrNoDocument, docPath)
		}
		return err
	}
	return nil
}

// Add creates a document with a generated id.
func (b *FirestoreBackend) Add(ctx context.Context, collectionPath string, fields map[string]any) (string, error) {
	coll := b.client.Collection(collectionPath)
	if coll == nil {
		return "", fmt.Errorf("invalid collection path %q", collectionPath)
	}
	ref, _, err := coll.Add(ctx, toFirestore(fields))
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

// Delete removes a document. Deleting a missing document succeeds.
func (b *FirestoreBackend) Delete(ctx context.Context, docPath string) error {
	doc := b.client.Doc(docPath)
	if doc == nil {
		return fmt.Errorf("invalid document path %q", docPath)
	}
	_, err := doc.Delete(ctx)
	return err
}

// toFirestore replaces the package sentinels with Firestore transforms.
func toFirestore(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case serverTimestamp:
			out[k] = firestore.ServerTimestamp
		case ArrayUnionValue:
			out[k] = firestore.ArrayUnion(val.Elems...)
		case map[string]any:
			out[k] = toFirestore(val)
		default:
			out[k] = v
		}
	}
	return out
}
