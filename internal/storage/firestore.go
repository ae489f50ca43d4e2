package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ensure FirestoreStore implements the Store interface
var _ Store = (*FirestoreStore)(nil)

const defaultSessionCollection = "barforge_sessions"

// FirestoreStore persists session records in a Firestore collection, one
// document per session. Documents past their expiry are treated as absent on
// read and swept by CleanupExpired.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	ttl        time.Duration
}

// NewFirestoreStore creates a Firestore-backed session store
func NewFirestoreStore(ctx context.Context, projectID, collection string, ttl time.Duration) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	if collection == "" {
		collection = defaultSessionCollection
	}

	return &FirestoreStore{
		client:     client,
		collection: collection,
		ttl:        ttl,
	}, nil
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*Record, error) {
	snapshot, err := s.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var record Record
	if err := snapshot.DataTo(&record); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, ErrSessionNotFound
	}
	return &record, nil
}

func (s *FirestoreStore) Put(ctx context.Context, id string, record *Record) error {
	copied := *record
	copied.ExpiresAt = time.Now().Add(s.ttl)

	if _, err := s.doc(id).Set(ctx, &copied); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := s.doc(id).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *FirestoreStore) CleanupExpired(ctx context.Context) (int, error) {
	iter := s.client.Collection(s.collection).
		Where("expires_at", "<", time.Now()).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		snapshot, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("listing expired sessions: %w", err)
		}
		if _, err := snapshot.Ref.Delete(ctx); err != nil {
			return count, fmt.Errorf("deleting expired session: %w", err)
		}
		count++
	}
	return count, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
