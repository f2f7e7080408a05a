// Package storagetest provides an in-memory storage.ObjectStore for tests.
package storagetest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"sync"
	"time"
)

// Store keeps objects in memory. Presigned URLs point at a fake host and
// encode the key, method and expiry.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deleted []string

	// ExistsErr, when set, is returned by every Exists call
	ExistsErr error
	// DeleteErr, when set, is returned by every Delete call
	DeleteErr error
}

func New() *Store {
	return &Store{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

// Add stores an object as if a client had uploaded it with a presigned URL
func (s *Store) Add(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
}

// Has reports whether key is currently stored
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// ContentType returns the content type an object was uploaded with
func (s *Store) ContentType(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types[key]
}

// Keys returns the stored keys in order
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Deleted returns every key passed to Delete, including failed attempts
func (s *Store) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func (s *Store) PresignPut(_ context.Context, key, contentType string, expiry time.Duration) (string, error) {
	return presign("PUT", key, expiry, url.Values{"content-type": {contentType}}), nil
}

func (s *Store) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	return presign("GET", key, expiry, url.Values{}), nil
}

func presign(method, key string, expiry time.Duration, q url.Values) string {
	q.Set("method", method)
	q.Set("expires", fmt.Sprint(int(expiry.Seconds())))
	u := url.URL{Scheme: "https", Host: "bucket.test", Path: "/" + key, RawQuery: q.Encode()}
	return u.String()
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	if s.ExistsErr != nil {
		return false, s.ExistsErr
	}
	return s.Has(key), nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.objects, key)
	delete(s.types, key)
	return nil
}

func (s *Store) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.types[key] = contentType
	return nil
}
