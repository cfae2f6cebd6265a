package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/askarin/cryptboard/internal/common"
)

// FSStore lays chunks out as <root>/<sessionID>/<contentID>/<index>.
// Writes go through a temp file plus fsync plus rename, so a crash never
// leaves a torn chunk file behind.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o770); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

// contentDir refuses ids that are not plain path segments, so a hostile id
// can never address files outside the blob root.
func (s *FSStore) contentDir(sessionID, contentID string) (string, error) {
	if !common.ValidID(sessionID) {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	if !common.ValidID(contentID) {
		return "", fmt.Errorf("invalid content id %q", contentID)
	}
	return filepath.Join(s.root, sessionID, contentID), nil
}

func (s *FSStore) Put(ctx context.Context, sessionID, contentID string, index int, data []byte) error {
	dir, err := s.contentDir(sessionID, contentID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	final := filepath.Join(dir, strconv.Itoa(index))

	tmp, err := os.CreateTemp(dir, strconv.Itoa(index)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write chunk: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chunk: %w", err)
	}

	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("rename chunk: %w", err)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, sessionID, contentID string, index int) ([]byte, error) {
	dir, err := s.contentDir(sessionID, contentID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, strconv.Itoa(index)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	return data, nil
}

func (s *FSStore) DeleteContent(ctx context.Context, sessionID, contentID string) error {
	dir, err := s.contentDir(sessionID, contentID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove content dir: %w", err)
	}
	return nil
}

func (s *FSStore) DeleteSession(ctx context.Context, sessionID string) error {
	if !common.ValidID(sessionID) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}
	if err := os.RemoveAll(filepath.Join(s.root, sessionID)); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

func (s *FSStore) ListContents(ctx context.Context) ([]ContentRef, error) {
	sessions, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read root: %w", err)
	}

	var refs []ContentRef
	for _, sess := range sessions {
		if !sess.IsDir() {
			continue
		}
		items, err := os.ReadDir(filepath.Join(s.root, sess.Name()))
		if err != nil {
			return nil, fmt.Errorf("read session dir: %w", err)
		}
		for _, item := range items {
			if item.IsDir() {
				refs = append(refs, ContentRef{SessionID: sess.Name(), ContentID: item.Name()})
			}
		}
	}
	return refs, nil
}

func (s *FSStore) Ping(ctx context.Context) error {
	probe, err := os.CreateTemp(s.root, ".ping*")
	if err != nil {
		return fmt.Errorf("storage not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
