package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/go-homedir"
)

const (
	keysDir   = "pqc_keys"
	linksFile = "links.json"
)

// Dir is a Store backed by a directory: one JSON file per key under
// pqc_keys/ and a links.json address map. Files are written atomically
// with owner-only permissions.
type Dir struct {
	root string
	mu   sync.Mutex
}

// OpenDir opens (creating if needed) a directory store at path. A leading ~
// is expanded to the user's home directory.
func OpenDir(path string) (*Dir, error) {
	root, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand keystore path: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, keysDir), 0o700); err != nil {
		return nil, fmt.Errorf("create keystore: %w", err)
	}
	return &Dir{root: root}, nil
}

// Root returns the expanded keystore directory.
func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) keyPath(name string) string {
	return filepath.Join(d.root, keysDir, url.QueryEscape(name)+".json")
}

// GetKey implements Store.
func (d *Dir) GetKey(_ context.Context, name string) (*KeyRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readKey(d.keyPath(name), name)
}

func (d *Dir) readKey(path, name string) (*KeyRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", name, err)
	}

	var rec KeyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode key %s: %w", name, err)
	}
	return &rec, nil
}

// PutKey implements Store.
func (d *Dir) PutKey(_ context.Context, rec *KeyRecord) error {
	if rec == nil || rec.Name == "" {
		return fmt.Errorf("key record requires a name")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode key %s: %w", rec.Name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return writeFileAtomic(d.keyPath(rec.Name), data)
}

// ListKeys implements Store.
func (d *Dir) ListKeys(_ context.Context) ([]*KeyRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(d.root, keysDir))
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	var out []*KeyRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name, err := url.QueryUnescape(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		rec, err := d.readKey(filepath.Join(d.root, keysDir, e.Name()), name)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *Dir) readLinks() (map[string]string, error) {
	links := make(map[string]string)
	data, err := os.ReadFile(filepath.Join(d.root, linksFile))
	if errors.Is(err, os.ErrNotExist) {
		return links, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read links: %w", err)
	}
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}
	return links, nil
}

// GetLink implements Store.
func (d *Dir) GetLink(_ context.Context, address string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	links, err := d.readLinks()
	if err != nil {
		return "", false, err
	}
	name, ok := links[address]
	return name, ok, nil
}

// LinkAddress implements Store.
func (d *Dir) LinkAddress(_ context.Context, address, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	links, err := d.readLinks()
	if err != nil {
		return err
	}
	links[address] = name

	data, err := json.MarshalIndent(links, "", "  ")
	if err != nil {
		return fmt.Errorf("encode links: %w", err)
	}
	return writeFileAtomic(filepath.Join(d.root, linksFile), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
