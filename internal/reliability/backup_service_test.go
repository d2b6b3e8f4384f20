package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	objects map[string][]byte
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Upload(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]types.Object, error) {
	var out []types.Object
	for key, data := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(data))),
		})
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

type fakeDB struct {
	name    string
	payload []byte
}

func (f *fakeDB) Name() string { return f.name }

func (f *fakeDB) BackupTo(destPath string) error {
	return os.WriteFile(destPath, f.payload, 0o644)
}

func TestBackupRunUploadsArchive(t *testing.T) {
	store := newMemStore()
	svc := NewBackupService(store,
		[]DatabaseBackuper{
			&fakeDB{name: "holdings", payload: []byte("holdings-data")},
			&fakeDB{name: "cache", payload: []byte("cache-data")},
		},
		t.TempDir(), 5, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 7, 1, 12, 30, 45, 0, time.UTC) }

	require.NoError(t, svc.Run(context.Background()))

	archive, ok := store.objects["holdwatch-backup-2024-07-01-123045.tar.gz"]
	require.True(t, ok)

	// The archive carries both snapshots plus the manifest.
	names := tarEntryNames(t, archive)
	assert.ElementsMatch(t, []string{"holdings.db", "cache.db", "backup-metadata.json"}, names)
}

func TestBackupRotateKeepsNewest(t *testing.T) {
	store := newMemStore()
	stamps := []string{
		"2024-06-01-000000",
		"2024-06-02-000000",
		"2024-06-03-000000",
		"2024-06-04-000000",
		"2024-06-05-000000",
	}
	for _, s := range stamps {
		store.objects[archivePrefix+s+".tar.gz"] = []byte("x")
	}

	svc := NewBackupService(store, nil, t.TempDir(), 3, zerolog.Nop())
	require.NoError(t, svc.Rotate(context.Background()))

	assert.Len(t, store.objects, 3)
	assert.Contains(t, store.deleted, archivePrefix+"2024-06-01-000000.tar.gz")
	assert.Contains(t, store.deleted, archivePrefix+"2024-06-02-000000.tar.gz")
	assert.Contains(t, store.objects, archivePrefix+"2024-06-05-000000.tar.gz")
}

func TestBackupKeepFloor(t *testing.T) {
	// A keep below the built-in minimum is raised to it.
	svc := NewBackupService(newMemStore(), nil, t.TempDir(), 1, zerolog.Nop())
	assert.Equal(t, minBackupsToKeep, svc.keep)
}

func TestListBackupsSortsNewestFirst(t *testing.T) {
	store := newMemStore()
	store.objects[archivePrefix+"2024-06-01-000000.tar.gz"] = []byte("a")
	store.objects[archivePrefix+"2024-06-03-000000.tar.gz"] = []byte("b")
	store.objects[archivePrefix+"not-a-timestamp.tar.gz"] = []byte("c")

	svc := NewBackupService(store, nil, t.TempDir(), 3, zerolog.Nop())
	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)

	require.Len(t, backups, 2)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))
}

func tarEntryNames(t *testing.T, archive []byte) []string {
	t.Helper()

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	require.NoError(t, err)
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}
