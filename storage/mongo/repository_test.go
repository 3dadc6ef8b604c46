package mongo

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/poiesic/archivist/storage"
	"github.com/poiesic/archivist/storage/storagetest"
	"github.com/stretchr/testify/require"
)

const testURIEnv = "ARCHIVIST_TEST_MONGODB_URI"

func TestRepositoryContract(t *testing.T) {
	uri := os.Getenv(testURIEnv)
	if uri == "" {
		t.Skipf("%s not set", testURIEnv)
	}

	storagetest.Run(t, func(t *testing.T) storage.Repository {
		repo, err := newRepository(Config{
			URI:        uri,
			Database:   "archivist_test",
			Collection: "records_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
			BatchSize:  2,
		})
		require.NoError(t, err)
		require.NoError(t, repo.Initialize(t.Context()))
		t.Cleanup(func() {
			ctx := context.Background()
			if coll, err := repo.getCollection(); err == nil {
				coll.Drop(ctx)
			}
			repo.Finalize(ctx)
		})
		return repo
	})
}
