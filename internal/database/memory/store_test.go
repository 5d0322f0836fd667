package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examarchive/paperingest/internal/database"
	"github.com/examarchive/paperingest/internal/paper"
)

func identity() paper.Identity {
	return paper.Identity{
		Level:       "IGCSE",
		Subject:     "Mathematics",
		SubjectCode: "0580",
		Year:        2024,
		Session:     "may-june",
		PaperNumber: "12",
		PaperType:   paper.TypeMarkScheme,
	}
}

func TestInsertAndFind(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec, err := store.FindByNaturalKey(ctx, identity())
	require.NoError(t, err)
	assert.Nil(t, rec)

	id, err := store.Insert(ctx, database.NewRecord(identity(), "memory://key.pdf"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rec, err = store.FindByNaturalKey(ctx, identity())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "memory://key.pdf", rec.StorageURL)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestInsertRejectsDuplicateNaturalKey(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.Insert(ctx, database.NewRecord(identity(), "memory://a.pdf"))
	require.NoError(t, err)
	_, err = store.Insert(ctx, database.NewRecord(identity(), "memory://b.pdf"))
	assert.Error(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestFindIsCaseInsensitive(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.Insert(ctx, database.NewRecord(identity(), "memory://a.pdf"))
	require.NoError(t, err)

	upper := identity()
	upper.Level = "igcse"
	upper.Session = "May-June"
	rec, err := store.FindByNaturalKey(ctx, upper)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestUpdateVector(t *testing.T) {
	store := New()
	ctx := context.Background()

	id, err := store.Insert(ctx, database.NewRecord(identity(), "memory://a.pdf"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateVector(ctx, id, []float32{0.1, 0.2}, "text-embedding-3-small"))
	rec, err := store.FindByNaturalKey(ctx, identity())
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, rec.Vector)
	assert.Equal(t, "text-embedding-3-small", rec.VectorModel)

	assert.Error(t, store.UpdateVector(ctx, "bogus", nil, ""))
}
