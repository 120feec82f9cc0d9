package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practo-harvester/internal/storage"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "doctors.db")
	repo, err := NewRepository(context.Background(), dsn, 5*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func record(url, name string) *storage.DoctorRecord {
	return &storage.DoctorRecord{
		Name:           name,
		Specialization: "Dentist",
		Experience:     "12 years",
		Clinics: []storage.Clinic{
			{Name: "Smile Clinic", Address: "Indiranagar, Bangalore", GoogleMapsLink: "https://maps.google.com/?q=1"},
		},
		Fees:           "₹500",
		Rating:         4.5,
		ReviewsCount:   120,
		Services:       []string{"Root Canal", "Scaling"},
		Address:        "Indiranagar, Bangalore",
		GoogleMapsLink: "https://maps.google.com/?q=1",
		Availability:   map[string][]string{"Mon": {"10:00 AM - 01:00 PM"}},
		ProfileURL:     url,
	}
}

func TestUpsertCreatedSkippedUpdated(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	url := "https://www.practo.com/bangalore/doctor/asha-rao"

	res, err := repo.Upsert(ctx, record(url, "Dr. Asha Rao"))
	require.NoError(t, err)
	assert.Equal(t, storage.Created, res)

	res, err = repo.Upsert(ctx, record(url, "Dr. Asha Rao"))
	require.NoError(t, err)
	assert.Equal(t, storage.Skipped, res)

	changed := record(url, "Dr. Asha Rao")
	changed.Fees = "₹700"
	res, err = repo.Upsert(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, storage.Updated, res)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	if diff := cmp.Diff(*changed, all[0]); diff != "" {
		t.Errorf("stored record mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertRequiresProfileURL(t *testing.T) {
	repo := newRepo(t)

	_, err := repo.Upsert(context.Background(), record("  ", "Dr. Nobody"))
	assert.ErrorIs(t, err, storage.ErrMissingKey)
}

func TestAllKeepsInsertionOrderAndEmptyCollections(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	bare := &storage.DoctorRecord{Name: "Dr. B", ProfileURL: "https://www.practo.com/bangalore/doctor/b"}
	_, err := repo.Upsert(ctx, record("https://www.practo.com/bangalore/doctor/a", "Dr. A"))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, bare)
	require.NoError(t, err)

	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Dr. A", all[0].Name)
	assert.Equal(t, "Dr. B", all[1].Name)
	assert.NotNil(t, all[1].Clinics)
	assert.Empty(t, all[1].Clinics)
	assert.Empty(t, all[1].Services)
	assert.Empty(t, all[1].Availability)
}
