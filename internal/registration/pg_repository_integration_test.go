package registration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telehealth-scheduling/internal/db"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dsn := os.Getenv("POSTGRES_TEST_DSN")
		if dsn == "" {
			testDBErr = fmt.Errorf("POSTGRES_TEST_DSN is not set")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		testDBPool, testDBErr = db.ConnectPostgres(ctx, dsn)
		if testDBErr != nil {
			return
		}
		testDBErr = db.ApplySchema(ctx, testDBPool, db.PatientSchema)
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func TestPgRepositoryTracksUnpublishedPatients(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	repo := NewPgRepository(pool)

	tag := uuid.NewString()[:8]
	registeredAt := time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)
	p, err := repo.Create(ctx, Patient{
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Email:        "ada+" + tag + "@example.com",
		PhoneNumber:  "+1555" + tag,
		RegisteredAt: registeredAt,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), `DELETE FROM patients WHERE id = $1`, p.ID) })

	_, err = repo.Create(ctx, Patient{
		FirstName:    "Ada",
		LastName:     "Again",
		Email:        "ada+" + tag + "@example.com",
		PhoneNumber:  "+1666" + tag,
		RegisteredAt: registeredAt,
	})
	assert.ErrorIs(t, err, ErrPatientExists)

	contains := func(list []Patient, id int64) bool {
		for _, candidate := range list {
			if candidate.ID == id {
				return true
			}
		}
		return false
	}

	pending, err := repo.FindUnpublished(ctx, registeredAt.Add(time.Minute), 1000)
	require.NoError(t, err)
	assert.True(t, contains(pending, p.ID))

	require.NoError(t, repo.MarkPublished(ctx, p.ID, registeredAt.Add(2*time.Minute)))

	pending, err = repo.FindUnpublished(ctx, registeredAt.Add(time.Minute), 1000)
	require.NoError(t, err)
	assert.False(t, contains(pending, p.ID))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PublishedAt)
	assert.True(t, registeredAt.Add(2*time.Minute).Equal(*got.PublishedAt))
}
