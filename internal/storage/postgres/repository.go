package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"practo-harvester/internal/checksum"
	"practo-harvester/internal/observability"
	"practo-harvester/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS doctors (
	id               BIGSERIAL PRIMARY KEY,
	profile_url      TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL,
	specialization   TEXT NOT NULL DEFAULT '',
	experience       TEXT NOT NULL DEFAULT '',
	qualifications   TEXT NOT NULL DEFAULT '',
	clinics          JSONB NOT NULL DEFAULT '[]',
	fees             TEXT NOT NULL DEFAULT '',
	rating           DOUBLE PRECISION NOT NULL DEFAULT 0,
	reviews_count    INTEGER NOT NULL DEFAULT 0,
	services         JSONB NOT NULL DEFAULT '[]',
	address          TEXT NOT NULL DEFAULT '',
	google_maps_link TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	availability     JSONB NOT NULL DEFAULT '{}',
	image_url        TEXT NOT NULL DEFAULT '',
	checksum         TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Строка не возвращается, если запись есть и checksum совпал.
// xmax = 0 только у только что вставленной строки.
const upsertQuery = `
INSERT INTO doctors (profile_url, name, specialization, experience, qualifications, clinics, fees,
	rating, reviews_count, services, address, google_maps_link, phone, availability, image_url, checksum)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10::jsonb, $11, $12, $13, $14::jsonb, $15, $16)
ON CONFLICT (profile_url) DO UPDATE SET
	name = EXCLUDED.name,
	specialization = EXCLUDED.specialization,
	experience = EXCLUDED.experience,
	qualifications = EXCLUDED.qualifications,
	clinics = EXCLUDED.clinics,
	fees = EXCLUDED.fees,
	rating = EXCLUDED.rating,
	reviews_count = EXCLUDED.reviews_count,
	services = EXCLUDED.services,
	address = EXCLUDED.address,
	google_maps_link = EXCLUDED.google_maps_link,
	phone = EXCLUDED.phone,
	availability = EXCLUDED.availability,
	image_url = EXCLUDED.image_url,
	checksum = EXCLUDED.checksum,
	updated_at = now()
WHERE doctors.checksum <> EXCLUDED.checksum
RETURNING (xmax = 0) AS inserted`

type Repository struct {
	pool           *pgxpool.Pool
	commandTimeout time.Duration
	logger         *observability.Logger
	checksum       *checksum.Generator
}

func NewRepository(ctx context.Context, dsn string, maxConns int, commandTimeout time.Duration, logger *observability.Logger) (*Repository, error) {
	if logger == nil {
		logger = observability.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Repository{
		pool:           pool,
		commandTimeout: commandTimeout,
		logger:         logger,
		checksum:       checksum.NewGenerator(),
	}, nil
}

func (r *Repository) Upsert(ctx context.Context, rec *storage.DoctorRecord) (storage.UpsertResult, error) {
	key, err := storage.Key(rec)
	if err != nil {
		return storage.Skipped, err
	}
	cols, err := storage.EncodeColumns(rec)
	if err != nil {
		return storage.Skipped, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	var inserted bool
	err = r.pool.QueryRow(ctx, upsertQuery,
		key, rec.Name, rec.Specialization, rec.Experience, rec.Qualifications, cols.Clinics, rec.Fees,
		rec.Rating, rec.ReviewsCount, cols.Services, rec.Address, rec.GoogleMapsLink, rec.Phone,
		cols.Availability, rec.ImageURL, r.checksum.RecordHash(rec),
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Skipped, nil
	}
	if err != nil {
		return storage.Skipped, fmt.Errorf("failed to execute upsert: %w", err)
	}
	if inserted {
		return storage.Created, nil
	}
	return storage.Updated, nil
}

func (r *Repository) All(ctx context.Context) ([]storage.DoctorRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT profile_url, name, specialization, experience, qualifications, clinics::text, fees,
			rating, reviews_count, services::text, address, google_maps_link, phone, availability::text, image_url
		FROM doctors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query database: %w", err)
	}
	defer rows.Close()

	var records []storage.DoctorRecord
	for rows.Next() {
		var rec storage.DoctorRecord
		var cols storage.Columns
		if err := rows.Scan(
			&rec.ProfileURL, &rec.Name, &rec.Specialization, &rec.Experience, &rec.Qualifications,
			&cols.Clinics, &rec.Fees, &rec.Rating, &rec.ReviewsCount, &cols.Services, &rec.Address,
			&rec.GoogleMapsLink, &rec.Phone, &cols.Availability, &rec.ImageURL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		storage.DecodeColumns(&rec, cols)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return records, nil
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM doctors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to query database: %w", err)
	}
	return count, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

var _ storage.Repository = (*Repository)(nil)
