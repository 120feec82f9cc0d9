package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"practo-harvester/internal/checksum"
	"practo-harvester/internal/observability"
	"practo-harvester/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS doctors (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	profile_url      TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL,
	specialization   TEXT NOT NULL DEFAULT '',
	experience       TEXT NOT NULL DEFAULT '',
	qualifications   TEXT NOT NULL DEFAULT '',
	clinics          TEXT NOT NULL DEFAULT '[]',
	fees             TEXT NOT NULL DEFAULT '',
	rating           REAL NOT NULL DEFAULT 0,
	reviews_count    INTEGER NOT NULL DEFAULT 0,
	services         TEXT NOT NULL DEFAULT '[]',
	address          TEXT NOT NULL DEFAULT '',
	google_maps_link TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	availability     TEXT NOT NULL DEFAULT '{}',
	image_url        TEXT NOT NULL DEFAULT '',
	checksum         TEXT NOT NULL,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
)`

const selectColumns = `profile_url, name, specialization, experience, qualifications, clinics, fees,
	rating, reviews_count, services, address, google_maps_link, phone, availability, image_url`

// Repository: локальное хранилище по умолчанию (файл doctors_data.db)
type Repository struct {
	db             *sql.DB
	commandTimeout time.Duration
	logger         *observability.Logger
	checksum       *checksum.Generator
	now            func() time.Time
}

func NewRepository(ctx context.Context, dsn string, commandTimeout time.Duration, logger *observability.Logger) (*Repository, error) {
	if logger == nil {
		logger = observability.NewNop()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Один писатель: sqlite блокирует файл целиком
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Repository{
		db:             db,
		commandTimeout: commandTimeout,
		logger:         logger,
		checksum:       checksum.NewGenerator(),
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Upsert сохраняет запись по profile_url; неизменённая запись не переписывается
func (r *Repository) Upsert(ctx context.Context, rec *storage.DoctorRecord) (storage.UpsertResult, error) {
	key, err := storage.Key(rec)
	if err != nil {
		return storage.Skipped, err
	}
	cols, err := storage.EncodeColumns(rec)
	if err != nil {
		return storage.Skipped, err
	}
	sum := r.checksum.RecordHash(rec)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Skipped, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored string
	exists := true
	err = tx.QueryRowContext(ctx, `SELECT checksum FROM doctors WHERE profile_url = ?`, key).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return storage.Skipped, fmt.Errorf("failed to query database: %w", err)
	}

	result := storage.Classify(exists, stored, sum)
	now := r.now()

	switch result {
	case storage.Created:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO doctors (profile_url, name, specialization, experience, qualifications, clinics, fees,
				rating, reviews_count, services, address, google_maps_link, phone, availability, image_url,
				checksum, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key, rec.Name, rec.Specialization, rec.Experience, rec.Qualifications, cols.Clinics, rec.Fees,
			rec.Rating, rec.ReviewsCount, cols.Services, rec.Address, rec.GoogleMapsLink, rec.Phone,
			cols.Availability, rec.ImageURL, sum, now, now,
		)
	case storage.Updated:
		_, err = tx.ExecContext(ctx, `
			UPDATE doctors SET name = ?, specialization = ?, experience = ?, qualifications = ?, clinics = ?,
				fees = ?, rating = ?, reviews_count = ?, services = ?, address = ?, google_maps_link = ?,
				phone = ?, availability = ?, image_url = ?, checksum = ?, updated_at = ?
			WHERE profile_url = ?`,
			rec.Name, rec.Specialization, rec.Experience, rec.Qualifications, cols.Clinics,
			rec.Fees, rec.Rating, rec.ReviewsCount, cols.Services, rec.Address, rec.GoogleMapsLink,
			rec.Phone, cols.Availability, rec.ImageURL, sum, now, key,
		)
	default:
		return storage.Skipped, nil
	}
	if err != nil {
		return storage.Skipped, fmt.Errorf("failed to execute upsert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.Skipped, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return result, nil
}

// All: все записи в порядке добавления
func (r *Repository) All(ctx context.Context) ([]storage.DoctorRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM doctors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query database: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("Failed to close rows", "error", err.Error())
		}
	}()

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
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM doctors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to query database: %w", err)
	}
	return count, nil
}

// Close закрывает соединение с БД
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.commandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.commandTimeout)
}

var _ storage.Repository = (*Repository)(nil)
