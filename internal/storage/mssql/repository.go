package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"practo-harvester/internal/checksum"
	"practo-harvester/internal/observability"
	"practo-harvester/internal/storage"
)

const schema = `
IF OBJECT_ID(N'TblDoctors', N'U') IS NULL
CREATE TABLE TblDoctors (
	[UID]            INT IDENTITY(1,1) PRIMARY KEY,
	[ProfileURL]     NVARCHAR(450) NOT NULL UNIQUE,
	[Name]           NVARCHAR(400) NOT NULL,
	[Specialization] NVARCHAR(400) NOT NULL DEFAULT '',
	[Experience]     NVARCHAR(100) NOT NULL DEFAULT '',
	[Qualifications] NVARCHAR(1000) NOT NULL DEFAULT '',
	[Clinics]        NVARCHAR(MAX) NOT NULL DEFAULT '[]',
	[Fees]           NVARCHAR(100) NOT NULL DEFAULT '',
	[Rating]         FLOAT NOT NULL DEFAULT 0,
	[ReviewsCount]   INT NOT NULL DEFAULT 0,
	[Services]       NVARCHAR(MAX) NOT NULL DEFAULT '[]',
	[Address]        NVARCHAR(1000) NOT NULL DEFAULT '',
	[GoogleMapsLink] NVARCHAR(1000) NOT NULL DEFAULT '',
	[Phone]          NVARCHAR(100) NOT NULL DEFAULT '',
	[Availability]   NVARCHAR(MAX) NOT NULL DEFAULT '{}',
	[ImageURL]       NVARCHAR(1000) NOT NULL DEFAULT '',
	[CheckSum]       CHAR(64) NOT NULL,
	[DT]             DATETIME2 NOT NULL
)`

type Repository struct {
	db             *sql.DB
	commandTimeout time.Duration
	logger         *observability.Logger
	checksum       *checksum.Generator
}

func NewRepository(ctx context.Context, dsn string, commandTimeout time.Duration, logger *observability.Logger) (*Repository, error) {
	if logger == nil {
		logger = observability.NewNop()
	}

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Тестируем соединение
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(pingCtx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Repository{
		db:             db,
		commandTimeout: commandTimeout,
		logger:         logger,
		checksum:       checksum.NewGenerator(),
	}, nil
}

// Upsert сохраняет или обновляет карточку врача.
// MERGE не трогает строку с тем же CheckSum, и OUTPUT тогда пуст.
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

	// MERGE statement для MS SQL
	query := `
		MERGE INTO TblDoctors AS target
		USING (SELECT @ProfileURL AS ProfileURL) AS source
		ON target.[ProfileURL] = source.ProfileURL
		WHEN MATCHED AND target.[CheckSum] <> @CheckSum THEN
			UPDATE SET
				[Name] = @Name,
				[Specialization] = @Specialization,
				[Experience] = @Experience,
				[Qualifications] = @Qualifications,
				[Clinics] = @Clinics,
				[Fees] = @Fees,
				[Rating] = @Rating,
				[ReviewsCount] = @ReviewsCount,
				[Services] = @Services,
				[Address] = @Address,
				[GoogleMapsLink] = @GoogleMapsLink,
				[Phone] = @Phone,
				[Availability] = @Availability,
				[ImageURL] = @ImageURL,
				[CheckSum] = @CheckSum,
				[DT] = @DT
		WHEN NOT MATCHED THEN
			INSERT ([ProfileURL], [Name], [Specialization], [Experience], [Qualifications], [Clinics], [Fees],
				[Rating], [ReviewsCount], [Services], [Address], [GoogleMapsLink], [Phone], [Availability],
				[ImageURL], [CheckSum], [DT])
			VALUES (@ProfileURL, @Name, @Specialization, @Experience, @Qualifications, @Clinics, @Fees,
				@Rating, @ReviewsCount, @Services, @Address, @GoogleMapsLink, @Phone, @Availability,
				@ImageURL, @CheckSum, @DT)
		OUTPUT $action;
	`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return storage.Skipped, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			r.logger.Error("Failed to close statement", "error", err.Error())
		}
	}()

	var action string
	err = stmt.QueryRowContext(ctx,
		sql.Named("ProfileURL", key),
		sql.Named("Name", rec.Name),
		sql.Named("Specialization", rec.Specialization),
		sql.Named("Experience", rec.Experience),
		sql.Named("Qualifications", rec.Qualifications),
		sql.Named("Clinics", cols.Clinics),
		sql.Named("Fees", rec.Fees),
		sql.Named("Rating", rec.Rating),
		sql.Named("ReviewsCount", rec.ReviewsCount),
		sql.Named("Services", cols.Services),
		sql.Named("Address", rec.Address),
		sql.Named("GoogleMapsLink", rec.GoogleMapsLink),
		sql.Named("Phone", rec.Phone),
		sql.Named("Availability", cols.Availability),
		sql.Named("ImageURL", rec.ImageURL),
		sql.Named("CheckSum", r.checksum.RecordHash(rec)),
		sql.Named("DT", time.Now().UTC()),
	).Scan(&action)

	if errors.Is(err, sql.ErrNoRows) {
		return storage.Skipped, nil
	}
	if err != nil {
		return storage.Skipped, fmt.Errorf("failed to execute upsert: %w", err)
	}

	switch action {
	case "INSERT":
		return storage.Created, nil
	case "UPDATE":
		return storage.Updated, nil
	default:
		return storage.Skipped, nil
	}
}

func (r *Repository) All(ctx context.Context) ([]storage.DoctorRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT [ProfileURL], [Name], [Specialization], [Experience], [Qualifications], [Clinics], [Fees],
			[Rating], [ReviewsCount], [Services], [Address], [GoogleMapsLink], [Phone], [Availability], [ImageURL]
		FROM TblDoctors ORDER BY [UID]`)
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

// Count: количество сохранённых врачей
func (r *Repository) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM TblDoctors`).Scan(&count); err != nil {
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

var _ storage.Repository = (*Repository)(nil)
