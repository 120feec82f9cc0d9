package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"practo-harvester/internal/storage"
)

// Header: колонки CSV в порядке схемы записи
var Header = []string{
	"name", "specialization", "experience", "qualifications", "clinics", "fees", "rating",
	"reviews_count", "services", "address", "google_maps_link", "phone", "availability",
	"profile_url", "image_url",
}

// WriteJSON пишет массив записей с отступами; не-ASCII и HTML символы не экранируются
func WriteJSON(w io.Writer, records []storage.DoctorRecord) error {
	out := make([]storage.DoctorRecord, len(records))
	for i, rec := range records {
		out[i] = withEmptyCollections(rec)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return nil
}

// WriteCSV пишет заголовок и по строке на запись; clinics, services и
// availability кладутся JSON текстом
func WriteCSV(w io.Writer, records []storage.DoctorRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for i := range records {
		rec := withEmptyCollections(records[i])
		cols, err := storage.EncodeColumns(&rec)
		if err != nil {
			return err
		}
		if err := cw.Write([]string{
			rec.Name,
			rec.Specialization,
			rec.Experience,
			rec.Qualifications,
			cols.Clinics,
			rec.Fees,
			strconv.FormatFloat(rec.Rating, 'f', -1, 64),
			strconv.Itoa(rec.ReviewsCount),
			cols.Services,
			rec.Address,
			rec.GoogleMapsLink,
			rec.Phone,
			cols.Availability,
			rec.ProfileURL,
			rec.ImageURL,
		}); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ToFile выбирает формат по расширению (.json или .csv)
func ToFile(path string, records []storage.DoctorRecord) (err error) {
	var write func(io.Writer, []storage.DoctorRecord) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		write = WriteJSON
	case ".csv":
		write = WriteCSV
	default:
		return fmt.Errorf("unsupported export format %q (want .json or .csv)", filepath.Ext(path))
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close export file: %w", closeErr)
		}
	}()

	return write(f, records)
}

func withEmptyCollections(rec storage.DoctorRecord) storage.DoctorRecord {
	if rec.Clinics == nil {
		rec.Clinics = []storage.Clinic{}
	}
	if rec.Services == nil {
		rec.Services = []string{}
	}
	if rec.Availability == nil {
		rec.Availability = map[string][]string{}
	}
	return rec
}
