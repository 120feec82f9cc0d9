package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingKey: у записи нет profile_url, сохранить её не по чему
var ErrMissingKey = errors.New("record has no profile_url")

// Clinic: одна клиника врача; хранится, только если есть name или address
type Clinic struct {
	Name           string `json:"name"`
	Address        string `json:"address"`
	GoogleMapsLink string `json:"google_maps_link"`
}

// DoctorRecord: каноническая запись врача, готовая к сохранению.
// Имена JSON полей: контракт схемы для всех хранилищ и экспорта.
type DoctorRecord struct {
	Name           string              `json:"name"`
	Specialization string              `json:"specialization"`
	Experience     string              `json:"experience"`
	Qualifications string              `json:"qualifications"`
	Clinics        []Clinic            `json:"clinics"`
	Fees           string              `json:"fees"`
	Rating         float64             `json:"rating"`
	ReviewsCount   int                 `json:"reviews_count"`
	Services       []string            `json:"services"`
	Address        string              `json:"address"`
	GoogleMapsLink string              `json:"google_maps_link"`
	Phone          string              `json:"phone"`
	Availability   map[string][]string `json:"availability"`
	ProfileURL     string              `json:"profile_url"`
	ImageURL       string              `json:"image_url"`
}

// UpsertResult: что произошло с записью в хранилище
type UpsertResult int

const (
	Skipped UpsertResult = iota
	Created
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "skipped"
	}
}

// Sink принимает принятые записи; ключ: ProfileURL
type Sink interface {
	// Upsert сохраняет или обновляет запись
	Upsert(ctx context.Context, rec *DoctorRecord) (UpsertResult, error)
}

// Reader читает сохранённые записи (для экспорта и статистики)
type Reader interface {
	All(ctx context.Context) ([]DoctorRecord, error)
	Count(ctx context.Context) (int, error)
}

// Repository: полное хранилище: запись, чтение, закрытие
type Repository interface {
	Sink
	Reader
	Close() error
}

// Columns: сериализованные вложенные поля записи для SQL хранилищ
type Columns struct {
	Clinics      string
	Services     string
	Availability string
}

// EncodeColumns кодирует вложенные поля в JSON текст
func EncodeColumns(rec *DoctorRecord) (Columns, error) {
	clinics := rec.Clinics
	if clinics == nil {
		clinics = []Clinic{}
	}
	services := rec.Services
	if services == nil {
		services = []string{}
	}
	availability := rec.Availability
	if availability == nil {
		availability = map[string][]string{}
	}

	c, err := marshalText(clinics)
	if err != nil {
		return Columns{}, fmt.Errorf("failed to encode clinics: %w", err)
	}
	s, err := marshalText(services)
	if err != nil {
		return Columns{}, fmt.Errorf("failed to encode services: %w", err)
	}
	a, err := marshalText(availability)
	if err != nil {
		return Columns{}, fmt.Errorf("failed to encode availability: %w", err)
	}

	return Columns{Clinics: c, Services: s, Availability: a}, nil
}

// marshalText: JSON без экранирования HTML ("&" остаётся "&") и без перевода строки
func marshalText(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// DecodeColumns восстанавливает вложенные поля; битый JSON даёт пустые значения
func DecodeColumns(rec *DoctorRecord, cols Columns) {
	rec.Clinics = []Clinic{}
	rec.Services = []string{}
	rec.Availability = map[string][]string{}

	if cols.Clinics != "" {
		_ = json.Unmarshal([]byte(cols.Clinics), &rec.Clinics)
	}
	if cols.Services != "" {
		_ = json.Unmarshal([]byte(cols.Services), &rec.Services)
	}
	if cols.Availability != "" {
		_ = json.Unmarshal([]byte(cols.Availability), &rec.Availability)
	}
}

// Key: ключ upsert
func Key(rec *DoctorRecord) (string, error) {
	key := strings.TrimSpace(rec.ProfileURL)
	if key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}

// Classify решает исход upsert по наличию записи и совпадению контрольной суммы
func Classify(exists bool, storedCheckSum, newCheckSum string) UpsertResult {
	if !exists {
		return Created
	}
	if storedCheckSum == newCheckSum {
		return Skipped
	}
	return Updated
}
