package checksum

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"practo-harvester/internal/storage"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// RecordHash генерирует SHA256 хеш контента записи врача.
// Порядок дней availability сортируется, порядок клиник и услуг сохраняется.
func (g *Generator) RecordHash(rec *storage.DoctorRecord) string {
	var b strings.Builder

	fields := []string{
		rec.ProfileURL,
		rec.Name,
		rec.Specialization,
		rec.Experience,
		rec.Qualifications,
		rec.Fees,
		fmt.Sprintf("%.2f", rec.Rating),
		fmt.Sprintf("%d", rec.ReviewsCount),
		rec.Address,
		rec.GoogleMapsLink,
		rec.Phone,
		rec.ImageURL,
	}
	b.WriteString(strings.Join(fields, "|"))

	for _, c := range rec.Clinics {
		fmt.Fprintf(&b, "|c:%s;%s;%s", c.Name, c.Address, c.GoogleMapsLink)
	}
	for _, s := range rec.Services {
		fmt.Fprintf(&b, "|s:%s", s)
	}

	days := make([]string, 0, len(rec.Availability))
	for day := range rec.Availability {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		fmt.Fprintf(&b, "|a:%s=%s", day, strings.Join(rec.Availability[day], ","))
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}

// VerifyRecordHash проверяет соответствие хеша
func (g *Generator) VerifyRecordHash(expectedHash string, rec *storage.DoctorRecord) bool {
	return g.RecordHash(rec) == expectedHash
}
