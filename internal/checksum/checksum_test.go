package checksum

import (
	"testing"

	"practo-harvester/internal/storage"
)

func sampleRecord() *storage.DoctorRecord {
	return &storage.DoctorRecord{
		Name:           "Dr. Asha Rao",
		Specialization: "Dentist",
		Experience:     "12 years",
		Clinics: []storage.Clinic{
			{Name: "Smile Care", Address: "Indiranagar"},
		},
		Rating:       4.5,
		ReviewsCount: 120,
		Services:     []string{"Root Canal", "Braces"},
		Availability: map[string][]string{
			"Mon": {"10:00 AM - 1:00 PM"},
			"Tue": {"5:00 PM - 8:00 PM"},
		},
		ProfileURL: "https://www.practo.com/bangalore/doctor/asha-rao-dentist",
	}
}

func TestRecordHash(t *testing.T) {
	gen := NewGenerator()

	hash1 := gen.RecordHash(sampleRecord())
	hash2 := gen.RecordHash(sampleRecord())

	// Хеш должен быть детерминированным
	if hash1 != hash2 {
		t.Errorf("Hash not deterministic: %s != %s", hash1, hash2)
	}

	// Хеш должен быть 64 символа (SHA256 hex)
	if len(hash1) != 64 {
		t.Errorf("Hash wrong length: %d, expected 64", len(hash1))
	}

	// Изменение контента должно изменить хеш
	changed := sampleRecord()
	changed.Fees = "₹800"
	if hash1 == gen.RecordHash(changed) {
		t.Errorf("Hash should change when fees change")
	}

	reordered := sampleRecord()
	reordered.Services = []string{"Braces", "Root Canal"}
	if hash1 == gen.RecordHash(reordered) {
		t.Errorf("Hash should change when service order changes")
	}
}

func TestVerifyRecordHash(t *testing.T) {
	gen := NewGenerator()
	rec := sampleRecord()

	hash := gen.RecordHash(rec)

	if !gen.VerifyRecordHash(hash, rec) {
		t.Errorf("VerifyRecordHash failed for correct data")
	}

	rec.Name = "Dr. Someone Else"
	if gen.VerifyRecordHash(hash, rec) {
		t.Errorf("VerifyRecordHash should fail for wrong name")
	}
}
