package storage

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeColumnsKeepsHTMLCharacters(t *testing.T) {
	rec := &DoctorRecord{
		Clinics:      []Clinic{{Name: "Smile & Co", Address: "<Indiranagar>"}},
		Services:     []string{"Root Canal & Crowns"},
		Availability: map[string][]string{"Mon": {"10:00 AM - 01:00 PM"}},
	}

	cols, err := EncodeColumns(rec)
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"Smile & Co","address":"<Indiranagar>","google_maps_link":""}]`, cols.Clinics)
	assert.Equal(t, `["Root Canal & Crowns"]`, cols.Services)
	assert.Equal(t, `{"Mon":["10:00 AM - 01:00 PM"]}`, cols.Availability)

	var decoded DoctorRecord
	DecodeColumns(&decoded, cols)
	if diff := cmp.Diff(rec.Clinics, decoded.Clinics); diff != "" {
		t.Errorf("clinics mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, rec.Services, decoded.Services)
}

func TestEncodeColumnsEmptyCollections(t *testing.T) {
	cols, err := EncodeColumns(&DoctorRecord{})
	require.NoError(t, err)
	assert.Equal(t, Columns{Clinics: "[]", Services: "[]", Availability: "{}"}, cols)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
		stored string
		fresh  string
		want   UpsertResult
	}{
		{"new key", false, "", "abc", Created},
		{"same checksum", true, "abc", "abc", Skipped},
		{"changed checksum", true, "abc", "def", Updated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.exists, tt.stored, tt.fresh))
		})
	}
}

func TestKey(t *testing.T) {
	key, err := Key(&DoctorRecord{ProfileURL: "  https://www.practo.com/bangalore/doctor/a "})
	require.NoError(t, err)
	assert.Equal(t, "https://www.practo.com/bangalore/doctor/a", key)

	_, err = Key(&DoctorRecord{ProfileURL: "   "})
	assert.ErrorIs(t, err, ErrMissingKey)
}
