package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practo-harvester/internal/storage"
)

func sample() []storage.DoctorRecord {
	return []storage.DoctorRecord{
		{
			Name:           "Dr. Asha Rao",
			Specialization: "Dentist",
			Experience:     "12 years",
			Clinics:        []storage.Clinic{{Name: "Smile & Co", Address: "Indiranagar"}},
			Fees:           "₹500",
			Rating:         4.5,
			ReviewsCount:   120,
			Services:       []string{"Root Canal"},
			Address:        "Indiranagar",
			Availability:   map[string][]string{"Mon": {"10:00 AM - 01:00 PM"}},
			ProfileURL:     "https://www.practo.com/bangalore/doctor/asha-rao",
		},
		{Name: "Dr. Bare", ProfileURL: "https://www.practo.com/bangalore/doctor/bare"},
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sample()))

	out := buf.String()
	assert.Contains(t, out, `"fees": "₹500"`)
	assert.Contains(t, out, `"name": "Smile & Co"`)
	assert.Contains(t, out, "\n  {")

	var decoded []storage.DoctorRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	if diff := cmp.Diff(sample()[0], decoded[0]); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	// Пустые коллекции: [] и {}, а не null
	assert.NotNil(t, decoded[1].Clinics)
	assert.NotNil(t, decoded[1].Services)
	assert.NotNil(t, decoded[1].Availability)
}

func TestWriteJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])

	first := rows[1]
	assert.Equal(t, "Dr. Asha Rao", first[0])
	assert.Equal(t, `[{"name":"Smile & Co","address":"Indiranagar","google_maps_link":""}]`, first[4])
	assert.Equal(t, "4.5", first[6])
	assert.Equal(t, "120", first[7])
	assert.Equal(t, `{"Mon":["10:00 AM - 01:00 PM"]}`, first[12])

	bare := rows[2]
	assert.Equal(t, "[]", bare[4])
	assert.Equal(t, "0", bare[6])
	assert.Equal(t, "{}", bare[12])
}

func TestToFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "out", "doctors.json")
	require.NoError(t, ToFile(jsonPath, sample()))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "["))

	csvPath := filepath.Join(dir, "doctors.CSV")
	require.NoError(t, ToFile(csvPath, sample()))
	data, err = os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "name,specialization"))

	assert.Error(t, ToFile(filepath.Join(dir, "doctors.xml"), sample()))
}
