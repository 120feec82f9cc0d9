package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practo-harvester/internal/apiclient"
	"practo-harvester/internal/normalize"
)

type fakeSource struct {
	raws []normalize.RawRecord
	err  error

	params   apiclient.SearchParams
	pageSize int
	limit    int
}

func (f *fakeSource) All(_ context.Context, p apiclient.SearchParams, pageSize, limit int) ([]normalize.RawRecord, error) {
	f.params, f.pageSize, f.limit = p, pageSize, limit
	return f.raws, f.err
}

func apiDoctor(name, profile string) normalize.RawRecord {
	return normalize.RawRecordFromMap(map[string]interface{}{
		"name":           name,
		"specialization": "Dentist",
		"experience":     5,
		"fees":           map[string]interface{}{"consultation": 500, "amount": 300},
		"profile_url":    profile,
	})
}

func newAPIRunner(src APISource, sink *recordingSink) *APIRunner {
	opts := APIOptions{
		Params:         apiclient.SearchParams{City: "bangalore"},
		PageSize:       100,
		Limit:          500,
		ProfileBaseURL: base,
	}
	return NewAPIRunner(src, opts, normalize.NewNormalizer(normalize.DefaultOptions(), nil), sink, nil)
}

func TestAPIRunnerNormalizesAndDeduplicates(t *testing.T) {
	src := &fakeSource{raws: []normalize.RawRecord{
		apiDoctor("Dr. A", "https://www.practo.com/bangalore/doctor/a?practice_id=1"),
		apiDoctor("Dr. A", "https://practo.com/Bangalore/doctor/A"),
		apiDoctor("", "https://www.practo.com/bangalore/doctor/b"),
		apiDoctor("Dr. C", "https://www.practo.com/bangalore/doctor/c"),
	}}
	sink := &recordingSink{}

	stats, err := newAPIRunner(src, sink).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "bangalore", src.params.City)
	assert.Equal(t, 100, src.pageSize)
	assert.Equal(t, 500, src.limit)

	assert.Equal(t, 4, stats.Discovered)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 2, stats.Created)

	require.Len(t, sink.records, 2)
	first := sink.records[0]
	assert.Equal(t, profileURL("a"), first.ProfileURL)
	assert.Equal(t, "5 years", first.Experience)
	assert.Equal(t, "₹500", first.Fees)
}

func TestAPIRunnerKeepsPartialResults(t *testing.T) {
	src := &fakeSource{
		raws: []normalize.RawRecord{apiDoctor("Dr. A", profileURL("a"))},
		err:  errors.New("search doctors: retries exhausted"),
	}
	sink := &recordingSink{}

	stats, err := newAPIRunner(src, sink).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Accepted)
	assert.Contains(t, stats.StoppedReason, "partial")
	assert.Len(t, sink.records, 1)
}

func TestAPIRunnerUnreachableSource(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}

	stats, err := newAPIRunner(src, &recordingSink{}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSeedUnreachable)
	assert.Equal(t, "source unreachable", stats.StoppedReason)
}
