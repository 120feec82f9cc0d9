package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"practo-harvester/internal/observability"
	"practo-harvester/internal/storage"
)

const DefaultCurrencySymbol = "₹"

var spacesRe = regexp.MustCompile(`\s+`)

// Options: настройки нормализации строк и валюты
type Options struct {
	CurrencySymbol string
	TrimNBSP       bool
	CollapseSpaces bool
}

// DefaultOptions: ₹, NBSP и пробелы чистятся
func DefaultOptions() Options {
	return Options{CurrencySymbol: DefaultCurrencySymbol, TrimNBSP: true, CollapseSpaces: true}
}

type Normalizer struct {
	opts   Options
	logger *observability.Logger
	clean  func(string) string
}

func NewNormalizer(opts Options, logger *observability.Logger) *Normalizer {
	if logger == nil {
		logger = observability.NewNop()
	}
	if opts.CurrencySymbol == "" {
		opts.CurrencySymbol = DefaultCurrencySymbol
	}
	n := &Normalizer{opts: opts, logger: logger}
	n.clean = n.CleanText
	return n
}

// Normalize переводит сырую запись в каноническую.
// Паника при разборе одной записи не выходит наружу: результат: пустая запись.
func (n *Normalizer) Normalize(raw RawRecord) (rec storage.DoctorRecord) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Normalization failed, emitting empty record",
				"raw_identity", raw.Identity(),
				"error", fmt.Sprint(r),
			)
			rec = EmptyRecord()
		}
	}()

	clinics := n.Clinics(raw.Get(FieldClinics))

	rec = storage.DoctorRecord{
		Name:           n.cleanString(raw.Get(FieldName)),
		Specialization: n.cleanString(raw.Get(FieldSpecialization)),
		Experience:     Experience(raw.Get(FieldExperience)),
		Qualifications: Qualifications(raw.Get(FieldQualifications)),
		Clinics:        clinics,
		Fees:           Fees(raw.Get(FieldFees), n.currency()),
		Rating:         Rating(raw.Get(FieldRating)),
		ReviewsCount:   ReviewsCount(raw.Get(FieldReviewsCount)),
		Services:       Services(raw.Get(FieldServices)),
		Phone:          n.cleanString(raw.Get(FieldPhone)),
		Availability:   Availability(raw.Get(FieldAvailability)),
		ProfileURL:     strings.TrimSpace(stringOf(raw.Get(FieldProfileURL))),
		ImageURL:       strings.TrimSpace(stringOf(raw.Get(FieldImageURL))),
	}

	// Адрес и ссылка на карту: из первой клиники
	if len(clinics) > 0 {
		rec.Address = clinics[0].Address
		rec.GoogleMapsLink = clinics[0].GoogleMapsLink
	}

	return rec
}

// Accept: единственное правило фильтрации: имя не пустое
func (n *Normalizer) Accept(rec *storage.DoctorRecord) bool {
	return strings.TrimSpace(rec.Name) != ""
}

// NormalizeBatch нормализует пачку и возвращает только принятые записи
func (n *Normalizer) NormalizeBatch(raws []RawRecord) []storage.DoctorRecord {
	out := make([]storage.DoctorRecord, 0, len(raws))
	for _, raw := range raws {
		rec := n.Normalize(raw)
		if n.Accept(&rec) {
			out = append(out, rec)
		}
	}
	return out
}

// EmptyRecord: запись со всеми пустыми/нулевыми полями
func EmptyRecord() storage.DoctorRecord {
	return storage.DoctorRecord{
		Clinics:      []storage.Clinic{},
		Services:     []string{},
		Availability: map[string][]string{},
	}
}

func (n *Normalizer) currency() string {
	return n.opts.CurrencySymbol
}

// cleanString: строковое поле с очисткой NBSP и пробелов по конфигу
func (n *Normalizer) cleanString(v Value) string {
	return n.clean(stringOf(v))
}

// CleanText заменяет NBSP и схлопывает пробелы (если включено)
func (n *Normalizer) CleanText(text string) string {
	if n.opts.TrimNBSP {
		text = strings.ReplaceAll(text, "\u00A0", " ")
	}
	if n.opts.CollapseSpaces {
		text = spacesRe.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(text)
}

// Clinics принимает список объектов, один объект или JSON-строку
func (n *Normalizer) Clinics(v Value) []storage.Clinic {
	clinics := []storage.Clinic{}

	if v.Kind() == KindText {
		s, _ := v.Str()
		if strings.TrimSpace(s) == "" {
			return clinics
		}
		parsed, err := ParseJSON(s)
		if err != nil {
			return clinics
		}
		v = parsed
	}

	var entries []Value
	switch v.Kind() {
	case KindList:
		entries = v.Items()
	case KindMapping:
		entries = []Value{v}
	default:
		return clinics
	}

	for _, entry := range entries {
		if entry.Kind() != KindMapping {
			continue
		}
		name, _ := entry.Get("name")
		address, _ := entry.Get("address")
		maps, _ := entry.Get("google_maps_link")

		clinic := storage.Clinic{
			Name:           n.cleanString(name),
			Address:        n.cleanString(address),
			GoogleMapsLink: strings.TrimSpace(stringOf(maps)),
		}
		if clinic.Name == "" && clinic.Address == "" {
			continue
		}
		clinics = append(clinics, clinic)
	}

	return clinics
}

// Experience: число → "N year"/"N years"; {"years": N} → то же; строка: как есть
func Experience(v Value) string {
	switch v.Kind() {
	case KindNumber:
		num, _ := v.Num()
		return yearsText(num)
	case KindText:
		s, _ := v.Str()
		return s
	case KindMapping:
		years, ok := v.Get("years")
		if !ok {
			return ""
		}
		switch years.Kind() {
		case KindNumber:
			num, _ := years.Num()
			return yearsText(num)
		case KindText:
			s, _ := years.Str()
			if num, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return yearsText(num)
			}
			return ""
		}
		return ""
	}
	return ""
}

func yearsText(num float64) string {
	if math.IsNaN(num) || math.IsInf(num, 0) {
		return ""
	}
	years := int64(num)
	if years == 1 {
		return "1 year"
	}
	return fmt.Sprintf("%d years", years)
}

// Qualifications: список → join через ", " непустых элементов; строка: как есть
func Qualifications(v Value) string {
	switch v.Kind() {
	case KindList:
		parts := make([]string, 0, len(v.Items()))
		for _, item := range v.Items() {
			if !item.Truthy() {
				continue
			}
			parts = append(parts, item.String())
		}
		return strings.Join(parts, ", ")
	case KindText:
		s, _ := v.Str()
		return s
	}
	return ""
}

// Fees: число → валюта+число; объект → consultation, затем amount; строка: как есть
func Fees(v Value, currency string) string {
	switch v.Kind() {
	case KindNumber:
		return currency + v.String()
	case KindText:
		s, _ := v.Str()
		return s
	case KindMapping:
		for _, key := range []string{"consultation", "amount"} {
			fee, ok := v.Get(key)
			if !ok || fee.IsNull() {
				continue
			}
			if fee.Kind() == KindNumber || fee.Kind() == KindText {
				return currency + strings.TrimSpace(fee.String())
			}
		}
		return ""
	}
	return ""
}

// Rating приводится к float в [0, 5]; ошибка приведения → 0
func Rating(v Value) float64 {
	var rating float64
	switch v.Kind() {
	case KindNumber:
		rating, _ = v.Num()
	case KindText:
		s, _ := v.Str()
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		rating = f
	default:
		return 0
	}

	if math.IsNaN(rating) || math.IsInf(rating, 0) || rating < 0 {
		return 0
	}
	if rating > 5 {
		return 5
	}
	return rating
}

// ReviewsCount приводится к int ≥ 0; ошибка приведения → 0
func ReviewsCount(v Value) int {
	switch v.Kind() {
	case KindNumber:
		num, _ := v.Num()
		if math.IsNaN(num) || math.IsInf(num, 0) || num < 0 || num > math.MaxInt32 {
			return 0
		}
		return int(num)
	case KindText:
		s, _ := v.Str()
		count, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || count < 0 {
			return 0
		}
		return count
	}
	return 0
}

// Services: список как есть; JSON-строка разбирается, иначе оборачивается в список
func Services(v Value) []string {
	if v.Kind() == KindText {
		s, _ := v.Str()
		if strings.TrimSpace(s) == "" {
			return []string{}
		}
		parsed, err := ParseJSON(s)
		if err != nil || parsed.Kind() != KindList {
			return []string{s}
		}
		v = parsed
	}

	services := []string{}
	for _, item := range v.Items() {
		if item.IsNull() {
			continue
		}
		s := item.String()
		if strings.TrimSpace(s) == "" {
			continue
		}
		services = append(services, s)
	}
	return services
}

// Availability: день → список слотов или одна строка; JSON-строка разбирается.
// Всё, что в итоге не объект, даёт пустое отображение.
func Availability(v Value) map[string][]string {
	out := map[string][]string{}

	if v.Kind() == KindText {
		s, _ := v.Str()
		parsed, err := ParseJSON(s)
		if err != nil {
			return out
		}
		v = parsed
	}
	if v.Kind() != KindMapping {
		return out
	}

	for day, slots := range v.Fields() {
		day = strings.TrimSpace(day)
		if day == "" {
			continue
		}
		switch slots.Kind() {
		case KindList:
			times := []string{}
			for _, slot := range slots.Items() {
				if !slot.Truthy() {
					continue
				}
				times = append(times, slot.String())
			}
			out[day] = times
		case KindText:
			s, _ := slots.Str()
			if s == "" {
				out[day] = []string{}
			} else {
				out[day] = []string{s}
			}
		}
	}

	return out
}

func stringOf(v Value) string {
	switch v.Kind() {
	case KindText, KindNumber:
		return v.String()
	}
	return ""
}
