package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind: тег варианта сырого значения
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindText
	KindList
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindList:
		return "list"
	case KindMapping:
		return "mapping"
	default:
		return "null"
	}
}

// Value: сырое значение поля: Number | Text | List | Mapping | Null.
// Нулевое значение Value: Null.
type Value struct {
	kind    Kind
	num     float64
	text    string
	list    []Value
	mapping map[string]Value
}

func Null() Value { return Value{} }

func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

func Text(s string) Value { return Value{kind: KindText, text: s} }

func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

func Mapping(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMapping, mapping: m}
}

// Texts оборачивает срез строк в List
func Texts(items []string) Value {
	vals := make([]Value, 0, len(items))
	for _, s := range items {
		vals = append(vals, Text(s))
	}
	return List(vals...)
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Num возвращает число, если значение: Number
func (v Value) Num() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Str возвращает строку, если значение: Text
func (v Value) Str() (string, bool) {
	return v.text, v.kind == KindText
}

// Items возвращает элементы List (nil для остальных)
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Fields возвращает поля Mapping (nil для остальных)
func (v Value) Fields() map[string]Value {
	if v.kind != KindMapping {
		return nil
	}
	return v.mapping
}

// Get читает ключ Mapping; для остальных вариантов: (Null, false)
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMapping {
		return Null(), false
	}
	f, ok := v.mapping[key]
	return f, ok
}

// Truthy повторяет правило "пустое значение = отсутствует"
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNumber:
		return v.num != 0
	case KindText:
		return v.text != ""
	case KindList:
		return len(v.list) > 0
	case KindMapping:
		return len(v.mapping) > 0
	default:
		return false
	}
}

// String: строковое представление для join и логов
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return formatNumber(v.num)
	case KindText:
		return v.text
	case KindList, KindMapping:
		b, err := json.Marshal(v.Any())
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

// Any переводит значение обратно в обобщённую JSON форму
func (v Value) Any() interface{} {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindText:
		return v.text
	case KindList:
		out := make([]interface{}, 0, len(v.list))
		for _, item := range v.list {
			out = append(out, item.Any())
		}
		return out
	case KindMapping:
		out := make(map[string]interface{}, len(v.mapping))
		for k, item := range v.mapping {
			out[k] = item.Any()
		}
		return out
	default:
		return nil
	}
}

// FromAny строит Value из результата json.Unmarshal в interface{} (и близких типов)
func FromAny(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Text(t.String())
		}
		return Number(f)
	case bool:
		return Text(strconv.FormatBool(t))
	case string:
		return Text(t)
	case []string:
		return Texts(t)
	case []interface{}:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, FromAny(item))
		}
		return List(items...)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromAny(item)
		}
		return Mapping(m)
	case map[string]string:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = Text(item)
		}
		return Mapping(m)
	default:
		return Text(fmt.Sprint(t))
	}
}

// ParseJSON разбирает JSON-строку в Value
func ParseJSON(s string) (Value, error) {
	var x interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &x); err != nil {
		return Null(), err
	}
	return FromAny(x), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var x interface{}
	if err := json.Unmarshal(data, &x); err != nil {
		return err
	}
	*v = FromAny(x)
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func formatNumber(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return ""
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// RawRecord: сырая запись врача до нормализации: ключи как в ответе API
type RawRecord map[string]Value

// Get возвращает поле или Null, если поля нет
func (r RawRecord) Get(key string) Value {
	if r == nil {
		return Null()
	}
	return r[key]
}

// Identity: чем запись представляется в логах
func (r RawRecord) Identity() string {
	if s, ok := r.Get(FieldProfileURL).Str(); ok && s != "" {
		return s
	}
	if s, ok := r.Get(FieldName).Str(); ok && s != "" {
		return s
	}
	return "<unknown>"
}

// RawRecordFromMap строит запись из декодированного JSON объекта
func RawRecordFromMap(m map[string]interface{}) RawRecord {
	r := make(RawRecord, len(m))
	for k, v := range m {
		r[k] = FromAny(v)
	}
	return r
}

func (r *RawRecord) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if m == nil {
		*r = nil
		return nil
	}
	*r = RawRecordFromMap(m)
	return nil
}

// Ключи сырой записи
const (
	FieldName           = "name"
	FieldSpecialization = "specialization"
	FieldExperience     = "experience"
	FieldQualifications = "qualifications"
	FieldClinics        = "clinics"
	FieldFees           = "fees"
	FieldRating         = "rating"
	FieldReviewsCount   = "reviews_count"
	FieldServices       = "services"
	FieldPhone          = "phone"
	FieldAvailability   = "availability"
	FieldProfileURL     = "profile_url"
	FieldImageURL       = "image_url"
)
