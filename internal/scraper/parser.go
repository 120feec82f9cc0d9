package scraper

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	intRe     = regexp.MustCompile(`\d+`)
	decimalRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
	feeRe     = regexp.MustCompile(`(₹|Rs\.?|INR)\s*([\d,]+)`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// FirstInt: первое целое в тексте ("15 Years Experience" → 15)
func FirstInt(s string) (int, bool) {
	m := intRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FirstDecimal: первое число с необязательной дробной частью ("4.5 / 5" → 4.5)
func FirstDecimal(s string) (float64, bool) {
	m := decimalRe.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// CleanFee сводит "₹ 1,000 Consultation Fees" к "₹1000"; без суммы: текст как есть
func CleanFee(s string) string {
	s = collapse(s)
	m := feeRe.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	return "₹" + strings.ReplaceAll(m[2], ",", "")
}

// CleanPhone убирает схему tel: и лишние пробелы
func CleanPhone(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 4 && strings.EqualFold(s[:4], "tel:") {
		s = s[4:]
	}
	return collapse(s)
}

// AbsoluteURL достраивает протокол-относительные и корневые ссылки
func AbsoluteURL(raw, base string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return baseURL.ResolveReference(ref).String()
}

func normalizeURL(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	// Удаляем якоря
	if idx := strings.Index(urlStr, "#"); idx > -1 {
		urlStr = urlStr[:idx]
	}
	return urlStr
}

func collapse(s string) string {
	s = strings.ReplaceAll(s, "\u00A0", " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
