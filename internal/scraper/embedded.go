package scraper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/titanous/json5"
)

var matcherCache sync.Map // css -> cascadia.Selector

func compile(css string) (cascadia.Selector, error) {
	if m, ok := matcherCache.Load(css); ok {
		return m.(cascadia.Selector), nil
	}
	m, err := cascadia.Compile(css)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", css, err)
	}
	matcherCache.Store(css, m)
	return m, nil
}

// extractEmbedded читает данные, которые страница кладёт в <script>:
// JSON-LD или присваивание вида window.__INITIAL_STATE__ = {...}.
// Скрипты: JS-литералы, поэтому разбираются json5 (одинарные кавычки, хвостовые запятые).
func (r Rule) extractEmbedded(scope *goquery.Selection) ([]string, error) {
	matcher, err := compile(r.Script)
	if err != nil {
		return nil, err
	}

	var (
		out      []string
		firstErr error
	)
	scope.FindMatcher(matcher).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if r.Marker != "" {
			idx := strings.Index(text, r.Marker)
			if idx < 0 {
				return true
			}
			text = text[idx+len(r.Marker):]
		}
		literal, ok := balancedLiteral(text)
		if !ok {
			return true
		}

		var data interface{}
		if err := json5.Unmarshal([]byte(literal), &data); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("embedded data: %w", err)
			}
			return true
		}

		value, found := walkPath(data, r.Path)
		if !found {
			return true
		}
		out = append(out, flatten(value, r.Raw)...)
		return len(out) == 0
	})

	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// balancedLiteral вырезает первый объект или массив с учётом вложенности и строк
func balancedLiteral(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}

	depth := 0
	var quote byte
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// walkPath идёт по "a.b.0.c". На массиве без числового индекса берётся
// первый элемент, в котором есть ключ.
func walkPath(data interface{}, path string) (interface{}, bool) {
	if path == "" {
		return data, true
	}
	cur := data
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			if idx, err := strconv.Atoi(key); err == nil {
				if idx < 0 || idx >= len(node) {
					return nil, false
				}
				cur = node[idx]
				continue
			}
			found := false
			for _, item := range node {
				if m, ok := item.(map[string]interface{}); ok {
					if next, ok := m[key]; ok {
						cur = next
						found = true
						break
					}
				}
			}
			if !found {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

func flatten(v interface{}, raw bool) []string {
	if raw {
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return []string{string(b)}
	}

	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := scalarString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := scalarString(t); s != "" {
			return []string{s}
		}
		return nil
	}
}

func scalarString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
