package fetcher

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited: сервер ответил 429 или вернул страницу-заглушку троттлинга
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient: сетевой сбой, таймаут или 5xx
	ErrTransient = errors.New("transient failure")
)

type ErrorKind int

const (
	KindRetriesExhausted ErrorKind = iota
	KindPermanent
	KindDisallowed
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindRetriesExhausted:
		return "retries_exhausted"
	case KindPermanent:
		return "permanent"
	case KindDisallowed:
		return "disallowed"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// FetchError: окончательная ошибка получения одного URL
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsKind проверяет, что err: FetchError указанного вида
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}
