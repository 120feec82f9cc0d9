package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"practo-harvester/internal/fetcher"
	"practo-harvester/internal/normalize"
	"practo-harvester/internal/observability"
)

const (
	searchPath           = "/practo/search/doctors"
	detailsPath          = "/practo/doctor/%s"
	byCityPath           = "/practo/doctors/city/%s"
	bySpecializationPath = "/practo/doctors/specialization/%s"
)

// Doer: fetcher.Fetcher или любой совместимый клиент
type Doer interface {
	Do(ctx context.Context, req *fetcher.Request) (*fetcher.FetchResponse, error)
}

// Client: клиент поставщика структурированных данных о врачах (EasyAPI)
type Client struct {
	http    Doer
	baseURL string
	logger  *observability.Logger
}

func New(doer Doer, baseURL string, logger *observability.Logger) *Client {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Client{
		http:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

type SearchParams struct {
	City           string
	Specialization string
	Limit          int
	Offset         int
}

type SearchResult struct {
	Doctors []normalize.RawRecord `json:"doctors"`
	Total   int                   `json:"total"`
	Offset  int                   `json:"offset"`
	Limit   int                   `json:"limit"`
}

type detailsResponse struct {
	Doctor normalize.RawRecord `json:"doctor"`
	Error  string              `json:"error"`
}

// Search: одна страница поиска
func (c *Client) Search(ctx context.Context, p SearchParams) (*SearchResult, error) {
	q := url.Values{}
	q.Set("city", p.City)
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(p.Offset))
	if p.Specialization != "" {
		q.Set("specialization", p.Specialization)
	}

	var result SearchResult
	if err := c.getJSON(ctx, searchPath, q, &result); err != nil {
		return nil, fmt.Errorf("search doctors (city=%s offset=%d): %w", p.City, p.Offset, err)
	}
	return &result, nil
}

// Details: карточка врача по id; (nil, nil), если врач не найден
func (c *Client) Details(ctx context.Context, doctorID string) (normalize.RawRecord, error) {
	var resp detailsResponse
	err := c.getJSON(ctx, fmt.Sprintf(detailsPath, url.PathEscape(doctorID)), nil, &resp)
	var fe *fetcher.FetchError
	if errors.As(err, &fe) && fe.Kind == fetcher.KindPermanent && fe.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("doctor details %s: %w", doctorID, err)
	}
	if resp.Doctor == nil {
		c.logger.Debug("Doctor not found", "doctor_id", doctorID, "api_error", resp.Error)
		return nil, nil
	}
	return resp.Doctor, nil
}

// ByCity: врачи города одним запросом
func (c *Client) ByCity(ctx context.Context, city string, limit int) ([]normalize.RawRecord, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var result SearchResult
	if err := c.getJSON(ctx, fmt.Sprintf(byCityPath, url.PathEscape(city)), q, &result); err != nil {
		return nil, fmt.Errorf("doctors by city %s: %w", city, err)
	}
	return result.Doctors, nil
}

// BySpecialization: врачи по специализации, опционально в городе
func (c *Client) BySpecialization(ctx context.Context, specialization, city string) ([]normalize.RawRecord, error) {
	q := url.Values{}
	if city != "" {
		q.Set("city", city)
	}

	var result SearchResult
	if err := c.getJSON(ctx, fmt.Sprintf(bySpecializationPath, url.PathEscape(specialization)), q, &result); err != nil {
		return nil, fmt.Errorf("doctors by specialization %s: %w", specialization, err)
	}
	return result.Doctors, nil
}

// All листает поиск по offset страницами pageSize, пока не наберёт limit,
// не получит пустую или неполную страницу или не дойдёт до total.
// При ошибке на середине возвращает уже собранное вместе с ошибкой.
func (c *Client) All(ctx context.Context, p SearchParams, pageSize, limit int) ([]normalize.RawRecord, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	var all []normalize.RawRecord
	offset := p.Offset
	for len(all) < limit {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		batchSize := min(pageSize, limit-len(all))
		page, err := c.Search(ctx, SearchParams{
			City:           p.City,
			Specialization: p.Specialization,
			Limit:          batchSize,
			Offset:         offset,
		})
		if err != nil {
			return all, err
		}

		c.logger.Info("API page fetched",
			"offset", offset,
			"received", len(page.Doctors),
			"total", page.Total,
		)

		if len(page.Doctors) == 0 {
			break
		}
		all = append(all, page.Doctors...)
		offset += len(page.Doctors)

		if len(page.Doctors) < batchSize {
			break
		}
		if page.Total > 0 && offset >= page.Total {
			break
		}
	}

	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	resp, err := c.http.Do(ctx, &fetcher.Request{URL: u})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
