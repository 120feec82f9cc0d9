package fetcher

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

// RestyTransport: транспорт для JSON API. Собственные повторы resty
// выключены: повторяет только Fetcher.
type RestyTransport struct {
	client *resty.Client
}

func NewRestyTransport(baseURL, bearerToken string, timeout time.Duration) *RestyTransport {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if bearerToken != "" {
		client.SetAuthToken(bearerToken)
	}
	return &RestyTransport{client: client}
}

// NewRestyTransportWithClient оборачивает готовый клиент
func NewRestyTransportWithClient(client *resty.Client) *RestyTransport {
	return &RestyTransport{client: client}
}

func (t *RestyTransport) Do(ctx context.Context, r *Request) (*FetchResponse, error) {
	req := t.client.R().SetContext(ctx)
	for k, vals := range r.Header {
		if len(vals) > 0 {
			req.SetHeader(k, vals[0])
		}
	}

	res, err := req.Get(r.URL)
	if err != nil {
		return nil, err
	}

	finalURL := r.URL
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalURL = res.RawResponse.Request.URL.String()
	}

	return &FetchResponse{
		StatusCode: res.StatusCode(),
		Body:       res.Body(),
		URL:        finalURL,
		Headers:    res.Header(),
	}, nil
}
