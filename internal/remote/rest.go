package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/logging"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/sethvargo/go-retry"
)

// Remote error codes that mean "no such record".
var notFoundCodes = map[int]bool{320001401: true, 320002401: true}

// Remote error codes for throttling.
var throttledCodes = map[int]bool{10002: true, 20016: true}

// TokenSource yields a valid access token, refreshing it when needed.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type RESTOptions struct {
	BaseURL string
	Tenant  string
	UserID  string
	// RequestInterval is the minimum spacing between two requests.
	RequestInterval time.Duration
	MaxRetries      uint64
	RetryBase       time.Duration
	Timeout         time.Duration
}

// REST is the HTTP implementation of Client. Pacing and retry of transient
// failures live here so callers never sleep between requests.
type REST struct {
	opts   RESTOptions
	http   *http.Client
	tokens TokenSource
	pacer  *pacer
	logger logging.Logger
}

func NewREST(opts RESTOptions, tokens TokenSource, logger logging.Logger) *REST {
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &REST{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		tokens: tokens,
		pacer:  newPacer(opts.RequestInterval),
		logger: logger.With("module", "remote"),
	}
}

type envelope struct {
	ErrorCode    int             `json:"errorCode"`
	ErrorMessage string          `json:"errorMessage"`
	Data         json.RawMessage `json:"data"`
}

type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// call posts payload to path and decodes the data member of the response
// envelope into out.
func (c *REST) call(ctx context.Context, op, path string, payload map[string]any, out any) error {
	backoff := retry.WithMaxRetries(c.opts.MaxRetries, retry.NewExponential(c.opts.RetryBase))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.once(ctx, op, path, payload, out)
		if common.IsTransient(err) {
			c.logger.Warn(ctx, "transient remote failure", "op", op, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *REST) once(ctx context.Context, op, path string, payload map[string]any, out any) error {
	if err := c.pacer.wait(ctx); err != nil {
		return err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to obtain access token: %w", op, err)
	}

	body := map[string]any{
		"corpAccessToken":   token,
		"corpId":            c.opts.Tenant,
		"currentOpenUserId": c.opts.UserID,
	}
	for k, v := range payload {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: failed to encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.opts.BaseURL, "/")+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &common.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &common.TransientError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &common.TransientError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	if env.ErrorCode != 0 {
		apiErr := &apiError{Code: env.ErrorCode, Message: env.ErrorMessage}
		switch {
		case notFoundCodes[env.ErrorCode]:
			return fmt.Errorf("%s: %w", op, common.ErrorNotFound)
		case throttledCodes[env.ErrorCode]:
			return &common.TransientError{Op: op, Err: apiErr}
		}
		return fmt.Errorf("%s: %w", op, apiErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: failed to decode data: %w", op, err)
	}
	return nil
}

func (c *REST) QueryPage(ctx context.Context, objectType string, filters []Filter, orderBy OrderBy, offset, limit int) (*Page, error) {
	fs := make([]map[string]any, 0, len(filters))
	for _, f := range filters {
		fs = append(fs, map[string]any{
			"field_name":   f.Field,
			"field_values": []any{f.Value},
			"operator":     string(f.Op),
		})
	}
	info := map[string]any{"limit": limit, "offset": offset, "filters": fs}
	if orderBy.Field != "" {
		info["orders"] = []map[string]any{{"fieldName": orderBy.Field, "isAsc": orderBy.Ascending}}
	}
	payload := map[string]any{"data": map[string]any{
		"dataObjectApiName": objectType,
		"search_query_info": info,
	}}

	var out struct {
		DataList []*models.Record `json:"dataList"`
		Total    int              `json:"total"`
	}
	if err := c.call(ctx, "query "+objectType, "/cgi/crm/v2/data/query", payload, &out); err != nil {
		return nil, err
	}
	return &Page{Records: out.DataList, Total: out.Total}, nil
}

func (c *REST) DescribeSchema(ctx context.Context, objectType string) ([]models.FieldDefinition, error) {
	payload := map[string]any{"apiName": objectType}

	var out struct {
		Describe struct {
			Fields map[string]struct {
				APIName    string `json:"api_name"`
				Label      string `json:"label"`
				Type       string `json:"type"`
				IsRequired bool   `json:"is_required"`
			} `json:"fields"`
		} `json:"describe"`
	}
	if err := c.call(ctx, "describe "+objectType, "/cgi/crm/v2/object/describe", payload, &out); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) || errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: %v", common.ErrSchemaUnsupported, err)
		}
		return nil, err
	}
	if len(out.Describe.Fields) == 0 {
		return nil, common.ErrSchemaUnsupported
	}

	fields := make([]models.FieldDefinition, 0, len(out.Describe.Fields))
	for name, f := range out.Describe.Fields {
		api := f.APIName
		if api == "" {
			api = name
		}
		fields = append(fields, models.FieldDefinition{
			APIName:    api,
			Label:      f.Label,
			CoarseType: models.CoarseTypeFromRemote(f.Type),
			Required:   f.IsRequired,
			RemoteType: f.Type,
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].APIName < fields[j].APIName })
	return fields, nil
}

func (c *REST) GetRecord(ctx context.Context, objectType, id string) (*models.Record, error) {
	payload := map[string]any{"data": map[string]any{
		"dataObjectApiName": objectType,
		"objectDataId":      id,
	}}
	var out struct {
		Data *models.Record `json:"data"`
	}
	if err := c.call(ctx, "get "+objectType, "/cgi/crm/v2/data/get", payload, &out); err != nil {
		return nil, err
	}
	if out.Data == nil || out.Data.Len() == 0 {
		return nil, common.ErrorNotFound
	}
	return out.Data, nil
}

func (c *REST) UpdateRecord(ctx context.Context, objectType, id string, fields map[string]any) error {
	data := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		data[k] = v
	}
	data["dataObjectApiName"] = objectType
	data["_id"] = id
	payload := map[string]any{"data": map[string]any{"object_data": data}}
	return c.call(ctx, "update "+objectType, "/cgi/crm/v2/data/update", payload, nil)
}

var _ Client = (*REST)(nil)
