package erpsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// erpClient talks to the Sankhya cloud gateway. Authentication is OAuth 2.0
// client credentials plus the account X-Token; the bearer token is cached
// until shortly before expiry.
type erpClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	xToken       string
	http         *http.Client
	limiter      <-chan time.Time

	mu           sync.Mutex
	bearerToken  string
	tokenExpires time.Time
}

func newERPClient() (*erpClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("ERP_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.sankhya.com.br"
	}
	clientID := strings.TrimSpace(os.Getenv("ERP_CLIENT_ID"))
	clientSecret := strings.TrimSpace(os.Getenv("ERP_CLIENT_SECRET"))
	xToken := strings.TrimSpace(os.Getenv("ERP_X_TOKEN"))
	if clientID == "" || clientSecret == "" || xToken == "" {
		return nil, errors.New("erp credentials are not configured (ERP_CLIENT_ID, ERP_CLIENT_SECRET, ERP_X_TOKEN)")
	}

	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("ERP_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &erpClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		xToken:       xToken,
		http:         &http.Client{Timeout: 30 * time.Second},
		limiter:      time.Tick(interval),
	}, nil
}

func (c *erpClient) authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && time.Now().Before(c.tokenExpires) {
		return nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/authenticate", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Token", c.xToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("erp authenticate: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("erp authenticate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		BearerToken string `json:"bearerToken"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("erp authenticate: %w", err)
	}

	switch {
	case parsed.AccessToken != "":
		c.bearerToken = parsed.AccessToken
		expires := parsed.ExpiresIn
		if expires <= 0 {
			expires = 3600
		}
		c.tokenExpires = time.Now().Add(time.Duration(expires-60) * time.Second)
	case parsed.BearerToken != "":
		c.bearerToken = parsed.BearerToken
		c.tokenExpires = time.Now().Add(55 * time.Minute)
	default:
		return errors.New("erp authenticate: no token in response")
	}
	return nil
}

type serviceResponse struct {
	Status        string          `json:"status"`
	StatusMessage string          `json:"statusMessage"`
	ResponseBody  json.RawMessage `json:"responseBody"`
}

// invokeService posts a gateway service call (service.sbr envelope) and
// returns the raw responseBody when the gateway reports status "1".
func (c *erpClient) invokeService(ctx context.Context, gatewayPath, serviceName string, requestBody any) (json.RawMessage, error) {
	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}
	<-c.limiter

	payload, err := json.Marshal(map[string]any{
		"serviceName": serviceName,
		"requestBody": requestBody,
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s%s?serviceName=%s&outputType=json", c.baseURL, gatewayPath, url.QueryEscape(serviceName))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	token := c.bearerToken
	c.mu.Unlock()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erp %s: %w", serviceName, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("erp %s: status %d: %s", serviceName, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed serviceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("erp %s: %w", serviceName, err)
	}
	if parsed.Status != "1" {
		return nil, fmt.Errorf("erp %s: %s", serviceName, parsed.StatusMessage)
	}
	return parsed.ResponseBody, nil
}

type queryResponseBody struct {
	FieldsMetadata []struct {
		Name string `json:"name"`
	} `json:"fieldsMetadata"`
	Rows [][]any `json:"rows"`
}

// executeQuery runs SQL through the DbExplorer gateway service and maps rows
// onto field-name keyed maps.
func (c *erpClient) executeQuery(ctx context.Context, sql string) ([]map[string]any, error) {
	body, err := c.invokeService(ctx, "/gateway/v1/mge/service.sbr", "DbExplorerSP.executeQuery", map[string]any{
		"sql": strings.TrimSpace(sql),
	})
	if err != nil {
		return nil, err
	}

	var parsed queryResponseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("erp query decode: %w", err)
	}
	if parsed.Rows == nil {
		return nil, nil
	}

	results := make([]map[string]any, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		obj := make(map[string]any, len(parsed.FieldsMetadata))
		for i, field := range parsed.FieldsMetadata {
			if i < len(row) {
				obj[field.Name] = row[i]
			}
		}
		results = append(results, obj)
	}
	return results, nil
}

// fld wraps a value in the gateway's {"$": value} field envelope.
func fld(v any) map[string]any {
	return map[string]any{"$": v}
}
