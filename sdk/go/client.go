package lightspeedsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Lightspeed HTTP API client. Quantities are exchanged as
// decimal strings.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Automation struct {
	Mode     string `json:"mode"`
	Interval string `json:"interval"`
	Timer    string `json:"timer"`
}

type Engine struct {
	Count       string     `json:"count"`
	Mass        string     `json:"mass"`
	Output      string     `json:"output"`
	Consumption string     `json:"consumption"`
	Loss        string     `json:"loss"`
	Throttle    int        `json:"throttle"`
	Thrust      string     `json:"thrust"`
	Automation  Automation `json:"automation"`
}

type Capture struct {
	Count      string     `json:"count"`
	Step       string     `json:"step"`
	Mass       string     `json:"mass"`
	Area       string     `json:"area"`
	Rate       string     `json:"rate"`
	Automation Automation `json:"automation"`
}

type Rocket struct {
	Material string            `json:"material"`
	Fuel     string            `json:"fuel"`
	Capture  Capture           `json:"capture"`
	Engines  map[string]Engine `json:"engines"`
	Velocity string            `json:"velocity"`
	Distance string            `json:"distance"`
}

// State is the game tree (partial).
type State struct {
	Lorentz         string `json:"lorentz"`
	EarthTime       string `json:"earthTime"`
	HorizonTime     string `json:"horizonTime"`
	MultitaskFactor string `json:"multitaskFactor"`
	Progression     struct {
		Departed bool            `json:"departed"`
		Unlocks  map[string]bool `json:"unlocks"`
	} `json:"progression"`
	Rocket     Rocket `json:"rocket"`
	LastUpdate int64  `json:"lastUpdate"`
}

type Derived struct {
	Distance    string `json:"distance"`
	Velocity    string `json:"velocity"`
	Mass        string `json:"mass"`
	Fuel        string `json:"fuel"`
	Thrust      string `json:"thrust"`
	Consumption string `json:"consumption"`
}

type View struct {
	SaveID  string  `json:"save_id"`
	State   State   `json:"state"`
	Derived Derived `json:"derived"`
}

// Outcome reports a build, recycle, expand or reduce. OK is false when the
// rocket could not afford it.
type Outcome struct {
	OK        bool   `json:"ok"`
	Committed string `json:"committed"`
}

type Task struct {
	ID          string `json:"id"`
	Base        string `json:"base"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Duration    string `json:"duration"`
	Progress    string `json:"progress"`
	Iteration   int    `json:"iteration"`
	Status      string `json:"status"`
}

type Research struct {
	MultitaskFactor string `json:"multitask_factor"`
	Items           []Task `json:"items"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SaveID     string         `json:"save_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type SaveInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LastUpdate int64  `json:"last_update"`
	UpdatedAt  string `json:"updated_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// DevLogin mints a development token and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, playerID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"player_id": playerID}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// State returns the current game view.
func (c *Client) State(ctx context.Context) (View, error) {
	var resp View
	err := c.do(ctx, http.MethodGet, "state", nil, &resp)
	return resp, err
}

// Save persists the running game.
func (c *Client) Save(ctx context.Context) (SaveInfo, error) {
	var resp SaveInfo
	err := c.do(ctx, http.MethodPost, "save", nil, &resp)
	return resp, err
}

func (c *Client) Build(ctx context.Context, kind, count string) (Outcome, error) {
	return c.stock(ctx, enginePath(kind, "build"), count)
}

func (c *Client) Recycle(ctx context.Context, kind, count string) (Outcome, error) {
	return c.stock(ctx, enginePath(kind, "recycle"), count)
}

func (c *Client) Expand(ctx context.Context, count string) (Outcome, error) {
	return c.stock(ctx, "capture/expand", count)
}

func (c *Client) Reduce(ctx context.Context, count string) (Outcome, error) {
	return c.stock(ctx, "capture/reduce", count)
}

func (c *Client) stock(ctx context.Context, endpoint, count string) (Outcome, error) {
	var resp Outcome
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"count": count}, &resp)
	return resp, err
}

// SetThrottle sets an engine throttle percentage.
func (c *Client) SetThrottle(ctx context.Context, kind string, throttle int) (View, error) {
	var resp View
	err := c.do(ctx, http.MethodPut, enginePath(kind, "throttle"), map[string]any{"throttle": throttle}, &resp)
	return resp, err
}

// SetEngineAutomation sets an engine policy. An empty interval keeps the current one.
func (c *Client) SetEngineAutomation(ctx context.Context, kind, mode, interval string) (View, error) {
	var resp View
	err := c.do(ctx, http.MethodPut, enginePath(kind, "automation"), automationBody(mode, interval), &resp)
	return resp, err
}

func (c *Client) SetCaptureAutomation(ctx context.Context, mode, interval string) (View, error) {
	var resp View
	err := c.do(ctx, http.MethodPut, "capture/automation", automationBody(mode, interval), &resp)
	return resp, err
}

// Research lists tasks across all partitions.
func (c *Client) Research(ctx context.Context) (Research, error) {
	var resp Research
	err := c.do(ctx, http.MethodGet, "research", nil, &resp)
	return resp, err
}

func (c *Client) ActivateResearch(ctx context.Context, id string) (Research, error) {
	var resp Research
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("research/%s/activate", url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) DeactivateResearch(ctx context.Context, id string) (Research, error) {
	var resp Research
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("research/%s/deactivate", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// StreamURL returns the websocket feed address, carrying the bearer token.
func (c *Client) StreamURL() string {
	u := c.base() + "/ws"
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	if c.BearerToken != "" {
		u += "?access_token=" + url.QueryEscape(c.BearerToken)
	}
	return u
}

func enginePath(kind, verb string) string {
	return fmt.Sprintf("engines/%s/%s", url.PathEscape(kind), verb)
}

func automationBody(mode, interval string) map[string]any {
	body := map[string]any{"mode": mode}
	if interval != "" {
		body["interval"] = interval
	}
	return body
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
