// Package untis is a small JSON-RPC client for the WebUntis timetable API.
//
// Only the calls needed to build a personal or element timetable are
// implemented: authenticate/logout, getTimetable, the master data lists
// (classes, rooms, teachers, subjects) and the time grid.
package untis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	appLog "untiscal/internal/log"
)

const (
	defaultClientName = "untiscal"
	defaultTimeout    = 15 * time.Second
	defaultRetries    = 2
	defaultRetryWait  = 250 * time.Millisecond
	maxRetryWait      = 2 * time.Second
	rpcPath           = "/WebUntis/jsonrpc.do"
)

// ErrNoSession is returned when a call is made with a nil or empty session.
var ErrNoSession = errors.New("untis: no session")

// RPCError is an error object returned by the JSON-RPC endpoint.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("untis rpc error %d: %s", e.Code, e.Message)
}

// Client talks to WebUntis servers. One Client can serve many schools and
// sessions; it holds no per-user state.
type Client struct {
	httpClient *http.Client
	// Scheme is "https" unless overridden (tests use plain http).
	Scheme     string
	ClientName string
	// MaxRetries bounds retries of a call after transport errors and 5xx
	// responses. RPC errors are never retried.
	MaxRetries    uint64
	RetryInterval time.Duration

	nextID atomic.Int64
}

// NewClient creates a Client. A nil httpClient gets a default with a 15s
// timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		httpClient:    httpClient,
		Scheme:        "https",
		ClientName:    defaultClientName,
		MaxRetries:    defaultRetries,
		RetryInterval: defaultRetryWait,
	}
}

// HostFromBaseURL strips scheme and path from a configured base URL, leaving
// the server name the API expects: "https://mese.webuntis.com/WebUntis" ->
// "mese.webuntis.com".
func HostFromBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
		_, raw, _ = strings.Cut(raw, "://")
	}
	host, _, _ := strings.Cut(raw, "/")
	return host
}

// Login authenticates and returns a new session.
func (c *Client) Login(ctx context.Context, cred Credentials) (*Session, error) {
	params := map[string]string{
		"user":     cred.Username,
		"password": cred.Password,
		"client":   c.ClientName,
	}
	var res struct {
		SessionID  string `json:"sessionId"`
		PersonType int    `json:"personType"`
		PersonID   int    `json:"personId"`
		KlasseID   int    `json:"klasseId"`
	}

	s := &Session{school: cred.School, host: cred.Host}
	if err := c.call(ctx, s, "authenticate", params, &res); err != nil {
		return nil, err
	}
	if res.SessionID == "" {
		return nil, errors.New("untis: authenticate returned no session id")
	}

	s.ID = res.SessionID
	s.PersonType = ElementType(res.PersonType)
	s.PersonID = res.PersonID

	appLog.Debug("untis login ok", "school", cred.School, "host", cred.Host, "person_type", s.PersonType)
	return s, nil
}

// Logout ends the session on the server.
func (c *Client) Logout(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return ErrNoSession
	}
	return c.call(ctx, s, "logout", struct{}{}, nil)
}

// OwnTimetable returns the timetable of the logged-in person.
func (c *Client) OwnTimetable(ctx context.Context, s *Session, start, end time.Time) ([]RawEntry, error) {
	if s == nil || s.ID == "" {
		return nil, ErrNoSession
	}
	return c.Timetable(ctx, s, start, end, s.PersonID, s.PersonType)
}

// Timetable returns the timetable of an arbitrary element (class, room, ...).
func (c *Client) Timetable(ctx context.Context, s *Session, start, end time.Time, id int, kind ElementType) ([]RawEntry, error) {
	if s == nil || s.ID == "" {
		return nil, ErrNoSession
	}
	fields := []string{"id", "name", "longname", "externalkey"}
	params := map[string]any{
		"options": map[string]any{
			"element":       map[string]any{"id": id, "type": int(kind)},
			"startDate":     FormatDate(start),
			"endDate":       FormatDate(end),
			"showLsText":    true,
			"showInfo":      true,
			"klasseFields":  fields,
			"roomFields":    fields,
			"subjectFields": fields,
			"teacherFields": fields,
		},
	}
	var out []RawEntry
	if err := c.call(ctx, s, "getTimetable", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Catalog lists the master data for kind. Classes are scoped to the current
// school year.
func (c *Client) Catalog(ctx context.Context, s *Session, kind ElementType) ([]CatalogItem, error) {
	if s == nil || s.ID == "" {
		return nil, ErrNoSession
	}

	var (
		method string
		params any = struct{}{}
	)
	switch kind {
	case ElementClass:
		var year schoolYear
		if err := c.call(ctx, s, "getCurrentSchoolyear", struct{}{}, &year); err != nil {
			return nil, err
		}
		method = "getKlassen"
		params = map[string]int{"schoolyearId": year.ID}
	case ElementRoom:
		method = "getRooms"
	case ElementTeacher:
		method = "getTeachers"
	case ElementSubject:
		method = "getSubjects"
	default:
		return nil, fmt.Errorf("untis: no catalog for element type %s", kind)
	}

	var out []CatalogItem
	if err := c.call(ctx, s, method, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TimeGrid returns the configured period slots per weekday.
func (c *Client) TimeGrid(ctx context.Context, s *Session) ([]TimeGridDay, error) {
	if s == nil || s.ID == "" {
		return nil, ErrNoSession
	}
	var out []TimeGridDay
	if err := c.call(ctx, s, "getTimegridUnits", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type rpcRequest struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	JSONRPC string `json:"jsonrpc"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, s *Session, method string, params, out any) error {
	body, err := json.Marshal(rpcRequest{
		ID:      strconv.FormatInt(c.nextID.Add(1), 10),
		Method:  method,
		Params:  params,
		JSONRPC: "2.0",
	})
	if err != nil {
		return fmt.Errorf("untis: encode %s: %w", method, err)
	}

	endpoint := url.URL{
		Scheme:   c.Scheme,
		Host:     s.host,
		Path:     rpcPath,
		RawQuery: url.Values{"school": {s.school}}.Encode(),
	}

	start := time.Now()
	raw, err := backoff.RetryNotifyWithData(func() ([]byte, error) {
		return c.post(ctx, s, method, endpoint.String(), body)
	}, c.retryPolicy(ctx), func(err error, d time.Duration) {
		appLog.Warn("untis call failed, retrying", "method", method, "host", s.host, "err", err, "next_attempt_in", d)
	})
	if err != nil {
		return err
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return fmt.Errorf("untis: %s: decode response: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("untis: %s: %w", method, rr.Error)
	}

	appLog.Debug("untis call", "method", method, "host", s.host, "took", time.Since(start))

	if out == nil || len(rr.Result) == 0 || string(rr.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("untis: %s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(c.RetryInterval),
				backoff.WithMaxInterval(maxRetryWait),
			),
			c.MaxRetries,
		),
		ctx,
	)
}

// post sends one attempt. Only transport failures and 5xx responses are
// retryable.
func (c *Client) post(ctx context.Context, s *Session, method, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.ID != "" {
		req.AddCookie(&http.Cookie{Name: "JSESSIONID", Value: s.ID})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("untis: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("untis: %s: unexpected status %s", method, resp.Status)
		if resp.StatusCode < http.StatusInternalServerError {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("untis: %s: read body: %w", method, err)
	}
	return raw, nil
}

// FormatDate encodes t as the YYYYMMDD integer the API uses.
func FormatDate(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// ParseDate decodes a YYYYMMDD integer into midnight UTC of that day.
func ParseDate(v int) (time.Time, error) {
	y, m, d := v/10000, (v/100)%100, v%100
	if y < 1 || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, fmt.Errorf("untis: invalid date %d", v)
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return time.Time{}, fmt.Errorf("untis: invalid date %d", v)
	}
	return t, nil
}
