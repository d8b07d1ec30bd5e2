package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	upstashBackend = "upstash"

	upstashRequestTimeout = 5 * time.Second
	maxUpstashErrorBody   = 4 << 10
)

// UpstashStore is the "managed" backend. Every command is a POST of a JSON
// array (command name followed by arguments) to the database REST URL.
type UpstashStore struct {
	url    string
	token  string
	client *http.Client
}

// NewUpstashStore returns a store for the Upstash REST endpoint at url.
// A nil httpClient gets a client with a short timeout.
func NewUpstashStore(url, token string, httpClient *http.Client) *UpstashStore {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: upstashRequestTimeout}
	}
	return &UpstashStore{
		url:    strings.TrimRight(url, "/"),
		token:  token,
		client: httpClient,
	}
}

type upstashResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// do sends one command and returns its raw "result" field.
func (s *UpstashStore) do(ctx context.Context, args ...string) (json.RawMessage, error) {
	op := args[0]

	body, err := json.Marshal(args)
	if err != nil {
		return nil, opError(upstashBackend, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, opError(upstashBackend, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, opError(upstashBackend, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, opError(upstashBackend, op, fmt.Errorf("failed to read response: %w", err))
	}

	var decoded upstashResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		if len(payload) > maxUpstashErrorBody {
			payload = payload[:maxUpstashErrorBody]
		}
		return nil, opError(upstashBackend, op, fmt.Errorf("unexpected response (status %d): %s", resp.StatusCode, payload))
	}

	if decoded.Error != "" {
		return nil, opError(upstashBackend, op, errors.New(decoded.Error))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, opError(upstashBackend, op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	return decoded.Result, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func (s *UpstashStore) decodeString(raw json.RawMessage, op string) (string, error) {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", opError(upstashBackend, op, fmt.Errorf("expected string result: %w", err))
	}
	return value, nil
}

func (s *UpstashStore) decodeInt(raw json.RawMessage, op string) (int64, error) {
	var value int64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, opError(upstashBackend, op, fmt.Errorf("expected integer result: %w", err))
	}
	return value, nil
}

func (s *UpstashStore) intCommand(ctx context.Context, args ...string) (int64, error) {
	raw, err := s.do(ctx, args...)
	if err != nil {
		return 0, err
	}
	return s.decodeInt(raw, args[0])
}

func (s *UpstashStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.do(ctx, "GET", key)
	if err != nil {
		return false, err
	}
	if isNull(raw) {
		return false, nil
	}
	value, err := s.decodeString(raw, "GET")
	if err != nil {
		return false, err
	}
	return true, deserialize(value, dest)
}

func (s *UpstashStore) Set(ctx context.Context, key string, value any, opts SetOptions) (bool, error) {
	if opts.NX && opts.XX {
		return false, errConflictingConditions
	}

	encoded, err := serialize(value)
	if err != nil {
		return false, err
	}

	args := []string{"SET", key, encoded}
	if opts.EX > 0 {
		args = append(args, "EX", strconv.FormatInt(ttlSeconds(opts.EX), 10))
	}
	if opts.NX {
		args = append(args, "NX")
	}
	if opts.XX {
		args = append(args, "XX")
	}

	raw, err := s.do(ctx, args...)
	if err != nil {
		return false, err
	}
	return !isNull(raw), nil
}

func (s *UpstashStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.intCommand(ctx, append([]string{"DEL"}, keys...)...)
}

func (s *UpstashStore) Unlink(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.intCommand(ctx, append([]string{"UNLINK"}, keys...)...)
}

func (s *UpstashStore) HGet(ctx context.Context, key, field string, dest any) (bool, error) {
	raw, err := s.do(ctx, "HGET", key, field)
	if err != nil {
		return false, err
	}
	if isNull(raw) {
		return false, nil
	}
	value, err := s.decodeString(raw, "HGET")
	if err != nil {
		return false, err
	}
	return true, deserialize(value, dest)
}

// HGetAll decodes the flat [field, value, field, value, ...] reply.
func (s *UpstashStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	raw, err := s.do(ctx, "HGETALL", key)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string)
	if isNull(raw) {
		return result, nil
	}

	var flat []string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, opError(upstashBackend, "HGETALL", fmt.Errorf("expected array result: %w", err))
	}
	for i := 0; i+1 < len(flat); i += 2 {
		result[flat[i]] = flat[i+1]
	}
	return result, nil
}

func (s *UpstashStore) HSet(ctx context.Context, key string, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}

	args := []string{"HSET", key}
	for field, value := range values {
		encoded, err := serialize(value)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", field, err)
		}
		args = append(args, field, encoded)
	}
	return s.intCommand(ctx, args...)
}

func (s *UpstashStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	return s.intCommand(ctx, append([]string{"HDEL", key}, fields...)...)
}

func (s *UpstashStore) HIncrBy(ctx context.Context, key, field string, increment int64) (int64, error) {
	return s.intCommand(ctx, "HINCRBY", key, field, strconv.FormatInt(increment, 10))
}

// HIncrByFloat accepts both a string reply (the Redis wire form) and a bare number.
func (s *UpstashStore) HIncrByFloat(ctx context.Context, key, field string, increment float64) (float64, error) {
	raw, err := s.do(ctx, "HINCRBYFLOAT", key, field, formatFloat(increment))
	if err != nil {
		return 0, err
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}

	text, err := s.decodeString(raw, "HINCRBYFLOAT")
	if err != nil {
		return 0, err
	}
	number, err = strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, opError(upstashBackend, "HINCRBYFLOAT", err)
	}
	return number, nil
}

func (s *UpstashStore) Publish(ctx context.Context, channel, message string) (int64, error) {
	return s.intCommand(ctx, "PUBLISH", channel, message)
}

// Scan decodes the [cursor, [keys...]] reply. The cursor comes back as a string.
func (s *UpstashStore) Scan(ctx context.Context, cursor uint64, opts ScanOptions) (uint64, []string, error) {
	args := []string{"SCAN", strconv.FormatUint(cursor, 10)}
	if opts.Match != "" {
		args = append(args, "MATCH", opts.Match)
	}
	if opts.Count > 0 {
		args = append(args, "COUNT", strconv.FormatInt(opts.Count, 10))
	}

	raw, err := s.do(ctx, args...)
	if err != nil {
		return 0, nil, err
	}

	var reply []json.RawMessage
	if err := json.Unmarshal(raw, &reply); err != nil || len(reply) != 2 {
		return 0, nil, opError(upstashBackend, "SCAN", fmt.Errorf("unexpected reply: %s", raw))
	}

	var next uint64
	var cursorText string
	if err := json.Unmarshal(reply[0], &cursorText); err == nil {
		next, err = strconv.ParseUint(cursorText, 10, 64)
		if err != nil {
			return 0, nil, opError(upstashBackend, "SCAN", err)
		}
	} else if err := json.Unmarshal(reply[0], &next); err != nil {
		return 0, nil, opError(upstashBackend, "SCAN", fmt.Errorf("unexpected cursor: %s", reply[0]))
	}

	var keys []string
	if err := json.Unmarshal(reply[1], &keys); err != nil {
		return 0, nil, opError(upstashBackend, "SCAN", fmt.Errorf("unexpected keys: %w", err))
	}
	return next, keys, nil
}

func (s *UpstashStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	n, err := s.intCommand(ctx, "EXPIRE", key, strconv.FormatInt(ttlSeconds(ttl), 10))
	return n == 1, err
}

func (s *UpstashStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, "PING")
	return err
}

// Close is a no-op: the HTTP client holds no dedicated connection.
func (s *UpstashStore) Close() error {
	return nil
}

var _ Store = (*UpstashStore)(nil)
