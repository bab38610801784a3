package bliss

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/micro-ha/finder-bliss-bridge/internal/model"
)

const (
	defaultSyncURL = "https://bliss.iot.findernet.com"
	negotiatePath  = "/_sync/negotiate"
	syncPath       = "/_sync"

	pingInterval = 15 * time.Second
	syncTimeout  = 15 * time.Second
	ackTimeout   = 5 * time.Second

	clientPlatform = "Android/7.1.1"
	clientModel    = "OnePlus/ONEPLUS A5000"
	clientBuild    = "166"
)

// Config carries the cloud endpoints and account credentials. Endpoint
// overrides exist for tests; empty values select the production URLs.
type Config struct {
	AccountsURL string
	SyncURL     string
	Username    string
	Password    string
}

// Client maintains one authenticated sync session against the Bliss cloud.
// All calls are serialized; the session is torn down on any protocol error
// and re-established lazily by the next call.
type Client struct {
	cfg    Config
	auth   *Authenticator
	httpc  *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	clientID    string
	syncVersion int64
	stopPing    chan struct{}

	now   func() time.Time
	newID func() string
}

func New(cfg Config, logger *slog.Logger) *Client {
	if strings.TrimSpace(cfg.SyncURL) == "" {
		cfg.SyncURL = defaultSyncURL
	}
	cfg.SyncURL = strings.TrimSuffix(cfg.SyncURL, "/")

	httpc := &http.Client{Timeout: 15 * time.Second}
	return &Client{
		cfg:      cfg,
		auth:     NewAuthenticator(cfg.AccountsURL, cfg.Username, cfg.Password, httpc),
		httpc:    httpc,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
		clientID: uuid.NewString(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// ValidateCredentials performs a login without opening a sync session.
// Rejected credentials surface as *AuthError.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	_, err := c.auth.Token(ctx)
	return err
}

// Devices requests a full passive sync and returns the parsed thermostat
// list. The server sync version is tracked for subsequent setters.
func (c *Client) Devices(ctx context.Context) ([]model.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	payload, err := c.requestSync(ctx)
	if err != nil {
		c.teardown()
		return nil, err
	}
	return ParseDevices(payload, c.now().UTC())
}

// ApplySettings sends an active sync carrying the device with a replaced
// settings document and waits for the server to acknowledge with a new sync
// version. The caller re-syncs to observe the applied state.
func (c *Client) ApplySettings(ctx context.Context, device model.Device, settingsJSON string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	clientPayload, err := encodeClientPayload(device, settingsJSON)
	if err != nil {
		return err
	}

	previous := c.syncVersion
	zero := int64(0)
	request := invocation{
		Type:   messageTypeInvocation,
		Target: targetSyncRequest,
		Arguments: []any{syncArgument{
			ClientID:           c.clientID,
			ClientOperationID:  c.newID(),
			ClientOperationKey: operationKeyAll,
			ClientSyncVersion:  previous,
			ServerSyncVersion:  &zero,
			Stamp:              c.stamp(),
			Status:             statusActive,
			ClientPayload:      &clientPayload,
		}},
	}
	if err := c.writeFrame(request); err != nil {
		c.teardown()
		return err
	}

	deadline := c.now().Add(ackTimeout)
	for c.now().Before(deadline) {
		messages, err := c.readFrames(ctx, ackTimeout)
		if err != nil {
			c.teardown()
			return err
		}
		for _, msg := range messages {
			if !msg.isSync() {
				continue
			}
			for _, arg := range msg.Arguments {
				if arg.ServerSyncVersion != nil {
					c.syncVersion = *arg.ServerSyncVersion
					return nil
				}
			}
		}
	}
	return fmt.Errorf("no acknowledgment within %s", ackTimeout)
}

// Close shuts down the sync session. The client stays usable; the next call
// reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown()
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	token, err := c.auth.Token(ctx)
	if err != nil {
		return err
	}

	connectionID, err := c.negotiate(ctx, token)
	if err != nil {
		return err
	}

	wsURL, err := toWebsocketURL(c.cfg.SyncURL + syncPath + "?id=" + url.QueryEscape(connectionID))
	if err != nil {
		return err
	}
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.auth.Invalidate()
			return &AuthError{Err: err}
		}
		return fmt.Errorf("sync dial: %w", err)
	}
	c.conn = conn

	if err := c.handshake(ctx); err != nil {
		c.teardown()
		return err
	}

	c.stopPing = make(chan struct{})
	go c.keepalive(conn, c.stopPing)

	c.logger.Info("bliss sync session established")
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	if err := c.writeFrame(handshakeRequest{Protocol: "json", Version: 1}); err != nil {
		return err
	}
	messages, err := c.readFrames(ctx, syncTimeout)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if msg.Error != "" {
			return fmt.Errorf("handshake rejected: %s", msg.Error)
		}
	}

	init := invocation{
		Type:   messageTypeInvocation,
		Target: targetInitRequest,
		Arguments: []any{initArgument{
			ClientID:       c.clientID,
			Stamp:          c.stamp(),
			ClientPlatform: clientPlatform,
			ClientModel:    clientModel,
			ClientBuild:    clientBuild,
		}},
	}
	if err := c.writeFrame(init); err != nil {
		return err
	}

	deadline := c.now().Add(syncTimeout)
	for c.now().Before(deadline) {
		messages, err := c.readFrames(ctx, syncTimeout)
		if err != nil {
			return err
		}
		for _, msg := range messages {
			if msg.isAck() {
				return nil
			}
		}
	}
	return fmt.Errorf("timeout waiting for init acknowledgment")
}

func (c *Client) requestSync(ctx context.Context) (string, error) {
	zero := int64(0)
	request := invocation{
		Type:   messageTypeInvocation,
		Target: targetSyncRequest,
		Arguments: []any{syncArgument{
			ClientID:           c.clientID,
			ClientOperationID:  zeroUUID,
			ClientOperationKey: operationKeyAll,
			ClientSyncVersion:  0,
			ServerSyncVersion:  &zero,
			Stamp:              c.stamp(),
			Status:             statusSync,
			UserID:             zeroUUID,
		}},
	}
	if err := c.writeFrame(request); err != nil {
		return "", err
	}

	deadline := c.now().Add(syncTimeout)
	for c.now().Before(deadline) {
		messages, err := c.readFrames(ctx, syncTimeout)
		if err != nil {
			return "", err
		}
		for _, msg := range messages {
			if !msg.isSync() {
				continue
			}
			for _, arg := range msg.Arguments {
				if arg.ServerPayload == nil {
					continue
				}
				if arg.ServerSyncVersion != nil {
					c.syncVersion = *arg.ServerSyncVersion
				}
				return *arg.ServerPayload, nil
			}
		}
	}
	return "", fmt.Errorf("timeout waiting for sync payload")
}

func (c *Client) negotiate(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SyncURL+negotiatePath, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("negotiate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.auth.Invalidate()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", &AuthError{Err: fmt.Errorf("negotiate status %d: %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("negotiate status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("negotiate: %w", err)
	}
	if payload.ConnectionID == "" {
		return "", fmt.Errorf("negotiate: empty connectionId")
	}
	return payload.ConnectionID, nil
}

func (c *Client) writeFrame(v any) error {
	frame, err := encodeFrame(v)
	if err != nil {
		return err
	}
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readFrames(ctx context.Context, timeout time.Duration) ([]serverMessage, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	deadline := c.now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return decodeFrames(data)
}

func (c *Client) keepalive(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (c *Client) teardown() {
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// stamp renders the ISO8601 UTC timestamp with microsecond precision that
// the sync endpoint expects.
func (c *Client) stamp() string {
	return c.now().UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}

// encodeClientPayload wraps a device into the nested clientPayload string:
// the device's settings/measures/schedules stay JSON strings inside a
// compact outer document.
func encodeClientPayload(device model.Device, settingsJSON string) (string, error) {
	wire := map[string]any{
		"handle":        device.Handle,
		"serialNumber":  device.SerialNumber,
		"name":          device.Name,
		"settings":      settingsJSON,
		"measures":      device.RawMeasures,
		"schedules":     device.RawSchedules,
		"houseHandle":   device.HouseHandle,
		"tag":           device.Tag,
		"channel":       device.Channel,
		"status":        statusPending,
		"syncVersion":   0,
		"isDeleted":     device.IsDeleted,
		"role":          device.Role,
		"gatewayHandle": device.GatewayHandle,
	}
	data, err := json.Marshal(map[string]any{"devices": []any{wire}})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func toWebsocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}
