package telephony

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/assistly/callcenter-service/internal/domain"
	"github.com/assistly/callcenter-service/internal/phone"
	"github.com/assistly/callcenter-service/pkg/logger"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// TwilioConfig holds the provider credentials and the operator's
// browser client identity calls are redirected to on answer.
type TwilioConfig struct {
	AccountSID    string
	AuthToken     string
	AgentClientID string
}

// TwilioWorkspace adapts the Twilio REST API to the WorkspaceSDK
// capability surface. Connect validates the credentials and fetches
// media credentials for the embedded widget; Answer redirects the
// ringing provider call to the operator's browser client.
type TwilioWorkspace struct {
	client  *twilio.RestClient
	config  TwilioConfig
	mutex   sync.RWMutex
	ready   bool
	onReady func()
	onError func(error)
}

// NewTwilioWorkspace creates the Twilio workspace adapter.
func NewTwilioWorkspace(config TwilioConfig) *TwilioWorkspace {
	return &TwilioWorkspace{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: config.AccountSID,
			Password: config.AuthToken,
		}),
		config: config,
	}
}

// OnReady registers the ready callback.
func (w *TwilioWorkspace) OnReady(cb func()) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.onReady = cb
}

// OnError registers the error callback.
func (w *TwilioWorkspace) OnError(cb func(error)) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.onError = cb
}

// IsReady reports whether the workspace handle is usable.
func (w *TwilioWorkspace) IsReady() bool {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.ready
}

// Connect validates the provider credentials by requesting media
// credentials, then signals readiness through the registered callback.
// The result always arrives via OnReady/OnError; the return value only
// covers failures to start the attempt.
func (w *TwilioWorkspace) Connect(ctx context.Context) error {
	if w.config.AccountSID == "" || w.config.AuthToken == "" {
		return fmt.Errorf("%w: missing account SID or auth token", phone.ErrInvalidCredentials)
	}

	go func() {
		params := &api.CreateTokenParams{}
		resp, err := w.client.Api.CreateToken(params)
		if err != nil {
			w.fireError(mapTwilioError(err))
			return
		}
		if resp.IceServers != nil {
			logger.Base().Info("Provider media credentials fetched", zap.Int("ice_servers", len(*resp.IceServers)))
		}

		w.mutex.Lock()
		w.ready = true
		cb := w.onReady
		w.mutex.Unlock()
		if cb != nil {
			cb()
		}
	}()

	return nil
}

// Answer redirects the ringing call to the operator's browser client.
func (w *TwilioWorkspace) Answer(externalCallID string) error {
	if !w.IsReady() {
		return phone.ErrNotConnected
	}
	twiml := fmt.Sprintf("<Response><Dial><Client>%s</Client></Dial></Response>", w.config.AgentClientID)
	params := &api.UpdateCallParams{}
	params.SetTwiml(twiml)
	if _, err := w.client.Api.UpdateCall(externalCallID, params); err != nil {
		return fmt.Errorf("failed to answer call %s: %w", externalCallID, mapTwilioError(err))
	}
	logger.Base().Info("Call redirected to browser client",
		zap.String("external_call_id", externalCallID),
		zap.String("client_id", w.config.AgentClientID))
	return nil
}

func (w *TwilioWorkspace) fireError(err error) {
	w.mutex.Lock()
	w.ready = false
	cb := w.onError
	w.mutex.Unlock()
	if cb != nil {
		cb(err)
	}
}

// TwilioCommander issues authoritative call commands against the
// provider API. It is the only sanctioned path to force-terminate a
// call outside normal provider signaling.
type TwilioCommander struct {
	client *twilio.RestClient
}

// NewTwilioCommander creates a commander with its own REST client.
func NewTwilioCommander(accountSID, authToken string) *TwilioCommander {
	return &TwilioCommander{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
	}
}

// EndCall tells the provider to complete the call. No retry here:
// repeated end-call commands against the provider can have side
// effects beyond idempotent status marking, so re-invocation is left
// to the operator.
func (c *TwilioCommander) EndCall(ctx context.Context, externalCallID string, reason domain.EndReason) error {
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")

	start := time.Now()
	_, err := c.client.Api.UpdateCall(externalCallID, params)
	if err != nil {
		return fmt.Errorf("provider end-call command failed for %s: %w", externalCallID, mapTwilioError(err))
	}
	logger.Base().Info("Provider end-call command accepted",
		zap.String("external_call_id", externalCallID),
		zap.String("reason", string(reason)),
		zap.Duration("latency", time.Since(start)))
	return nil
}

// mapTwilioError folds provider HTTP failures into the classification
// errors the connection manager understands.
func mapTwilioError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "20003") || strings.Contains(strings.ToLower(msg), "authenticat"):
		return fmt.Errorf("%w: %v", phone.ErrInvalidCredentials, err)
	case strings.Contains(strings.ToLower(msg), "websocket") || strings.Contains(strings.ToLower(msg), "connection refused"):
		return fmt.Errorf("%w: %v", phone.ErrWebsocketBlocked, err)
	default:
		return err
	}
}
