package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
	"watchpost/internals/modules/callback"
	"watchpost/internals/modules/identity"
	"watchpost/internals/modules/persist"
	"watchpost/internals/modules/proto"
	"watchpost/internals/modules/registry"
	"watchpost/internals/modules/target"
	agents "watchpost/internals/modules/validator"
	"watchpost/internals/security"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// duplicateNoticeWindow caps duplicateDetected events at one per tab per
// window, so a flapping second tab cannot storm the accepted session.
const duplicateNoticeWindow = 30 * time.Second

type ValidatorStore interface {
	GetOrCreate(ctx context.Context, publicKey, endpoint string) (agents.Validator, error)
	GetByPublicKey(ctx context.Context, publicKey string) (agents.Validator, error)
	GetByID(ctx context.Context, id uuid.UUID) (agents.Validator, error)
}

type Committer interface {
	Commit(ctx context.Context, t target.Tick, ownerID uuid.UUID) (persist.Result, error)
}

type Notifier interface {
	Evaluate(ctx context.Context, targetID uuid.UUID, status target.Status, latencyMS int64) error
}

// Handler owns the persistent agent channel: the websocket upgrade, the
// per-connection read loop, and the register/resume/subscribe/taskReply
// intents.
type Handler struct {
	upgrader   websocket.Upgrader
	registry   *registry.Registry
	validators ValidatorStore
	tokens     *security.TokenService
	verifier   *identity.Verifier
	pendings   *callback.Table
	persister  Committer
	notifier   Notifier
	validate   *validator.Validate
	logger     *zerolog.Logger
}

func NewHandler(
	reg *registry.Registry,
	validators ValidatorStore,
	tokens *security.TokenService,
	verifier *identity.Verifier,
	pendings *callback.Table,
	persister Committer,
	notifier Notifier,
	validate *validator.Validate,
	logger *zerolog.Logger,
) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// agents connect from anywhere; identity is proven in-protocol
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry:   reg,
		validators: validators,
		tokens:     tokens,
		verifier:   verifier,
		pendings:   pendings,
		persister:  persister,
		notifier:   notifier,
		validate:   validate,
		logger:     logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	h.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("agent channel established")

	conn := newWSConn(ws)
	h.readLoop(r.Context(), ws, conn)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conn *wsConn) {
	defer func() {
		// idempotent: the session may already belong to a newer connection
		h.registry.RemoveConn(conn)
		_ = conn.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			h.logger.Debug().Err(err).Msg("agent channel closed")
			return
		}

		var env proto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn().Err(err).Msg("malformed agent message")
			continue
		}

		switch env.Type {
		case proto.MsgRegister:
			h.handleRegister(ctx, conn, env.Payload)
		case proto.MsgResume:
			h.handleResume(ctx, conn, env.Payload)
		case proto.MsgSubscribe:
			h.handleSubscribe(ctx, conn, env.Payload)
		case proto.MsgTaskReply:
			h.handleTaskReply(ctx, conn, env.Payload)
		default:
			h.logger.Warn().Str("type", env.Type).Msg("unknown agent message type")
		}
	}
}

// handleRegister proves ownership of a public key via a signed challenge. On
// any failure the connection gets no confirmation and stays unauthenticated.
func (h *Handler) handleRegister(ctx context.Context, conn *wsConn, payload json.RawMessage) {
	var req proto.Register
	if err := json.Unmarshal(payload, &req); err != nil || h.validate.Struct(req) != nil {
		h.logger.Warn().Msg("malformed register payload")
		return
	}

	if !security.VerifySignature(req.PublicKey, security.RegisterChallenge(req.RequestID), req.Signature) {
		h.logger.Warn().Str("request_id", req.RequestID).Msg("register signature verification failed")
		return
	}

	v, err := h.validators.GetOrCreate(ctx, req.PublicKey, req.Endpoint)
	if err != nil {
		h.logger.Error().Err(err).Msg("validator lookup/create failed")
		return
	}

	if _, exists := h.registry.ByAgent(v.ID); !exists {
		h.registry.Admit(registry.NewSession(v.ID, v.PublicKey, conn, ""))
	}

	h.reply(conn, proto.MsgRegistered, proto.Registered{AgentID: v.ID})
}

func (h *Handler) handleResume(ctx context.Context, conn *wsConn, payload json.RawMessage) {
	var req proto.Resume
	if err := json.Unmarshal(payload, &req); err != nil {
		h.logger.Warn().Msg("malformed resume payload")
		return
	}

	var v agents.Validator
	var err error
	switch {
	case req.PublicKey != "":
		v, err = h.validators.GetByPublicKey(ctx, req.PublicKey)
	case req.AgentID != uuid.Nil:
		v, err = h.validators.GetByID(ctx, req.AgentID)
	default:
		h.reply(conn, proto.MsgResumed, proto.Resumed{OK: false})
		return
	}
	if err != nil {
		h.reply(conn, proto.MsgResumed, proto.Resumed{OK: false})
		return
	}

	if req.SessionToken != "" {
		claims, err := h.tokens.ValidateSessionToken(req.SessionToken)
		if err != nil || claims.Subject != v.ID.String() {
			h.reply(conn, proto.MsgResumed, proto.Resumed{OK: false})
			return
		}
	}

	if !h.registry.Replace(v.ID, conn, req.SessionToken, req.TabID) {
		s := registry.NewSession(v.ID, v.PublicKey, conn, req.TabID)
		s.SetToken(req.SessionToken)
		h.registry.Admit(s)
	}

	h.reply(conn, proto.MsgResumed, proto.Resumed{OK: true, AgentID: v.ID})
}

func (h *Handler) handleSubscribe(ctx context.Context, conn *wsConn, payload json.RawMessage) {
	var req proto.Subscribe
	if err := json.Unmarshal(payload, &req); err != nil || h.validate.Struct(req) != nil {
		h.logger.Warn().Msg("malformed subscribe payload")
		return
	}

	v, err := h.validators.GetByPublicKey(ctx, req.PublicKey)
	if err != nil {
		h.reply(conn, proto.MsgSubscribed, proto.Subscribed{OK: false, Reason: proto.ReasonNotFound})
		return
	}

	existing, found := h.registry.ByAgent(v.ID)
	if found && existing.TabID() != req.TabID && !existing.OwnsConn(conn) {
		// a different tab already holds this agent id: reject the NEW
		// connection, warn the accepted one (rate limited per tab)
		h.reply(conn, proto.MsgSubscribed, proto.Subscribed{OK: false, Reason: proto.ReasonDuplicateConnection})

		if existing.ShouldNotifyDuplicate(req.TabID, time.Now(), duplicateNoticeWindow) {
			h.notifyDuplicate(existing, req.TabID)
		}
		return
	}

	token, err := h.tokens.GenerateSessionToken(v.ID, req.TabID)
	if err != nil {
		h.logger.Error().Err(err).Msg("session token mint failed")
		h.reply(conn, proto.MsgSubscribed, proto.Subscribed{OK: false, Reason: "internal"})
		return
	}

	if found {
		// same tab reconnect (or subscribe on the registering connection):
		// swap the session in place, closing any stale handle
		h.registry.Replace(v.ID, conn, token, req.TabID)
	} else {
		s := registry.NewSession(v.ID, v.PublicKey, conn, req.TabID)
		s.SetToken(token)
		h.registry.Admit(s)
	}

	h.reply(conn, proto.MsgSubscribed, proto.Subscribed{
		OK:           true,
		AgentID:      v.ID,
		SessionToken: token,
	})
}

// handleTaskReply correlates an asynchronous reply, verifies the claimed
// identity, and commits the result. No direct reply in any case.
func (h *Handler) handleTaskReply(ctx context.Context, conn *wsConn, payload json.RawMessage) {
	var req proto.TaskReply
	if err := json.Unmarshal(payload, &req); err != nil || h.validate.Struct(req) != nil {
		h.logger.Warn().Msg("malformed task reply payload")
		return
	}

	p, found := h.pendings.Take(req.CorrelationID)
	if !found {
		// already consumed, expired, or never dispatched
		h.logger.Debug().
			Str("correlation_id", req.CorrelationID.String()).
			Msg("task reply without pending callback dropped")
		return
	}

	publicKey, storedToken, ok := h.replyCredentials(ctx, conn, p, req)
	if !ok {
		return
	}

	if !h.verifier.VerifyReply(publicKey, storedToken, req.CorrelationID, req.Signature, req.SessionToken) {
		return
	}

	tick := target.Tick{
		ID:          uuid.New(),
		TargetID:    p.TargetID,
		ValidatorID: p.AgentID,
		Status:      target.Status(req.Status),
		LatencyMS:   req.LatencyMS,
		CreatedAt:   time.Now(),
	}

	res, err := h.persister.Commit(ctx, tick, p.OwnerID)
	if err != nil {
		h.logger.Error().Err(err).Str("tick_id", tick.ID.String()).Msg("tick commit failed")
		return
	}

	h.logger.Info().
		Str("tick_id", tick.ID.String()).
		Str("target_id", tick.TargetID.String()).
		Str("agent_id", tick.ValidatorID.String()).
		Str("status", string(tick.Status)).
		Str("link", res.Outcome.String()).
		Msg("check result committed")

	if err := h.notifier.Evaluate(ctx, p.TargetID, tick.Status, tick.LatencyMS); err != nil {
		h.logger.Error().Err(err).Str("target_id", p.TargetID.String()).Msg("notification evaluation failed")
	}
}

// replyCredentials resolves which public key and stored token a reply is
// checked against. A reply arriving after its session closed can still be
// verified by signature against the validator record captured at dispatch.
func (h *Handler) replyCredentials(ctx context.Context, conn *wsConn, p callback.Pending, req proto.TaskReply) (string, string, bool) {
	if sess, found := h.registry.ByConn(conn); found {
		return sess.PublicKey, sess.Token(), true
	}

	if req.Signature == "" {
		// no session to compare a token against
		h.logger.Debug().
			Str("correlation_id", req.CorrelationID.String()).
			Msg("sessionless task reply without signature dropped")
		return "", "", false
	}

	v, err := h.validators.GetByID(ctx, p.AgentID)
	if err != nil {
		h.logger.Warn().Err(err).Str("agent_id", p.AgentID.String()).Msg("validator lookup for sessionless reply failed")
		return "", "", false
	}
	return v.PublicKey, "", true
}

func (h *Handler) notifyDuplicate(sess *registry.Session, tabID string) {
	env, err := proto.NewEnvelope(proto.MsgDuplicateDetected, proto.DuplicateDetected{
		TabID:   tabID,
		Message: "another tab attempted to connect with your validator identity",
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("duplicate notice encode failed")
		return
	}
	if err := sess.Send(env); err != nil {
		h.logger.Warn().Err(err).Str("agent_id", sess.AgentID.String()).Msg("duplicate notice send failed")
	}
}

func (h *Handler) reply(conn *wsConn, msgType string, payload any) {
	env, err := proto.NewEnvelope(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("reply encode failed")
		return
	}
	if err := conn.WriteJSON(env); err != nil {
		h.logger.Warn().Err(err).Str("type", msgType).Msg("reply send failed")
	}
}
