// Package commands turns inbound chat messages into operator commands: it
// parses the prefix, applies the authorization gate and runs the handler,
// answering every command synchronously in the chat it came from.
package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/lewisedginton/group_tagger/internal/connection"
	"github.com/lewisedginton/group_tagger/internal/groupcache"
	"github.com/lewisedginton/group_tagger/internal/identity"
	"github.com/lewisedginton/group_tagger/internal/session_manager"
	"github.com/lewisedginton/group_tagger/internal/tagger"
	"github.com/lewisedginton/group_tagger/pkg/logger"
	"github.com/lewisedginton/group_tagger/pkg/metrics"
)

// Defaults for Config.
const (
	DefaultPrefix         = "!"
	DefaultCommandTimeout = 2 * time.Minute
)

// Fixed replies. None of them start with the command prefix so the account
// never answers itself.
const (
	ReplyUnauthorized = "⛔ You are not authorized to use this bot."
	ReplyOwnerOnly    = "⛔ Only the account owner can use this command."
	ReplyFailed       = "Sorry, that command failed. Please try again."
	replyEmpty        = "No command given. Send %shelp to see what I can do."
	replyUnknown      = "Unknown command: %s. Send %shelp to see what I can do."
)

// unknownCommand labels metrics for names that are not registered.
const unknownCommand = "unknown"

// Session is the session a command arrived on.
type Session interface {
	ID() string
	Tenant() string
	State() session_manager.State
	Account() string
	Conn() connection.Conn
}

var _ Session = (*session_manager.Session)(nil)

// Sessions is the registry surface the admin commands use.
type Sessions interface {
	Snapshots() []session_manager.SessionInfo
	Counts() map[session_manager.State]int
	Create(ctx context.Context, opts session_manager.CreateOptions) (*session_manager.Session, error)
	Terminate(ctx context.Context, id string) error
}

// Request is one parsed command.
type Request struct {
	Session Session
	Conn    connection.Conn
	Message connection.Message
	Name    string
	Args    []string
	// Sender is the identity the command is attributed to.
	Sender string
	// Owner is set for the account itself and the primary owner.
	Owner bool

	body   string
	tokens []token
}

// Rest returns the raw text after the first n arguments, keeping its layout.
func (r *Request) Rest(n int) string {
	if n >= len(r.tokens) {
		return ""
	}
	return strings.TrimSpace(r.body[r.tokens[n].start:])
}

// CommandHandler runs one command and returns the reply. An empty reply sends
// nothing.
type CommandHandler func(ctx context.Context, req *Request) (string, error)

type command struct {
	name      string
	usage     string
	summary   string
	ownerOnly bool
	handler   CommandHandler
}

// Config wires a Router.
type Config struct {
	Prefix string
	// Owner is the primary owner's identity; empty disables the role.
	Owner            string
	AutoSaveContacts bool
	CommandTimeout   time.Duration

	Sessions   Sessions
	Cache      *groupcache.Cache
	Tagger     *tagger.Tagger
	Principals *PrincipalStore
	Contacts   *ContactBook
	Logger     logger.Logger
	Metrics    *metrics.Metrics
}

// Router dispatches commands to handlers.
type Router struct {
	cfg      Config
	log      logger.Logger
	metrics  *metrics.Metrics
	commands map[string]command
	order    []string
}

var _ session_manager.MessageHandler = (*Router)(nil)

// New validates cfg and registers every command.
func New(cfg Config) (*Router, error) {
	switch {
	case cfg.Sessions == nil:
		return nil, errors.New("sessions are required")
	case cfg.Cache == nil:
		return nil, errors.New("group cache is required")
	case cfg.Tagger == nil:
		return nil, errors.New("tagger is required")
	case cfg.Principals == nil:
		return nil, errors.New("principal store is required")
	case cfg.Contacts == nil:
		return nil, errors.New("contact book is required")
	case cfg.Logger == nil:
		return nil, errors.New("logger is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Owner != "" {
		cfg.Owner = identity.UserID(cfg.Owner)
	}

	r := &Router{
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		commands: make(map[string]command),
	}
	r.setupCommands()
	return r, nil
}

// Prefix returns the configured command prefix.
func (r *Router) Prefix() string { return r.cfg.Prefix }

func (r *Router) register(c command) {
	r.commands[c.name] = c
	r.order = append(r.order, c.name)
}

// HandleMessage is the session manager's entry point.
func (r *Router) HandleMessage(ctx context.Context, sess *session_manager.Session, msg connection.Message) {
	r.Handle(ctx, sess, msg)
}

// Handle processes one inbound message. Messages without the prefix are
// ignored apart from contact auto-save.
func (r *Router) Handle(ctx context.Context, sess Session, msg connection.Message) {
	conn := sess.Conn()
	if conn == nil {
		return
	}
	ctx, correlationID := logger.EnsureCorrelationID(ctx)
	log := r.log.WithCorrelationID(correlationID).WithFields(logger.SessionIDField(sess.ID()))

	if r.cfg.AutoSaveContacts && !msg.IsGroup && !msg.FromMe && msg.From != "" {
		r.autoSaveContact(ctx, log, sess, conn, msg.From)
	}

	text := strings.TrimSpace(msg.Body)
	if !strings.HasPrefix(text, r.cfg.Prefix) {
		return
	}
	body := strings.TrimPrefix(text, r.cfg.Prefix)

	sender := msg.From
	if msg.FromMe || sender == "" {
		sender = conn.SelfID()
	}
	owner := r.isOwner(conn, sender, msg.FromMe)
	if !owner && !r.isPrincipal(ctx, log, sess, sender) {
		log.Warn("Refused command from unauthorized sender", logger.StringField("sender", sender))
		r.metrics.ObserveCommand(unknownCommand, metrics.OutcomeDenied)
		r.reply(ctx, log, conn, msg.ChatID, ReplyUnauthorized)
		return
	}

	tokens := tokenize(body)
	if len(tokens) == 0 {
		r.metrics.ObserveCommand(unknownCommand, metrics.OutcomeUnknown)
		r.reply(ctx, log, conn, msg.ChatID, fmt.Sprintf(replyEmpty, r.cfg.Prefix))
		return
	}

	name := strings.ToLower(tokens[0].text)
	cmd, ok := r.commands[name]
	if !ok {
		log.Info("Unknown command", logger.CommandField(name))
		r.metrics.ObserveCommand(unknownCommand, metrics.OutcomeUnknown)
		r.reply(ctx, log, conn, msg.ChatID, fmt.Sprintf(replyUnknown, tokens[0].text, r.cfg.Prefix))
		return
	}

	req := &Request{
		Session: sess,
		Conn:    conn,
		Message: msg,
		Name:    name,
		Sender:  sender,
		Owner:   owner,
		body:    body,
		tokens:  tokens[1:],
	}
	for _, t := range req.tokens {
		req.Args = append(req.Args, t.text)
	}
	r.dispatch(ctx, log.WithFields(logger.CommandField(name)), cmd, req)
}

func (r *Router) dispatch(ctx context.Context, log logger.Logger, cmd command, req *Request) {
	if cmd.ownerOnly && !req.Owner {
		log.Warn("Refused owner-only command", logger.StringField("sender", req.Sender))
		r.metrics.ObserveCommand(cmd.name, metrics.OutcomeDenied)
		r.reply(ctx, log, req.Conn, req.Message.ChatID, ReplyOwnerOnly)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()

	start := time.Now()
	reply, err := r.run(runCtx, cmd, req)
	if err != nil {
		log.Error("Command failed", logger.ErrorField(err), logger.DurationField("elapsed", time.Since(start)))
		r.metrics.ObserveCommand(cmd.name, metrics.OutcomeFailed)
		r.reply(ctx, log, req.Conn, req.Message.ChatID, ReplyFailed)
		return
	}

	log.Info("Command handled", logger.DurationField("elapsed", time.Since(start)))
	r.metrics.ObserveCommand(cmd.name, metrics.OutcomeOK)
	if reply != "" {
		r.reply(ctx, log, req.Conn, req.Message.ChatID, reply)
	}
}

// run invokes the handler, converting a panic into an error.
func (r *Router) run(ctx context.Context, cmd command, req *Request) (reply string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("command %s panicked: %v\n%s", cmd.name, p, debug.Stack())
		}
	}()
	return cmd.handler(ctx, req)
}

func (r *Router) reply(ctx context.Context, log logger.Logger, conn connection.Sender, chatID, text string) {
	if err := conn.SendMessage(ctx, chatID, text, nil); err != nil {
		log.Error("Failed to send reply", logger.ErrorField(err))
	}
}

// isOwner reports whether sender is the account itself or the primary owner.
func (r *Router) isOwner(conn connection.Conn, sender string, fromMe bool) bool {
	if fromMe || identity.Same(sender, conn.SelfID()) {
		return true
	}
	return r.cfg.Owner != "" && identity.Same(sender, r.cfg.Owner)
}

func (r *Router) isPrincipal(ctx context.Context, log logger.Logger, sess Session, sender string) bool {
	ok, err := r.cfg.Principals.Contains(ctx, sess.ID(), sender)
	if err != nil {
		// Unreadable principals deny rather than allow.
		log.Error("Failed to read principals", logger.ErrorField(err))
		return false
	}
	return ok
}

func (r *Router) autoSaveContact(ctx context.Context, log logger.Logger, sess Session, conn connection.Conn, from string) {
	if identity.Same(from, conn.SelfID()) {
		return
	}
	saved, err := r.cfg.Contacts.Has(ctx, sess.ID(), from)
	if err != nil || saved {
		if err != nil {
			log.Warn("Contact book unavailable", logger.ErrorField(err))
		}
		return
	}
	name := "+" + identity.Normalize(from)
	if err := conn.SaveContact(ctx, from, name); err != nil {
		log.Warn("Auto-save contact failed", logger.StringField("contact", from), logger.ErrorField(err))
		return
	}
	if _, err := r.cfg.Contacts.Add(ctx, sess.ID(), from, name); err != nil {
		log.Warn("Failed to record saved contact", logger.ErrorField(err))
		return
	}
	log.Info("Contact auto-saved", logger.StringField("contact", from))
}
