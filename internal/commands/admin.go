package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/lewisedginton/group_tagger/internal/identity"
	"github.com/lewisedginton/group_tagger/internal/session_manager"
	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// stateOrder fixes the order states are reported in.
var stateOrder = []session_manager.State{
	session_manager.StateReady,
	session_manager.StateAuthenticated,
	session_manager.StatePairingPending,
	session_manager.StateInitializing,
	session_manager.StateDisconnected,
	session_manager.StateAuthFailed,
}

func display(id string) string {
	return "+" + identity.Normalize(id)
}

func (r *Router) handleSaveContact(ctx context.Context, req *Request) (string, error) {
	id, n, ok := phoneArg(req.Args)
	if !ok {
		return r.usage(req.Name), nil
	}
	name := req.Rest(n)
	if name == "" {
		name = display(id)
	}

	saved, err := r.cfg.Contacts.Has(ctx, req.Session.ID(), id)
	if err != nil {
		return "", err
	}
	if saved {
		return fmt.Sprintf("%s is already saved.", display(id)), nil
	}
	if err := req.Conn.SaveContact(ctx, id, name); err != nil {
		return "", fmt.Errorf("save contact: %w", err)
	}
	if _, err := r.cfg.Contacts.Add(ctx, req.Session.ID(), id, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Saved %s as %s.", display(id), name), nil
}

func (r *Router) handleContacts(ctx context.Context, req *Request) (string, error) {
	contacts, err := r.cfg.Contacts.List(ctx, req.Session.ID())
	if err != nil {
		return "", err
	}
	if len(contacts) == 0 {
		return "No contacts saved yet.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Saved contacts (%d):", len(contacts))
	for i, c := range contacts {
		fmt.Fprintf(&b, "\n%d. %s (%s)", i+1, c.Name, display(c.ID))
	}
	return b.String(), nil
}

func (r *Router) handleSudo(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) == 0 {
		return r.usage(req.Name), nil
	}
	switch strings.ToLower(req.Args[0]) {
	case "stats":
		return r.sudoStats(req), nil
	case "list":
		return r.sudoList(req), nil
	case "clearsessions":
		if !req.Owner {
			return ReplyOwnerOnly, nil
		}
		return r.sudoClearSessions(ctx, req), nil
	case "broadcast":
		return r.sudoBroadcast(ctx, req)
	default:
		return r.usage(req.Name), nil
	}
}

func (r *Router) sudoStats(req *Request) string {
	counts := r.cfg.Sessions.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sessions: %d", total)
	for _, state := range stateOrder {
		if n := counts[state]; n > 0 {
			fmt.Fprintf(&b, "\n%s: %d", state, n)
		}
	}
	groups, ok := r.cfg.Cache.Current(req.Session.ID())
	if ok {
		fmt.Fprintf(&b, "\nAdmin groups here: %d", len(groups))
	}
	fmt.Fprintf(&b, "\nSessions with cached groups: %d", r.cfg.Cache.Sessions())
	return b.String()
}

func (r *Router) sudoList(req *Request) string {
	snapshots := r.cfg.Sessions.Snapshots()
	if len(snapshots) == 0 {
		return "No sessions."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sessions (%d):", len(snapshots))
	for i, info := range snapshots {
		fmt.Fprintf(&b, "\n%d. %s [%s]", i+1, info.ID, info.State)
		if info.Account != "" {
			b.WriteString(" " + display(info.Account))
		}
		if info.ID == req.Session.ID() {
			b.WriteString(" (this session)")
		}
	}
	return b.String()
}

func (r *Router) sudoClearSessions(ctx context.Context, req *Request) string {
	log := logger.GetLoggerFromContext(ctx, r.log)
	cleared, failed := 0, 0
	for _, info := range r.cfg.Sessions.Snapshots() {
		if info.ID == req.Session.ID() {
			continue
		}
		if err := r.cfg.Sessions.Terminate(ctx, info.ID); err != nil {
			failed++
			log.Warn("Failed to clear session", logger.SessionIDField(info.ID), logger.ErrorField(err))
			continue
		}
		cleared++
	}
	reply := fmt.Sprintf("Cleared %d other sessions.", cleared)
	if failed > 0 {
		reply += fmt.Sprintf(" %d could not be cleared.", failed)
	}
	return reply
}

func (r *Router) sudoBroadcast(ctx context.Context, req *Request) (string, error) {
	text := req.Rest(1)
	if text == "" {
		return r.usage(req.Name), nil
	}
	groups, err := r.cfg.Cache.Ensure(ctx, req.Session.ID(), req.Conn)
	if err != nil {
		return "", fmt.Errorf("load groups: %w", err)
	}
	if len(groups) == 0 {
		return "You are not an admin of any group.", nil
	}

	log := logger.GetLoggerFromContext(ctx, r.log)
	sent := 0
	for _, g := range groups {
		if err := req.Conn.SendMessage(ctx, g.ID, text, nil); err != nil {
			log.Warn("Broadcast to group failed", logger.GroupIDField(g.ID), logger.ErrorField(err))
			continue
		}
		sent++
	}
	return fmt.Sprintf("Broadcast sent to %d of %d groups.", sent, len(groups)), nil
}

func (r *Router) handleNewSession(ctx context.Context, req *Request) (string, error) {
	sess, err := r.cfg.Sessions.Create(ctx, session_manager.CreateOptions{Tenant: req.Session.Tenant()})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return fmt.Sprintf("Started session %s. Its pairing code will be delivered to your dashboard.", sess.ID()), nil
}

// handleShutdown answers before terminating: the reply needs the connection
// the termination closes.
func (r *Router) handleShutdown(ctx context.Context, req *Request) (string, error) {
	r.reply(ctx, logger.GetLoggerFromContext(ctx, r.log), req.Conn, req.Message.ChatID,
		fmt.Sprintf("Shutting down session %s. Goodbye 👋", req.Session.ID()))
	if err := r.cfg.Sessions.Terminate(ctx, req.Session.ID()); err != nil {
		return "", fmt.Errorf("terminate session: %w", err)
	}
	return "", nil
}

func (r *Router) handleSetSudo(ctx context.Context, req *Request) (string, error) {
	id, n, ok := phoneArg(req.Args)
	if !ok || n != len(req.Args) {
		return r.usage(req.Name), nil
	}
	added, err := r.cfg.Principals.Add(ctx, req.Session.ID(), id)
	if err != nil {
		return "", err
	}
	if !added {
		return fmt.Sprintf("%s is already an admin.", display(id)), nil
	}
	return fmt.Sprintf("%s can now use this bot.", display(id)), nil
}

func (r *Router) handleDelSudo(ctx context.Context, req *Request) (string, error) {
	id, n, ok := phoneArg(req.Args)
	if !ok || n != len(req.Args) {
		return r.usage(req.Name), nil
	}
	removed, err := r.cfg.Principals.Remove(ctx, req.Session.ID(), id)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("%s is not an admin.", display(id)), nil
	}
	return fmt.Sprintf("%s can no longer use this bot.", display(id)), nil
}

func (r *Router) handleSudoList(ctx context.Context, req *Request) (string, error) {
	admins, err := r.cfg.Principals.List(ctx, req.Session.ID())
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if self := req.Conn.SelfID(); self != "" {
		fmt.Fprintf(&b, "Account: %s", display(self))
	}
	if r.cfg.Owner != "" {
		fmt.Fprintf(&b, "\nOwner: %s", display(r.cfg.Owner))
	}
	if len(admins) == 0 {
		b.WriteString("\nNo other admins.")
		return strings.TrimPrefix(b.String(), "\n"), nil
	}
	fmt.Fprintf(&b, "\nAdmins (%d):", len(admins))
	for i, id := range admins {
		fmt.Fprintf(&b, "\n%d. %s", i+1, display(id))
	}
	return strings.TrimPrefix(b.String(), "\n"), nil
}
