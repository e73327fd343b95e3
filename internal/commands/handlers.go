package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lewisedginton/group_tagger/internal/groupcache"
	"github.com/lewisedginton/group_tagger/internal/tagger"
)

// setupCommands registers every command in help order.
func (r *Router) setupCommands() {
	r.register(command{name: "ping", summary: "check that the bot is alive", handler: r.handlePing})
	r.register(command{name: "help", summary: "show this message", handler: r.handleHelp})
	r.register(command{name: "status", summary: "show this session's state", handler: r.handleStatus})
	r.register(command{name: "list", summary: "list the groups you administer", handler: r.handleList})
	r.register(command{
		name:    "tagall",
		usage:   "<group number...> <message>",
		summary: "mention every member of the groups",
		handler: r.handleTagAll,
	})
	r.register(command{
		name:    "tagallexcept",
		usage:   "<group number...> <phone number...> <message>",
		summary: "mention every member except you and the given numbers",
		handler: r.handleTagAllExcept,
	})
	r.register(command{name: "refreshgroups", summary: "reload your admin groups", handler: r.handleRefreshGroups})
	r.register(command{
		name:    "savecontact",
		usage:   "<phone number> [name]",
		summary: "save a number to the address book",
		handler: r.handleSaveContact,
	})
	r.register(command{name: "contacts", summary: "list saved contacts", handler: r.handleContacts})
	r.register(command{
		name:    "sudo",
		usage:   "stats|list|clearsessions|broadcast <text>",
		summary: "administer sessions",
		handler: r.handleSudo,
	})
	r.register(command{name: "newsession", summary: "start another session", handler: r.handleNewSession})
	r.register(command{name: "shutdown", summary: "log this session out", ownerOnly: true, handler: r.handleShutdown})
	r.register(command{name: "setsudo", usage: "<phone number>", summary: "grant admin rights", ownerOnly: true, handler: r.handleSetSudo})
	r.register(command{name: "delsudo", usage: "<phone number>", summary: "revoke admin rights", ownerOnly: true, handler: r.handleDelSudo})
	r.register(command{name: "sudolist", summary: "list admins", handler: r.handleSudoList})
}

func (r *Router) usage(name string) string {
	cmd := r.commands[name]
	line := "Usage: " + r.cfg.Prefix + cmd.name
	if cmd.usage != "" {
		line += " " + cmd.usage
	}
	return line
}

func (r *Router) handlePing(context.Context, *Request) (string, error) {
	return "pong 🏓", nil
}

func (r *Router) handleHelp(_ context.Context, req *Request) (string, error) {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, name := range r.order {
		cmd := r.commands[name]
		if cmd.ownerOnly && !req.Owner {
			continue
		}
		b.WriteString("\n• ")
		b.WriteString(r.cfg.Prefix + cmd.name)
		if cmd.usage != "" {
			b.WriteString(" " + cmd.usage)
		}
		b.WriteString(" - " + cmd.summary)
	}
	return b.String(), nil
}

func (r *Router) handleStatus(_ context.Context, req *Request) (string, error) {
	sessID := req.Session.ID()
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nState: %s", sessID, req.Session.State())
	if account := req.Session.Account(); account != "" {
		fmt.Fprintf(&b, "\nAccount: %s", account)
	}
	if groups, ok := r.cfg.Cache.Current(sessID); ok {
		age, _ := r.cfg.Cache.Age(sessID)
		fmt.Fprintf(&b, "\nAdmin groups: %d (refreshed %s ago)", len(groups), age.Truncate(time.Second))
	} else {
		fmt.Fprintf(&b, "\nAdmin groups: not loaded, run %slist", r.cfg.Prefix)
	}
	total := 0
	for _, n := range r.cfg.Sessions.Counts() {
		total += n
	}
	fmt.Fprintf(&b, "\nSessions running: %d", total)
	return b.String(), nil
}

func (r *Router) handleList(ctx context.Context, req *Request) (string, error) {
	groups, err := r.cfg.Cache.Ensure(ctx, req.Session.ID(), req.Conn)
	if err != nil {
		return "", fmt.Errorf("load groups: %w", err)
	}
	return r.renderGroups(groups), nil
}

func (r *Router) handleRefreshGroups(ctx context.Context, req *Request) (string, error) {
	groups, err := r.cfg.Cache.Refresh(ctx, req.Session.ID(), req.Conn)
	if err != nil {
		return "", fmt.Errorf("refresh groups: %w", err)
	}
	return "Group list refreshed.\n" + r.renderGroups(groups), nil
}

func (r *Router) renderGroups(groups []groupcache.GroupRecord) string {
	if len(groups) == 0 {
		return fmt.Sprintf("You are not an admin of any group. Run %srefreshgroups after being promoted.", r.cfg.Prefix)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your admin groups (%d):", len(groups))
	for i, g := range groups {
		fmt.Fprintf(&b, "\n%d. %s (%d members)", i+1, g.Name, len(g.Participants))
	}
	fmt.Fprintf(&b, "\n\nUse %stagall <number> <message> to tag a group.", r.cfg.Prefix)
	return b.String()
}

func (r *Router) handleTagAll(ctx context.Context, req *Request) (string, error) {
	parsed := parseTagArgs(req.Args, false)
	if len(parsed.indices) == 0 {
		return r.usage(req.Name), nil
	}
	summary := r.cfg.Tagger.TagAll(ctx, r.target(req), parsed.indices, req.Rest(parsed.next))
	return summary.Reply(r.cfg.Prefix), nil
}

func (r *Router) handleTagAllExcept(ctx context.Context, req *Request) (string, error) {
	parsed := parseTagArgs(req.Args, true)
	if len(parsed.indices) == 0 {
		return r.usage(req.Name), nil
	}
	summary := r.cfg.Tagger.TagAllExcept(ctx, r.target(req), parsed.indices, req.Rest(parsed.next), parsed.exclusions)
	return summary.Reply(r.cfg.Prefix), nil
}

func (r *Router) target(req *Request) tagger.Target {
	return tagger.Target{SessionID: req.Session.ID(), Conn: req.Conn}
}
