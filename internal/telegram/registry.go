package telegram

import (
	"context"
	"fmt"
	"strings"
)

// Tier is the privilege a command requires
type Tier int

const (
	TierPublic Tier = iota
	TierAuthorized
	TierAdmin
)

func (t Tier) String() string {
	switch t {
	case TierPublic:
		return "public"
	case TierAuthorized:
		return "authorized"
	case TierAdmin:
		return "admin"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// HandlerFunc runs a command after the gating pipeline has passed
type HandlerFunc func(ctx context.Context, req *Request) error

// Command is one registered chat command
type Command struct {
	// Name includes the leading slash, e.g. "/approve"
	Name        string
	Tier        Tier
	Args        string
	Description string
	// PrivateOnly hides the command from /help in group chats
	PrivateOnly bool
	Handle      HandlerFunc
}

// Usage renders the command with its argument placeholder
func (c *Command) Usage() string {
	if c.Args == "" {
		return c.Name
	}
	return c.Name + " " + c.Args
}

// Registry maps command names to commands. Lookups are case-insensitive.
type Registry struct {
	commands map[string]*Command
	order    []*Command
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command. Names must start with "/" and be unique.
func (r *Registry) Register(cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if !strings.HasPrefix(name, "/") || len(name) < 2 {
		return fmt.Errorf("register command %q: name must start with /", cmd.Name)
	}
	if cmd.Handle == nil {
		return fmt.Errorf("register command %s: nil handler", name)
	}
	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("register command %s: already registered", name)
	}

	cmd.Name = name
	c := &cmd
	r.commands[name] = c
	r.order = append(r.order, c)
	return nil
}

// Lookup finds a command by its normalized token
func (r *Registry) Lookup(token string) (*Command, bool) {
	c, ok := r.commands[strings.ToLower(token)]
	return c, ok
}

// Commands returns registered commands in registration order
func (r *Registry) Commands() []*Command {
	return append([]*Command(nil), r.order...)
}
