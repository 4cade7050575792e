package dialog

import "strings"

// DefaultLifespan is the number of turns a staged context lives when the
// caller has no stronger opinion.
const DefaultLifespan = 5

// Contexts is the per-turn view of the session's named contexts. It reads the
// inbound contexts the platform sent and stages the ones to send back. The
// platform owns context lifetime; nothing here outlives the request.
type Contexts struct {
	session string
	prefix  string

	inbound map[string]Context
	order   []string

	staged []Context
	index  map[string]int
}

// NewContexts indexes the inbound contexts that belong to session. Contexts
// whose name is not under "<session>/contexts/" are ignored. When a name is
// repeated the first occurrence is kept.
func NewContexts(session string, inbound []Context) *Contexts {
	session = strings.TrimRight(session, "/")
	c := &Contexts{
		session: session,
		prefix:  session + "/contexts/",
		inbound: make(map[string]Context, len(inbound)),
		index:   make(map[string]int),
	}
	for _, ctx := range inbound {
		name, ok := c.ShortName(ctx.Name)
		if !ok {
			continue
		}
		if _, dup := c.inbound[name]; dup {
			continue
		}
		c.inbound[name] = ctx
		c.order = append(c.order, name)
	}
	return c
}

// Path builds the fully qualified context name.
func (c *Contexts) Path(name string) string {
	return c.prefix + name
}

// ShortName parses a fully qualified context name for this session.
func (c *Contexts) ShortName(full string) (string, bool) {
	if !strings.HasPrefix(full, c.prefix) {
		return "", false
	}
	name := full[len(c.prefix):]
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// IsSet reports whether name is present and unexpired. A context staged in
// this turn shadows the inbound one.
func (c *Contexts) IsSet(name string) bool {
	_, ok := c.lookup(name)
	return ok
}

// Parameters returns the non-empty parameters of name, or an empty map when the
// context is absent.
func (c *Contexts) Parameters(name string) map[string]string {
	out := make(map[string]string)
	ctx, ok := c.lookup(name)
	if !ok {
		return out
	}
	for key, value := range ctx.Parameters {
		if s := stringValue(value); s != "" {
			out[key] = s
		}
	}
	return out
}

// SetParameters stages name with params for lifespan turns. Staging the same
// name again replaces the earlier staging in place.
func (c *Contexts) SetParameters(name string, params map[string]string, lifespan int) {
	var values map[string]any
	if len(params) > 0 {
		values = make(map[string]any, len(params))
		for k, v := range params {
			values[k] = v
		}
	}
	c.stage(Context{Name: c.Path(name), LifespanCount: Lifespan(lifespan), Parameters: values})
}

// Set stages a parameterless context.
func (c *Contexts) Set(name string, lifespan int) {
	c.stage(Context{Name: c.Path(name), LifespanCount: Lifespan(lifespan)})
}

// KeepAlive echoes every unexpired inbound context so an unrecognized turn
// does not silently drop state. A missing lifespan becomes 1.
func (c *Contexts) KeepAlive() {
	for _, name := range c.order {
		ctx := c.inbound[name]
		if expired(ctx) {
			continue
		}
		kept := Context{Name: ctx.Name, Parameters: ctx.Parameters}
		if ctx.LifespanCount == nil {
			kept.LifespanCount = Lifespan(1)
		} else {
			kept.LifespanCount = Lifespan(*ctx.LifespanCount)
		}
		c.stage(kept)
	}
}

// Outbound returns the staged contexts in staging order.
func (c *Contexts) Outbound() []Context {
	out := make([]Context, len(c.staged))
	copy(out, c.staged)
	return out
}

func (c *Contexts) stage(ctx Context) {
	name, _ := c.ShortName(ctx.Name)
	if i, ok := c.index[name]; ok {
		c.staged[i] = ctx
		return
	}
	c.index[name] = len(c.staged)
	c.staged = append(c.staged, ctx)
}

func (c *Contexts) lookup(name string) (Context, bool) {
	if i, ok := c.index[name]; ok {
		ctx := c.staged[i]
		return ctx, !expired(ctx)
	}
	ctx, ok := c.inbound[name]
	if !ok || expired(ctx) {
		return Context{}, false
	}
	return ctx, true
}

func expired(ctx Context) bool {
	return ctx.LifespanCount != nil && *ctx.LifespanCount <= 0
}
