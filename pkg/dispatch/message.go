package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownDirective is returned by Apply for a directive name that has no builder.
var ErrUnknownDirective = errors.New("unknown message directive")

// Message is the platform-neutral notification handed to a TransportClient.
// Data carries the custom key-value payload; the remaining fields are
// delivery options set through directives.
type Message struct {
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Data  map[string]string `json:"data,omitempty"`

	Sound            string `json:"sound,omitempty"`
	Icon             string `json:"icon,omitempty"`
	ClickAction      string `json:"click_action,omitempty"`
	ContentAvailable bool   `json:"content_available,omitempty"`

	CollapseKey           string        `json:"collapse_key,omitempty"`
	Priority              string        `json:"priority,omitempty"`
	TimeToLive            time.Duration `json:"time_to_live,omitempty"`
	DelayWhileIdle        bool          `json:"delay_while_idle,omitempty"`
	RestrictedPackageName string        `json:"restricted_package_name,omitempty"`
	DryRun                bool          `json:"dry_run,omitempty"`
}

// NewMessage returns an empty message with an initialised data map.
func NewMessage() *Message {
	return &Message{Data: make(map[string]string)}
}

// AddData sets one custom payload entry, replacing any previous value.
func (m *Message) AddData(key, value string) {
	if m.Data == nil {
		m.Data = make(map[string]string)
	}
	m.Data[key] = value
}

// Args are named builder directives with their argument(s). A value that is
// not a list is treated as a single positional argument.
type Args map[string]any

// Clone returns a shallow copy so callers' maps are never mutated.
func (a Args) Clone() Args {
	out := make(Args, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Names returns the directive names in the order they are applied.
func (a Args) Names() []string {
	names := make([]string, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Positional normalises the value for name into a list of arguments.
func (a Args) Positional(name string) []any {
	switch v := a[name].(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// Directive mutates a message using positional arguments.
type Directive func(m *Message, args []any) error

var directives = map[string]Directive{
	"title":                 stringField(func(m *Message, s string) { m.Title = s }),
	"body":                  stringField(func(m *Message, s string) { m.Body = s }),
	"sound":                 stringField(func(m *Message, s string) { m.Sound = s }),
	"icon":                  stringField(func(m *Message, s string) { m.Icon = s }),
	"clickAction":           stringField(func(m *Message, s string) { m.ClickAction = s }),
	"collapseKey":           stringField(func(m *Message, s string) { m.CollapseKey = s }),
	"priority":              stringField(func(m *Message, s string) { m.Priority = s }),
	"restrictedPackageName": stringField(func(m *Message, s string) { m.RestrictedPackageName = s }),
	"delayWhileIdle":        boolField(func(m *Message, b bool) { m.DelayWhileIdle = b }),
	"dryRun":                boolField(func(m *Message, b bool) { m.DryRun = b }),
	"contentAvailable":      boolField(func(m *Message, b bool) { m.ContentAvailable = b }),
	"timeToLive": func(m *Message, args []any) error {
		if len(args) != 1 {
			return fmt.Errorf("expects 1 argument, got %d", len(args))
		}
		secs, err := toInt(args[0])
		if err != nil {
			return err
		}
		if secs < 0 {
			return fmt.Errorf("time to live must not be negative: %d", secs)
		}
		m.TimeToLive = time.Duration(secs) * time.Second
		return nil
	},
	"addData": func(m *Message, args []any) error {
		if len(args) != 2 {
			return fmt.Errorf("expects 2 arguments, got %d", len(args))
		}
		m.AddData(toString(args[0]), toString(args[1]))
		return nil
	},
	"data": func(m *Message, args []any) error {
		for _, arg := range args {
			switch d := arg.(type) {
			case map[string]string:
				for k, v := range d {
					m.AddData(k, v)
				}
			case map[string]any:
				for k, v := range d {
					m.AddData(k, toString(v))
				}
			default:
				return fmt.Errorf("expects a map argument, got %T", arg)
			}
		}
		return nil
	},
}

// Apply runs the named directive against the message.
func (m *Message) Apply(name string, args ...any) error {
	d, ok := directives[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownDirective, name)
	}
	if err := d(m, args); err != nil {
		return fmt.Errorf("directive %q: %w", name, err)
	}
	return nil
}

// ApplyAll applies every directive in args in name order. It keeps going
// after a failing directive and returns one error per failure.
func (m *Message) ApplyAll(args Args) []error {
	var errs []error
	for _, name := range args.Names() {
		if err := m.Apply(name, args.Positional(name)...); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func stringField(set func(*Message, string)) Directive {
	return func(m *Message, args []any) error {
		if len(args) != 1 {
			return fmt.Errorf("expects 1 argument, got %d", len(args))
		}
		set(m, toString(args[0]))
		return nil
	}
}

func boolField(set func(*Message, bool)) Directive {
	return func(m *Message, args []any) error {
		switch len(args) {
		case 0:
			set(m, true)
			return nil
		case 1:
			b, err := toBool(args[0])
			if err != nil {
				return err
			}
			set(m, b)
			return nil
		default:
			return fmt.Errorf("expects at most 1 argument, got %d", len(args))
		}
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	case int:
		return b != 0, nil
	case float64:
		return b != 0, nil
	default:
		return false, fmt.Errorf("cannot use %T as bool", v)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	case time.Duration:
		return int(n / time.Second), nil
	default:
		return 0, fmt.Errorf("cannot use %T as integer", v)
	}
}
