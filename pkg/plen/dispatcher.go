package plen

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CommandSeparator separates the method name and arguments of a command.
const CommandSeparator = "/"

// Command is a single command stream request.
type Command struct {
	Method string
	Args   []string
}

// ParseCommand splits a raw message of the form "method/arg0/.../argN".
func ParseCommand(msg string) Command {
	fields := strings.Split(msg, CommandSeparator)
	return Command{Method: fields[0], Args: fields[1:]}
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Method}, c.Args...), CommandSeparator)
}

type operation struct {
	arity int
	call  func(d Driver, args []string) (any, error)
}

// operations is the closed set of driver methods reachable from the
// command stream.
var operations = map[string]operation{
	"connect": {0, func(d Driver, _ []string) (any, error) {
		return d.Connect()
	}},
	"disconnect": {0, func(d Driver, _ []string) (any, error) {
		return d.Disconnect()
	}},
	"getMotion": {1, func(d Driver, args []string) (any, error) {
		slot, err := parseInt(args[0], "slot")
		if err != nil {
			return nil, err
		}
		return d.GetMotion(slot)
	}},
	"install": {1, func(d Driver, args []string) (any, error) {
		var m Motion
		if err := json.Unmarshal([]byte(args[0]), &m); err != nil {
			return nil, invalidArgument(fmt.Errorf("motion: %w", err))
		}
		return d.Install(m)
	}},
	"play": {1, func(d Driver, args []string) (any, error) {
		slot, err := parseInt(args[0], "slot")
		if err != nil {
			return nil, err
		}
		return d.Play(slot)
	}},
	"stop": {0, func(d Driver, _ []string) (any, error) {
		return d.Stop()
	}},
	"getVersionInformation": {0, func(d Driver, _ []string) (any, error) {
		return d.VersionInformation()
	}},
	"upload": {1, func(d Driver, args []string) (any, error) {
		firmware, err := base64.URLEncoding.DecodeString(args[0])
		if err != nil {
			return nil, invalidArgument(fmt.Errorf("firmware: %w", err))
		}
		return d.Upload(firmware)
	}},
	"apply":       jointOperation(Driver.Apply),
	"applyDiff":   jointOperation(Driver.ApplyDiff),
	"applyNative": jointOperation(Driver.ApplyNative),
	"setMin":      jointOperation(Driver.SetMin),
	"setMax":      jointOperation(Driver.SetMax),
	"setHome":     jointOperation(Driver.SetHome),
	"resetJointSettings": {0, func(d Driver, _ []string) (any, error) {
		return d.ResetJointSettings()
	}},
}

func jointOperation(fn func(Driver, Joint, int) (bool, error)) operation {
	return operation{2, func(d Driver, args []string) (any, error) {
		joint, err := ParseJoint(args[0])
		if err != nil {
			return nil, invalidArgument(err)
		}
		value, err := parseInt(args[1], "value")
		if err != nil {
			return nil, err
		}
		return fn(d, joint, value)
	}}
}

// argError marks conversion failures so Execute can tag them with the
// method name.
type argError struct{ err error }

func (e argError) Error() string { return e.err.Error() }

func invalidArgument(err error) error { return argError{err} }

func parseInt(s, name string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalidArgument(fmt.Errorf("%s: %w", name, err))
	}
	return n, nil
}

// Methods returns the names accepted by the dispatcher, sorted.
func Methods() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatcher resolves command stream requests against a driver.
type Dispatcher struct {
	driver Driver
}

func NewDispatcher(d Driver) *Dispatcher {
	return &Dispatcher{driver: d}
}

// Execute runs cmd and returns the raw result of the driver operation.
func (d *Dispatcher) Execute(cmd Command) (any, error) {
	op, ok := operations[cmd.Method]
	if !ok {
		return nil, &DispatchError{Kind: UnknownMethod, Method: cmd.Method}
	}
	if len(cmd.Args) != op.arity {
		return nil, &DispatchError{
			Kind:   InvalidArity,
			Method: cmd.Method,
			Err:    fmt.Errorf("want %d args, got %d", op.arity, len(cmd.Args)),
		}
	}

	result, err := op.call(d.driver, cmd.Args)
	if err != nil {
		if ae, ok := err.(argError); ok {
			return nil, &DispatchError{Kind: InvalidArgument, Method: cmd.Method, Err: ae.err}
		}
		return nil, NewDriverError(cmd.Method, err)
	}
	return result, nil
}

// Dispatch parses msg, executes it and formats the reply.
func (d *Dispatcher) Dispatch(msg string) (string, error) {
	result, err := d.Execute(ParseCommand(msg))
	if err != nil {
		return "", err
	}
	return FormatResult(result)
}

// FormatResult renders an operation result as a reply message.
func FormatResult(v any) (string, error) {
	switch r := v.(type) {
	case nil:
		return "", nil
	case bool:
		return strconv.FormatBool(r), nil
	case string:
		return r, nil
	case fmt.Stringer:
		return r.String(), nil
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("format result: %w", err)
		}
		return string(b), nil
	}
}
