package conn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/guseggert/rpcconn/message"
)

// Trace controls how much of the traffic is written to a Tracer.
type Trace int

const (
	TraceOff Trace = iota
	TraceMessages
	TraceVerbose
)

// TraceFromString parses a trace level case-insensitively. Unknown values mean TraceOff.
// "message" is accepted as an alias of "messages".
func TraceFromString(s string) Trace {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "messages", "message":
		return TraceMessages
	case "verbose":
		return TraceVerbose
	default:
		return TraceOff
	}
}

func (t Trace) String() string {
	switch t {
	case TraceMessages:
		return "messages"
	case TraceVerbose:
		return "verbose"
	default:
		return "off"
	}
}

// Tracer receives human readable trace lines.
type Tracer interface {
	Log(msg string)
}

// TracerFunc adapts a function to Tracer.
type TracerFunc func(msg string)

func (f TracerFunc) Log(msg string) { f(msg) }

// tracer formats trace lines. A nil *tracer traces nothing.
type tracer struct {
	level Trace
	out   Tracer
	now   func() time.Time
}

func (t *tracer) enabled() bool { return t != nil && t.level != TraceOff && t.out != nil }

func (t *tracer) verbose() bool { return t.level == TraceVerbose }

func (t *tracer) logf(format string, args ...any) {
	stamp := t.now().Format("15:04:05")
	t.out.Log(fmt.Sprintf("[%s] ", stamp) + fmt.Sprintf(format, args...))
}

func (t *tracer) dump(label string, raw json.RawMessage) {
	t.out.Log(fmt.Sprintf("%s: %s\n\n", label, indentJSON(raw)))
}

func (t *tracer) sendingRequest(req *message.Request) {
	if !t.enabled() {
		return
	}
	t.logf("Sending request '%s - (%s)'.", req.Method, req.ID)
	if t.verbose() && len(req.Params) > 0 {
		t.dump("Params", req.Params)
	}
}

func (t *tracer) sendingNotification(n *message.Notification) {
	if !t.enabled() {
		return
	}
	t.logf("Sending notification '%s'.", n.Method)
	if t.verbose() {
		if len(n.Params) > 0 {
			t.dump("Params", n.Params)
		} else {
			t.out.Log("No parameters provided.\n\n")
		}
	}
}

func (t *tracer) sendingResponse(method string, resp *message.Response, started time.Time) {
	if !t.enabled() {
		return
	}
	failed := ""
	if resp.Error != nil {
		failed = fmt.Sprintf(" Request failed. Message: %s Code: %d.", resp.Error.Message, resp.Error.Code)
	}
	t.logf("Sending response '%s - (%s)'. Processing request took %dms.%s", method, resp.ID, t.now().Sub(started).Milliseconds(), failed)
	if t.verbose() {
		t.result(resp)
	}
}

func (t *tracer) receivedRequest(req *message.Request) {
	if !t.enabled() {
		return
	}
	t.logf("Received request '%s - (%s)'.", req.Method, req.ID)
	if t.verbose() && len(req.Params) > 0 {
		t.dump("Params", req.Params)
	}
}

func (t *tracer) receivedNotification(n *message.Notification) {
	if !t.enabled() {
		return
	}
	t.logf("Received notification '%s'.", n.Method)
	if t.verbose() {
		if len(n.Params) > 0 {
			t.dump("Params", n.Params)
		} else {
			t.out.Log("No parameters provided.\n\n")
		}
	}
}

// receivedResponse traces a response; p is nil for orphan responses.
func (t *tracer) receivedResponse(resp *message.Response, p *Pending) {
	if !t.enabled() {
		return
	}
	if p == nil {
		t.logf("Received response %s without active response promise.", resp.ID)
	} else {
		failed := ""
		if resp.Error != nil {
			failed = fmt.Sprintf(" Request failed: %s (%d).", resp.Error.Message, resp.Error.Code)
		}
		t.logf("Received response '%s - (%s)' in %dms.%s", p.Method, resp.ID, t.now().Sub(p.Created).Milliseconds(), failed)
	}
	if t.verbose() {
		t.result(resp)
	}
}

func (t *tracer) result(resp *message.Response) {
	switch {
	case resp.Error != nil && len(resp.Error.Data) > 0:
		t.dump("Error data", resp.Error.Data)
	case resp.Error == nil && len(resp.Result) > 0 && !bytes.Equal(resp.Result, []byte("null")):
		t.dump("Result", resp.Result)
	default:
		t.out.Log("No result returned.\n\n")
	}
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return string(raw)
	}
	return buf.String()
}
