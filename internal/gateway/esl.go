package gateway

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultESLScript is the call-control script reference embedded in the
// originate command when none is configured.
const DefaultESLScript = "/usr/share/dialer-lua/answer.lua"

// jobUUIDLen is the fixed width of the identifier in serialized
// acknowledgments; the value starts right after the "Job-UUID:" label and
// its separator.
const (
	jobUUIDLabel  = "Job-UUID:"
	jobUUIDOffset = len(jobUUIDLabel) + 1
	jobUUIDLen    = 36
)

// ESL opens a control connection to a local telephony switch and issues an
// asynchronous originate. The job identifier is extracted from the
// command's serialized acknowledgment.
type ESL struct {
	addr     string
	password string
	script   string

	dialTimeout time.Duration
	ioTimeout   time.Duration
}

func NewESL(addr, password, script string) *ESL {
	if script == "" {
		script = DefaultESLScript
	}
	return &ESL{
		addr:        addr,
		password:    password,
		script:      script,
		dialTimeout: 5 * time.Second,
		ioTimeout:   10 * time.Second,
	}
}

func (e *ESL) Name() string { return "esl" }

func (e *ESL) Dispatch(ctx context.Context, req DialRequest) (string, error) {
	d := net.Dialer{Timeout: e.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		return "", &Error{Kind: KindTransport, Backend: e.Name(), Err: err}
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(e.ioTimeout))

	r := bufio.NewReader(conn)

	// Greeting: the switch asks for authentication first.
	greeting, err := readBlock(r)
	if err != nil {
		return "", &Error{Kind: KindTransport, Backend: e.Name(), Err: err}
	}
	if !strings.Contains(greeting, "auth/request") {
		return "", &Error{Kind: KindBadAck, Backend: e.Name(), Err: fmt.Errorf("unexpected greeting %q", firstLine(greeting))}
	}
	if err := writeCommand(conn, "auth "+e.password); err != nil {
		return "", &Error{Kind: KindTransport, Backend: e.Name(), Err: err}
	}
	authReply, err := readBlock(r)
	if err != nil {
		return "", &Error{Kind: KindTransport, Backend: e.Name(), Err: err}
	}
	if !strings.Contains(authReply, "+OK") {
		return "", &Error{Kind: KindBadAck, Backend: e.Name(), Err: fmt.Errorf("auth rejected: %q", firstLine(authReply))}
	}

	if err := writeCommand(conn, "bgapi "+e.originateCommand(req)); err != nil {
		return "", &Error{Kind: KindTransport, Backend: e.Name(), Err: err}
	}
	ack, err := readBlock(r)
	if err != nil {
		return "", &Error{Kind: KindTransport, Backend: e.Name(), Err: err}
	}

	jobUUID, err := ExtractJobUUID(ack)
	if err != nil {
		return "", &Error{Kind: KindBadAck, Backend: e.Name(), Err: err}
	}
	return jobUUID, nil
}

// originateCommand assembles the asynchronous originate with the custom
// channel variables used to correlate completion events back to the
// attempt.
func (e *ESL) originateCommand(req DialRequest) string {
	callerIDVars := fmt.Sprintf(
		"origination_caller_id_number=%s,origination_caller_id_name=%s,effective_caller_id_number=%s,effective_caller_id_name=%s",
		req.CallerID, req.CallerName, req.CallerID, req.CallerName)

	appVars := fmt.Sprintf("used_gateway_id=%s,callrequest_id=%s", req.GatewayID, req.CallRequestID)

	callVars := fmt.Sprintf(
		"{bridge_early_media=true,hangup_after_bridge=true,originate_timeout=%s,outbound_dialer=true,%s,leg_type=1,%s,%s}",
		req.GatewayTimeouts, appVars, callerIDVars, req.ExtraDialString)

	return fmt.Sprintf("originate %s%s%s '&lua(%s)'", callVars, req.Gateways, req.PhoneNumber, e.script)
}

// ExtractJobUUID pulls the job identifier out of a serialized command
// acknowledgment: a fixed-width value following the Job-UUID label.
func ExtractJobUUID(serialized string) (string, error) {
	pos := strings.Index(serialized, jobUUIDLabel)
	if pos < 0 {
		return "", fmt.Errorf("no %s in acknowledgment", jobUUIDLabel)
	}
	start := pos + jobUUIDOffset
	end := start + jobUUIDLen
	if end > len(serialized) {
		return "", fmt.Errorf("truncated %s value in acknowledgment", jobUUIDLabel)
	}
	return serialized[start:end], nil
}

// readBlock reads one MIME-style header block, terminated by a blank line.
func readBlock(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return b.String(), nil
		}
		b.WriteString(line)
	}
}

func writeCommand(conn net.Conn, cmd string) error {
	_, err := conn.Write([]byte(cmd + "\n\n"))
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimRight(s[:i], "\r")
	}
	return s
}
