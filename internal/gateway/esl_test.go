package gateway

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
)

const testJobUUID = "0f4de5f0-3759-4a5a-a3c3-9e2e8f31a9b8"

// fakeSwitch speaks just enough of the event-socket protocol for one
// originate round trip.
type fakeSwitch struct {
	ln net.Listener

	mu       sync.Mutex
	password string
	commands []string
	reject   bool
}

func newFakeSwitch(t *testing.T, password string, reject bool) *fakeSwitch {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeSwitch{ln: ln, password: password, reject: reject}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *fakeSwitch) addr() string { return s.ln.Addr().String() }

func (s *fakeSwitch) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *fakeSwitch) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSwitch) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	write := func(block string) bool {
		_, err := conn.Write([]byte(block))
		return err == nil
	}

	if !write("Content-Type: auth/request\n\n") {
		return
	}
	auth, err := readCommand(r)
	if err != nil {
		return
	}
	s.record(auth)
	if s.reject || auth != "auth "+s.password {
		write("Content-Type: command/reply\nReply-Text: -ERR invalid\n\n")
		return
	}
	if !write("Content-Type: command/reply\nReply-Text: +OK accepted\n\n") {
		return
	}

	cmd, err := readCommand(r)
	if err != nil {
		return
	}
	s.record(cmd)
	write("Content-Type: command/reply\nReply-Text: +OK Job-UUID: " + testJobUUID + "\nJob-UUID: " + testJobUUID + "\n\n")
}

func (s *fakeSwitch) record(cmd string) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
}

func readCommand(r *bufio.Reader) (string, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(lines) == 0 {
				continue
			}
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, line)
	}
}

func TestESLDispatch(t *testing.T) {
	sw := newFakeSwitch(t, "ClueCon", false)
	esl := NewESL(sw.addr(), "ClueCon", "/opt/scripts/campaign.lua")

	id, err := esl.Dispatch(context.Background(), DialRequest{
		CallRequestID:   "cr-1",
		CallerID:        "15559990000",
		CallerName:      "Campaign",
		PhoneNumber:     "15551230001",
		GatewayID:       "gw-1",
		Gateways:        "sofia/gateway/provider1/",
		GatewayTimeouts: "30",
		ExtraDialString: "sip_h_X-Tag=dialer",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if id != testJobUUID {
		t.Fatalf("job uuid = %q, want %q", id, testJobUUID)
	}

	cmds := sw.received()
	if len(cmds) != 2 {
		t.Fatalf("commands = %d, want auth and bgapi", len(cmds))
	}
	originate := cmds[1]
	if !strings.HasPrefix(originate, "bgapi originate {") {
		t.Fatalf("command = %q, want bgapi originate", originate)
	}
	for _, frag := range []string{
		"bridge_early_media=true",
		"hangup_after_bridge=true",
		"originate_timeout=30",
		"outbound_dialer=true",
		"used_gateway_id=gw-1",
		"callrequest_id=cr-1",
		"leg_type=1",
		"origination_caller_id_number=15559990000",
		"sip_h_X-Tag=dialer",
		"sofia/gateway/provider1/15551230001",
		"'&lua(/opt/scripts/campaign.lua)'",
	} {
		if !strings.Contains(originate, frag) {
			t.Fatalf("originate command missing %q:\n%s", frag, originate)
		}
	}
}

func TestESLDispatchAuthRejected(t *testing.T) {
	sw := newFakeSwitch(t, "ClueCon", true)
	esl := NewESL(sw.addr(), "wrong", "")

	_, err := esl.Dispatch(context.Background(), DialRequest{PhoneNumber: "15551230001"})
	if err == nil {
		t.Fatalf("Dispatch: want auth error")
	}
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Kind != KindBadAck {
		t.Fatalf("err = %v, want bad_ack gateway error", err)
	}
}

func TestESLDispatchUnreachable(t *testing.T) {
	esl := NewESL("127.0.0.1:1", "ClueCon", "")

	_, err := esl.Dispatch(context.Background(), DialRequest{PhoneNumber: "15551230001"})
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Kind != KindTransport {
		t.Fatalf("err = %v, want transport gateway error", err)
	}
}

func TestExtractJobUUID(t *testing.T) {
	ack := "Reply-Text: +OK Job-UUID: " + testJobUUID + "\n"
	got, err := ExtractJobUUID(ack)
	if err != nil {
		t.Fatalf("ExtractJobUUID: %v", err)
	}
	if got != testJobUUID {
		t.Fatalf("job uuid = %q, want %q", got, testJobUUID)
	}

	if _, err := ExtractJobUUID("Reply-Text: +OK queued\n"); err == nil {
		t.Fatalf("want error when label is absent")
	}
	if _, err := ExtractJobUUID("Job-UUID: short"); err == nil {
		t.Fatalf("want error on truncated value")
	}
}
