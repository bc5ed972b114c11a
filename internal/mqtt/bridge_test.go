//go:build !no_mqtt

package mqtt

import (
	"log/slog"
	"os"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
)

func TestParseCommandTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    command
		wantErr bool
	}{
		{topic: "drouter/routers/1/crosspoints/4/set", want: command{Router: 1, Kind: "crosspoint", Line: 4}},
		{topic: "drouter/routers/2/gpis/3/set", want: command{Router: 2, Kind: "gpi", Line: 3}},
		{topic: "drouter/routers/2/gpos/1/set", want: command{Router: 2, Kind: "gpo", Line: 1}},
		{topic: "drouter/routers/1/snapshots/set", want: command{Router: 1, Kind: "snapshot"}},
		{topic: "drouter/routers/1/crosspoints/4", wantErr: true},
		{topic: "drouter/routers/x/crosspoints/4/set", wantErr: true},
		{topic: "drouter/routers/1/widgets/4/set", wantErr: true},
		{topic: "other/routers/1/crosspoints/4/set", wantErr: true},
		{topic: "drouter/bridge/state", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := parseCommandTopic("drouter", tt.topic)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

type bridgeCall struct {
	kind                string
	router, line, input int
	code                string
	duration            int
	snapshot            string
}

type stubControl struct {
	calls []bridgeCall
}

func (c *stubControl) SetOutputCrosspoint(router, output, input int) error {
	c.calls = append(c.calls, bridgeCall{kind: "crosspoint", router: router, line: output, input: input})
	return nil
}

func (c *stubControl) SetGPIState(router, line int, code string, duration int) error {
	c.calls = append(c.calls, bridgeCall{kind: "gpi", router: router, line: line, code: code, duration: duration})
	return nil
}

func (c *stubControl) SetGPOState(router, line int, code string, duration int) error {
	c.calls = append(c.calls, bridgeCall{kind: "gpo", router: router, line: line, code: code, duration: duration})
	return nil
}

func (c *stubControl) ActivateSnapshot(router int, snapshot string) error {
	c.calls = append(c.calls, bridgeCall{kind: "snapshot", router: router, snapshot: snapshot})
	return nil
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

var _ pahomqtt.Message = (*fakeMessage)(nil)

func testBridge(control Control) *Bridge {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Bridge{control: control, prefix: "drouter", logger: logger}
}

func TestHandleCommandCrosspoint(t *testing.T) {
	control := &stubControl{}
	b := testBridge(control)

	b.handleCommand(nil, &fakeMessage{topic: "drouter/routers/1/crosspoints/4/set", payload: []byte("12")})

	require.Len(t, control.calls, 1)
	require.Equal(t, bridgeCall{kind: "crosspoint", router: 1, line: 4, input: 12}, control.calls[0])
}

func TestHandleCommandGPIOPlainCode(t *testing.T) {
	control := &stubControl{}
	b := testBridge(control)

	b.handleCommand(nil, &fakeMessage{topic: "drouter/routers/2/gpis/3/set", payload: []byte("hlhhl")})

	require.Len(t, control.calls, 1)
	require.Equal(t, bridgeCall{kind: "gpi", router: 2, line: 3, code: "hlhhl"}, control.calls[0])
}

func TestHandleCommandGPIOJSONPayload(t *testing.T) {
	control := &stubControl{}
	b := testBridge(control)

	b.handleCommand(nil, &fakeMessage{
		topic:   "drouter/routers/2/gpos/1/set",
		payload: []byte(`{"code":"lllll","duration":500}`),
	})

	require.Len(t, control.calls, 1)
	require.Equal(t, bridgeCall{kind: "gpo", router: 2, line: 1, code: "lllll", duration: 500}, control.calls[0])
}

func TestHandleCommandSnapshot(t *testing.T) {
	control := &stubControl{}
	b := testBridge(control)

	b.handleCommand(nil, &fakeMessage{topic: "drouter/routers/1/snapshots/set", payload: []byte("morning")})

	require.Len(t, control.calls, 1)
	require.Equal(t, bridgeCall{kind: "snapshot", router: 1, snapshot: "morning"}, control.calls[0])
}

func TestHandleCommandBadPayloadIgnored(t *testing.T) {
	control := &stubControl{}
	b := testBridge(control)

	b.handleCommand(nil, &fakeMessage{topic: "drouter/routers/1/crosspoints/4/set", payload: []byte("not a number")})
	b.handleCommand(nil, &fakeMessage{topic: "drouter/routers/1/snapshots/set", payload: []byte("  ")})
	b.handleCommand(nil, &fakeMessage{topic: "drouter/unrelated", payload: []byte("x")})

	require.Empty(t, control.calls)
}
