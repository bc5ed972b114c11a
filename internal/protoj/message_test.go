package protoj

import (
	"reflect"
	"testing"
)

func decode(t *testing.T, doc string) any {
	t.Helper()
	msg, err := DecodeMessage([]byte(doc))
	if err != nil {
		t.Fatalf("DecodeMessage(%q) error: %v", doc, err)
	}
	return msg
}

func TestDecodeRouterNames(t *testing.T) {
	msg := decode(t, `{"routernames":[{"number":1,"name":"Livewire","type":"audio"},{"number":2,"name":"GPIO","type":"gpio"}]}`)
	m, ok := msg.(*RouterNamesMessage)
	if !ok {
		t.Fatalf("type = %T, want *RouterNamesMessage", msg)
	}
	want := []RouterEntry{
		{Number: 1, Name: "Livewire", Type: "audio"},
		{Number: 2, Name: "GPIO", Type: "gpio"},
	}
	if !reflect.DeepEqual(m.Routers, want) {
		t.Errorf("routers = %+v, want %+v", m.Routers, want)
	}
}

func TestDecodeSourceNamesSiblingRouter(t *testing.T) {
	// sourcenames puts "router" beside the verb key, not inside it.
	msg := decode(t, `{"router":1,"sourcenames":[{"number":3,"name":"Studio A","hostName":"node-1","hostAddress":"10.0.0.5","slot":1,"sourceNumber":1003,"streamAddress":"239.192.3.235"}]}`)
	m, ok := msg.(*SourceNamesMessage)
	if !ok {
		t.Fatalf("type = %T, want *SourceNamesMessage", msg)
	}
	if m.Router != 1 {
		t.Errorf("router = %d, want 1", m.Router)
	}
	if len(m.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(m.Sources))
	}
	src := m.Sources[0]
	if src.Number != 3 || src.Name != "Studio A" || src.SourceNumber != 1003 {
		t.Errorf("source = %+v", src)
	}
}

func TestDecodeDestNames(t *testing.T) {
	msg := decode(t, `{"router":2,"destnames":[{"number":1,"name":"Air Chain","hostName":"node-2"}]}`)
	m, ok := msg.(*DestNamesMessage)
	if !ok {
		t.Fatalf("type = %T, want *DestNamesMessage", msg)
	}
	if m.Router != 2 || len(m.Destinations) != 1 || m.Destinations[0].Name != "Air Chain" {
		t.Errorf("message = %+v", m)
	}
}

func TestDecodeSnapshotsKeyedEntriesOrdered(t *testing.T) {
	msg := decode(t, `{"snapshots":{"router":1,"snapshot2":{"name":"overnight"},"snapshot0":{"name":"morning"},"snapshot1":{"name":"drive"}}}`)
	m, ok := msg.(*SnapshotsMessage)
	if !ok {
		t.Fatalf("type = %T, want *SnapshotsMessage", msg)
	}
	if m.Router != 1 {
		t.Errorf("router = %d, want 1", m.Router)
	}
	want := []string{"morning", "drive", "overnight"}
	if !reflect.DeepEqual(m.Names, want) {
		t.Errorf("names = %v, want %v", m.Names, want)
	}
}

func TestDecodeActionList(t *testing.T) {
	msg := decode(t, `{"actionlist":{"router":1,"action0":{"id":7,"isActive":true,"time":"06:00:00","monday":true,"destination":4,"destinationName":"Air","source":9,"sourceName":"Sat Feed","comment":"morning switch"}}}`)
	m, ok := msg.(*ActionListMessage)
	if !ok {
		t.Fatalf("type = %T, want *ActionListMessage", msg)
	}
	if m.Router != 1 || len(m.Actions) != 1 {
		t.Fatalf("message = %+v", m)
	}
	a := m.Actions[0]
	if a.ID != 7 || !a.IsActive || a.Time != "06:00:00" || !a.Monday || a.Tuesday {
		t.Errorf("action = %+v", a)
	}
	if a.Destination != 4 || a.Source != 9 || a.Comment != "morning switch" {
		t.Errorf("action routing = %+v", a)
	}
}

func TestDecodeScalarMessages(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want any
	}{
		{"actiondelete", `{"actiondelete":{"id":12}}`, &ActionDeleteMessage{ID: 12}},
		{"actionstat", `{"actionstat":{"router":1,"sendUpdates":true,"nextId":[4,7]}}`,
			&ActionStatMessage{Router: 1, SendUpdates: true, NextIDs: []int{4, 7}}},
		{"gpistat", `{"gpistat":{"router":2,"source":5,"code":"hlhhl"}}`,
			&GPIStatMessage{Router: 2, Line: 5, Code: "hlhhl"}},
		{"gpostat", `{"gpostat":{"router":2,"destination":3,"code":"lllll"}}`,
			&GPOStatMessage{Router: 2, Line: 3, Code: "lllll"}},
		{"routestat", `{"routestat":{"router":1,"destination":2,"source":14}}`,
			&RouteStatMessage{Router: 1, Destination: 2, Source: 14}},
		{"pong", `{"pong":{"datetime":"2026-08-27T10:15:00"}}`,
			&PongMessage{DateTime: "2026-08-27T10:15:00"}},
		{"error", `{"error":{"type":3,"description":"no such router"}}`,
			&ErrorMessage{Type: 3, Description: "no such router"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decode(t, tt.doc)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeUnknownVerb(t *testing.T) {
	msg := decode(t, `{"futurething":{"x":1}}`)
	m, ok := msg.(*UnknownMessage)
	if !ok {
		t.Fatalf("type = %T, want *UnknownMessage", msg)
	}
	if m.Verb != "futurething" {
		t.Errorf("verb = %q", m.Verb)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"pong":`))
	if err == nil {
		t.Fatal("expected decode error")
	}
	if _, ok := err.(*DecodeError); !ok {
		t.Errorf("error type = %T, want *DecodeError", err)
	}
}

func TestEncodeCommandEnvelope(t *testing.T) {
	tests := []struct {
		verb string
		args any
		want string
	}{
		{"ping", emptyArgs{}, `{"ping":{}}`},
		{"routernames", emptyArgs{}, `{"routernames":{}}`},
		{"sourcenames", routerArgs{Router: 3}, `{"sourcenames":{"router":3}}`},
		{"actionstat", actionStatArgs{Router: 1, SendUpdates: true}, `{"actionstat":{"router":1,"sendUpdates":true}}`},
		{"activateroute", routeArgs{Router: 1, Destination: 2, Source: 3}, `{"activateroute":{"router":1,"destination":2,"source":3}}`},
		{"activatesnap", snapshotArgs{Router: 1, Snapshot: "drive"}, `{"activatesnap":{"router":1,"snapshot":"drive"}}`},
		{"actiondelete", actionDeleteArgs{ID: 9}, `{"actiondelete":{"id":9}}`},
	}
	for _, tt := range tests {
		t.Run(tt.verb, func(t *testing.T) {
			data, err := EncodeCommand(tt.verb, tt.args)
			if err != nil {
				t.Fatalf("EncodeCommand: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("envelope = %s, want %s", data, tt.want)
			}
		})
	}
}
