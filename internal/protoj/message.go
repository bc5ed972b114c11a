package protoj

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Server error codes carried by ErrorMessage.
const (
	ErrCodeOK            = 0
	ErrCodeJSON          = 1
	ErrCodeParameter     = 2
	ErrCodeNoRouter      = 3
	ErrCodeNoSnapshot    = 4
	ErrCodeNoSource      = 5
	ErrCodeNoDestination = 6
	ErrCodeNotGPIORouter = 7
	ErrCodeNoCommand     = 8
	ErrCodeTime          = 9
	ErrCodeDatabase      = 10
)

// DecodeError reports a fully framed document that failed JSON decoding or
// carried an unusable shape. The stream itself stays healthy.
type DecodeError struct {
	Msg string
	Doc []byte
}

func (e *DecodeError) Error() string {
	return "decode: " + e.Msg
}

// RouterEntry is one directory entry of a routernames message.
type RouterEntry struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// EndpointEntry is one element of a sourcenames or destnames array.
type EndpointEntry struct {
	Number          int    `json:"number"`
	Name            string `json:"name"`
	HostDescription string `json:"hostDescription"`
	HostAddress     string `json:"hostAddress"`
	HostName        string `json:"hostName"`
	Slot            int    `json:"slot"`
	SourceNumber    int    `json:"sourceNumber"`
	StreamAddress   string `json:"streamAddress"`
	GPIOAddress     string `json:"gpioAddress"`
}

// ActionEntry is one keyed element of an actionlist message.
type ActionEntry struct {
	ID        int    `json:"id"`
	IsActive  bool   `json:"isActive"`
	Time      string `json:"time"`
	Sunday    bool   `json:"sunday"`
	Monday    bool   `json:"monday"`
	Tuesday   bool   `json:"tuesday"`
	Wednesday bool   `json:"wednesday"`
	Thursday  bool   `json:"thursday"`
	Friday    bool   `json:"friday"`
	Saturday  bool   `json:"saturday"`

	Destination            int    `json:"destination"`
	DestinationName        string `json:"destinationName"`
	DestinationHostAddress string `json:"destinationHostAddress"`
	DestinationHostName    string `json:"destinationHostName"`
	Source                 int    `json:"source"`
	SourceName             string `json:"sourceName"`
	SourceHostAddress      string `json:"sourceHostAddress"`
	SourceHostName         string `json:"sourceHostName"`
	Comment                string `json:"comment"`
}

// Inbound messages. DecodeMessage returns exactly one of these types.
type (
	// ErrorMessage is a server-reported command failure.
	ErrorMessage struct {
		Type        int    `json:"type"`
		Description string `json:"description"`
	}

	// RouterNamesMessage is the directory of available matrices.
	RouterNamesMessage struct {
		Routers []RouterEntry
	}

	// SourceNamesMessage carries the full input roster of one router.
	SourceNamesMessage struct {
		Router  int
		Sources []EndpointEntry
	}

	// DestNamesMessage carries the full output roster of one router.
	DestNamesMessage struct {
		Router       int
		Destinations []EndpointEntry
	}

	// SnapshotsMessage lists a router's snapshots in announcement order.
	SnapshotsMessage struct {
		Router int
		Names  []string
	}

	// ActionListMessage carries scheduled actions for one router.
	ActionListMessage struct {
		Router  int
		Actions []ActionEntry
	}

	// ActionDeleteMessage removes an action globally by id.
	ActionDeleteMessage struct {
		ID int `json:"id"`
	}

	// ActionStatMessage replaces a router's next-to-fire action set.
	ActionStatMessage struct {
		Router      int   `json:"router"`
		SendUpdates bool  `json:"sendUpdates"`
		NextIDs     []int `json:"nextId"`
	}

	// GPIStatMessage reports the level code of one GPI line bundle.
	GPIStatMessage struct {
		Router int    `json:"router"`
		Line   int    `json:"source"`
		Code   string `json:"code"`
	}

	// GPOStatMessage reports the level code of one GPO line bundle.
	GPOStatMessage struct {
		Router int    `json:"router"`
		Line   int    `json:"destination"`
		Code   string `json:"code"`
	}

	// RouteStatMessage reports one crosspoint assignment.
	RouteStatMessage struct {
		Router      int `json:"router"`
		Destination int `json:"destination"`
		Source      int `json:"source"`
	}

	// PongMessage answers a ping and confirms session activation.
	PongMessage struct {
		DateTime string `json:"datetime"`
	}

	// UnknownMessage wraps a syntactically valid document whose verb is not
	// part of the vocabulary. It is logged and otherwise ignored.
	UnknownMessage struct {
		Verb string
	}
)

// DecodeMessage classifies a framed document by its top-level key and decodes
// it into the matching typed message.
//
// The sourcenames and destnames documents put "router" next to the verb key
// instead of inside it, so classification scans all top-level keys and picks
// the one in the vocabulary.
func DecodeMessage(doc []byte) (any, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(doc, &top); err != nil {
		return nil, &DecodeError{Msg: err.Error(), Doc: doc}
	}

	verb, raw, ok := classify(top)
	if !ok {
		for k := range top {
			if k != "router" {
				return &UnknownMessage{Verb: k}, nil
			}
		}
		return nil, &DecodeError{Msg: "no recognizable top-level key", Doc: doc}
	}

	switch verb {
	case "error":
		var m ErrorMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &DecodeError{Msg: fmt.Sprintf("%s: %v", verb, err), Doc: doc}
		}
		return &m, nil

	case "routernames":
		var entries []RouterEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, &DecodeError{Msg: fmt.Sprintf("%s: %v", verb, err), Doc: doc}
		}
		return &RouterNamesMessage{Routers: entries}, nil

	case "sourcenames":
		router, err := siblingRouter(top, doc)
		if err != nil {
			return nil, err
		}
		var entries []EndpointEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, &DecodeError{Msg: fmt.Sprintf("%s: %v", verb, err), Doc: doc}
		}
		return &SourceNamesMessage{Router: router, Sources: entries}, nil

	case "destnames":
		router, err := siblingRouter(top, doc)
		if err != nil {
			return nil, err
		}
		var entries []EndpointEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, &DecodeError{Msg: fmt.Sprintf("%s: %v", verb, err), Doc: doc}
		}
		return &DestNamesMessage{Router: router, Destinations: entries}, nil

	case "snapshots":
		router, fields, err := keyedObject(raw, doc)
		if err != nil {
			return nil, err
		}
		m := &SnapshotsMessage{Router: router}
		for _, f := range fields {
			var entry struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(f, &entry); err != nil {
				return nil, &DecodeError{Msg: fmt.Sprintf("snapshots: %v", err), Doc: doc}
			}
			m.Names = append(m.Names, entry.Name)
		}
		return m, nil

	case "actionlist":
		router, fields, err := keyedObject(raw, doc)
		if err != nil {
			return nil, err
		}
		m := &ActionListMessage{Router: router}
		for _, f := range fields {
			var entry ActionEntry
			if err := json.Unmarshal(f, &entry); err != nil {
				return nil, &DecodeError{Msg: fmt.Sprintf("actionlist: %v", err), Doc: doc}
			}
			m.Actions = append(m.Actions, entry)
		}
		return m, nil

	case "actiondelete":
		var m ActionDeleteMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &DecodeError{Msg: fmt.Sprintf("%s: %v", verb, err), Doc: doc}
		}
		return &m, nil

	case "actionstat":
		var m ActionStatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &DecodeError{Msg: fmt.Sprintf("%s: %v", verb, err), Doc: doc}
		}
		return &m, nil

	case "gpistat":
		var m GPIStatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &DecodeError{Msg: fmt.Sprintf("%s: %v", verb, err), Doc: doc}
		}
		return &m, nil

	case "gpostat":
		var m GPOStatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &DecodeError{Msg: fmt.Sprintf("%s: %v", verb, err), Doc: doc}
		}
		return &m, nil

	case "routestat":
		var m RouteStatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &DecodeError{Msg: fmt.Sprintf("%s: %v", verb, err), Doc: doc}
		}
		return &m, nil

	case "pong":
		var m PongMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &DecodeError{Msg: fmt.Sprintf("%s: %v", verb, err), Doc: doc}
		}
		return &m, nil
	}

	return &UnknownMessage{Verb: verb}, nil
}

var inboundVerbs = map[string]struct{}{
	"error":        {},
	"routernames":  {},
	"sourcenames":  {},
	"destnames":    {},
	"snapshots":    {},
	"actionlist":   {},
	"actiondelete": {},
	"actionstat":   {},
	"gpistat":      {},
	"gpostat":      {},
	"routestat":    {},
	"pong":         {},
}

func classify(top map[string]json.RawMessage) (string, json.RawMessage, bool) {
	for k, v := range top {
		if _, ok := inboundVerbs[k]; ok {
			return k, v, true
		}
	}
	return "", nil, false
}

// siblingRouter extracts the "router" field that sourcenames/destnames place
// next to the verb key.
func siblingRouter(top map[string]json.RawMessage, doc []byte) (int, error) {
	raw, ok := top["router"]
	if !ok {
		return 0, &DecodeError{Msg: "missing router field", Doc: doc}
	}
	var router int
	if err := json.Unmarshal(raw, &router); err != nil {
		return 0, &DecodeError{Msg: fmt.Sprintf("router: %v", err), Doc: doc}
	}
	return router, nil
}

// keyedObject decodes the snapshots/actionlist shape: an object holding a
// "router" field plus numbered entry keys ("snapshot0", "action1", ...).
// Entries are returned ordered by their numeric suffix.
func keyedObject(raw json.RawMessage, doc []byte) (int, []json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, nil, &DecodeError{Msg: err.Error(), Doc: doc}
	}
	rawRouter, ok := obj["router"]
	if !ok {
		return 0, nil, &DecodeError{Msg: "missing router field", Doc: doc}
	}
	var router int
	if err := json.Unmarshal(rawRouter, &router); err != nil {
		return 0, nil, &DecodeError{Msg: fmt.Sprintf("router: %v", err), Doc: doc}
	}

	type numbered struct {
		n   int
		raw json.RawMessage
	}
	var entries []numbered
	for k, v := range obj {
		if k == "router" {
			continue
		}
		i := strings.IndexFunc(k, func(r rune) bool { return r >= '0' && r <= '9' })
		if i < 0 {
			continue
		}
		n, err := strconv.Atoi(k[i:])
		if err != nil {
			continue
		}
		entries = append(entries, numbered{n: n, raw: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].n < entries[j].n })

	fields := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		fields[i] = e.raw
	}
	return router, fields, nil
}
