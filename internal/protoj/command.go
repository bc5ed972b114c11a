package protoj

import (
	"encoding/json"
	"fmt"
)

// Outbound argument shapes. Every command goes to the wire as
// {"<verb>":{fields}} with exactly one top-level key and no length prefix.
type (
	emptyArgs struct{}

	routerArgs struct {
		Router int `json:"router"`
	}

	actionStatArgs struct {
		Router      int  `json:"router"`
		SendUpdates bool `json:"sendUpdates"`
	}

	routeArgs struct {
		Router      int `json:"router"`
		Destination int `json:"destination"`
		Source      int `json:"source"`
	}

	gpiArgs struct {
		Router   int    `json:"router"`
		Source   int    `json:"source"`
		Code     string `json:"code"`
		Duration int    `json:"duration"` // milliseconds; 0 = latch
	}

	gpoArgs struct {
		Router      int    `json:"router"`
		Destination int    `json:"destination"`
		Code        string `json:"code"`
		Duration    int    `json:"duration"`
	}

	snapshotArgs struct {
		Router   int    `json:"router"`
		Snapshot string `json:"snapshot"`
	}

	actionDeleteArgs struct {
		ID int `json:"id"`
	}
)

// ActionEdit is the argument of the actionedit command. A negative ID asks
// the server to create a new action; otherwise the existing action is
// replaced.
type ActionEdit struct {
	ID          int    `json:"id"`
	Router      int    `json:"router"`
	Time        string `json:"time"` // "hh:mm:ss"; a "Z" suffix is added on send
	Sunday      bool   `json:"sunday"`
	Monday      bool   `json:"monday"`
	Tuesday     bool   `json:"tuesday"`
	Wednesday   bool   `json:"wednesday"`
	Thursday    bool   `json:"thursday"`
	Friday      bool   `json:"friday"`
	Saturday    bool   `json:"saturday"`
	Destination int    `json:"destination"`
	Source      int    `json:"source"`
	Comment     string `json:"comment"`
	IsActive    bool   `json:"isActive"`
}

// EncodeCommand wraps a verb and its argument struct into the outbound
// envelope.
func EncodeCommand(verb string, args any) ([]byte, error) {
	data, err := json.Marshal(map[string]any{verb: args})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", verb, err)
	}
	return data, nil
}
