package state

// RouterType distinguishes audio matrices from GPIO matrices as reported by
// the drouterd directory.
type RouterType string

const (
	RouterTypeAudio RouterType = "audio"
	RouterTypeGPIO  RouterType = "gpio"
)

// Endpoint is one input or output of a router matrix. Numbers are 1-based on
// the wire and kept that way.
type Endpoint struct {
	Number          int    `json:"number"`
	Name            string `json:"name"`
	HostDescription string `json:"host_description,omitempty"`
	HostAddress     string `json:"host_address,omitempty"`
	HostName        string `json:"host_name,omitempty"`
	Slot            int    `json:"slot,omitempty"`
	SourceNumber    int    `json:"source_number,omitempty"`
	StreamAddress   string `json:"stream_address,omitempty"`
	GPIOAddress     string `json:"gpio_address,omitempty"`
}

// Snapshot is a named server-side routing preset. Snapshots are ordered by
// arrival and carry no identifier beyond the name.
type Snapshot struct {
	Name string `json:"name"`
}

// Action is a scheduled route change. Actions are global: ids are unique
// across routers, and a delete carries only the id.
type Action struct {
	ID        int    `json:"id"`
	Router    int    `json:"router"`
	IsActive  bool   `json:"is_active"`
	Time      string `json:"time"` // "hh:mm:ss", daemon-local
	Sunday    bool   `json:"sunday"`
	Monday    bool   `json:"monday"`
	Tuesday   bool   `json:"tuesday"`
	Wednesday bool   `json:"wednesday"`
	Thursday  bool   `json:"thursday"`
	Friday    bool   `json:"friday"`
	Saturday  bool   `json:"saturday"`

	Destination            int    `json:"destination"`
	DestinationName        string `json:"destination_name,omitempty"`
	DestinationHostAddress string `json:"destination_host_address,omitempty"`
	DestinationHostName    string `json:"destination_host_name,omitempty"`
	Source                 int    `json:"source"`
	SourceName             string `json:"source_name,omitempty"`
	SourceHostAddress      string `json:"source_host_address,omitempty"`
	SourceHostName         string `json:"source_host_name,omitempty"`
	Comment                string `json:"comment,omitempty"`
}

// Router is the derived state of one matrix: directory entry plus everything
// learned from the bootstrap and subsequent pushes.
type Router struct {
	Number int        `json:"number"`
	Name   string     `json:"name"`
	Type   RouterType `json:"type"`

	// inputs/outputs are keyed by 1-based endpoint number.
	inputs      map[int]Endpoint
	outputs     map[int]Endpoint
	snapshots   []Snapshot
	crosspoints map[int]int // output number -> input number (-1 = silence)
	gpiStates   map[int]string
	gpoStates   map[int]string
	nextActions map[int]struct{} // action ids flagged by actionstat
}

func newRouter(number int, name string, typ RouterType) *Router {
	return &Router{
		Number:      number,
		Name:        name,
		Type:        typ,
		inputs:      make(map[int]Endpoint),
		outputs:     make(map[int]Endpoint),
		crosspoints: make(map[int]int),
		gpiStates:   make(map[int]string),
		gpoStates:   make(map[int]string),
		nextActions: make(map[int]struct{}),
	}
}

// RouterInfo is the copy-safe directory view of a router.
type RouterInfo struct {
	Number int        `json:"number"`
	Name   string     `json:"name"`
	Type   RouterType `json:"type"`
}

// Crosspoint is one output-to-input assignment.
type Crosspoint struct {
	Output int `json:"output"`
	Input  int `json:"input"` // -1 when the output carries silence
}

// GPIOState is the five-slot level code of one GPIO line bundle.
type GPIOState struct {
	Line int    `json:"line"`
	Code string `json:"code"` // e.g. "hlhhl": h=high/inactive, l=low/active
}
