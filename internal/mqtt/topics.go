//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Command topics accepted by the bridge, all under the configured prefix:
//
//	<prefix>/routers/<router>/crosspoints/<output>/set   payload: input number
//	<prefix>/routers/<router>/gpis/<line>/set            payload: code or {"code","duration"}
//	<prefix>/routers/<router>/gpos/<line>/set            payload: code or {"code","duration"}
//	<prefix>/routers/<router>/snapshots/set              payload: snapshot name
type command struct {
	Router int
	Kind   string // "crosspoint", "gpi", "gpo", "snapshot"
	Line   int    // output or GPIO line; unused for snapshots
}

func parseCommandTopic(prefix, topic string) (command, error) {
	var cmd command
	rest, ok := strings.CutPrefix(topic, prefix+"/routers/")
	if !ok {
		return cmd, fmt.Errorf("topic %q outside prefix", topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 3 || parts[len(parts)-1] != "set" {
		return cmd, fmt.Errorf("topic %q is not a command", topic)
	}
	router, err := strconv.Atoi(parts[0])
	if err != nil {
		return cmd, fmt.Errorf("topic %q: bad router: %w", topic, err)
	}
	cmd.Router = router

	switch {
	case len(parts) == 3 && parts[1] == "snapshots":
		cmd.Kind = "snapshot"
		return cmd, nil
	case len(parts) == 4:
		line, err := strconv.Atoi(parts[2])
		if err != nil {
			return cmd, fmt.Errorf("topic %q: bad line: %w", topic, err)
		}
		cmd.Line = line
		switch parts[1] {
		case "crosspoints":
			cmd.Kind = "crosspoint"
		case "gpis":
			cmd.Kind = "gpi"
		case "gpos":
			cmd.Kind = "gpo"
		default:
			return cmd, fmt.Errorf("topic %q: unknown collection %q", topic, parts[1])
		}
		return cmd, nil
	}
	return cmd, fmt.Errorf("topic %q is not a command", topic)
}
