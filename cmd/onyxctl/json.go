package main

import (
	"encoding/json"
	"os"

	"github.com/onyxsvc/onyx/internal/core"
)

type statusJSON struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Event   string `json:"event"`
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
}

func printStatusJSON(rows []core.ServiceStatus) error {
	out := make([]statusJSON, 0, len(rows))
	for _, r := range rows {
		out = append(out, statusJSON{
			Name:    r.Name,
			Kind:    r.Kind.String(),
			Event:   r.Record.Event.String(),
			Code:    r.Record.Code,
			Message: r.Record.Message,
		})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
