// Package provider describes pluggable request handlers such as the DHCPv4
// lease providers.
package provider

import "fmt"

type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Author  string `json:"author,omitempty"`
}

func (i Info) String() string {
	return fmt.Sprintf("%s/%s", i.Name, i.Version)
}

type Provider interface {
	Info() Info
}
